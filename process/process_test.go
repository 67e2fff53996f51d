package process

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"image"
	"image/color"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/disintegration/imaging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"runcard/models"
	"runcard/pkg/ocr"
)

type fakeExtractor struct {
	calls atomic.Int32
}

func (f *fakeExtractor) ExtractAll(ctx context.Context, data []byte, kind ocr.RecordKind) (*ocr.Record, error) {
	f.calls.Add(1)
	if _, err := ocr.Decode(data); err != nil {
		return nil, &ocr.DecodeError{Err: err}
	}
	rec := &ocr.Record{KM: 5.02}
	rec.SetPace(341)
	rec.SetTime(1712)
	return rec, nil
}

type fakeSink struct {
	mu     sync.Mutex
	known  []models.Upload
	saved  []models.Upload
	failed []models.Upload
	nextID uint
}

func (s *fakeSink) Known(ctx context.Context) ([]models.Upload, error) { return s.known, nil }

func (s *fakeSink) Failed(ctx context.Context) ([]models.Upload, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.Upload(nil), s.failed...), nil
}

func (s *fakeSink) Save(ctx context.Context, up *models.Upload, rec *ocr.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	id := s.nextID
	up.RecordID = &id
	up.Failed = false
	s.saved = append(s.saved, *up)
	return nil
}

func (s *fakeSink) Fail(ctx context.Context, up *models.Upload, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	up.Failed, up.FailedReason = true, reason
	s.failed = append(s.failed, *up)
	return nil
}

// pattern draws a distinct stripe layout per seed so perceptual hashes differ.
func pattern(seed int) *image.NRGBA {
	img := imaging.New(128, 128, color.White)
	for y := 0; y < 128; y++ {
		for x := 0; x < 128; x++ {
			if ((x/(8+seed*6))+(y/(16+seed*3)))%2 == 0 {
				img.Set(x, y, color.Black)
			}
		}
	}
	return img
}

func sha(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

func writeImage(t *testing.T, dir, name string, img image.Image) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, imaging.Save(img, path))
	return path
}

func newDirs(t *testing.T) (string, string) {
	t.Helper()
	root := t.TempDir()
	in := filepath.Join(root, "runs")
	require.NoError(t, os.MkdirAll(in, 0o755))
	return in, filepath.Join(root, "processed")
}

func TestRunDir_ProcessesAndArchives(t *testing.T) {
	in, out := newDirs(t)
	writeImage(t, in, "a.png", pattern(0))
	writeImage(t, in, "b.png", pattern(3))
	require.NoError(t, os.WriteFile(filepath.Join(in, "notes.txt"), []byte("x"), 0o644))

	ex, sink := &fakeExtractor{}, &fakeSink{}
	r := NewRunner(ex, sink, Options{Dir: in, ProcessedDir: out, Workers: 2, HashDistance: -1}, nil)
	st, err := r.RunDir(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(2), st.Processed)
	assert.Equal(t, int64(0), st.Failed)
	require.Len(t, sink.saved, 2)

	for _, name := range []string{"a.png", "b.png"} {
		assert.NoFileExists(t, filepath.Join(in, name))
		assert.FileExists(t, filepath.Join(out, name))
	}
	assert.FileExists(t, filepath.Join(in, "notes.txt"))
	for _, up := range sink.saved {
		assert.Equal(t, "daily", up.Kind)
		assert.Equal(t, "image/png", up.ContentType)
		assert.Len(t, up.SHA256, 64)
		assert.NotEmpty(t, up.ImageHash)
		assert.Contains(t, up.StorePath, "processed")
	}
}

func TestRunDir_SkipsKnownFiles(t *testing.T) {
	in, out := newDirs(t)
	writeImage(t, in, "a.png", pattern(1))
	data, err := os.ReadFile(filepath.Join(in, "a.png"))
	require.NoError(t, err)
	sum := sha(data)

	id := uint(7)
	ex := &fakeExtractor{}
	sink := &fakeSink{known: []models.Upload{{ID: 1, FileName: "a.png", SHA256: sum, RecordID: &id}}}
	r := NewRunner(ex, sink, Options{Dir: in, ProcessedDir: out, Workers: 1}, nil)
	require.NoError(t, r.Preload(context.Background()))

	st, err := r.RunDir(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), st.Skipped)
	assert.Equal(t, int32(0), ex.calls.Load())
	assert.FileExists(t, filepath.Join(in, "a.png"))
}

func TestRunDir_DryRunLeavesFiles(t *testing.T) {
	in, out := newDirs(t)
	writeImage(t, in, "a.png", pattern(2))

	var results []Result
	var mu sync.Mutex
	r := NewRunner(&fakeExtractor{}, nil, Options{
		Dir: in, ProcessedDir: out, Workers: 1,
		OnResult: func(res Result) {
			mu.Lock()
			results = append(results, res)
			mu.Unlock()
		},
	}, nil)
	st, err := r.RunDir(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), st.Processed)
	assert.FileExists(t, filepath.Join(in, "a.png"))
	assert.NoDirExists(t, out)
	require.Len(t, results, 1)
	require.NotNil(t, results[0].Record)
	assert.InDelta(t, 5.02, results[0].Record.KM, 1e-9)
}

func TestRunDir_FailureIsRecorded(t *testing.T) {
	in, out := newDirs(t)
	require.NoError(t, os.WriteFile(filepath.Join(in, "broken.png"), []byte("not an image"), 0o644))

	sink := &fakeSink{}
	r := NewRunner(&fakeExtractor{}, sink, Options{Dir: in, ProcessedDir: out, Workers: 1}, nil)
	st, err := r.RunDir(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), st.Failed)
	require.Len(t, sink.failed, 1)
	assert.Equal(t, "broken.png", sink.failed[0].FileName)
	assert.Contains(t, sink.failed[0].FailedReason, "decode image")
	assert.FileExists(t, filepath.Join(in, "broken.png"))
	assert.Empty(t, sink.saved)
}

func TestRunDir_NearDuplicate(t *testing.T) {
	in, out := newDirs(t)
	img := pattern(0)
	writeImage(t, in, "a.png", img)
	tweaked := imaging.Clone(img)
	tweaked.Set(0, 0, color.RGBA{R: 200, A: 255})
	writeImage(t, in, "b.png", tweaked)

	sink := &fakeSink{}
	var dup Result
	r := NewRunner(&fakeExtractor{}, sink, Options{
		Dir: in, ProcessedDir: out, Workers: 1, HashDistance: DefaultHashDistance,
		OnResult: func(res Result) {
			if res.Duplicate != "" {
				dup = res
			}
		},
	}, nil)
	st, err := r.RunDir(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), st.Processed)
	assert.Equal(t, int64(1), st.Duplicates)
	assert.Equal(t, "b.png", dup.Name)
	assert.Equal(t, "a.png", dup.Duplicate)
	assert.FileExists(t, filepath.Join(in, "b.png"))
}

func TestRetry_ReextractsFailedUploads(t *testing.T) {
	in, out := newDirs(t)
	path := writeImage(t, in, "a.png", pattern(1))
	gone := filepath.Join(in, "gone.png")

	sink := &fakeSink{failed: []models.Upload{
		{ID: 3, FileName: "a.png", StorePath: filepath.ToSlash(path), Kind: "monthly", Failed: true},
		{ID: 4, FileName: "gone.png", StorePath: filepath.ToSlash(gone), Kind: "daily", Failed: true},
	}}
	r := NewRunner(&fakeExtractor{}, sink, Options{Dir: in, ProcessedDir: out, Workers: 1}, nil)
	st, err := r.Retry(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), st.Processed)
	assert.Equal(t, int64(1), st.Skipped)
	require.Len(t, sink.saved, 1)
	assert.Equal(t, uint(3), sink.saved[0].ID)
	assert.False(t, sink.saved[0].Failed)
	assert.FileExists(t, filepath.Join(out, "a.png"))
}

func TestRetry_NeedsSink(t *testing.T) {
	r := NewRunner(&fakeExtractor{}, nil, Options{Dir: t.TempDir()}, nil)
	_, err := r.Retry(context.Background())
	assert.Error(t, err)
}

func TestWatch_PicksUpNewFiles(t *testing.T) {
	in, out := newDirs(t)
	sink := &fakeSink{}
	done := make(chan Result, 4)
	r := NewRunner(&fakeExtractor{}, sink, Options{
		Dir: in, ProcessedDir: out, Workers: 1, Debounce: 50 * time.Millisecond,
		OnResult: func(res Result) { done <- res },
	}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- r.Watch(ctx) }()

	// give the watcher time to register before the file lands
	time.Sleep(100 * time.Millisecond)
	writeImage(t, in, "new.png", pattern(2))

	select {
	case res := <-done:
		assert.Equal(t, "new.png", res.Name)
		assert.NoError(t, res.Err)
	case <-time.After(5 * time.Second):
		t.Fatal("file was not picked up")
	}
	cancel()
	require.NoError(t, <-errCh)
	assert.FileExists(t, filepath.Join(out, "new.png"))
}

func TestIsSupportedExt(t *testing.T) {
	cases := map[string]bool{
		"a.png":       true,
		"B.JPG":       true,
		"c.webp":      true,
		"d.jpeg":      true,
		".hidden.png": false,
		"e.ocr.png":   false,
		"f.txt":       false,
		"noext":       false,
		"g.png.part":  false,
	}
	for name, want := range cases {
		assert.Equal(t, want, isSupportedExt(name), name)
	}
}

func TestArchiver_MoveKeepsSmallFiles(t *testing.T) {
	in, out := newDirs(t)
	src := writeImage(t, in, "a.png", pattern(0))
	before, err := os.ReadFile(src)
	require.NoError(t, err)

	dst, err := archiver{dir: out}.move(src)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(out, "a.png"), dst)
	after, err := os.ReadFile(dst)
	require.NoError(t, err)
	assert.Equal(t, before, after)
	assert.NoFileExists(t, src)
}

func TestArchiver_MoveDownscalesLargeFiles(t *testing.T) {
	in, out := newDirs(t)
	noisy := imaging.New(400, 400, color.White)
	for y := 0; y < 400; y++ {
		for x := 0; x < 400; x++ {
			v := uint8((x*31 + y*17 + x*y) % 256)
			noisy.Set(x, y, color.NRGBA{R: v, G: 255 - v, B: v / 2, A: 255})
		}
	}
	src := writeImage(t, in, "big.png", noisy)
	fi, err := os.Stat(src)
	require.NoError(t, err)

	dst, err := archiver{dir: out, maxBytes: fi.Size() / 4}.move(src)
	require.NoError(t, err)
	img, err := imaging.Open(dst)
	require.NoError(t, err)
	assert.Less(t, img.Bounds().Dx(), 400)
	assert.NoFileExists(t, src)
}

func TestListImageFiles_Sorted(t *testing.T) {
	dir := t.TempDir()
	for _, n := range []string{"c.png", "a.jpg", "b.txt", "b.webp"} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, n), []byte("x"), 0o644))
	}
	require.NoError(t, os.Mkdir(filepath.Join(dir, "sub.png"), 0o755))
	files, err := listImageFiles(dir)
	require.NoError(t, err)
	assert.Equal(t, []string{"a.jpg", "b.webp", "c.png"}, files)
}
