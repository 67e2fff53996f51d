package process

import (
	"image"
	"sync"

	"github.com/corona10/goimagehash"

	"runcard/models"
)

// DefaultHashDistance is the largest perceptual-hash distance still treated
// as the same screenshot (re-encodes, status-bar clock changes).
const DefaultHashDistance = 4

type knownHash struct {
	hash *goimagehash.ImageHash
	name string
}

// preloadState caches what has already been processed so per-file work
// needs no queries.
type preloadState struct {
	mu       sync.RWMutex
	bySHA    map[string]*models.Upload
	hashes   []knownHash
	distance int
}

func newPreloadState(distance int) *preloadState {
	return &preloadState{
		bySHA:    make(map[string]*models.Upload, 1024),
		distance: distance,
	}
}

// load seeds the state from stored uploads. Only uploads linked to a record
// count as done; failed ones are retried.
func (ps *preloadState) load(ups []models.Upload) {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	for i := range ups {
		u := ups[i]
		ps.bySHA[u.SHA256] = &u
		if u.RecordID == nil || u.ImageHash == "" {
			continue
		}
		if h, err := goimagehash.ImageHashFromString(u.ImageHash); err == nil {
			ps.hashes = append(ps.hashes, knownHash{hash: h, name: u.FileName})
		}
	}
}

func (ps *preloadState) getUpload(sha string) (*models.Upload, bool) {
	ps.mu.RLock()
	defer ps.mu.RUnlock()
	u, ok := ps.bySHA[sha]
	return u, ok
}

func (ps *preloadState) putUpload(u *models.Upload) {
	ps.mu.Lock()
	ps.bySHA[u.SHA256] = u
	ps.mu.Unlock()
}

// nearDuplicate returns the name of a processed image within the hash
// distance of h.
func (ps *preloadState) nearDuplicate(h *goimagehash.ImageHash) (string, bool) {
	if h == nil || ps.distance < 0 {
		return "", false
	}
	ps.mu.RLock()
	defer ps.mu.RUnlock()
	for _, k := range ps.hashes {
		if d, err := k.hash.Distance(h); err == nil && d <= ps.distance {
			return k.name, true
		}
	}
	return "", false
}

func (ps *preloadState) putHash(h *goimagehash.ImageHash, name string) {
	if h == nil {
		return
	}
	ps.mu.Lock()
	ps.hashes = append(ps.hashes, knownHash{hash: h, name: name})
	ps.mu.Unlock()
}

// perceptualHash hashes img, returning nil when hashing fails.
func perceptualHash(img image.Image) *goimagehash.ImageHash {
	h, err := goimagehash.PerceptionHash(img)
	if err != nil {
		return nil
	}
	return h
}
