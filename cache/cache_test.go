package cache

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"runcard/pkg/ocr"
)

func TestKey(t *testing.T) {
	d := Digest([]byte("screenshot"))
	assert.Len(t, d, 64)
	assert.Equal(t, "runcard:extract:monthly:"+d, Key(d, ocr.KindMonthly))
	assert.NotEqual(t, Key(d, ocr.KindDaily), Key(d, ocr.KindMonthly))
}

func TestOpen_BadURL(t *testing.T) {
	_, err := Open(context.Background(), "http://not-redis", time.Minute)
	assert.ErrorContains(t, err, "parse redis url")
}

// Redis tests are opt-in: set REDIS_URL_TEST to a disposable instance.
func TestCacheRoundTrip(t *testing.T) {
	url := os.Getenv("REDIS_URL_TEST")
	if url == "" {
		t.Skip("set REDIS_URL_TEST to run redis tests")
	}
	ctx := context.Background()
	c, err := Open(ctx, url, time.Minute)
	require.NoError(t, err)
	defer c.Close()

	d := Digest([]byte(t.Name() + time.Now().String()))
	_, err = c.Get(ctx, d, ocr.KindDaily)
	assert.ErrorIs(t, err, ErrMiss)

	var rec ocr.Record
	rec.KM = 5.24
	rec.SetPace(375)
	rec.SetTime(1965)
	require.NoError(t, c.Put(ctx, d, ocr.KindDaily, &rec))

	got, err := c.Get(ctx, d, ocr.KindDaily)
	require.NoError(t, err)
	assert.Equal(t, rec, *got)

	_, err = c.Get(ctx, d, ocr.KindMonthly)
	assert.ErrorIs(t, err, ErrMiss)
}
