package disk_test

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	storagev1 "github.com/relaycache/relaycache/api/defined/v1/storage"
	"github.com/relaycache/relaycache/api/defined/v1/storage/object"
	"github.com/relaycache/relaycache/conf"
	"github.com/relaycache/relaycache/storage"
	"github.com/relaycache/relaycache/storage/sharedkv"
)

func newTestBucket(t *testing.T, basepath string) storagev1.Bucket {
	bucket, err := storage.NewBucket(&conf.Bucket{
		Path:      basepath,
		Driver:    "native",
		Type:      "normal",
		DBType:    "pebble",
		AsyncLoad: false,
	}, sharedkv.NewEmpty())

	assert.NoError(t, err)
	return bucket
}

func TesMissKey(t *testing.T) {
	basepath := t.TempDir()
	bucket := newTestBucket(t, basepath)

	cackeKey := object.NewID("http://www.example.com/path/to/1M.bin")

	t.Logf("cache-key=%s", cackeKey.HashStr())

	md, err := bucket.Lookup(context.Background(), cackeKey)

	assert.ErrorIs(t, err, storagev1.ErrKeyNotFound)

	assert.Nil(t, md)
}

func TestHitKey(t *testing.T) {
	basepath := t.TempDir()

	bucket := newTestBucket(t, basepath)

	cackeKey := object.NewID("http://www.example.com/path/to/1M.bin")

	t.Logf("cache-key=%s", cackeKey.HashStr())

	err := bucket.Store(context.Background(), &object.Metadata{
		Flags:       object.FlagCache,
		ID:          cackeKey,
		Code:        http.StatusOK,
		Size:        1,
		RespUnix:    time.Now().Unix(),
		LastRefUnix: time.Now().Unix(),
		Refs:        1,
		ExpiresAt:   time.Now().Add(time.Second * 30).Unix(),
		Headers:     make(http.Header),
	})

	assert.NoError(t, err)

	md, err := bucket.Lookup(context.Background(), cackeKey)

	assert.NoError(t, err)
	assert.NotNil(t, md)

	t.Logf("flags=%d size=%d, code=%d, refs=%d", md.Flags, md.Size, md.Code, md.Refs)

	assert.Equal(t, md.Flags, object.FlagCache)
	assert.Equal(t, md.Size, uint64(1))
	assert.Equal(t, md.Code, http.StatusOK)

	t.Logf("filepath=%s", cackeKey.WPath("/"))
}

func TestExpired(t *testing.T) {
	basepath := t.TempDir()
	bucket := newTestBucket(t, basepath)

	cacheKey := object.NewID("http://www.example.com/path/to/expired.bin")
	fresh := &object.Metadata{
		ID:        cacheKey,
		ExpiresAt: time.Now().Add(time.Minute).Unix(),
	}
	assert.False(t, bucket.Expired(context.Background(), cacheKey, fresh))

	stale := &object.Metadata{
		ID:        cacheKey,
		ExpiresAt: time.Now().Add(-time.Minute).Unix(),
	}
	assert.True(t, bucket.Expired(context.Background(), cacheKey, stale))

	noTTL := &object.Metadata{ID: cacheKey}
	assert.False(t, bucket.Expired(context.Background(), cacheKey, noTTL))
}

func TestAllowReportsFullHeadroomOnFreshVolume(t *testing.T) {
	basepath := t.TempDir()
	bucket := newTestBucket(t, basepath)

	// a freshly-created temp dir is never near diskFullPercent full.
	assert.False(t, bucket.UseAllow())
	assert.Equal(t, 100, bucket.Allow())
}
