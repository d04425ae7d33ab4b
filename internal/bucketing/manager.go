package bucketing

import (
	"hash"
	"sync"

	"github.com/spaolacci/murmur3"
)

// BucketingManager maps string keys onto a fixed number of buckets with
// murmur3. The same key always lands in the same bucket.
type BucketingManager struct {
	buckets    int
	hasherPool sync.Pool
}

func NewBucketingManager(buckets int) *BucketingManager {
	if buckets <= 0 {
		buckets = 1
	}
	bm := &BucketingManager{buckets: buckets}

	// murmur3 hashers are reused to keep the hot path allocation free
	bm.hasherPool = sync.Pool{
		New: func() interface{} {
			return murmur3.New64()
		},
	}
	return bm
}

func (bm *BucketingManager) Buckets() int {
	return bm.buckets
}

// Bucket returns a value in [0, Buckets()).
func (bm *BucketingManager) Bucket(key string) int {
	if bm.buckets == 1 {
		return 0
	}

	h := bm.hasherPool.Get().(hash.Hash64)
	defer bm.hasherPool.Put(h)

	h.Reset()
	_, _ = h.Write([]byte(key))
	return int(h.Sum64() % uint64(bm.buckets))
}
