package bucketing_test

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"passwordless-auth/internal/bucketing"
)

func TestBucketIsStableAndInRange(t *testing.T) {
	bm := bucketing.NewBucketingManager(16)

	seen := make(map[int]bool)
	for i := 0; i < 1000; i++ {
		key := fmt.Sprintf("user-%d@x.com", i)
		b := bm.Bucket(key)
		assert.GreaterOrEqual(t, b, 0)
		assert.Less(t, b, 16)
		assert.Equal(t, b, bm.Bucket(key))
		seen[b] = true
	}
	assert.Len(t, seen, 16, "1000 keys should touch every bucket")
}

func TestBucketSingleAndInvalid(t *testing.T) {
	assert.Equal(t, 0, bucketing.NewBucketingManager(1).Bucket("a@x.com"))
	assert.Equal(t, 1, bucketing.NewBucketingManager(0).Buckets())
}
