package timemachineimpl

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orgball2608/nostr-media-observatory/internal/domain"
)

func TestTimeBuckets_EmptyArchive(t *testing.T) {
	tm := newTestMachine(t, 10, nil)

	buckets := tm.TimeBuckets(60)

	require.Len(t, buckets, 1)
	assert.Equal(t, 0, buckets[0].Count)
	assert.Equal(t, "No images yet", buckets[0].Label)
	assert.Equal(t, int64(60*60*1000), buckets[0].End-buckets[0].Start)
}

func TestTimeBuckets_AlignedAndCounted(t *testing.T) {
	tm := newTestMachine(t, 100, nil)

	now := domain.NowMillis()
	tm.AddItem(imageAt("https://a.com/1.jpg", "e1", now-30*60*1000))
	tm.AddItem(imageAt("https://a.com/2.jpg", "e2", now-31*60*1000))
	tm.AddItem(imageAt("https://a.com/3.jpg", "e3", now-90*60*1000))

	buckets := tm.TimeBuckets(60)
	require.NotEmpty(t, buckets)

	bucketMs := int64(60 * 60 * 1000)
	total := 0
	for i, b := range buckets {
		assert.Zero(t, b.Start%bucketMs, "bucket start must align to the bucket size")
		total += b.Count
		if i > 0 {
			assert.Greater(t, buckets[i-1].Start, b.Start, "buckets must be newest first")
		}
	}
	assert.Equal(t, 3, total)
}

func TestTimeBuckets_ExtendThroughNow(t *testing.T) {
	tm := newTestMachine(t, 10, nil)

	// a single old image still yields buckets reaching the current wall clock
	old := domain.NowMillis() - 3*60*60*1000
	tm.AddItem(imageAt("https://a.com/old.jpg", "e1", old))

	buckets := tm.TimeBuckets(60)
	require.NotEmpty(t, buckets)

	newest := buckets[0]
	now := domain.NowMillis()
	assert.LessOrEqual(t, newest.End, now)
	assert.Greater(t, newest.End, now-int64(60*60*1000))
}

func TestTimeBuckets_EndClampedToNow(t *testing.T) {
	tm := newTestMachine(t, 10, nil)
	tm.AddItem(imageAt("https://a.com/1.jpg", "e1", domain.NowMillis()-1000))

	buckets := tm.TimeBuckets(60)

	now := domain.NowMillis()
	for _, b := range buckets {
		assert.LessOrEqual(t, b.End, now)
	}
}

func TestTimeBuckets_IgnoresNonImageMedia(t *testing.T) {
	tm := newTestMachine(t, 10, nil)
	tm.AddItem(domain.MediaItem{URL: "https://a.com/v.mp4", Type: domain.TypeVideo, Timestamp: domain.NowMillis()})

	buckets := tm.TimeBuckets(60)

	require.Len(t, buckets, 1)
	assert.Equal(t, "No images yet", buckets[0].Label)
}

func TestTimeBuckets_CorruptTimestampStaysBounded(t *testing.T) {
	tm := newTestMachine(t, 10, nil)

	now := domain.NowMillis()
	tm.AddItem(domain.MediaItem{URL: "https://a.com/bad.jpg", Type: domain.TypeImage, Timestamp: -4_000_000_000_000_000_000})
	tm.AddItem(imageAt("https://a.com/ok.jpg", "e1", now-1000))

	// the scan has to terminate promptly even with an absurd oldest timestamp
	done := make(chan []domain.TimeBucket, 1)
	go func() { done <- tm.TimeBuckets(60) }()

	var buckets []domain.TimeBucket
	select {
	case buckets = <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("TimeBuckets did not return, bucket scan is unbounded")
	}

	require.NotEmpty(t, buckets)
	assert.LessOrEqual(t, len(buckets), maxBuckets+1)

	total := 0
	for _, b := range buckets {
		total += b.Count
	}
	assert.Equal(t, 1, total, "the healthy image still lands in a bucket")
}

func TestBucketLabel_TodayAndDate(t *testing.T) {
	now := time.Now()

	today := bucketLabel(now, now.Add(30*time.Minute))
	assert.Contains(t, today, "Today")

	lastWeek := now.AddDate(0, 0, -7)
	dated := bucketLabel(lastWeek, lastWeek.Add(time.Hour))
	assert.Contains(t, dated, lastWeek.Format("2006-01-02"))
}
