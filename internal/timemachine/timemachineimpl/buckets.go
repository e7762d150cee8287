package timemachineimpl

import (
	"fmt"
	"time"

	"github.com/orgball2608/nostr-media-observatory/internal/domain"
)

// maxBuckets bounds the histogram length.
const maxBuckets = 1000

// TimeBuckets computes the scrubber histogram over the image collection, the
// reference type for bucketing. Buckets are aligned to bucketMinutes
// boundaries and always run through the current wall clock, so a scrubber
// can reach "now" even when the newest stored image is older. Newest first.
func (t *Impl) TimeBuckets(bucketMinutes int) []domain.TimeBucket {
	if bucketMinutes <= 0 {
		bucketMinutes = int(t.timeSlice.Minutes())
	}
	bucketMs := int64(bucketMinutes) * 60 * 1000
	now := domain.NowMillis()

	t.mu.RLock()
	images := t.collections[domain.TypeImage]
	timestamps := make([]int64, len(images))
	for i, img := range images {
		timestamps[i] = img.Timestamp
	}
	t.mu.RUnlock()

	if len(timestamps) == 0 {
		return []domain.TimeBucket{{
			Start: now - bucketMs,
			End:   now,
			Count: 0,
			Label: "No images yet",
		}}
	}

	oldest, newest := timestamps[0], timestamps[0]
	for _, ts := range timestamps[1:] {
		if ts < oldest {
			oldest = ts
		}
		if ts > newest {
			newest = ts
		}
	}

	endTime := newest
	if now > endTime {
		endTime = now
	}

	first := oldest / bucketMs * bucketMs
	// A corrupt stored timestamp must not turn the scan into an unbounded
	// loop: keep only the newest maxBuckets-worth of the range.
	if minStart := endTime - int64(maxBuckets)*bucketMs; first < minStart {
		first = minStart / bucketMs * bucketMs
	}

	var buckets []domain.TimeBucket
	for start := first; start < endTime; start += bucketMs {
		end := start + bucketMs
		count := 0
		for _, ts := range timestamps {
			if ts >= start && ts < end {
				count++
			}
		}
		clampedEnd := end
		if clampedEnd > now {
			clampedEnd = now
		}
		buckets = append(buckets, domain.TimeBucket{
			Start: start,
			End:   clampedEnd,
			Count: count,
			Label: bucketLabel(time.UnixMilli(start), time.UnixMilli(clampedEnd)),
		})
	}

	// newest first
	for i, j := 0, len(buckets)-1; i < j; i, j = i+1, j-1 {
		buckets[i], buckets[j] = buckets[j], buckets[i]
	}
	return buckets
}

func bucketLabel(start, end time.Time) string {
	now := time.Now()
	span := fmt.Sprintf("%s - %s", start.Format("15:04"), end.Format("15:04"))

	switch {
	case sameDay(start, now):
		return "Today " + span
	case sameDay(start, now.AddDate(0, 0, -1)):
		return "Yesterday " + span
	default:
		return start.Format("2006-01-02") + " " + span
	}
}

func sameDay(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}
