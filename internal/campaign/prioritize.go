package campaign

import (
	"sort"

	"lmsrun/internal/types"
)

// ProgressLookup reports a course's completion percentage.
type ProgressLookup interface {
	CompletionPercent(courseID string) float64
}

// Priority buckets, lowest runs first.
const (
	bucketInProgress = iota + 1
	bucketNotStarted
	bucketCompleted
)

func bucket(pct float64) int {
	switch {
	case pct >= 100:
		return bucketCompleted
	case pct > 0:
		return bucketInProgress
	default:
		return bucketNotStarted
	}
}

// Prioritize orders courses for resumption: partially completed courses first
// (most advanced first), then untouched courses, then finished ones. Equal
// courses keep their input order. The input slice is not modified.
func Prioritize(courses []types.Course, progress ProgressLookup) []types.Course {
	pct := make([]float64, len(courses))
	for i, c := range courses {
		pct[i] = progress.CompletionPercent(c.ID)
	}

	idx := make([]int, len(courses))
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(a, b int) bool {
		pa, pb := pct[idx[a]], pct[idx[b]]
		if ba, bb := bucket(pa), bucket(pb); ba != bb {
			return ba < bb
		}
		return pa > pb
	})

	sorted := make([]types.Course, len(courses))
	for i, j := range idx {
		sorted[i] = courses[j]
	}
	return sorted
}
