package index

import (
	"testing"

	"github.com/substack/osmpbf/util"
)

func assertRange(t *testing.T, expectedStart int, expectedEnd int, lo int64, hi int64, sorted []int64) {
	start, end, ok := rangeIncluded(lo, hi, sorted)
	util.AssertTrue(t, ok)
	util.AssertEqual(t, expectedStart, start)
	util.AssertEqual(t, expectedEnd, end)
}

func assertNoRange(t *testing.T, lo int64, hi int64, sorted []int64) {
	_, _, ok := rangeIncluded(lo, hi, sorted)
	util.AssertFalse(t, ok)
}

func TestRangeIncluded(t *testing.T) {
	assertNoRange(t, 0, 0, []int64{1, 2, 3})
	assertRange(t, 0, 0, 1, 1, []int64{1, 2, 3})
	assertRange(t, 1, 1, 2, 2, []int64{1, 2, 3})
	assertRange(t, 2, 2, 3, 3, []int64{1, 2, 3})
	assertNoRange(t, 4, 4, []int64{1, 2, 3})
	assertRange(t, 0, 0, 0, 1, []int64{1, 2, 3})
	assertRange(t, 2, 2, 3, 4, []int64{1, 2, 3})
	assertNoRange(t, 4, 4, []int64{1, 2, 6})
	assertRange(t, 1, 1, 2, 3, []int64{1, 2, 6})
	assertRange(t, 2, 2, 5, 6, []int64{1, 2, 6})
	assertRange(t, 2, 2, 5, 8, []int64{1, 2, 6})
	assertRange(t, 0, 2, 0, 8, []int64{1, 2, 6})
	assertRange(t, 0, 1, 0, 4, []int64{1, 2, 6})
}

func TestRangeIncluded_emptyList(t *testing.T) {
	assertNoRange(t, 1, 10, []int64{})
	assertNoRange(t, 1, 10, nil)
}

func TestSearchId(t *testing.T) {
	sorted := []int64{1, 5, 9}

	index, found := searchId(sorted, 5)
	util.AssertTrue(t, found)
	util.AssertEqual(t, 1, index)

	index, found = searchId(sorted, 6)
	util.AssertFalse(t, found)
	util.AssertEqual(t, 2, index)

	index, found = searchId(sorted, 100)
	util.AssertFalse(t, found)
	util.AssertEqual(t, 3, index)

	util.AssertTrue(t, containsId(sorted, 9))
	util.AssertFalse(t, containsId(sorted, 8))
}
