package index

import "sort"

// searchId performs a binary search for the given value. It returns the index of the value
// and true when the value is contained, otherwise the index at which the value would have to
// be inserted and false.
func searchId(sorted []int64, value int64) (int, bool) {
	i := sort.Search(len(sorted), func(j int) bool { return sorted[j] >= value })
	return i, i < len(sorted) && sorted[i] == value
}

// containsId checks whether the sorted ID list contains the given ID.
func containsId(sorted []int64, id int64) bool {
	_, found := searchId(sorted, id)
	return found
}

// rangeIncluded checks if the sorted ID list contains some values from the inclusive range
// [lo, hi]. It returns the inclusive range of indices into the list that needs to be checked,
// or ok=false if it is guaranteed that no value of the list is inside the range.
//
// The list must be sorted and free of duplicates, otherwise the returned index range is not
// deterministic.
func rangeIncluded(lo int64, hi int64, sorted []int64) (start int, end int, ok bool) {
	startIndex, foundLo := searchId(sorted, lo)
	endIndex, foundHi := searchId(sorted, hi)

	if !foundLo && !foundHi {
		if startIndex == endIndex {
			// Both bounds would be inserted at the same position, so no value lies between them.
			return 0, 0, false
		}
		return startIndex, endIndex - 1, true
	}

	if !foundHi {
		// hi itself is not in the list, the span ends at the last value below it.
		if endIndex > 0 {
			endIndex--
		}
	}

	return startIndex, endIndex, true
}
