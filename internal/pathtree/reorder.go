package pathtree

// Reorder computes the new ordering of a folder's submission list after a
// drag and drop. primary is the grabbed id, moving the full dragged
// selection (a superset of primary), target the id at the drop position.
// The moved block keeps its relative order and lands with primary adjacent
// to target. Dropping onto the selection itself collapses the drag to just
// the primary id. Unknown primary/target ids or an empty effective
// selection leave the list untouched.
func Reorder(ids []string, primary string, moving []string, target string) []string {
	movingSet := make(map[string]struct{}, len(moving))
	for _, id := range moving {
		movingSet[id] = struct{}{}
	}

	// Selection restricted to ids actually present, in list order.
	var safeIDs []string
	var safeIndexes []int
	for i, id := range ids {
		if _, ok := movingSet[id]; ok {
			safeIDs = append(safeIDs, id)
			safeIndexes = append(safeIndexes, i)
		}
	}

	primaryIndex := indexOf(ids, primary)
	targetIndex := indexOf(ids, target)

	if containsIndex(safeIndexes, targetIndex) {
		// Dropping inside the selection: move only the primary item.
		safeIDs = []string{primary}
		safeIndexes = []int{primaryIndex}
	}

	if primaryIndex == -1 || targetIndex == -1 ||
		len(safeIndexes) == 0 || !containsIndex(safeIndexes, primaryIndex) {
		return ids
	}

	offset := targetIndex - primaryIndex
	if targetIndex > primaryIndex {
		offset++
	}
	for _, i := range safeIndexes {
		// Removing an item left of the target shifts the insertion
		// point one slot back.
		if i < targetIndex {
			offset--
		}
	}

	removed := make(map[int]struct{}, len(safeIndexes))
	for _, i := range safeIndexes {
		removed[i] = struct{}{}
	}
	result := make([]string, 0, len(ids))
	for i, id := range ids {
		if _, ok := removed[i]; !ok {
			result = append(result, id)
		}
	}

	at := primaryIndex + offset
	if at < 0 {
		at = 0
	}
	if at > len(result) {
		at = len(result)
	}
	out := make([]string, 0, len(ids))
	out = append(out, result[:at]...)
	out = append(out, safeIDs...)
	out = append(out, result[at:]...)
	return out
}

func indexOf(ids []string, id string) int {
	for i, v := range ids {
		if v == id {
			return i
		}
	}
	return -1
}

func containsIndex(indexes []int, i int) bool {
	for _, v := range indexes {
		if v == i {
			return true
		}
	}
	return false
}
