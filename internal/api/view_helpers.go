package api

import (
	"cmp"
	"slices"
	"time"
)

// TreeLine is one row of the hierarchy rendered depth first.
type TreeLine struct {
	Depth  int
	Worker WorkerView
}

// WorkerTree orders workers depth first from each root, siblings by position.
// Workers whose parent is missing are treated as roots.
func WorkerTree(workers []WorkerView) []TreeLine {
	if len(workers) == 0 {
		return nil
	}
	known := make(map[string]bool, len(workers))
	for _, w := range workers {
		known[w.ID] = true
	}
	children := make(map[string][]WorkerView)
	var roots []WorkerView
	for _, w := range workers {
		if w.ParentID == "" || !known[w.ParentID] {
			roots = append(roots, w)
			continue
		}
		children[w.ParentID] = append(children[w.ParentID], w)
	}
	order := func(a, b WorkerView) int {
		if c := cmp.Compare(a.Position, b.Position); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	}
	slices.SortFunc(roots, func(a, b WorkerView) int { return cmp.Compare(a.ID, b.ID) })

	lines := make([]TreeLine, 0, len(workers))
	var walk func(w WorkerView, depth int)
	walk = func(w WorkerView, depth int) {
		lines = append(lines, TreeLine{Depth: depth, Worker: w})
		kids := children[w.ID]
		slices.SortFunc(kids, order)
		for _, kid := range kids {
			walk(kid, depth+1)
		}
	}
	for _, root := range roots {
		walk(root, 0)
	}
	return lines
}

// ParseTime parses an API timestamp; invalid or empty input yields the zero time.
func ParseTime(value string) time.Time {
	if value == "" {
		return time.Time{}
	}
	if t, err := time.Parse(time.RFC3339, value); err == nil {
		return t
	}
	if t, err := time.Parse(time.RFC3339Nano, value); err == nil {
		return t
	}
	return time.Time{}
}
