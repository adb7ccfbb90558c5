// Package viewport computes which grid rows must be materialized for a
// scroll position, and gates per-item asset loading on proximity to the
// visible region.
package viewport

import "math"

// Config fixes the grid geometry. BufferRows is the symmetric overscan
// around the strictly visible range and the only tuning knob when item
// counts grow pathological.
type Config struct {
	RowHeight  float64
	Gap        float64
	Columns    int
	BufferRows int
}

// Item is one materialized cell with its pixel position.
type Item struct {
	Index  int
	Row    int
	Column int
	Top    float64
	Left   float64
	// StrictlyVisible is true only inside the unbuffered visible range; it
	// drives gate arming, not materialization.
	StrictlyVisible bool
}

// Row groups the materialized items of one logical row.
type Row struct {
	Index int
	Top   float64
	Items []Item
}

// Result is derived state for a single render pass; never retained.
type Result struct {
	Rows []Row
	// FirstRow and LastRow bound the materialized (buffered) range.
	FirstRow int
	LastRow  int
	// TotalScrollHeight keeps the scrollable region stable regardless of
	// how many rows are materialized.
	TotalScrollHeight float64
}

// ComputeVisible is a pure function of its inputs. Item-list changes,
// scrolling and container resizes all converge here; there is no separate
// code path per trigger.
func ComputeVisible(itemCount int, scrollOffset, containerWidth, containerHeight float64, cfg Config) Result {
	if itemCount <= 0 || cfg.Columns <= 0 || cfg.RowHeight <= 0 {
		return Result{FirstRow: -1, LastRow: -1}
	}

	stride := cfg.RowHeight + cfg.Gap
	totalRows := (itemCount + cfg.Columns - 1) / cfg.Columns
	total := float64(totalRows) * stride

	// Unmeasured container: nothing to materialize yet, but the scroll
	// height is already known.
	if containerWidth <= 0 || containerHeight <= 0 {
		return Result{FirstRow: -1, LastRow: -1, TotalScrollHeight: total}
	}

	if scrollOffset < 0 {
		scrollOffset = 0
	}

	// Row r covers [r*stride, r*stride+rowHeight); visible means that span
	// intersects [scrollOffset, scrollOffset+containerHeight).
	firstVisible := int(math.Floor(scrollOffset / stride))
	if float64(firstVisible)*stride+cfg.RowHeight <= scrollOffset {
		// scrollOffset landed in the gap below the row
		firstVisible++
	}
	lastVisible := int(math.Ceil((scrollOffset+containerHeight)/stride)) - 1
	if float64(lastVisible)*stride >= scrollOffset+containerHeight {
		lastVisible--
	}

	firstVisible = clamp(firstVisible, 0, totalRows-1)
	lastVisible = clamp(lastVisible, 0, totalRows-1)

	first := clamp(firstVisible-cfg.BufferRows, 0, totalRows-1)
	last := clamp(lastVisible+cfg.BufferRows, 0, totalRows-1)

	colWidth := containerWidth / float64(cfg.Columns)
	rows := make([]Row, 0, last-first+1)
	for r := first; r <= last; r++ {
		top := float64(r) * stride
		row := Row{Index: r, Top: top}
		strict := r >= firstVisible && r <= lastVisible
		for c := 0; c < cfg.Columns; c++ {
			idx := r*cfg.Columns + c
			if idx >= itemCount {
				break
			}
			row.Items = append(row.Items, Item{
				Index:           idx,
				Row:             r,
				Column:          c,
				Top:             top,
				Left:            float64(c) * colWidth,
				StrictlyVisible: strict,
			})
		}
		rows = append(rows, row)
	}

	return Result{
		Rows:              rows,
		FirstRow:          first,
		LastRow:           last,
		TotalScrollHeight: total,
	}
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
