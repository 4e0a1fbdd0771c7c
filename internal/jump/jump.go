// Package jump marks a range of source lines in a rendered code block and
// scrolls the first marked line into the middle of the viewport.
package jump

// Rect is the vertical extent of a rendered element in surface coordinates.
type Rect struct {
	Top    float64 `json:"top"`
	Height float64 `json:"height"`
}

// Overlay is a highlight band drawn over one source line. Top is relative to
// the scrollable content of the code block.
type Overlay struct {
	Line   int     `json:"line"`
	Top    float64 `json:"top"`
	Height float64 `json:"height"`
}

// Surface is a rendered line-numbered code block.
type Surface interface {
	// Container reports the code block's bounds and current scroll offset.
	// ok is false when no code block is rendered.
	Container() (r Rect, scrollTop float64, ok bool)
	// Row reports the bounds of the 1-based line, if it is rendered.
	Row(line int) (Rect, bool)
	ClearOverlays()
	AddOverlay(Overlay)
	ScrollTo(top float64, smooth bool)
}

// Normalize clamps start to 1 and raises end to start.
func Normalize(start, end int) (int, int) {
	if start < 1 {
		start = 1
	}
	if end < start {
		end = start
	}
	return start, end
}

// JumpToRange highlights lines start..end inclusive and centers start. It
// does nothing when the surface has no code block. Existing overlays are
// always removed first, so only the latest range stays marked.
func JumpToRange(s Surface, start, end int) {
	container, scrollTop, ok := s.Container()
	if !ok {
		return
	}

	start, end = Normalize(start, end)
	s.ClearOverlays()

	for line := start; line <= end; line++ {
		row, ok := s.Row(line)
		if !ok {
			continue
		}
		s.AddOverlay(Overlay{
			Line:   line,
			Top:    row.Top - container.Top + scrollTop,
			Height: row.Height,
		})
	}

	first, ok := s.Row(start)
	if !ok {
		return
	}
	contentTop := first.Top - container.Top + scrollTop
	target := contentTop - (container.Height-first.Height)/2
	if target < 0 {
		target = 0
	}
	s.ScrollTo(target, true)
}
