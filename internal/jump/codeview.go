package jump

import "sync"

// CodeView is an in-memory layout of a rendered code block with evenly
// spaced rows. A zero LineHeight means nothing is rendered.
type CodeView struct {
	mu sync.Mutex

	lines      int
	lineHeight float64
	padding    float64
	viewport   float64
	scrollTop  float64
	smooth     bool
	overlays   []Overlay
}

// Layout describes the geometry of a code block as reported by its renderer.
type Layout struct {
	Lines      int     `json:"lines"`
	LineHeight float64 `json:"line_height"`
	Padding    float64 `json:"padding"`
	Viewport   float64 `json:"viewport"`
	ScrollTop  float64 `json:"scroll_top"`
}

// State is a snapshot of the overlays and scroll position.
type State struct {
	Overlays  []Overlay `json:"overlays"`
	ScrollTop float64   `json:"scroll_top"`
	Smooth    bool      `json:"smooth"`
}

// NewCodeView returns a view with the given layout.
func NewCodeView(l Layout) *CodeView {
	v := &CodeView{}
	v.SetLayout(l)
	return v
}

// SetLayout replaces the geometry. Overlays are dropped since their offsets
// no longer apply.
func (v *CodeView) SetLayout(l Layout) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.lines = l.Lines
	v.lineHeight = l.LineHeight
	v.padding = l.Padding
	v.viewport = l.Viewport
	v.scrollTop = v.clampScroll(l.ScrollTop)
	v.smooth = false
	v.overlays = nil
}

// SetScroll records a scroll made outside of a jump.
func (v *CodeView) SetScroll(top float64) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.scrollTop = v.clampScroll(top)
	v.smooth = false
}

// Container implements Surface. The container's top edge is the origin.
func (v *CodeView) Container() (Rect, float64, bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.lineHeight <= 0 {
		return Rect{}, 0, false
	}
	return Rect{Top: 0, Height: v.viewport}, v.scrollTop, true
}

// Row implements Surface. Row tops are in viewport coordinates, so a row
// above the visible area has a negative top.
func (v *CodeView) Row(line int) (Rect, bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.lineHeight <= 0 || line < 1 || line > v.lines {
		return Rect{}, false
	}
	top := v.padding + float64(line-1)*v.lineHeight - v.scrollTop
	return Rect{Top: top, Height: v.lineHeight}, true
}

// ClearOverlays implements Surface.
func (v *CodeView) ClearOverlays() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.overlays = nil
}

// AddOverlay implements Surface.
func (v *CodeView) AddOverlay(o Overlay) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.overlays = append(v.overlays, o)
}

// ScrollTo implements Surface.
func (v *CodeView) ScrollTo(top float64, smooth bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.scrollTop = v.clampScroll(top)
	v.smooth = smooth
}

// Marked reports whether line is covered by an overlay.
func (v *CodeView) Marked(line int) bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	for _, o := range v.overlays {
		if o.Line == line {
			return true
		}
	}
	return false
}

// ScrollTop returns the current scroll offset.
func (v *CodeView) ScrollTop() float64 {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.scrollTop
}

// State returns a copy of the overlays and scroll position.
func (v *CodeView) State() State {
	v.mu.Lock()
	defer v.mu.Unlock()
	overlays := make([]Overlay, len(v.overlays))
	copy(overlays, v.overlays)
	return State{Overlays: overlays, ScrollTop: v.scrollTop, Smooth: v.smooth}
}

func (v *CodeView) clampScroll(top float64) float64 {
	limit := v.padding*2 + float64(v.lines)*v.lineHeight - v.viewport
	if top > limit {
		top = limit
	}
	if top < 0 {
		top = 0
	}
	return top
}
