/*Package schedule maps display frames to the grid cell lit on each, and
paints the illumination patterns the instrument projects.

A Schedule is a square grid of Side x Side cells, each Divider bytes wide and
Divider rows tall, whose top-left corner sits at (OriginX, OriginY) on the
panel.  Frame n lights cell (n mod Side, n div Side); frames past the last
cell light nothing.
*/
package schedule

import (
	"errors"
	"fmt"
)

const (
	// DefaultSpan is the edge of the scanned square, in bytes and rows
	DefaultSpan = 1500

	// DefaultDivider is the edge of one cell
	DefaultDivider = 6

	// DefaultOriginX is the byte column of the scanned square's left edge
	DefaultOriginX = 1410

	// DefaultOriginY is the row of the scanned square's top edge
	DefaultOriginY = 740
)

var (
	// ErrIndivisible is generated when the span is not a whole number of cells
	ErrIndivisible = errors.New("span is not a multiple of the divider")

	// ErrEmpty is generated for a grid with no cells
	ErrEmpty = errors.New("schedule has no cells")
)

// Schedule describes one raster scan
type Schedule struct {
	Span    uint32 `json:"span" koanf:"Span"`
	Divider uint32 `json:"divider" koanf:"Divider"`
	OriginX uint32 `json:"originX" koanf:"OriginX"`
	OriginY uint32 `json:"originY" koanf:"OriginY"`
}

// Default is the full-resolution scan
func Default() Schedule {
	return Schedule{
		Span:    DefaultSpan,
		Divider: DefaultDivider,
		OriginX: DefaultOriginX,
		OriginY: DefaultOriginY,
	}
}

// Validate checks the grid divides evenly and is not empty
func (s Schedule) Validate() error {
	if s.Divider == 0 || s.Span == 0 {
		return ErrEmpty
	}
	if s.Span%s.Divider != 0 {
		return fmt.Errorf("%w: %d %% %d = %d", ErrIndivisible, s.Span, s.Divider, s.Span%s.Divider)
	}
	return nil
}

// Side is the number of cells along one edge
func (s Schedule) Side() uint32 {
	if s.Divider == 0 {
		return 0
	}
	return s.Span / s.Divider
}

// Cells is the number of frames the scan takes
func (s Schedule) Cells() uint32 {
	side := s.Side()
	return side * side
}

// Cell is the grid cell lit on frame.  ok is false once the scan is over.
func (s Schedule) Cell(frame uint32) (x, y uint32, ok bool) {
	side := s.Side()
	if side == 0 || frame >= side*side {
		return 0, 0, false
	}
	return frame % side, frame / side, true
}

// Rect is the panel rectangle of cell (x, y) as byte column, row, width, height
func (s Schedule) Rect(x, y uint32) (col, row, w, h int) {
	d := int(s.Divider)
	return int(x)*d + int(s.OriginX), int(y)*d + int(s.OriginY), d, d
}
