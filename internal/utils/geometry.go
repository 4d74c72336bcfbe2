package utils

import (
	"image"
	"math"
)

// Box represents an axis-aligned bounding box in float coordinates.
type Box struct {
	MinX float64
	MinY float64
	MaxX float64
	MaxY float64
}

// NewBox constructs a Box from min/max coordinates ensuring ordering.
func NewBox(x1, y1, x2, y2 float64) Box {
	if x1 > x2 {
		x1, x2 = x2, x1
	}
	if y1 > y2 {
		y1, y2 = y2, y1
	}
	return Box{MinX: x1, MinY: y1, MaxX: x2, MaxY: y2}
}

// Width returns the box width.
func (b Box) Width() float64 { return b.MaxX - b.MinX }

// Height returns the box height.
func (b Box) Height() float64 { return b.MaxY - b.MinY }

// Area returns the box area. Degenerate boxes have zero area.
func (b Box) Area() float64 {
	w, h := b.Width(), b.Height()
	if w <= 0 || h <= 0 {
		return 0
	}
	return w * h
}

// Intersect returns the intersection of two boxes. The result may be
// degenerate (zero area) when the boxes do not overlap.
func (b Box) Intersect(o Box) Box {
	return Box{
		MinX: math.Max(b.MinX, o.MinX),
		MinY: math.Max(b.MinY, o.MinY),
		MaxX: math.Min(b.MaxX, o.MaxX),
		MaxY: math.Min(b.MaxY, o.MaxY),
	}
}

// Union returns the smallest box covering both boxes.
func (b Box) Union(o Box) Box {
	return Box{
		MinX: math.Min(b.MinX, o.MinX),
		MinY: math.Min(b.MinY, o.MinY),
		MaxX: math.Max(b.MaxX, o.MaxX),
		MaxY: math.Max(b.MaxY, o.MaxY),
	}
}

// IoU computes Intersection over Union for two boxes.
func IoU(a, b Box) float64 {
	inter := a.Intersect(b).Area()
	if inter <= 0 {
		return 0
	}
	union := a.Area() + b.Area() - inter
	if union <= 0 {
		return 0
	}
	return inter / union
}

// OverlapRatio computes intersection area over the smaller box area.
// Unlike IoU it approaches 1.0 for full containment, which is what the
// merge-mode resolution cares about.
func OverlapRatio(a, b Box) float64 {
	inter := a.Intersect(b).Area()
	if inter <= 0 {
		return 0
	}
	smaller := math.Min(a.Area(), b.Area())
	if smaller <= 0 {
		return 0
	}
	return inter / smaller
}

// Expand grows the box by the given ratios around its center. A ratio of
// 1.0 leaves the corresponding axis unchanged.
func (b Box) Expand(rx, ry float64) Box {
	if rx <= 0 {
		rx = 1.0
	}
	if ry <= 0 {
		ry = 1.0
	}
	cx := (b.MinX + b.MaxX) / 2
	cy := (b.MinY + b.MaxY) / 2
	hw := b.Width() * rx / 2
	hh := b.Height() * ry / 2
	return Box{MinX: cx - hw, MinY: cy - hh, MaxX: cx + hw, MaxY: cy + hh}
}

// ClampTo limits the box to the given bounds.
func (b Box) ClampTo(w, h float64) Box {
	return Box{
		MinX: clampF(b.MinX, 0, w),
		MinY: clampF(b.MinY, 0, h),
		MaxX: clampF(b.MaxX, 0, w),
		MaxY: clampF(b.MaxY, 0, h),
	}
}

// ToRect converts a Box to an image.Rectangle, clamped to image bounds.
func (b Box) ToRect(bounds image.Rectangle) image.Rectangle {
	x1 := clampInt(int(math.Floor(b.MinX)), bounds.Min.X, bounds.Max.X)
	y1 := clampInt(int(math.Floor(b.MinY)), bounds.Min.Y, bounds.Max.Y)
	x2 := clampInt(int(math.Ceil(b.MaxX)), bounds.Min.X, bounds.Max.X)
	y2 := clampInt(int(math.Ceil(b.MaxY)), bounds.Min.Y, bounds.Max.Y)
	if x2 < x1 {
		x2 = x1
	}
	if y2 < y1 {
		y2 = y1
	}
	return image.Rect(x1, y1, x2, y2)
}

// VerticalOverlap returns the overlap of the two boxes' Y extents divided by
// the smaller of the two heights. Used for reading-order row grouping.
func VerticalOverlap(a, b Box) float64 {
	top := math.Max(a.MinY, b.MinY)
	bot := math.Min(a.MaxY, b.MaxY)
	if bot <= top {
		return 0
	}
	smaller := math.Min(a.Height(), b.Height())
	if smaller <= 0 {
		return 0
	}
	return (bot - top) / smaller
}

func clampF(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
