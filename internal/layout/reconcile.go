package layout

import (
	"fmt"
	"sort"

	"github.com/MeKo-Tech/pagelens/internal/utils"
)

// MergeMode controls how residual overlaps are resolved after NMS.
type MergeMode string

const (
	// MergeLarge keeps the larger box of an overlapping pair.
	MergeLarge MergeMode = "large"
	// MergeSmall keeps the smaller box of an overlapping pair.
	MergeSmall MergeMode = "small"
	// MergeUnion replaces an overlapping pair with their union.
	MergeUnion MergeMode = "union"
)

// ValidMergeMode reports whether m names a known merge mode.
func ValidMergeMode(m MergeMode) bool {
	switch m {
	case MergeLarge, MergeSmall, MergeUnion:
		return true
	}
	return false
}

const (
	// DefaultNMSIoU is the suppression threshold applied when NMS is enabled.
	DefaultNMSIoU = 0.5
	// DefaultOverlapThreshold is the overlap ratio above which merge-mode
	// resolution treats two surviving boxes as competing.
	DefaultOverlapThreshold = 0.7
)

// Params configures one reconciliation run.
type Params struct {
	ScoreThreshold   float64 // regions scoring below are discarded
	NMS              bool    // enable non-max suppression
	NMSIoU           float64 // IoU suppression threshold (0 = DefaultNMSIoU)
	UnclipRatioX     float64 // horizontal box expansion (1.0 = none)
	UnclipRatioY     float64 // vertical box expansion (1.0 = none)
	MergeMode        MergeMode
	OverlapThreshold float64 // overlap ratio threshold (0 = default)
	PageWidth        float64 // expansion clamp bounds
	PageHeight       float64
}

// DefaultParams returns reconciliation defaults matching the request-surface
// documentation: threshold 0.5, NMS on, no expansion, "large" merge mode.
func DefaultParams(pageW, pageH float64) Params {
	return Params{
		ScoreThreshold:   0.5,
		NMS:              true,
		NMSIoU:           DefaultNMSIoU,
		UnclipRatioX:     1.0,
		UnclipRatioY:     1.0,
		MergeMode:        MergeLarge,
		OverlapThreshold: DefaultOverlapThreshold,
		PageWidth:        pageW,
		PageHeight:       pageH,
	}
}

// Validate checks parameter ranges.
func (p Params) Validate() error {
	if p.ScoreThreshold < 0 || p.ScoreThreshold > 1 {
		return fmt.Errorf("score threshold %v outside [0,1]", p.ScoreThreshold)
	}
	if p.NMSIoU < 0 || p.NMSIoU > 1 {
		return fmt.Errorf("nms iou %v outside [0,1]", p.NMSIoU)
	}
	if p.MergeMode != "" && !ValidMergeMode(p.MergeMode) {
		return fmt.Errorf("unknown merge mode %q", p.MergeMode)
	}
	return nil
}

// Reconcile prunes and merges raw detector proposals. Steps run in a fixed
// order: score threshold, NMS, box expansion, merge-mode overlap resolution.
// NMS deliberately sees pre-expansion geometry, and merge resolution runs on
// final candidate boxes. The input slice is not mutated.
func Reconcile(regions []Region, p Params) []Region {
	out := make([]Region, 0, len(regions))
	for _, r := range regions {
		if r.Score >= p.ScoreThreshold {
			out = append(out, r)
		}
	}

	if p.NMS {
		iou := p.NMSIoU
		if iou <= 0 {
			iou = DefaultNMSIoU
		}
		out = suppress(out, iou)
	}

	if p.UnclipRatioX > 0 && p.UnclipRatioY > 0 && (p.UnclipRatioX != 1.0 || p.UnclipRatioY != 1.0) {
		for i := range out {
			b := out[i].Box.Expand(p.UnclipRatioX, p.UnclipRatioY)
			if p.PageWidth > 0 && p.PageHeight > 0 {
				b = b.ClampTo(p.PageWidth, p.PageHeight)
			}
			out[i].Box = b
		}
	}

	mode := p.MergeMode
	if mode == "" {
		mode = MergeLarge
	}
	thresh := p.OverlapThreshold
	if thresh <= 0 {
		thresh = DefaultOverlapThreshold
	}
	out = resolveOverlaps(out, mode, thresh)

	// Detection order is the stable output order.
	sort.Slice(out, func(i, j int) bool { return out[i].Index < out[j].Index })
	return out
}

// suppress performs hard NMS: lower-scoring regions overlapping a kept
// higher-scoring region above the IoU threshold are dropped. Equal scores
// fall back to detection order, keeping the earlier proposal.
func suppress(regions []Region, iouThreshold float64) []Region {
	if len(regions) <= 1 {
		return regions
	}
	order := make([]int, len(regions))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		ra, rb := regions[order[a]], regions[order[b]]
		if ra.Score != rb.Score {
			return ra.Score > rb.Score
		}
		return ra.Index < rb.Index
	})

	suppressed := make([]bool, len(regions))
	kept := make([]Region, 0, len(regions))
	for _, a := range order {
		if suppressed[a] {
			continue
		}
		kept = append(kept, regions[a])
		for _, b := range order {
			if suppressed[b] || a == b {
				continue
			}
			if regions[b].Score > regions[a].Score {
				continue
			}
			if utils.IoU(regions[a].Box, regions[b].Box) > iouThreshold {
				suppressed[b] = true
			}
		}
	}
	return kept
}

// resolveOverlaps applies the merge mode pairwise until no pair overlaps
// above the threshold. Under MergeUnion fused boxes may grow, so the scan
// repeats until stable.
func resolveOverlaps(regions []Region, mode MergeMode, threshold float64) []Region {
	if len(regions) <= 1 {
		return regions
	}
	// Union fuses on any intersection so the final set is overlap-free;
	// large/small only act above the competing threshold.
	if mode == MergeUnion {
		threshold = 0
	}
	out := append([]Region(nil), regions...)
	for {
		merged := false
		for i := 0; i < len(out) && !merged; i++ {
			for j := i + 1; j < len(out) && !merged; j++ {
				if utils.OverlapRatio(out[i].Box, out[j].Box) <= threshold {
					continue
				}
				switch mode {
				case MergeSmall:
					out = dropAt(out, loserIndex(out, i, j, false))
				case MergeUnion:
					out[i] = fuse(out[i], out[j])
					out = dropAt(out, j)
				default: // MergeLarge
					out = dropAt(out, loserIndex(out, i, j, true))
				}
				merged = true
			}
		}
		if !merged {
			return out
		}
	}
}

// loserIndex picks which of the pair to drop. keepLarger selects the larger
// box as survivor; ties on area resolve by detection order, keeping the
// earlier region.
func loserIndex(regions []Region, i, j int, keepLarger bool) int {
	ai, aj := regions[i].Box.Area(), regions[j].Box.Area()
	if ai == aj {
		if regions[i].Index <= regions[j].Index {
			return j
		}
		return i
	}
	larger, smaller := i, j
	if aj > ai {
		larger, smaller = j, i
	}
	if keepLarger {
		return smaller
	}
	return larger
}

// fuse replaces a pair with their union, keeping the higher score and the
// earlier detection index.
func fuse(a, b Region) Region {
	out := a
	out.Box = a.Box.Union(b.Box)
	if b.Score > out.Score {
		out.Score = b.Score
	}
	if b.Index < out.Index {
		out.Index = b.Index
	}
	return out
}

func dropAt(regions []Region, i int) []Region {
	return append(regions[:i], regions[i+1:]...)
}
