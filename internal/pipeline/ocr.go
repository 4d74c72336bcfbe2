package pipeline

import (
	"context"
	"fmt"
	"image"
	"sort"
	"strings"
	"unicode"

	"github.com/MeKo-Tech/pagelens/internal/infer"
	"github.com/MeKo-Tech/pagelens/internal/layout"
	"github.com/MeKo-Tech/pagelens/internal/utils"
)

// recognizeTextBlock OCRs one textual region crop: text line detection with
// the text threshold set, optional per-line orientation correction, then
// batch recognition filtered by the recognition score threshold.
func (p *Pipeline) recognizeTextBlock(ctx context.Context, crop image.Image) (layout.Content, error) {
	lines, err := p.ocrLines(ctx, crop, p.opts.TextDet, p.backend.DetectText, p.opts.UseTextlineOrientation)
	if err != nil {
		return nil, err
	}
	return joinLines(lines), nil
}

// recognizeSeal OCRs a seal crop with the seal detector and the seal
// threshold set. Seal text never consults the text pipeline's thresholds.
func (p *Pipeline) recognizeSeal(ctx context.Context, crop image.Image) (layout.Content, error) {
	lines, err := p.ocrLines(ctx, crop, p.opts.SealDet, p.backend.DetectSealText, false)
	if err != nil {
		return nil, err
	}
	return joinLines(lines), nil
}

type detectFunc func(ctx context.Context, img image.Image, params infer.TextDetParams) ([]infer.DetBox, error)

// ocrLines runs detect-then-recognize inside a crop and returns the kept
// line results in reading order. The crop is scaled to the detection side
// limit before the detector sees it; line boxes come back in the scaled
// coordinates, so line crops are taken from the scaled image too.
func (p *Pipeline) ocrLines(ctx context.Context, crop image.Image, det DetOptions, detect detectFunc, orient bool) ([]infer.TextResult, error) {
	crop = utils.ResizeLimit(crop, det.LimitSideLen, det.LimitType)
	params := infer.TextDetParams{
		LimitSideLen: det.LimitSideLen,
		LimitType:    det.LimitType,
		Thresh:       det.Thresh,
		BoxThresh:    det.BoxThresh,
		UnclipRatio:  det.UnclipRatio,
	}
	boxes, err := detect(ctx, crop, params)
	if err != nil {
		return nil, fmt.Errorf("detect text lines: %w", err)
	}
	if len(boxes) == 0 {
		return nil, nil
	}

	// top-to-bottom, then left-to-right
	sort.SliceStable(boxes, func(i, j int) bool {
		if boxes[i].Box.MinY != boxes[j].Box.MinY {
			return boxes[i].Box.MinY < boxes[j].Box.MinY
		}
		return boxes[i].Box.MinX < boxes[j].Box.MinX
	})

	crops := make([]image.Image, 0, len(boxes))
	for _, b := range boxes {
		lc := utils.CropBox(crop, b.Box)
		if lc == nil {
			continue
		}
		if orient {
			res, err := p.backend.ClassifyTextLine(ctx, lc)
			if err != nil {
				return nil, fmt.Errorf("classify text line: %w", err)
			}
			if res.Angle == 180 {
				lc = utils.Rotate180(lc)
			}
		}
		crops = append(crops, lc)
	}
	if len(crops) == 0 {
		return nil, nil
	}

	results, err := p.backend.RecognizeText(ctx, crops)
	if err != nil {
		return nil, fmt.Errorf("recognize text: %w", err)
	}

	kept := results[:0]
	for _, r := range results {
		if r.Score >= det.RecScoreThresh && strings.TrimSpace(r.Text) != "" {
			kept = append(kept, r)
		}
	}
	return kept, nil
}

// joinLines merges recognized lines into one block. Adjacent CJK lines join
// without a separator; everything else joins with a space. The content score
// is the minimum line confidence.
func joinLines(lines []infer.TextResult) layout.TextContent {
	if len(lines) == 0 {
		return layout.TextContent{}
	}
	var b strings.Builder
	score := lines[0].Score
	for i, l := range lines {
		text := strings.TrimSpace(l.Text)
		if i > 0 {
			prev := []rune(b.String())
			next := []rune(text)
			if len(prev) > 0 && len(next) > 0 && isCJK(prev[len(prev)-1]) && isCJK(next[0]) {
				// no separator between CJK runes
			} else {
				b.WriteByte(' ')
			}
		}
		b.WriteString(text)
		if l.Score < score {
			score = l.Score
		}
	}
	return layout.TextContent{Text: b.String(), Score: score}
}

func isCJK(r rune) bool {
	return unicode.Is(unicode.Han, r) || unicode.Is(unicode.Hiragana, r) || unicode.Is(unicode.Katakana, r) || unicode.Is(unicode.Hangul, r)
}
