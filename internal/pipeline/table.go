package pipeline

import (
	"context"
	"fmt"
	"html"
	"image"
	"sort"
	"strings"

	"github.com/MeKo-Tech/pagelens/internal/layout"
	"github.com/MeKo-Tech/pagelens/internal/utils"
)

// cellRowOverlap groups detected cells into one table row when their
// vertical extents overlap at least this much.
const cellRowOverlap = 0.5

// recognizeTable runs the table sub-pipeline on a table crop: optional
// orientation correction, wired/wireless classification, then either the
// end-to-end structure model or the cell-detection path.
func (p *Pipeline) recognizeTable(ctx context.Context, crop image.Image, pageBox utils.Box) (layout.Content, error) {
	if p.opts.UseTableOrientationClassify {
		res, err := p.backend.ClassifyTableOrientation(ctx, crop)
		if err != nil {
			return nil, fmt.Errorf("classify table orientation: %w", err)
		}
		crop = correctRotation(crop, res.Angle)
	}

	cls, err := p.backend.ClassifyTable(ctx, crop)
	if err != nil {
		return nil, fmt.Errorf("classify table: %w", err)
	}

	e2e := p.opts.UseE2eWirelessTableRecModel
	cellsToHTML := p.opts.UseWirelessTableCellsTransToHtml
	if cls.Wired {
		e2e = p.opts.UseE2eWiredTableRecModel
		cellsToHTML = p.opts.UseWiredTableCellsTransToHtml
	}

	// The cell-detection path serves both the explicit cells-to-HTML request
	// and tables whose end-to-end model is switched off.
	if cellsToHTML || !e2e {
		return p.tableFromCells(ctx, crop, pageBox, cls.Wired)
	}
	return p.tableFromStructure(ctx, crop, cls.Wired)
}

// tableFromStructure runs the end-to-end structure model and, when cell
// geometry came back, substitutes OCR text into the empty cells.
func (p *Pipeline) tableFromStructure(ctx context.Context, crop image.Image, wired bool) (layout.Content, error) {
	structure, err := p.backend.RecognizeTableStructure(ctx, crop, wired)
	if err != nil {
		return nil, fmt.Errorf("recognize table structure: %w", err)
	}
	htmlOut := structure.HTML
	if p.opts.UseOcrResultsWithTableCells && len(structure.CellBoxes) > 0 {
		texts, err := p.ocrCells(ctx, crop, structure.CellBoxes)
		if err != nil {
			return nil, err
		}
		htmlOut = fillCells(htmlOut, texts)
	}
	return layout.TableContent{HTML: htmlOut}, nil
}

// tableFromCells detects cell boxes, groups them into rows, and builds the
// HTML fragment directly.
func (p *Pipeline) tableFromCells(ctx context.Context, crop image.Image, pageBox utils.Box, wired bool) (layout.Content, error) {
	cells, err := p.backend.DetectTableCells(ctx, crop, wired)
	if err != nil {
		return nil, fmt.Errorf("detect table cells: %w", err)
	}
	if len(cells) == 0 {
		return layout.TableContent{}, nil
	}

	boxes := make([]utils.Box, len(cells))
	for i, c := range cells {
		boxes[i] = c.Box
	}
	var texts []string
	if p.opts.UseOcrResultsWithTableCells {
		texts, err = p.ocrCells(ctx, crop, boxes)
		if err != nil {
			return nil, err
		}
	}

	rows := groupCellRows(boxes)
	var b strings.Builder
	b.WriteString("<table>")
	for _, row := range rows {
		b.WriteString("<tr>")
		for _, idx := range row {
			b.WriteString("<td>")
			if idx < len(texts) {
				b.WriteString(html.EscapeString(texts[idx]))
			}
			b.WriteString("</td>")
		}
		b.WriteString("</tr>")
	}
	b.WriteString("</table>")

	// cell geometry is reported in page coordinates
	pageCells := make([]utils.Box, len(boxes))
	for i, box := range boxes {
		pageCells[i] = utils.NewBox(
			box.MinX+pageBox.MinX, box.MinY+pageBox.MinY,
			box.MaxX+pageBox.MinX, box.MaxY+pageBox.MinY,
		)
	}
	return layout.TableContent{HTML: b.String(), CellBoxes: pageCells}, nil
}

// ocrCells recognizes the text of each cell crop with the text pipeline's
// threshold set. Cells without recognizable text yield an empty string.
func (p *Pipeline) ocrCells(ctx context.Context, crop image.Image, cells []utils.Box) ([]string, error) {
	texts := make([]string, len(cells))
	crops := make([]image.Image, 0, len(cells))
	cropIdx := make([]int, 0, len(cells))
	for i, box := range cells {
		cc := utils.CropBox(crop, box)
		if cc == nil {
			continue
		}
		crops = append(crops, cc)
		cropIdx = append(cropIdx, i)
	}
	if len(crops) == 0 {
		return texts, nil
	}
	results, err := p.backend.RecognizeText(ctx, crops)
	if err != nil {
		return nil, fmt.Errorf("recognize cell text: %w", err)
	}
	for i, r := range results {
		if r.Score >= p.opts.TextDet.RecScoreThresh {
			texts[cropIdx[i]] = strings.TrimSpace(r.Text)
		}
	}
	return texts, nil
}

// groupCellRows orders cell indices into rows by vertical overlap, each row
// left-to-right.
func groupCellRows(boxes []utils.Box) [][]int {
	order := make([]int, len(boxes))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		return boxes[order[a]].MinY < boxes[order[b]].MinY
	})

	var rows [][]int
	for _, idx := range order {
		placed := false
		for r := range rows {
			anchor := boxes[rows[r][0]]
			if utils.VerticalOverlap(anchor, boxes[idx]) >= cellRowOverlap {
				rows[r] = append(rows[r], idx)
				placed = true
				break
			}
		}
		if !placed {
			rows = append(rows, []int{idx})
		}
	}
	for r := range rows {
		sort.SliceStable(rows[r], func(a, b int) bool {
			return boxes[rows[r][a]].MinX < boxes[rows[r][b]].MinX
		})
	}
	return rows
}

// fillCells substitutes texts into the structure model's empty <td> slots in
// order. Cells beyond the available texts stay empty.
func fillCells(htmlIn string, texts []string) string {
	var b strings.Builder
	rest := htmlIn
	i := 0
	for {
		pos := strings.Index(rest, "<td></td>")
		if pos < 0 || i >= len(texts) {
			b.WriteString(rest)
			return b.String()
		}
		b.WriteString(rest[:pos])
		b.WriteString("<td>")
		b.WriteString(html.EscapeString(texts[i]))
		b.WriteString("</td>")
		rest = rest[pos+len("<td></td>"):]
		i++
	}
}
