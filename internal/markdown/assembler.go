// Package markdown turns a page's pruned, recognized region set into a
// Markdown document fragment. Cross-page paragraph continuity is a
// stateless handshake: each page reports only its own boundary condition
// via IsStart/IsEnd, and Concatenate applies the pair when joining pages.
package markdown

import (
	"fmt"
	"sort"
	"strings"
	"unicode"

	htmltomarkdown "github.com/JohannesKaufmann/html-to-markdown/v2"
	"golang.org/x/text/width"

	"github.com/MeKo-Tech/pagelens/internal/layout"
)

// Result is the per-page markdown output.
type Result struct {
	Text    string
	Images  map[string][]byte // relative path -> image payload
	IsStart bool              // first textual element starts a paragraph
	IsEnd   bool              // last textual element ends a paragraph
}

// Options controls serialization.
type Options struct {
	// PreferMarkdownTables converts recognized table HTML into Markdown
	// tables instead of embedding the HTML fragment.
	PreferMarkdownTables bool
}

// rowOverlapThreshold groups regions into one visual row when their
// vertical extents overlap at least this much.
const rowOverlapThreshold = 0.5

// Assemble orders the page's regions into reading order and serializes
// them. pageIndex feeds relative image naming only.
func Assemble(regions []layout.Region, pageIndex int, opts Options) Result {
	ordered := ReadingOrder(regions)

	res := Result{Images: map[string][]byte{}, IsStart: true, IsEnd: true}
	var blocks []string
	var firstText, lastText *layout.Region

	for i := range ordered {
		r := &ordered[i]
		block, ok := renderRegion(r, pageIndex, opts, res.Images)
		if !ok {
			continue
		}
		blocks = append(blocks, block)
		if r.Kind.IsTextual() {
			if firstText == nil && len(blocks) == 1 {
				firstText = r
			}
			lastText = r
		} else {
			lastText = nil
		}
	}

	res.Text = strings.Join(blocks, "\n\n")
	if firstText != nil {
		res.IsStart = startsParagraph(textOf(firstText))
	}
	if lastText != nil {
		res.IsEnd = endsParagraph(textOf(lastText))
	}
	return res
}

// ReadingOrder sorts regions top-to-bottom, grouping vertically overlapping
// regions into rows read left-to-right. Identical positions fall back to
// detection order.
func ReadingOrder(regions []layout.Region) []layout.Region {
	out := append([]layout.Region(nil), regions...)
	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if overlapsVertically(a, b) {
			if a.Box.MinX != b.Box.MinX {
				return a.Box.MinX < b.Box.MinX
			}
			return a.Index < b.Index
		}
		if a.Box.MinY != b.Box.MinY {
			return a.Box.MinY < b.Box.MinY
		}
		if a.Box.MinX != b.Box.MinX {
			return a.Box.MinX < b.Box.MinX
		}
		return a.Index < b.Index
	})
	return out
}

func overlapsVertically(a, b layout.Region) bool {
	top := a.Box.MinY
	if b.Box.MinY > top {
		top = b.Box.MinY
	}
	bot := a.Box.MaxY
	if b.Box.MaxY < bot {
		bot = b.Box.MaxY
	}
	if bot <= top {
		return false
	}
	smaller := a.Box.Height()
	if b.Box.Height() < smaller {
		smaller = b.Box.Height()
	}
	if smaller <= 0 {
		return false
	}
	return (bot-top)/smaller >= rowOverlapThreshold
}

// renderRegion serializes one region. Headers, footers and page numbers are
// excluded from the markdown flow.
func renderRegion(r *layout.Region, pageIndex int, opts Options, images map[string][]byte) (string, bool) {
	switch r.Kind {
	case layout.KindHeader, layout.KindFooter, layout.KindNumber:
		return "", false
	}

	switch c := r.Content.(type) {
	case layout.TextContent:
		if strings.TrimSpace(c.Text) == "" {
			return "", false
		}
		switch r.Kind {
		case layout.KindDocTitle:
			return "# " + strings.TrimSpace(c.Text), true
		case layout.KindTitle:
			return "## " + strings.TrimSpace(c.Text), true
		case layout.KindSeal:
			return "*" + strings.TrimSpace(c.Text) + "*", true
		default:
			return strings.TrimSpace(c.Text), true
		}
	case layout.TableContent:
		if c.HTML == "" {
			return "", false
		}
		if opts.PreferMarkdownTables {
			if md, err := htmltomarkdown.ConvertString(c.HTML); err == nil && strings.TrimSpace(md) != "" {
				return strings.TrimSpace(md), true
			}
		}
		return c.HTML, true
	case layout.FormulaContent:
		if c.LaTeX == "" {
			return "", false
		}
		return "$$" + c.LaTeX + "$$", true
	case layout.ChartContent:
		if strings.TrimSpace(c.Table) == "" {
			return "", false
		}
		return strings.TrimSpace(c.Table), true
	case layout.ImageContent:
		if len(c.Data) == 0 {
			return "", false
		}
		path := c.Path
		if path == "" {
			path = fmt.Sprintf("imgs/img_in_%s_box_%d_%d.jpg", r.Kind, pageIndex, r.Index)
		}
		images[path] = c.Data
		return fmt.Sprintf("![](%s)", path), true
	default:
		return "", false
	}
}

func textOf(r *layout.Region) string {
	if c, ok := r.Content.(layout.TextContent); ok {
		return strings.TrimSpace(c.Text)
	}
	return ""
}

// terminalRunes end a paragraph; trailingClosers are stripped before the
// check so quoted or bracketed sentences still count as terminated.
const (
	terminalRunes  = ".!?。！？;；…:："
	trailingCloser = ")]}）】』」》\"'”’"
)

// endsParagraph reports whether text finishes a sentence.
func endsParagraph(text string) bool {
	trimmed := strings.TrimRight(text, trailingCloser)
	if trimmed == "" {
		return true
	}
	runes := []rune(trimmed)
	return strings.ContainsRune(terminalRunes, runes[len(runes)-1])
}

// startsParagraph reports whether text opens a fresh paragraph rather than
// continuing one. A lowercase Latin opener or a continuation punctuation
// mark signals mid-sentence text flowed from the previous page.
func startsParagraph(text string) bool {
	if text == "" {
		return true
	}
	r := []rune(text)[0]
	if unicode.IsLower(r) {
		return false
	}
	if strings.ContainsRune(",，、;；)）]】}", r) {
		return false
	}
	return true
}

// Concatenate joins per-page results into one continuous document. The
// paragraph break between page i and i+1 is dropped exactly when page i
// reports IsEnd=false and page i+1 reports IsStart=false; continued CJK
// prose joins without an inserted space.
func Concatenate(pages []Result) string {
	var b strings.Builder
	for i, p := range pages {
		text := strings.TrimSpace(p.Text)
		if text == "" {
			continue
		}
		if b.Len() > 0 {
			if i > 0 && !pages[i-1].IsEnd && !p.IsStart {
				b.WriteString(continuationJoiner(b.String(), text))
			} else {
				b.WriteString("\n\n")
			}
		}
		b.WriteString(text)
	}
	return b.String()
}

// continuationJoiner picks the separator for a mid-paragraph page break:
// nothing between CJK runes, one space otherwise.
func continuationJoiner(prev, next string) string {
	pr := []rune(prev)
	nr := []rune(next)
	if len(pr) == 0 || len(nr) == 0 {
		return " "
	}
	if isWide(pr[len(pr)-1]) && isWide(nr[0]) {
		return ""
	}
	return " "
}

func isWide(r rune) bool {
	switch width.LookupRune(r).Kind() {
	case width.EastAsianWide, width.EastAsianFullwidth:
		return true
	default:
		return false
	}
}
