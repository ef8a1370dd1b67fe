// Package chunker splits document text into overlapping, token bounded segments.
package chunker

import (
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"

	"report-rag/internal/models"
)

var paragraphSplit = regexp.MustCompile(`\n[ \t\r]*\n`)

type Settings struct {
	MaxTokens          int
	OverlapTokens      int
	PreserveParagraphs bool
}

// Segment is one chunk of a document. StartToken and EndToken index the
// document's token stream; Page is 1-based and zero when the text has no
// page breaks.
type Segment struct {
	Index      int
	Text       string
	TokenCount int
	StartToken int
	EndToken   int
	Page       int
}

type Chunker struct {
	settings  Settings
	tokenizer Tokenizer
}

func New(settings Settings, tokenizer Tokenizer) (*Chunker, error) {
	if settings.MaxTokens <= 0 {
		return nil, fmt.Errorf("%w: max tokens must be greater than zero, got %d", models.ErrConfiguration, settings.MaxTokens)
	}
	if settings.OverlapTokens < 0 {
		return nil, fmt.Errorf("%w: overlap tokens cannot be negative, got %d", models.ErrConfiguration, settings.OverlapTokens)
	}
	if settings.OverlapTokens >= settings.MaxTokens {
		return nil, fmt.Errorf("%w: overlap tokens (%d) must be smaller than max tokens (%d)",
			models.ErrConfiguration, settings.OverlapTokens, settings.MaxTokens)
	}
	if tokenizer == nil {
		tokenizer = Word{}
	}
	return &Chunker{settings: settings, tokenizer: tokenizer}, nil
}

func (c *Chunker) Settings() Settings { return c.settings }

func (c *Chunker) Tokenizer() Tokenizer { return c.tokenizer }

// stream is the flattened token sequence of a document. unit[i] identifies
// the paragraph (or page, when paragraphs are not preserved) token i belongs to.
type stream struct {
	tokens []string
	unit   []int
	page   []int
}

func (c *Chunker) tokenize(text string) stream {
	var s stream
	pages := strings.Split(text, models.PageBreak)
	unit := 0
	for p, pageText := range pages {
		blocks := []string{pageText}
		if c.settings.PreserveParagraphs {
			blocks = paragraphSplit.Split(pageText, -1)
		}
		for _, block := range blocks {
			if strings.TrimSpace(block) == "" {
				continue
			}
			toks := c.tokenizer.Split(block)
			if len(toks) == 0 {
				continue
			}
			for _, tok := range toks {
				s.tokens = append(s.tokens, tok)
				s.unit = append(s.unit, unit)
				s.page = append(s.page, p+1)
			}
			unit++
		}
	}
	return s
}

// Chunk splits text into segments of at most MaxTokens tokens. Each segment
// after the first starts with the last OverlapTokens tokens of its
// predecessor. With PreserveParagraphs the window is cut at the last
// paragraph boundary that fits; a paragraph longer than MaxTokens is cut on
// token boundaries. Window edges never split a multibyte character, so the
// overlap may come out shorter than OverlapTokens when an exact cut would
// split one.
func (c *Chunker) Chunk(text string) []Segment {
	s := c.tokenize(text)
	n := len(s.tokens)
	if n == 0 {
		return nil
	}
	hasPages := strings.Contains(text, models.PageBreak)
	maxTokens, overlap := c.settings.MaxTokens, c.settings.OverlapTokens

	var segments []Segment
	start := 0
	for {
		limit := min(start+maxTokens, n)
		end := limit
		if limit < n && c.settings.PreserveParagraphs {
			if b := s.lastBoundary(start+overlap, limit); b > 0 {
				end = b
			}
		}
		if end < n && !s.runeStart(end) {
			end = s.snapEnd(start, end)
		}

		seg := Segment{
			Index:      len(segments),
			Text:       c.render(s, start, end),
			TokenCount: end - start,
			StartToken: start,
			EndToken:   end,
		}
		if hasPages {
			seg.Page = s.page[start]
		}
		segments = append(segments, seg)

		if end == n {
			break
		}
		next := max(end-overlap, start+1)
		for !s.runeStart(next) {
			next++
		}
		start = next
	}
	return segments
}

// runeStart reports whether token i begins a character, i.e. whether a
// window may start or end at i without splitting one.
func (s stream) runeStart(i int) bool {
	if i <= 0 || i >= len(s.tokens) || s.tokens[i] == "" {
		return true
	}
	return utf8.RuneStart(s.tokens[i][0])
}

// snapEnd moves a window end that would split a character back to the
// closest earlier character start after start. When the whole window sits
// inside one character the end moves forward past it.
func (s stream) snapEnd(start, end int) int {
	for b := end - 1; b > start; b-- {
		if s.runeStart(b) {
			return b
		}
	}
	for end < len(s.tokens) && !s.runeStart(end) {
		end++
	}
	return end
}

// lastBoundary returns the largest b with lo < b <= hi where a new unit
// starts at token b, or 0 when there is none.
func (s stream) lastBoundary(lo, hi int) int {
	for b := hi; b > lo; b-- {
		if b < len(s.unit) && s.unit[b] != s.unit[b-1] {
			return b
		}
	}
	return 0
}

func (c *Chunker) render(s stream, start, end int) string {
	var parts []string
	from := start
	for i := start + 1; i <= end; i++ {
		if i == end || s.unit[i] != s.unit[i-1] {
			parts = append(parts, c.tokenizer.Join(s.tokens[from:i]))
			from = i
		}
	}
	return strings.Join(parts, models.ParagraphSeparator)
}
