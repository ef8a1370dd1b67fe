package chunker

import (
	"fmt"
	"strings"

	"github.com/pkoukk/tiktoken-go"
	tiktoken_loader "github.com/pkoukk/tiktoken-go-loader"

	"report-rag/internal/models"
)

// Tokenizer splits text into tokens and joins them back. The same tokenizer
// enforces chunk size and reports TokenCount.
type Tokenizer interface {
	Name() string
	Split(text string) []string
	Join(tokens []string) string
}

// Word counts whitespace separated words.
type Word struct{}

func (Word) Name() string { return "word" }

func (Word) Split(text string) []string { return strings.Fields(text) }

func (Word) Join(tokens []string) string { return strings.Join(tokens, " ") }

// Tiktoken counts BPE tokens of an OpenAI encoding. Each token keeps its
// decoded bytes, so joining a run of tokens reproduces the original text.
// A multibyte character may span several tokens; a token that continues a
// character starts with a UTF-8 continuation byte and the chunker never
// cuts a window in front of it.
type Tiktoken struct {
	encoding string
	enc      *tiktoken.Tiktoken
}

// NewTiktoken loads the named encoding, e.g. "cl100k_base".
func NewTiktoken(encoding string) (*Tiktoken, error) {
	enc, err := tiktoken.GetEncoding(encoding)
	if err != nil {
		return nil, fmt.Errorf("%w: load tiktoken encoding %q: %v", models.ErrConfiguration, encoding, err)
	}
	return &Tiktoken{encoding: encoding, enc: enc}, nil
}

func (t *Tiktoken) Name() string { return "tiktoken/" + t.encoding }

func (t *Tiktoken) Split(text string) []string {
	ids := t.enc.EncodeOrdinary(strings.TrimSpace(text))
	pieces := make([]string, len(ids))
	for i, id := range ids {
		pieces[i] = t.enc.Decode([]int{id})
	}
	return pieces
}

func (t *Tiktoken) Join(tokens []string) string {
	return strings.TrimSpace(strings.Join(tokens, ""))
}

// UseOfflineEncodings makes tiktoken read encodings from the ranks embedded
// in tiktoken-go-loader instead of downloading them.
func UseOfflineEncodings() {
	tiktoken.SetBpeLoader(tiktoken_loader.NewOfflineLoader())
}

// NewTokenizer builds a tokenizer by name ("word" or "tiktoken").
func NewTokenizer(name, encoding string, offline bool) (Tokenizer, error) {
	switch name {
	case "", "word":
		return Word{}, nil
	case "tiktoken":
		if encoding == "" {
			encoding = "cl100k_base"
		}
		if offline {
			UseOfflineEncodings()
		}
		return NewTiktoken(encoding)
	default:
		return nil, fmt.Errorf("%w: unknown tokenizer %q", models.ErrConfiguration, name)
	}
}
