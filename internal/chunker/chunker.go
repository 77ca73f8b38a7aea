// Package chunker splits document text into overlapping segments on paragraph
// and sentence boundaries.
package chunker

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

// DefaultChunkSize is the default maximum number of characters per chunk.
const DefaultChunkSize = 512

// DefaultChunkOverlap is the default number of characters carried over
// from the end of one chunk into the start of the next.
const DefaultChunkOverlap = 50

const paragraphSeparator = "\n\n"

var (
	paragraphBreak = regexp.MustCompile(`\n\n+`)
	sentenceEnd    = regexp.MustCompile(`[^.!?]+[.!?]+\s*`)
)

// Piece is one chunk of text and its position in the document.
type Piece struct {
	Content string `json:"content"`
	Index   int    `json:"chunk_index"`
}

// Chunker splits text into pieces. Lengths are measured in characters (runes).
type Chunker struct {
	chunkSize int
	overlap   int
}

// Option configures the chunker.
type Option func(*Chunker)

// WithChunkSize sets the chunk size in characters.
func WithChunkSize(size int) Option {
	return func(c *Chunker) {
		if size > 0 {
			c.chunkSize = size
		}
	}
}

// WithOverlap sets the overlap between chunks in characters.
func WithOverlap(overlap int) Option {
	return func(c *Chunker) {
		if overlap >= 0 {
			c.overlap = overlap
		}
	}
}

// New creates a chunker with the given options.
func New(opts ...Option) *Chunker {
	c := &Chunker{
		chunkSize: DefaultChunkSize,
		overlap:   DefaultChunkOverlap,
	}
	for _, opt := range opts {
		opt(c)
	}

	// Ensure overlap doesn't exceed chunk size
	if c.overlap >= c.chunkSize {
		c.overlap = c.chunkSize / 4
	}
	return c
}

// Split breaks text into chunks. Paragraphs are packed together while they
// fit; a paragraph that alone exceeds the chunk size is packed sentence by
// sentence instead. Each new chunk starts with the tail of the previous one.
func (c *Chunker) Split(text string) []Piece {
	var pieces []Piece
	emit := func(s string) {
		if s = strings.TrimSpace(s); s != "" {
			pieces = append(pieces, Piece{Content: s, Index: len(pieces)})
		}
	}

	current := ""
	for _, paragraph := range paragraphBreak.Split(text, -1) {
		if strings.TrimSpace(paragraph) == "" {
			continue
		}

		switch {
		case current != "" && runeLen(current)+runeLen(paragraph)+len(paragraphSeparator) > c.chunkSize:
			emit(current)
			if c.overlap > 0 && runeLen(current) > c.overlap {
				current = tail(current, c.overlap) + paragraphSeparator + paragraph
			} else {
				current = paragraph
			}

		case current == "" && runeLen(paragraph) > c.chunkSize:
			current = c.packSentences(paragraph, emit)

		case current == "":
			current = paragraph

		default:
			current += paragraphSeparator + paragraph
		}
	}

	emit(current)
	return pieces
}

// packSentences emits full chunks of sentences and returns the unfinished
// remainder so the caller can keep adding paragraphs to it.
func (c *Chunker) packSentences(paragraph string, emit func(string)) string {
	acc := ""
	for _, sentence := range sentences(paragraph) {
		if acc != "" && runeLen(acc)+runeLen(sentence) > c.chunkSize {
			emit(acc)
			if c.overlap > 0 && runeLen(acc) > c.overlap {
				acc = tail(acc, c.overlap) + sentence
			} else {
				acc = sentence
			}
			continue
		}
		acc += sentence
	}
	return acc
}

// sentences splits text after terminal punctuation. Text between matches and
// an unterminated trailing fragment are kept so no characters are lost.
func sentences(text string) []string {
	bounds := sentenceEnd.FindAllStringIndex(text, -1)
	if len(bounds) == 0 {
		return []string{text}
	}

	out := make([]string, 0, len(bounds)+1)
	start := 0
	for _, b := range bounds {
		out = append(out, text[start:b[1]])
		start = b[1]
	}
	if start < len(text) {
		out = append(out, text[start:])
	}
	return out
}

func runeLen(s string) int {
	return utf8.RuneCountInString(s)
}

// tail returns the last n characters of s
func tail(s string, n int) string {
	if n <= 0 {
		return ""
	}
	count := 0
	for i := len(s); i > 0; {
		_, size := utf8.DecodeLastRuneInString(s[:i])
		i -= size
		count++
		if count == n {
			return s[i:]
		}
	}
	return s
}
