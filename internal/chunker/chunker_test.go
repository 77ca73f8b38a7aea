package chunker

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func TestSplit_EmptyInput(t *testing.T) {
	assert.Empty(t, New().Split(""))
	assert.Empty(t, New().Split("\n\n   \n\n"))
}

func TestSplit_ShortTextIsSingleChunk(t *testing.T) {
	pieces := New().Split("Hello world")
	require.Len(t, pieces, 1)
	assert.Equal(t, Piece{Content: "Hello world", Index: 0}, pieces[0])
}

func TestSplit_MergesShortParagraphs(t *testing.T) {
	pieces := New().Split("First paragraph.\n\nSecond paragraph.")
	require.Len(t, pieces, 1)
	assert.Equal(t, "First paragraph.\n\nSecond paragraph.", pieces[0].Content)
}

func TestSplit_OverlapCarriesTailOfPreviousChunk(t *testing.T) {
	text := strings.Repeat("A", 300) + "\n\n" + strings.Repeat("B", 300)
	pieces := New(WithChunkSize(400), WithOverlap(50)).Split(text)

	require.Len(t, pieces, 2)
	assert.Equal(t, strings.Repeat("A", 300), pieces[0].Content)
	assert.True(t, strings.HasPrefix(pieces[1].Content, strings.Repeat("A", 50)+"\n\n"+"B"))
	assert.True(t, strings.HasPrefix(pieces[1].Content, pieces[0].Content[len(pieces[0].Content)-50:]))
}

func TestSplit_NoOverlap(t *testing.T) {
	text := strings.Repeat("X", 100) + "\n\n" + strings.Repeat("Y", 100)
	pieces := New(WithChunkSize(120), WithOverlap(0)).Split(text)

	require.Len(t, pieces, 2)
	assert.Equal(t, strings.Repeat("Y", 100), pieces[1].Content)
}

func TestSplit_LongParagraphSplitsOnSentences(t *testing.T) {
	var sentences []string
	for i := 0; i < 20; i++ {
		sentences = append(sentences, "Sentence number "+strings.Repeat("x", i%5)+" is here.")
	}
	text := strings.Join(sentences, " ")

	pieces := New(WithChunkSize(100), WithOverlap(0)).Split(text)
	require.Greater(t, len(pieces), 1)
	for _, p := range pieces {
		assert.True(t, strings.HasSuffix(p.Content, "."), "chunk should end on a sentence boundary: %q", p.Content)
		assert.LessOrEqual(t, len(p.Content), 100)
	}
}

func TestSplit_KeepsUnterminatedTrailingSentence(t *testing.T) {
	text := strings.Repeat("Short one. ", 10) + "and a dangling tail without a period"
	pieces := New(WithChunkSize(60), WithOverlap(0)).Split(text)

	last := pieces[len(pieces)-1].Content
	assert.True(t, strings.HasSuffix(last, "dangling tail without a period"))
}

func TestSplit_MeasuresCharactersNotBytes(t *testing.T) {
	// 100 three-byte runes fit in a 120-character chunk even though they are 300 bytes
	text := strings.Repeat("語", 100)
	pieces := New(WithChunkSize(120)).Split(text)
	require.Len(t, pieces, 1)

	pieces = New(WithChunkSize(150), WithOverlap(10)).Split(strings.Repeat("é", 100) + "\n\n" + strings.Repeat("ü", 100))
	require.Len(t, pieces, 2)
	assert.True(t, strings.HasPrefix(pieces[1].Content, strings.Repeat("é", 10)+"\n\n"))
}

func TestNew_ClampsOverlap(t *testing.T) {
	c := New(WithChunkSize(100), WithOverlap(100))
	assert.Equal(t, 25, c.overlap)
}

func TestProperty_IndicesContiguousAndParagraphsPreserved(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		size := rapid.IntRange(80, 300).Draw(rt, "size")
		overlap := rapid.IntRange(0, 60).Draw(rt, "overlap")
		paragraphs := rapid.SliceOfN(rapid.StringMatching(`[a-z .!?]{1,80}`), 0, 20).Draw(rt, "paragraphs")

		pieces := New(WithChunkSize(size), WithOverlap(overlap)).Split(strings.Join(paragraphs, "\n\n"))

		for i, p := range pieces {
			if p.Index != i {
				rt.Fatalf("PROPERTY VIOLATION: chunk %d has index %d", i, p.Index)
			}
			if p.Content == "" || p.Content != strings.TrimSpace(p.Content) {
				rt.Fatalf("PROPERTY VIOLATION: chunk %d is empty or untrimmed: %q", i, p.Content)
			}
		}

		for _, para := range paragraphs {
			want := strings.TrimSpace(para)
			if want == "" {
				continue
			}
			found := false
			for _, p := range pieces {
				if strings.Contains(p.Content, want) {
					found = true
					break
				}
			}
			if !found {
				rt.Fatalf("PROPERTY VIOLATION: paragraph %q missing from all chunks", want)
			}
		}
	})
}

func TestHash(t *testing.T) {
	assert.Equal(t, "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855", HashBytes(nil))
	assert.Equal(t, HashBytes([]byte("hello")), HashString("hello"))
	assert.Len(t, HashString("anything"), 64)
}
