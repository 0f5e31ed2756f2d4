package ingestion

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChunkText_WindowOffsets(t *testing.T) {
	text := strings.Repeat("a", 1200)

	chunks, err := ChunkText(text, 512, 50)
	require.NoError(t, err)
	require.Len(t, chunks, 3)

	assert.Equal(t, 0, chunks[0].Offset)
	assert.Equal(t, 462, chunks[1].Offset)
	assert.Equal(t, 924, chunks[2].Offset)

	assert.Len(t, chunks[0].Text, 512)
	assert.Len(t, chunks[1].Text, 512)
	assert.Len(t, chunks[2].Text, 276)

	for i, c := range chunks {
		assert.Equal(t, i, c.Index)
	}
}

func TestChunkText_Deterministic(t *testing.T) {
	text := strings.Repeat("the quick brown fox jumps over the lazy dog. ", 40)

	first, err := ChunkText(text, 100, 20)
	require.NoError(t, err)
	second, err := ChunkText(text, 100, 20)
	require.NoError(t, err)

	assert.Equal(t, first, second)
}

func TestChunkText_ShortInput(t *testing.T) {
	chunks, err := ChunkText("tiny", 512, 50)
	require.NoError(t, err)
	require.Len(t, chunks, 1)
	assert.Equal(t, "tiny", chunks[0].Text)
	assert.Equal(t, 0, chunks[0].Offset)
}

func TestChunkText_EmptyInput(t *testing.T) {
	chunks, err := ChunkText("", 512, 50)
	require.NoError(t, err)
	assert.Empty(t, chunks)
}

func TestChunkText_BadConfig(t *testing.T) {
	_, err := ChunkText("some text", 50, 50)
	assert.ErrorIs(t, err, ErrBadChunkConfig)

	_, err = ChunkText("some text", 50, 100)
	assert.ErrorIs(t, err, ErrBadChunkConfig)

	_, err = ChunkText("some text", 0, 0)
	assert.ErrorIs(t, err, ErrBadChunkConfig)

	_, err = ChunkText("some text", 50, -1)
	assert.ErrorIs(t, err, ErrBadChunkConfig)
}

func TestChunkText_NoZeroLengthRemainder(t *testing.T) {
	// Text length is an exact multiple of the step; the loop must not emit
	// a trailing empty chunk.
	text := strings.Repeat("x", 100)
	chunks, err := ChunkText(text, 100, 0)
	require.NoError(t, err)
	require.Len(t, chunks, 1)
}

func TestChunkText_HeadingAttribution(t *testing.T) {
	text := "# Intro\n" +
		strings.Repeat("i", 100) + "\n" +
		"## Details\n" +
		strings.Repeat("d", 100) + "\n"

	chunks, err := ChunkText(text, 60, 10)
	require.NoError(t, err)
	require.NotEmpty(t, chunks)

	assert.Equal(t, "Intro", chunks[0].Heading)
	last := chunks[len(chunks)-1]
	assert.Equal(t, "Details", last.Heading)

	// A chunk that starts after a heading inherits it even when the heading
	// text itself landed in an earlier chunk.
	for _, c := range chunks {
		if c.Offset > 0 {
			assert.NotEmpty(t, c.Heading)
		}
	}
}

func TestParseFrontMatter(t *testing.T) {
	text := "---\ntitle: Design Notes\nauthor: me\n---\n# Body\ncontent here"

	meta, body := ParseFrontMatter(text)
	require.NotNil(t, meta)
	assert.Equal(t, "Design Notes", meta["title"])
	assert.Equal(t, "me", meta["author"])
	assert.Equal(t, "# Body\ncontent here", body)
}

func TestParseFrontMatter_QuotedValues(t *testing.T) {
	meta, _ := ParseFrontMatter("---\ntitle: \"Quoted Title\"\n---\nbody")
	require.NotNil(t, meta)
	assert.Equal(t, "Quoted Title", meta["title"])
}

func TestParseFrontMatter_Absent(t *testing.T) {
	text := "just a plain document"
	meta, body := ParseFrontMatter(text)
	assert.Nil(t, meta)
	assert.Equal(t, text, body)
}

func TestParseFrontMatter_UnterminatedFence(t *testing.T) {
	text := "---\ntitle: broken\nno closing fence"
	meta, body := ParseFrontMatter(text)
	assert.Nil(t, meta)
	assert.Equal(t, text, body)
}

func TestParseFrontMatter_StrippedFromChunks(t *testing.T) {
	text := "---\ntitle: t\n---\n" + strings.Repeat("b", 200)

	meta, body := ParseFrontMatter(text)
	require.NotNil(t, meta)

	chunks, err := ChunkText(body, 100, 0)
	require.NoError(t, err)
	for _, c := range chunks {
		assert.NotContains(t, c.Text, "title:")
	}
}
