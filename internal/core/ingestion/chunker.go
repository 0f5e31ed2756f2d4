package ingestion

import (
	"strings"
)

// Chunk is a bounded slice of a document's body text, the unit of embedding
// and retrieval.
//
// Index:   stable, zero-based position of the chunk inside the document.
// Offset:  rune offset of the chunk start in the body text.
// Text:    the literal chunk content.
// Heading: the nearest markdown heading at or before Offset, if any.
type Chunk struct {
	Index   int
	Offset  int
	Text    string
	Heading string
}

// ChunkText splits body text into a deterministic sequence of overlapping
// windows. Chunk i starts at rune offset i*(size-overlap) and spans at most
// size runes; the final chunk may be shorter and nothing is emitted for a
// zero-length remainder. Identical input and configuration always yield the
// identical sequence.
func ChunkText(text string, size, overlap int) ([]Chunk, error) {
	if size <= 0 || overlap < 0 || overlap >= size {
		return nil, ErrBadChunkConfig
	}

	runes := []rune(text)
	if len(runes) == 0 {
		return nil, nil
	}

	marks := headingIndex(text)
	step := size - overlap

	var out []Chunk
	for off, idx := 0, 0; off < len(runes); off, idx = off+step, idx+1 {
		end := off + size
		if end > len(runes) {
			end = len(runes)
		}
		out = append(out, Chunk{
			Index:   idx,
			Offset:  off,
			Text:    string(runes[off:end]),
			Heading: nearestHeading(marks, off),
		})
		if end == len(runes) {
			break
		}
	}
	return out, nil
}

// ParseFrontMatter strips a leading `---` fenced key: value block from the
// text and returns it as document metadata plus the remaining body. Text
// without a complete fence is returned unchanged with nil metadata.
func ParseFrontMatter(text string) (map[string]string, string) {
	lines := strings.Split(text, "\n")
	if len(lines) == 0 || strings.TrimSpace(lines[0]) != "---" {
		return nil, text
	}

	end := -1
	for i := 1; i < len(lines); i++ {
		if strings.TrimSpace(lines[i]) == "---" {
			end = i
			break
		}
	}
	if end == -1 {
		// Unterminated fence; treat the whole text as body.
		return nil, text
	}

	meta := make(map[string]string)
	for _, line := range lines[1:end] {
		k, v, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		k = strings.TrimSpace(k)
		v = strings.Trim(strings.TrimSpace(v), `"'`)
		if k != "" {
			meta[k] = v
		}
	}
	if len(meta) == 0 {
		meta = nil
	}

	body := strings.TrimLeft(strings.Join(lines[end+1:], "\n"), "\n")
	return meta, body
}

type headingMark struct {
	offset int
	title  string
}

// headingIndex records the rune offset and title of every markdown heading
// line, in document order.
func headingIndex(text string) []headingMark {
	var marks []headingMark
	off := 0
	for _, line := range strings.Split(text, "\n") {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "#") {
			title := strings.TrimSpace(strings.TrimLeft(trimmed, "#"))
			if title != "" {
				marks = append(marks, headingMark{offset: off, title: title})
			}
		}
		off += len([]rune(line)) + 1 // +1 for the newline
	}
	return marks
}

// nearestHeading returns the title of the last heading at or before the
// given offset, so a chunk can be attributed to its section even when the
// heading itself sits in an earlier chunk.
func nearestHeading(marks []headingMark, offset int) string {
	title := ""
	for _, m := range marks {
		if m.offset > offset {
			break
		}
		title = m.title
	}
	return title
}
