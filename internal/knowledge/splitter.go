package knowledge

import "strings"

const (
	// DefaultChunkSize and DefaultChunkOverlap match the ingestion settings
	// the clinic documents were tuned for.
	DefaultChunkSize    = 1000
	DefaultChunkOverlap = 200
)

// SplitText cuts text into overlapping chunks of at most size runes.
// Whitespace-only chunks are dropped.
func SplitText(text string, size, overlap int) []string {
	if size <= 0 {
		size = DefaultChunkSize
	}
	if overlap < 0 || overlap >= size {
		overlap = DefaultChunkOverlap
		if overlap >= size {
			overlap = size / 5
		}
	}

	runes := []rune(text)
	var chunks []string
	step := size - overlap
	for start := 0; start < len(runes); start += step {
		end := start + size
		if end > len(runes) {
			end = len(runes)
		}
		chunk := strings.TrimSpace(string(runes[start:end]))
		if chunk != "" {
			chunks = append(chunks, chunk)
		}
		if end == len(runes) {
			break
		}
	}
	return chunks
}
