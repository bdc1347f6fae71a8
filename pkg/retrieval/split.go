package retrieval

import "strings"

// Default chunking used when building the local index.
const (
	DefaultChunkSize    = 1000
	DefaultChunkOverlap = 150
)

// separators are tried in order when choosing where a chunk ends.
var separators = []string{"\n\n", "\n", " "}

// Split cuts text into chunks of at most size runes, each starting overlap
// runes before the previous one ended. Chunk ends snap back to the nearest
// paragraph, line or word boundary in the second half of the window.
func Split(text string, size, overlap int) []string {
	if size <= 0 {
		size = DefaultChunkSize
	}
	if overlap < 0 || overlap >= size {
		overlap = 0
	}

	runes := []rune(text)
	var chunks []string

	for start := 0; start < len(runes); {
		end := start + size
		if end >= len(runes) {
			end = len(runes)
		} else {
			end = snapToBoundary(runes, start, end)
		}

		if chunk := strings.TrimSpace(string(runes[start:end])); chunk != "" {
			chunks = append(chunks, chunk)
		}
		if end == len(runes) {
			break
		}

		next := end - overlap
		if next <= start {
			next = end
		}
		start = next
	}

	return chunks
}

func snapToBoundary(runes []rune, start, end int) int {
	window := string(runes[start:end])
	minEnd := (end - start) / 2
	for _, sep := range separators {
		idx := strings.LastIndex(window, sep)
		if idx < 0 {
			continue
		}
		cut := len([]rune(window[:idx])) + len([]rune(sep))
		if cut >= minEnd {
			return start + cut
		}
	}
	return end
}
