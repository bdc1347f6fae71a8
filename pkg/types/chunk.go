package types

// ContextChunk is a passage of reference documentation returned by the
// retrieval index. Slices of chunks are ordered by relevance rank.
type ContextChunk struct {
	Text   string  `json:"text"`
	Source string  `json:"source,omitempty"`
	Score  float64 `json:"score,omitempty"`
}
