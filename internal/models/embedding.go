package models

// Unit is a piece of loaded document text with its metadata: one per PDF page,
// sheet or slide, and exactly one for plain text files.
type Unit struct {
	Content  string
	Metadata map[string]string
}

// Chunk represents a parsed chunk with metadata
type Chunk struct {
	ID       string
	Content  string
	Metadata map[string]string
}

// Hit is a chunk returned by a similarity search. Distance is 1 - cosine
// similarity, so smaller is nearer.
type Hit struct {
	ID       string
	Content  string
	Metadata map[string]string
	Distance float32
}

// Source describes one retrieved chunk in an answer. ChunkIndex and Page hold
// an int when known and NotAvailable otherwise.
type Source struct {
	Content    string `json:"content"`
	Source     string `json:"source"`
	ChunkIndex any    `json:"chunk_index"`
	Page       any    `json:"page"`
}

type QueryResponse struct {
	Answer              string   `json:"answer"`
	Sources             []Source `json:"sources"`
	RetrievedChunkCount int      `json:"retrieved_chunk_count"`
	Degraded            bool     `json:"degraded"`
}
