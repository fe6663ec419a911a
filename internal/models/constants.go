package models

// metadata keys stored with every chunk
const (
	MetaSource     = "source"
	MetaChunkIndex = "chunk_index"
	MetaPage       = "page"
	MetaStartIndex = "start_index"
	MetaTitle      = "title"
)

const (
	ContextSeparator = "\n\n"
	ThinkTag         = `(?s)<think>.*?</think>`
	NotAvailable     = "N/A"
	UnknownSource    = "Unknown"

	RefusalSentence = "I cannot answer this question based on the provided documentation."

	// placeholders returned when the LLM response does not have the expected shape
	NoResponsePlaceholder  = "No response from LLM."
	NoTextPlaceholder      = "No text content found."
	UnparseablePlaceholder = "Error: Could not parse LLM response."
)

var (
	PromptTemplate = `You are a helpful AI assistant specialized in answering questions based on provided documentation.
Answer the following question based ONLY on the context provided below.
If the answer cannot be found in the context, respond with "` + RefusalSentence + `"
Do not make up information.

Context:
%s

Question: %s

Answer:
`
)
