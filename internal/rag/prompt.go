package rag

import (
	"fmt"
	"strconv"
	"strings"
	"unicode/utf8"

	"codebase-qa/internal/models"
)

// BuildPrompt fills the answer template with the retrieved chunks and the
// question. Chunks are taken in rank order while the joined context stays
// within maxChars; the first chunk is always used and cut to maxChars when it
// is longer. A maxChars <= 0 disables the budget. It returns the prompt and
// the number of chunks placed in it.
func BuildPrompt(chunks []string, question string, maxChars int) (string, int) {
	var (
		context strings.Builder
		used    int
		length  int
	)
	for i, chunk := range chunks {
		size := utf8.RuneCountInString(chunk)
		sep := 0
		if i > 0 {
			sep = utf8.RuneCountInString(models.ContextSeparator)
		}

		if maxChars > 0 && length+sep+size > maxChars {
			if i == 0 {
				context.WriteString(truncateRunes(chunk, maxChars))
				used = 1
			}
			break
		}
		if i > 0 {
			context.WriteString(models.ContextSeparator)
		}
		context.WriteString(chunk)
		length += sep + size
		used++
	}
	return fmt.Sprintf(models.PromptTemplate, context.String(), question), used
}

func truncateRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n])
}

// Sources maps hits to the answer's source list. Missing metadata becomes
// "Unknown" for the source and "N/A" for chunk index and page.
func Sources(hits []models.Hit) []models.Source {
	sources := make([]models.Source, len(hits))
	for i, hit := range hits {
		source := hit.Metadata[models.MetaSource]
		if source == "" {
			source = models.UnknownSource
		}
		sources[i] = models.Source{
			Content:    hit.Content,
			Source:     source,
			ChunkIndex: intOrNA(hit.Metadata, models.MetaChunkIndex),
			Page:       intOrNA(hit.Metadata, models.MetaPage),
		}
	}
	return sources
}

func intOrNA(meta map[string]string, key string) any {
	v, ok := meta[key]
	if !ok {
		return models.NotAvailable
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return models.NotAvailable
	}
	return n
}
