package chunker

import (
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
	"unicode/utf8"

	"codebase-qa/internal/helper"
	"codebase-qa/internal/models"

	"github.com/tmc/langchaingo/textsplitter"
)

const (
	DefaultChunkSize    = 1000 // characters
	DefaultChunkOverlap = 200  // characters

	StrategyWindow    = "window"
	StrategyRecursive = "recursive"
)

type Config struct {
	ChunkSize    int
	ChunkOverlap int
	Strategy     string
}

// normalize falls back to the defaults for sizes that cannot produce
// progressing windows.
func (c Config) normalize() Config {
	if c.ChunkSize <= 0 {
		c.ChunkSize = DefaultChunkSize
	}
	if c.ChunkOverlap < 0 || c.ChunkOverlap >= c.ChunkSize {
		c.ChunkOverlap = min(DefaultChunkOverlap, c.ChunkSize/2)
	}
	if c.Strategy == "" {
		c.Strategy = StrategyWindow
	}
	return c
}

type segment struct {
	text  string
	start int
}

// Split chunks the units of one document. chunk_index counts across all
// units; every chunk inherits its unit's metadata plus chunk_index and
// start_index.
func Split(units []models.Unit, cfg Config) ([]models.Chunk, error) {
	cfg = cfg.normalize()

	var chunks []models.Chunk
	for _, unit := range units {
		if strings.TrimSpace(unit.Content) == "" {
			continue
		}

		var (
			segments []segment
			err      error
		)
		switch cfg.Strategy {
		case StrategyWindow:
			segments = windowSegments(unit.Content, cfg.ChunkSize, cfg.ChunkOverlap)
		case StrategyRecursive:
			segments, err = recursiveSegments(unit.Content, cfg.ChunkSize, cfg.ChunkOverlap)
		default:
			return nil, fmt.Errorf("unknown splitter: %s", cfg.Strategy)
		}
		if err != nil {
			return nil, err
		}

		for _, seg := range segments {
			index := len(chunks)
			meta := make(map[string]string, len(unit.Metadata)+2)
			for k, v := range unit.Metadata {
				meta[k] = v
			}
			meta[models.MetaChunkIndex] = strconv.Itoa(index)
			meta[models.MetaStartIndex] = strconv.Itoa(seg.start)

			chunks = append(chunks, models.Chunk{
				ID:       ChunkID(meta[models.MetaSource], index),
				Content:  seg.text,
				Metadata: meta,
			})
		}
	}
	return chunks, nil
}

// ChunkID builds "<name>_<index>_<8 random hex chars>" where name is the base
// of filename up to its first dot.
func ChunkID(filename string, index int) string {
	name, _, _ := strings.Cut(filepath.Base(filename), ".")
	return fmt.Sprintf("%s_%d_%s", name, index, helper.ShortID())
}

// windowSegments cuts content into windows of size characters, each starting
// size-overlap characters after the previous one. The last window is the
// first one that reaches the end of the text, so a text of length L > size
// gives ceil((L-overlap)/(size-overlap)) windows.
func windowSegments(content string, size, overlap int) []segment {
	runes := []rune(content)
	n := len(runes)
	step := size - overlap

	var segments []segment
	for start := 0; ; start += step {
		end := min(start+size, n)
		segments = append(segments, segment{text: string(runes[start:end]), start: start})
		if end == n {
			break
		}
	}
	return segments
}

// recursiveSegments splits on paragraph, line and word boundaries with
// langchaingo and locates every chunk in content to recover its offset.
func recursiveSegments(content string, size, overlap int) ([]segment, error) {
	splitter := textsplitter.NewRecursiveCharacter(
		textsplitter.WithChunkSize(size),
		textsplitter.WithChunkOverlap(overlap),
	)
	texts, err := splitter.SplitText(content)
	if err != nil {
		return nil, fmt.Errorf("failed to split text: %v", err)
	}
	return locateSegments(content, texts, size-overlap), nil
}

// locateSegments finds each text in content, in order. A text the splitter
// rewrote is not found verbatim; it gets the previous offset plus step,
// capped at the content length.
func locateSegments(content string, texts []string, step int) []segment {
	total := utf8.RuneCountInString(content)
	segments := make([]segment, 0, len(texts))
	searchFrom := 0 // byte offset
	prev := -1      // rune offset
	for _, t := range texts {
		var runeStart int
		if i := strings.Index(content[searchFrom:], t); i >= 0 {
			start := searchFrom + i
			searchFrom = start + 1
			runeStart = utf8.RuneCountInString(content[:start])
		} else if prev >= 0 {
			runeStart = min(prev+step, total)
		}
		prev = runeStart
		segments = append(segments, segment{text: t, start: runeStart})
	}
	return segments
}
