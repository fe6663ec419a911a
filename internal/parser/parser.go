package parser

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"codebase-qa/internal/models"

	"github.com/ledongthuc/pdf"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/extension"
	gmtext "github.com/yuin/goldmark/text"
)

// ErrUnsupportedFileType is returned for extensions the loader cannot read.
var ErrUnsupportedFileType = errors.New("unsupported file type")

// Options controls which formats besides .txt, .md and .pdf are accepted.
type Options struct {
	OfficeFormats bool
}

// Load reads the file stored at filePath and returns its text units. The
// format is chosen from the extension of filename, the name the file was
// uploaded with, and every unit is tagged with it as its source.
func Load(filePath, filename string, opts Options) ([]models.Unit, error) {
	ext := strings.ToLower(filepath.Ext(filename))

	var (
		units []models.Unit
		err   error
	)
	switch ext {
	case ".txt":
		units, err = parseText(filePath)
	case ".md":
		units, err = parseMarkdown(filePath)
	case ".pdf":
		units, err = parsePDF(filePath)
	case ".docx", ".pptx", ".xlsx", ".xlsm":
		if !opts.OfficeFormats {
			return nil, fmt.Errorf("%w: %s", ErrUnsupportedFileType, ext)
		}
		units, err = parseOffice(filePath, ext)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFileType, ext)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load %s: %w", filename, err)
	}

	for i := range units {
		if units[i].Metadata == nil {
			units[i].Metadata = map[string]string{}
		}
		units[i].Metadata[models.MetaSource] = filename
	}
	return units, nil
}

// Supported reports whether filename has an extension Load accepts.
func Supported(filename string, opts Options) bool {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".txt", ".md", ".pdf":
		return true
	case ".docx", ".pptx", ".xlsx", ".xlsm":
		return opts.OfficeFormats
	}
	return false
}

func parseText(filePath string) ([]models.Unit, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, err
	}
	return []models.Unit{{Content: string(data), Metadata: map[string]string{}}}, nil
}

func parseMarkdown(filePath string) ([]models.Unit, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, err
	}
	meta := map[string]string{}
	if title := markdownTitle(data); title != "" {
		meta[models.MetaTitle] = title
	}
	return []models.Unit{{Content: string(data), Metadata: meta}}, nil
}

// markdownTitle returns the text of the first heading in src.
func markdownTitle(src []byte) string {
	md := goldmark.New(goldmark.WithExtensions(extension.GFM))
	doc := md.Parser().Parse(gmtext.NewReader(src))

	var title strings.Builder
	_ = ast.Walk(doc, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		heading, ok := n.(*ast.Heading)
		if !ok {
			return ast.WalkContinue, nil
		}
		_ = ast.Walk(heading, func(c ast.Node, entering bool) (ast.WalkStatus, error) {
			if t, ok := c.(*ast.Text); ok && entering {
				title.Write(t.Segment.Value(src))
				if t.SoftLineBreak() {
					title.WriteByte(' ')
				}
			}
			return ast.WalkContinue, nil
		})
		return ast.WalkStop, nil
	})
	return strings.TrimSpace(title.String())
}

// parsePDF returns one unit per page. Pages are numbered from 0.
func parsePDF(filePath string) ([]models.Unit, error) {
	f, err := os.Open(filePath)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	// Get file size for reader initialization
	stat, err := f.Stat()
	if err != nil {
		return nil, err
	}

	reader, err := pdf.NewReader(f, stat.Size())
	if err != nil {
		return nil, err
	}

	var units []models.Unit
	numPages := reader.NumPage()
	for i := 1; i <= numPages; i++ {
		page := reader.Page(i)
		var pageText string
		if !page.V.IsNull() {
			pageText, err = page.GetPlainText(nil)
			if err != nil {
				return nil, fmt.Errorf("page %d: %w", i, err)
			}
		}
		units = append(units, models.Unit{
			Content:  pageText,
			Metadata: map[string]string{models.MetaPage: strconv.Itoa(i - 1)},
		})
	}
	return units, nil
}
