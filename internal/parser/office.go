package parser

import (
	"archive/zip"
	"encoding/xml"
	"fmt"
	"io"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"codebase-qa/internal/models"

	"github.com/nguyenthenguyen/docx"
	"github.com/rs/zerolog/log"
	"github.com/tealeg/xlsx"
	"github.com/xuri/excelize/v2"
)

var slideRe = regexp.MustCompile(`^ppt/slides/slide(\d+)\.xml$`)

func parseOffice(filePath, ext string) ([]models.Unit, error) {
	switch ext {
	case ".docx":
		return parseDOCX(filePath)
	case ".pptx":
		return parsePPTX(filePath)
	default:
		return parseWorkbook(filePath)
	}
}

func parseDOCX(filePath string) ([]models.Unit, error) {
	r, err := docx.ReadDocxFile(filePath)
	if err != nil {
		return nil, err
	}
	defer r.Close()

	text, err := extractXMLText(r.Editable().GetContent())
	if err != nil {
		return nil, err
	}
	return []models.Unit{{Content: text, Metadata: map[string]string{}}}, nil
}

// parsePPTX returns one unit per slide, in slide order.
func parsePPTX(filePath string) ([]models.Unit, error) {
	f, err := zip.OpenReader(filePath)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	type slide struct {
		num  int
		file *zip.File
	}
	var slides []slide
	for _, file := range f.File {
		m := slideRe.FindStringSubmatch(file.Name)
		if m == nil {
			continue
		}
		num, _ := strconv.Atoi(m[1])
		slides = append(slides, slide{num: num, file: file})
	}
	sort.Slice(slides, func(i, j int) bool { return slides[i].num < slides[j].num })

	var units []models.Unit
	for i, s := range slides {
		rc, err := s.file.Open()
		if err != nil {
			return nil, err
		}
		data, err := io.ReadAll(rc)
		rc.Close()
		if err != nil {
			return nil, err
		}
		text, err := extractXMLText(string(data))
		if err != nil {
			return nil, fmt.Errorf("slide %d: %w", s.num, err)
		}
		units = append(units, models.Unit{
			Content:  text,
			Metadata: map[string]string{models.MetaPage: strconv.Itoa(i)},
		})
	}
	return units, nil
}

// parseWorkbook returns one unit per sheet with tab separated cells. excelize
// is tried first; older workbooks it rejects are read with tealeg/xlsx.
func parseWorkbook(filePath string) ([]models.Unit, error) {
	units, err := parseExcelize(filePath)
	if err == nil {
		return units, nil
	}
	log.Debug().Err(err).Str("file", filePath).Msg("excelize failed, falling back to xlsx")
	return parseXLSX(filePath)
}

func parseExcelize(filePath string) ([]models.Unit, error) {
	f, err := excelize.OpenFile(filePath)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var units []models.Unit
	for sheetNum, sheetName := range f.GetSheetList() {
		rows, err := f.GetRows(sheetName)
		if err != nil {
			return nil, err
		}
		units = append(units, sheetUnit(sheetNum, sheetName, rows))
	}
	return units, nil
}

func parseXLSX(filePath string) ([]models.Unit, error) {
	f, err := xlsx.OpenFile(filePath)
	if err != nil {
		return nil, err
	}

	var units []models.Unit
	for sheetNum, sheet := range f.Sheets {
		rows := make([][]string, 0, len(sheet.Rows))
		for _, row := range sheet.Rows {
			cells := make([]string, 0, len(row.Cells))
			for _, cell := range row.Cells {
				cells = append(cells, cell.String())
			}
			rows = append(rows, cells)
		}
		units = append(units, sheetUnit(sheetNum, sheet.Name, rows))
	}
	return units, nil
}

func sheetUnit(sheetNum int, name string, rows [][]string) models.Unit {
	var text strings.Builder
	text.WriteString(fmt.Sprintf("## Sheet: %s\n", name))
	for _, row := range rows {
		text.WriteString(strings.Join(row, "\t"))
		text.WriteString("\n")
	}
	return models.Unit{
		Content:  text.String(),
		Metadata: map[string]string{models.MetaPage: strconv.Itoa(sheetNum)},
	}
}

// extractXMLText collects the character data of <t> elements and ends every
// <p> element with a newline. Works for both WordprocessingML and DrawingML.
func extractXMLText(content string) (string, error) {
	dec := xml.NewDecoder(strings.NewReader(content))
	var (
		text   strings.Builder
		inText bool
	)
	for {
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", err
		}
		switch t := tok.(type) {
		case xml.StartElement:
			if t.Name.Local == "t" {
				inText = true
			}
		case xml.EndElement:
			switch t.Name.Local {
			case "t":
				inText = false
			case "p":
				text.WriteString("\n")
			}
		case xml.CharData:
			if inText {
				text.Write(t)
			}
		}
	}
	return strings.TrimSpace(text.String()), nil
}
