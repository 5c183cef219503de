package parser

import (
	"bytes"
	"errors"
	"fmt"
	"html"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/ledongthuc/pdf"
	"github.com/nguyenthenguyen/docx"
	"github.com/rs/zerolog/log"
	"github.com/tealeg/xlsx"
	"github.com/xuri/excelize/v2"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"

	"health-rag/internal/models"
)

// Extraction failures the caller branches on.
var (
	ErrUnsupportedFormat = errors.New("unsupported file format")
	ErrInvalidDocument   = errors.New("not a valid document")
	ErrFileTooLarge      = errors.New("file too large")
)

var htmlTagRe = regexp.MustCompile(`<[^>]+>`)

// Extract pulls the text out of the document at path, tagged with inline
// page markers so chunking can stay page-aware. It returns the tagged text
// and the page count. Unpaged formats are attributed to page 1 (docx, md,
// txt) or one page per sheet (xlsx, ods). Text-free documents return an
// empty string with no error; the caller treats that as "no extractable
// content".
func Extract(path string) (string, int, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".pdf":
		return extractPDF(path)
	case ".docx":
		return extractDOCX(path)
	case ".xlsx":
		return extractXLSX(path)
	case ".ods":
		return extractODS(path)
	case ".md":
		return extractMarkdown(path)
	case ".txt":
		return extractText(path)
	default:
		return "", 0, fmt.Errorf("%w: %s", ErrUnsupportedFormat, filepath.Ext(path))
	}
}

// Validate rejects a document before extraction: it must exist, fit the
// size cap, and (for PDFs) have at least one page.
func Validate(path string, maxSizeMB int) error {
	stat, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidDocument, err)
	}
	sizeMB := float64(stat.Size()) / (1024 * 1024)
	if maxSizeMB > 0 && sizeMB > float64(maxSizeMB) {
		return fmt.Errorf("%w: %.1fMB (max %dMB)", ErrFileTooLarge, sizeMB, maxSizeMB)
	}
	if strings.ToLower(filepath.Ext(path)) == ".pdf" {
		f, err := os.Open(path)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidDocument, err)
		}
		defer f.Close()
		reader, err := pdf.NewReader(f, stat.Size())
		if err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidDocument, err)
		}
		if reader.NumPage() == 0 {
			return fmt.Errorf("%w: document has no pages", ErrInvalidDocument)
		}
	}
	return nil
}

func extractPDF(path string) (string, int, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", 0, err
	}
	defer f.Close()

	stat, err := f.Stat()
	if err != nil {
		return "", 0, err
	}
	reader, err := pdf.NewReader(f, stat.Size())
	if err != nil {
		return "", 0, fmt.Errorf("%w: %v", ErrInvalidDocument, err)
	}

	var tagged strings.Builder
	numPages := reader.NumPage()
	for i := 1; i <= numPages; i++ {
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}
		pageText, err := page.GetPlainText(nil)
		if err != nil {
			log.Warn().Err(err).Msgf("page %d/%d has no extractable text", i, numPages)
			continue
		}
		if strings.TrimSpace(pageText) == "" {
			continue
		}
		writePage(&tagged, i, pageText)
	}
	return tagged.String(), numPages, nil
}

func extractDOCX(path string) (string, int, error) {
	r, err := docx.ReadDocxFile(path)
	if err != nil {
		return "", 0, fmt.Errorf("%w: %v", ErrInvalidDocument, err)
	}
	defer r.Close()

	content := r.Editable().GetContent()
	var paragraphs []string
	for _, p := range strings.Split(content, "\n") {
		if text := stripHTML(p); text != "" {
			paragraphs = append(paragraphs, text)
		}
	}
	if len(paragraphs) == 0 {
		return "", 1, nil
	}
	var tagged strings.Builder
	writePage(&tagged, 1, strings.Join(paragraphs, "\n"))
	return tagged.String(), 1, nil
}

// extractXLSX treats each sheet as one page.
func extractXLSX(path string) (string, int, error) {
	f, err := xlsx.OpenFile(path)
	if err != nil {
		return "", 0, fmt.Errorf("%w: %v", ErrInvalidDocument, err)
	}

	var tagged strings.Builder
	for sheetNum, sheet := range f.Sheets {
		var text strings.Builder
		text.WriteString(fmt.Sprintf("Sheet: %s\n", sheet.Name))
		for _, row := range sheet.Rows {
			for _, cell := range row.Cells {
				text.WriteString(cell.String() + "\t")
			}
			text.WriteString("\n")
		}
		writePage(&tagged, sheetNum+1, text.String())
	}
	return tagged.String(), len(f.Sheets), nil
}

// extractODS treats each sheet as one page.
func extractODS(path string) (string, int, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return "", 0, fmt.Errorf("%w: %v", ErrInvalidDocument, err)
	}
	defer f.Close()

	var tagged strings.Builder
	sheets := f.GetSheetList()
	for sheetNum, sheetName := range sheets {
		rows, err := f.GetRows(sheetName)
		if err != nil {
			continue
		}
		var text strings.Builder
		text.WriteString(fmt.Sprintf("Sheet: %s\n", sheetName))
		for _, row := range rows {
			for _, cell := range row {
				text.WriteString(cell + "\t")
			}
			text.WriteString("\n")
		}
		writePage(&tagged, sheetNum+1, text.String())
	}
	return tagged.String(), len(sheets), nil
}

// extractMarkdown renders the markdown and strips the markup, leaving plain
// prose for chunking.
func extractMarkdown(path string) (string, int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", 0, err
	}
	md := goldmark.New(goldmark.WithExtensions(extension.GFM))
	var buf bytes.Buffer
	if err := md.Convert(data, &buf); err != nil {
		return "", 0, fmt.Errorf("%w: %v", ErrInvalidDocument, err)
	}
	text := stripHTML(buf.String())
	if text == "" {
		return "", 1, nil
	}
	var tagged strings.Builder
	writePage(&tagged, 1, text)
	return tagged.String(), 1, nil
}

func extractText(path string) (string, int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", 0, err
	}
	if strings.TrimSpace(string(data)) == "" {
		return "", 1, nil
	}
	var tagged strings.Builder
	writePage(&tagged, 1, string(data))
	return tagged.String(), 1, nil
}

func writePage(b *strings.Builder, page int, text string) {
	b.WriteString(fmt.Sprintf(models.PageMarkerFormat, page))
	b.WriteString("\n")
	b.WriteString(strings.TrimSpace(text))
	b.WriteString("\n\n")
}

func stripHTML(s string) string {
	return strings.TrimSpace(html.UnescapeString(htmlTagRe.ReplaceAllString(s, " ")))
}
