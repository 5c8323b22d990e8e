// Package parser extracts plain text from uploaded documents and splits it
// into overlapping chunks for embedding.
package parser

import (
	"archive/zip"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/ledongthuc/pdf"
	"github.com/nguyenthenguyen/docx"
	"github.com/rs/zerolog/log"
	"github.com/tealeg/xlsx"
	"github.com/xuri/excelize/v2"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/text"

	"brief-engine/internal/models"
)

const (
	defaultChunkSize    = 1000 // characters
	defaultChunkOverlap = 200  // characters
	defaultPageNumber   = 1
)

// Page is the text of one page, slide or sheet. Formats without pages
// produce a single page.
type Page struct {
	Number int
	Text   string
}

// Supported reports whether Extract understands the file extension.
func Supported(filePath string) bool {
	switch strings.ToLower(filepath.Ext(filePath)) {
	case ".pdf", ".docx", ".pptx", ".xlsx", ".xlsm", ".txt", ".md", ".markdown":
		return true
	}
	return false
}

// Extract reads filePath and returns its non-empty pages.
func Extract(filePath string) ([]Page, error) {
	ext := strings.ToLower(filepath.Ext(filePath))
	var (
		pages []Page
		err   error
	)
	switch ext {
	case ".pdf":
		pages, err = parsePDF(filePath)
	case ".docx":
		pages, err = parseDOCX(filePath)
	case ".pptx":
		pages, err = parsePPTX(filePath)
	case ".xlsx":
		pages, err = parseXLSX(filePath)
	case ".xlsm":
		pages, err = parseWorkbook(filePath)
	case ".txt":
		pages, err = parseText(filePath)
	case ".md", ".markdown":
		pages, err = parseMarkdown(filePath)
	default:
		return nil, fmt.Errorf("unsupported file format: %s", ext)
	}
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", filepath.Base(filePath), err)
	}

	out := pages[:0]
	for _, p := range pages {
		p.Text = strings.TrimSpace(p.Text)
		if p.Text != "" {
			out = append(out, p)
		}
	}
	log.Debug().Str("file", filepath.Base(filePath)).Int("pages", len(out)).Msg("Document parsed")
	return out, nil
}

// FullText joins pages with blank lines.
func FullText(pages []Page) string {
	parts := make([]string, len(pages))
	for i, p := range pages {
		parts[i] = p.Text
	}
	return strings.Join(parts, "\n\n")
}

// Chunk splits every page into chunks of at most size characters with the
// given overlap. ChunkID restarts at 1 on each page.
func Chunk(pages []Page, size, overlap int) []models.Chunk {
	if size <= 0 {
		size, overlap = defaultChunkSize, defaultChunkOverlap
	}
	var chunks []models.Chunk
	for _, p := range pages {
		for i, c := range chunkContent(p.Text, size, overlap) {
			chunks = append(chunks, models.Chunk{
				Content:    c,
				PageNumber: p.Number,
				ChunkID:    i + 1,
			})
		}
	}
	return chunks
}

func parsePDF(filePath string) ([]Page, error) {
	f, err := os.Open(filePath)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	stat, err := f.Stat()
	if err != nil {
		return nil, err
	}
	reader, err := pdf.NewReader(f, stat.Size())
	if err != nil {
		return nil, err
	}

	var pages []Page
	for i := 1; i <= reader.NumPage(); i++ {
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}
		pageText, err := page.GetPlainText(nil)
		if err != nil {
			return nil, fmt.Errorf("page %d: %w", i, err)
		}
		pages = append(pages, Page{Number: i, Text: pageText})
	}
	return pages, nil
}

func parseDOCX(filePath string) ([]Page, error) {
	r, err := docx.ReadDocxFile(filePath)
	if err != nil {
		return nil, err
	}
	defer r.Close()

	// GetContent returns the raw document XML.
	content := r.Editable().GetContent()
	var paragraphs []string
	for _, para := range strings.Split(content, "</w:p>") {
		if t := strings.TrimSpace(extractTextFromXML(para, "w:t")); t != "" {
			paragraphs = append(paragraphs, t)
		}
	}
	return []Page{{Number: defaultPageNumber, Text: strings.Join(paragraphs, "\n")}}, nil
}

var slideName = regexp.MustCompile(`^ppt/slides/slide(\d+)\.xml$`)

func parsePPTX(filePath string) ([]Page, error) {
	f, err := zip.OpenReader(filePath)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var pages []Page
	for _, file := range f.File {
		m := slideName.FindStringSubmatch(file.Name)
		if m == nil {
			continue
		}
		num, _ := strconv.Atoi(m[1])
		rc, err := file.Open()
		if err != nil {
			return nil, err
		}
		data, err := io.ReadAll(rc)
		rc.Close()
		if err != nil {
			return nil, err
		}
		pages = append(pages, Page{Number: num, Text: extractTextFromXML(string(data), "a:t")})
	}
	sort.Slice(pages, func(i, j int) bool { return pages[i].Number < pages[j].Number })
	return pages, nil
}

func parseXLSX(filePath string) ([]Page, error) {
	f, err := xlsx.OpenFile(filePath)
	if err != nil {
		return nil, err
	}

	var pages []Page
	for sheetNum, sheet := range f.Sheets {
		var b strings.Builder
		fmt.Fprintf(&b, "Sheet: %s\n", sheet.Name)
		for _, row := range sheet.Rows {
			cells := make([]string, 0, len(row.Cells))
			for _, cell := range row.Cells {
				cells = append(cells, cell.String())
			}
			writeRow(&b, cells)
		}
		pages = append(pages, Page{Number: sheetNum + 1, Text: b.String()})
	}
	return pages, nil
}

// parseWorkbook handles macro-enabled workbooks through excelize.
func parseWorkbook(filePath string) ([]Page, error) {
	f, err := excelize.OpenFile(filePath)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var pages []Page
	for sheetNum, sheetName := range f.GetSheetList() {
		rows, err := f.GetRows(sheetName)
		if err != nil {
			log.Warn().Err(err).Str("sheet", sheetName).Msg("Skipping unreadable sheet")
			continue
		}
		var b strings.Builder
		fmt.Fprintf(&b, "Sheet: %s\n", sheetName)
		for _, row := range rows {
			writeRow(&b, row)
		}
		pages = append(pages, Page{Number: sheetNum + 1, Text: b.String()})
	}
	return pages, nil
}

func writeRow(b *strings.Builder, cells []string) {
	line := strings.TrimRight(strings.Join(cells, "\t"), "\t ")
	if line == "" {
		return
	}
	b.WriteString(line)
	b.WriteString("\n")
}

func parseText(filePath string) ([]Page, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, err
	}
	return []Page{{Number: defaultPageNumber, Text: string(data)}}, nil
}

func parseMarkdown(filePath string) ([]Page, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, err
	}
	return []Page{{Number: defaultPageNumber, Text: markdownToText(data)}}, nil
}

// markdownToText renders the text content of a markdown document, one line
// per block, dropping markup.
func markdownToText(source []byte) string {
	md := goldmark.New(goldmark.WithExtensions(extension.GFM))
	doc := md.Parser().Parse(text.NewReader(source))

	var b strings.Builder
	_ = ast.Walk(doc, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		switch node := n.(type) {
		case *ast.Text:
			if entering {
				b.Write(node.Segment.Value(source))
				if node.SoftLineBreak() || node.HardLineBreak() {
					b.WriteByte(' ')
				}
			}
		case *ast.String:
			if entering {
				b.Write(node.Value)
			}
		case *ast.CodeBlock, *ast.FencedCodeBlock:
			if entering {
				lines := node.Lines()
				for i := 0; i < lines.Len(); i++ {
					seg := lines.At(i)
					b.Write(seg.Value(source))
				}
			}
		default:
			if !entering && n.Type() == ast.TypeBlock && n.Kind() != ast.KindDocument {
				b.WriteByte('\n')
			}
		}
		return ast.WalkContinue, nil
	})
	return strings.TrimSpace(b.String())
}

// extractTextFromXML concatenates the text of every <tag>...</tag> element.
func extractTextFromXML(xmlContent, tag string) string {
	var b strings.Builder
	open, closing := "<"+tag, "</"+tag+">"
	rest := xmlContent
	for {
		start := strings.Index(rest, open)
		if start < 0 {
			break
		}
		rest = rest[start+len(open):]
		// Skip "<w:tab/>" style names sharing the prefix and element attributes.
		if len(rest) == 0 || (rest[0] != '>' && rest[0] != ' ') {
			continue
		}
		gt := strings.IndexByte(rest, '>')
		end := strings.Index(rest, closing)
		if gt < 0 || end < 0 || end < gt {
			continue
		}
		b.WriteString(unescapeXML(rest[gt+1 : end]))
		b.WriteByte(' ')
		rest = rest[end+len(closing):]
	}
	return strings.Join(strings.Fields(b.String()), " ")
}

var xmlEntities = strings.NewReplacer("&lt;", "<", "&gt;", ">", "&quot;", `"`, "&apos;", "'", "&amp;", "&")

func unescapeXML(s string) string { return xmlEntities.Replace(s) }

// chunkContent splits content into chunks of at most maxChars runes, each
// starting overlapChars before the end of the previous one. Breaks prefer a
// space, newline or period in the last tenth of the chunk.
func chunkContent(content string, maxChars, overlapChars int) []string {
	if maxChars <= 0 {
		return nil
	}
	if overlapChars < 0 {
		overlapChars = 0
	}
	if overlapChars >= maxChars {
		overlapChars = maxChars / 2
	}
	runes := []rune(strings.TrimSpace(content))
	if len(runes) == 0 {
		return nil
	}
	if len(runes) <= maxChars {
		return []string{string(runes)}
	}

	var chunks []string
	start := 0
	for start < len(runes) {
		end := min(start+maxChars, len(runes))
		if end < len(runes) {
			lookBack := min(maxChars/10, end-start)
			for i := end - 1; i >= end-lookBack && i > start; i-- {
				if runes[i] == ' ' || runes[i] == '\n' || runes[i] == '.' {
					end = i + 1
					break
				}
			}
		}
		if chunk := strings.TrimSpace(string(runes[start:end])); chunk != "" {
			chunks = append(chunks, chunk)
		}
		if end >= len(runes) {
			break
		}
		next := end - overlapChars
		if next <= start {
			next = end
		}
		start = next
	}
	return chunks
}
