package parser

import (
	"bytes"
	"fmt"
	"io"
	"mime"
	"net/url"
	"path"
	"regexp"
	"strings"

	"github.com/ledongthuc/pdf"
	"github.com/nguyenthenguyen/docx"
	"github.com/xuri/excelize/v2"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

const (
	MIMEHTML     = "text/html"
	MIMEPlain    = "text/plain"
	MIMEMarkdown = "text/markdown"
	MIMEPDF      = "application/pdf"
	MIMEDOCX     = "application/vnd.openxmlformats-officedocument.wordprocessingml.document"
	MIMEXLSX     = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
)

// non-content elements dropped before text extraction
var strippedTags = map[atom.Atom]bool{
	atom.Script:   true,
	atom.Style:    true,
	atom.Nav:      true,
	atom.Footer:   true,
	atom.Iframe:   true,
	atom.Noscript: true,
	atom.Svg:      true,
	atom.Button:   true,
	atom.Input:    true,
	atom.Form:     true,
}

var blankLines = regexp.MustCompile(`\n{3,}`)

// Cleaned is the plain-text form of a fetched body. HTML is the parsed tree
// when the body was HTML, so callers can look for links without reparsing.
type Cleaned struct {
	Text string
	HTML *html.Node
}

// CleanContent converts a fetched body into plain text of at most maxRunes
// runes (no cap when maxRunes <= 0).
func CleanContent(body []byte, contentType string, maxRunes int) (*Cleaned, error) {
	var (
		out = &Cleaned{}
		err error
	)
	switch mediaType(contentType) {
	case MIMEPDF:
		out.Text, err = pdfText(body)
	case MIMEDOCX:
		out.Text, err = docxText(body)
	case MIMEXLSX:
		out.Text, err = xlsxText(body)
	case MIMEMarkdown:
		out.Text, err = markdownText(body)
	case MIMEPlain:
		out.Text = string(body)
	default:
		out.HTML, err = html.Parse(bytes.NewReader(body))
		if err == nil {
			out.Text = HTMLText(out.HTML)
		}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to clean %s content: %w", mediaType(contentType), err)
	}
	out.Text = Truncate(blankLines.ReplaceAllString(out.Text, "\n\n"), maxRunes)
	return out, nil
}

// HTMLText joins the text nodes of n with newlines, skipping non-content
// elements and whitespace-only nodes.
func HTMLText(n *html.Node) string {
	var parts []string
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && strippedTags[n.DataAtom] {
			return
		}
		if n.Type == html.TextNode && strings.TrimSpace(n.Data) != "" {
			parts = append(parts, n.Data)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return strings.Join(parts, "\n")
}

// DetectContentType refines a response content type using the URL extension
// when the server sent something generic.
func DetectContentType(rawURL, header string) string {
	mt := mediaType(header)
	if mt != "" && mt != MIMEPlain && mt != "application/octet-stream" {
		return mt
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return mt
	}
	switch strings.ToLower(path.Ext(u.Path)) {
	case ".pdf":
		return MIMEPDF
	case ".docx":
		return MIMEDOCX
	case ".xlsx":
		return MIMEXLSX
	case ".md", ".markdown":
		return MIMEMarkdown
	case ".txt":
		return MIMEPlain
	}
	if mt == "" {
		return MIMEHTML
	}
	return mt
}

// IsDocumentURL reports whether the URL points at a file format rather than a page.
func IsDocumentURL(rawURL string) bool {
	switch DetectContentType(rawURL, "") {
	case MIMEPDF, MIMEDOCX, MIMEXLSX, MIMEMarkdown, MIMEPlain:
		return true
	}
	return false
}

// Truncate cuts s to at most n runes.
func Truncate(s string, n int) string {
	if n <= 0 {
		return s
	}
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}

func mediaType(contentType string) string {
	if contentType == "" {
		return ""
	}
	mt, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return strings.ToLower(strings.TrimSpace(contentType))
	}
	if mt == "text/x-markdown" {
		return MIMEMarkdown
	}
	return mt
}

func pdfText(body []byte) (string, error) {
	reader, err := pdf.NewReader(bytes.NewReader(body), int64(len(body)))
	if err != nil {
		return "", err
	}
	text, err := reader.GetPlainText()
	if err != nil {
		return "", err
	}
	b, err := io.ReadAll(text)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func docxText(body []byte) (string, error) {
	r, err := docx.ReadDocxFromMemory(bytes.NewReader(body), int64(len(body)))
	if err != nil {
		return "", err
	}
	defer r.Close()

	// GetContent returns the raw document XML; text runs are its text nodes
	node, err := html.Parse(strings.NewReader(r.Editable().GetContent()))
	if err != nil {
		return "", err
	}
	return HTMLText(node), nil
}

// xlsxText writes each sheet under its name, one row per line with cells
// separated by tabs. Sub-processor lists are commonly published this way.
func xlsxText(body []byte) (string, error) {
	f, err := excelize.OpenReader(bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	defer f.Close()

	var text strings.Builder
	for _, sheet := range f.GetSheetList() {
		rows, err := f.GetRows(sheet)
		if err != nil {
			return "", fmt.Errorf("sheet %s: %w", sheet, err)
		}
		if len(rows) == 0 {
			continue
		}
		fmt.Fprintf(&text, "Sheet: %s\n", sheet)
		for _, row := range rows {
			if line := strings.TrimSpace(strings.Join(row, "\t")); line != "" {
				text.WriteString(line)
				text.WriteString("\n")
			}
		}
		text.WriteString("\n")
	}
	return strings.TrimSpace(text.String()), nil
}

func markdownText(body []byte) (string, error) {
	md := goldmark.New(goldmark.WithExtensions(extension.GFM))
	var buf bytes.Buffer
	if err := md.Convert(body, &buf); err != nil {
		return "", err
	}
	node, err := html.Parse(&buf)
	if err != nil {
		return "", err
	}
	return HTMLText(node), nil
}
