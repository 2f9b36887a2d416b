package rag

import (
	"fmt"
	"strings"

	"tos-rag/internal/index"
	"tos-rag/internal/models"
	"tos-rag/internal/parser"
)

// MainPageOnly is reported as the retrieved source when no retrieval ran.
const MainPageOnly = "Main Page Only"

var banner = strings.Repeat("=", 50)

// AssembledContext is the evidence handed to the analyzer.
type AssembledContext struct {
	Text string
	// Sources lists the distinct sources in first-seen order.
	Sources []string
}

// Assemble labels each retrieved chunk with its source, keeping retrieval
// order. Overlapping chunk text is not deduplicated.
func Assemble(matches []index.Match) AssembledContext {
	blocks := make([]string, len(matches))
	seen := make(map[string]bool, len(matches))
	var sources []string
	for i, m := range matches {
		blocks[i] = sourceBlock(m.Source, m.Text)
		if !seen[m.Source] {
			seen[m.Source] = true
			sources = append(sources, m.Source)
		}
	}
	return AssembledContext{Text: strings.Join(blocks, models.ContextSeparator), Sources: sources}
}

// Fallback uses the main document alone, cut to limit runes.
func Fallback(url, text string, limit int) AssembledContext {
	return AssembledContext{Text: sourceBlock(url, parser.Truncate(text, limit)), Sources: []string{url}}
}

// DisplayContent is the human-readable view of what was analyzed: the full
// main document followed by extracts retrieved from other documents.
func DisplayContent(main models.Document, matches []index.Match) string {
	var b strings.Builder
	fmt.Fprintf(&b, "=== MAIN DOCUMENT: %s ===\n\n%s", main.URL, main.Text)

	var extracts []string
	for _, m := range matches {
		if m.Source != main.URL {
			extracts = append(extracts, fmt.Sprintf("=== EXTRACT FROM: %s ===\n%s", m.Source, m.Text))
		}
	}
	if len(extracts) > 0 {
		fmt.Fprintf(&b, "\n\n%s\n=== RELATED CONTENT RETRIEVED BY RAG ===\n%s\n\n", banner, banner)
		b.WriteString(strings.Join(extracts, models.ContextSeparator))
	}
	return b.String()
}

func sourceBlock(source, text string) string {
	return fmt.Sprintf("=== SOURCE DOCUMENT: %s ===\n%s", source, text)
}
