package models

import "time"

// Document is the cleaned text of one fetched URL.
type Document struct {
	URL          string    `json:"url"`
	Text         string    `json:"text"`
	DiscoveredAt time.Time `json:"discovered_at"`
}

// ScrapeResult holds the main page and the related legal documents found on it.
type ScrapeResult struct {
	Main    Document   `json:"main"`
	Related []Document `json:"related"`
}

// RelatedByURL returns the related document fetched from url.
func (s *ScrapeResult) RelatedByURL(url string) (Document, bool) {
	for _, d := range s.Related {
		if d.URL == url {
			return d, true
		}
	}
	return Document{}, false
}

// Documents returns the main document followed by the related ones.
func (s *ScrapeResult) Documents() []Document {
	docs := make([]Document, 0, len(s.Related)+1)
	docs = append(docs, s.Main)
	return append(docs, s.Related...)
}

// Chunk represents a slice of a document with its provenance
type Chunk struct {
	ID     string `json:"id"`
	Text   string `json:"text"`
	Source string `json:"source"`
}

// Metadata is what index backends store next to the chunk text.
func (c Chunk) Metadata() map[string]string {
	return map[string]string{MetadataSource: c.Source}
}
