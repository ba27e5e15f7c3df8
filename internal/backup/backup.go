// Package backup implements the JSON interchange document: a full dump of a
// project (dataset records, knowledge graph, scraping working set, chat
// transcript) that can be exported and re-imported losslessly.
package backup

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"hargraph/internal/graph"
)

// Document is the interchange format. harEntries and knowledgeData are
// mandatory; the other sections may be absent in older dumps.
type Document struct {
	HarEntries      []HarEntry      `json:"harEntries"`
	KnowledgeData   *KnowledgeData  `json:"knowledgeData"`
	ChatHistory     []ChatMessage   `json:"chatHistory,omitempty"`
	ScrapingEntries []ScrapingEntry `json:"scrapingEntries,omitempty"`
}

type HarEntry struct {
	Index            int    `json:"index"`
	ID               string `json:"id"`
	Method           string `json:"method"`
	URL              string `json:"url"`
	Status           int    `json:"status"`
	Size             int64  `json:"size"`
	MimeType         string `json:"mimeType"`
	ResponseBodyText string `json:"responseBodyText"`
	Selected         bool   `json:"selected,omitempty"`
}

type KnowledgeData struct {
	Nodes []graph.Node `json:"nodes"`
	Links []graph.Link `json:"links"`
}

type ChatMessage struct {
	ID        string          `json:"id"`
	Role      string          `json:"role"`
	Text      string          `json:"text"`
	ToolCalls json.RawMessage `json:"toolCalls,omitempty"`
	CreatedAt time.Time       `json:"createdAt"`
}

type ScrapingEntry struct {
	ID                 string    `json:"id"`
	SourceTypeKey      string    `json:"sourceTypeKey"`
	URL                string    `json:"url"`
	OriginalRequest    string    `json:"originalRequest"`
	OriginalResponse   string    `json:"originalResponse"`
	FiltererJSON       string    `json:"filtererJson,omitempty"`
	ConverterCode      string    `json:"converterCode,omitempty"`
	FinalCleanResponse string    `json:"finalCleanResponse,omitempty"`
	ProcessingStatus   string    `json:"processingStatus"`
	IsDeleted          bool      `json:"isDeleted,omitempty"`
	CreatedAt          time.Time `json:"createdAt"`
	UpdatedAt          time.Time `json:"updatedAt"`
}

// Parse decodes and validates a document. It rejects the input before any
// state is touched, so a failed import leaves the project intact.
func Parse(r io.Reader) (*Document, error) {
	var doc Document
	dec := json.NewDecoder(r)
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("decoding backup document: %w", err)
	}
	if err := doc.Validate(); err != nil {
		return nil, err
	}
	return &doc, nil
}

// Validate checks the mandatory sections. harEntries must be present (an
// empty array is fine, a missing key is not) and knowledgeData must carry
// nodes and links arrays.
func (d *Document) Validate() error {
	if d.HarEntries == nil {
		return fmt.Errorf("invalid backup: missing harEntries section")
	}
	if d.KnowledgeData == nil {
		return fmt.Errorf("invalid backup: missing knowledgeData section")
	}
	for i, e := range d.HarEntries {
		if e.ID == "" {
			return fmt.Errorf("invalid backup: harEntries[%d] has no id", i)
		}
	}
	for i, n := range d.KnowledgeData.Nodes {
		if n.ID == "" {
			return fmt.Errorf("invalid backup: knowledgeData.nodes[%d] has no id", i)
		}
	}
	for i, e := range d.ScrapingEntries {
		if e.ID == "" {
			return fmt.Errorf("invalid backup: scrapingEntries[%d] has no id", i)
		}
	}
	return nil
}
