package backup

import (
	"encoding/json"
	"errors"
	"fmt"

	"hargraph/internal/graph"
	"hargraph/internal/storage"
)

// Import writes a validated document into the stores. Dataset records are
// replaced wholesale; graph nodes are upserted and links appended; scraping
// rows and chat messages already present (by id) are overwritten or skipped
// rather than duplicated.
func Import(store *storage.Store, gs graph.Store, doc *Document) error {
	if err := doc.Validate(); err != nil {
		return err
	}

	records := make([]storage.HarRecord, len(doc.HarEntries))
	for i, e := range doc.HarEntries {
		records[i] = storage.HarRecord{
			Idx:              e.Index,
			ID:               e.ID,
			Method:           e.Method,
			URL:              e.URL,
			Status:           e.Status,
			Size:             e.Size,
			MimeType:         e.MimeType,
			ResponseBodyText: e.ResponseBodyText,
			Selected:         e.Selected,
		}
	}
	if err := store.ReplaceHarRecords(records); err != nil {
		return fmt.Errorf("importing dataset records: %w", err)
	}

	for _, n := range doc.KnowledgeData.Nodes {
		if err := gs.UpsertNode(n); err != nil {
			return fmt.Errorf("importing node %s: %w", n.ID, err)
		}
	}
	for _, l := range doc.KnowledgeData.Links {
		if err := gs.AppendLink(l); err != nil {
			return fmt.Errorf("importing link %s->%s: %w", l.Source, l.Target, err)
		}
	}

	for _, e := range doc.ScrapingEntries {
		entry := storage.ScrapingEntry{
			ID:                 e.ID,
			SourceTypeKey:      e.SourceTypeKey,
			URL:                e.URL,
			OriginalRequest:    e.OriginalRequest,
			OriginalResponse:   e.OriginalResponse,
			FiltererJSON:       e.FiltererJSON,
			ConverterCode:      e.ConverterCode,
			FinalCleanResponse: e.FinalCleanResponse,
			ProcessingStatus:   e.ProcessingStatus,
			IsDeleted:          e.IsDeleted,
			CreatedAt:          e.CreatedAt,
			UpdatedAt:          e.UpdatedAt,
		}
		_, err := store.GetScrapingEntry(e.ID)
		switch {
		case errors.Is(err, storage.ErrNotFound):
			err = store.SaveScrapingEntry(entry)
		case err == nil:
			err = store.UpdateScrapingEntry(entry)
		}
		if err != nil {
			return fmt.Errorf("importing scraping entry %s: %w", e.ID, err)
		}
	}

	existing, err := store.ListChatMessages()
	if err != nil {
		return fmt.Errorf("reading chat transcript: %w", err)
	}
	seen := make(map[string]bool, len(existing))
	for _, m := range existing {
		seen[m.ID] = true
	}
	for _, m := range doc.ChatHistory {
		if seen[m.ID] {
			continue
		}
		msg := storage.ChatMessage{
			ID:        m.ID,
			Role:      m.Role,
			Text:      m.Text,
			CreatedAt: m.CreatedAt,
		}
		if len(m.ToolCalls) > 0 {
			msg.ToolCallsJSON = string(m.ToolCalls)
		}
		if err := store.AppendChatMessage(msg); err != nil {
			return fmt.Errorf("importing chat message %s: %w", m.ID, err)
		}
	}
	return nil
}

// Export builds a document from the current state of the stores.
func Export(store *storage.Store, gs graph.Store) (*Document, error) {
	records, err := store.ListHarRecords()
	if err != nil {
		return nil, fmt.Errorf("reading dataset records: %w", err)
	}
	entries := make([]HarEntry, len(records))
	for i, r := range records {
		entries[i] = HarEntry{
			Index:            r.Idx,
			ID:               r.ID,
			Method:           r.Method,
			URL:              r.URL,
			Status:           r.Status,
			Size:             r.Size,
			MimeType:         r.MimeType,
			ResponseBodyText: r.ResponseBodyText,
			Selected:         r.Selected,
		}
	}

	nodes, err := gs.Nodes()
	if err != nil {
		return nil, fmt.Errorf("reading graph nodes: %w", err)
	}
	links, err := gs.Links()
	if err != nil {
		return nil, fmt.Errorf("reading graph links: %w", err)
	}

	scraping, err := store.ListScrapingEntries()
	if err != nil {
		return nil, fmt.Errorf("reading scraping entries: %w", err)
	}
	scrapingOut := make([]ScrapingEntry, len(scraping))
	for i, e := range scraping {
		scrapingOut[i] = ScrapingEntry{
			ID:                 e.ID,
			SourceTypeKey:      e.SourceTypeKey,
			URL:                e.URL,
			OriginalRequest:    e.OriginalRequest,
			OriginalResponse:   e.OriginalResponse,
			FiltererJSON:       e.FiltererJSON,
			ConverterCode:      e.ConverterCode,
			FinalCleanResponse: e.FinalCleanResponse,
			ProcessingStatus:   e.ProcessingStatus,
			IsDeleted:          e.IsDeleted,
			CreatedAt:          e.CreatedAt,
			UpdatedAt:          e.UpdatedAt,
		}
	}

	msgs, err := store.ListChatMessages()
	if err != nil {
		return nil, fmt.Errorf("reading chat transcript: %w", err)
	}
	chat := make([]ChatMessage, len(msgs))
	for i, m := range msgs {
		chat[i] = ChatMessage{
			ID:        m.ID,
			Role:      m.Role,
			Text:      m.Text,
			CreatedAt: m.CreatedAt,
		}
		if m.ToolCallsJSON != "" && m.ToolCallsJSON != "[]" {
			chat[i].ToolCalls = json.RawMessage(m.ToolCallsJSON)
		}
	}

	if nodes == nil {
		nodes = []graph.Node{}
	}
	if links == nil {
		links = []graph.Link{}
	}
	return &Document{
		HarEntries:      entries,
		KnowledgeData:   &KnowledgeData{Nodes: nodes, Links: links},
		ChatHistory:     chat,
		ScrapingEntries: scrapingOut,
	}, nil
}
