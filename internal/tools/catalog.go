package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"hargraph/internal/graph"
	"hargraph/internal/har"
	"hargraph/internal/proxy"
	"hargraph/internal/scrape"
	"hargraph/internal/storage"
	"hargraph/internal/summary"
)

const (
	defaultContentChars = 2000
	maxContentChars     = 50000
	proxyContentChars   = 8000
)

// NewCatalog builds the full tool registry. Called once at startup.
func NewCatalog() *Registry {
	r := NewRegistry()

	r.Register(Definition{
		Name:        "list_entries",
		Description: "List the active dataset records: index, method, URL, status, MIME type and size. Response bodies are not included.",
	}, listEntries)

	r.Register(Definition{
		Name:        "get_entry_structure",
		Description: "Return a structural summary of a record's JSON response body: all object keys are kept, every array is collapsed to one representative element, long strings are truncated.",
		Params: map[string]Param{
			"index": {Type: "number", Description: "Capture index of the record", Required: true},
		},
	}, getEntryStructure)

	r.Register(Definition{
		Name:        "get_entry_content",
		Description: "Return a record's response body as text, capped at max_chars. HTML and PDF bodies are reduced to plain text. Call again with a larger max_chars to see more.",
		Params: map[string]Param{
			"index":     {Type: "number", Description: "Capture index of the record", Required: true},
			"max_chars": {Type: "number", Description: "Maximum characters to return (default 2000)"},
		},
	}, getEntryContent)

	r.Register(Definition{
		Name:        "run_extraction_code",
		Description: "Run a JavaScript snippet against the active records to extract entities. The snippet receives `entries` (array of {index,id,method,url,status,size,mimeType,responseBodyText}) and must return an array of {id,type,label,data} objects or push them onto `results`. Successful output is merged into the knowledge graph.",
		Params: map[string]Param{
			"code": {Type: "string", Description: "JavaScript function body", Required: true},
		},
	}, runExtractionCode)

	r.Register(Definition{
		Name:        "create_node",
		Description: "Add a single entity to the knowledge graph. No-op if a node with the same id already exists.",
		Params: map[string]Param{
			"id":    {Type: "string", Description: "Entity id (generated when omitted)"},
			"type":  {Type: "string", Description: "Category label, e.g. User or Order", Required: true},
			"label": {Type: "string", Description: "Display name", Required: true},
			"data":  {Type: "object", Description: "Arbitrary key/value payload"},
		},
	}, createNode)

	r.Register(Definition{
		Name:        "create_edge",
		Description: "Add a directed relationship between two existing nodes.",
		Params: map[string]Param{
			"source": {Type: "string", Description: "Source node id", Required: true},
			"target": {Type: "string", Description: "Target node id", Required: true},
			"label":  {Type: "string", Description: "Relation name", Required: true},
		},
	}, createEdge)

	r.Register(Definition{
		Name:        "sync_entries",
		Description: "Pull the active dataset records into the scraping working set, one unprocessed row per record. Already-synced records are skipped.",
	}, syncEntries)

	r.Register(Definition{
		Name:        "list_scraping_table",
		Description: "List the scraping working set grouped by source type key (method + URL path), with a representative status and filter per group.",
	}, listScrapingTable)

	r.Register(Definition{
		Name:        "find_similar_entry",
		Description: "Find the best finished (final_response) scraping row for a method/URL pair and return its filterer and converter for reuse.",
		Params: map[string]Param{
			"method": {Type: "string", Description: "HTTP method", Required: true},
			"url":    {Type: "string", Description: "Full URL", Required: true},
		},
	}, findSimilarEntry)

	r.Register(Definition{
		Name:        "update_scraping_entry",
		Description: "Update a scraping row. Setting filterer_json or converter_code advances its status; an explicit status may not move the row backwards.",
		Params: map[string]Param{
			"id":                   {Type: "string", Description: "Row id", Required: true},
			"filterer_json":        {Type: "string", Description: "Derived schema/filter JSON"},
			"converter_code":       {Type: "string", Description: "Transformation script text"},
			"final_clean_response": {Type: "string", Description: "Final cleaned output"},
			"status":               {Type: "string", Description: "Explicit processing status"},
		},
	}, updateScrapingEntry)

	r.Register(Definition{
		Name:        "delete_scraping_entry",
		Description: "Soft-delete a scraping row. It disappears from listings but stays retrievable by id.",
		Params: map[string]Param{
			"id": {Type: "string", Description: "Row id", Required: true},
		},
	}, deleteScrapingEntry)

	r.Register(Definition{
		Name:        "execute_request",
		Description: "Replay an HTTP request through the external proxy and return the normalized {status, content} result.",
		Params: map[string]Param{
			"url":     {Type: "string", Description: "Target URL", Required: true},
			"method":  {Type: "string", Description: "HTTP method (default GET)"},
			"headers": {Type: "object", Description: "Request headers"},
			"body":    {Type: "string", Description: "Request body"},
		},
	}, executeRequest)

	return r
}

// --- argument helpers ---

func argString(args map[string]any, key string) (string, bool) {
	v, ok := args[key].(string)
	return v, ok && v != ""
}

func requireString(args map[string]any, key string) (string, error) {
	v, ok := argString(args, key)
	if !ok {
		return "", fmt.Errorf("%s is required", key)
	}
	return v, nil
}

// argInt accepts the numeric encodings JSON decoding may produce.
func argInt(args map[string]any, key string) (int, bool) {
	switch v := args[key].(type) {
	case float64:
		return int(v), true
	case int:
		return v, true
	case int64:
		return int(v), true
	case json.Number:
		if n, err := v.Int64(); err == nil {
			return int(n), true
		}
	}
	return 0, false
}

// --- implementations ---

func listEntries(_ context.Context, sess *Session, _ map[string]any) (any, error) {
	active := sess.Active()
	rows := make([]map[string]any, len(active))
	for i, r := range active {
		rows[i] = map[string]any{
			"index":    r.Index,
			"method":   r.Method,
			"url":      r.URL,
			"status":   r.Status,
			"mimeType": r.MimeType,
			"size":     r.Size,
		}
	}
	return map[string]any{"count": len(rows), "entries": rows}, nil
}

func getEntryStructure(_ context.Context, sess *Session, args map[string]any) (any, error) {
	index, ok := argInt(args, "index")
	if !ok {
		return nil, errors.New("index is required")
	}
	rec, ok := sess.record(index)
	if !ok {
		return nil, fmt.Errorf("no active record with index %d", index)
	}

	var body any
	if err := json.Unmarshal([]byte(rec.ResponseBodyText), &body); err != nil {
		return nil, fmt.Errorf("record %d body is not JSON (%s); use get_entry_content instead", index, rec.MimeType)
	}
	return summary.Summarize(body), nil
}

func getEntryContent(_ context.Context, sess *Session, args map[string]any) (any, error) {
	index, ok := argInt(args, "index")
	if !ok {
		return nil, errors.New("index is required")
	}
	rec, ok := sess.record(index)
	if !ok {
		return nil, fmt.Errorf("no active record with index %d", index)
	}

	maxChars, ok := argInt(args, "max_chars")
	if !ok || maxChars <= 0 {
		maxChars = defaultContentChars
	}
	if maxChars > maxContentChars {
		maxChars = maxContentChars
	}

	text := har.ExtractText(rec.MimeType, rec.ResponseBodyText)
	return map[string]any{
		"index":    rec.Index,
		"mimeType": rec.MimeType,
		"content":  summary.Truncate(text, maxChars),
	}, nil
}

func runExtractionCode(ctx context.Context, sess *Session, args map[string]any) (any, error) {
	code, err := requireString(args, "code")
	if err != nil {
		return nil, err
	}

	active := sess.Active()
	records := make([]map[string]any, len(active))
	for i, r := range active {
		records[i] = r.AsMap()
	}

	res := sess.Sandbox.Execute(ctx, code, records)
	if !res.Success {
		return map[string]any{"success": false, "error": res.Error, "logs": res.Logs}, nil
	}

	nodes := make([]graph.Node, 0, len(res.Data))
	for _, item := range res.Data {
		nodes = append(nodes, nodeFromValue(item))
	}
	merge, err := sess.Linker.Merge(nodes)
	if err != nil {
		return nil, fmt.Errorf("merging extracted entities: %w", err)
	}

	return map[string]any{
		"success":       true,
		"extracted":     len(nodes),
		"nodes_added":   merge.NodesAdded,
		"nodes_skipped": merge.NodesKept,
		"links_added":   merge.LinksAdded,
		"logs":          res.Logs,
	}, nil
}

// nodeFromValue coerces one extracted item into an entity. Items shaped as
// {id, type, label, data} map directly; any other keys are folded into Data
// so nothing the script produced is lost.
func nodeFromValue(v any) graph.Node {
	m, ok := v.(map[string]any)
	if !ok {
		return graph.Node{Type: "Extracted", Label: fmt.Sprintf("%v", v)}
	}

	var n graph.Node
	extra := make(map[string]any)
	for k, val := range m {
		switch k {
		case "id":
			if s, ok := val.(string); ok {
				n.ID = s
				continue
			}
		case "type":
			if s, ok := val.(string); ok {
				n.Type = s
				continue
			}
		case "label":
			if s, ok := val.(string); ok {
				n.Label = s
				continue
			}
		case "data":
			if d, ok := val.(map[string]any); ok {
				n.Data = d
				continue
			}
		}
		extra[k] = val
	}

	if n.Data == nil {
		n.Data = extra
	} else {
		for k, val := range extra {
			if _, exists := n.Data[k]; !exists {
				n.Data[k] = val
			}
		}
	}
	if len(n.Data) == 0 {
		n.Data = nil
	}
	if n.Type == "" {
		n.Type = "Extracted"
	}
	if n.Label == "" {
		n.Label = n.ID
	}
	return n
}

func createNode(_ context.Context, sess *Session, args map[string]any) (any, error) {
	nodeType, err := requireString(args, "type")
	if err != nil {
		return nil, err
	}
	label, err := requireString(args, "label")
	if err != nil {
		return nil, err
	}

	n := graph.Node{Type: nodeType, Label: label}
	n.ID, _ = argString(args, "id")
	if data, ok := args["data"].(map[string]any); ok {
		n.Data = data
	}

	// Merge fills in a generated ID when none was given; read it back from
	// the batch so the model can reference the node it created.
	batch := []graph.Node{n}
	res, err := sess.Linker.Merge(batch)
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"id":          batch[0].ID,
		"created":     res.NodesAdded == 1,
		"links_added": res.LinksAdded,
	}, nil
}

func createEdge(_ context.Context, sess *Session, args map[string]any) (any, error) {
	source, err := requireString(args, "source")
	if err != nil {
		return nil, err
	}
	target, err := requireString(args, "target")
	if err != nil {
		return nil, err
	}
	label, err := requireString(args, "label")
	if err != nil {
		return nil, err
	}

	if err := sess.GraphStore.AppendLink(graph.Link{Source: source, Target: target, Label: label}); err != nil {
		return nil, fmt.Errorf("adding edge: %w", err)
	}
	return map[string]any{"source": source, "target": target, "label": label}, nil
}

func syncEntries(_ context.Context, sess *Session, _ map[string]any) (any, error) {
	created := 0
	for _, rec := range sess.Active() {
		_, isNew, err := sess.Pipeline.Sync(rec)
		if err != nil {
			return nil, fmt.Errorf("syncing record %s: %w", rec.ID, err)
		}
		if isNew {
			created++
		}
	}
	return map[string]any{"synced": created, "total_active": len(sess.Active())}, nil
}

func listScrapingTable(_ context.Context, sess *Session, _ map[string]any) (any, error) {
	groups, err := sess.Pipeline.Groups()
	if err != nil {
		return nil, fmt.Errorf("listing groups: %w", err)
	}

	rows := make([]map[string]any, len(groups))
	for i, g := range groups {
		rows[i] = map[string]any{
			"source_type_key": g.SourceTypeKey,
			"count":           g.Count,
			"status":          g.Status,
			"filterer_json":   g.FiltererJSON,
		}
	}
	return map[string]any{"groups": rows}, nil
}

func findSimilarEntry(_ context.Context, sess *Session, args map[string]any) (any, error) {
	method, err := requireString(args, "method")
	if err != nil {
		return nil, err
	}
	url, err := requireString(args, "url")
	if err != nil {
		return nil, err
	}

	entry, err := sess.Pipeline.FindSimilar(method, url)
	if errors.Is(err, storage.ErrNotFound) {
		return map[string]any{"found": false}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("looking up similar entry: %w", err)
	}

	return map[string]any{
		"found":          true,
		"id":             entry.ID,
		"filterer_json":  entry.FiltererJSON,
		"converter_code": entry.ConverterCode,
	}, nil
}

func updateScrapingEntry(_ context.Context, sess *Session, args map[string]any) (any, error) {
	id, err := requireString(args, "id")
	if err != nil {
		return nil, err
	}

	var u scrape.Update
	if v, ok := argString(args, "filterer_json"); ok {
		u.FiltererJSON = &v
	}
	if v, ok := argString(args, "converter_code"); ok {
		u.ConverterCode = &v
	}
	if v, ok := argString(args, "final_clean_response"); ok {
		u.FinalCleanResponse = &v
	}
	if v, ok := argString(args, "status"); ok {
		u.Status = &v
	}

	entry, err := sess.Pipeline.Apply(id, u)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("no scraping entry with id %s", id)
	}
	if err != nil {
		return nil, err
	}
	return map[string]any{"id": entry.ID, "status": entry.ProcessingStatus}, nil
}

func deleteScrapingEntry(_ context.Context, sess *Session, args map[string]any) (any, error) {
	id, err := requireString(args, "id")
	if err != nil {
		return nil, err
	}

	if err := sess.Pipeline.SoftDelete(id); errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("no scraping entry with id %s", id)
	} else if err != nil {
		return nil, err
	}
	return map[string]any{"id": id, "deleted": true}, nil
}

func executeRequest(ctx context.Context, sess *Session, args map[string]any) (any, error) {
	url, err := requireString(args, "url")
	if err != nil {
		return nil, err
	}

	req := proxy.ExecuteRequest{URL: url}
	req.Method, _ = argString(args, "method")
	req.Body, _ = argString(args, "body")
	if headers, ok := args["headers"].(map[string]any); ok {
		req.Headers = make(map[string]string, len(headers))
		for k, v := range headers {
			if s, ok := v.(string); ok {
				req.Headers[k] = s
			}
		}
	}

	resp, err := sess.Proxy.Execute(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("proxy execution failed: %w", err)
	}
	return map[string]any{
		"status":  resp.Status,
		"content": summary.Truncate(resp.Content, proxyContentChars),
	}, nil
}
