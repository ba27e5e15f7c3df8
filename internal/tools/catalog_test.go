package tools

import (
	"context"
	"testing"
	"time"

	"hargraph/internal/graph"
	"hargraph/internal/har"
	"hargraph/internal/proxy"
	"hargraph/internal/sandbox"
	"hargraph/internal/scrape"
	"hargraph/internal/storage"
)

type fakeProxy struct {
	resp *proxy.ExecuteResponse
	err  error
	last proxy.ExecuteRequest
}

func (f *fakeProxy) Execute(_ context.Context, req proxy.ExecuteRequest) (*proxy.ExecuteResponse, error) {
	f.last = req
	return f.resp, f.err
}

func newTestSession(t *testing.T, records []har.Record) (*Session, *storage.Store) {
	t.Helper()
	store, err := storage.Open(":memory:")
	if err != nil {
		t.Fatalf("open storage: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	gs := graph.NewSQLiteStore(store.DB())
	return &Session{
		Records:    records,
		GraphStore: gs,
		Linker:     graph.NewLinker(gs),
		Pipeline:   scrape.NewPipeline(store),
		Sandbox:    sandbox.New(2 * time.Second),
		Proxy:      &fakeProxy{resp: &proxy.ExecuteResponse{Status: 200, Content: "ok"}},
	}, store
}

func sampleRecords() []har.Record {
	return []har.Record{
		{
			Index: 0, ID: "r0", Method: "GET", URL: "https://api.example.com/users?page=1",
			Status: 200, MimeType: "application/json", Size: 64,
			ResponseBodyText: `{"users":[{"id":"u1","name":"Ada"},{"id":"u2","name":"Grace"}]}`,
		},
		{
			Index: 1, ID: "r1", Method: "GET", URL: "https://api.example.com/about",
			Status: 200, MimeType: "text/html", Size: 40,
			ResponseBodyText: "<html><body><p>Hello world</p></body></html>",
		},
	}
}

func dispatch(t *testing.T, sess *Session, name string, args map[string]any) map[string]any {
	t.Helper()
	return NewCatalog().Dispatch(context.Background(), sess, name, args)
}

func resultMap(t *testing.T, out map[string]any) map[string]any {
	t.Helper()
	if errVal, ok := out["error"]; ok {
		t.Fatalf("tool returned error: %v", errVal)
	}
	m, ok := out["result"].(map[string]any)
	if !ok {
		t.Fatalf("result is %T, want map", out["result"])
	}
	return m
}

func TestListEntries(t *testing.T) {
	sess, _ := newTestSession(t, sampleRecords())

	res := resultMap(t, dispatch(t, sess, "list_entries", nil))
	if res["count"] != 2 {
		t.Fatalf("count = %v, want 2", res["count"])
	}
	rows := res["entries"].([]map[string]any)
	if rows[0]["url"] != "https://api.example.com/users?page=1" {
		t.Fatalf("first row = %v", rows[0])
	}
	if _, ok := rows[0]["responseBodyText"]; ok {
		t.Fatal("listing must not include response bodies")
	}
}

func TestListEntriesHonorsSelection(t *testing.T) {
	records := sampleRecords()
	records[1].Selected = true
	sess, _ := newTestSession(t, records)

	res := resultMap(t, dispatch(t, sess, "list_entries", nil))
	if res["count"] != 1 {
		t.Fatalf("count = %v, want 1 (only selected)", res["count"])
	}
}

func TestGetEntryStructure(t *testing.T) {
	sess, _ := newTestSession(t, sampleRecords())

	out := dispatch(t, sess, "get_entry_structure", map[string]any{"index": float64(0)})
	if out["error"] != nil {
		t.Fatalf("error: %v", out["error"])
	}
	body := out["result"].(map[string]any)
	users := body["users"].([]any)
	if len(users) != 1 {
		t.Fatalf("summarized array should collapse to one element, got %v", users)
	}
	rep := users[0].(map[string]any)
	if rep["id"] != "u1" || rep["name"] != "Ada" {
		t.Fatalf("representative = %v", rep)
	}
}

func TestGetEntryStructureNonJSON(t *testing.T) {
	sess, _ := newTestSession(t, sampleRecords())

	out := dispatch(t, sess, "get_entry_structure", map[string]any{"index": float64(1)})
	if out["error"] == nil {
		t.Fatal("expected error for HTML body")
	}
}

func TestGetEntryStructureUnknownIndex(t *testing.T) {
	sess, _ := newTestSession(t, sampleRecords())

	out := dispatch(t, sess, "get_entry_structure", map[string]any{"index": float64(9)})
	if out["error"] == nil {
		t.Fatal("expected error for missing index")
	}
}

func TestGetEntryContentTruncatesAndExtracts(t *testing.T) {
	sess, _ := newTestSession(t, sampleRecords())

	res := resultMap(t, dispatch(t, sess, "get_entry_content", map[string]any{
		"index": float64(1), "max_chars": float64(5),
	}))
	content := res["content"].(string)
	if len(content) <= 5 {
		t.Fatalf("truncated content should carry a marker, got %q", content)
	}
	if content[:5] != "Hello" {
		t.Fatalf("HTML should be reduced to text, got %q", content)
	}
}

func TestRunExtractionCodeMergesIntoGraph(t *testing.T) {
	sess, _ := newTestSession(t, sampleRecords())

	code := `
		var body = JSON.parse(entries[0].responseBodyText);
		return body.users.map(function(u) {
			return {id: u.id, type: "User", label: u.name, data: {id: u.id}};
		});`
	res := resultMap(t, dispatch(t, sess, "run_extraction_code", map[string]any{"code": code}))
	if res["success"] != true {
		t.Fatalf("result: %v", res)
	}
	if res["nodes_added"] != 2 {
		t.Fatalf("nodes_added = %v, want 2", res["nodes_added"])
	}

	nodes, err := sess.GraphStore.Nodes()
	if err != nil {
		t.Fatal(err)
	}
	if len(nodes) != 2 {
		t.Fatalf("graph has %d nodes, want 2", len(nodes))
	}
}

func TestRunExtractionCodeScriptFailure(t *testing.T) {
	sess, _ := newTestSession(t, sampleRecords())

	res := resultMap(t, dispatch(t, sess, "run_extraction_code", map[string]any{
		"code": `throw new Error("bad selector");`,
	}))
	if res["success"] != false {
		t.Fatalf("expected failure result, got %v", res)
	}
	if res["error"] != "bad selector" {
		t.Fatalf("error = %v", res["error"])
	}

	nodes, _ := sess.GraphStore.Nodes()
	if len(nodes) != 0 {
		t.Fatal("failed script must not touch the graph")
	}
}

func TestCreateNodeAndEdge(t *testing.T) {
	sess, _ := newTestSession(t, sampleRecords())

	res := resultMap(t, dispatch(t, sess, "create_node", map[string]any{
		"id": "u1", "type": "User", "label": "Ada",
	}))
	if res["created"] != true {
		t.Fatalf("create_node: %v", res)
	}

	// Same id again is a no-op.
	res = resultMap(t, dispatch(t, sess, "create_node", map[string]any{
		"id": "u1", "type": "User", "label": "Ada again",
	}))
	if res["created"] != false {
		t.Fatalf("duplicate create_node should not create: %v", res)
	}

	resultMap(t, dispatch(t, sess, "create_node", map[string]any{
		"id": "t1", "type": "Team", "label": "Compilers",
	}))
	resultMap(t, dispatch(t, sess, "create_edge", map[string]any{
		"source": "u1", "target": "t1", "label": "member_of",
	}))

	links, err := sess.GraphStore.Links()
	if err != nil {
		t.Fatal(err)
	}
	if len(links) != 1 || links[0].Label != "member_of" {
		t.Fatalf("links = %v", links)
	}
}

func TestCreateNodeGeneratedID(t *testing.T) {
	sess, _ := newTestSession(t, sampleRecords())

	res := resultMap(t, dispatch(t, sess, "create_node", map[string]any{
		"type": "User", "label": "Ada",
	}))
	if res["created"] != true {
		t.Fatalf("create_node: %v", res)
	}
	id, _ := res["id"].(string)
	if id == "" {
		t.Fatal("create_node returned empty id")
	}

	nodes, err := sess.GraphStore.Nodes()
	if err != nil {
		t.Fatal(err)
	}
	if len(nodes) != 1 || nodes[0].ID != id {
		t.Fatalf("nodes = %v, want one node with id %q", nodes, id)
	}
}

func TestCreateNodeMissingType(t *testing.T) {
	sess, _ := newTestSession(t, sampleRecords())

	out := dispatch(t, sess, "create_node", map[string]any{"label": "Ada"})
	if out["error"] == nil {
		t.Fatal("expected error for missing type")
	}
}

func TestSyncAndListScrapingTable(t *testing.T) {
	sess, _ := newTestSession(t, sampleRecords())

	res := resultMap(t, dispatch(t, sess, "sync_entries", nil))
	if res["synced"] != 2 {
		t.Fatalf("synced = %v, want 2", res["synced"])
	}

	// Re-sync is idempotent.
	res = resultMap(t, dispatch(t, sess, "sync_entries", nil))
	if res["synced"] != 0 {
		t.Fatalf("resync synced = %v, want 0", res["synced"])
	}

	table := resultMap(t, dispatch(t, sess, "list_scraping_table", nil))
	groups := table["groups"].([]map[string]any)
	if len(groups) != 2 {
		t.Fatalf("groups = %v", groups)
	}
}

func TestFindSimilarEntry(t *testing.T) {
	sess, store := newTestSession(t, sampleRecords())

	resultMap(t, dispatch(t, sess, "sync_entries", nil))

	res := resultMap(t, dispatch(t, sess, "find_similar_entry", map[string]any{
		"method": "GET", "url": "https://api.example.com/users?page=99",
	}))
	if res["found"] != false {
		t.Fatalf("no finished entry yet, got %v", res)
	}

	entries, err := store.ListScrapingEntries()
	if err != nil {
		t.Fatal(err)
	}
	var id string
	for _, e := range entries {
		if e.SourceTypeKey == "GET /users" {
			id = e.ID
		}
	}
	resultMap(t, dispatch(t, sess, "update_scraping_entry", map[string]any{
		"id": id, "filterer_json": `{"pick":["users"]}`, "converter_code": "return x;",
		"final_clean_response": `[{"id":"u1"}]`,
	}))

	res = resultMap(t, dispatch(t, sess, "find_similar_entry", map[string]any{
		"method": "GET", "url": "https://api.example.com/users?page=99",
	}))
	if res["found"] != true || res["filterer_json"] != `{"pick":["users"]}` {
		t.Fatalf("similar lookup = %v", res)
	}
}

func TestUpdateScrapingEntryRejectsRegression(t *testing.T) {
	sess, store := newTestSession(t, sampleRecords())
	resultMap(t, dispatch(t, sess, "sync_entries", nil))

	entries, _ := store.ListScrapingEntries()
	id := entries[0].ID

	resultMap(t, dispatch(t, sess, "update_scraping_entry", map[string]any{
		"id": id, "filterer_json": `{}`,
	}))
	out := dispatch(t, sess, "update_scraping_entry", map[string]any{
		"id": id, "status": scrape.StatusUnprocessed,
	})
	if out["error"] == nil {
		t.Fatal("expected regression to be rejected")
	}
}

func TestDeleteScrapingEntry(t *testing.T) {
	sess, store := newTestSession(t, sampleRecords())
	resultMap(t, dispatch(t, sess, "sync_entries", nil))

	entries, _ := store.ListScrapingEntries()
	id := entries[0].ID

	res := resultMap(t, dispatch(t, sess, "delete_scraping_entry", map[string]any{"id": id}))
	if res["deleted"] != true {
		t.Fatalf("delete = %v", res)
	}

	out := dispatch(t, sess, "delete_scraping_entry", map[string]any{"id": "missing"})
	if out["error"] == nil {
		t.Fatal("expected error for unknown id")
	}
}

func TestExecuteRequest(t *testing.T) {
	sess, _ := newTestSession(t, sampleRecords())
	fp := sess.Proxy.(*fakeProxy)
	fp.resp = &proxy.ExecuteResponse{Status: 201, Content: "created"}

	res := resultMap(t, dispatch(t, sess, "execute_request", map[string]any{
		"url":     "https://api.example.com/orders",
		"method":  "POST",
		"body":    `{"sku":"x"}`,
		"headers": map[string]any{"Authorization": "Bearer t"},
	}))
	if res["status"] != 201 || res["content"] != "created" {
		t.Fatalf("execute result = %v", res)
	}
	if fp.last.Method != "POST" || fp.last.Headers["Authorization"] != "Bearer t" {
		t.Fatalf("proxy request = %+v", fp.last)
	}
}

func TestExecuteRequestRequiresURL(t *testing.T) {
	sess, _ := newTestSession(t, sampleRecords())

	out := dispatch(t, sess, "execute_request", map[string]any{"method": "GET"})
	if out["error"] == nil {
		t.Fatal("expected error for missing url")
	}
}
