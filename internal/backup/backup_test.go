package backup

import (
	"strings"
	"testing"
	"time"

	"hargraph/internal/graph"
	"hargraph/internal/storage"
)

const sampleDoc = `{
	"harEntries": [
		{"index": 0, "id": "r0", "method": "GET", "url": "https://api.example.com/users",
		 "status": 200, "size": 42, "mimeType": "application/json",
		 "responseBodyText": "{\"users\":[]}"}
	],
	"knowledgeData": {
		"nodes": [{"id": "u1", "type": "User", "label": "Ada", "data": {"id": "u1"}}],
		"links": [{"source": "u1", "target": "u1", "label": "self"}]
	},
	"chatHistory": [
		{"id": "m1", "role": "user", "text": "hello", "createdAt": "2026-01-02T03:04:05Z"}
	],
	"scrapingEntries": [
		{"id": "s1", "sourceTypeKey": "GET /users", "url": "https://api.example.com/users",
		 "originalRequest": "{}", "originalResponse": "{}", "processingStatus": "unprocessed",
		 "createdAt": "2026-01-02T03:04:05Z", "updatedAt": "2026-01-02T03:04:05Z"}
	]
}`

func TestParseValidDocument(t *testing.T) {
	doc, err := Parse(strings.NewReader(sampleDoc))
	if err != nil {
		t.Fatal(err)
	}
	if len(doc.HarEntries) != 1 || doc.HarEntries[0].ID != "r0" {
		t.Fatalf("harEntries = %+v", doc.HarEntries)
	}
	if len(doc.KnowledgeData.Nodes) != 1 || len(doc.KnowledgeData.Links) != 1 {
		t.Fatalf("knowledgeData = %+v", doc.KnowledgeData)
	}
}

func TestParseRejectsMissingSections(t *testing.T) {
	cases := map[string]string{
		"missing harEntries":    `{"knowledgeData": {"nodes": [], "links": []}}`,
		"missing knowledgeData": `{"harEntries": []}`,
		"not json":              `---`,
	}
	for name, body := range cases {
		if _, err := Parse(strings.NewReader(body)); err == nil {
			t.Errorf("%s: expected error", name)
		}
	}
}

func TestParseAcceptsEmptyArrays(t *testing.T) {
	doc, err := Parse(strings.NewReader(`{"harEntries": [], "knowledgeData": {"nodes": [], "links": []}}`))
	if err != nil {
		t.Fatal(err)
	}
	if len(doc.HarEntries) != 0 {
		t.Fatalf("harEntries = %+v", doc.HarEntries)
	}
}

func newStores(t *testing.T) (*storage.Store, graph.Store) {
	t.Helper()
	store, err := storage.Open(":memory:")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { store.Close() })
	return store, graph.NewSQLiteStore(store.DB())
}

func TestImportExportRoundTrip(t *testing.T) {
	store, gs := newStores(t)

	doc, err := Parse(strings.NewReader(sampleDoc))
	if err != nil {
		t.Fatal(err)
	}
	if err := Import(store, gs, doc); err != nil {
		t.Fatal(err)
	}

	out, err := Export(store, gs)
	if err != nil {
		t.Fatal(err)
	}
	if len(out.HarEntries) != 1 || out.HarEntries[0].URL != "https://api.example.com/users" {
		t.Fatalf("harEntries = %+v", out.HarEntries)
	}
	if len(out.KnowledgeData.Nodes) != 1 || out.KnowledgeData.Nodes[0].Label != "Ada" {
		t.Fatalf("nodes = %+v", out.KnowledgeData.Nodes)
	}
	if len(out.KnowledgeData.Links) != 1 {
		t.Fatalf("links = %+v", out.KnowledgeData.Links)
	}
	if len(out.ChatHistory) != 1 || out.ChatHistory[0].Text != "hello" {
		t.Fatalf("chatHistory = %+v", out.ChatHistory)
	}
	if len(out.ScrapingEntries) != 1 || out.ScrapingEntries[0].SourceTypeKey != "GET /users" {
		t.Fatalf("scrapingEntries = %+v", out.ScrapingEntries)
	}
}

func TestImportIsIdempotent(t *testing.T) {
	store, gs := newStores(t)

	doc, err := Parse(strings.NewReader(sampleDoc))
	if err != nil {
		t.Fatal(err)
	}
	if err := Import(store, gs, doc); err != nil {
		t.Fatal(err)
	}
	if err := Import(store, gs, doc); err != nil {
		t.Fatalf("second import: %v", err)
	}

	out, err := Export(store, gs)
	if err != nil {
		t.Fatal(err)
	}
	if len(out.HarEntries) != 1 {
		t.Fatalf("dataset duplicated: %d entries", len(out.HarEntries))
	}
	if len(out.ScrapingEntries) != 1 {
		t.Fatalf("scraping rows duplicated: %d", len(out.ScrapingEntries))
	}
	if len(out.ChatHistory) != 1 {
		t.Fatalf("chat duplicated: %d", len(out.ChatHistory))
	}
}

func TestImportRejectsInvalidBeforeWriting(t *testing.T) {
	store, gs := newStores(t)

	bad := &Document{HarEntries: []HarEntry{{Index: 0}}} // no knowledgeData, no id
	if err := Import(store, gs, bad); err == nil {
		t.Fatal("expected validation error")
	}

	records, err := store.ListHarRecords()
	if err != nil {
		t.Fatal(err)
	}
	if len(records) != 0 {
		t.Fatal("failed import must not write records")
	}
}

func TestExportEmptyProject(t *testing.T) {
	store, gs := newStores(t)

	out, err := Export(store, gs)
	if err != nil {
		t.Fatal(err)
	}
	if out.HarEntries == nil || out.KnowledgeData == nil {
		t.Fatalf("mandatory sections must be present: %+v", out)
	}
	if err := out.Validate(); err != nil {
		t.Fatalf("empty export should validate: %v", err)
	}
}

func TestChatTimestampSurvivesRoundTrip(t *testing.T) {
	store, gs := newStores(t)

	doc, _ := Parse(strings.NewReader(sampleDoc))
	if err := Import(store, gs, doc); err != nil {
		t.Fatal(err)
	}

	out, err := Export(store, gs)
	if err != nil {
		t.Fatal(err)
	}
	want := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	if !out.ChatHistory[0].CreatedAt.Equal(want) {
		t.Fatalf("createdAt = %v, want %v", out.ChatHistory[0].CreatedAt, want)
	}
}
