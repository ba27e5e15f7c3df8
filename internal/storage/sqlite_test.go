package storage

import (
	"errors"
	"testing"
	"time"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(":memory:")
	if err != nil {
		t.Fatalf("Open(:memory:) error: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestHarRecords_ReplaceAndList(t *testing.T) {
	s := newTestStore(t)

	records := []HarRecord{
		{Idx: 0, ID: "r1", Method: "GET", URL: "https://x.test/a", Status: 200, MimeType: "application/json", ResponseBodyText: "{}"},
		{Idx: 1, ID: "r2", Method: "POST", URL: "https://x.test/b", Status: 404},
	}
	if err := s.ReplaceHarRecords(records); err != nil {
		t.Fatalf("ReplaceHarRecords() error: %v", err)
	}

	got, err := s.ListHarRecords()
	if err != nil {
		t.Fatalf("ListHarRecords() error: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("len = %d, want 2", len(got))
	}
	if got[0].ID != "r1" || got[1].ID != "r2" {
		t.Errorf("order wrong: %v, %v", got[0].ID, got[1].ID)
	}

	// Re-import replaces, not appends.
	if err := s.ReplaceHarRecords(records[:1]); err != nil {
		t.Fatalf("second ReplaceHarRecords() error: %v", err)
	}
	got, _ = s.ListHarRecords()
	if len(got) != 1 {
		t.Errorf("after replace: len = %d, want 1", len(got))
	}
}

func TestHarRecords_SetSelected(t *testing.T) {
	s := newTestStore(t)
	if err := s.ReplaceHarRecords([]HarRecord{{Idx: 0, ID: "r1", Method: "GET", URL: "u"}}); err != nil {
		t.Fatal(err)
	}

	if err := s.SetHarRecordSelected("r1", true); err != nil {
		t.Fatalf("SetHarRecordSelected() error: %v", err)
	}
	got, _ := s.ListHarRecords()
	if !got[0].Selected {
		t.Error("record not selected after update")
	}

	if err := s.SetHarRecordSelected("missing", true); !errors.Is(err, ErrNotFound) {
		t.Errorf("missing record: err = %v, want ErrNotFound", err)
	}
}

func TestScrapingEntries_CRUD(t *testing.T) {
	s := newTestStore(t)
	now := time.Now().UTC().Truncate(time.Second)

	e := ScrapingEntry{
		ID:               "e1",
		SourceTypeKey:    "GET /v1/users",
		URL:              "https://x.test/v1/users",
		OriginalResponse: `{"users":[]}`,
		ProcessingStatus: "unprocessed",
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if err := s.SaveScrapingEntry(e); err != nil {
		t.Fatalf("SaveScrapingEntry() error: %v", err)
	}

	got, err := s.GetScrapingEntry("e1")
	if err != nil {
		t.Fatalf("GetScrapingEntry() error: %v", err)
	}
	if got.SourceTypeKey != e.SourceTypeKey || got.ProcessingStatus != "unprocessed" {
		t.Errorf("got %+v", got)
	}
	if !got.CreatedAt.Equal(now) {
		t.Errorf("CreatedAt = %v, want %v", got.CreatedAt, now)
	}

	got.FiltererJSON = `{"fields":["id"]}`
	got.ProcessingStatus = "filtered"
	got.UpdatedAt = now.Add(time.Second)
	if err := s.UpdateScrapingEntry(got); err != nil {
		t.Fatalf("UpdateScrapingEntry() error: %v", err)
	}

	updated, _ := s.GetScrapingEntry("e1")
	if updated.ProcessingStatus != "filtered" || updated.FiltererJSON == "" {
		t.Errorf("update not applied: %+v", updated)
	}

	if _, err := s.GetScrapingEntry("missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("missing entry: err = %v, want ErrNotFound", err)
	}
	if err := s.UpdateScrapingEntry(ScrapingEntry{ID: "missing", UpdatedAt: now}); !errors.Is(err, ErrNotFound) {
		t.Errorf("update missing: err = %v, want ErrNotFound", err)
	}
}

func TestScrapingGroups(t *testing.T) {
	s := newTestStore(t)
	base := time.Now().UTC().Truncate(time.Second)

	save := func(id, key, status string, deleted bool, offset time.Duration) {
		t.Helper()
		err := s.SaveScrapingEntry(ScrapingEntry{
			ID: id, SourceTypeKey: key, URL: "https://x.test",
			ProcessingStatus: status, IsDeleted: deleted,
			CreatedAt: base.Add(offset), UpdatedAt: base.Add(offset),
		})
		if err != nil {
			t.Fatal(err)
		}
	}

	save("a1", "GET /users", "unprocessed", false, 0)
	save("a2", "GET /users", "final_response", false, time.Second)
	save("b1", "POST /orders", "filtered", false, 0)
	save("c1", "GET /hidden", "unprocessed", true, 0)

	groups, err := s.ListScrapingGroups()
	if err != nil {
		t.Fatalf("ListScrapingGroups() error: %v", err)
	}
	if len(groups) != 2 {
		t.Fatalf("len = %d, want 2 (deleted group excluded)", len(groups))
	}
	if groups[0].SourceTypeKey != "GET /users" || groups[0].Count != 2 {
		t.Errorf("groups[0] = %+v", groups[0])
	}
	// Representative is the most recently updated row.
	if groups[0].Status != "final_response" {
		t.Errorf("representative status = %q, want final_response", groups[0].Status)
	}

	final, err := s.FindFinalInGroup("GET /users")
	if err != nil {
		t.Fatalf("FindFinalInGroup() error: %v", err)
	}
	if final.ID != "a2" {
		t.Errorf("final.ID = %q, want a2", final.ID)
	}

	if _, err := s.FindFinalInGroup("POST /orders"); !errors.Is(err, ErrNotFound) {
		t.Errorf("no final row: err = %v, want ErrNotFound", err)
	}
}

func TestChatMessages_AppendOnlyOrder(t *testing.T) {
	s := newTestStore(t)
	base := time.Now().UTC().Truncate(time.Second)

	for i, m := range []ChatMessage{
		{ID: "m1", Role: "user", Text: "hello"},
		{ID: "m2", Role: "model", Text: "", ToolCallsJSON: `[{"id":"c1","name":"list_entries","status":"success"}]`},
		{ID: "m3", Role: "model", Text: "done"},
	} {
		m.CreatedAt = base.Add(time.Duration(i) * time.Second)
		if err := s.AppendChatMessage(m); err != nil {
			t.Fatalf("AppendChatMessage(%s) error: %v", m.ID, err)
		}
	}

	msgs, err := s.ListChatMessages()
	if err != nil {
		t.Fatalf("ListChatMessages() error: %v", err)
	}
	if len(msgs) != 3 {
		t.Fatalf("len = %d, want 3", len(msgs))
	}
	if msgs[0].ID != "m1" || msgs[2].ID != "m3" {
		t.Errorf("order: %s, %s, %s", msgs[0].ID, msgs[1].ID, msgs[2].ID)
	}
	if msgs[0].ToolCallsJSON != "[]" {
		t.Errorf("empty tool calls stored as %q, want []", msgs[0].ToolCallsJSON)
	}
	if msgs[1].ToolCallsJSON == "[]" {
		t.Error("tool calls lost on round-trip")
	}
}
