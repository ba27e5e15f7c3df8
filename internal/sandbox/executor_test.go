package sandbox

import (
	"context"
	"strings"
	"testing"
	"time"
)

func testEntries() []map[string]any {
	return []map[string]any{
		{"id": "1", "url": "https://example.com/api/users", "status": int64(200)},
		{"id": "2", "url": "https://example.com/static/logo.png", "status": int64(200)},
		{"id": "3", "url": "https://example.com/api/orders", "status": int64(404)},
	}
}

func TestExecute_ReturnedArray(t *testing.T) {
	e := New(0)
	res := e.Execute(context.Background(), `return entries.filter(e => e.url.includes("api"))`, testEntries())

	if !res.Success {
		t.Fatalf("Success = false, error = %q", res.Error)
	}
	if len(res.Data) != 2 {
		t.Fatalf("len(Data) = %d, want 2", len(res.Data))
	}
	first, ok := res.Data[0].(map[string]any)
	if !ok {
		t.Fatalf("Data[0] = %T, want map", res.Data[0])
	}
	if first["id"] != "1" {
		t.Errorf("Data[0].id = %v, want 1", first["id"])
	}
}

func TestExecute_Accumulator(t *testing.T) {
	e := New(0)
	script := `
		for (const e of entries) {
			if (e.status === 404) {
				results.push({ id: e.id, broken: true });
			}
		}
	`
	res := e.Execute(context.Background(), script, testEntries())

	if !res.Success {
		t.Fatalf("Success = false, error = %q", res.Error)
	}
	if len(res.Data) != 1 {
		t.Fatalf("len(Data) = %d, want 1", len(res.Data))
	}
	item, ok := res.Data[0].(map[string]any)
	if !ok {
		t.Fatalf("Data[0] = %T, want map", res.Data[0])
	}
	if item["broken"] != true {
		t.Errorf("item.broken = %v, want true", item["broken"])
	}
}

func TestExecute_ThrowBecomesError(t *testing.T) {
	e := New(0)
	res := e.Execute(context.Background(), `throw new Error("boom")`, testEntries())

	if res.Success {
		t.Fatal("Success = true, want false")
	}
	if res.Error != "boom" {
		t.Errorf("Error = %q, want %q", res.Error, "boom")
	}
}

func TestExecute_SyntaxError(t *testing.T) {
	e := New(0)
	res := e.Execute(context.Background(), `this is not javascript {{{`, testEntries())

	if res.Success {
		t.Fatal("Success = true, want false")
	}
	if res.Error == "" {
		t.Error("Error is empty, want a message")
	}
}

func TestExecute_NonArrayReturn(t *testing.T) {
	e := New(0)
	res := e.Execute(context.Background(), `return 42`, testEntries())

	if res.Success {
		t.Fatal("Success = true, want false")
	}
	if !strings.Contains(res.Error, "array") {
		t.Errorf("Error = %q, want mention of array", res.Error)
	}
}

func TestExecute_InfiniteLoopInterrupted(t *testing.T) {
	e := New(100 * time.Millisecond)

	start := time.Now()
	res := e.Execute(context.Background(), `while (true) {}`, nil)
	elapsed := time.Since(start)

	if res.Success {
		t.Fatal("Success = true, want false")
	}
	if !strings.Contains(res.Error, "budget") {
		t.Errorf("Error = %q, want budget message", res.Error)
	}
	if elapsed > 2*time.Second {
		t.Errorf("interrupt took %v, want well under 2s", elapsed)
	}
}

func TestExecute_ConsoleLogsCaptured(t *testing.T) {
	e := New(0)
	script := `
		console.log("checking", entries.length, "entries");
		return [];
	`
	res := e.Execute(context.Background(), script, testEntries())

	if !res.Success {
		t.Fatalf("Success = false, error = %q", res.Error)
	}
	if len(res.Logs) != 1 {
		t.Fatalf("len(Logs) = %d, want 1", len(res.Logs))
	}
	if !strings.Contains(res.Logs[0], "checking") {
		t.Errorf("Logs[0] = %q", res.Logs[0])
	}
}

func TestExecute_EmptyReturnedArray(t *testing.T) {
	e := New(0)
	res := e.Execute(context.Background(), `return []`, testEntries())

	if !res.Success {
		t.Fatalf("Success = false, error = %q", res.Error)
	}
	if len(res.Data) != 0 {
		t.Errorf("len(Data) = %d, want 0", len(res.Data))
	}
}

func TestExecute_NoNetworkAccess(t *testing.T) {
	e := New(0)
	res := e.Execute(context.Background(), `return [typeof fetch, typeof XMLHttpRequest, typeof require]`, nil)

	if !res.Success {
		t.Fatalf("Success = false, error = %q", res.Error)
	}
	for i, v := range res.Data {
		if v != "undefined" {
			t.Errorf("Data[%d] = %v, want undefined", i, v)
		}
	}
}
