package tools

import (
	"context"

	"hargraph/internal/graph"
	"hargraph/internal/har"
	"hargraph/internal/proxy"
	"hargraph/internal/sandbox"
	"hargraph/internal/scrape"
)

// ProxyExecutor abstracts the replay proxy for tool implementations.
type ProxyExecutor interface {
	Execute(ctx context.Context, req proxy.ExecuteRequest) (*proxy.ExecuteResponse, error)
}

// Session is the explicit per-project context handle passed into every tool
// implementation. Tool bodies never touch ambient globals; everything they
// may read or mutate hangs off this struct.
type Session struct {
	Records    []har.Record
	GraphStore graph.Store
	Linker     *graph.Linker
	Pipeline   *scrape.Pipeline
	Sandbox    *sandbox.Executor
	Proxy      ProxyExecutor
}

// Active returns the working subset of dataset records: the selected ones if
// any, otherwise all.
func (s *Session) Active() []har.Record {
	return har.Active(s.Records)
}

// record finds an active record by its capture index.
func (s *Session) record(index int) (har.Record, bool) {
	for _, r := range s.Active() {
		if r.Index == index {
			return r, true
		}
	}
	return har.Record{}, false
}
