// Package graph holds the knowledge graph: extracted entities as nodes,
// inferred relationships as directed links.
package graph

// Node is one extracted entity. Identity is the ID: merging a batch never
// overwrites an existing node with the same ID.
type Node struct {
	ID    string         `json:"id"`
	Type  string         `json:"type"`
	Label string         `json:"label"`
	Data  map[string]any `json:"data,omitempty"`
}

// Link is a directed edge. Links are not unique; duplicates are tolerated
// rather than deduplicated.
type Link struct {
	Source string `json:"source"`
	Target string `json:"target"`
	Label  string `json:"label"`
}

// Store is the persistence boundary for the graph.
type Store interface {
	Nodes() ([]Node, error)
	Links() ([]Link, error)
	// UpsertNode inserts or replaces a node by ID.
	UpsertNode(n Node) error
	// AppendLink adds an edge unconditionally.
	AppendLink(l Link) error
}
