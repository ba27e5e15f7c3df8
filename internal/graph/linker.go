package graph

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"
)

// Linker merges freshly extracted entities into the graph and infers edges
// from id-like fields in their data.
type Linker struct {
	store Store
}

// NewLinker creates a Linker over the given store.
func NewLinker(store Store) *Linker {
	return &Linker{store: store}
}

// MergeResult reports what a merge changed.
type MergeResult struct {
	NodesAdded int `json:"nodes_added"`
	NodesKept  int `json:"nodes_skipped"`
	LinksAdded int `json:"links_added"`
}

// Merge adds each entity to the graph unless a node with its ID already
// exists (existing nodes are never touched), then runs auto-linking for the
// new entities against the full node set. Entities without an ID get a
// generated one, written back into batch so callers can read it.
func (l *Linker) Merge(batch []Node) (MergeResult, error) {
	var res MergeResult

	existing, err := l.store.Nodes()
	if err != nil {
		return res, fmt.Errorf("loading nodes: %w", err)
	}
	byID := make(map[string]Node, len(existing))
	for _, n := range existing {
		byID[n.ID] = n
	}

	// Register the whole batch before linking so references between batch
	// members resolve regardless of their order.
	var fresh []Node
	for i := range batch {
		entity := batch[i]
		if entity.ID == "" {
			entity.ID = uuid.New().String()
			batch[i] = entity
		}

		if _, exists := byID[entity.ID]; exists {
			res.NodesKept++
			continue
		}
		if err := l.store.UpsertNode(entity); err != nil {
			return res, fmt.Errorf("adding node %s: %w", entity.ID, err)
		}
		byID[entity.ID] = entity
		res.NodesAdded++
		fresh = append(fresh, entity)
	}

	// Only freshly added entities are linked; re-merging a known node must
	// not grow the edge set.
	for _, entity := range fresh {
		added, err := l.autoLink(entity, byID)
		if err != nil {
			return res, err
		}
		res.LinksAdded += added
	}

	slog.Debug("graph merge complete",
		"nodes_added", res.NodesAdded,
		"nodes_skipped", res.NodesKept,
		"links_added", res.LinksAdded,
	)
	return res, nil
}

// autoLink scans the entity's data for id-like string fields and wires edges
// in both directions: entity -> node whose ID matches the value, and
// node -> entity for nodes whose own data.id matches the value. The label is
// the field key. Self-references are skipped; the heuristic is deliberately
// permissive and may produce duplicate or spurious edges.
func (l *Linker) autoLink(entity Node, byID map[string]Node) (int, error) {
	added := 0
	for key, raw := range entity.Data {
		if !isIDKey(key) {
			continue
		}
		value, ok := raw.(string)
		if !ok || value == "" {
			continue
		}

		for id, node := range byID {
			if id == entity.ID {
				continue
			}

			if id == value {
				if err := l.store.AppendLink(Link{Source: entity.ID, Target: id, Label: key}); err != nil {
					return added, fmt.Errorf("adding link %s->%s: %w", entity.ID, id, err)
				}
				added++
			}

			if dataID, ok := node.Data["id"].(string); ok && dataID == value {
				if err := l.store.AppendLink(Link{Source: id, Target: entity.ID, Label: key}); err != nil {
					return added, fmt.Errorf("adding link %s->%s: %w", id, entity.ID, err)
				}
				added++
			}
		}
	}
	return added, nil
}

func isIDKey(key string) bool {
	return key == "id" || strings.HasSuffix(key, "Id")
}
