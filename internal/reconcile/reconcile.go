// Package reconcile computes the full-replace plan that brings the store in
// line with a source snapshot.
//
// Every cycle the plan is rebuilt from complete snapshots of both sides, so
// drift left behind by an earlier partial failure is corrected on the next
// run. Names are matched on their natural key (see catalog.Key).
package reconcile

import (
	"catalogsync/internal/catalog"

	"github.com/google/uuid"
)

// Update pairs a stored entry with the source values that replace it.
type Update struct {
	ID     uuid.UUID      `json:"id"`
	Record catalog.Record `json:"record"`
}

// Plan is the add/update/delete partition for one cycle. The three sets are
// disjoint.
type Plan struct {
	ToAdd    []catalog.Record `json:"to_add"`
	ToUpdate []Update         `json:"to_update"`
	ToDelete []uuid.UUID      `json:"to_delete"`
}

// Empty reports whether the plan has nothing to apply.
func (p Plan) Empty() bool {
	return len(p.ToAdd) == 0 && len(p.ToUpdate) == 0 && len(p.ToDelete) == 0
}

// Index maps natural keys to stored ids.
type Index struct {
	ids   map[string]uuid.UUID
	order []string
	// ids whose key was already taken by an earlier entry
	dupes []uuid.UUID
}

// NewIndex builds the store index. When two entries fold to the same key the
// first one is kept and the others are marked stale.
func NewIndex(entries []catalog.IndexEntry) Index {
	idx := Index{ids: make(map[string]uuid.UUID, len(entries))}
	for _, e := range entries {
		key := catalog.Key(e.Name)
		if _, taken := idx.ids[key]; taken {
			idx.dupes = append(idx.dupes, e.ID)
			continue
		}
		idx.ids[key] = e.ID
		idx.order = append(idx.order, key)
	}
	return idx
}

// Lookup returns the stored id for a natural key.
func (idx Index) Lookup(key string) (uuid.UUID, bool) {
	id, ok := idx.ids[key]
	return id, ok
}

// Len is the number of distinct keys in the index.
func (idx Index) Len() int {
	return len(idx.ids)
}

// Reconcile partitions the source records against the store index.
// Duplicate source names resolve last-write-wins: the later values replace
// the earlier ones in the slot of the first occurrence.
func Reconcile(records []catalog.Record, idx Index) Plan {
	type slot struct {
		update bool
		pos    int
	}

	var plan Plan
	seen := make(map[string]slot, len(records))
	for _, rec := range records {
		key := rec.Key()
		if s, dup := seen[key]; dup {
			if s.update {
				plan.ToUpdate[s.pos].Record = rec
			} else {
				plan.ToAdd[s.pos] = rec
			}
			continue
		}
		if id, ok := idx.Lookup(key); ok {
			seen[key] = slot{update: true, pos: len(plan.ToUpdate)}
			plan.ToUpdate = append(plan.ToUpdate, Update{ID: id, Record: rec})
			continue
		}
		seen[key] = slot{pos: len(plan.ToAdd)}
		plan.ToAdd = append(plan.ToAdd, rec)
	}

	for _, key := range idx.order {
		if _, ok := seen[key]; !ok {
			plan.ToDelete = append(plan.ToDelete, idx.ids[key])
		}
	}
	plan.ToDelete = append(plan.ToDelete, idx.dupes...)
	return plan
}
