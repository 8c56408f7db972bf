package crawl

import (
	"slices"

	"github.com/roach88/searchsync/internal/doc"
)

// Plan is the outcome of diffing local entities against remote documents.
// All ID lists are sorted.
type Plan struct {
	ToDelete []string `json:"to_delete"`
	ToAdd    []string `json:"to_add"`
	ToUpdate []string `json:"to_update"`
}

// Empty reports whether the plan issues no operations.
func (p Plan) Empty() bool {
	return len(p.ToDelete) == 0 && len(p.ToAdd) == 0 && len(p.ToUpdate) == 0
}

// Diff computes the plan for a local and a remote snapshot.
//
//   - delete: remote IDs with no local entity
//   - add: local IDs with no remote document
//   - update: IDs on both sides where the local timestamp is strictly newer
//     than the remote "updated" field; a missing timestamp means unchanged
//
// Local entities listed more than once are merged; remote documents without
// an ID are ignored.
func Diff(locals []doc.LocalEntity, remotes []doc.Document) Plan {
	local := mergeLocals(locals)
	remote := remoteByID(remotes)

	p := Plan{ToDelete: []string{}, ToAdd: []string{}, ToUpdate: []string{}}
	for id := range remote {
		if _, ok := local[id]; !ok {
			p.ToDelete = append(p.ToDelete, id)
		}
	}
	for id, e := range local {
		r, ok := remote[id]
		switch {
		case !ok:
			p.ToAdd = append(p.ToAdd, id)
		case e.Newer(r):
			p.ToUpdate = append(p.ToUpdate, id)
		}
	}
	slices.Sort(p.ToDelete)
	slices.Sort(p.ToAdd)
	slices.Sort(p.ToUpdate)
	return p
}

// mergeLocals indexes snapshots by ID. Duplicate listings (a message seen
// in several users' collections) union their owners and keep the newest
// timestamp.
func mergeLocals(locals []doc.LocalEntity) map[string]doc.LocalEntity {
	out := make(map[string]doc.LocalEntity, len(locals))
	for _, e := range locals {
		if e.ID == "" {
			continue
		}
		cur, ok := out[e.ID]
		if !ok {
			e.Owners = slices.Clone(e.Owners)
			out[e.ID] = e
			continue
		}
		cur.Owners = append(cur.Owners, e.Owners...)
		if e.Updated.After(cur.Updated) {
			cur.Updated = e.Updated
		}
		out[e.ID] = cur
	}
	return out
}

func remoteByID(remotes []doc.Document) map[string]doc.Document {
	out := make(map[string]doc.Document, len(remotes))
	for _, d := range remotes {
		if id := d.ID(); id != "" {
			out[id] = d
		}
	}
	return out
}
