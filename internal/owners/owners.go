// Package owners provides the per-pass mapping between entities and the
// users that own them.
//
// An Index holds three tables keyed by ID:
//   - entity -> primary owner
//   - owner -> entities it is primary for
//   - entity -> every owner (multi-owner kinds only)
//
// Every entity in the primary table has a matching entry in the reverse
// table. Remove deletes from all tables at once, so a removed entity is
// never fetched again in the same pass.
//
// An Index is built fresh for every crawl pass and is not safe for
// concurrent use.
package owners

import (
	"slices"
	"strings"

	"github.com/roach88/searchsync/internal/doc"
)

// Index is the entity/owner bookkeeping of one crawl pass.
type Index struct {
	multi   bool
	primary map[string]string
	byOwner map[string]map[string]struct{}
	all     map[string][]string
}

// New creates an empty index. With multiOwner set, every owner of an entity
// is recorded; otherwise only the primary owner is.
func New(multiOwner bool) *Index {
	return &Index{
		multi:   multiOwner,
		primary: make(map[string]string),
		byOwner: make(map[string]map[string]struct{}),
		all:     make(map[string][]string),
	}
}

// Add records that owner owns entity. The first owner recorded for an
// entity becomes its primary owner; fetches are grouped by primary owner so
// each entity is fetched once.
//
// Owner IDs are kept exactly as the source listed them because they are
// passed back to the source when fetching. Blank owners are ignored.
func (x *Index) Add(owner, entity string) {
	if strings.TrimSpace(owner) == "" || entity == "" {
		return
	}
	if _, ok := x.primary[entity]; !ok {
		x.primary[entity] = owner
		set := x.byOwner[owner]
		if set == nil {
			set = make(map[string]struct{})
			x.byOwner[owner] = set
		}
		set[entity] = struct{}{}
	}
	if x.multi && !slices.Contains(x.all[entity], owner) {
		x.all[entity] = append(x.all[entity], owner)
	}
}

// AddEntity records every owner of a local entity.
func (x *Index) AddEntity(e doc.LocalEntity) {
	for _, o := range e.Owners {
		x.Add(o, e.ID)
	}
}

// Contains reports whether the entity is still tracked.
func (x *Index) Contains(entity string) bool {
	_, ok := x.primary[entity]
	return ok
}

// Primary returns the entity's primary owner.
func (x *Index) Primary(entity string) (string, bool) {
	o, ok := x.primary[entity]
	return o, ok
}

// Owners returns every recorded owner of the entity, sorted. For
// single-owner indexes it is the primary owner alone.
func (x *Index) Owners(entity string) []string {
	if x.multi {
		out := slices.Clone(x.all[entity])
		slices.Sort(out)
		return out
	}
	if o, ok := x.primary[entity]; ok {
		return []string{o}
	}
	return nil
}

// Entities returns the entities whose primary owner is owner, sorted.
func (x *Index) Entities(owner string) []string {
	set := x.byOwner[owner]
	out := make([]string, 0, len(set))
	for e := range set {
		out = append(out, e)
	}
	slices.Sort(out)
	return out
}

// OwnerIDs returns every owner that is primary for at least one entity,
// sorted.
func (x *Index) OwnerIDs() []string {
	out := make([]string, 0, len(x.byOwner))
	for o := range x.byOwner {
		out = append(out, o)
	}
	slices.Sort(out)
	return out
}

// EntityIDs returns every tracked entity, sorted.
func (x *Index) EntityIDs() []string {
	out := make([]string, 0, len(x.primary))
	for e := range x.primary {
		out = append(out, e)
	}
	slices.Sort(out)
	return out
}

// Len returns the number of tracked entities.
func (x *Index) Len() int {
	return len(x.primary)
}

// Remove drops the entity from every table.
func (x *Index) Remove(entity string) {
	if o, ok := x.primary[entity]; ok {
		delete(x.byOwner[o], entity)
		if len(x.byOwner[o]) == 0 {
			delete(x.byOwner, o)
		}
		delete(x.primary, entity)
	}
	delete(x.all, entity)
}

// GroupByOwner partitions the given tracked entities by primary owner.
// Untracked IDs are skipped.
func (x *Index) GroupByOwner(entities []string) map[string][]string {
	groups := make(map[string][]string)
	for _, e := range entities {
		if o, ok := x.primary[e]; ok {
			groups[o] = append(groups[o], e)
		}
	}
	for o := range groups {
		slices.Sort(groups[o])
	}
	return groups
}
