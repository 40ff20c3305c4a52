package redirect

import (
	"slices"

	"github.com/commonforge/itemregistry/internal/item"
	"github.com/commonforge/itemregistry/internal/log"
)

// Graph holds the two independently resolved redirect maps, name and
// archetype. Build it once from configuration; lookups are read-only and
// safe to share.
type Graph struct {
	names      table[item.Name]
	archetypes table[item.Archetype]
}

// NewGraph resolves both raw redirect lists into a Graph. Bad entries are
// dropped with a log line, never fatal: a self or duplicate redirect is
// skipped, a cyclic chain resolves to identity and becomes inert.
func NewGraph(names []Redirector[item.Name], archetypes []Redirector[item.Archetype]) *Graph {
	return &Graph{
		names:      resolveTable(names),
		archetypes: resolveTable(archetypes),
	}
}

// HasNameRedirects reports whether any name redirect is active.
func (g *Graph) HasNameRedirects() bool { return len(g.names.resolved) > 0 }

// HasArchetypeRedirects reports whether any archetype redirect is active.
func (g *Graph) HasArchetypeRedirects() bool { return len(g.archetypes.resolved) > 0 }

// IsStale reports whether either component of id has an active redirect,
// meaning id refers to a pre-rename identifier.
func (g *Graph) IsStale(id item.Identifier) bool {
	_, nameHit := g.names.resolved[id.Name]
	_, archetypeHit := g.archetypes.resolved[id.Archetype]
	return nameHit || archetypeHit
}

// TryRedirect rewrites both components of id to their collapsed targets.
// Reports whether anything changed.
func (g *Graph) TryRedirect(id *item.Identifier) bool {
	changed := false
	if to, ok := g.archetypes.resolved[id.Archetype]; ok {
		id.Archetype = to
		changed = true
	}
	if to, ok := g.names.resolved[id.Name]; ok {
		id.Name = to
		changed = true
	}
	return changed
}

// TryRedirectName rewrites a bare name component. Reports whether it
// changed.
func (g *Graph) TryRedirectName(name *item.Name) bool {
	if to, ok := g.names.resolved[*name]; ok {
		*name = to
		return true
	}
	return false
}

// TryRedirectArchetype rewrites a bare archetype component. Reports
// whether it changed.
func (g *Graph) TryRedirectArchetype(archetype *item.Archetype) bool {
	if to, ok := g.archetypes.resolved[*archetype]; ok {
		*archetype = to
		return true
	}
	return false
}

// Redirected returns the collapsed form of id without mutating the input.
func (g *Graph) Redirected(id item.Identifier) item.Identifier {
	g.TryRedirect(&id)
	return id
}

// TraversePermutations enumerates every prior identifier that could
// redirect into id: name-only substitutions first, then archetype-only,
// then the full cross product. Resolved redirects carry no ordering, so
// reconstructing which rename happened first is impossible and every
// plausible predecessor must be offered. fn returns false to stop early.
func (g *Graph) TraversePermutations(id item.Identifier, fn func(item.Identifier) bool) {
	priorNames := g.names.sources(id.Name)
	priorArchetypes := g.archetypes.sources(id.Archetype)

	for _, name := range priorNames {
		if !fn(item.Identifier{Archetype: id.Archetype, Name: name}) {
			return
		}
	}
	for _, archetype := range priorArchetypes {
		if !fn(item.Identifier{Archetype: archetype, Name: id.Name}) {
			return
		}
	}
	for _, archetype := range priorArchetypes {
		for _, name := range priorNames {
			if !fn(item.Identifier{Archetype: archetype, Name: name}) {
				return
			}
		}
	}
}

// table is one resolved redirect map over a single component type.
type table[T ~string] struct {
	resolved map[T]T
}

// sources returns every old value that collapses to target, sorted for
// deterministic iteration.
func (t table[T]) sources(target T) []T {
	var out []T
	for old, to := range t.resolved {
		if to == target {
			out = append(out, old)
		}
	}
	slices.Sort(out)
	return out
}

// resolveTable collapses a raw redirect list into a flat map. Entries with
// old == new or a duplicated old are dropped before resolution. Chains are
// walked with a per-entry visited set; a cycle logs an error and leaves
// every member of the offending chain unresolved. Shared chain suffixes
// are resolved once through the cache.
func resolveTable[T ~string](raw []Redirector[T]) table[T] {
	links := make(map[T]T, len(raw))
	for _, r := range raw {
		if r.Old == r.New {
			log.Warn(log.CatRedirect, "dropping self redirect", "value", string(r.Old))
			continue
		}
		if _, dup := links[r.Old]; dup {
			log.Warn(log.CatRedirect, "dropping ambiguous redirect",
				"old", string(r.Old), "new", string(r.New))
			continue
		}
		links[r.Old] = r.New
	}

	// cache maps every visited node to its final target; cycleMember marks
	// nodes whose chain loops and therefore resolve to identity.
	cache := make(map[T]T, len(links))
	cycleMember := make(map[T]bool)

	for start := range links {
		if _, done := cache[start]; done {
			continue
		}

		path := []T{start}
		onPath := map[T]bool{start: true}
		var final T
		cyclic := false

		for {
			cur := path[len(path)-1]
			next, ok := links[cur]
			if !ok {
				final = cur
				break
			}
			if cached, ok := cache[next]; ok {
				// Shared suffix already resolved; a chain feeding into a
				// cycle is itself part of the offending chain.
				cyclic = cycleMember[next]
				final = cached
				break
			}
			if onPath[next] {
				cyclic = true
				break
			}
			path = append(path, next)
			onPath[next] = true
		}

		if cyclic {
			log.Error(log.CatRedirect, "redirect cycle detected, chain falls back to identity",
				"start", string(start), "length", len(path))
			for _, node := range path {
				cache[node] = node
				cycleMember[node] = true
			}
			continue
		}
		for _, node := range path {
			cache[node] = final
		}
	}

	resolved := make(map[T]T, len(links))
	for old := range links {
		if target := cache[old]; target != old {
			resolved[old] = target
		}
	}
	return table[T]{resolved: resolved}
}
