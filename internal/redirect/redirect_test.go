package redirect

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/commonforge/itemregistry/internal/item"
)

func nameList(pairs ...string) []Redirector[item.Name] {
	var out []Redirector[item.Name]
	for i := 0; i+1 < len(pairs); i += 2 {
		out = append(out, Redirector[item.Name]{Old: item.Name(pairs[i]), New: item.Name(pairs[i+1])})
	}
	return out
}

func TestGraph_ChainCollapsing(t *testing.T) {
	g := NewGraph(nameList("A", "B", "B", "C"), nil)

	id := item.MakeIdentifier("Weapon", "A")
	require.True(t, g.TryRedirect(&id))
	require.Equal(t, item.Name("C"), id.Name, "chain A->B->C collapses in one hop")

	id = item.MakeIdentifier("Weapon", "B")
	require.True(t, g.TryRedirect(&id))
	require.Equal(t, item.Name("C"), id.Name)

	id = item.MakeIdentifier("Weapon", "C")
	require.False(t, g.TryRedirect(&id), "final target has no redirect")

	require.True(t, g.IsStale(item.MakeIdentifier("Weapon", "A")))
	require.False(t, g.IsStale(item.MakeIdentifier("Weapon", "C")))
	require.True(t, g.HasNameRedirects())
	require.False(t, g.HasArchetypeRedirects())
}

func TestGraph_BothComponents(t *testing.T) {
	g := NewGraph(
		nameList("Sword", "Blade"),
		[]Redirector[item.Archetype]{{Old: "Weapon", New: "Melee"}},
	)

	id := item.MakeIdentifier("Weapon", "Sword")
	require.True(t, g.TryRedirect(&id))
	require.Equal(t, item.MakeIdentifier("Melee", "Blade"), id)

	// Each component redirects independently.
	require.Equal(t, item.MakeIdentifier("Melee", "Potion"),
		g.Redirected(item.MakeIdentifier("Weapon", "Potion")))
}

func TestGraph_DropsBadEntries(t *testing.T) {
	g := NewGraph(nameList(
		"A", "A", // self redirect
		"B", "C",
		"B", "D", // ambiguous duplicate of B
	), nil)

	require.False(t, g.IsStale(item.MakeIdentifier("X", "A")))
	require.Equal(t, item.Name("C"),
		g.Redirected(item.MakeIdentifier("X", "B")).Name, "first entry for B wins")
}

func TestGraph_CycleFallsBackToIdentity(t *testing.T) {
	g := NewGraph(nameList(
		"A", "B",
		"B", "A", // two-cycle
		"X", "A", // feeds into the cycle
		"P", "Q", // unrelated entry keeps resolving
	), nil)

	for _, name := range []string{"A", "B", "X"} {
		id := item.MakeIdentifier("W", name)
		require.False(t, g.TryRedirect(&id), "cycle member %s must be inert", name)
	}

	id := item.MakeIdentifier("W", "P")
	require.True(t, g.TryRedirect(&id))
	require.Equal(t, item.Name("Q"), id.Name)
}

func TestGraph_TraversePermutations(t *testing.T) {
	g := NewGraph(
		nameList("OldA", "New", "OldB", "New"),
		[]Redirector[item.Archetype]{{Old: "Legacy", New: "Weapon"}},
	)

	var visited []item.Identifier
	g.TraversePermutations(item.MakeIdentifier("Weapon", "New"), func(id item.Identifier) bool {
		visited = append(visited, id)
		return true
	})

	require.Equal(t, []item.Identifier{
		// Name-only substitutions first.
		item.MakeIdentifier("Weapon", "OldA"),
		item.MakeIdentifier("Weapon", "OldB"),
		// Then archetype-only.
		item.MakeIdentifier("Legacy", "New"),
		// Then the cross product.
		item.MakeIdentifier("Legacy", "OldA"),
		item.MakeIdentifier("Legacy", "OldB"),
	}, visited)

	// Short-circuit on predicate false.
	count := 0
	g.TraversePermutations(item.MakeIdentifier("Weapon", "New"), func(item.Identifier) bool {
		count++
		return false
	})
	require.Equal(t, 1, count)
}

func TestAppendRedirect_Rejections(t *testing.T) {
	list := nameList("A", "B")

	_, err := AppendRedirect(list, item.Name("X"), item.Name("X"), false)
	require.ErrorIs(t, err, ErrSelfRedirect)

	_, err = AppendRedirect(list, item.Name("A"), item.Name("C"), false)
	require.ErrorIs(t, err, ErrAmbiguousRedirect)

	// C -> A would chain into A -> B.
	_, err = AppendRedirect(list, item.Name("C"), item.Name("A"), false)
	require.ErrorIs(t, err, ErrChainConcatenation)

	// Appending a clean entry works and leaves the input untouched.
	out, err := AppendRedirect(list, item.Name("X"), item.Name("Y"), false)
	require.NoError(t, err)
	require.Len(t, out, 2)
	require.Len(t, list, 1)
}

func TestAppendRedirect_InvertOnCycle(t *testing.T) {
	list := nameList("A", "B", "B", "C")

	// C -> A closes the cycle; without the flag it is plain concatenation.
	_, err := AppendRedirect(list, item.Name("C"), item.Name("A"), false)
	require.ErrorIs(t, err, ErrChainConcatenation)

	// With the flag the existing links invert instead.
	out, err := AppendRedirect(list, item.Name("C"), item.Name("A"), true)
	require.NoError(t, err)

	g := NewGraph(out, nil)
	for _, name := range []string{"B", "C"} {
		require.Equal(t, item.Name("A"),
			g.Redirected(item.MakeIdentifier("W", name)).Name,
			"%s must resolve to the cycle target", name)
	}
	require.False(t, g.IsStale(item.MakeIdentifier("W", "A")))
}

func TestCleanupRedirects(t *testing.T) {
	list := nameList("A", "B", "B", "Target", "X", "Y")

	direct := CleanupRedirects(list, item.Name("Target"), false)
	require.Equal(t, nameList("A", "B", "X", "Y"), direct)

	transitive := CleanupRedirects(list, item.Name("Target"), true)
	require.Equal(t, nameList("X", "Y"), transitive)
}

func TestCanResolveInto(t *testing.T) {
	list := nameList("A", "B", "B", "C")

	require.True(t, CanResolveInto(list, item.Name("A"), item.Name("B")))
	require.True(t, CanResolveInto(list, item.Name("A"), item.Name("C")))
	require.False(t, CanResolveInto(list, item.Name("C"), item.Name("A")))
	require.False(t, CanResolveInto(list, item.Name("Z"), item.Name("C")))
}

func TestHasCommonBase(t *testing.T) {
	list := nameList("A", "C", "B", "C", "X", "Y")

	require.True(t, HasCommonBase(list, item.Name("A"), item.Name("B")))
	require.False(t, HasCommonBase(list, item.Name("A"), item.Name("X")))
}

// TestProperty_ResolutionNeverChains verifies that whatever raw list is
// thrown at the graph, a resolved target is never itself a redirect
// source, so lookups are always a single hop.
func TestProperty_ResolutionNeverChains(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		pool := []string{"A", "B", "C", "D", "E", "F", "G", "H"}
		count := rapid.IntRange(0, 12).Draw(t, "count")

		var raw []Redirector[item.Name]
		for i := 0; i < count; i++ {
			old := rapid.SampledFrom(pool).Draw(t, fmt.Sprintf("old-%d", i))
			new := rapid.SampledFrom(pool).Draw(t, fmt.Sprintf("new-%d", i))
			raw = append(raw, Redirector[item.Name]{Old: item.Name(old), New: item.Name(new)})
		}

		g := NewGraph(raw, nil)
		for _, name := range pool {
			id := item.MakeIdentifier("W", name)
			if g.TryRedirect(&id) {
				require.False(t, g.IsStale(id),
					"resolved target %s must not redirect further", id.Name)
			}
		}
	})
}

// TestProperty_TraverseInvertsRedirect verifies that every identifier
// offered by TraversePermutations actually redirects back into the query.
func TestProperty_TraverseInvertsRedirect(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		names := nameList("OldA", "New", "OldB", "New", "Other", "Elsewhere")
		archetypes := []Redirector[item.Archetype]{{Old: "Legacy", New: "Weapon"}}
		g := NewGraph(names, archetypes)

		query := item.MakeIdentifier("Weapon", "New")
		g.TraversePermutations(query, func(prior item.Identifier) bool {
			require.Equal(t, query, g.Redirected(prior))
			return true
		})
	})
}
