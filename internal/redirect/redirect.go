// Package redirect resolves renamed identifier components. A raw list of
// (old, new) pairs from configuration is collapsed into a flat map where
// every old value points directly at its final target, so lookups never
// walk chains.
package redirect

import (
	"errors"

	"github.com/commonforge/itemregistry/internal/log"
)

// Redirect insertion errors.
var (
	ErrSelfRedirect       = errors.New("redirect: old and new are identical")
	ErrAmbiguousRedirect  = errors.New("redirect: old already redirects elsewhere")
	ErrChainConcatenation = errors.New("redirect: new is itself redirected")
)

// Redirector maps an old identifier component to its replacement. The same
// rule shape serves both name and archetype redirection lists.
type Redirector[T ~string] struct {
	Old T `yaml:"old" mapstructure:"old"`
	New T `yaml:"new" mapstructure:"new"`
}

// AppendRedirect adds (old, new) to a raw redirect list, returning the
// extended list. Self-redirects and duplicated olds are rejected. When new
// is itself the source of further redirects the insertion would build a
// chain; chains are disallowed, except that with invertOnCycle set an
// insertion closing a cycle back to old inverts every link along that
// cycle instead of failing.
func AppendRedirect[T ~string](list []Redirector[T], old, new T, invertOnCycle bool) ([]Redirector[T], error) {
	if old == new {
		return list, ErrSelfRedirect
	}
	for _, r := range list {
		if r.Old == old {
			return list, ErrAmbiguousRedirect
		}
	}

	if chain := chainFrom(list, new); len(chain) > 0 {
		if invertOnCycle && chain[len(chain)-1].New == old {
			inverted := make([]Redirector[T], len(list))
			copy(inverted, list)
			for _, link := range chain {
				for i := range inverted {
					if inverted[i] == link {
						inverted[i] = Redirector[T]{Old: link.New, New: link.Old}
						break
					}
				}
			}
			log.Info(log.CatRedirect, "inverted redirect cycle",
				"old", string(old), "new", string(new), "links", len(chain))
			return inverted, nil
		}
		return list, ErrChainConcatenation
	}

	return append(list, Redirector[T]{Old: old, New: new}), nil
}

// CleanupRedirects removes every entry pointing directly at target; with
// recursive set it also removes entries whose chain resolves to target.
func CleanupRedirects[T ~string](list []Redirector[T], target T, recursive bool) []Redirector[T] {
	kept := list[:0:0]
	for _, r := range list {
		if r.New == target {
			continue
		}
		if recursive {
			if final, ok := chainFinal(list, r.Old); ok && final == target {
				continue
			}
		}
		kept = append(kept, r)
	}
	return kept
}

// CanResolveInto reports whether following the chain from `from` ever
// reaches `to`.
func CanResolveInto[T ~string](list []Redirector[T], from, to T) bool {
	for _, link := range chainFrom(list, from) {
		if link.New == to {
			return true
		}
	}
	return false
}

// HasCommonBase reports whether a and b collapse to the same final target.
func HasCommonBase[T ~string](list []Redirector[T], a, b T) bool {
	fa, _ := chainFinal(list, a)
	fb, _ := chainFinal(list, b)
	return fa == fb
}

// chainFrom returns the links of the chain starting at from, in walk
// order, stopping before revisiting a node.
func chainFrom[T ~string](list []Redirector[T], from T) []Redirector[T] {
	byOld := make(map[T]Redirector[T], len(list))
	for _, r := range list {
		if _, dup := byOld[r.Old]; !dup {
			byOld[r.Old] = r
		}
	}

	var chain []Redirector[T]
	visited := map[T]bool{from: true}
	cur := from
	for {
		link, ok := byOld[cur]
		if !ok {
			return chain
		}
		chain = append(chain, link)
		if visited[link.New] {
			return chain
		}
		visited[link.New] = true
		cur = link.New
	}
}

// chainFinal returns the final target of the chain starting at from.
// Reports false when from has no redirect or its chain is cyclic.
func chainFinal[T ~string](list []Redirector[T], from T) (T, bool) {
	chain := chainFrom(list, from)
	if len(chain) == 0 {
		return from, false
	}
	last := chain[len(chain)-1].New
	for _, link := range chain {
		if link.Old == last {
			// Walk ended by revisiting a node: cyclic, no final target.
			var zero T
			return zero, false
		}
	}
	return last, true
}
