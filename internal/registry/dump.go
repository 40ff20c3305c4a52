package registry

import (
	"fmt"
	"strings"

	"github.com/davecgh/go-spew/spew"
)

// dumpConfig keeps value dumps stable across runs for diffing.
var dumpConfig = spew.ConfigState{
	Indent:                  "  ",
	SortKeys:                true,
	DisablePointerAddresses: true,
	DisableCapacities:       true,
}

// Dump returns a diagnostic description of the registry: source traits,
// checksum, redirect summary and the full record table.
func (r *Registry) Dump() string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var b strings.Builder
	fmt.Fprintf(&b, "source=%s loaded=%v cooking=%v\n",
		r.source.Identity(), r.wasLoaded, r.cooking.Load())
	fmt.Fprintf(&b, "traits: %s", dumpConfig.Sdump(r.traits))
	fmt.Fprintf(&b, "redirects: names=%v archetypes=%v\n",
		r.redirects.HasNameRedirects(), r.redirects.HasArchetypeRedirects())
	fmt.Fprintf(&b, "schemas: %v\n", r.schemas.Names())
	b.WriteString(r.state.Dump())
	return b.String()
}
