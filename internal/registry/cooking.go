package registry

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/commonforge/itemregistry/internal/log"
	"github.com/commonforge/itemregistry/internal/state"
)

// EnterCookingMode freezes the registry for cook output. Pending
// refreshes are cancelled and any mutation until LeaveCookingMode is a
// contract violation. Must run on the owning goroutine.
func (r *Registry) EnterCookingMode() error {
	if !r.traits.SupportsCooking {
		return ErrCookingUnsupported
	}
	if !r.cooking.CompareAndSwap(false, true) {
		return ErrAlreadyCooking
	}

	r.source.CancelPendingRefresh()
	log.Info(log.CatRegistry, "entered cooking mode")
	return nil
}

// LeaveCookingMode unfreezes the registry.
func (r *Registry) LeaveCookingMode() {
	if r.cooking.CompareAndSwap(true, false) {
		log.Info(log.CatRegistry, "left cooking mode")
	}
}

// IsCooking reports whether cook output is being produced.
func (r *Registry) IsCooking() bool { return r.cooking.Load() }

// WriteForCook writes the stripped, shipped registry file. Outside
// cooking mode it requires a source that supports development cooking.
func (r *Registry) WriteForCook(ctx context.Context, path string) error {
	if !r.cooking.Load() && !r.traits.SupportsDevelopmentCooking {
		return ErrCookingUnsupported
	}

	_, span := r.tracer.Start(ctx, "registry.cook",
		trace.WithAttributes(attribute.String("file", path)))
	defer span.End()

	r.mu.Lock()
	defer r.mu.Unlock()
	if err := state.SaveFile(path, r.state, state.SaveOptions{
		DataSource: r.source.Identity(),
		Cooked:     true,
	}); err != nil {
		return fmt.Errorf("write cook output: %w", err)
	}

	log.Info(log.CatRegistry, "cook output written", "file", path, "records", r.state.Len())
	return nil
}
