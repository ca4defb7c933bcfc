package auth

import (
	"context"
	"fmt"

	"caseflow/internal/config"
	"caseflow/internal/repo"
)

// CapabilityError indicates a missing capability. It is surfaced distinctly
// from invalid-state errors so callers can render a permissions message.
type CapabilityError struct {
	Capability string
}

func (e CapabilityError) Error() string {
	return fmt.Sprintf("capability %s required", e.Capability)
}

// Service answers capability questions for actors, backed by the role
// tables.
type Service struct {
	Repo repo.Repo
}

func (s Service) Has(ctx context.Context, actorID, formVersionID, capability string) (bool, error) {
	return s.Repo.ActorHasCapability(ctx, formVersionID, actorID, capability)
}

// Require returns a CapabilityError when the actor lacks the capability.
func (s Service) Require(ctx context.Context, actorID, formVersionID, capability string) error {
	ok, err := s.Has(ctx, actorID, formVersionID, capability)
	if err != nil {
		return err
	}
	if !ok {
		return CapabilityError{Capability: capability}
	}
	return nil
}

func (s Service) CanReopenLockedBlocks(ctx context.Context, actorID, formVersionID string) (bool, error) {
	return s.Has(ctx, actorID, formVersionID, config.CapReopenBlocks)
}
