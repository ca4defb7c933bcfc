package engine

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"

	"github.com/google/uuid"

	"caseflow/internal/domain"
	"caseflow/internal/events"
	"caseflow/internal/repo"
)

// SeedRoles materializes the roles and capabilities declared in config
// into the database. Idempotent; safe to run on every startup.
func (e Engine) SeedRoles(ctx context.Context) error {
	if e.Config == nil {
		return nil
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	for roleID, role := range e.Config.Capabilities.Roles {
		if err := e.Repo.InsertRole(ctx, tx, roleID, role.Description); err != nil {
			return fmt.Errorf("seed role %s: %w", roleID, err)
		}
		for _, capID := range role.Capabilities {
			if err := e.Repo.InsertCapability(ctx, tx, capID, ""); err != nil {
				return fmt.Errorf("seed capability %s: %w", capID, err)
			}
			if err := e.Repo.AddRoleCapability(ctx, tx, roleID, capID); err != nil {
				return fmt.Errorf("bind %s to %s: %w", capID, roleID, err)
			}
		}
	}
	return tx.Commit()
}

// GrantRole assigns a role to an actor, scoped to a form version.
func (e Engine) GrantRole(ctx context.Context, formVersionID, actorID, roleID, grantedBy string) error {
	if _, err := e.Repo.GetFormVersion(ctx, formVersionID); err != nil {
		return err
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := e.Repo.EnsureActor(ctx, tx, actorID, e.nowRFC3339()); err != nil {
		return err
	}
	if err := e.Repo.AssignRole(ctx, tx, formVersionID, actorID, roleID); err != nil {
		return err
	}
	if err := e.Events.Append(ctx, tx, "role.granted", "", "actor", actorID, grantedBy, events.EventPayload{
		"form_version_id": formVersionID,
		"role":            roleID,
	}); err != nil {
		return err
	}
	return tx.Commit()
}

// RevokeRole removes a role assignment.
func (e Engine) RevokeRole(ctx context.Context, formVersionID, actorID, roleID, revokedBy string) error {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := e.Repo.RevokeRole(ctx, tx, formVersionID, actorID, roleID); err != nil {
		return err
	}
	if err := e.Events.Append(ctx, tx, "role.revoked", "", "actor", actorID, revokedBy, events.EventPayload{
		"form_version_id": formVersionID,
		"role":            roleID,
	}); err != nil {
		return err
	}
	return tx.Commit()
}

func (e Engine) ActorRoles(ctx context.Context, formVersionID, actorID string) ([]string, error) {
	return e.Repo.ActorRoles(ctx, formVersionID, actorID)
}

// CreateAPIKey mints a random key for an actor and stores only its hash.
// The clear-text key is returned exactly once.
func (e Engine) CreateAPIKey(ctx context.Context, actorID, name string) (domain.APIKey, string, error) {
	if actorID == "" {
		return domain.APIKey{}, "", validationf("actor id is required")
	}
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return domain.APIKey{}, "", err
	}
	secret := "cf_" + hex.EncodeToString(buf)
	key := domain.APIKey{
		ID:        uuid.New().String(),
		ActorID:   actorID,
		Name:      name,
		KeyHash:   repo.HashAPIKey(secret),
		CreatedAt: e.nowRFC3339(),
	}
	if err := e.Repo.InsertAPIKey(ctx, key); err != nil {
		return domain.APIKey{}, "", err
	}
	return key, secret, nil
}

func (e Engine) ListAPIKeys(ctx context.Context, actorID string) ([]domain.APIKey, error) {
	return e.Repo.ListAPIKeys(ctx, actorID)
}

func (e Engine) RevokeAPIKey(ctx context.Context, id string) error {
	return e.Repo.DeleteAPIKey(ctx, id)
}

func (e Engine) GetCase(ctx context.Context, id string) (domain.Case, error) {
	return e.Repo.GetCase(ctx, id)
}

func (e Engine) ListCases(ctx context.Context, limit int) ([]domain.Case, error) {
	return e.Repo.ListRecentCases(ctx, limit)
}

func (e Engine) GetCaseBlock(ctx context.Context, id string) (domain.CaseBlock, error) {
	return e.Repo.GetCaseBlock(ctx, id)
}

func (e Engine) ListCaseBlocks(ctx context.Context, caseID string) ([]domain.CaseBlock, error) {
	return e.Repo.ListCaseBlocks(ctx, caseID)
}

func (e Engine) ListEvents(ctx context.Context, opts events.ListOptions) ([]domain.Event, error) {
	return events.List(ctx, e.DB, opts)
}
