package app

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"

	"caseflow/internal/config"
	"caseflow/internal/db"
	"caseflow/internal/domain"
	"caseflow/internal/engine"
	"caseflow/internal/migrate"
)

// Env is the assembled runtime for a workspace: open database, loaded
// config and a ready engine. Close the DB when done.
type Env struct {
	DB     *sql.DB
	Config *config.Config
	Engine engine.Engine
}

// Open bootstraps a workspace: opens the database, applies migrations,
// loads caseflow.yml and seeds the configured roles.
func Open(ctx context.Context, workspace string) (*Env, error) {
	cfg, err := config.Load(workspace)
	if err != nil {
		return nil, err
	}
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return nil, err
	}
	if err := migrate.Migrate(conn); err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	eng := engine.New(conn, cfg)
	if err := eng.SeedRoles(ctx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("seed roles: %w", err)
	}
	return &Env{DB: conn, Config: cfg, Engine: eng}, nil
}

func (e *Env) Close() error {
	return e.DB.Close()
}

// ResolveFormVersion accepts either a form version id or a "key:version"
// shorthand (for example "claim:2") and returns the stored record.
func ResolveFormVersion(ctx context.Context, eng engine.Engine, ref string) (domain.FormVersion, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return domain.FormVersion{}, fmt.Errorf("form version not specified; use --form")
	}
	if key, verStr, ok := strings.Cut(ref, ":"); ok {
		ver, err := strconv.Atoi(verStr)
		if err != nil {
			return domain.FormVersion{}, fmt.Errorf("invalid form version reference %q", ref)
		}
		items, err := eng.ListFormVersions(ctx)
		if err != nil {
			return domain.FormVersion{}, err
		}
		for _, fv := range items {
			if fv.FormKey == key && fv.Version == ver {
				return fv, nil
			}
		}
		return domain.FormVersion{}, fmt.Errorf("form version %q not found", ref)
	}
	return eng.GetFormVersion(ctx, ref)
}
