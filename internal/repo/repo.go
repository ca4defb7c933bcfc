package repo

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"caseflow/internal/domain"
)

type Repo struct {
	DB *sql.DB
}

var (
	ErrNotFound = errors.New("not found")
	// ErrConflict signals a stale optimistic-concurrency write on a case
	// block.
	ErrConflict = errors.New("concurrent update conflict")
)

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func nullableStringPtr(v *string) any {
	if v == nil {
		return nil
	}
	if *v == "" {
		return nil
	}
	return *v
}

// --- form versions & block pins ---

func (r Repo) InsertFormVersion(ctx context.Context, tx *sql.Tx, fv domain.FormVersion) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO form_versions(id,form_key,version,title,created_at) VALUES (?,?,?,?,?)`,
		fv.ID, fv.FormKey, fv.Version, nullable(fv.Title), fv.CreatedAt)
	return err
}

func (r Repo) GetFormVersion(ctx context.Context, id string) (domain.FormVersion, error) {
	var fv domain.FormVersion
	var title sql.NullString
	err := r.DB.QueryRowContext(ctx, `SELECT id,form_key,version,title,created_at FROM form_versions WHERE id=?`, id).
		Scan(&fv.ID, &fv.FormKey, &fv.Version, &title, &fv.CreatedAt)
	if err == sql.ErrNoRows {
		return fv, ErrNotFound
	}
	if title.Valid {
		fv.Title = title.String
	}
	return fv, err
}

func (r Repo) ListFormVersions(ctx context.Context) ([]domain.FormVersion, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,form_key,version,title,created_at FROM form_versions ORDER BY form_key ASC, version DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.FormVersion
	for rows.Next() {
		var fv domain.FormVersion
		var title sql.NullString
		if err := rows.Scan(&fv.ID, &fv.FormKey, &fv.Version, &title, &fv.CreatedAt); err != nil {
			return nil, err
		}
		if title.Valid {
			fv.Title = title.String
		}
		res = append(res, fv)
	}
	return res, rows.Err()
}

func (r Repo) InsertBlockPin(ctx context.Context, tx *sql.Tx, p domain.BlockPin) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO block_pins(id,form_version_id,block_key,block_version,title) VALUES (?,?,?,?,?)`,
		p.ID, p.FormVersionID, p.BlockKey, p.BlockVersion, nullable(p.Title))
	return err
}

func (r Repo) ListBlockPins(ctx context.Context, formVersionID string) ([]domain.BlockPin, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,form_version_id,block_key,block_version,title FROM block_pins WHERE form_version_id=? ORDER BY block_key ASC`, formVersionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.BlockPin
	for rows.Next() {
		var p domain.BlockPin
		var title sql.NullString
		if err := rows.Scan(&p.ID, &p.FormVersionID, &p.BlockKey, &p.BlockVersion, &title); err != nil {
			return nil, err
		}
		if title.Valid {
			p.Title = title.String
		}
		res = append(res, p)
	}
	return res, rows.Err()
}

// GetBlockPinByKey resolves the pinned version of a block key within a form
// version.
func (r Repo) GetBlockPinByKey(ctx context.Context, formVersionID, blockKey string) (domain.BlockPin, error) {
	var p domain.BlockPin
	var title sql.NullString
	err := r.DB.QueryRowContext(ctx, `SELECT id,form_version_id,block_key,block_version,title FROM block_pins WHERE form_version_id=? AND block_key=?`, formVersionID, blockKey).
		Scan(&p.ID, &p.FormVersionID, &p.BlockKey, &p.BlockVersion, &title)
	if err == sql.ErrNoRows {
		return p, ErrNotFound
	}
	if title.Valid {
		p.Title = title.String
	}
	return p, err
}

func (r Repo) GetBlockPin(ctx context.Context, id string) (domain.BlockPin, error) {
	var p domain.BlockPin
	var title sql.NullString
	err := r.DB.QueryRowContext(ctx, `SELECT id,form_version_id,block_key,block_version,title FROM block_pins WHERE id=?`, id).
		Scan(&p.ID, &p.FormVersionID, &p.BlockKey, &p.BlockVersion, &title)
	if err == sql.ErrNoRows {
		return p, ErrNotFound
	}
	if title.Valid {
		p.Title = title.String
	}
	return p, err
}

// --- cases ---

func (r Repo) InsertCase(ctx context.Context, tx *sql.Tx, c domain.Case) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO cases(id,form_version_id,started_by,started_at,start_selection_json) VALUES (?,?,?,?,?)`,
		c.ID, c.FormVersionID, c.StartedBy, c.StartedAt, nullable(c.StartSelectionJSON))
	return err
}

func (r Repo) GetCase(ctx context.Context, id string) (domain.Case, error) {
	var c domain.Case
	var selection sql.NullString
	err := r.DB.QueryRowContext(ctx, `SELECT id,form_version_id,started_by,started_at,start_selection_json FROM cases WHERE id=?`, id).
		Scan(&c.ID, &c.FormVersionID, &c.StartedBy, &c.StartedAt, &selection)
	if err == sql.ErrNoRows {
		return c, ErrNotFound
	}
	if selection.Valid {
		c.StartSelectionJSON = selection.String
	}
	return c, err
}

func (r Repo) ListRecentCases(ctx context.Context, limit int) ([]domain.Case, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.DB.QueryContext(ctx, `SELECT id,form_version_id,started_by,started_at,start_selection_json FROM cases ORDER BY started_at DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Case
	for rows.Next() {
		var c domain.Case
		var selection sql.NullString
		if err := rows.Scan(&c.ID, &c.FormVersionID, &c.StartedBy, &c.StartedAt, &selection); err != nil {
			return nil, err
		}
		if selection.Valid {
			c.StartSelectionJSON = selection.String
		}
		res = append(res, c)
	}
	return res, rows.Err()
}

// --- case blocks ---

const caseBlockColumns = `id,case_id,block_definition_id,block_key,block_version,title,data_json,status,assignee_user_id,assignee_group_id,due_at,locked_by,locked_at,reopened_by,reopened_at,reopen_reason,version,created_at,updated_at`

func (r Repo) InsertCaseBlock(ctx context.Context, tx *sql.Tx, b domain.CaseBlock) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO case_blocks(`+caseBlockColumns+`) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		b.ID, b.CaseID, b.BlockDefinitionID, b.BlockKey, b.BlockVersion, nullable(b.Title), nullable(b.DataJSON), string(b.Status),
		nullableStringPtr(b.AssigneeUserID), nullableStringPtr(b.AssigneeGroupID), nullableStringPtr(b.DueAt),
		nullableStringPtr(b.LockedBy), nullableStringPtr(b.LockedAt),
		nullableStringPtr(b.ReopenedBy), nullableStringPtr(b.ReopenedAt), nullableStringPtr(b.ReopenReason),
		b.Version, b.CreatedAt, b.UpdatedAt)
	return err
}

// UpdateCaseBlock writes the block back with a compare-and-swap on its
// version counter. A stale version yields ErrConflict.
func (r Repo) UpdateCaseBlock(ctx context.Context, tx *sql.Tx, b domain.CaseBlock) error {
	res, err := tx.ExecContext(ctx, `UPDATE case_blocks SET title=?, data_json=?, status=?, assignee_user_id=?, assignee_group_id=?, due_at=?, locked_by=?, locked_at=?, reopened_by=?, reopened_at=?, reopen_reason=?, version=version+1, updated_at=? WHERE id=? AND version=?`,
		nullable(b.Title), nullable(b.DataJSON), string(b.Status),
		nullableStringPtr(b.AssigneeUserID), nullableStringPtr(b.AssigneeGroupID), nullableStringPtr(b.DueAt),
		nullableStringPtr(b.LockedBy), nullableStringPtr(b.LockedAt),
		nullableStringPtr(b.ReopenedBy), nullableStringPtr(b.ReopenedAt), nullableStringPtr(b.ReopenReason),
		b.UpdatedAt, b.ID, b.Version)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		// Disambiguate through the same tx; a pool read would block behind
		// the write lock this tx holds.
		var exists int
		switch err := tx.QueryRowContext(ctx, `SELECT 1 FROM case_blocks WHERE id=?`, b.ID).Scan(&exists); {
		case err == sql.ErrNoRows:
			return ErrNotFound
		case err != nil:
			return err
		}
		return ErrConflict
	}
	return nil
}

func scanCaseBlock(scan func(dest ...any) error) (domain.CaseBlock, error) {
	var b domain.CaseBlock
	var title, dataJSON, status sql.NullString
	var assigneeUser, assigneeGroup, dueAt, lockedBy, lockedAt, reopenedBy, reopenedAt, reopenReason sql.NullString
	err := scan(&b.ID, &b.CaseID, &b.BlockDefinitionID, &b.BlockKey, &b.BlockVersion, &title, &dataJSON, &status,
		&assigneeUser, &assigneeGroup, &dueAt, &lockedBy, &lockedAt, &reopenedBy, &reopenedAt, &reopenReason,
		&b.Version, &b.CreatedAt, &b.UpdatedAt)
	if err != nil {
		return b, err
	}
	if title.Valid {
		b.Title = title.String
	}
	if dataJSON.Valid {
		b.DataJSON = dataJSON.String
	}
	if status.Valid {
		b.Status = domain.BlockStatus(status.String)
	}
	if assigneeUser.Valid {
		b.AssigneeUserID = &assigneeUser.String
	}
	if assigneeGroup.Valid {
		b.AssigneeGroupID = &assigneeGroup.String
	}
	if dueAt.Valid {
		b.DueAt = &dueAt.String
	}
	if lockedBy.Valid {
		b.LockedBy = &lockedBy.String
	}
	if lockedAt.Valid {
		b.LockedAt = &lockedAt.String
	}
	if reopenedBy.Valid {
		b.ReopenedBy = &reopenedBy.String
	}
	if reopenedAt.Valid {
		b.ReopenedAt = &reopenedAt.String
	}
	if reopenReason.Valid {
		b.ReopenReason = &reopenReason.String
	}
	return b, nil
}

func (r Repo) GetCaseBlock(ctx context.Context, id string) (domain.CaseBlock, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+caseBlockColumns+` FROM case_blocks WHERE id=?`, id)
	b, err := scanCaseBlock(row.Scan)
	if err == sql.ErrNoRows {
		return b, ErrNotFound
	}
	return b, err
}

func (r Repo) ListCaseBlocks(ctx context.Context, caseID string) ([]domain.CaseBlock, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+caseBlockColumns+` FROM case_blocks WHERE case_id=? ORDER BY created_at ASC, id ASC`, caseID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.CaseBlock
	for rows.Next() {
		b, err := scanCaseBlock(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, b)
	}
	return res, rows.Err()
}

// ListCaseBlocksByKey returns the case blocks for one block key within a
// case.
func (r Repo) ListCaseBlocksByKey(ctx context.Context, caseID, blockKey string) ([]domain.CaseBlock, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+caseBlockColumns+` FROM case_blocks WHERE case_id=? AND block_key=? ORDER BY created_at ASC, id ASC`, caseID, blockKey)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.CaseBlock
	for rows.Next() {
		b, err := scanCaseBlock(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, b)
	}
	return res, rows.Err()
}

func caseBlockFilter(clauses []string) string {
	if len(clauses) == 0 {
		return ""
	}
	return "WHERE " + strings.Join(clauses, " AND ")
}

// ListDueCaseBlocks returns non-terminal blocks with a due date set, for
// the due-soon/overdue sweep.
func (r Repo) ListDueCaseBlocks(ctx context.Context) ([]domain.CaseBlock, error) {
	clauses := []string{"due_at IS NOT NULL", "status NOT IN ('done','rejected','locked')"}
	rows, err := r.DB.QueryContext(ctx, `SELECT `+caseBlockColumns+` FROM case_blocks `+caseBlockFilter(clauses)+` ORDER BY due_at ASC, id ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.CaseBlock
	for rows.Next() {
		b, err := scanCaseBlock(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, b)
	}
	return res, rows.Err()
}
