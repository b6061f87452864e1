package repo

import (
	"context"
	"database/sql"
	"fmt"

	"compliancehub/internal/domain"
)

// Lookup tables exposed by ListLookup. Names are never taken from user input.
const (
	LookupValleys       = "valleys"
	LookupProcesses     = "processes"
	LookupTaskStatuses  = "task_statuses"
	LookupPriorities    = "priorities"
	LookupDocumentTypes = "document_types"
)

var lookupTables = map[string]bool{
	LookupValleys:       true,
	LookupProcesses:     true,
	LookupTaskStatuses:  true,
	LookupPriorities:    true,
	LookupDocumentTypes: true,
}

func (r Repo) ListLookup(ctx context.Context, q Querier, table string) ([]domain.Lookup, error) {
	if !lookupTables[table] {
		return nil, fmt.Errorf("unknown lookup %q", table)
	}
	rows, err := q.QueryContext(ctx, `SELECT id,name FROM `+table+` ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Lookup
	for rows.Next() {
		var l domain.Lookup
		if err := rows.Scan(&l.ID, &l.Name); err != nil {
			return nil, err
		}
		res = append(res, l)
	}
	return res, rows.Err()
}

func (r Repo) LookupExists(ctx context.Context, q Querier, table string, id int64) (bool, error) {
	if !lookupTables[table] && table != "faenas" {
		return false, fmt.Errorf("unknown lookup %q", table)
	}
	var n int
	err := q.QueryRowContext(ctx, `SELECT 1 FROM `+table+` WHERE id=?`, id).Scan(&n)
	if err == sql.ErrNoRows {
		return false, nil
	}
	return err == nil, err
}

// InsertLookup adds a named row to a catalog table and returns its id.
func (r Repo) InsertLookup(ctx context.Context, q Querier, table, name string) (int64, error) {
	if table != LookupValleys && table != LookupProcesses {
		return 0, fmt.Errorf("lookup %q is read-only", table)
	}
	res, err := q.ExecContext(ctx, `INSERT INTO `+table+`(name) VALUES (?)`, name)
	if err != nil {
		return 0, conflictOr(err, "%s %q already exists", table, name)
	}
	return res.LastInsertId()
}

func (r Repo) InsertFaena(ctx context.Context, q Querier, f *domain.Faena) error {
	res, err := q.ExecContext(ctx, `INSERT INTO faenas(name,valley_id) VALUES (?,?)`, f.Name, nullableInt(f.ValleyID))
	if err != nil {
		return err
	}
	f.ID, err = res.LastInsertId()
	return err
}

func (r Repo) ListFaenas(ctx context.Context, q Querier, valleyID int64) ([]domain.Faena, error) {
	query := `SELECT id,name,valley_id FROM faenas`
	var args []any
	if valleyID > 0 {
		query += ` WHERE valley_id=?`
		args = append(args, valleyID)
	}
	rows, err := q.QueryContext(ctx, query+` ORDER BY id`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Faena
	for rows.Next() {
		var (
			f      domain.Faena
			valley sql.NullInt64
		)
		if err := rows.Scan(&f.ID, &f.Name, &valley); err != nil {
			return nil, err
		}
		f.ValleyID = intPtr(valley)
		res = append(res, f)
	}
	return res, rows.Err()
}

func (r Repo) ListSubtaskStatuses(ctx context.Context, q Querier) ([]domain.SubtaskStatus, error) {
	rows, err := q.QueryContext(ctx, `SELECT id,name,percentage FROM subtask_statuses ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.SubtaskStatus
	for rows.Next() {
		var s domain.SubtaskStatus
		if err := rows.Scan(&s.ID, &s.Name, &s.Percentage); err != nil {
			return nil, err
		}
		res = append(res, s)
	}
	return res, rows.Err()
}
