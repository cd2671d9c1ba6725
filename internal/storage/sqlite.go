package storage

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"campusbot/pkg/logx"
)

//go:embed migrations.sql
var migrationsFS embed.FS

// Store is the SQLite-backed directory and ledger.
type Store struct {
	db  *sql.DB
	log logx.Logger
}

func Open(cfg Config, log logx.Logger) (*Store, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("storage path is required")
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	if dir := filepath.Dir(cfg.Path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}

	db, err := sql.Open("sqlite", cfg.Path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a small number of concurrent writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if cfg.BusyTimeout > 0 {
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", cfg.BusyTimeout.Milliseconds()))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	st := &Store{db: db, log: log}
	if err := st.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return st, nil
}

func (s *Store) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(b))
	return err
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// ---- Admins ----

// UpsertAdmin creates or updates an admin row. Used both by the provisioning
// commands and by owner seeding at startup.
func (s *Store) UpsertAdmin(ctx context.Context, a Admin) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO admin(id, is_superuser, faculty_id, archived) VALUES(?,?,?,?)
		 ON CONFLICT(id) DO UPDATE SET is_superuser=excluded.is_superuser, faculty_id=excluded.faculty_id, archived=excluded.archived`,
		a.ID, a.Superuser, nullID(a.FacultyID), a.Archived,
	)
	return err
}

// SeedOwner marks an id as a non-archived superuser without disturbing an
// existing row's faculty.
func (s *Store) SeedOwner(ctx context.Context, id int64) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO admin(id, is_superuser, archived) VALUES(?,1,0)
		 ON CONFLICT(id) DO UPDATE SET is_superuser=1, archived=0`,
		id,
	)
	return err
}

func (s *Store) AdminByID(ctx context.Context, id int64) (Admin, bool, error) {
	var a Admin
	var fid sql.NullInt64
	err := s.db.QueryRowContext(ctx,
		`SELECT id, is_superuser, faculty_id, archived FROM admin WHERE id = ?`, id,
	).Scan(&a.ID, &a.Superuser, &fid, &a.Archived)
	if errors.Is(err, sql.ErrNoRows) {
		return Admin{}, false, nil
	}
	if err != nil {
		return Admin{}, false, err
	}
	a.FacultyID = fid.Int64
	return a, true, nil
}

func (s *Store) Admins(ctx context.Context) ([]Admin, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, is_superuser, faculty_id, archived FROM admin ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Admin
	for rows.Next() {
		var a Admin
		var fid sql.NullInt64
		if err := rows.Scan(&a.ID, &a.Superuser, &fid, &a.Archived); err != nil {
			return nil, err
		}
		a.FacultyID = fid.Int64
		out = append(out, a)
	}
	return out, rows.Err()
}

// SetAdminArchived soft-deletes (or restores) an admin.
func (s *Store) SetAdminArchived(ctx context.Context, id int64, archived bool) error {
	res, err := s.db.ExecContext(ctx, `UPDATE admin SET archived = ? WHERE id = ?`, archived, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err == nil && n == 0 {
		return sql.ErrNoRows
	}
	return err
}

// ---- Faculties ----

func (s *Store) AddFaculty(ctx context.Context, name string) (int64, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return 0, errors.New("faculty name is empty")
	}
	res, err := s.db.ExecContext(ctx, `INSERT INTO faculty(name) VALUES(?)`, name)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

func (s *Store) Faculties(ctx context.Context) ([]Faculty, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, name FROM faculty ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Faculty
	for rows.Next() {
		var f Faculty
		if err := rows.Scan(&f.ID, &f.Name); err != nil {
			return nil, err
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

// FacultyIDByName matches case-insensitively so typed faculty names in
// broadcast commands do not have to match stored casing.
func (s *Store) FacultyIDByName(ctx context.Context, name string) (int64, bool, error) {
	var id int64
	err := s.db.QueryRowContext(ctx,
		`SELECT id FROM faculty WHERE name = ? COLLATE NOCASE`, strings.TrimSpace(name),
	).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return id, true, nil
}

func (s *Store) FacultyNameByID(ctx context.Context, id int64) (string, bool, error) {
	var name string
	err := s.db.QueryRowContext(ctx, `SELECT name FROM faculty WHERE id = ?`, id).Scan(&name)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return name, true, nil
}

// ---- Groups ----

func (s *Store) AddGroup(ctx context.Context, g Group) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO student_group(id, course, faculty_id) VALUES(?,?,?)`,
		g.ID, g.Course, nullID(g.FacultyID),
	)
	return err
}

func (s *Store) GroupByID(ctx context.Context, id int64) (Group, bool, error) {
	var g Group
	var fid sql.NullInt64
	err := s.db.QueryRowContext(ctx,
		`SELECT id, course, faculty_id FROM student_group WHERE id = ?`, id,
	).Scan(&g.ID, &g.Course, &fid)
	if errors.Is(err, sql.ErrNoRows) {
		return Group{}, false, nil
	}
	if err != nil {
		return Group{}, false, err
	}
	g.FacultyID = fid.Int64
	return g, true, nil
}

func (s *Store) SetGroupCourse(ctx context.Context, id int64, course int) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE student_group SET course = ? WHERE id = ?`, course, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err == nil && n == 0 {
		return sql.ErrNoRows
	}
	return err
}

// DeleteGroup is idempotent: deleting an already-absent group is not an error.
func (s *Store) DeleteGroup(ctx context.Context, id int64) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM student_group WHERE id = ?`, id)
	return err
}

// GroupIDsByCourseFaculty lists group ids for one course, scoped to a faculty
// when facultyID is non-zero. Order is stable (ascending id).
func (s *Store) GroupIDsByCourseFaculty(ctx context.Context, course int, facultyID int64) ([]int64, error) {
	var (
		rows *sql.Rows
		err  error
	)
	if facultyID != 0 {
		rows, err = s.db.QueryContext(ctx,
			`SELECT id FROM student_group WHERE course = ? AND faculty_id = ? ORDER BY id`,
			course, facultyID)
	} else {
		rows, err = s.db.QueryContext(ctx,
			`SELECT id FROM student_group WHERE course = ? ORDER BY id`, course)
	}
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanIDs(rows)
}

// AllGroupIDs lists every registered group. With excludeAdminCourse it leaves
// out admin-only rooms (course = -1), which never receive broadcasts.
func (s *Store) AllGroupIDs(ctx context.Context, excludeAdminCourse bool) ([]int64, error) {
	q := `SELECT id FROM student_group ORDER BY id`
	if excludeAdminCourse {
		q = `SELECT id FROM student_group WHERE course != -1 ORDER BY id`
	}
	rows, err := s.db.QueryContext(ctx, q)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanIDs(rows)
}

// ---- Ledger ----

// CreateMessage inserts one immutable message row and returns its id.
// Attachments are stored as a JSON array of platform file references.
func (s *Store) CreateMessage(ctx context.Context, text string, attachments []string, authorID int64) (int64, error) {
	var att sql.NullString
	if len(attachments) > 0 {
		b, err := json.Marshal(attachments)
		if err != nil {
			return 0, err
		}
		att = sql.NullString{String: string(b), Valid: true}
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO message(body, attachments, created_at, author_id) VALUES(?,?,?,?)`,
		nullStr(text), att, time.Now().UTC().Format(time.RFC3339Nano), authorID,
	)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// RecordReceipt writes the delivery outcome for one (group, message) pair.
// Receipts are historical facts; they are written once and never updated.
func (s *Store) RecordReceipt(ctx context.Context, groupID, messageID int64, delivered bool) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO group_message(group_id, message_id, delivered) VALUES(?,?,?)`,
		groupID, messageID, delivered,
	)
	return err
}

// PruneLedger deletes messages created before the cutoff together with their
// receipts. Returns (messages, receipts) deleted.
func (s *Store) PruneLedger(ctx context.Context, before time.Time) (int64, int64, error) {
	cutoff := before.UTC().Format(time.RFC3339Nano)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, 0, err
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		`DELETE FROM group_message WHERE message_id IN (SELECT id FROM message WHERE created_at < ?)`,
		cutoff)
	if err != nil {
		return 0, 0, err
	}
	receipts, _ := res.RowsAffected()

	res, err = tx.ExecContext(ctx, `DELETE FROM message WHERE created_at < ?`, cutoff)
	if err != nil {
		return 0, 0, err
	}
	messages, _ := res.RowsAffected()

	if err := tx.Commit(); err != nil {
		return 0, 0, err
	}
	return messages, receipts, nil
}

// ---- helpers ----

func scanIDs(rows *sql.Rows) ([]int64, error) {
	var out []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

func nullID(id int64) sql.NullInt64 {
	return sql.NullInt64{Int64: id, Valid: id != 0}
}

func nullStr(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
