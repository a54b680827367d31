// Package migrations owns the dataset registry schema. Scripts are embedded
// from sql/ and recorded by version and name in a bookkeeping table.
package migrations

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"
)

//go:embed sql/*.sql
var embeddedFS embed.FS

const versionTable = "featurestream_schema_migrations"

// ErrSchemaBehind is returned by RequireCurrent when embedded migrations are
// still pending.
var ErrSchemaBehind = errors.New("registry schema is behind")

var fileNamePattern = regexp.MustCompile(`^([0-9]+)_([a-z0-9_]+)\.(up|down)\.sql$`)

type Runner struct {
	fsys fs.FS
}

func NewRunner() *Runner {
	return &Runner{fsys: embeddedFS}
}

type step struct {
	Version int64
	Name    string
	Up      string
	Down    string
}

func (s step) label() string {
	return fmt.Sprintf("%06d_%s", s.Version, s.Name)
}

// VersionStatus is one embedded migration and when it was applied. AppliedAt
// is zero while the migration is pending.
type VersionStatus struct {
	Version   int64
	Name      string
	AppliedAt time.Time
}

func (s VersionStatus) Applied() bool {
	return !s.AppliedAt.IsZero()
}

func (s VersionStatus) String() string {
	state := "pending"
	if s.Applied() {
		state = "applied " + s.AppliedAt.UTC().Format(time.RFC3339)
	}
	return fmt.Sprintf("%06d_%s %s", s.Version, s.Name, state)
}

// Status reports every embedded migration in version order. It does not
// create the bookkeeping table, so it is safe against a read-only role. A
// version recorded in the database but missing from this build is an error.
func (r *Runner) Status(ctx context.Context, db *sql.DB) ([]VersionStatus, error) {
	steps, err := loadSteps(r.fsys)
	if err != nil {
		return nil, err
	}
	applied, err := appliedVersions(ctx, db)
	if err != nil {
		return nil, err
	}

	report := make([]VersionStatus, 0, len(steps))
	for _, item := range steps {
		report = append(report, VersionStatus{Version: item.Version, Name: item.Name, AppliedAt: applied[item.Version]})
		delete(applied, item.Version)
	}
	if len(applied) > 0 {
		unknown := make([]int64, 0, len(applied))
		for version := range applied {
			unknown = append(unknown, version)
		}
		sort.Slice(unknown, func(i, j int) bool { return unknown[i] < unknown[j] })
		return nil, fmt.Errorf("registry schema version %d is not known to this build", unknown[0])
	}
	return report, nil
}

// RequireCurrent fails with ErrSchemaBehind when any embedded migration has
// not been applied. The API calls it before serving from the postgres registry.
func (r *Runner) RequireCurrent(ctx context.Context, db *sql.DB) error {
	report, err := r.Status(ctx, db)
	if err != nil {
		return err
	}
	var pending []string
	for _, item := range report {
		if !item.Applied() {
			pending = append(pending, fmt.Sprintf("%06d_%s", item.Version, item.Name))
		}
	}
	if len(pending) > 0 {
		return fmt.Errorf("%w: pending %s", ErrSchemaBehind, strings.Join(pending, ", "))
	}
	return nil
}

// Up applies pending migrations in version order. limit caps the number
// applied; zero applies all of them.
func (r *Runner) Up(ctx context.Context, db *sql.DB, limit int) (int, error) {
	steps, report, err := r.prepare(ctx, db)
	if err != nil {
		return 0, err
	}

	count := 0
	for i, item := range steps {
		if report[i].Applied() {
			continue
		}
		if limit > 0 && count >= limit {
			break
		}
		err := runStep(ctx, db, "apply", item, item.Up,
			`INSERT INTO `+versionTable+` (version, name) VALUES ($1, $2)`, item.Version, item.Name)
		if err != nil {
			return count, err
		}
		count++
	}
	return count, nil
}

// Down rolls back applied migrations newest first. A non-positive limit rolls
// back one.
func (r *Runner) Down(ctx context.Context, db *sql.DB, limit int) (int, error) {
	if limit <= 0 {
		limit = 1
	}
	steps, report, err := r.prepare(ctx, db)
	if err != nil {
		return 0, err
	}

	count := 0
	for i := len(steps) - 1; i >= 0 && count < limit; i-- {
		if !report[i].Applied() {
			continue
		}
		item := steps[i]
		err := runStep(ctx, db, "roll back", item, item.Down,
			`DELETE FROM `+versionTable+` WHERE version = $1`, item.Version)
		if err != nil {
			return count, err
		}
		count++
	}
	return count, nil
}

// prepare creates the bookkeeping table and returns the embedded steps with
// their status, index aligned.
func (r *Runner) prepare(ctx context.Context, db *sql.DB) ([]step, []VersionStatus, error) {
	steps, err := loadSteps(r.fsys)
	if err != nil {
		return nil, nil, err
	}
	_, err = db.ExecContext(ctx, `
CREATE TABLE IF NOT EXISTS `+versionTable+` (
	version BIGINT PRIMARY KEY,
	name TEXT NOT NULL DEFAULT '',
	applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
)`)
	if err != nil {
		return nil, nil, fmt.Errorf("ensure %s: %w", versionTable, err)
	}
	report, err := r.Status(ctx, db)
	if err != nil {
		return nil, nil, err
	}
	return steps, report, nil
}

// runStep executes script and its bookkeeping statement in one transaction.
func runStep(ctx context.Context, db *sql.DB, action string, item step, script, bookkeeping string, args ...any) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%s %s: begin: %w", action, item.label(), err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, script); err != nil {
		return fmt.Errorf("%s %s: %w", action, item.label(), err)
	}
	if _, err := tx.ExecContext(ctx, bookkeeping, args...); err != nil {
		return fmt.Errorf("%s %s: record version: %w", action, item.label(), err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%s %s: commit: %w", action, item.label(), err)
	}
	return nil
}

// appliedVersions maps recorded versions to their apply time. A missing
// bookkeeping table means nothing was applied yet.
func appliedVersions(ctx context.Context, db *sql.DB) (map[int64]time.Time, error) {
	var exists bool
	if err := db.QueryRowContext(ctx, `SELECT to_regclass($1) IS NOT NULL`, versionTable).Scan(&exists); err != nil {
		return nil, fmt.Errorf("look up %s: %w", versionTable, err)
	}
	applied := map[int64]time.Time{}
	if !exists {
		return applied, nil
	}

	rows, err := db.QueryContext(ctx, `SELECT version, applied_at FROM `+versionTable)
	if err != nil {
		return nil, fmt.Errorf("query applied versions: %w", err)
	}
	defer func() { _ = rows.Close() }()
	for rows.Next() {
		var version int64
		var appliedAt time.Time
		if err := rows.Scan(&version, &appliedAt); err != nil {
			return nil, fmt.Errorf("scan applied version: %w", err)
		}
		applied[version] = appliedAt
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate applied versions: %w", err)
	}
	return applied, nil
}

// loadSteps pairs NNNNNN_name.up.sql with NNNNNN_name.down.sql. Both halves
// must exist, be non-empty and share the same name.
func loadSteps(fsys fs.FS) ([]step, error) {
	entries, err := fs.ReadDir(fsys, "sql")
	if err != nil {
		return nil, fmt.Errorf("read migration dir: %w", err)
	}

	byVersion := map[int64]*step{}
	for _, entry := range entries {
		matches := fileNamePattern.FindStringSubmatch(entry.Name())
		if entry.IsDir() || matches == nil {
			continue
		}
		version, err := strconv.ParseInt(matches[1], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("parse migration version in %q: %w", entry.Name(), err)
		}
		script, err := fs.ReadFile(fsys, "sql/"+entry.Name())
		if err != nil {
			return nil, fmt.Errorf("read migration %q: %w", entry.Name(), err)
		}

		item, ok := byVersion[version]
		if !ok {
			item = &step{Version: version, Name: matches[2]}
			byVersion[version] = item
		}
		if item.Name != matches[2] {
			return nil, fmt.Errorf("migration %d has mismatched names %q and %q", version, item.Name, matches[2])
		}
		if matches[3] == "up" {
			item.Up = string(script)
		} else {
			item.Down = string(script)
		}
	}

	steps := make([]step, 0, len(byVersion))
	for _, item := range byVersion {
		if strings.TrimSpace(item.Up) == "" {
			return nil, fmt.Errorf("migration %s missing up SQL", item.label())
		}
		if strings.TrimSpace(item.Down) == "" {
			return nil, fmt.Errorf("migration %s missing down SQL", item.label())
		}
		steps = append(steps, *item)
	}
	sort.Slice(steps, func(i, j int) bool { return steps[i].Version < steps[j].Version })
	return steps, nil
}
