package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/medtec-labs/caseship/internal/domain"
)

// CaseFilter narrows ListCases results. Zero values mean "no restriction";
// Clinics follows the user-visibility convention (ClinicsAll or a CSV of
// clinic names).
type CaseFilter struct {
	Status  string
	Clinics string
}

const caseColumns = `id, clinic, device_name, COALESCE(wave_number,''), COALESCE(submitter,''),
	COALESCE(service_provider,''), status, COALESCE(reason,''), COALESCE(date_submitted,''),
	COALESCE(date_returned,''), COALESCE(created_by,''), COALESCE(closed_by,''), COALESCE(notes,'')`

// CaseByID loads one case. Returns (nil, nil) when the case does not exist.
func (s *Store) CaseByID(ctx context.Context, id string) (*domain.Case, error) {
	if err := s.ensureReady(); err != nil {
		return nil, err
	}
	row := s.db.QueryRowContext(ctx,
		"SELECT "+caseColumns+" FROM cases WHERE id=?", id)

	c, err := scanCase(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, classify(err)
	}
	return c, nil
}

// ListCases returns cases matching the filter, newest submissions first.
func (s *Store) ListCases(ctx context.Context, filter CaseFilter) ([]domain.Case, error) {
	if err := s.ensureReady(); err != nil {
		return nil, err
	}
	query := "SELECT " + caseColumns + " FROM cases"
	var (
		conds []string
		args  []interface{}
	)

	if filter.Status != "" {
		conds = append(conds, "status=?")
		args = append(args, filter.Status)
	}
	if filter.Clinics != "" && filter.Clinics != domain.ClinicsAll {
		names := splitCSV(filter.Clinics)
		if len(names) == 0 {
			return nil, nil
		}
		placeholders := strings.Repeat("?,", len(names))
		conds = append(conds, fmt.Sprintf("clinic IN (%s)", placeholders[:len(placeholders)-1]))
		for _, n := range names {
			args = append(args, n)
		}
	}

	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY date_submitted DESC, id"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, classify(err)
	}
	defer rows.Close()

	var cases []domain.Case
	for rows.Next() {
		c, err := scanCase(rows)
		if err != nil {
			return nil, classify(err)
		}
		cases = append(cases, *c)
	}
	return cases, classify(rows.Err())
}

// ListClinics returns all clinic names, case-insensitively sorted.
func (s *Store) ListClinics(ctx context.Context) ([]string, error) {
	if err := s.ensureReady(); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, "SELECT name FROM clinics ORDER BY name COLLATE NOCASE")
	if err != nil {
		return nil, classify(err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, classify(err)
		}
		names = append(names, name)
	}
	return names, classify(rows.Err())
}

// UserByName loads one user account. Returns (nil, nil) when absent.
func (s *Store) UserByName(ctx context.Context, username string) (*domain.User, error) {
	if err := s.ensureReady(); err != nil {
		return nil, err
	}
	var u domain.User
	err := s.db.QueryRowContext(ctx,
		"SELECT username, role, clinics FROM users WHERE username=?", username,
	).Scan(&u.Username, &u.Role, &u.Clinics)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, classify(err)
	}
	return &u, nil
}

// AuditCount returns the number of audit_log rows, used by observability
// checks and tests.
func (s *Store) AuditCount(ctx context.Context) (int, error) {
	if err := s.ensureReady(); err != nil {
		return 0, err
	}
	var n int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM audit_log").Scan(&n); err != nil {
		return 0, classify(err)
	}
	return n, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanCase(row rowScanner) (*domain.Case, error) {
	var c domain.Case
	err := row.Scan(&c.ID, &c.Clinic, &c.DeviceName, &c.WaveNumber, &c.Submitter,
		&c.ServiceProvider, &c.Status, &c.Reason, &c.DateSubmitted,
		&c.DateReturned, &c.CreatedBy, &c.ClosedBy, &c.Notes)
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func splitCSV(csv string) []string {
	var names []string
	for _, part := range strings.Split(csv, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			names = append(names, trimmed)
		}
	}
	return names
}
