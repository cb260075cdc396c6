package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/mattn/go-sqlite3"
	"golang.org/x/crypto/bcrypt"

	"github.com/medtec-labs/caseship/internal/domain"
)

// bcryptCost is the cost factor for newly hashed passwords.
const bcryptCost = 12

// Apply executes one operation in a single transaction, including its audit
// log row. Connectivity failures wrap domain.ErrStoreUnreachable, rejected
// payloads wrap domain.ErrValidation.
func (s *Store) Apply(ctx context.Context, op domain.Operation) error {
	if err := op.Validate(); err != nil {
		return err
	}
	if err := s.ensureReady(); err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return classify(err)
	}

	if err := s.applyTx(ctx, tx, op); err != nil {
		tx.Rollback()
		return classify(err)
	}

	if err := tx.Commit(); err != nil {
		return classify(err)
	}
	return nil
}

func (s *Store) applyTx(ctx context.Context, tx *sql.Tx, op domain.Operation) error {
	switch op.Kind {
	case domain.OpCreateCase:
		return applyCreateCase(ctx, tx, op)
	case domain.OpUpdateCase:
		return applyUpdateCase(ctx, tx, op)
	case domain.OpCloseCase:
		return applyCloseCase(ctx, tx, op)
	case domain.OpReopenCase:
		return applyReopenCase(ctx, tx, op)
	case domain.OpDeleteCase:
		return applyDeleteCase(ctx, tx, op)
	case domain.OpCreateClinic:
		return applyCreateClinic(ctx, tx, op)
	case domain.OpDeleteClinic:
		return applyDeleteClinic(ctx, tx, op)
	case domain.OpCreateUser:
		return applyCreateUser(ctx, tx, op)
	case domain.OpUpdateUser:
		return applyUpdateUser(ctx, tx, op)
	case domain.OpDeleteUser:
		return applyDeleteUser(ctx, tx, op)
	default:
		return fmt.Errorf("%w: kind %q", domain.ErrUnknownOperation, op.Kind)
	}
}

func applyCreateCase(ctx context.Context, tx *sql.Tx, op domain.Operation) error {
	var p domain.CasePayload
	if err := json.Unmarshal(op.Payload, &p); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrValidation, err)
	}
	if p.Status == "" {
		p.Status = domain.StatusInRepair
	}
	if p.CreatedBy == "" {
		p.CreatedBy = p.Submitter
	}

	// ON CONFLICT DO NOTHING keeps replay idempotent: a create that was
	// applied before a flush was interrupted is silently skipped on retry.
	_, err := tx.ExecContext(ctx, `
		INSERT INTO cases (id, clinic, device_name, wave_number, submitter, service_provider,
		                   status, reason, date_submitted, date_returned, created_by, notes)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING`,
		p.ID, p.Clinic, p.DeviceName, p.WaveNumber, p.Submitter, p.ServiceProvider,
		p.Status, p.Reason, p.DateSubmitted, p.DateReturned, p.CreatedBy, p.Notes,
	)
	if err != nil {
		return err
	}

	return audit(ctx, tx, "case_create", domain.EntityCase, p.ID, op.Payload)
}

func applyUpdateCase(ctx context.Context, tx *sql.Tx, op domain.Operation) error {
	var p domain.CaseStatusPayload
	if err := json.Unmarshal(op.Payload, &p); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrValidation, err)
	}

	// Only the fields present in the payload are touched.
	var (
		sets []string
		args []interface{}
	)
	if p.Status != "" {
		sets = append(sets, "status=?")
		args = append(args, p.Status)
	}
	if p.DateReturned != "" {
		sets = append(sets, "date_returned=?")
		args = append(args, p.DateReturned)
	}
	if p.ClosedBy != "" {
		sets = append(sets, "closed_by=?")
		args = append(args, p.ClosedBy)
	}
	if p.Notes != "" {
		sets = append(sets, "notes=?")
		args = append(args, p.Notes)
	}
	if len(sets) == 0 {
		return fmt.Errorf("%w: update_case payload has no fields to set", domain.ErrValidation)
	}
	args = append(args, op.TargetID)

	if _, err := tx.ExecContext(ctx,
		"UPDATE cases SET "+strings.Join(sets, ", ")+" WHERE id=?", args...); err != nil {
		return err
	}

	return audit(ctx, tx, "case_update", domain.EntityCase, op.TargetID, op.Payload)
}

func applyCloseCase(ctx context.Context, tx *sql.Tx, op domain.Operation) error {
	var p domain.CaseStatusPayload
	if err := json.Unmarshal(op.Payload, &p); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrValidation, err)
	}
	if p.DateReturned == "" {
		p.DateReturned = time.Now().Format("2006-01-02")
	}

	if _, err := tx.ExecContext(ctx,
		"UPDATE cases SET status=?, date_returned=?, closed_by=? WHERE id=?",
		domain.StatusClosed, p.DateReturned, p.ClosedBy, op.TargetID); err != nil {
		return err
	}

	details, _ := json.Marshal(map[string]string{
		"status":        domain.StatusClosed,
		"date_returned": p.DateReturned,
		"closed_by":     p.ClosedBy,
	})
	return audit(ctx, tx, "case_close", domain.EntityCase, op.TargetID, details)
}

func applyReopenCase(ctx context.Context, tx *sql.Tx, op domain.Operation) error {
	if _, err := tx.ExecContext(ctx,
		"UPDATE cases SET status=?, date_returned=NULL, closed_by=NULL WHERE id=?",
		domain.StatusInRepair, op.TargetID); err != nil {
		return err
	}

	details, _ := json.Marshal(map[string]string{"status": domain.StatusInRepair})
	return audit(ctx, tx, "case_reopen", domain.EntityCase, op.TargetID, details)
}

func applyDeleteCase(ctx context.Context, tx *sql.Tx, op domain.Operation) error {
	var preview sql.NullString
	err := tx.QueryRowContext(ctx,
		"SELECT clinic || ' / ' || device_name FROM cases WHERE id=?", op.TargetID,
	).Scan(&preview)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return err
	}

	if _, err := tx.ExecContext(ctx, "DELETE FROM cases WHERE id=?", op.TargetID); err != nil {
		return err
	}

	details, _ := json.Marshal(map[string]string{"id": op.TargetID, "preview": preview.String})
	return audit(ctx, tx, "case_delete", domain.EntityCase, op.TargetID, details)
}

func applyCreateClinic(ctx context.Context, tx *sql.Tx, op domain.Operation) error {
	var p domain.ClinicPayload
	if err := json.Unmarshal(op.Payload, &p); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrValidation, err)
	}

	if _, err := tx.ExecContext(ctx,
		"INSERT INTO clinics(name) VALUES (?) ON CONFLICT(name) DO NOTHING", p.Name); err != nil {
		return err
	}

	return audit(ctx, tx, "clinic_create", domain.EntityClinic, p.Name, op.Payload)
}

func applyDeleteClinic(ctx context.Context, tx *sql.Tx, op domain.Operation) error {
	var p domain.ClinicPayload
	if err := json.Unmarshal(op.Payload, &p); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrValidation, err)
	}

	var count int
	if err := tx.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM cases WHERE clinic=?", p.Name).Scan(&count); err != nil {
		return err
	}
	if count > 0 {
		return fmt.Errorf("%w: clinic %q still referenced by %d case(s)", domain.ErrValidation, p.Name, count)
	}

	// Strip the clinic from per-user visibility lists (users without ALL).
	rows, err := tx.QueryContext(ctx, "SELECT id, clinics FROM users WHERE clinics != ?", domain.ClinicsAll)
	if err != nil {
		return err
	}
	type userClinics struct {
		id      int64
		clinics string
	}
	var updates []userClinics
	for rows.Next() {
		var u userClinics
		if err := rows.Scan(&u.id, &u.clinics); err != nil {
			rows.Close()
			return err
		}
		if trimmed, changed := removeFromCSV(u.clinics, p.Name); changed {
			u.clinics = trimmed
			updates = append(updates, u)
		}
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}
	for _, u := range updates {
		if _, err := tx.ExecContext(ctx, "UPDATE users SET clinics=? WHERE id=?", u.clinics, u.id); err != nil {
			return err
		}
	}

	if _, err := tx.ExecContext(ctx, "DELETE FROM clinics WHERE name=?", p.Name); err != nil {
		return err
	}

	return audit(ctx, tx, "clinic_delete", domain.EntityClinic, p.Name, op.Payload)
}

func applyCreateUser(ctx context.Context, tx *sql.Tx, op domain.Operation) error {
	var p domain.UserPayload
	if err := json.Unmarshal(op.Payload, &p); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrValidation, err)
	}
	if p.Clinics == "" {
		p.Clinics = domain.ClinicsAll
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(p.Password), bcryptCost)
	if err != nil {
		return fmt.Errorf("%w: hash password: %v", domain.ErrValidation, err)
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO users(username, password_hash, role, clinics)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(username) DO NOTHING`,
		p.Username, hash, p.Role, p.Clinics); err != nil {
		return err
	}

	return audit(ctx, tx, "user_create", domain.EntityUser, p.Username, auditUserDetails(p))
}

func applyUpdateUser(ctx context.Context, tx *sql.Tx, op domain.Operation) error {
	var p domain.UserPayload
	if err := json.Unmarshal(op.Payload, &p); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrValidation, err)
	}

	var (
		sets []string
		args []interface{}
	)
	if p.Role != "" {
		sets = append(sets, "role=?")
		args = append(args, p.Role)
	}
	if p.Clinics != "" {
		sets = append(sets, "clinics=?")
		args = append(args, p.Clinics)
	}
	if p.Password != "" {
		hash, err := bcrypt.GenerateFromPassword([]byte(p.Password), bcryptCost)
		if err != nil {
			return fmt.Errorf("%w: hash password: %v", domain.ErrValidation, err)
		}
		sets = append(sets, "password_hash=?")
		args = append(args, hash)
	}
	if len(sets) == 0 {
		return fmt.Errorf("%w: update_user payload has no fields to set", domain.ErrValidation)
	}
	args = append(args, p.Username)

	if _, err := tx.ExecContext(ctx,
		"UPDATE users SET "+strings.Join(sets, ", ")+" WHERE username=?", args...); err != nil {
		return err
	}

	return audit(ctx, tx, "user_update", domain.EntityUser, p.Username, auditUserDetails(p))
}

func applyDeleteUser(ctx context.Context, tx *sql.Tx, op domain.Operation) error {
	if _, err := tx.ExecContext(ctx, "DELETE FROM users WHERE username=?", op.TargetID); err != nil {
		return err
	}

	details, _ := json.Marshal(map[string]string{"username": op.TargetID})
	return audit(ctx, tx, "user_delete", domain.EntityUser, op.TargetID, details)
}

// audit appends one audit_log row inside the operation's transaction.
func audit(ctx context.Context, tx *sql.Tx, action, entity, entityID string, details []byte) error {
	_, err := tx.ExecContext(ctx,
		"INSERT INTO audit_log(action, entity, entity_id, details) VALUES (?, ?, ?, ?)",
		action, entity, entityID, string(details))
	return err
}

// auditUserDetails serializes user payload details with the password omitted.
func auditUserDetails(p domain.UserPayload) []byte {
	details, _ := json.Marshal(domain.UserPayload{
		Username: p.Username,
		Role:     p.Role,
		Clinics:  p.Clinics,
	})
	return details
}

// removeFromCSV removes name from a comma-separated list, reporting whether
// the list changed.
func removeFromCSV(csv, name string) (string, bool) {
	parts := strings.Split(csv, ",")
	kept := parts[:0]
	changed := false
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed == "" {
			continue
		}
		if trimmed == name {
			changed = true
			continue
		}
		kept = append(kept, trimmed)
	}
	return strings.Join(kept, ","), changed
}

// classify maps driver errors onto the domain's sentinel errors so the
// buffer can tell a locked or missing database from a rejected payload.
func classify(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, domain.ErrValidation) || errors.Is(err, domain.ErrStoreUnreachable) ||
		errors.Is(err, domain.ErrUnknownOperation) {
		return err
	}

	var se sqlite3.Error
	if errors.As(err, &se) {
		switch se.Code {
		case sqlite3.ErrBusy, sqlite3.ErrLocked, sqlite3.ErrCantOpen, sqlite3.ErrIoErr, sqlite3.ErrProtocol:
			return fmt.Errorf("%w: %v", domain.ErrStoreUnreachable, err)
		case sqlite3.ErrConstraint, sqlite3.ErrMismatch, sqlite3.ErrTooBig:
			return fmt.Errorf("%w: %v", domain.ErrValidation, err)
		}
	}

	var pathErr *os.PathError
	if errors.As(err, &pathErr) {
		return fmt.Errorf("%w: %v", domain.ErrStoreUnreachable, err)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", domain.ErrStoreUnreachable, err)
	}

	return err
}
