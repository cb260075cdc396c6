package domain

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// NewCaseID returns a fresh case identifier. Case IDs are assigned on the
// workstation, not by the store, so a buffered create replays as an
// upsert-by-identifier instead of inserting a duplicate.
func NewCaseID() string {
	return uuid.NewString()
}

// NewCreateCase builds a create_case operation. A missing payload ID is
// filled with a fresh case identifier.
func NewCreateCase(p CasePayload) (Operation, error) {
	if p.ID == "" {
		p.ID = NewCaseID()
	}
	return newOperation(OpCreateCase, p.ID, p)
}

// NewUpdateCase builds an update_case operation touching only the fields set
// in the payload.
func NewUpdateCase(caseID string, p CaseStatusPayload) (Operation, error) {
	return newOperation(OpUpdateCase, caseID, p)
}

// NewCloseCase builds a close_case operation.
func NewCloseCase(caseID string, p CaseStatusPayload) (Operation, error) {
	return newOperation(OpCloseCase, caseID, p)
}

// NewReopenCase builds a reopen_case operation.
func NewReopenCase(caseID string) (Operation, error) {
	return newOperation(OpReopenCase, caseID, CaseStatusPayload{})
}

// NewDeleteCase builds a delete_case operation.
func NewDeleteCase(caseID string) (Operation, error) {
	return newOperation(OpDeleteCase, caseID, struct{}{})
}

// NewCreateClinic builds a create_clinic operation.
func NewCreateClinic(name string) (Operation, error) {
	return newOperation(OpCreateClinic, name, ClinicPayload{Name: name})
}

// NewDeleteClinic builds a delete_clinic operation.
func NewDeleteClinic(name string) (Operation, error) {
	return newOperation(OpDeleteClinic, name, ClinicPayload{Name: name})
}

// NewCreateUser builds a create_user operation.
func NewCreateUser(p UserPayload) (Operation, error) {
	return newOperation(OpCreateUser, p.Username, p)
}

// NewUpdateUser builds an update_user operation.
func NewUpdateUser(p UserPayload) (Operation, error) {
	return newOperation(OpUpdateUser, p.Username, p)
}

// NewDeleteUser builds a delete_user operation.
func NewDeleteUser(username string) (Operation, error) {
	return newOperation(OpDeleteUser, username, struct{}{})
}

func newOperation(kind OpKind, targetID string, payload interface{}) (Operation, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Operation{}, err
	}
	op := Operation{
		Kind:        kind,
		Entity:      EntityForKind(kind),
		TargetID:    targetID,
		Payload:     raw,
		SubmittedAt: time.Now().UTC(),
	}
	if err := op.Validate(); err != nil {
		return Operation{}, err
	}
	return op, nil
}
