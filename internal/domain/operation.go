package domain

import (
	"encoding/json"
	"fmt"
	"time"
)

// OpKind identifies the mutation an Operation carries.
type OpKind string

const (
	OpCreateCase OpKind = "create_case"
	OpUpdateCase OpKind = "update_case"
	OpCloseCase  OpKind = "close_case"
	OpReopenCase OpKind = "reopen_case"
	OpDeleteCase OpKind = "delete_case"

	OpCreateClinic OpKind = "create_clinic"
	OpDeleteClinic OpKind = "delete_clinic"

	OpCreateUser OpKind = "create_user"
	OpUpdateUser OpKind = "update_user"
	OpDeleteUser OpKind = "delete_user"
)

// Entity names for Operation.Entity.
const (
	EntityCase   = "case"
	EntityClinic = "clinic"
	EntityUser   = "user"
)

// Operation represents one pending mutation against the shared store.
// Operations are the atomic unit of the offline queue: they are created when
// a write cannot reach the store and destroyed only after the store has
// confirmed their application.
type Operation struct {
	// Seq is the locally assigned sequence number. Strictly increasing per
	// queue instance; replay happens in ascending Seq order.
	Seq int64 `json:"seq"`

	// Kind is the mutation type (create_case, close_case, ...).
	Kind OpKind `json:"kind"`

	// Entity is the target entity type: case, clinic, or user.
	Entity string `json:"entity"`

	// TargetID identifies the record a mutation applies to. Empty for
	// creates, whose payload carries the identifier.
	TargetID string `json:"target_id,omitempty"`

	// Payload holds the kind-specific field values, JSON encoded.
	Payload json.RawMessage `json:"payload"`

	// SubmittedAt is the wall-clock time of the original submission.
	SubmittedAt time.Time `json:"submitted_at"`
}

// entityFor maps each operation kind to its entity type.
var entityFor = map[OpKind]string{
	OpCreateCase:   EntityCase,
	OpUpdateCase:   EntityCase,
	OpCloseCase:    EntityCase,
	OpReopenCase:   EntityCase,
	OpDeleteCase:   EntityCase,
	OpCreateClinic: EntityClinic,
	OpDeleteClinic: EntityClinic,
	OpCreateUser:   EntityUser,
	OpUpdateUser:   EntityUser,
	OpDeleteUser:   EntityUser,
}

// EntityForKind returns the entity type a kind mutates, or "" for unknown kinds.
func EntityForKind(k OpKind) string {
	return entityFor[k]
}

// Validate checks that the operation is structurally sound: known kind,
// matching entity, decodable payload, and required fields present. It does
// not consult the store; referential problems surface as validation errors
// from the store adapter instead.
func (o Operation) Validate() error {
	entity, ok := entityFor[o.Kind]
	if !ok {
		return fmt.Errorf("%w: kind %q", ErrUnknownOperation, o.Kind)
	}
	if o.Entity != entity {
		return fmt.Errorf("%w: kind %q targets entity %q, got %q", ErrValidation, o.Kind, entity, o.Entity)
	}

	switch o.Kind {
	case OpCreateCase:
		var p CasePayload
		if err := json.Unmarshal(o.Payload, &p); err != nil {
			return fmt.Errorf("%w: decode case payload: %v", ErrValidation, err)
		}
		if p.ID == "" {
			return fmt.Errorf("%w: create_case requires a caller-assigned id", ErrValidation)
		}
		if p.Clinic == "" {
			return fmt.Errorf("%w: clinic is required", ErrValidation)
		}
		if p.DeviceName == "" {
			return fmt.Errorf("%w: device name is required", ErrValidation)
		}

	case OpUpdateCase, OpCloseCase, OpReopenCase, OpDeleteCase:
		if o.TargetID == "" {
			return fmt.Errorf("%w: %s requires a target id", ErrValidation, o.Kind)
		}
		if o.Kind != OpDeleteCase {
			var p CaseStatusPayload
			if err := json.Unmarshal(o.Payload, &p); err != nil {
				return fmt.Errorf("%w: decode case status payload: %v", ErrValidation, err)
			}
		}

	case OpCreateClinic, OpDeleteClinic:
		var p ClinicPayload
		if err := json.Unmarshal(o.Payload, &p); err != nil {
			return fmt.Errorf("%w: decode clinic payload: %v", ErrValidation, err)
		}
		if p.Name == "" {
			return fmt.Errorf("%w: clinic name must not be empty", ErrValidation)
		}

	case OpCreateUser, OpUpdateUser:
		var p UserPayload
		if err := json.Unmarshal(o.Payload, &p); err != nil {
			return fmt.Errorf("%w: decode user payload: %v", ErrValidation, err)
		}
		if p.Username == "" {
			return fmt.Errorf("%w: username is required", ErrValidation)
		}
		if o.Kind == OpCreateUser {
			if p.Password == "" {
				return fmt.Errorf("%w: create_user requires a password", ErrValidation)
			}
			if !ValidRole(p.Role) {
				return fmt.Errorf("%w: unknown role %q", ErrValidation, p.Role)
			}
		}
		if o.Kind == OpUpdateUser && p.Role != "" && !ValidRole(p.Role) {
			return fmt.Errorf("%w: unknown role %q", ErrValidation, p.Role)
		}

	case OpDeleteUser:
		if o.TargetID == "" {
			return fmt.Errorf("%w: delete_user requires a target id", ErrValidation)
		}
	}

	return nil
}
