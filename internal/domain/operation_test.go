package domain

import (
	"encoding/json"
	"errors"
	"testing"
)

func mustJSON(t *testing.T, v interface{}) json.RawMessage {
	t.Helper()
	b, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return b
}

func TestOperationValidate(t *testing.T) {
	tests := []struct {
		name    string
		op      Operation
		wantErr error
	}{
		{
			name: "valid create case",
			op: Operation{
				Kind:   OpCreateCase,
				Entity: EntityCase,
				Payload: mustJSON(t, CasePayload{
					ID:         NewCaseID(),
					Clinic:     "Neuro",
					DeviceName: "Endoskop",
				}),
			},
		},
		{
			name: "unknown kind",
			op: Operation{
				Kind:    OpKind("truncate_everything"),
				Entity:  EntityCase,
				Payload: mustJSON(t, CasePayload{}),
			},
			wantErr: ErrUnknownOperation,
		},
		{
			name: "entity mismatch",
			op: Operation{
				Kind:    OpCreateClinic,
				Entity:  EntityCase,
				Payload: mustJSON(t, ClinicPayload{Name: "Ortho"}),
			},
			wantErr: ErrValidation,
		},
		{
			name: "create case without id",
			op: Operation{
				Kind:    OpCreateCase,
				Entity:  EntityCase,
				Payload: mustJSON(t, CasePayload{Clinic: "Neuro", DeviceName: "Endoskop"}),
			},
			wantErr: ErrValidation,
		},
		{
			name: "create case without clinic",
			op: Operation{
				Kind:    OpCreateCase,
				Entity:  EntityCase,
				Payload: mustJSON(t, CasePayload{ID: NewCaseID(), DeviceName: "Endoskop"}),
			},
			wantErr: ErrValidation,
		},
		{
			name: "close case without target",
			op: Operation{
				Kind:    OpCloseCase,
				Entity:  EntityCase,
				Payload: mustJSON(t, CaseStatusPayload{}),
			},
			wantErr: ErrValidation,
		},
		{
			name: "malformed payload",
			op: Operation{
				Kind:     OpCloseCase,
				Entity:   EntityCase,
				TargetID: "abc",
				Payload:  json.RawMessage(`{"status":`),
			},
			wantErr: ErrValidation,
		},
		{
			name: "clinic without name",
			op: Operation{
				Kind:    OpCreateClinic,
				Entity:  EntityClinic,
				Payload: mustJSON(t, ClinicPayload{}),
			},
			wantErr: ErrValidation,
		},
		{
			name: "create user without password",
			op: Operation{
				Kind:    OpCreateUser,
				Entity:  EntityUser,
				Payload: mustJSON(t, UserPayload{Username: "tech", Role: RoleTechnician}),
			},
			wantErr: ErrValidation,
		},
		{
			name: "create user with unknown role",
			op: Operation{
				Kind:    OpCreateUser,
				Entity:  EntityUser,
				Payload: mustJSON(t, UserPayload{Username: "tech", Password: "pw", Role: "Superuser"}),
			},
			wantErr: ErrValidation,
		},
		{
			name: "valid update user keeps role optional",
			op: Operation{
				Kind:    OpUpdateUser,
				Entity:  EntityUser,
				Payload: mustJSON(t, UserPayload{Username: "tech", Clinics: "Neuro,Thorax"}),
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.op.Validate()
			if tt.wantErr == nil {
				if err != nil {
					t.Fatalf("Validate() = %v, want nil", err)
				}
				return
			}
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("Validate() = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestNewCreateCaseAssignsID(t *testing.T) {
	op, err := NewCreateCase(CasePayload{Clinic: "Neuro", DeviceName: "Endoskop"})
	if err != nil {
		t.Fatalf("NewCreateCase: %v", err)
	}

	var p CasePayload
	if err := json.Unmarshal(op.Payload, &p); err != nil {
		t.Fatalf("unmarshal payload: %v", err)
	}
	if p.ID == "" {
		t.Fatal("expected generated case id")
	}
	if op.TargetID != p.ID {
		t.Fatalf("TargetID = %q, want %q", op.TargetID, p.ID)
	}
	if op.Entity != EntityCase {
		t.Fatalf("Entity = %q, want %q", op.Entity, EntityCase)
	}
	if op.SubmittedAt.IsZero() {
		t.Fatal("expected SubmittedAt to be set")
	}
}

func TestConnectivityObserve(t *testing.T) {
	c := NewConnectivity(false)
	if c.Online() {
		t.Fatal("expected offline initial state")
	}
	if !c.Observe(true) {
		t.Fatal("expected state change offline -> online")
	}
	if c.Observe(true) {
		t.Fatal("expected no change online -> online")
	}
	if !c.Observe(false) {
		t.Fatal("expected state change online -> offline")
	}
}
