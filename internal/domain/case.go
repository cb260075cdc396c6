package domain

// Case status values. These match the values stored by the existing
// application, so the buffer can replay against databases it did not create.
const (
	StatusInRepair = "In Reparatur"
	StatusClosed   = "Abgeschlossen"
)

// User roles.
const (
	RoleAdmin      = "Admin"
	RoleTechnician = "Techniker"
	RoleViewer     = "Viewer"
)

// ClinicsAll grants a user visibility into every clinic.
const ClinicsAll = "ALL"

// ValidRole reports whether role is one of the known user roles.
func ValidRole(role string) bool {
	switch role {
	case RoleAdmin, RoleTechnician, RoleViewer:
		return true
	}
	return false
}

// Case is a repair case record (a "ticket").
type Case struct {
	ID              string `json:"id"`
	Clinic          string `json:"clinic"`
	DeviceName      string `json:"device_name"`
	WaveNumber      string `json:"wave_number,omitempty"`
	Submitter       string `json:"submitter,omitempty"`
	ServiceProvider string `json:"service_provider,omitempty"`
	Status          string `json:"status"`
	Reason          string `json:"reason,omitempty"`
	DateSubmitted   string `json:"date_submitted,omitempty"`
	DateReturned    string `json:"date_returned,omitempty"`
	CreatedBy       string `json:"created_by,omitempty"`
	ClosedBy        string `json:"closed_by,omitempty"`
	Notes           string `json:"notes,omitempty"`
}

// User is an application account. Clinics is either ClinicsAll or a CSV of
// clinic names the user may see.
type User struct {
	Username string `json:"username"`
	Role     string `json:"role"`
	Clinics  string `json:"clinics"`
}

// CasePayload carries the field values for create_case and update_case.
// The ID is assigned by the caller (a UUID) so that a replayed create is an
// upsert-by-identifier rather than a fresh insert.
type CasePayload struct {
	ID              string `json:"id"`
	Clinic          string `json:"clinic"`
	DeviceName      string `json:"device_name"`
	WaveNumber      string `json:"wave_number,omitempty"`
	Submitter       string `json:"submitter,omitempty"`
	ServiceProvider string `json:"service_provider,omitempty"`
	Status          string `json:"status,omitempty"`
	Reason          string `json:"reason,omitempty"`
	DateSubmitted   string `json:"date_submitted,omitempty"`
	DateReturned    string `json:"date_returned,omitempty"`
	CreatedBy       string `json:"created_by,omitempty"`
	Notes           string `json:"notes,omitempty"`
}

// CaseStatusPayload carries the fields for close_case, reopen_case, and
// status-only update_case operations.
type CaseStatusPayload struct {
	Status       string `json:"status,omitempty"`
	DateReturned string `json:"date_returned,omitempty"`
	ClosedBy     string `json:"closed_by,omitempty"`
	Notes        string `json:"notes,omitempty"`
}

// ClinicPayload carries the fields for clinic operations.
type ClinicPayload struct {
	Name string `json:"name"`
}

// UserPayload carries the fields for admin user operations. Password is the
// plaintext entered by the admin; the store adapter hashes it before writing.
type UserPayload struct {
	Username string `json:"username"`
	Password string `json:"password,omitempty"`
	Role     string `json:"role,omitempty"`
	Clinics  string `json:"clinics,omitempty"`
}
