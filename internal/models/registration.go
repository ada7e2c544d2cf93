package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// RegistrationRole is the role a user holds within a season.
type RegistrationRole string

// Season roles.
const (
	RegistrationRoleStudent RegistrationRole = "student"
	RegistrationRoleTeacher RegistrationRole = "teacher"
)

// CombinePolicy governs how an evaluation field is shared across a student's
// enrollments: per term or across the whole year.
type CombinePolicy string

// Combination policies.
const (
	CombineByTerm CombinePolicy = "term"
	CombineByYear CombinePolicy = "year"
)

// EvaluationRoleAuth flags which season roles may act on a field.
type EvaluationRoleAuth struct {
	Student bool `json:"student"`
	Teacher bool `json:"teacher"`
}

// EvaluationFieldAuth carries view/edit authorization for one field.
type EvaluationFieldAuth struct {
	View EvaluationRoleAuth `json:"view"`
	Edit EvaluationRoleAuth `json:"edit"`
}

// EvaluationField describes one slot of a season's evaluation form.
type EvaluationField struct {
	Label     string              `json:"label"`
	CombineBy CombinePolicy       `json:"combine_by"`
	Auth      EvaluationFieldAuth `json:"auth"`
}

// EvaluationForm is the ordered field schedule stored on a registration.
type EvaluationForm []EvaluationField

// Field returns the descriptor for a label, or nil when the label is not part
// of the form.
func (f EvaluationForm) Field(label string) *EvaluationField {
	for i := range f {
		if f[i].Label == label {
			return &f[i]
		}
	}
	return nil
}

// Value marshals the form for persistence.
func (f EvaluationForm) Value() (driver.Value, error) {
	if f == nil {
		f = EvaluationForm{}
	}
	data, err := json.Marshal(f)
	if err != nil {
		return nil, fmt.Errorf("marshal evaluation form: %w", err)
	}
	return data, nil
}

// Scan unmarshals a JSONB payload into the form.
func (f *EvaluationForm) Scan(value interface{}) error {
	return scanJSON(value, f, "EvaluationForm")
}

// Registration binds a user to a season with a role. PermissionEnrollment
// gates both self-enrollment and mentor invitations; PermissionEvaluation
// gates evaluation edits.
type Registration struct {
	ID                   string           `db:"id" json:"id"`
	SeasonID             string           `db:"season_id" json:"season_id"`
	SchoolID             string           `db:"school_id" json:"school_id"`
	Year                 string           `db:"year" json:"year"`
	Term                 string           `db:"term" json:"term"`
	UserID               string           `db:"user_id" json:"user_id"`
	UserName             string           `db:"user_name" json:"user_name"`
	Role                 RegistrationRole `db:"role" json:"role"`
	Grade                string           `db:"grade" json:"grade"`
	Group                string           `db:"group_name" json:"group"`
	PermissionEnrollment bool             `db:"permission_enrollment" json:"permission_enrollment"`
	PermissionEvaluation bool             `db:"permission_evaluation" json:"permission_evaluation"`
	FormEvaluation       EvaluationForm   `db:"form_evaluation" json:"form_evaluation"`
	CreatedAt            time.Time        `db:"created_at" json:"created_at"`
	UpdatedAt            time.Time        `db:"updated_at" json:"updated_at"`
}
