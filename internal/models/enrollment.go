package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// EvaluationMap holds evaluation values keyed by field label. The recognized
// label set comes from the registration's evaluation form; services reject
// labels outside that schema.
type EvaluationMap map[string]string

// Value marshals the map for persistence.
func (m EvaluationMap) Value() (driver.Value, error) {
	if m == nil {
		m = EvaluationMap{}
	}
	data, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("marshal evaluation map: %w", err)
	}
	return data, nil
}

// Scan unmarshals a JSONB payload into the map.
func (m *EvaluationMap) Scan(value interface{}) error {
	if *m == nil {
		*m = EvaluationMap{}
	}
	return scanJSON(value, m, "EvaluationMap")
}

// Enrollment records a student's admission into a syllabus. Syllabus fields
// are denormalized at admission time so the record stays readable after the
// offering changes. Unique per (syllabus, student).
type Enrollment struct {
	ID         string           `db:"id" json:"id"`
	SyllabusID string           `db:"syllabus_id" json:"syllabus_id"`
	SeasonID   string           `db:"season_id" json:"season_id"`
	SchoolID   string           `db:"school_id" json:"school_id"`
	Year       string           `db:"year" json:"year"`
	Term       string           `db:"term" json:"term"`
	ClassTitle string           `db:"class_title" json:"class_title"`
	Classroom  string           `db:"classroom" json:"classroom"`
	Subjects   StringList       `db:"subjects" json:"subjects"`
	Point      int              `db:"point" json:"point"`
	TimeBlocks TimeBlocks       `db:"time_blocks" json:"time_blocks"`
	Teachers   SyllabusTeachers `db:"teachers" json:"teachers"`

	StudentID          string        `db:"student_id" json:"student_id"`
	StudentName        string        `db:"student_name" json:"student_name"`
	StudentGrade       string        `db:"student_grade" json:"student_grade"`
	Evaluation         EvaluationMap `db:"evaluation" json:"evaluation,omitempty"`
	Memo               string        `db:"memo" json:"memo,omitempty"`
	HiddenFromCalendar bool          `db:"hidden_from_calendar" json:"hidden_from_calendar"`

	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// HasSubject reports whether the enrollment carries the exact subject tag list.
func (e *Enrollment) HasSubject(subjects StringList) bool {
	if len(e.Subjects) != len(subjects) {
		return false
	}
	for i := range subjects {
		if e.Subjects[i] != subjects[i] {
			return false
		}
	}
	return true
}

// HasTeacher reports whether the user is listed on the enrollment snapshot.
func (e *Enrollment) HasTeacher(userID string) bool {
	for _, t := range e.Teachers {
		if t.UserID == userID {
			return true
		}
	}
	return false
}

// EnrollmentFilter captures filtering criteria for listing enrollments.
type EnrollmentFilter struct {
	SyllabusID string
	SeasonID   string
	StudentID  string
	SchoolID   string
	Year       string
}

// WaitingUpdate is the queue-position payload pushed to a waiting client.
type WaitingUpdate struct {
	WaitingOrder  int64 `json:"waitingOrder"`
	WaitingBehind int64 `json:"waitingBehind"`
	TaskIndex     int64 `json:"taskIndex"`
}
