package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// SyllabusTeacher is one teacher slot on a syllabus. The confirmed flag gates
// admission: no student can be admitted while any slot is unconfirmed.
type SyllabusTeacher struct {
	UserID    string `json:"user_id"`
	UserName  string `json:"user_name"`
	Confirmed bool   `json:"confirmed"`
}

// SyllabusTeachers is a JSONB-backed teacher list.
type SyllabusTeachers []SyllabusTeacher

// Value marshals the teacher list for persistence.
func (t SyllabusTeachers) Value() (driver.Value, error) {
	if t == nil {
		t = SyllabusTeachers{}
	}
	data, err := json.Marshal(t)
	if err != nil {
		return nil, fmt.Errorf("marshal syllabus teachers: %w", err)
	}
	return data, nil
}

// Scan unmarshals a JSONB payload into the teacher list.
func (t *SyllabusTeachers) Scan(value interface{}) error {
	return scanJSON(value, t, "SyllabusTeachers")
}

// TimeBlock is a pre-assigned scheduling slot. Blocks conflict when their
// labels collide; the start/end times are display data, not overlap inputs.
type TimeBlock struct {
	Label string `json:"label"`
	Day   string `json:"day,omitempty"`
	Start string `json:"start,omitempty"`
	End   string `json:"end,omitempty"`
}

// TimeBlocks is a JSONB-backed time block list.
type TimeBlocks []TimeBlock

// Value marshals the block list for persistence.
func (b TimeBlocks) Value() (driver.Value, error) {
	if b == nil {
		b = TimeBlocks{}
	}
	data, err := json.Marshal(b)
	if err != nil {
		return nil, fmt.Errorf("marshal time blocks: %w", err)
	}
	return data, nil
}

// Scan unmarshals a JSONB payload into the block list.
func (b *TimeBlocks) Scan(value interface{}) error {
	return scanJSON(value, b, "TimeBlocks")
}

// StringList is a JSONB-backed string array (subject tags).
type StringList []string

// Value marshals the list for persistence.
func (l StringList) Value() (driver.Value, error) {
	if l == nil {
		l = StringList{}
	}
	data, err := json.Marshal(l)
	if err != nil {
		return nil, fmt.Errorf("marshal string list: %w", err)
	}
	return data, nil
}

// Scan unmarshals a JSONB payload into the list.
func (l *StringList) Scan(value interface{}) error {
	return scanJSON(value, l, "StringList")
}

// Syllabus is a course offering within a season. EnrolledCount never exceeds
// CapacityLimit when the limit is non-zero; only the admission committer and
// the withdrawal paths mutate it, and only inside a transaction.
type Syllabus struct {
	ID            string           `db:"id" json:"id"`
	SeasonID      string           `db:"season_id" json:"season_id"`
	SchoolID      string           `db:"school_id" json:"school_id"`
	Year          string           `db:"year" json:"year"`
	Term          string           `db:"term" json:"term"`
	ClassTitle    string           `db:"class_title" json:"class_title"`
	Classroom     string           `db:"classroom" json:"classroom"`
	Subjects      StringList       `db:"subjects" json:"subjects"`
	Point         int              `db:"point" json:"point"`
	CapacityLimit int              `db:"capacity_limit" json:"capacity_limit"`
	EnrolledCount int              `db:"enrolled_count" json:"enrolled_count"`
	Teachers      SyllabusTeachers `db:"teachers" json:"teachers"`
	TimeBlocks    TimeBlocks       `db:"time_blocks" json:"time_blocks"`
	CreatedAt     time.Time        `db:"created_at" json:"created_at"`
	UpdatedAt     time.Time        `db:"updated_at" json:"updated_at"`
}

// HasTeacher reports whether the user holds a teacher slot on the syllabus.
func (s *Syllabus) HasTeacher(userID string) bool {
	for _, t := range s.Teachers {
		if t.UserID == userID {
			return true
		}
	}
	return false
}

// Confirmed reports whether every teacher slot has been confirmed.
func (s *Syllabus) Confirmed() bool {
	for _, t := range s.Teachers {
		if !t.Confirmed {
			return false
		}
	}
	return true
}

// SyllabusFilter captures filtering criteria for listing syllabuses.
type SyllabusFilter struct {
	SeasonID  string
	TeacherID string
	Subject   string
	Page      int
	PageSize  int
}

func scanJSON(value interface{}, dst interface{}, kind string) error {
	if value == nil {
		return nil
	}
	var data []byte
	switch v := value.(type) {
	case []byte:
		data = v
	case string:
		data = []byte(v)
	default:
		return fmt.Errorf("unsupported type %T for %s", value, kind)
	}
	if len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, dst); err != nil {
		return fmt.Errorf("unmarshal %s: %w", kind, err)
	}
	return nil
}
