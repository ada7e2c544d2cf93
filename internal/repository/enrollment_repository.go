package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/academy-adm-api/internal/models"
)

// ErrCapacityReached signals that the guarded counter increment found the
// syllabus already full. The admission service maps it to STUDENTS_FULL.
var ErrCapacityReached = errors.New("syllabus capacity reached")

const enrollmentColumns = `id, syllabus_id, season_id, school_id, year, term, class_title, classroom, subjects, point, time_blocks, teachers, student_id, student_name, student_grade, evaluation, memo, hidden_from_calendar, created_at, updated_at`

// listColumns omits the evaluation payload; list endpoints never expose it.
const enrollmentListColumns = `id, syllabus_id, season_id, school_id, year, term, class_title, classroom, subjects, point, time_blocks, teachers, student_id, student_name, student_grade, memo, hidden_from_calendar, created_at, updated_at`

// EnrollmentRepository handles persistence of admission records. The
// enrollment row and the owning syllabus counter always move together inside
// one transaction.
type EnrollmentRepository struct {
	db *sqlx.DB
}

// NewEnrollmentRepository constructs the repository.
func NewEnrollmentRepository(db *sqlx.DB) *EnrollmentRepository {
	return &EnrollmentRepository{db: db}
}

// List returns enrollments matching the filter, without evaluation data.
func (r *EnrollmentRepository) List(ctx context.Context, filter models.EnrollmentFilter) ([]models.Enrollment, error) {
	var conditions []string
	var args []interface{}

	if filter.SyllabusID != "" {
		conditions = append(conditions, fmt.Sprintf("syllabus_id = $%d", len(args)+1))
		args = append(args, filter.SyllabusID)
	}
	if filter.SeasonID != "" {
		conditions = append(conditions, fmt.Sprintf("season_id = $%d", len(args)+1))
		args = append(args, filter.SeasonID)
	}
	if filter.StudentID != "" {
		conditions = append(conditions, fmt.Sprintf("student_id = $%d", len(args)+1))
		args = append(args, filter.StudentID)
	}
	if filter.SchoolID != "" {
		conditions = append(conditions, fmt.Sprintf("school_id = $%d", len(args)+1))
		args = append(args, filter.SchoolID)
	}
	if filter.Year != "" {
		conditions = append(conditions, fmt.Sprintf("year = $%d", len(args)+1))
		args = append(args, filter.Year)
	}

	clause := ""
	if len(conditions) > 0 {
		clause = " WHERE " + strings.Join(conditions, " AND ")
	}
	query := fmt.Sprintf(`SELECT %s FROM enrollments%s ORDER BY created_at DESC`, enrollmentListColumns, clause)

	var enrollments []models.Enrollment
	if err := r.db.SelectContext(ctx, &enrollments, query, args...); err != nil {
		return nil, fmt.Errorf("list enrollments: %w", err)
	}
	return enrollments, nil
}

// ListWithEvaluation returns enrollments matching the filter including their
// evaluation payloads, for mentor-facing rosters.
func (r *EnrollmentRepository) ListWithEvaluation(ctx context.Context, filter models.EnrollmentFilter) ([]models.Enrollment, error) {
	var conditions []string
	var args []interface{}

	if filter.SyllabusID != "" {
		conditions = append(conditions, fmt.Sprintf("syllabus_id = $%d", len(args)+1))
		args = append(args, filter.SyllabusID)
	}
	if filter.SchoolID != "" {
		conditions = append(conditions, fmt.Sprintf("school_id = $%d", len(args)+1))
		args = append(args, filter.SchoolID)
	}
	if filter.StudentID != "" {
		conditions = append(conditions, fmt.Sprintf("student_id = $%d", len(args)+1))
		args = append(args, filter.StudentID)
	}
	if filter.Year != "" {
		conditions = append(conditions, fmt.Sprintf("year = $%d", len(args)+1))
		args = append(args, filter.Year)
	}

	clause := ""
	if len(conditions) > 0 {
		clause = " WHERE " + strings.Join(conditions, " AND ")
	}
	query := fmt.Sprintf(`SELECT %s FROM enrollments%s ORDER BY created_at DESC`, enrollmentColumns, clause)

	var enrollments []models.Enrollment
	if err := r.db.SelectContext(ctx, &enrollments, query, args...); err != nil {
		return nil, fmt.Errorf("list enrollments with evaluation: %w", err)
	}
	return enrollments, nil
}

// FindByID returns an enrollment including its evaluation payload.
func (r *EnrollmentRepository) FindByID(ctx context.Context, id string) (*models.Enrollment, error) {
	query := fmt.Sprintf(`SELECT %s FROM enrollments WHERE id = $1`, enrollmentColumns)
	var enrollment models.Enrollment
	if err := r.db.GetContext(ctx, &enrollment, query, id); err != nil {
		return nil, err
	}
	return &enrollment, nil
}

// FindManyByIDs returns all enrollments among the given IDs.
func (r *EnrollmentRepository) FindManyByIDs(ctx context.Context, ids []string) ([]models.Enrollment, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	placeholders := make([]string, len(ids))
	args := make([]interface{}, len(ids))
	for i, id := range ids {
		placeholders[i] = fmt.Sprintf("$%d", i+1)
		args[i] = id
	}
	query := fmt.Sprintf(`SELECT %s FROM enrollments WHERE id IN (%s)`, enrollmentColumns, strings.Join(placeholders, ","))
	var enrollments []models.Enrollment
	if err := r.db.SelectContext(ctx, &enrollments, query, args...); err != nil {
		return nil, fmt.Errorf("find enrollments by ids: %w", err)
	}
	return enrollments, nil
}

// ListByStudentAndSeason returns the student's in-season enrollments with
// evaluation data, the working set for duplicate, time-conflict and
// carry-over decisions.
func (r *EnrollmentRepository) ListByStudentAndSeason(ctx context.Context, studentID, seasonID string) ([]models.Enrollment, error) {
	query := fmt.Sprintf(`SELECT %s FROM enrollments WHERE student_id = $1 AND season_id = $2`, enrollmentColumns)
	var enrollments []models.Enrollment
	if err := r.db.SelectContext(ctx, &enrollments, query, studentID, seasonID); err != nil {
		return nil, fmt.Errorf("list student enrollments: %w", err)
	}
	return enrollments, nil
}

// FindLatestSameSubjectInYear returns the most recent enrollment matching the
// school, year, student and exact subject tags, used for year-policy
// evaluation carry-over.
func (r *EnrollmentRepository) FindLatestSameSubjectInYear(ctx context.Context, schoolID, year, studentID string, subjects models.StringList) (*models.Enrollment, error) {
	subjectsJSON, err := json.Marshal(subjects)
	if err != nil {
		return nil, fmt.Errorf("marshal subjects: %w", err)
	}
	query := fmt.Sprintf(`SELECT %s FROM enrollments
        WHERE school_id = $1 AND year = $2 AND student_id = $3 AND subjects = $4::jsonb
        ORDER BY created_at DESC LIMIT 1`, enrollmentColumns)
	var enrollment models.Enrollment
	if err := r.db.GetContext(ctx, &enrollment, query, schoolID, year, studentID, string(subjectsJSON)); err != nil {
		return nil, err
	}
	return &enrollment, nil
}

// ListSiblingsBySeasonSubject returns the student's other in-season
// enrollments sharing the exact subject tags.
func (r *EnrollmentRepository) ListSiblingsBySeasonSubject(ctx context.Context, excludeID, seasonID, studentID string, subjects models.StringList) ([]models.Enrollment, error) {
	subjectsJSON, err := json.Marshal(subjects)
	if err != nil {
		return nil, fmt.Errorf("marshal subjects: %w", err)
	}
	query := fmt.Sprintf(`SELECT %s FROM enrollments
        WHERE id <> $1 AND season_id = $2 AND student_id = $3 AND subjects = $4::jsonb`, enrollmentColumns)
	var enrollments []models.Enrollment
	if err := r.db.SelectContext(ctx, &enrollments, query, excludeID, seasonID, studentID, string(subjectsJSON)); err != nil {
		return nil, fmt.Errorf("list term siblings: %w", err)
	}
	return enrollments, nil
}

// ListSiblingsByYearSubject returns the student's same-year same-subject
// enrollments from other terms.
func (r *EnrollmentRepository) ListSiblingsByYearSubject(ctx context.Context, excludeID, schoolID, year, excludeTerm, studentID string, subjects models.StringList) ([]models.Enrollment, error) {
	subjectsJSON, err := json.Marshal(subjects)
	if err != nil {
		return nil, fmt.Errorf("marshal subjects: %w", err)
	}
	query := fmt.Sprintf(`SELECT %s FROM enrollments
        WHERE id <> $1 AND school_id = $2 AND year = $3 AND term <> $4 AND student_id = $5 AND subjects = $6::jsonb`, enrollmentColumns)
	var enrollments []models.Enrollment
	if err := r.db.SelectContext(ctx, &enrollments, query, excludeID, schoolID, year, excludeTerm, studentID, string(subjectsJSON)); err != nil {
		return nil, fmt.Errorf("list year siblings: %w", err)
	}
	return enrollments, nil
}

// CreateAdmitted persists a new enrollment and increments the owning syllabus
// counter in one transaction. The increment is guarded by the capacity
// predicate so the counter can never pass the limit even if a concurrent
// writer slipped past the queue.
func (r *EnrollmentRepository) CreateAdmitted(ctx context.Context, enrollment *models.Enrollment) error {
	if enrollment.ID == "" {
		enrollment.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if enrollment.CreatedAt.IsZero() {
		enrollment.CreatedAt = now
	}
	enrollment.UpdatedAt = now

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin admission tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	const insert = `INSERT INTO enrollments (id, syllabus_id, season_id, school_id, year, term, class_title, classroom, subjects, point, time_blocks, teachers, student_id, student_name, student_grade, evaluation, memo, hidden_from_calendar, created_at, updated_at)
        VALUES (:id, :syllabus_id, :season_id, :school_id, :year, :term, :class_title, :classroom, :subjects, :point, :time_blocks, :teachers, :student_id, :student_name, :student_grade, :evaluation, :memo, :hidden_from_calendar, :created_at, :updated_at)`
	if _, err := tx.NamedExecContext(ctx, insert, enrollment); err != nil {
		return fmt.Errorf("create enrollment: %w", err)
	}

	const increment = `UPDATE syllabuses SET enrolled_count = enrolled_count + 1, updated_at = $2
        WHERE id = $1 AND (capacity_limit = 0 OR enrolled_count < capacity_limit)`
	res, err := tx.ExecContext(ctx, increment, enrollment.SyllabusID, now)
	if err != nil {
		return fmt.Errorf("increment enrolled count: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("increment enrolled count: %w", err)
	}
	if affected == 0 {
		return ErrCapacityReached
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit admission tx: %w", err)
	}
	return nil
}

// UpdateEvaluations writes the evaluation maps of the given enrollments in one
// transaction, used by the combine-policy fan-out.
func (r *EnrollmentRepository) UpdateEvaluations(ctx context.Context, enrollments []models.Enrollment) error {
	if len(enrollments) == 0 {
		return nil
	}
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin evaluation tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	const query = `UPDATE enrollments SET evaluation = $2, updated_at = $3 WHERE id = $1`
	now := time.Now().UTC()
	for i := range enrollments {
		if _, err := tx.ExecContext(ctx, query, enrollments[i].ID, enrollments[i].Evaluation, now); err != nil {
			return fmt.Errorf("update evaluation %s: %w", enrollments[i].ID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit evaluation tx: %w", err)
	}
	return nil
}

// UpdateMemo replaces the student memo.
func (r *EnrollmentRepository) UpdateMemo(ctx context.Context, id, memo string) error {
	const query = `UPDATE enrollments SET memo = $2, updated_at = $3 WHERE id = $1`
	if _, err := r.db.ExecContext(ctx, query, id, memo, time.Now().UTC()); err != nil {
		return fmt.Errorf("update memo: %w", err)
	}
	return nil
}

// SetCalendarHidden toggles calendar visibility for the student.
func (r *EnrollmentRepository) SetCalendarHidden(ctx context.Context, id string, hidden bool) error {
	const query = `UPDATE enrollments SET hidden_from_calendar = $2, updated_at = $3 WHERE id = $1`
	if _, err := r.db.ExecContext(ctx, query, id, hidden, time.Now().UTC()); err != nil {
		return fmt.Errorf("set calendar visibility: %w", err)
	}
	return nil
}

// DeleteWithdrawn removes one enrollment and decrements the owning syllabus
// counter in the same transaction. Returns sql.ErrNoRows when the record is
// already gone so the counter stays untouched.
func (r *EnrollmentRepository) DeleteWithdrawn(ctx context.Context, id, syllabusID string) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin withdrawal tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	res, err := tx.ExecContext(ctx, `DELETE FROM enrollments WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete enrollment: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete enrollment: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}

	if err := decrementCount(ctx, tx, syllabusID, 1); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit withdrawal tx: %w", err)
	}
	return nil
}

// DeleteManyWithdrawn removes the given enrollments and decrements the
// syllabus counter by the number actually deleted, so a partial match still
// leaves the counter correct.
func (r *EnrollmentRepository) DeleteManyWithdrawn(ctx context.Context, ids []string, syllabusID string) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin bulk withdrawal tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	placeholders := make([]string, len(ids))
	args := make([]interface{}, 0, len(ids)+1)
	for i, id := range ids {
		placeholders[i] = fmt.Sprintf("$%d", i+2)
		args = append(args, id)
	}
	args = append([]interface{}{syllabusID}, args...)
	query := fmt.Sprintf(`DELETE FROM enrollments WHERE syllabus_id = $1 AND id IN (%s)`, strings.Join(placeholders, ","))
	res, err := tx.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("delete enrollments: %w", err)
	}
	deleted, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("delete enrollments: %w", err)
	}
	if deleted > 0 {
		if err := decrementCount(ctx, tx, syllabusID, deleted); err != nil {
			return 0, err
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit bulk withdrawal tx: %w", err)
	}
	return deleted, nil
}

func decrementCount(ctx context.Context, tx *sqlx.Tx, syllabusID string, by int64) error {
	const query = `UPDATE syllabuses SET enrolled_count = GREATEST(enrolled_count - $2, 0), updated_at = $3 WHERE id = $1`
	if _, err := tx.ExecContext(ctx, query, syllabusID, by, time.Now().UTC()); err != nil {
		return fmt.Errorf("decrement enrolled count: %w", err)
	}
	return nil
}
