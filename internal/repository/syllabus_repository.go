package repository

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/academy-adm-api/internal/models"
)

const syllabusColumns = `id, season_id, school_id, year, term, class_title, classroom, subjects, point, capacity_limit, enrolled_count, teachers, time_blocks, created_at, updated_at`

// SyllabusRepository handles persistence of course offerings.
type SyllabusRepository struct {
	db *sqlx.DB
}

// NewSyllabusRepository constructs the repository.
func NewSyllabusRepository(db *sqlx.DB) *SyllabusRepository {
	return &SyllabusRepository{db: db}
}

// FindByID returns a syllabus by its ID.
func (r *SyllabusRepository) FindByID(ctx context.Context, id string) (*models.Syllabus, error) {
	query := fmt.Sprintf(`SELECT %s FROM syllabuses WHERE id = $1`, syllabusColumns)
	var syllabus models.Syllabus
	if err := r.db.GetContext(ctx, &syllabus, query, id); err != nil {
		return nil, err
	}
	return &syllabus, nil
}

// List returns syllabuses filtered by the provided criteria.
func (r *SyllabusRepository) List(ctx context.Context, filter models.SyllabusFilter) ([]models.Syllabus, error) {
	var conditions []string
	var args []interface{}

	if filter.SeasonID != "" {
		conditions = append(conditions, fmt.Sprintf("season_id = $%d", len(args)+1))
		args = append(args, filter.SeasonID)
	}
	if filter.TeacherID != "" {
		conditions = append(conditions, fmt.Sprintf(`teachers @> $%d::jsonb`, len(args)+1))
		args = append(args, fmt.Sprintf(`[{"user_id":%q}]`, filter.TeacherID))
	}
	if filter.Subject != "" {
		conditions = append(conditions, fmt.Sprintf(`subjects @> $%d::jsonb`, len(args)+1))
		args = append(args, fmt.Sprintf(`[%q]`, filter.Subject))
	}

	clause := ""
	if len(conditions) > 0 {
		clause = " WHERE " + strings.Join(conditions, " AND ")
	}

	page := filter.Page
	if page < 1 {
		page = 1
	}
	size := filter.PageSize
	if size <= 0 || size > 100 {
		size = 20
	}
	offset := (page - 1) * size

	query := fmt.Sprintf(`SELECT %s FROM syllabuses%s ORDER BY created_at DESC LIMIT %d OFFSET %d`,
		syllabusColumns, clause, size, offset)

	var syllabuses []models.Syllabus
	if err := r.db.SelectContext(ctx, &syllabuses, query, args...); err != nil {
		return nil, fmt.Errorf("list syllabuses: %w", err)
	}
	return syllabuses, nil
}

// UpdateTeachers replaces the teacher slot list, used for confirmations.
func (r *SyllabusRepository) UpdateTeachers(ctx context.Context, id string, teachers models.SyllabusTeachers) error {
	const query = `UPDATE syllabuses SET teachers = $2, updated_at = $3 WHERE id = $1`
	if _, err := r.db.ExecContext(ctx, query, id, teachers, time.Now().UTC()); err != nil {
		return fmt.Errorf("update syllabus teachers: %w", err)
	}
	return nil
}
