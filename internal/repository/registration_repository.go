package repository

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/academy-adm-api/internal/models"
)

const registrationColumns = `id, season_id, school_id, year, term, user_id, user_name, role, grade, group_name, permission_enrollment, permission_evaluation, form_evaluation, created_at, updated_at`

// RegistrationRepository handles persistence of season role bindings.
type RegistrationRepository struct {
	db *sqlx.DB
}

// NewRegistrationRepository constructs the repository.
func NewRegistrationRepository(db *sqlx.DB) *RegistrationRepository {
	return &RegistrationRepository{db: db}
}

// FindByID returns a registration by its ID.
func (r *RegistrationRepository) FindByID(ctx context.Context, id string) (*models.Registration, error) {
	query := fmt.Sprintf(`SELECT %s FROM registrations WHERE id = $1`, registrationColumns)
	var registration models.Registration
	if err := r.db.GetContext(ctx, &registration, query, id); err != nil {
		return nil, err
	}
	return &registration, nil
}

// FindByUserAndSeason returns the registration binding a user to a season.
func (r *RegistrationRepository) FindByUserAndSeason(ctx context.Context, userID, seasonID string) (*models.Registration, error) {
	query := fmt.Sprintf(`SELECT %s FROM registrations WHERE user_id = $1 AND season_id = $2 LIMIT 1`, registrationColumns)
	var registration models.Registration
	if err := r.db.GetContext(ctx, &registration, query, userID, seasonID); err != nil {
		return nil, err
	}
	return &registration, nil
}

// ExistsTeacher reports whether the user holds any teacher registration.
func (r *RegistrationRepository) ExistsTeacher(ctx context.Context, userID string) (bool, error) {
	const query = `SELECT COUNT(*) FROM registrations WHERE user_id = $1 AND role = $2`
	var count int
	if err := r.db.GetContext(ctx, &count, query, userID, models.RegistrationRoleTeacher); err != nil {
		return false, fmt.Errorf("check teacher registration: %w", err)
	}
	return count > 0, nil
}
