package service

import (
	"context"
	"database/sql"
	"errors"

	"go.uber.org/zap"

	"github.com/noah-isme/academy-adm-api/internal/models"
	appErrors "github.com/noah-isme/academy-adm-api/pkg/errors"
)

type syllabusRepository interface {
	FindByID(ctx context.Context, id string) (*models.Syllabus, error)
	List(ctx context.Context, filter models.SyllabusFilter) ([]models.Syllabus, error)
	UpdateTeachers(ctx context.Context, id string, teachers models.SyllabusTeachers) error
}

// SyllabusService is the read side for course offerings plus the teacher
// confirmation flow that feeds the admission validator.
type SyllabusService struct {
	repo   syllabusRepository
	logger *zap.Logger
}

// NewSyllabusService constructs SyllabusService.
func NewSyllabusService(repo syllabusRepository, logger *zap.Logger) *SyllabusService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SyllabusService{repo: repo, logger: logger}
}

// List returns syllabuses matching the filter.
func (s *SyllabusService) List(ctx context.Context, filter models.SyllabusFilter) ([]models.Syllabus, error) {
	syllabuses, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list syllabuses")
	}
	return syllabuses, nil
}

// Get returns one syllabus.
func (s *SyllabusService) Get(ctx context.Context, id string) (*models.Syllabus, error) {
	syllabus, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "syllabus not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load syllabus")
	}
	return syllabus, nil
}

// Confirm marks the caller's teacher slot as confirmed. Admission stays
// blocked until every slot is confirmed.
func (s *SyllabusService) Confirm(ctx context.Context, id string, claims *models.JWTClaims) (*models.Syllabus, error) {
	syllabus, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	confirmed := false
	for i := range syllabus.Teachers {
		if syllabus.Teachers[i].UserID == claims.UserID {
			syllabus.Teachers[i].Confirmed = true
			confirmed = true
		}
	}
	if !confirmed {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "caller holds no teacher slot on this syllabus")
	}

	if err := s.repo.UpdateTeachers(ctx, id, syllabus.Teachers); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to confirm syllabus")
	}
	s.logger.Info("syllabus teacher confirmed", zap.String("syllabus_id", id), zap.String("teacher_id", claims.UserID))
	return syllabus, nil
}
