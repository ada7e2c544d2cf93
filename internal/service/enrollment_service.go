package service

import (
	"context"
	"database/sql"
	"errors"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/noah-isme/academy-adm-api/internal/models"
	appErrors "github.com/noah-isme/academy-adm-api/pkg/errors"
)

type enrollmentRepository interface {
	List(ctx context.Context, filter models.EnrollmentFilter) ([]models.Enrollment, error)
	ListWithEvaluation(ctx context.Context, filter models.EnrollmentFilter) ([]models.Enrollment, error)
	FindByID(ctx context.Context, id string) (*models.Enrollment, error)
	FindManyByIDs(ctx context.Context, ids []string) ([]models.Enrollment, error)
	ListSiblingsBySeasonSubject(ctx context.Context, excludeID, seasonID, studentID string, subjects models.StringList) ([]models.Enrollment, error)
	ListSiblingsByYearSubject(ctx context.Context, excludeID, schoolID, year, excludeTerm, studentID string, subjects models.StringList) ([]models.Enrollment, error)
	UpdateEvaluations(ctx context.Context, enrollments []models.Enrollment) error
	UpdateMemo(ctx context.Context, id, memo string) error
	SetCalendarHidden(ctx context.Context, id string, hidden bool) error
	DeleteWithdrawn(ctx context.Context, id, syllabusID string) error
	DeleteManyWithdrawn(ctx context.Context, ids []string, syllabusID string) (int64, error)
}

type registrationReader interface {
	FindByUserAndSeason(ctx context.Context, userID, seasonID string) (*models.Registration, error)
	ExistsTeacher(ctx context.Context, userID string) (bool, error)
}

type syllabusReader interface {
	FindByID(ctx context.Context, id string) (*models.Syllabus, error)
}

// EvaluationActor discriminates who is editing an evaluation.
type EvaluationActor string

// Actor values accepted by the evaluation update endpoint.
const (
	ActorMentor  EvaluationActor = "mentor"
	ActorStudent EvaluationActor = "student"
)

// UpdateEvaluationRequest carries new field values keyed by label.
type UpdateEvaluationRequest struct {
	New map[string]string `json:"new" validate:"required"`
}

// EvaluationOverview is the mentor-facing roster of a syllabus with
// evaluation payloads included.
type EvaluationOverview struct {
	Syllabus    *models.Syllabus    `json:"syllabus,omitempty"`
	Enrollments []models.Enrollment `json:"enrollments"`
}

// EnrollmentService covers the read and mutation flows outside admission:
// listing, evaluation visibility and updates, memos, calendar visibility and
// withdrawal.
type EnrollmentService struct {
	repo          enrollmentRepository
	registrations registrationReader
	syllabuses    syllabusReader
	validator     *validator.Validate
	logger        *zap.Logger
}

// NewEnrollmentService constructs EnrollmentService.
func NewEnrollmentService(repo enrollmentRepository, registrations registrationReader, syllabuses syllabusReader, validate *validator.Validate, logger *zap.Logger) *EnrollmentService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &EnrollmentService{repo: repo, registrations: registrations, syllabuses: syllabuses, validator: validate, logger: logger}
}

// List returns enrollments matching the filter; evaluation data is never
// part of list payloads.
func (s *EnrollmentService) List(ctx context.Context, filter models.EnrollmentFilter) ([]models.Enrollment, error) {
	enrollments, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list enrollments")
	}
	return enrollments, nil
}

// Get returns one enrollment to its owning student. Evaluation fields are
// filtered down to those the season form authorizes students to view.
func (s *EnrollmentService) Get(ctx context.Context, id string, claims *models.JWTClaims) (*models.Enrollment, error) {
	enrollment, err := s.findEnrollment(ctx, id)
	if err != nil {
		return nil, err
	}
	if enrollment.StudentID != claims.UserID {
		return nil, appErrors.ErrForbidden
	}

	registration, err := s.registrations.FindByUserAndSeason(ctx, claims.UserID, enrollment.SeasonID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "registration not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load registration")
	}

	visible := models.EvaluationMap{}
	for _, field := range registration.FormEvaluation {
		if field.Auth.View.Student {
			visible[field.Label] = enrollment.Evaluation[field.Label]
		}
	}
	enrollment.Evaluation = visible
	return enrollment, nil
}

// MentorEvaluations returns the evaluation roster of one syllabus to a listed
// teacher, or a student's records to any registered teacher.
func (s *EnrollmentService) MentorEvaluations(ctx context.Context, syllabusID, schoolID, studentID string, claims *models.JWTClaims) (*EvaluationOverview, error) {
	if syllabusID != "" {
		syllabus, err := s.syllabuses.FindByID(ctx, syllabusID)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return nil, appErrors.Clone(appErrors.ErrNotFound, "syllabus not found")
			}
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load syllabus")
		}
		if !syllabus.HasTeacher(claims.UserID) {
			return nil, appErrors.ErrForbidden
		}
		enrollments, err := s.repo.ListWithEvaluation(ctx, models.EnrollmentFilter{SyllabusID: syllabusID})
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list enrollments")
		}
		return &EvaluationOverview{Syllabus: syllabus, Enrollments: enrollments}, nil
	}

	if schoolID != "" && studentID != "" {
		isTeacher, err := s.registrations.ExistsTeacher(ctx, claims.UserID)
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check registration")
		}
		if !isTeacher {
			return nil, appErrors.ErrForbidden
		}
		enrollments, err := s.repo.ListWithEvaluation(ctx, models.EnrollmentFilter{SchoolID: schoolID, StudentID: studentID})
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list enrollments")
		}
		return &EvaluationOverview{Enrollments: enrollments}, nil
	}

	return nil, appErrors.ErrForbidden
}

// UpdateEvaluation applies new field values, gated per-field by the season
// form's edit authorization, and fans the values out to sibling enrollments
// per each field's combination policy.
func (s *EnrollmentService) UpdateEvaluation(ctx context.Context, id string, actor EvaluationActor, req UpdateEvaluationRequest, claims *models.JWTClaims) (*models.Enrollment, error) {
	if actor != ActorMentor && actor != ActorStudent {
		return nil, appErrors.Clone(appErrors.ErrValidation, "query parameter by must be mentor or student")
	}
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid evaluation payload")
	}

	enrollment, err := s.findEnrollment(ctx, id)
	if err != nil {
		return nil, err
	}

	if actor == ActorMentor && !enrollment.HasTeacher(claims.UserID) {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "caller is not a mentor of this enrollment")
	}
	if actor == ActorStudent && enrollment.StudentID != claims.UserID {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "caller is not the student of this enrollment")
	}

	registration, err := s.registrations.FindByUserAndSeason(ctx, claims.UserID, enrollment.SeasonID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "registration not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load registration")
	}
	if !registration.PermissionEvaluation {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "caller has no evaluation permission")
	}

	termSiblings, err := s.repo.ListSiblingsBySeasonSubject(ctx, enrollment.ID, enrollment.SeasonID, enrollment.StudentID, enrollment.Subjects)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load term siblings")
	}
	yearSiblings, err := s.repo.ListSiblingsByYearSubject(ctx, enrollment.ID, enrollment.SchoolID, enrollment.Year, enrollment.Term, enrollment.StudentID, enrollment.Subjects)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load year siblings")
	}

	editRole := models.RegistrationRoleStudent
	if actor == ActorMentor {
		editRole = models.RegistrationRoleTeacher
	}

	if enrollment.Evaluation == nil {
		enrollment.Evaluation = models.EvaluationMap{}
	}
	for label, value := range req.New {
		field := registration.FormEvaluation.Field(label)
		if field == nil {
			return nil, appErrors.Clone(appErrors.ErrValidation, "unknown evaluation field: "+label)
		}
		allowed := field.Auth.Edit.Student
		if editRole == models.RegistrationRoleTeacher {
			allowed = field.Auth.Edit.Teacher
		}
		if !allowed {
			continue
		}

		enrollment.Evaluation[label] = value
		for i := range termSiblings {
			setEvaluation(&termSiblings[i], label, value)
		}
		if field.CombineBy != models.CombineByTerm {
			for i := range yearSiblings {
				setEvaluation(&yearSiblings[i], label, value)
			}
		}
	}

	updated := append([]models.Enrollment{*enrollment}, termSiblings...)
	updated = append(updated, yearSiblings...)
	if err := s.repo.UpdateEvaluations(ctx, updated); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to save evaluations")
	}
	return enrollment, nil
}

// UpdateMemo replaces the student's memo on their own enrollment.
func (s *EnrollmentService) UpdateMemo(ctx context.Context, id, memo string, claims *models.JWTClaims) error {
	enrollment, err := s.findEnrollment(ctx, id)
	if err != nil {
		return err
	}
	if enrollment.StudentID != claims.UserID {
		return appErrors.Clone(appErrors.ErrForbidden, "caller cannot edit this enrollment")
	}
	if err := s.repo.UpdateMemo(ctx, id, memo); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update memo")
	}
	return nil
}

// SetCalendarVisibility hides or shows the enrollment on the student's
// calendar.
func (s *EnrollmentService) SetCalendarVisibility(ctx context.Context, id string, hidden bool, claims *models.JWTClaims) error {
	enrollment, err := s.findEnrollment(ctx, id)
	if err != nil {
		return err
	}
	if enrollment.StudentID != claims.UserID {
		return appErrors.Clone(appErrors.ErrForbidden, "caller cannot edit this enrollment")
	}
	if err := s.repo.SetCalendarHidden(ctx, id, hidden); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update calendar visibility")
	}
	return nil
}

// Withdraw removes a single enrollment on behalf of its student and
// decrements the syllabus counter. The governing registration must still hold
// the enrollment permission.
func (s *EnrollmentService) Withdraw(ctx context.Context, id string, claims *models.JWTClaims) error {
	enrollment, err := s.findEnrollment(ctx, id)
	if err != nil {
		return err
	}
	if claims.Role != models.RoleAdmin && enrollment.StudentID != claims.UserID {
		return appErrors.ErrForbidden
	}

	registration, err := s.registrations.FindByUserAndSeason(ctx, enrollment.StudentID, enrollment.SeasonID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrNotFound, "registration not found")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load registration")
	}
	if !registration.PermissionEnrollment {
		return appErrors.Clone(appErrors.ErrForbidden, "registration has no enrollment permission")
	}

	if err := s.repo.DeleteWithdrawn(ctx, id, enrollment.SyllabusID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrNotFound, "enrollment not found")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to withdraw enrollment")
	}
	return nil
}

// WithdrawMany removes a batch of enrollments belonging to one syllabus on
// behalf of a mentor. The counter is decremented by the number actually
// removed.
func (s *EnrollmentService) WithdrawMany(ctx context.Context, ids []string, claims *models.JWTClaims) (int64, error) {
	if len(ids) == 0 {
		return 0, appErrors.Clone(appErrors.ErrValidation, "no enrollment ids given")
	}

	enrollments, err := s.repo.FindManyByIDs(ctx, ids)
	if err != nil {
		return 0, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load enrollments")
	}
	if len(enrollments) == 0 {
		return 0, appErrors.Clone(appErrors.ErrNotFound, "enrollments not found")
	}

	syllabusID := enrollments[0].SyllabusID
	for i := range enrollments {
		if enrollments[i].SyllabusID != syllabusID {
			return 0, appErrors.Clone(appErrors.ErrConflict, "enrollments belong to different syllabuses")
		}
	}

	syllabus, err := s.syllabuses.FindByID(ctx, syllabusID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, appErrors.Clone(appErrors.ErrNotFound, "syllabus not found")
		}
		return 0, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load syllabus")
	}
	if !syllabus.HasTeacher(claims.UserID) {
		return 0, appErrors.Clone(appErrors.ErrForbidden, "caller is not a mentor of this syllabus")
	}

	deleted, err := s.repo.DeleteManyWithdrawn(ctx, ids, syllabusID)
	if err != nil {
		return 0, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to withdraw enrollments")
	}
	return deleted, nil
}

func (s *EnrollmentService) findEnrollment(ctx context.Context, id string) (*models.Enrollment, error) {
	enrollment, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "enrollment not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load enrollment")
	}
	return enrollment, nil
}

func setEvaluation(e *models.Enrollment, label, value string) {
	if e.Evaluation == nil {
		e.Evaluation = models.EvaluationMap{}
	}
	e.Evaluation[label] = value
}
