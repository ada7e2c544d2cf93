package service

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/lib/pq"
	"go.uber.org/zap"

	"github.com/noah-isme/academy-adm-api/internal/models"
	"github.com/noah-isme/academy-adm-api/internal/repository"
	appErrors "github.com/noah-isme/academy-adm-api/pkg/errors"
	"github.com/noah-isme/academy-adm-api/pkg/jobs"
)

type admissionSyllabusStore interface {
	FindByID(ctx context.Context, id string) (*models.Syllabus, error)
}

type admissionRegistrationStore interface {
	FindByID(ctx context.Context, id string) (*models.Registration, error)
	FindByUserAndSeason(ctx context.Context, userID, seasonID string) (*models.Registration, error)
}

type admissionEnrollmentStore interface {
	ListByStudentAndSeason(ctx context.Context, studentID, seasonID string) ([]models.Enrollment, error)
	FindLatestSameSubjectInYear(ctx context.Context, schoolID, year, studentID string, subjects models.StringList) (*models.Enrollment, error)
	CreateAdmitted(ctx context.Context, enrollment *models.Enrollment) error
}

// ProgressNotifier pushes queue-position updates to a waiting client's
// channel. Implemented over Redis pub/sub; consumed by the push gateway.
type ProgressNotifier interface {
	NotifyWaiting(ctx context.Context, channelID string, update models.WaitingUpdate) error
}

type admissionObserver interface {
	ObserveAdmission(result string, wait time.Duration)
	SetAdmissionQueueDepth(depth int64)
}

// EnrollRequest is one admission attempt.
type EnrollRequest struct {
	SyllabusID     string `json:"syllabus_id" validate:"required"`
	RegistrationID string `json:"registration_id" validate:"required"`
	SocketID       string `json:"socket_id"`
}

// AdmissionConfig tunes queue-position reporting.
type AdmissionConfig struct {
	WaitingThreshold int64
}

// AdmissionService serializes enrollment attempts through a single-worker
// queue, validates them against an ordered rule chain and commits the
// admitted record together with the syllabus counter.
type AdmissionService struct {
	queue         *jobs.SerialQueue
	syllabuses    admissionSyllabusStore
	registrations admissionRegistrationStore
	enrollments   admissionEnrollmentStore
	notifier      ProgressNotifier
	metrics       admissionObserver
	validator     *validator.Validate
	logger        *zap.Logger
	cfg           AdmissionConfig
}

// NewAdmissionService constructs AdmissionService. The queue is owned by the
// composition root so tests can run with isolated instances.
func NewAdmissionService(queue *jobs.SerialQueue, syllabuses admissionSyllabusStore, registrations admissionRegistrationStore, enrollments admissionEnrollmentStore, notifier ProgressNotifier, metrics admissionObserver, validate *validator.Validate, logger *zap.Logger, cfg AdmissionConfig) *AdmissionService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.WaitingThreshold <= 0 {
		cfg.WaitingThreshold = 10
	}
	return &AdmissionService{
		queue:         queue,
		syllabuses:    syllabuses,
		registrations: registrations,
		enrollments:   enrollments,
		notifier:      notifier,
		metrics:       metrics,
		validator:     validate,
		logger:        logger,
		cfg:           cfg,
	}
}

// Enroll submits an admission attempt and blocks until the queue has decided
// it. The caller's queue position is pushed once, at submission time, when it
// exceeds the waiting threshold.
func (s *AdmissionService) Enroll(ctx context.Context, req EnrollRequest, callerID string) error {
	if err := s.validator.Struct(req); err != nil {
		return appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid enrollment payload")
	}

	submitted := time.Now()
	ticket, err := s.queue.Submit(func(taskCtx context.Context) error {
		return s.admit(taskCtx, req, callerID)
	})
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "admission queue unavailable")
	}

	if position := s.queue.Position(ticket.Index); req.SocketID != "" && position > s.cfg.WaitingThreshold && s.notifier != nil {
		update := models.WaitingUpdate{WaitingOrder: position, WaitingBehind: 0, TaskIndex: ticket.Index}
		if err := s.notifier.NotifyWaiting(ctx, req.SocketID, update); err != nil {
			s.logger.Warn("failed to push waiting order", zap.String("socket_id", req.SocketID), zap.Error(err))
		}
	}
	if s.metrics != nil {
		s.metrics.SetAdmissionQueueDepth(s.queue.Depth())
	}

	select {
	case <-ctx.Done():
		// The attempt keeps its queue slot; the client retries the read side.
		return appErrors.Wrap(ctx.Err(), appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "request cancelled while queued")
	case err := <-ticket.Result:
		s.observe(err, time.Since(submitted))
		if err != nil {
			return appErrors.FromError(err)
		}
		return nil
	}
}

func (s *AdmissionService) observe(err error, wait time.Duration) {
	if s.metrics == nil {
		return
	}
	result := "admitted"
	if err != nil {
		result = appErrors.FromError(err).Code
	}
	s.metrics.ObserveAdmission(result, wait)
	s.metrics.SetAdmissionQueueDepth(s.queue.Depth())
}

// admissionContext is the immutable input of the validation rule chain.
type admissionContext struct {
	callerID     string
	syllabus     *models.Syllabus
	registration *models.Registration
	// existing holds the student's in-season enrollments, evaluation included.
	existing []models.Enrollment
	// mentorRegistration is pre-fetched when the caller is a listed teacher
	// acting on someone else's registration; nil otherwise.
	mentorRegistration *models.Registration
}

type admissionRule func(admissionContext) *appErrors.Error

// admissionRules run in order; the first failure short-circuits the rest.
var admissionRules = []admissionRule{
	ruleNotDuplicated,
	ruleCapacityAvailable,
	ruleTimeAvailable,
	ruleSyllabusConfirmed,
	ruleCallerAuthorized,
}

func ruleNotDuplicated(ac admissionContext) *appErrors.Error {
	for i := range ac.existing {
		if ac.existing[i].SyllabusID == ac.syllabus.ID {
			return appErrors.ErrAlreadyEnrolled
		}
	}
	return nil
}

func ruleCapacityAvailable(ac admissionContext) *appErrors.Error {
	if ac.syllabus.CapacityLimit != 0 && ac.syllabus.EnrolledCount >= ac.syllabus.CapacityLimit {
		return appErrors.ErrStudentsFull
	}
	return nil
}

// ruleTimeAvailable compares block labels only: labels are pre-assigned slot
// identifiers, so two blocks conflict iff their labels collide.
func ruleTimeAvailable(ac admissionContext) *appErrors.Error {
	taken := make(map[string]struct{})
	for i := range ac.existing {
		for _, block := range ac.existing[i].TimeBlocks {
			taken[block.Label] = struct{}{}
		}
	}
	for _, block := range ac.syllabus.TimeBlocks {
		if _, ok := taken[block.Label]; ok {
			return appErrors.ErrTimeDuplicated
		}
	}
	return nil
}

func ruleSyllabusConfirmed(ac admissionContext) *appErrors.Error {
	if !ac.syllabus.Confirmed() {
		return appErrors.ErrNotConfirmed
	}
	return nil
}

func ruleCallerAuthorized(ac admissionContext) *appErrors.Error {
	// Self-enrollment: caller is the registered student.
	if ac.callerID == ac.registration.UserID {
		if !ac.registration.PermissionEnrollment {
			return appErrors.ErrForbidden
		}
		return nil
	}
	// Mentor invitation: caller holds a teacher slot on the syllabus and a
	// season registration with the enrollment permission.
	if ac.syllabus.HasTeacher(ac.callerID) {
		if ac.mentorRegistration == nil {
			return appErrors.Clone(appErrors.ErrNotFound, "mentor registration not found")
		}
		if !ac.mentorRegistration.PermissionEnrollment {
			return appErrors.ErrForbidden
		}
		return nil
	}
	return appErrors.ErrForbidden
}

// admit runs the full validate-then-commit sequence for one attempt. It only
// ever executes on the queue's single worker.
func (s *AdmissionService) admit(ctx context.Context, req EnrollRequest, callerID string) error {
	syllabus, err := s.syllabuses.FindByID(ctx, req.SyllabusID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrNotFound, "syllabus not found")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load syllabus")
	}

	registration, err := s.registrations.FindByID(ctx, req.RegistrationID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrNotFound, "registration not found")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load registration")
	}

	existing, err := s.enrollments.ListByStudentAndSeason(ctx, registration.UserID, syllabus.SeasonID)
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load enrollments")
	}

	ac := admissionContext{
		callerID:     callerID,
		syllabus:     syllabus,
		registration: registration,
		existing:     existing,
	}
	if callerID != registration.UserID && syllabus.HasTeacher(callerID) {
		mentor, err := s.registrations.FindByUserAndSeason(ctx, callerID, syllabus.SeasonID)
		if err != nil && !errors.Is(err, sql.ErrNoRows) {
			return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load mentor registration")
		}
		ac.mentorRegistration = mentor
	}

	for _, rule := range admissionRules {
		if ruleErr := rule(ac); ruleErr != nil {
			return ruleErr
		}
	}

	enrollment := buildEnrollment(syllabus, registration)
	if err := s.carryOverEvaluation(ctx, enrollment, registration, existing); err != nil {
		return err
	}

	if err := s.enrollments.CreateAdmitted(ctx, enrollment); err != nil {
		switch {
		case errors.Is(err, repository.ErrCapacityReached):
			return appErrors.ErrStudentsFull
		case isUniqueViolation(err):
			return appErrors.ErrAlreadyEnrolled
		default:
			return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to commit enrollment")
		}
	}

	s.logger.Info("enrollment admitted",
		zap.String("syllabus_id", syllabus.ID),
		zap.String("student_id", registration.UserID),
		zap.Int("enrolled_count", syllabus.EnrolledCount+1),
	)
	return nil
}

func buildEnrollment(syllabus *models.Syllabus, registration *models.Registration) *models.Enrollment {
	return &models.Enrollment{
		SyllabusID:   syllabus.ID,
		SeasonID:     syllabus.SeasonID,
		SchoolID:     syllabus.SchoolID,
		Year:         syllabus.Year,
		Term:         syllabus.Term,
		ClassTitle:   syllabus.ClassTitle,
		Classroom:    syllabus.Classroom,
		Subjects:     syllabus.Subjects,
		Point:        syllabus.Point,
		TimeBlocks:   syllabus.TimeBlocks,
		Teachers:     syllabus.Teachers,
		StudentID:    registration.UserID,
		StudentName:  registration.UserName,
		StudentGrade: registration.Grade,
		Evaluation:   models.EvaluationMap{},
	}
}

// carryOverEvaluation back-fills evaluation fields. With no in-season sibling
// for the subject, year-policy fields come from the latest same-subject
// enrollment elsewhere in the year; with a sibling, every field is copied
// from it regardless of policy.
func (s *AdmissionService) carryOverEvaluation(ctx context.Context, enrollment *models.Enrollment, registration *models.Registration, existing []models.Enrollment) error {
	if len(existing) == 0 {
		prior, err := s.enrollments.FindLatestSameSubjectInYear(ctx, enrollment.SchoolID, enrollment.Year, enrollment.StudentID, enrollment.Subjects)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return nil
			}
			return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load prior enrollment")
		}
		for _, field := range registration.FormEvaluation {
			if field.CombineBy == models.CombineByYear {
				enrollment.Evaluation[field.Label] = prior.Evaluation[field.Label]
			}
		}
		return nil
	}

	for i := range existing {
		if existing[i].HasSubject(enrollment.Subjects) {
			for _, field := range registration.FormEvaluation {
				enrollment.Evaluation[field.Label] = existing[i].Evaluation[field.Label]
			}
			return nil
		}
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	return false
}
