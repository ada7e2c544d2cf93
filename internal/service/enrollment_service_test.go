package service

import (
	"context"
	"database/sql"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/academy-adm-api/internal/models"
	appErrors "github.com/noah-isme/academy-adm-api/pkg/errors"
)

type fakeEnrollmentRepo struct {
	byID         map[string]*models.Enrollment
	termSiblings []models.Enrollment
	yearSiblings []models.Enrollment
	listed       []models.Enrollment

	saved        []models.Enrollment
	deletedIDs   []string
	bulkDeleted  int64
	memoByID     map[string]string
	hiddenByID   map[string]bool
	deleteErr    error
	missingOnDel bool
}

func (f *fakeEnrollmentRepo) List(_ context.Context, _ models.EnrollmentFilter) ([]models.Enrollment, error) {
	return f.listed, nil
}

func (f *fakeEnrollmentRepo) ListWithEvaluation(_ context.Context, _ models.EnrollmentFilter) ([]models.Enrollment, error) {
	return f.listed, nil
}

func (f *fakeEnrollmentRepo) FindByID(_ context.Context, id string) (*models.Enrollment, error) {
	if e, ok := f.byID[id]; ok {
		copied := *e
		return &copied, nil
	}
	return nil, sql.ErrNoRows
}

func (f *fakeEnrollmentRepo) FindManyByIDs(_ context.Context, ids []string) ([]models.Enrollment, error) {
	var out []models.Enrollment
	for _, id := range ids {
		if e, ok := f.byID[id]; ok {
			out = append(out, *e)
		}
	}
	return out, nil
}

func (f *fakeEnrollmentRepo) ListSiblingsBySeasonSubject(_ context.Context, _, _, _ string, _ models.StringList) ([]models.Enrollment, error) {
	return f.termSiblings, nil
}

func (f *fakeEnrollmentRepo) ListSiblingsByYearSubject(_ context.Context, _, _, _, _, _ string, _ models.StringList) ([]models.Enrollment, error) {
	return f.yearSiblings, nil
}

func (f *fakeEnrollmentRepo) UpdateEvaluations(_ context.Context, enrollments []models.Enrollment) error {
	f.saved = enrollments
	return nil
}

func (f *fakeEnrollmentRepo) UpdateMemo(_ context.Context, id, memo string) error {
	if f.memoByID == nil {
		f.memoByID = map[string]string{}
	}
	f.memoByID[id] = memo
	return nil
}

func (f *fakeEnrollmentRepo) SetCalendarHidden(_ context.Context, id string, hidden bool) error {
	if f.hiddenByID == nil {
		f.hiddenByID = map[string]bool{}
	}
	f.hiddenByID[id] = hidden
	return nil
}

func (f *fakeEnrollmentRepo) DeleteWithdrawn(_ context.Context, id, _ string) error {
	if f.deleteErr != nil {
		return f.deleteErr
	}
	if f.missingOnDel {
		return sql.ErrNoRows
	}
	f.deletedIDs = append(f.deletedIDs, id)
	return nil
}

func (f *fakeEnrollmentRepo) DeleteManyWithdrawn(_ context.Context, ids []string, _ string) (int64, error) {
	f.deletedIDs = append(f.deletedIDs, ids...)
	return f.bulkDeleted, nil
}

type fakeRegistrationReader struct {
	byUserSeason map[string]*models.Registration
	teachers     map[string]bool
}

func (f *fakeRegistrationReader) FindByUserAndSeason(_ context.Context, userID, seasonID string) (*models.Registration, error) {
	if r, ok := f.byUserSeason[userID+"/"+seasonID]; ok {
		return r, nil
	}
	return nil, sql.ErrNoRows
}

func (f *fakeRegistrationReader) ExistsTeacher(_ context.Context, userID string) (bool, error) {
	return f.teachers[userID], nil
}

type fakeSyllabusReader struct {
	byID map[string]*models.Syllabus
}

func (f *fakeSyllabusReader) FindByID(_ context.Context, id string) (*models.Syllabus, error) {
	if s, ok := f.byID[id]; ok {
		return s, nil
	}
	return nil, sql.ErrNoRows
}

func studentClaims(userID string) *models.JWTClaims {
	return &models.JWTClaims{UserID: userID, Role: models.RoleStudent}
}

func teacherClaims(userID string) *models.JWTClaims {
	return &models.JWTClaims{UserID: userID, Role: models.RoleTeacher}
}

func baseEnrollment() *models.Enrollment {
	return &models.Enrollment{
		ID:        "enr-1",
		SyllabusID: "syl-1",
		SeasonID:  "season-1",
		SchoolID:  "school-1",
		Year:      "2026",
		Term:      "spring",
		Subjects:  models.StringList{"math"},
		Teachers:  models.SyllabusTeachers{{UserID: "teacher-1", Confirmed: true}},
		StudentID: "student-1",
		Evaluation: models.EvaluationMap{
			"attitude": "A",
			"quiz":     "90",
		},
	}
}

func evaluationRegistration() *models.Registration {
	return &models.Registration{
		ID:                   "reg-1",
		SeasonID:             "season-1",
		UserID:               "student-1",
		PermissionEnrollment: true,
		PermissionEvaluation: true,
		FormEvaluation: models.EvaluationForm{
			{
				Label:     "attitude",
				CombineBy: models.CombineByYear,
				Auth: models.EvaluationFieldAuth{
					View: models.EvaluationRoleAuth{Student: true, Teacher: true},
					Edit: models.EvaluationRoleAuth{Teacher: true},
				},
			},
			{
				Label:     "quiz",
				CombineBy: models.CombineByTerm,
				Auth: models.EvaluationFieldAuth{
					View: models.EvaluationRoleAuth{Teacher: true},
					Edit: models.EvaluationRoleAuth{Teacher: true},
				},
			},
		},
	}
}

func newEnrollmentFixture(enrollment *models.Enrollment, registration *models.Registration) (*EnrollmentService, *fakeEnrollmentRepo, *fakeRegistrationReader, *fakeSyllabusReader) {
	repo := &fakeEnrollmentRepo{byID: map[string]*models.Enrollment{}}
	if enrollment != nil {
		repo.byID[enrollment.ID] = enrollment
	}
	registrations := &fakeRegistrationReader{byUserSeason: map[string]*models.Registration{}, teachers: map[string]bool{}}
	if registration != nil {
		registrations.byUserSeason[registration.UserID+"/"+registration.SeasonID] = registration
	}
	syllabuses := &fakeSyllabusReader{byID: map[string]*models.Syllabus{}}
	svc := NewEnrollmentService(repo, registrations, syllabuses, nil, nil)
	return svc, repo, registrations, syllabuses
}

func TestGetFiltersEvaluationForStudentView(t *testing.T) {
	enrollment := baseEnrollment()
	registration := evaluationRegistration()
	svc, _, _, _ := newEnrollmentFixture(enrollment, registration)

	got, err := svc.Get(context.Background(), "enr-1", studentClaims("student-1"))
	require.NoError(t, err)

	assert.Equal(t, "A", got.Evaluation["attitude"])
	_, hasQuiz := got.Evaluation["quiz"]
	assert.False(t, hasQuiz, "student may not view the quiz field")
}

func TestGetRejectsNonOwner(t *testing.T) {
	svc, _, _, _ := newEnrollmentFixture(baseEnrollment(), evaluationRegistration())

	_, err := svc.Get(context.Background(), "enr-1", studentClaims("student-2"))
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrForbidden.Code, appErrors.FromError(err).Code)
}

func TestUpdateEvaluationFansOutByCombinePolicy(t *testing.T) {
	enrollment := baseEnrollment()
	registration := evaluationRegistration()
	registration.UserID = "teacher-1"
	svc, repo, _, _ := newEnrollmentFixture(enrollment, registration)

	repo.termSiblings = []models.Enrollment{{ID: "enr-term", Evaluation: models.EvaluationMap{}}}
	repo.yearSiblings = []models.Enrollment{{ID: "enr-year", Evaluation: models.EvaluationMap{}}}

	req := UpdateEvaluationRequest{New: map[string]string{"attitude": "S", "quiz": "100"}}
	updated, err := svc.UpdateEvaluation(context.Background(), "enr-1", ActorMentor, req, teacherClaims("teacher-1"))
	require.NoError(t, err)

	assert.Equal(t, "S", updated.Evaluation["attitude"])
	assert.Equal(t, "100", updated.Evaluation["quiz"])

	require.Len(t, repo.saved, 3)
	var term, year *models.Enrollment
	for i := range repo.saved {
		switch repo.saved[i].ID {
		case "enr-term":
			term = &repo.saved[i]
		case "enr-year":
			year = &repo.saved[i]
		}
	}
	require.NotNil(t, term)
	require.NotNil(t, year)

	// Term siblings receive every edited field.
	assert.Equal(t, "S", term.Evaluation["attitude"])
	assert.Equal(t, "100", term.Evaluation["quiz"])
	// Year siblings only receive fields not combined per term.
	assert.Equal(t, "S", year.Evaluation["attitude"])
	_, hasQuiz := year.Evaluation["quiz"]
	assert.False(t, hasQuiz)
}

func TestUpdateEvaluationRejectsUnknownLabel(t *testing.T) {
	enrollment := baseEnrollment()
	registration := evaluationRegistration()
	registration.UserID = "teacher-1"
	svc, _, _, _ := newEnrollmentFixture(enrollment, registration)

	req := UpdateEvaluationRequest{New: map[string]string{"mystery": "x"}}
	_, err := svc.UpdateEvaluation(context.Background(), "enr-1", ActorMentor, req, teacherClaims("teacher-1"))
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)
}

func TestUpdateEvaluationSkipsFieldsActorCannotEdit(t *testing.T) {
	enrollment := baseEnrollment()
	registration := evaluationRegistration()
	svc, repo, _, _ := newEnrollmentFixture(enrollment, registration)

	// Neither field allows student edits; values must stay untouched.
	req := UpdateEvaluationRequest{New: map[string]string{"attitude": "F"}}
	updated, err := svc.UpdateEvaluation(context.Background(), "enr-1", ActorStudent, req, studentClaims("student-1"))
	require.NoError(t, err)
	assert.Equal(t, "A", updated.Evaluation["attitude"])
	require.Len(t, repo.saved, 1)
}

func TestUpdateEvaluationRejectsInvalidActor(t *testing.T) {
	svc, _, _, _ := newEnrollmentFixture(baseEnrollment(), evaluationRegistration())

	req := UpdateEvaluationRequest{New: map[string]string{"attitude": "S"}}
	_, err := svc.UpdateEvaluation(context.Background(), "enr-1", EvaluationActor("admin"), req, teacherClaims("teacher-1"))
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)
}

func TestUpdateEvaluationRejectsMentorNotListed(t *testing.T) {
	svc, _, _, _ := newEnrollmentFixture(baseEnrollment(), evaluationRegistration())

	req := UpdateEvaluationRequest{New: map[string]string{"attitude": "S"}}
	_, err := svc.UpdateEvaluation(context.Background(), "enr-1", ActorMentor, req, teacherClaims("teacher-9"))
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrForbidden.Code, appErrors.FromError(err).Code)
}

func TestWithdrawRemovesOwnEnrollment(t *testing.T) {
	enrollment := baseEnrollment()
	registration := evaluationRegistration()
	svc, repo, _, _ := newEnrollmentFixture(enrollment, registration)

	err := svc.Withdraw(context.Background(), "enr-1", studentClaims("student-1"))
	require.NoError(t, err)
	assert.Equal(t, []string{"enr-1"}, repo.deletedIDs)
}

func TestWithdrawRejectsOtherStudents(t *testing.T) {
	svc, _, _, _ := newEnrollmentFixture(baseEnrollment(), evaluationRegistration())

	err := svc.Withdraw(context.Background(), "enr-1", studentClaims("student-2"))
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrForbidden.Code, appErrors.FromError(err).Code)
}

func TestWithdrawAllowsAdmin(t *testing.T) {
	enrollment := baseEnrollment()
	registration := evaluationRegistration()
	svc, repo, _, _ := newEnrollmentFixture(enrollment, registration)

	err := svc.Withdraw(context.Background(), "enr-1", &models.JWTClaims{UserID: "admin-1", Role: models.RoleAdmin})
	require.NoError(t, err)
	assert.Equal(t, []string{"enr-1"}, repo.deletedIDs)
}

func TestWithdrawRequiresEnrollmentPermission(t *testing.T) {
	enrollment := baseEnrollment()
	registration := evaluationRegistration()
	registration.PermissionEnrollment = false
	svc, _, _, _ := newEnrollmentFixture(enrollment, registration)

	err := svc.Withdraw(context.Background(), "enr-1", studentClaims("student-1"))
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrForbidden.Code, appErrors.FromError(err).Code)
}

func TestWithdrawMissingEnrollmentIsNotFound(t *testing.T) {
	enrollment := baseEnrollment()
	registration := evaluationRegistration()
	svc, repo, _, _ := newEnrollmentFixture(enrollment, registration)
	repo.missingOnDel = true

	err := svc.Withdraw(context.Background(), "enr-1", studentClaims("student-1"))
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrNotFound.Code, appErrors.FromError(err).Code)
}

func TestWithdrawManyRejectsMixedSyllabuses(t *testing.T) {
	enrollment := baseEnrollment()
	other := baseEnrollment()
	other.ID = "enr-2"
	other.SyllabusID = "syl-2"
	svc, repo, _, _ := newEnrollmentFixture(enrollment, evaluationRegistration())
	repo.byID[other.ID] = other

	_, err := svc.WithdrawMany(context.Background(), []string{"enr-1", "enr-2"}, teacherClaims("teacher-1"))
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrConflict.Code, appErrors.FromError(err).Code)
}

func TestWithdrawManyRequiresListedTeacher(t *testing.T) {
	enrollment := baseEnrollment()
	svc, _, _, syllabuses := newEnrollmentFixture(enrollment, evaluationRegistration())
	syllabuses.byID["syl-1"] = &models.Syllabus{
		ID:       "syl-1",
		Teachers: models.SyllabusTeachers{{UserID: "teacher-1"}},
	}

	_, err := svc.WithdrawMany(context.Background(), []string{"enr-1"}, teacherClaims("teacher-9"))
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrForbidden.Code, appErrors.FromError(err).Code)
}

func TestWithdrawManyReportsDeletedCount(t *testing.T) {
	enrollment := baseEnrollment()
	svc, repo, _, syllabuses := newEnrollmentFixture(enrollment, evaluationRegistration())
	syllabuses.byID["syl-1"] = &models.Syllabus{
		ID:       "syl-1",
		Teachers: models.SyllabusTeachers{{UserID: "teacher-1"}},
	}
	repo.bulkDeleted = 1

	deleted, err := svc.WithdrawMany(context.Background(), []string{"enr-1", "enr-gone"}, teacherClaims("teacher-1"))
	require.NoError(t, err)
	assert.Equal(t, int64(1), deleted)
}

func TestMentorEvaluationsRequiresListedTeacher(t *testing.T) {
	svc, _, _, syllabuses := newEnrollmentFixture(baseEnrollment(), evaluationRegistration())
	syllabuses.byID["syl-1"] = &models.Syllabus{
		ID:       "syl-1",
		Teachers: models.SyllabusTeachers{{UserID: "teacher-1"}},
	}

	_, err := svc.MentorEvaluations(context.Background(), "syl-1", "", "", teacherClaims("teacher-9"))
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrForbidden.Code, appErrors.FromError(err).Code)
}

func TestMentorEvaluationsReturnsRoster(t *testing.T) {
	enrollment := baseEnrollment()
	svc, repo, _, syllabuses := newEnrollmentFixture(enrollment, evaluationRegistration())
	syllabuses.byID["syl-1"] = &models.Syllabus{
		ID:       "syl-1",
		Teachers: models.SyllabusTeachers{{UserID: "teacher-1"}},
	}
	repo.listed = []models.Enrollment{*enrollment}

	overview, err := svc.MentorEvaluations(context.Background(), "syl-1", "", "", teacherClaims("teacher-1"))
	require.NoError(t, err)
	require.NotNil(t, overview.Syllabus)
	require.Len(t, overview.Enrollments, 1)
	assert.Equal(t, "90", overview.Enrollments[0].Evaluation["quiz"])
}

func TestMentorEvaluationsByStudentRequiresTeacherRegistration(t *testing.T) {
	svc, repo, registrations, _ := newEnrollmentFixture(baseEnrollment(), evaluationRegistration())
	repo.listed = []models.Enrollment{*baseEnrollment()}

	_, err := svc.MentorEvaluations(context.Background(), "", "school-1", "student-1", teacherClaims("teacher-1"))
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrForbidden.Code, appErrors.FromError(err).Code)

	registrations.teachers["teacher-1"] = true
	overview, err := svc.MentorEvaluations(context.Background(), "", "school-1", "student-1", teacherClaims("teacher-1"))
	require.NoError(t, err)
	assert.Len(t, overview.Enrollments, 1)
}

func TestUpdateMemoOwnerOnly(t *testing.T) {
	enrollment := baseEnrollment()
	svc, repo, _, _ := newEnrollmentFixture(enrollment, evaluationRegistration())

	require.NoError(t, svc.UpdateMemo(context.Background(), "enr-1", "bring calculator", studentClaims("student-1")))
	assert.Equal(t, "bring calculator", repo.memoByID["enr-1"])

	err := svc.UpdateMemo(context.Background(), "enr-1", "nope", studentClaims("student-2"))
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrForbidden.Code, appErrors.FromError(err).Code)
}

func TestSetCalendarVisibility(t *testing.T) {
	enrollment := baseEnrollment()
	svc, repo, _, _ := newEnrollmentFixture(enrollment, evaluationRegistration())

	require.NoError(t, svc.SetCalendarVisibility(context.Background(), "enr-1", true, studentClaims("student-1")))
	assert.True(t, repo.hiddenByID["enr-1"])

	require.NoError(t, svc.SetCalendarVisibility(context.Background(), "enr-1", false, studentClaims("student-1")))
	assert.False(t, repo.hiddenByID["enr-1"])
}
