package service

import (
	"context"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/academy-adm-api/internal/models"
	appErrors "github.com/noah-isme/academy-adm-api/pkg/errors"
	"github.com/noah-isme/academy-adm-api/pkg/storage"
)

type fakeTranscriptReader struct {
	enrollments []models.Enrollment
}

func (f *fakeTranscriptReader) ListWithEvaluation(_ context.Context, _ models.EnrollmentFilter) ([]models.Enrollment, error) {
	return f.enrollments, nil
}

func newTranscriptFixture(t *testing.T, enrollments []models.Enrollment) *TranscriptService {
	t.Helper()
	files, err := storage.NewLocalStorage(t.TempDir())
	require.NoError(t, err)
	signer := storage.NewSignedURLSigner("test-secret", time.Hour)
	return NewTranscriptService(&fakeTranscriptReader{enrollments: enrollments}, files, signer, TranscriptConfig{APIPrefix: "/api/v1"}, nil)
}

func transcriptEnrollments() []models.Enrollment {
	return []models.Enrollment{
		{
			ID: "enr-1", Term: "spring", ClassTitle: "Algebra II", Classroom: "201",
			Subjects: models.StringList{"math"}, Point: 3,
			StudentID: "student-1", StudentName: "Student One",
			Evaluation: models.EvaluationMap{"attitude": "A"},
		},
		{
			ID: "enr-2", Term: "fall", ClassTitle: "Geometry", Classroom: "105",
			Subjects: models.StringList{"math"}, Point: 3,
			StudentID: "student-1", StudentName: "Student One",
			Evaluation: models.EvaluationMap{"attitude": "B", "quiz": "92"},
		},
	}
}

func TestGenerateCSVRoundTrip(t *testing.T) {
	svc := newTranscriptFixture(t, transcriptEnrollments())

	result, err := svc.Generate(context.Background(), "student-1", "2026", TranscriptCSV, studentClaims("student-1"))
	require.NoError(t, err)
	assert.Equal(t, TranscriptCSV, result.Format)
	assert.Contains(t, result.URL, "/api/v1/enrollments/transcript/download?token=")

	file, err := svc.Open(result.Token)
	require.NoError(t, err)
	defer file.Close()

	body, err := io.ReadAll(file)
	require.NoError(t, err)
	content := string(body)

	lines := strings.Split(strings.TrimSpace(content), "\n")
	require.Len(t, lines, 3)
	// Evaluation labels become sorted extra columns.
	assert.Equal(t, "Term,Class,Classroom,Subjects,Point,attitude,quiz", lines[0])
	assert.Contains(t, content, "Algebra II")
	assert.Contains(t, content, "92")
}

func TestGenerateRejectsOtherStudentsRecord(t *testing.T) {
	svc := newTranscriptFixture(t, transcriptEnrollments())

	_, err := svc.Generate(context.Background(), "student-1", "2026", TranscriptCSV, studentClaims("student-2"))
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrForbidden.Code, appErrors.FromError(err).Code)
}

func TestGenerateAllowsTeacherForAnyStudent(t *testing.T) {
	svc := newTranscriptFixture(t, transcriptEnrollments())

	result, err := svc.Generate(context.Background(), "student-1", "2026", TranscriptPDF, teacherClaims("teacher-1"))
	require.NoError(t, err)
	assert.Equal(t, TranscriptPDF, result.Format)
}

func TestGenerateWithNoEnrollmentsIsNotFound(t *testing.T) {
	svc := newTranscriptFixture(t, nil)

	_, err := svc.Generate(context.Background(), "student-1", "2026", TranscriptCSV, teacherClaims("teacher-1"))
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrNotFound.Code, appErrors.FromError(err).Code)
}

func TestGenerateRejectsUnknownFormat(t *testing.T) {
	svc := newTranscriptFixture(t, transcriptEnrollments())

	_, err := svc.Generate(context.Background(), "student-1", "2026", TranscriptFormat("docx"), teacherClaims("teacher-1"))
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)
}

func TestOpenRejectsTamperedToken(t *testing.T) {
	svc := newTranscriptFixture(t, transcriptEnrollments())

	result, err := svc.Generate(context.Background(), "student-1", "2026", TranscriptCSV, studentClaims("student-1"))
	require.NoError(t, err)

	_, err = svc.Open(result.Token + "x")
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrForbidden.Code, appErrors.FromError(err).Code)
}
