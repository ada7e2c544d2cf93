package service

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/noah-isme/academy-adm-api/internal/models"
	appErrors "github.com/noah-isme/academy-adm-api/pkg/errors"
	"github.com/noah-isme/academy-adm-api/pkg/export"
	"github.com/noah-isme/academy-adm-api/pkg/storage"
)

type transcriptEnrollmentReader interface {
	ListWithEvaluation(ctx context.Context, filter models.EnrollmentFilter) ([]models.Enrollment, error)
}

type transcriptStorage interface {
	Save(filename string, data []byte) (string, error)
	Open(filename string) (*os.File, error)
}

type datasetRenderer interface {
	Render(data export.Dataset) ([]byte, error)
}

type titledRenderer interface {
	Render(data export.Dataset, title string) ([]byte, error)
}

// TranscriptFormat selects the rendered output type.
type TranscriptFormat string

// Supported transcript formats.
const (
	TranscriptPDF TranscriptFormat = "pdf"
	TranscriptCSV TranscriptFormat = "csv"
)

// TranscriptResult carries the stored file reference and its signed URL.
type TranscriptResult struct {
	Token     string           `json:"token"`
	URL       string           `json:"url"`
	Format    TranscriptFormat `json:"format"`
	ExpiresAt time.Time        `json:"expires_at"`
}

// TranscriptConfig tunes transcript generation.
type TranscriptConfig struct {
	APIPrefix string
}

// TranscriptService renders a student's year enrollment record as a signed
// downloadable file.
type TranscriptService struct {
	enrollments transcriptEnrollmentReader
	storage     transcriptStorage
	signer      *storage.SignedURLSigner
	csv         datasetRenderer
	pdf         titledRenderer
	logger      *zap.Logger
	cfg         TranscriptConfig
}

// NewTranscriptService constructs a TranscriptService.
func NewTranscriptService(enrollments transcriptEnrollmentReader, files transcriptStorage, signer *storage.SignedURLSigner, cfg TranscriptConfig, logger *zap.Logger) *TranscriptService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TranscriptService{
		enrollments: enrollments,
		storage:     files,
		signer:      signer,
		csv:         export.NewCSVExporter(),
		pdf:         export.NewPDFExporter(),
		logger:      logger,
		cfg:         cfg,
	}
}

// Generate renders the transcript and returns a signed download reference.
// Students may only export their own record; teachers and admins may export
// any student's.
func (s *TranscriptService) Generate(ctx context.Context, studentID, year string, format TranscriptFormat, claims *models.JWTClaims) (*TranscriptResult, error) {
	if studentID == "" || year == "" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "studentId and year are required")
	}
	if claims.Role == models.RoleStudent && claims.UserID != studentID {
		return nil, appErrors.ErrForbidden
	}
	if format == "" {
		format = TranscriptPDF
	}
	if format != TranscriptPDF && format != TranscriptCSV {
		return nil, appErrors.Clone(appErrors.ErrValidation, "format must be pdf or csv")
	}

	enrollments, err := s.enrollments.ListWithEvaluation(ctx, models.EnrollmentFilter{StudentID: studentID, Year: year})
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load enrollments")
	}
	if len(enrollments) == 0 {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "no enrollments for student and year")
	}

	dataset := buildTranscriptDataset(enrollments)

	var rendered []byte
	switch format {
	case TranscriptCSV:
		rendered, err = s.csv.Render(dataset)
	default:
		title := fmt.Sprintf("Transcript %s %s", enrollments[0].StudentName, year)
		rendered, err = s.pdf.Render(dataset, title)
	}
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to render transcript")
	}

	fileID := uuid.NewString()
	relPath := fmt.Sprintf("transcripts/%s/%s.%s", studentID, fileID, format)
	if _, err := s.storage.Save(relPath, rendered); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to store transcript")
	}

	token, expiresAt, err := s.signer.Generate(fileID, relPath)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to sign transcript url")
	}

	s.logger.Info("transcript generated",
		zap.String("student_id", studentID),
		zap.String("year", year),
		zap.String("format", string(format)),
	)
	return &TranscriptResult{
		Token:     token,
		URL:       fmt.Sprintf("%s/enrollments/transcript/download?token=%s", s.cfg.APIPrefix, token),
		Format:    format,
		ExpiresAt: expiresAt,
	}, nil
}

// Open validates a signed token and returns the stored file for download.
func (s *TranscriptService) Open(token string) (*os.File, error) {
	_, relPath, _, err := s.signer.Parse(token, false)
	if err != nil {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "invalid or expired download token")
	}
	file, err := s.storage.Open(relPath)
	if err != nil {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "transcript file not found")
	}
	return file, nil
}

func buildTranscriptDataset(enrollments []models.Enrollment) export.Dataset {
	labelSet := make(map[string]struct{})
	for i := range enrollments {
		for label := range enrollments[i].Evaluation {
			labelSet[label] = struct{}{}
		}
	}
	labels := make([]string, 0, len(labelSet))
	for label := range labelSet {
		labels = append(labels, label)
	}
	sort.Strings(labels)

	headers := append([]string{"Term", "Class", "Classroom", "Subjects", "Point"}, labels...)
	rows := make([]map[string]string, 0, len(enrollments))
	for i := range enrollments {
		e := &enrollments[i]
		row := map[string]string{
			"Term":      e.Term,
			"Class":     e.ClassTitle,
			"Classroom": e.Classroom,
			"Subjects":  strings.Join(e.Subjects, ", "),
			"Point":     fmt.Sprintf("%d", e.Point),
		}
		for _, label := range labels {
			row[label] = e.Evaluation[label]
		}
		rows = append(rows, row)
	}
	return export.Dataset{Headers: headers, Rows: rows}
}
