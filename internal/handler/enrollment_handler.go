package handler

import (
	"io"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/academy-adm-api/internal/models"
	"github.com/noah-isme/academy-adm-api/internal/service"
	appErrors "github.com/noah-isme/academy-adm-api/pkg/errors"
	"github.com/noah-isme/academy-adm-api/pkg/response"
)

// EnrollmentHandler exposes the admission pipeline plus the enrollment
// read/mutation flows.
type EnrollmentHandler struct {
	admissions  *service.AdmissionService
	enrollments *service.EnrollmentService
	transcripts *service.TranscriptService
}

// NewEnrollmentHandler creates a new handler.
func NewEnrollmentHandler(admissions *service.AdmissionService, enrollments *service.EnrollmentService, transcripts *service.TranscriptService) *EnrollmentHandler {
	return &EnrollmentHandler{admissions: admissions, enrollments: enrollments, transcripts: transcripts}
}

// Create godoc
// @Summary Enroll in a syllabus
// @Description Submit an admission attempt; the request blocks until the serialized queue decides it
// @Tags Enrollments
// @Accept json
// @Produce json
// @Param payload body service.EnrollRequest true "Admission attempt"
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Security BearerAuth
// @Router /enrollments [post]
func (h *EnrollmentHandler) Create(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	var req service.EnrollRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid enrollment payload"))
		return
	}

	if err := h.admissions.Enroll(c.Request.Context(), req, claims.UserID); err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, gin.H{}, nil)
}

// List godoc
// @Summary List enrollments
// @Description List enrollments by season, syllabus or student; evaluation data is never included
// @Tags Enrollments
// @Produce json
// @Param seasonId query string false "Season ID"
// @Param syllabusId query string false "Syllabus ID"
// @Param studentId query string false "Student ID"
// @Success 200 {object} response.Envelope
// @Security BearerAuth
// @Router /enrollments [get]
func (h *EnrollmentHandler) List(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	filter := models.EnrollmentFilter{
		SeasonID:   c.Query("seasonId"),
		SyllabusID: c.Query("syllabusId"),
		StudentID:  c.Query("studentId"),
	}
	// Students only ever see their own records.
	if claims.Role == models.RoleStudent {
		filter.StudentID = claims.UserID
	}

	enrollments, err := h.enrollments.List(c.Request.Context(), filter)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, enrollments, nil)
}

// Get godoc
// @Summary Get one enrollment
// @Description Return an enrollment to its owning student with evaluation fields filtered by the season form
// @Tags Enrollments
// @Produce json
// @Param id path string true "Enrollment ID"
// @Success 200 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Security BearerAuth
// @Router /enrollments/{id} [get]
func (h *EnrollmentHandler) Get(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	enrollment, err := h.enrollments.Get(c.Request.Context(), c.Param("id"), claims)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, enrollment, nil)
}

// Evaluations godoc
// @Summary Mentor evaluation roster
// @Description Return the evaluation roster of one syllabus to a listed teacher, or one student's records to any registered teacher
// @Tags Enrollments
// @Produce json
// @Param syllabusId query string false "Syllabus ID"
// @Param schoolId query string false "School ID"
// @Param studentId query string false "Student ID"
// @Success 200 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Security BearerAuth
// @Router /enrollments/evaluations [get]
func (h *EnrollmentHandler) Evaluations(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	overview, err := h.enrollments.MentorEvaluations(c.Request.Context(), c.Query("syllabusId"), c.Query("schoolId"), c.Query("studentId"), claims)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, overview, nil)
}

// UpdateEvaluation godoc
// @Summary Update evaluation fields
// @Description Apply new evaluation values as mentor or student; edits fan out to sibling enrollments per each field's combination policy
// @Tags Enrollments
// @Accept json
// @Produce json
// @Param id path string true "Enrollment ID"
// @Param by query string true "Acting role" Enums(mentor, student)
// @Param payload body service.UpdateEvaluationRequest true "New field values"
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Security BearerAuth
// @Router /enrollments/{id}/evaluation [put]
func (h *EnrollmentHandler) UpdateEvaluation(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	var req service.UpdateEvaluationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid evaluation payload"))
		return
	}

	actor := service.EvaluationActor(c.Query("by"))
	enrollment, err := h.enrollments.UpdateEvaluation(c.Request.Context(), c.Param("id"), actor, req, claims)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, enrollment, nil)
}

type updateMemoRequest struct {
	Memo string `json:"memo"`
}

// UpdateMemo godoc
// @Summary Update enrollment memo
// @Description Replace the student's private memo on their own enrollment
// @Tags Enrollments
// @Accept json
// @Produce json
// @Param id path string true "Enrollment ID"
// @Param payload body updateMemoRequest true "Memo"
// @Success 200 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Security BearerAuth
// @Router /enrollments/{id}/memo [put]
func (h *EnrollmentHandler) UpdateMemo(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	var req updateMemoRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid memo payload"))
		return
	}

	if err := h.enrollments.UpdateMemo(c.Request.Context(), c.Param("id"), req.Memo, claims); err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, gin.H{}, nil)
}

// Hide godoc
// @Summary Hide enrollment from calendar
// @Tags Enrollments
// @Produce json
// @Param id path string true "Enrollment ID"
// @Success 200 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Security BearerAuth
// @Router /enrollments/{id}/hide [put]
func (h *EnrollmentHandler) Hide(c *gin.Context) {
	h.setCalendarVisibility(c, true)
}

// Show godoc
// @Summary Show enrollment on calendar
// @Tags Enrollments
// @Produce json
// @Param id path string true "Enrollment ID"
// @Success 200 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Security BearerAuth
// @Router /enrollments/{id}/show [put]
func (h *EnrollmentHandler) Show(c *gin.Context) {
	h.setCalendarVisibility(c, false)
}

func (h *EnrollmentHandler) setCalendarVisibility(c *gin.Context, hidden bool) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	if err := h.enrollments.SetCalendarVisibility(c.Request.Context(), c.Param("id"), hidden, claims); err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, gin.H{}, nil)
}

// Delete godoc
// @Summary Withdraw an enrollment
// @Description Remove one enrollment and decrement the syllabus counter in the same transaction
// @Tags Enrollments
// @Produce json
// @Param id path string true "Enrollment ID"
// @Success 200 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Security BearerAuth
// @Router /enrollments/{id} [delete]
func (h *EnrollmentHandler) Delete(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	if err := h.enrollments.Withdraw(c.Request.Context(), c.Param("id"), claims); err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, gin.H{}, nil)
}

// DeleteMany godoc
// @Summary Withdraw a batch of enrollments
// @Description Remove a batch of enrollments from one syllabus on behalf of a mentor; the counter decrements by the number actually removed
// @Tags Enrollments
// @Produce json
// @Param ids query string true "Comma-separated enrollment IDs"
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Security BearerAuth
// @Router /enrollments [delete]
func (h *EnrollmentHandler) DeleteMany(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	var ids []string
	for _, raw := range strings.Split(c.Query("ids"), ",") {
		if id := strings.TrimSpace(raw); id != "" {
			ids = append(ids, id)
		}
	}

	deleted, err := h.enrollments.WithdrawMany(c.Request.Context(), ids, claims)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, gin.H{"deleted": deleted}, nil)
}

// Transcript godoc
// @Summary Generate a transcript export
// @Description Render a student's year record as PDF or CSV and return a signed download URL
// @Tags Enrollments
// @Produce json
// @Param studentId query string true "Student ID"
// @Param year query string true "School year"
// @Param format query string false "Output format" Enums(pdf, csv)
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Security BearerAuth
// @Router /enrollments/transcript [get]
func (h *EnrollmentHandler) Transcript(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	result, err := h.transcripts.Generate(
		c.Request.Context(),
		c.Query("studentId"),
		c.Query("year"),
		service.TranscriptFormat(c.Query("format")),
		claims,
	)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, result, nil)
}

// DownloadTranscript godoc
// @Summary Download a generated transcript
// @Description Stream a previously generated transcript file referenced by its signed token
// @Tags Enrollments
// @Produce application/octet-stream
// @Param token query string true "Signed download token"
// @Success 200 {file} binary
// @Failure 403 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /enrollments/transcript/download [get]
func (h *EnrollmentHandler) DownloadTranscript(c *gin.Context) {
	file, err := h.transcripts.Open(c.Query("token"))
	if err != nil {
		response.Error(c, err)
		return
	}
	defer file.Close()

	name := filepath.Base(file.Name())
	contentType := "application/pdf"
	if strings.HasSuffix(name, ".csv") {
		contentType = "text/csv"
	}
	c.Header("Content-Disposition", `attachment; filename="`+name+`"`)
	c.Header("Content-Type", contentType)
	c.Status(http.StatusOK)
	_, _ = io.Copy(c.Writer, file)
}
