package handler

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/academy-adm-api/internal/models"
	"github.com/noah-isme/academy-adm-api/internal/service"
	appErrors "github.com/noah-isme/academy-adm-api/pkg/errors"
	"github.com/noah-isme/academy-adm-api/pkg/response"
)

// SyllabusHandler exposes the syllabus read side and the teacher
// confirmation flow.
type SyllabusHandler struct {
	service *service.SyllabusService
}

// NewSyllabusHandler creates a new handler.
func NewSyllabusHandler(svc *service.SyllabusService) *SyllabusHandler {
	return &SyllabusHandler{service: svc}
}

// List godoc
// @Summary List syllabuses
// @Description List syllabuses filtered by season, teacher or subject
// @Tags Syllabuses
// @Produce json
// @Param seasonId query string false "Season ID"
// @Param teacherId query string false "Teacher user ID"
// @Param subject query string false "Subject name"
// @Param page query int false "Page number"
// @Param limit query int false "Page size"
// @Success 200 {object} response.Envelope
// @Security BearerAuth
// @Router /syllabuses [get]
func (h *SyllabusHandler) List(c *gin.Context) {
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))

	filter := models.SyllabusFilter{
		SeasonID:  c.Query("seasonId"),
		TeacherID: c.Query("teacherId"),
		Subject:   c.Query("subject"),
		Page:      page,
		PageSize:  limit,
	}

	syllabuses, err := h.service.List(c.Request.Context(), filter)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, syllabuses, nil)
}

// Get godoc
// @Summary Get one syllabus
// @Tags Syllabuses
// @Produce json
// @Param id path string true "Syllabus ID"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Security BearerAuth
// @Router /syllabuses/{id} [get]
func (h *SyllabusHandler) Get(c *gin.Context) {
	syllabus, err := h.service.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, syllabus, nil)
}

// Confirm godoc
// @Summary Confirm a teacher slot
// @Description Mark the caller's teacher slot on the syllabus as confirmed; admission stays blocked until all slots are confirmed
// @Tags Syllabuses
// @Produce json
// @Param id path string true "Syllabus ID"
// @Success 200 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Security BearerAuth
// @Router /syllabuses/{id}/confirm [put]
func (h *SyllabusHandler) Confirm(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	syllabus, err := h.service.Confirm(c.Request.Context(), c.Param("id"), claims)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, syllabus, nil)
}
