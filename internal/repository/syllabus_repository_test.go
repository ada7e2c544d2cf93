package repository

import (
	"context"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/academy-adm-api/internal/models"
)

func TestSyllabusFindByIDScansJSONBColumns(t *testing.T) {
	db, mock := newRepoMock(t)
	repo := NewSyllabusRepository(db)

	now := time.Now()
	rows := sqlmock.NewRows([]string{
		"id", "season_id", "school_id", "year", "term", "class_title", "classroom",
		"subjects", "point", "capacity_limit", "enrolled_count", "teachers",
		"time_blocks", "created_at", "updated_at",
	}).AddRow(
		"syl-1", "season-1", "school-1", "2026", "spring", "Algebra II", "201",
		[]byte(`["math"]`), 3, 25, 10,
		[]byte(`[{"user_id":"teacher-1","user_name":"Teacher One","confirmed":false}]`),
		[]byte(`[{"label":"Mon-1","day":"monday"}]`), now, now,
	)

	mock.ExpectQuery("SELECT .+ FROM syllabuses WHERE id").
		WithArgs("syl-1").
		WillReturnRows(rows)

	syllabus, err := repo.FindByID(context.Background(), "syl-1")
	require.NoError(t, err)
	assert.Equal(t, 25, syllabus.CapacityLimit)
	assert.Equal(t, 10, syllabus.EnrolledCount)
	assert.False(t, syllabus.Confirmed())
	assert.True(t, syllabus.HasTeacher("teacher-1"))
	assert.Equal(t, "Mon-1", syllabus.TimeBlocks[0].Label)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSyllabusUpdateTeachers(t *testing.T) {
	db, mock := newRepoMock(t)
	repo := NewSyllabusRepository(db)

	mock.ExpectExec("UPDATE syllabuses SET teachers").
		WithArgs("syl-1", sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	teachers := models.SyllabusTeachers{{UserID: "teacher-1", Confirmed: true}}
	require.NoError(t, repo.UpdateTeachers(context.Background(), "syl-1", teachers))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSyllabusListAppliesFilters(t *testing.T) {
	db, mock := newRepoMock(t)
	repo := NewSyllabusRepository(db)

	rows := sqlmock.NewRows([]string{
		"id", "season_id", "school_id", "year", "term", "class_title", "classroom",
		"subjects", "point", "capacity_limit", "enrolled_count", "teachers",
		"time_blocks", "created_at", "updated_at",
	})
	mock.ExpectQuery("SELECT .+ FROM syllabuses WHERE season_id").
		WithArgs("season-1", `[{"user_id":"teacher-1"}]`).
		WillReturnRows(rows)

	_, err := repo.List(context.Background(), models.SyllabusFilter{SeasonID: "season-1", TeacherID: "teacher-1"})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}
