package admission

import (
	"context"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/cuongbtq/briefcast/internal/domain"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMockDirectory(t *testing.T) (*Directory, sqlmock.Sqlmock) {
	t.Helper()

	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	return NewDirectory(sqlx.NewDb(db, "postgres"), 3), mock
}

func TestDirectory_EligibleBriefingSubjects(t *testing.T) {
	d, mock := newMockDirectory(t)

	mock.ExpectQuery(regexp.QuoteMeta("FROM subjects")).
		WillReturnRows(sqlmock.NewRows([]string{"id", "label"}).
			AddRow("subject-1", "Ada").
			AddRow("subject-2", "Grace"))

	candidates, err := d.Eligible(context.Background(), domain.JobTypeDaily, 1)
	require.NoError(t, err)
	assert.Equal(t, []Candidate{{SubjectID: "subject-1", Label: "Ada"}, {SubjectID: "subject-2", Label: "Grace"}}, candidates)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDirectory_EligibleEpisodes(t *testing.T) {
	d, mock := newMockDirectory(t)

	mock.ExpectQuery(regexp.QuoteMeta("FROM reference_entities r")).
		WithArgs(domain.JobTypeEpisode, domain.StatusFailed, 2).
		WillReturnRows(sqlmock.NewRows([]string{"id", "label"}).AddRow("entity-7", "Committees"))

	candidates, err := d.Eligible(context.Background(), domain.JobTypeEpisode, 2)
	require.NoError(t, err)
	assert.Equal(t, []Candidate{{SubjectID: "entity-7", Label: "Committees"}}, candidates)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDirectory_CheckFreeTier(t *testing.T) {
	d, mock := newMockDirectory(t)
	monthStart := domain.MonthStart(testNow)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT s.tier")).
		WithArgs("subject-1", monthStart, domain.StatusFailed).
		WillReturnRows(sqlmock.NewRows([]string{"tier", "current_count"}).AddRow("free", 3))

	quota, err := d.Check(context.Background(), "subject-1", monthStart)
	require.NoError(t, err)
	assert.Equal(t, domain.Quota{Allowed: false, CurrentCount: 3, Limit: 3}, quota)
}

func TestDirectory_CheckProTier(t *testing.T) {
	d, mock := newMockDirectory(t)
	monthStart := domain.MonthStart(testNow)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT s.tier")).
		WithArgs("subject-1", monthStart, domain.StatusFailed).
		WillReturnRows(sqlmock.NewRows([]string{"tier", "current_count"}).AddRow("pro", 40))

	quota, err := d.Check(context.Background(), "subject-1", monthStart)
	require.NoError(t, err)
	assert.True(t, quota.Allowed)
	assert.True(t, quota.IsPro)
	assert.Equal(t, 40, quota.CurrentCount)
}

func TestDirectory_CheckUnknownSubject(t *testing.T) {
	d, mock := newMockDirectory(t)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT s.tier")).
		WillReturnRows(sqlmock.NewRows([]string{"tier", "current_count"}))

	_, err := d.Check(context.Background(), "ghost", domain.MonthStart(testNow))
	assert.ErrorContains(t, err, "not found")
}
