package serp

import (
	"context"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIngestStoresResultsAndCompanies(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectBegin()
	// Two kept documents, each with a result upsert and a company upsert.
	for i := 0; i < 2; i++ {
		mock.ExpectQuery(`INSERT INTO serp_results`).
			WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("result-id"))
		mock.ExpectQuery(`INSERT INTO companies`).
			WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("company-id"))
	}
	mock.ExpectCommit()

	svc := NewIngestService(db)
	ids, err := svc.Ingest(context.Background(), "op-123", []byte(sampleXML))
	require.NoError(t, err)
	assert.Len(t, ids, 2)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestIngestEmptyOperationCommitsNothing(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectBegin()
	mock.ExpectCommit()

	svc := NewIngestService(db)
	ids, err := svc.Ingest(context.Background(), "op-empty", []byte(`<r></r>`))
	require.NoError(t, err)
	assert.Empty(t, ids)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestIngestRollsBackOnParseError(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectBegin()
	mock.ExpectRollback()

	svc := NewIngestService(db)
	_, err = svc.Ingest(context.Background(), "op-bad", []byte("<broken"))
	assert.ErrorIs(t, err, ErrParse)
	assert.NoError(t, mock.ExpectationsWereMet())
}
