package datastore

import (
	"context"
	"database/sql"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/dermascan/dermascan/internal/errors"
	"github.com/dermascan/dermascan/internal/logger"
)

func setupMockPostgres(t *testing.T, retries int) (*sql.DB, sqlmock.Sqlmock, *DataStore) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)

	gdb, err := gorm.Open(postgres.New(postgres.Config{Conn: db}), gormConfig(logger.NewNopLogger(), 0))
	require.NoError(t, err)

	return db, mock, NewWithDB(gdb, nil, "PSN-", retries)
}

func TestCreateExaminationRetriesOnCollision(t *testing.T) {
	db, mock, ds := setupMockPostgres(t, 3)
	defer db.Close()

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT "id_examination" FROM "examinations"`).
		WillReturnRows(sqlmock.NewRows([]string{"id_examination"}).AddRow("PSN-007"))
	mock.ExpectQuery(`INSERT INTO "examinations"`).
		WillReturnError(errors.NewStd(`ERROR: duplicate key value violates unique constraint "idx_examinations_id_examination" (SQLSTATE 23505)`))
	mock.ExpectRollback()

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT "id_examination" FROM "examinations"`).
		WillReturnRows(sqlmock.NewRows([]string{"id_examination"}).AddRow("PSN-008"))
	mock.ExpectQuery(`INSERT INTO "examinations"`).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(42))
	mock.ExpectCommit()

	exam := &Examination{PatientID: 1, DoctorID: "doc", ModelPrediction: "Benign", ConfidenceScore: 64.2}
	require.NoError(t, ds.CreateExamination(context.Background(), exam))
	assert.Equal(t, "PSN-009", exam.IDExamination)
	assert.Equal(t, uint(42), exam.ID)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateExaminationSkipsMalformedMaximum(t *testing.T) {
	db, mock, ds := setupMockPostgres(t, 1)
	defer db.Close()

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT "id_examination" FROM "examinations"`).
		WillReturnRows(sqlmock.NewRows([]string{"id_examination"}).
			AddRow("PSN-ABCDE").
			AddRow("PSN-012").
			AddRow("PSN-011"))
	mock.ExpectQuery(`INSERT INTO "examinations"`).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(7))
	mock.ExpectCommit()

	exam := &Examination{PatientID: 1, DoctorID: "doc", ModelPrediction: "Benign", ConfidenceScore: 70}
	require.NoError(t, ds.CreateExamination(context.Background(), exam))
	assert.Equal(t, "PSN-013", exam.IDExamination)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateExaminationGivesUpAfterRetries(t *testing.T) {
	db, mock, ds := setupMockPostgres(t, 2)
	defer db.Close()

	for range 2 {
		mock.ExpectBegin()
		mock.ExpectQuery(`SELECT "id_examination" FROM "examinations"`).
			WillReturnRows(sqlmock.NewRows([]string{"id_examination"}))
		mock.ExpectQuery(`INSERT INTO "examinations"`).
			WillReturnError(errors.NewStd(`duplicate key value violates unique constraint`))
		mock.ExpectRollback()
	}

	exam := &Examination{PatientID: 1, DoctorID: "doc"}
	err := ds.CreateExamination(context.Background(), exam)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrDuplicateExaminationID)
	assert.True(t, errors.IsCategory(err, errors.CategoryConflict))
	assert.Empty(t, exam.IDExamination)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateExaminationDoesNotRetryOtherErrors(t *testing.T) {
	db, mock, ds := setupMockPostgres(t, 5)
	defer db.Close()

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT "id_examination" FROM "examinations"`).
		WillReturnError(errors.NewStd("connection reset by peer"))
	mock.ExpectRollback()

	err := ds.CreateExamination(context.Background(), &Examination{PatientID: 1, DoctorID: "doc"})
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryDatabase))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetPatientNotFound(t *testing.T) {
	db, mock, ds := setupMockPostgres(t, 1)
	defer db.Close()

	mock.ExpectQuery(`SELECT \* FROM "patients"`).
		WillReturnRows(sqlmock.NewRows([]string{"id", "full_name"}))

	_, err := ds.GetPatient(context.Background(), 12)
	require.Error(t, err)
	assert.True(t, errors.IsNotFound(err))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestClosedStoreReportsState(t *testing.T) {
	ds := &DataStore{Logger: logger.NewNopLogger()}
	_, err := ds.GetPatient(context.Background(), 1)
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryState))
	assert.Error(t, ds.Close())
}
