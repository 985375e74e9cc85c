package loader_test

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/require"

	"github.com/bionicpro/reports-etl/internal/domain"
	"github.com/bionicpro/reports-etl/internal/loader"
)

func statRow(externalID, chipID string) domain.UserProsthesisStat {
	return domain.UserProsthesisStat{
		ExternalID:          externalID,
		ProsthesisID:        10,
		ChipID:              chipID,
		ReportDate:          time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC),
		ReportHour:          10,
		CustomerName:        "Petrov Ivan",
		CustomerEmail:       "ivan@example.com",
		CustomerRegion:      domain.RegionRussia,
		CustomerBranch:      "moscow",
		ProsthesisModel:     "ArmPro",
		ProsthesisCat:       domain.CategoryArm,
		ProsthesisSerial:    "SN-1",
		MovementsCount:      100,
		SuccessfulMovements: 95,
		SuccessRate:         95.0,
		AvgResponseTimeMs:   80,
		AvgBatteryLevel:     70,
		SourceUpdatedAt:     time.Now(),
		EtlProcessedAt:      time.Now(),
	}
}

func TestLoader_Load_SingleBatchCommits(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectBegin()
	mock.ExpectPrepare("INSERT INTO user_prosthesis_stats")
	mock.ExpectExec("INSERT INTO user_prosthesis_stats").WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	l := loader.New(db, 10)
	result, err := l.Load(context.Background(), []domain.UserProsthesisStat{statRow("ivan.petrov", "CHIP-1")})
	require.NoError(t, err)
	require.Equal(t, 1, result.InsertedRows)
	require.Equal(t, []string{"ivan.petrov"}, result.DistinctUserIDs)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestLoader_Load_SplitsIntoMultipleBatches(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	// batch size 1 forces two separate transactions for two rows.
	mock.ExpectBegin()
	mock.ExpectPrepare("INSERT INTO user_prosthesis_stats")
	mock.ExpectExec("INSERT INTO user_prosthesis_stats").WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	mock.ExpectBegin()
	mock.ExpectPrepare("INSERT INTO user_prosthesis_stats")
	mock.ExpectExec("INSERT INTO user_prosthesis_stats").WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	l := loader.New(db, 1)
	rows := []domain.UserProsthesisStat{
		statRow("ivan.petrov", "CHIP-1"),
		statRow("olga.sidorova", "CHIP-2"),
	}
	result, err := l.Load(context.Background(), rows)
	require.NoError(t, err)
	require.Equal(t, 2, result.InsertedRows)
	require.ElementsMatch(t, []string{"ivan.petrov", "olga.sidorova"}, result.DistinctUserIDs)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestLoader_Load_RollsBackFailedBatch(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectBegin()
	mock.ExpectPrepare("INSERT INTO user_prosthesis_stats")
	mock.ExpectExec("INSERT INTO user_prosthesis_stats").WillReturnError(sqlmock.ErrCancelled)
	mock.ExpectRollback()

	l := loader.New(db, 10)
	_, err = l.Load(context.Background(), []domain.UserProsthesisStat{statRow("ivan.petrov", "CHIP-1")})
	require.Error(t, err)
}

func TestLoader_Load_DefaultsBatchSizeWhenNonPositive(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	// batch size 0 falls back to DefaultBatchSize, so two rows share one
	// transaction.
	mock.ExpectBegin()
	mock.ExpectPrepare("INSERT INTO user_prosthesis_stats")
	mock.ExpectExec("INSERT INTO user_prosthesis_stats").WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("INSERT INTO user_prosthesis_stats").WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	l := loader.New(db, 0)
	require.NotNil(t, l)
	rows := []domain.UserProsthesisStat{
		statRow("ivan.petrov", "CHIP-1"),
		statRow("olga.sidorova", "CHIP-2"),
	}
	result, err := l.Load(context.Background(), rows)
	require.NoError(t, err)
	require.Equal(t, 2, result.InsertedRows)
	require.NoError(t, mock.ExpectationsWereMet())
}
