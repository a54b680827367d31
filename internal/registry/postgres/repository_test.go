package postgres

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"

	"github.com/featurestream/featurestream/internal/registry"
)

func TestGetDataset(t *testing.T) {
	db, mock := newSQLMock(t)
	repo := NewRepository(db)
	now := time.Now().UTC()

	mock.ExpectQuery(regexp.QuoteMeta(`
SELECT dataset_id, name, connector_type, provider, connector_url, table_name, status, error_message, updated_at
FROM dataset
WHERE dataset_id = $1`)).
		WithArgs("ds-1").
		WillReturnRows(sqlmock.NewRows([]string{
			"dataset_id", "name", "connector_type", "provider", "connector_url", "table_name", "status", "error_message", "updated_at",
		}).AddRow("ds-1", "Bridges", "rest", "featureservice", "https://services.arcgis.com/FeatureServer/0", "bridges", 1, "", now))

	dataset, err := repo.GetDataset(context.Background(), "ds-1")
	if err != nil {
		t.Fatalf("GetDataset() error = %v", err)
	}
	if dataset.Provider != registry.ProviderFeatureService || dataset.Status != "saved" {
		t.Fatalf("GetDataset() = %+v", dataset)
	}
	if !dataset.UpdatedAt.Equal(now) {
		t.Fatalf("UpdatedAt = %v, want %v", dataset.UpdatedAt, now)
	}
	assertSQLMock(t, mock)
}

func TestGetDatasetNotFound(t *testing.T) {
	db, mock := newSQLMock(t)
	repo := NewRepository(db)

	mock.ExpectQuery(regexp.QuoteMeta(`FROM dataset`)).
		WithArgs("missing").
		WillReturnError(sql.ErrNoRows)

	_, err := repo.GetDataset(context.Background(), "missing")
	if !errors.Is(err, registry.ErrNotFound) {
		t.Fatalf("GetDataset() error = %v, want ErrNotFound", err)
	}
	assertSQLMock(t, mock)
}

func TestUpdateDatasetStatus(t *testing.T) {
	db, mock := newSQLMock(t)
	repo := NewRepository(db)

	mock.ExpectExec(regexp.QuoteMeta(`
UPDATE dataset
SET status = $2, error_message = $3, updated_at = NOW()
WHERE dataset_id = $1`)).
		WithArgs("ds-1", 2, "Error obtaining fields").
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := repo.UpdateDatasetStatus(context.Background(), "ds-1", registry.StatusFailed, "Error obtaining fields"); err != nil {
		t.Fatalf("UpdateDatasetStatus() error = %v", err)
	}
	assertSQLMock(t, mock)
}

func TestUpdateDatasetStatusMissingRow(t *testing.T) {
	db, mock := newSQLMock(t)
	repo := NewRepository(db)

	mock.ExpectExec(regexp.QuoteMeta(`UPDATE dataset`)).
		WithArgs("missing", 1, "").
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := repo.UpdateDatasetStatus(context.Background(), "missing", registry.StatusSaved, "")
	if !errors.Is(err, registry.ErrNotFound) {
		t.Fatalf("UpdateDatasetStatus() error = %v, want ErrNotFound", err)
	}
	assertSQLMock(t, mock)
}

func TestUpsertDataset(t *testing.T) {
	db, mock := newSQLMock(t)
	repo := NewRepository(db)

	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO dataset`)).
		WithArgs("ds-1", "Bridges", "rest", "featureservice", "https://services.arcgis.com/FeatureServer/0", "bridges").
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := repo.UpsertDataset(context.Background(), registry.Dataset{
		ID:            "ds-1",
		Name:          "Bridges",
		ConnectorType: registry.ConnectorTypeRest,
		Provider:      registry.ProviderFeatureService,
		ConnectorURL:  "https://services.arcgis.com/FeatureServer/0",
		TableName:     "bridges",
	})
	if err != nil {
		t.Fatalf("UpsertDataset() error = %v", err)
	}
	assertSQLMock(t, mock)
}

func TestHealthCheck(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	if err != nil {
		t.Fatalf("sqlmock.New() error = %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	mock.ExpectPing().WillReturnError(errors.New("connection refused"))

	repo := NewRepository(db)
	if err := repo.HealthCheck(context.Background()); err == nil {
		t.Fatal("expected ping failure")
	}
	assertSQLMock(t, mock)
}

func newSQLMock(t *testing.T) (*sql.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("sqlmock.New() error = %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db, mock
}

func assertSQLMock(t *testing.T, mock sqlmock.Sqlmock) {
	t.Helper()
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet sql expectations: %v", err)
	}
}
