package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/featurestream/featurestream/internal/registry"
)

// Repository stores dataset connector metadata in the dataset table.
type Repository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) HealthCheck(ctx context.Context) error {
	if err := r.db.PingContext(ctx); err != nil {
		return fmt.Errorf("ping registry db: %w", err)
	}
	return nil
}

func (r *Repository) GetDataset(ctx context.Context, id string) (registry.Dataset, error) {
	query := `
SELECT dataset_id, name, connector_type, provider, connector_url, table_name, status, error_message, updated_at
FROM dataset
WHERE dataset_id = $1`

	var (
		dataset registry.Dataset
		status  int
	)
	if err := r.db.QueryRowContext(ctx, query, id).Scan(
		&dataset.ID,
		&dataset.Name,
		&dataset.ConnectorType,
		&dataset.Provider,
		&dataset.ConnectorURL,
		&dataset.TableName,
		&status,
		&dataset.ErrorMessage,
		&dataset.UpdatedAt,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return registry.Dataset{}, registry.ErrNotFound
		}
		return registry.Dataset{}, fmt.Errorf("get dataset: %w", err)
	}
	dataset.Status = registry.Status(status).String()
	return dataset, nil
}

func (r *Repository) UpdateDatasetStatus(ctx context.Context, id string, status registry.Status, errorMessage string) error {
	query := `
UPDATE dataset
SET status = $2, error_message = $3, updated_at = NOW()
WHERE dataset_id = $1`
	result, err := r.db.ExecContext(ctx, query, id, int(status), errorMessage)
	if err != nil {
		return fmt.Errorf("update dataset status: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("update dataset status rows affected: %w", err)
	}
	if affected == 0 {
		return registry.ErrNotFound
	}
	return nil
}

// UpsertDataset registers or replaces a dataset's connector metadata. The
// stored status is reset to pending.
func (r *Repository) UpsertDataset(ctx context.Context, dataset registry.Dataset) error {
	query := `
INSERT INTO dataset (dataset_id, name, connector_type, provider, connector_url, table_name, status)
VALUES ($1, $2, $3, $4, $5, $6, 0)
ON CONFLICT (dataset_id)
DO UPDATE SET name = EXCLUDED.name,
	connector_type = EXCLUDED.connector_type,
	provider = EXCLUDED.provider,
	connector_url = EXCLUDED.connector_url,
	table_name = EXCLUDED.table_name,
	status = 0,
	error_message = '',
	updated_at = NOW()`
	if _, err := r.db.ExecContext(ctx, query,
		dataset.ID,
		dataset.Name,
		dataset.ConnectorType,
		dataset.Provider,
		dataset.ConnectorURL,
		dataset.TableName,
	); err != nil {
		return fmt.Errorf("upsert dataset: %w", err)
	}
	return nil
}
