// Package registry resolves dataset metadata for feature-service datasets.
package registry

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/featurestream/featurestream/internal/apperr"
)

var ErrNotFound = errors.New("registry: dataset not found")

const (
	ConnectorTypeRest      = "rest"
	ProviderFeatureService = "featureservice"
)

type Status int

const (
	StatusPending Status = 0
	StatusSaved   Status = 1
	StatusFailed  Status = 2
)

func (s Status) String() string {
	switch s {
	case StatusSaved:
		return "saved"
	case StatusFailed:
		return "failed"
	default:
		return "pending"
	}
}

type Dataset struct {
	ID            string
	Name          string
	ConnectorType string
	Provider      string
	ConnectorURL  string
	TableName     string
	Status        string
	ErrorMessage  string
	UpdatedAt     time.Time
}

type Registry interface {
	GetDataset(ctx context.Context, id string) (Dataset, error)
}

type StatusUpdater interface {
	UpdateDatasetStatus(ctx context.Context, id string, status Status, errorMessage string) error
}

// Validate checks that the dataset is served by this adapter.
func (d Dataset) Validate() error {
	if d.ConnectorType != ConnectorTypeRest {
		return apperr.BadRequest(http.StatusUnprocessableEntity,
			fmt.Sprintf("This operation is only supported for datasets with connectorType '%s'", ConnectorTypeRest))
	}
	if d.Provider != ProviderFeatureService {
		return apperr.BadRequest(http.StatusUnprocessableEntity,
			fmt.Sprintf("This operation is only supported for datasets with provider '%s'", ProviderFeatureService))
	}
	if strings.TrimSpace(d.ConnectorURL) == "" {
		return apperr.BadRequest(http.StatusUnprocessableEntity, "Dataset has no connector URL")
	}
	return nil
}

// Resolve loads and validates a dataset. Failures are classified as
// badRequest except registry outages.
func Resolve(ctx context.Context, reg Registry, id string) (Dataset, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return Dataset{}, apperr.BadRequest(http.StatusBadRequest, "dataset is required")
	}
	dataset, err := reg.GetDataset(ctx, id)
	if errors.Is(err, ErrNotFound) {
		return Dataset{}, apperr.BadRequest(http.StatusNotFound, fmt.Sprintf("Dataset with id '%s' doesn't exist", id))
	}
	if err != nil {
		return Dataset{}, fmt.Errorf("resolve dataset %s: %w", id, err)
	}
	if err := dataset.Validate(); err != nil {
		return Dataset{}, err
	}
	return dataset, nil
}
