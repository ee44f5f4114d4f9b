package cds

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/couchcryptid/climate-region-etl/internal/adapter/netcdf"
	"github.com/couchcryptid/climate-region-etl/internal/domain"
)

// FieldService retrieves one variable from the store and decodes the
// downloaded product into a gridded field. It implements
// pipeline.FieldRetriever.
type FieldService struct {
	client   *Client
	template Request
	dir      string
}

// NewFieldService creates a retriever that downloads products into dir.
// template carries the dataset selection shared by every variable.
func NewFieldService(client *Client, template Request, dir string) *FieldService {
	return &FieldService{client: client, template: template, dir: dir}
}

// RetrieveField fetches the named variable and returns the decoded field.
// A product already present in the download directory is reused, so a rerun
// after a partial failure does not repeat completed retrievals.
func (s *FieldService) RetrieveField(ctx context.Context, variable string) (*domain.Field, error) {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return nil, fmt.Errorf("create download dir: %w", err)
	}
	dest := filepath.Join(s.dir, variable+".nc")

	if _, err := os.Stat(dest); err != nil {
		req := s.template
		req.Variable = variable
		if err := s.client.Retrieve(ctx, req, dest); err != nil {
			return nil, err
		}
	} else {
		s.client.logger.Info("reusing downloaded product", "variable", variable, "dest", dest)
	}

	return netcdf.ReadField(dest, "")
}
