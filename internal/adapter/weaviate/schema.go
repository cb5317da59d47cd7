package weaviate

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/weaviate/weaviate-go-client/v5/weaviate"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/fault"
	"github.com/weaviate/weaviate/entities/models"

	"docchat/ingest/internal/vector"
)

// schemaClient drives vector.EnsureSchema against a live cluster. Several
// workers may start at once, so losing a create race to another instance
// counts as success.
type schemaClient struct {
	client *weaviate.Client
}

var _ vector.SchemaClient = schemaClient{}

func (c schemaClient) ClassExists(ctx context.Context, className string) (bool, error) {
	return c.client.Schema().ClassExistenceChecker().WithClassName(className).Do(ctx)
}

func (c schemaClient) CreateClass(ctx context.Context, class *models.Class) error {
	return ignoreExists(c.client.Schema().ClassCreator().WithClass(class).Do(ctx))
}

func (c schemaClient) GetClass(ctx context.Context, className string) (*models.Class, error) {
	return c.client.Schema().ClassGetter().WithClassName(className).Do(ctx)
}

func (c schemaClient) AddProperty(ctx context.Context, className string, property *models.Property) error {
	return ignoreExists(c.client.Schema().PropertyCreator().WithClassName(className).WithProperty(property).Do(ctx))
}

func ignoreExists(err error) error {
	var werr *fault.WeaviateClientError
	if errors.As(err, &werr) && werr.StatusCode == http.StatusUnprocessableEntity &&
		strings.Contains(strings.ToLower(werr.Msg), "already exists") {
		return nil
	}
	return err
}
