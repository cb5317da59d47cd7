package vector

import (
	"context"

	"github.com/weaviate/weaviate/entities/models"
)

// ClassName is the Weaviate class holding embedded document chunks.
const ClassName = "DocumentChunk"

// SchemaClient defines the interface for Weaviate schema operations
type SchemaClient interface {
	ClassExists(ctx context.Context, className string) (bool, error)
	CreateClass(ctx context.Context, class *models.Class) error
	GetClass(ctx context.Context, className string) (*models.Class, error)
	AddProperty(ctx context.Context, className string, property *models.Property) error
}

// Properties lists the chunk properties the ingestion pipeline writes.
func Properties() []*models.Property {
	return []*models.Property{
		{Name: "content", DataType: []string{"text"}},
		{Name: "documentId", DataType: []string{"string"}}, // exact match
		{Name: "ownerId", DataType: []string{"string"}},
		{Name: "chunkIndex", DataType: []string{"int"}},
		{Name: "fileName", DataType: []string{"string"}},
		{Name: "chunkSize", DataType: []string{"int"}},
		{Name: "chunkOverlap", DataType: []string{"int"}},
		{Name: "charStart", DataType: []string{"int"}},
		{Name: "charEnd", DataType: []string{"int"}},
	}
}

// EnsureSchema creates the chunk class, or adds any properties an older
// deployment is missing.
func EnsureSchema(ctx context.Context, client SchemaClient) error {
	exists, err := client.ClassExists(ctx, ClassName)
	if err != nil {
		return err
	}

	properties := Properties()
	if !exists {
		return client.CreateClass(ctx, &models.Class{
			Class:       ClassName,
			Description: "An embedded chunk of an uploaded document",
			Vectorizer:  "none",
			Properties:  properties,
		})
	}

	class, err := client.GetClass(ctx, ClassName)
	if err != nil {
		return err
	}

	existing := make(map[string]bool, len(class.Properties))
	for _, p := range class.Properties {
		existing[p.Name] = true
	}

	for _, p := range properties {
		if existing[p.Name] {
			continue
		}
		if err := client.AddProperty(ctx, ClassName, p); err != nil {
			return err
		}
	}
	return nil
}
