// Package searchindex is the thin wrapper around the Typesense client
// used by the indexing worker: schema bootstrap and upsert-by-id,
// following the teacher's pkg/client pattern of a struct wrapping a
// generated/vendor client behind a small domain-specific surface.
package searchindex

import (
	"context"
	"fmt"

	"github.com/typesense/typesense-go/typesense"
	"github.com/typesense/typesense-go/typesense/api"
	"github.com/typesense/typesense-go/typesense/api/pointer"
)

// CollectionName is the single collection holding one document per
// listing.
const CollectionName = "listings"

// Document is the denormalized search document the indexing worker
// composes and upserts; field names match the collection schema.
type Document struct {
	ID                     string    `json:"id"`
	Title                  string    `json:"title"`
	Description            string    `json:"description"`
	ThumbnailURL           string    `json:"thumbnail_url"`
	Categories             []string  `json:"categories"`
	License                string    `json:"license"`
	IsPhysical             bool      `json:"is_physical"`
	DimXMM                 *float64  `json:"dim_x_mm,omitempty"`
	DimYMM                 *float64  `json:"dim_y_mm,omitempty"`
	DimZMM                 *float64  `json:"dim_z_mm,omitempty"`
	IsMulticolor           bool      `json:"is_multicolor"`
	RecommendedMaterials   []string  `json:"recommended_materials,omitempty"`
	RecommendedNozzleTempC *float64  `json:"recommended_nozzle_temp_c,omitempty"`
	IsNSFW                 bool      `json:"is_nsfw"`
	IsAIGenerated          bool      `json:"is_ai_generated"`
	AIModelName            string    `json:"ai_model_name,omitempty"`
	AllowsRemixing         bool      `json:"allows_remixing"`
	ParentListingID        string    `json:"parent_listing_id,omitempty"`
	Likes                  int64     `json:"likes"`
	Downloads              int64     `json:"downloads"`
	Comments               int64     `json:"comments"`
	PriceMinorUnits        int64     `json:"price_minor_units"`
	Currency               string    `json:"currency"`
	IsFree                 bool      `json:"is_free"`
	SaleDiscountPercent    *int      `json:"sale_discount_percent,omitempty"`
	SalePriceMinor         *int64    `json:"sale_price_minor,omitempty"`
	SellerID               string    `json:"seller_id"`
	SellerDisplayName      string    `json:"seller_display_name"`
	SellerUsername         string    `json:"seller_username"`
	SellerVerified         bool      `json:"seller_verified"`
	CreatedAt              int64     `json:"created_at"`
	UpdatedAt              int64     `json:"updated_at"`
	Embedding              []float32 `json:"embedding,omitempty"`
}

// Index upserts documents into a Typesense collection by id.
type Index struct {
	client *typesense.Client
}

// New builds an Index against the given Typesense endpoint.
func New(serverURL, apiKey string) *Index {
	return &Index{
		client: typesense.NewClient(
			typesense.WithServer(serverURL),
			typesense.WithAPIKey(apiKey),
		),
	}
}

// Bootstrap creates the listings collection if it does not already
// exist.
func (i *Index) Bootstrap(ctx context.Context) error {
	_, err := i.client.Collections().Create(ctx, schema())
	if err != nil && !isAlreadyExists(err) {
		return fmt.Errorf("searchindex: create collection: %w", err)
	}
	return nil
}

// Upsert writes doc into the collection, keyed by doc.ID.
func (i *Index) Upsert(ctx context.Context, doc Document) error {
	_, err := i.client.Collection(CollectionName).Documents().Upsert(ctx, doc)
	if err != nil {
		return fmt.Errorf("searchindex: upsert: %w", err)
	}
	return nil
}

func isAlreadyExists(err error) bool {
	return err != nil && (typesenseStatus(err) == 409)
}

func typesenseStatus(err error) int {
	if apiErr, ok := err.(*typesense.HTTPError); ok {
		return apiErr.Status
	}
	return 0
}

func schema() *api.CollectionSchema {
	return &api.CollectionSchema{
		Name: CollectionName,
		Fields: []api.Field{
			{Name: "id", Type: "string"},
			{Name: "title", Type: "string"},
			{Name: "description", Type: "string"},
			{Name: "thumbnail_url", Type: "string", Index: pointer.False()},
			{Name: "categories", Type: "string[]", Facet: pointer.True()},
			{Name: "license", Type: "string"},
			{Name: "is_physical", Type: "bool"},
			{Name: "dim_x_mm", Type: "float", Optional: pointer.True()},
			{Name: "dim_y_mm", Type: "float", Optional: pointer.True()},
			{Name: "dim_z_mm", Type: "float", Optional: pointer.True()},
			{Name: "is_multicolor", Type: "bool"},
			{Name: "recommended_materials", Type: "string[]", Facet: pointer.True(), Optional: pointer.True()},
			{Name: "recommended_nozzle_temp_c", Type: "float", Optional: pointer.True()},
			{Name: "is_nsfw", Type: "bool", Facet: pointer.True()},
			{Name: "is_ai_generated", Type: "bool", Facet: pointer.True()},
			{Name: "ai_model_name", Type: "string", Optional: pointer.True()},
			{Name: "allows_remixing", Type: "bool"},
			{Name: "parent_listing_id", Type: "string", Optional: pointer.True()},
			{Name: "likes", Type: "int64"},
			{Name: "downloads", Type: "int64"},
			{Name: "comments", Type: "int64"},
			{Name: "price_minor_units", Type: "int64"},
			{Name: "currency", Type: "string"},
			{Name: "is_free", Type: "bool"},
			{Name: "sale_discount_percent", Type: "int32", Optional: pointer.True()},
			{Name: "sale_price_minor", Type: "int64", Optional: pointer.True()},
			{Name: "seller_id", Type: "string"},
			{Name: "seller_display_name", Type: "string"},
			{Name: "seller_username", Type: "string"},
			{Name: "seller_verified", Type: "bool"},
			{Name: "created_at", Type: "int64", Sort: pointer.True()},
			{Name: "updated_at", Type: "int64"},
			{Name: "embedding", Type: "float[]", NumDim: pointer.Int(768), Optional: pointer.True()},
		},
		DefaultSortingField: pointer.String("created_at"),
	}
}
