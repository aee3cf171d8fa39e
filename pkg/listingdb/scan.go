package listingdb

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/lib/pq"
	"github.com/meshforge/listings/pkg/types"
)

// querier is satisfied by *sql.DB and *sql.Tx.
type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// listingColumns must stay in the same order as insertListing's
// positional placeholders and the scan targets below.
const listingColumns = `
	id, seller_id, seller_display_name, seller_username, seller_verified,
	title, description, categories, license, thumbnail_path,
	price_minor_units, currency, is_free, sale_discount_percent, sale_price_minor, sale_ends_at,
	is_physical, dimensions, total_weight_grams, nozzle_temp_c, recommended_materials,
	is_multicolor, requires_assembly, hardware_items,
	allows_remixing, parent_listing_id,
	is_nsfw, is_ai_generated, ai_model_name,
	likes, downloads, comments,
	state, created_at, updated_at, last_indexed_at, deleted_at,
	trace_id, authorized_party`

// scanner is satisfied by both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanListingInto(s scanner) (*types.Listing, error) {
	var l types.Listing
	var dims []byte
	var saleDiscount *int
	var salePrice *int64
	var saleEnds sql.NullTime

	err := s.Scan(
		&l.ID, &l.Seller.ID, &l.Seller.DisplayName, &l.Seller.Username, &l.Seller.Verified,
		&l.Title, &l.Description, pq.Array(&l.Categories), &l.License, &l.ThumbnailPath,
		&l.Price.AmountMinorUnits, &l.Price.Currency, &l.Price.IsFree, &saleDiscount, &salePrice, &saleEnds,
		&l.IsPhysical, &dims, &l.TotalWeightGrams, &l.NozzleTempC, pq.Array(&l.RecommendedMaterials),
		&l.IsMulticolor, &l.RequiresAssembly, pq.Array(&l.HardwareItems),
		&l.AllowsRemixing, &l.ParentListingID,
		&l.IsNSFW, &l.AI.IsAIGenerated, &l.AI.ModelName,
		&l.Social.Likes, &l.Social.Downloads, &l.Social.Comments,
		&l.State, &l.CreatedAt, &l.UpdatedAt, &l.LastIndexedAt, &l.DeletedAt,
		&l.TraceID, &l.AuthorizedParty,
	)
	if err != nil {
		return nil, err
	}

	if len(dims) > 0 {
		var d types.Dimensions
		if err := json.Unmarshal(dims, &d); err != nil {
			return nil, fmt.Errorf("listingdb: decode dimensions: %w", err)
		}
		l.Dimensions = &d
	}
	if saleDiscount != nil && salePrice != nil && saleEnds.Valid {
		l.Sale = &types.Sale{
			DiscountPercent: *saleDiscount,
			SalePriceMinor:  *salePrice,
			SaleEndsAt:      saleEnds.Time,
		}
	}
	return &l, nil
}

func (r *Repository) scanOneListing(ctx context.Context, q querier, query string, args ...any) (*types.Listing, error) {
	row := q.QueryRowContext(ctx, query, args...)
	l, err := scanListingInto(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("listingdb: scan listing: %w", err)
	}
	return l, nil
}

func scanListing(rows *sql.Rows) (*types.Listing, error) {
	l, err := scanListingInto(rows)
	if err != nil {
		return nil, fmt.Errorf("listingdb: scan listing: %w", err)
	}
	return l, nil
}

func scanFile(rows *sql.Rows) (*types.ListingFile, error) {
	var f types.ListingFile
	var meta []byte
	if err := rows.Scan(
		&f.ID, &f.ListingID, &f.Path, &f.Kind, &f.SizeBytes, &meta,
		&f.State, &f.ErrorMessage, &f.IsGenerated, &f.SourceFileID,
		&f.CreatedAt, &f.UpdatedAt,
	); err != nil {
		return nil, fmt.Errorf("listingdb: scan file: %w", err)
	}
	decoded, err := decodeFileMetadata(f.Kind, meta)
	if err != nil {
		return nil, err
	}
	f.Metadata = decoded
	return &f, nil
}

func encodeFileMetadata(m types.FileMetadata) ([]byte, error) {
	switch {
	case m.Model != nil:
		return json.Marshal(m.Model)
	case m.Image != nil:
		return json.Marshal(m.Image)
	default:
		return []byte("null"), nil
	}
}

func decodeFileMetadata(kind types.FileKind, raw []byte) (types.FileMetadata, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return types.FileMetadata{}, nil
	}
	switch kind {
	case types.FileKindModel:
		var m types.ModelFileMetadata
		if err := json.Unmarshal(raw, &m); err != nil {
			return types.FileMetadata{}, fmt.Errorf("listingdb: decode model metadata: %w", err)
		}
		return types.FileMetadata{Model: &m}, nil
	case types.FileKindImage:
		var m types.ImageFileMetadata
		if err := json.Unmarshal(raw, &m); err != nil {
			return types.FileMetadata{}, fmt.Errorf("listingdb: decode image metadata: %w", err)
		}
		return types.FileMetadata{Image: &m}, nil
	default:
		return types.FileMetadata{}, nil
	}
}
