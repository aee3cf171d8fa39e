// Package listingdb is the relational repository backing the Listing
// Orchestrator: transactional listing+file creation, reads joined with
// files, seller-scoped listing, partial update, and soft delete.
// Translated from the teacher's Store-interface-over-concrete-impl
// pattern (pkg/storage) from BoltDB buckets to SQL tables.
package listingdb

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"
	"github.com/meshforge/listings/pkg/apierr"
	"github.com/meshforge/listings/pkg/types"
)

// ErrNotFound is returned when a listing or file does not exist (or is
// soft-deleted).
var ErrNotFound = errors.New("listingdb: not found")

// Repository is the Postgres-backed listing store.
type Repository struct {
	db *sql.DB
}

// Open connects to dsn and configures the pool per the supplied
// limits.
func Open(dsn string, maxOpenConns, maxIdleConns int) (*Repository, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("listingdb: open: %w", err)
	}
	db.SetMaxOpenConns(maxOpenConns)
	db.SetMaxIdleConns(maxIdleConns)
	return &Repository{db: db}, nil
}

// Ping checks connectivity, used by the health aggregator.
func (r *Repository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// Close releases the connection pool.
func (r *Repository) Close() error { return r.db.Close() }

// Bootstrap applies Schema. Intended for local/dev use only; real
// deployments run a migration tool (out of scope per spec.md §1).
func (r *Repository) Bootstrap(ctx context.Context) error {
	_, err := r.db.ExecContext(ctx, Schema)
	return err
}

// CreateListing inserts listing and files in a single transaction.
func (r *Repository) CreateListing(ctx context.Context, listing *types.Listing, files []*types.ListingFile) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("listingdb: begin tx: %w", err)
	}
	defer tx.Rollback()

	if err := insertListing(ctx, tx, listing); err != nil {
		return err
	}
	for _, f := range files {
		if err := insertFile(ctx, tx, f); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("listingdb: commit: %w", err)
	}
	return nil
}

func insertListing(ctx context.Context, tx *sql.Tx, l *types.Listing) error {
	dims, err := json.Marshal(l.Dimensions)
	if err != nil {
		return fmt.Errorf("listingdb: marshal dimensions: %w", err)
	}
	var saleDiscount *int
	var salePrice *int64
	var saleEnds *time.Time
	if l.Sale != nil {
		saleDiscount = &l.Sale.DiscountPercent
		salePrice = &l.Sale.SalePriceMinor
		saleEnds = &l.Sale.SaleEndsAt
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO listings (
			id, seller_id, seller_display_name, seller_username, seller_verified,
			title, description, categories, license, thumbnail_path,
			price_minor_units, currency, is_free, sale_discount_percent, sale_price_minor, sale_ends_at,
			is_physical, dimensions, total_weight_grams, nozzle_temp_c, recommended_materials,
			is_multicolor, requires_assembly, hardware_items,
			allows_remixing, parent_listing_id,
			is_nsfw, is_ai_generated, ai_model_name,
			likes, downloads, comments,
			state, created_at, updated_at, last_indexed_at, deleted_at,
			trace_id, authorized_party
		) VALUES (
			$1,$2,$3,$4,$5, $6,$7,$8,$9,$10, $11,$12,$13,$14,$15,$16,
			$17,$18,$19,$20,$21, $22,$23,$24, $25,$26, $27,$28,$29,
			$30,$31,$32, $33,$34,$35,$36,$37, $38,$39
		)`,
		l.ID, l.Seller.ID, l.Seller.DisplayName, l.Seller.Username, l.Seller.Verified,
		l.Title, l.Description, pq.Array(l.Categories), l.License, l.ThumbnailPath,
		l.Price.AmountMinorUnits, string(l.Price.Currency), l.Price.IsFree, saleDiscount, salePrice, saleEnds,
		l.IsPhysical, dims, l.TotalWeightGrams, l.NozzleTempC, pq.Array(l.RecommendedMaterials),
		l.IsMulticolor, l.RequiresAssembly, pq.Array(l.HardwareItems),
		l.AllowsRemixing, l.ParentListingID,
		l.IsNSFW, l.AI.IsAIGenerated, l.AI.ModelName,
		l.Social.Likes, l.Social.Downloads, l.Social.Comments,
		string(l.State), l.CreatedAt, l.UpdatedAt, l.LastIndexedAt, l.DeletedAt,
		l.TraceID, l.AuthorizedParty,
	)
	if err != nil {
		return fmt.Errorf("listingdb: insert listing: %w", err)
	}
	return nil
}

func insertFile(ctx context.Context, tx *sql.Tx, f *types.ListingFile) error {
	meta, err := encodeFileMetadata(f.Metadata)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO listing_files (
			id, listing_id, path, kind, size_bytes, metadata,
			state, error_message, is_generated, source_file_id,
			created_at, updated_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)`,
		f.ID, f.ListingID, f.Path, string(f.Kind), f.SizeBytes, meta,
		string(f.State), f.ErrorMessage, f.IsGenerated, f.SourceFileID,
		f.CreatedAt, f.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("listingdb: insert file: %w", err)
	}
	return nil
}

// GetListing loads a non-deleted listing with its non-deleted files.
func (r *Repository) GetListing(ctx context.Context, id string) (*types.Listing, []*types.ListingFile, error) {
	listing, err := r.scanOneListing(ctx, r.db, `SELECT `+listingColumns+` FROM listings WHERE id = $1 AND deleted_at IS NULL`, id)
	if err != nil {
		return nil, nil, err
	}
	files, err := r.filesForListing(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	return listing, files, nil
}

// ListBySeller returns every non-deleted listing for sellerID, newest
// first, each with its files.
func (r *Repository) ListBySeller(ctx context.Context, sellerID string) ([]*types.Listing, map[string][]*types.ListingFile, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+listingColumns+` FROM listings WHERE seller_id = $1 AND deleted_at IS NULL ORDER BY created_at DESC`, sellerID)
	if err != nil {
		return nil, nil, fmt.Errorf("listingdb: list by seller: %w", err)
	}
	defer rows.Close()

	var listings []*types.Listing
	for rows.Next() {
		l, err := scanListing(rows)
		if err != nil {
			return nil, nil, err
		}
		listings = append(listings, l)
	}
	if err := rows.Err(); err != nil {
		return nil, nil, err
	}

	filesByListing := make(map[string][]*types.ListingFile, len(listings))
	for _, l := range listings {
		files, err := r.filesForListing(ctx, l.ID)
		if err != nil {
			return nil, nil, err
		}
		filesByListing[l.ID] = files
	}
	return listings, filesByListing, nil
}

func (r *Repository) filesForListing(ctx context.Context, listingID string) ([]*types.ListingFile, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, listing_id, path, kind, size_bytes, metadata, state, error_message, is_generated, source_file_id, created_at, updated_at
		FROM listing_files WHERE listing_id = $1 ORDER BY created_at ASC`, listingID)
	if err != nil {
		return nil, fmt.Errorf("listingdb: files for listing: %w", err)
	}
	defer rows.Close()

	var files []*types.ListingFile
	for rows.Next() {
		f, err := scanFile(rows)
		if err != nil {
			return nil, err
		}
		files = append(files, f)
	}
	return files, rows.Err()
}

// UpdateListing persists the mutable fields of listing (whatever the
// caller has already merged a patch into) and bumps updated_at.
func (r *Repository) UpdateListing(ctx context.Context, listing *types.Listing) error {
	listing.UpdatedAt = time.Now().UTC()
	res, err := r.db.ExecContext(ctx, `
		UPDATE listings SET
			title = $1, description = $2, categories = $3, license = $4,
			price_minor_units = $5, currency = $6, is_free = $7,
			is_nsfw = $8, is_ai_generated = $9, ai_model_name = $10,
			allows_remixing = $11, state = $12, updated_at = $13
		WHERE id = $14 AND deleted_at IS NULL`,
		listing.Title, listing.Description, pq.Array(listing.Categories), listing.License,
		listing.Price.AmountMinorUnits, string(listing.Price.Currency), listing.Price.IsFree,
		listing.IsNSFW, listing.AI.IsAIGenerated, listing.AI.ModelName,
		listing.AllowsRemixing, string(listing.State), listing.UpdatedAt,
		listing.ID,
	)
	if err != nil {
		return fmt.Errorf("listingdb: update listing: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// SoftDelete sets deleted_at for a listing owned by sellerID. It is a
// no-op (not an error) if the listing does not exist or is not owned
// by sellerID.
func (r *Repository) SoftDelete(ctx context.Context, id, sellerID string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE listings SET deleted_at = $1 WHERE id = $2 AND seller_id = $3 AND deleted_at IS NULL`,
		time.Now().UTC(), id, sellerID)
	if err != nil {
		return fmt.Errorf("listingdb: soft delete: %w", err)
	}
	return nil
}

// UpdateFileState transitions a file's state and, within the same
// transaction, recomputes and persists the owning listing's lifecycle
// state. Returns the listing's resulting state and the listing's id.
func (r *Repository) UpdateFileState(ctx context.Context, fileID string, state types.FileState, errMsg string) (types.ListingState, string, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return "", "", fmt.Errorf("listingdb: begin tx: %w", err)
	}
	defer tx.Rollback()

	var listingID string
	err = tx.QueryRowContext(ctx, `
		UPDATE listing_files SET state = $1, error_message = $2, updated_at = $3
		WHERE id = $4 RETURNING listing_id`,
		string(state), errMsg, time.Now().UTC(), fileID,
	).Scan(&listingID)
	if errors.Is(err, sql.ErrNoRows) {
		return "", "", ErrNotFound
	}
	if err != nil {
		return "", "", fmt.Errorf("listingdb: update file state: %w", err)
	}

	newState, err := recomputeListingState(ctx, tx, listingID)
	if err != nil {
		return "", "", err
	}

	if err := tx.Commit(); err != nil {
		return "", "", fmt.Errorf("listingdb: commit: %w", err)
	}
	return newState, listingID, nil
}

// recomputeListingState applies the ACTIVE/REJECTED fan-in rule
// decided in DESIGN.md's Open Question #1: ACTIVE once every file is
// VALID, REJECTED as soon as any file is INVALID.
func recomputeListingState(ctx context.Context, tx *sql.Tx, listingID string) (types.ListingState, error) {
	rows, err := tx.QueryContext(ctx, `SELECT state FROM listing_files WHERE listing_id = $1`, listingID)
	if err != nil {
		return "", fmt.Errorf("listingdb: read file states: %w", err)
	}
	defer rows.Close()

	allValid := true
	anyInvalid := false
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return "", err
		}
		switch types.FileState(s) {
		case types.FileStateValid:
		case types.FileStateInvalid:
			anyInvalid = true
			allValid = false
		default:
			allValid = false
		}
	}
	if err := rows.Err(); err != nil {
		return "", err
	}

	var newState types.ListingState
	switch {
	case anyInvalid:
		newState = types.ListingRejected
	case allValid:
		newState = types.ListingActive
	default:
		return types.ListingPendingValidation, nil
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE listings SET state = $1, updated_at = $2 WHERE id = $3 AND deleted_at IS NULL`,
		string(newState), time.Now().UTC(), listingID,
	); err != nil {
		return "", fmt.Errorf("listingdb: apply listing state: %w", err)
	}
	return newState, nil
}

// SetListingState sets state directly, for the hide/unhide operation.
// Only a non-deleted listing whose seller is sellerID is updated.
func (r *Repository) SetListingState(ctx context.Context, listingID, sellerID string, state types.ListingState) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE listings SET state = $1, updated_at = $2 WHERE id = $3 AND seller_id = $4 AND deleted_at IS NULL`,
		string(state), time.Now().UTC(), listingID, sellerID)
	if err != nil {
		return fmt.Errorf("listingdb: set listing state: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// ListingIDForFile looks up the owning listing of fileID, used to
// attach a worker-generated render against its source file.
func (r *Repository) ListingIDForFile(ctx context.Context, fileID string) (string, error) {
	var listingID string
	err := r.db.QueryRowContext(ctx, `SELECT listing_id FROM listing_files WHERE id = $1`, fileID).Scan(&listingID)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("listingdb: listing id for file: %w", err)
	}
	return listingID, nil
}

// AttachGeneratedFile inserts a worker-produced render, weakly
// back-referencing sourceFileID.
func (r *Repository) AttachGeneratedFile(ctx context.Context, f *types.ListingFile) error {
	f.IsGenerated = true
	meta, err := encodeFileMetadata(f.Metadata)
	if err != nil {
		return err
	}
	_, err = r.db.ExecContext(ctx, `
		INSERT INTO listing_files (
			id, listing_id, path, kind, size_bytes, metadata,
			state, error_message, is_generated, source_file_id,
			created_at, updated_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)`,
		f.ID, f.ListingID, f.Path, string(f.Kind), f.SizeBytes, meta,
		string(f.State), f.ErrorMessage, f.IsGenerated, f.SourceFileID,
		f.CreatedAt, f.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("listingdb: attach generated file: %w", err)
	}
	return nil
}

// MarkIndexed stamps last_indexed_at with a last-writer-wins timestamp.
func (r *Repository) MarkIndexed(ctx context.Context, listingID string, at time.Time) error {
	res, err := r.db.ExecContext(ctx, `UPDATE listings SET last_indexed_at = $1 WHERE id = $2 AND deleted_at IS NULL`, at, listingID)
	if err != nil {
		return fmt.Errorf("listingdb: mark indexed: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// PendingFilesOlderThan returns the files still PENDING whose listing
// was created before cutoff, for the republish sweeper.
func (r *Repository) PendingFilesOlderThan(ctx context.Context, cutoff time.Time) ([]*types.ListingFile, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT f.id, f.listing_id, f.path, f.kind, f.size_bytes, f.metadata, f.state, f.error_message, f.is_generated, f.source_file_id, f.created_at, f.updated_at
		FROM listing_files f
		JOIN listings l ON l.id = f.listing_id
		WHERE f.state = $1 AND l.created_at < $2 AND l.deleted_at IS NULL`,
		string(types.FileStatePending), cutoff)
	if err != nil {
		return nil, fmt.Errorf("listingdb: pending files: %w", err)
	}
	defer rows.Close()

	var files []*types.ListingFile
	for rows.Next() {
		f, err := scanFile(rows)
		if err != nil {
			return nil, err
		}
		files = append(files, f)
	}
	return files, rows.Err()
}

func asAPIErr(err error) error {
	if errors.Is(err, ErrNotFound) || errors.Is(err, sql.ErrNoRows) {
		return apierr.NotFound("listing not found")
	}
	return apierr.Internal(err)
}

// AsAPIErr maps a repository error onto the caller-facing error kinds.
var AsAPIErr = asAPIErr
