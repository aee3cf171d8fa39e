// Package indexer is the Indexing Worker: it subscribes to the
// "index listing" subject, reads the listing, composes a denormalized
// search document, upserts it, and marks the listing indexed. Ack/nack
// classification follows the policy table: permanent and poison
// conditions ack (log and drop), transient conditions nack for bus
// redelivery. Grounded on the teacher's reconciler loop for the
// metrics-timed unit of work and its resolve-then-log error handling.
package indexer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/meshforge/listings/pkg/eventbus"
	"github.com/meshforge/listings/pkg/listingdb"
	"github.com/meshforge/listings/pkg/log"
	"github.com/meshforge/listings/pkg/metrics"
	"github.com/meshforge/listings/pkg/searchindex"
	"github.com/meshforge/listings/pkg/types"
	"github.com/rs/zerolog"
)

const consumerGroup = "listings-worker"

var uuidPattern = regexp.MustCompile(`^[0-9a-fA-F]{8}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{12}$`)

// Config carries the worker's tunables.
type Config struct {
	IndexListingSubject string
	PublicBaseURL       string
}

type indexListingPayload struct {
	ListingID string `json:"listingId"`
}

// Worker wires a repository and a search index behind the bus
// subscription.
type Worker struct {
	repo   *listingdb.Repository
	index  *searchindex.Index
	bus    eventbus.Bus
	cfg    Config
	logger zerolog.Logger
}

// New builds a Worker.
func New(repo *listingdb.Repository, index *searchindex.Index, bus eventbus.Bus, cfg Config) *Worker {
	return &Worker{
		repo:   repo,
		index:  index,
		bus:    bus,
		cfg:    cfg,
		logger: log.WithComponent("indexer"),
	}
}

// Start subscribes the handler to the configured subject under the
// worker queue group.
func (w *Worker) Start() (eventbus.Subscription, error) {
	return w.bus.Subscribe(w.cfg.IndexListingSubject, consumerGroup, w.handle)
}

// handle implements the ack/nack classification table from the
// indexing worker's policy.
func (w *Worker) handle(ctx context.Context, payload []byte) error {
	start := time.Now()
	outcome := "ack"
	defer func() {
		metrics.IndexedMessagesTotal.WithLabelValues(outcome).Inc()
	}()

	var msg indexListingPayload
	if err := json.Unmarshal(payload, &msg); err != nil {
		w.logger.Warn().Err(err).Msg("poison pill: payload is not valid JSON, acking")
		outcome = "poison"
		return nil
	}

	if !uuidPattern.MatchString(msg.ListingID) {
		w.logger.Warn().Str("listing_id", msg.ListingID).Msg("permanent: listingId is not a well-formed UUID, acking")
		return nil
	}

	listing, _, err := w.repo.GetListing(ctx, msg.ListingID)
	if err != nil {
		if errors.Is(err, listingdb.ErrNotFound) {
			w.logger.Info().Str("listing_id", msg.ListingID).Msg("ghost: listing not found (likely deleted), acking")
			return nil
		}
		w.logger.Error().Err(err).Str("listing_id", msg.ListingID).Msg("transient: failed to load listing, nacking")
		outcome = "nack"
		return fmt.Errorf("indexer: load listing: %w", err)
	}

	if listing.ThumbnailPath == "" {
		w.logger.Warn().Str("listing_id", msg.ListingID).Msg("incomplete: listing has no thumbnail path, acking")
		return nil
	}

	doc := w.compose(listing)

	upsertTimer := metrics.NewTimer()
	err = w.index.Upsert(ctx, doc)
	upsertTimer.ObserveDuration(metrics.IndexUpsertDuration)
	if err != nil {
		w.logger.Error().Err(err).Str("listing_id", msg.ListingID).Msg("transient: search upsert failed, nacking")
		outcome = "nack"
		return fmt.Errorf("indexer: upsert: %w", err)
	}

	if err := w.repo.MarkIndexed(ctx, msg.ListingID, time.Now().UTC()); err != nil {
		w.logger.Error().Err(err).Str("listing_id", msg.ListingID).Msg("transient: mark-indexed failed, nacking")
		outcome = "nack"
		return fmt.Errorf("indexer: mark indexed: %w", err)
	}

	metrics.IndexingLagSeconds.Set(time.Since(listing.UpdatedAt).Seconds())
	w.logger.Info().Str("listing_id", msg.ListingID).Dur("duration", time.Since(start)).Msg("listing indexed")
	return nil
}

func (w *Worker) compose(l *types.Listing) searchindex.Document {
	doc := searchindex.Document{
		ID:                     l.ID,
		Title:                  l.Title,
		Description:            l.Description,
		ThumbnailURL:           w.publicURL(l.ThumbnailPath),
		Categories:             l.Categories,
		License:                l.License,
		IsPhysical:             l.IsPhysical,
		IsMulticolor:           l.IsMulticolor,
		RecommendedMaterials:   l.RecommendedMaterials,
		IsNSFW:                 l.IsNSFW,
		IsAIGenerated:          l.AI.IsAIGenerated,
		AIModelName:            l.AI.ModelName,
		AllowsRemixing:         l.AllowsRemixing,
		Likes:                  l.Social.Likes,
		Downloads:              l.Social.Downloads,
		Comments:               l.Social.Comments,
		PriceMinorUnits:        l.Price.AmountMinorUnits,
		Currency:               string(l.Price.Currency),
		IsFree:                 l.Price.IsFree,
		SellerID:               l.Seller.ID,
		SellerDisplayName:      l.Seller.DisplayName,
		SellerUsername:         l.Seller.Username,
		SellerVerified:         l.Seller.Verified,
		CreatedAt:              l.CreatedAt.Unix(),
		UpdatedAt:              l.UpdatedAt.Unix(),
	}

	if l.Dimensions != nil {
		doc.DimXMM = &l.Dimensions.X
		doc.DimYMM = &l.Dimensions.Y
		doc.DimZMM = &l.Dimensions.Z
	}
	doc.RecommendedNozzleTempC = l.NozzleTempC
	if l.ParentListingID != nil {
		doc.ParentListingID = *l.ParentListingID
	}
	if l.Sale != nil {
		discount := l.Sale.DiscountPercent
		price := l.Sale.SalePriceMinor
		doc.SaleDiscountPercent = &discount
		doc.SalePriceMinor = &price
	}
	return doc
}

func (w *Worker) publicURL(path string) string {
	return fmt.Sprintf("%s/%s", w.cfg.PublicBaseURL, path)
}
