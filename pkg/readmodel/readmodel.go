// Package readmodel is the Read Assembler: it turns a listing row
// plus its files into the response the HTTP layer serializes, attaching
// per-file signed or public URLs, and caches full-listing reads with a
// TTL, invalidating on update.
package readmodel

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/meshforge/listings/pkg/cache"
	"github.com/meshforge/listings/pkg/listing"
	"github.com/meshforge/listings/pkg/log"
	"github.com/meshforge/listings/pkg/objectstore"
	"github.com/meshforge/listings/pkg/types"
	"github.com/rs/zerolog"
)

const listingCacheTTL = time.Hour

// Config carries the bucket/URL settings needed to resolve file paths
// into URLs.
type Config struct {
	PrivateBucket    string
	PublicBaseURL    string
	ModelSignExpiry  time.Duration
}

// File is a listing file with its resolved URL, present only when the
// file has reached VALID.
type File struct {
	ID           string `json:"id"`
	Kind         string `json:"kind"`
	State        string `json:"state"`
	SizeBytes    int64  `json:"sizeBytes"`
	ErrorMessage string `json:"errorMessage,omitempty"`
	URL          string `json:"url,omitempty"`
}

// Response is the assembled, JSON-serializable listing view.
type Response struct {
	ID            string      `json:"id"`
	Seller        types.Seller `json:"seller"`
	Title         string      `json:"title"`
	Description   string      `json:"description"`
	Categories    []string    `json:"categories"`
	License       string      `json:"license"`
	ThumbnailURL  string      `json:"thumbnailUrl"`

	PriceMinorUnits int64  `json:"priceMinorUnits"`
	Currency        string `json:"currency"`
	IsFree          bool   `json:"isFree"`

	IsPhysical           bool     `json:"isPhysical"`
	DimXMM               *float64 `json:"dimXMm,omitempty"`
	DimYMM               *float64 `json:"dimYMm,omitempty"`
	DimZMM               *float64 `json:"dimZMm,omitempty"`
	TotalWeightGrams     *float64 `json:"totalWeightGrams,omitempty"`
	NozzleTempC          *float64 `json:"nozzleTempC,omitempty"`
	RecommendedMaterials []string `json:"recommendedMaterials,omitempty"`
	IsMulticolor         bool     `json:"isMulticolor"`
	RequiresAssembly     bool     `json:"requiresAssembly"`
	HardwareItems        []string `json:"hardwareItems,omitempty"`

	AllowsRemixing  bool    `json:"allowsRemixing"`
	ParentListingID *string `json:"parentListingId,omitempty"`

	IsNSFW        bool   `json:"isNsfw"`
	IsAIGenerated bool   `json:"isAiGenerated"`
	AIModelName   string `json:"aiModelName,omitempty"`

	Likes     int64 `json:"likes"`
	Downloads int64 `json:"downloads"`
	Comments  int64 `json:"comments"`

	State     string `json:"state"`
	CreatedAt int64  `json:"createdAt"`
	UpdatedAt int64  `json:"updatedAt"`

	Files []File `json:"files"`
}

// Assembler composes Responses and caches them.
type Assembler struct {
	listings *listing.Service
	store    objectstore.Store
	cache    cache.Cache
	cfg      Config
	logger   zerolog.Logger
}

// New builds an Assembler.
func New(listings *listing.Service, store objectstore.Store, c cache.Cache, cfg Config) *Assembler {
	return &Assembler{
		listings: listings,
		store:    store,
		cache:    c,
		cfg:      cfg,
		logger:   log.WithComponent("readmodel"),
	}
}

func cacheKey(id string) string { return "listing:" + id }

// Get returns the cached response for id if present, otherwise loads,
// assembles, and asynchronously caches it.
func (a *Assembler) Get(ctx context.Context, id string) (*Response, error) {
	if raw, err := a.cache.Get(ctx, cacheKey(id)); err == nil {
		var resp Response
		if jsonErr := json.Unmarshal(raw, &resp); jsonErr == nil {
			return &resp, nil
		}
	}

	l, files, err := a.listings.GetListing(ctx, id)
	if err != nil {
		return nil, err
	}

	resp, err := a.Assemble(ctx, l, files)
	if err != nil {
		return nil, err
	}

	go a.writeCache(id, resp)

	return resp, nil
}

func (a *Assembler) writeCache(id string, resp *Response) {
	raw, err := json.Marshal(resp)
	if err != nil {
		a.logger.Error().Err(err).Str("listing_id", id).Msg("failed to marshal listing for cache")
		return
	}
	if err := a.cache.Set(context.Background(), cacheKey(id), raw, listingCacheTTL); err != nil {
		a.logger.Error().Err(err).Str("listing_id", id).Msg("failed to write listing cache entry")
	}
}

// Invalidate removes the cached response for id after a mutation.
func (a *Assembler) Invalidate(ctx context.Context, id string) {
	if err := a.cache.Del(ctx, cacheKey(id)); err != nil {
		a.logger.Error().Err(err).Str("listing_id", id).Msg("failed to invalidate listing cache entry")
	}
}

// Assemble builds a Response from a listing and its files, resolving
// file URLs per kind and VALID-only visibility.
func (a *Assembler) Assemble(ctx context.Context, l *types.Listing, files []*types.ListingFile) (*Response, error) {
	resp := &Response{
		ID:            l.ID,
		Seller:        l.Seller,
		Title:         l.Title,
		Description:   l.Description,
		Categories:    l.Categories,
		License:       l.License,
		ThumbnailURL:  a.publicURL(l.ThumbnailPath),

		PriceMinorUnits: l.Price.AmountMinorUnits,
		Currency:        string(l.Price.Currency),
		IsFree:          l.Price.IsFree,

		IsPhysical:           l.IsPhysical,
		TotalWeightGrams:     l.TotalWeightGrams,
		NozzleTempC:          l.NozzleTempC,
		RecommendedMaterials: l.RecommendedMaterials,
		IsMulticolor:         l.IsMulticolor,
		RequiresAssembly:     l.RequiresAssembly,
		HardwareItems:        l.HardwareItems,

		AllowsRemixing:  l.AllowsRemixing,
		ParentListingID: l.ParentListingID,

		IsNSFW:        l.IsNSFW,
		IsAIGenerated: l.AI.IsAIGenerated,
		AIModelName:   l.AI.ModelName,

		Likes:     l.Social.Likes,
		Downloads: l.Social.Downloads,
		Comments:  l.Social.Comments,

		State:     string(l.State),
		CreatedAt: l.CreatedAt.Unix(),
		UpdatedAt: l.UpdatedAt.Unix(),
	}

	if l.Dimensions != nil {
		resp.DimXMM = &l.Dimensions.X
		resp.DimYMM = &l.Dimensions.Y
		resp.DimZMM = &l.Dimensions.Z
	}

	resp.Files = make([]File, 0, len(files))
	for _, f := range files {
		entry := File{
			ID:           f.ID,
			Kind:         string(f.Kind),
			State:        string(f.State),
			SizeBytes:    f.SizeBytes,
			ErrorMessage: f.ErrorMessage,
		}
		if f.State == types.FileStateValid {
			url, err := a.resolveURL(ctx, f)
			if err != nil {
				return nil, fmt.Errorf("readmodel: resolve file url: %w", err)
			}
			entry.URL = url
		}
		resp.Files = append(resp.Files, entry)
	}

	return resp, nil
}

func (a *Assembler) resolveURL(ctx context.Context, f *types.ListingFile) (string, error) {
	if f.Kind == types.FileKindModel {
		return a.store.PresignGet(ctx, a.cfg.PrivateBucket, f.Path, a.cfg.ModelSignExpiry)
	}
	return a.publicURL(f.Path), nil
}

func (a *Assembler) publicURL(path string) string {
	return fmt.Sprintf("%s/%s", trimTrailingSlash(a.cfg.PublicBaseURL), trimLeadingSlash(path))
}

func trimTrailingSlash(s string) string {
	for len(s) > 0 && s[len(s)-1] == '/' {
		s = s[:len(s)-1]
	}
	return s
}

func trimLeadingSlash(s string) string {
	for len(s) > 0 && s[0] == '/' {
		s = s[1:]
	}
	return s
}
