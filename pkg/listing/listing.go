// Package listing is the Listing Orchestrator: it validates listing
// payloads, writes listing and file rows transactionally, fans out
// per-file validation events, and serves the read/update/delete
// operations. Grounded on the teacher's pkg/manager request-validate-
// persist-publish shape, generalized from cluster state to listings.
package listing

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/meshforge/listings/pkg/apierr"
	"github.com/meshforge/listings/pkg/eventbus"
	"github.com/meshforge/listings/pkg/listingdb"
	"github.com/meshforge/listings/pkg/log"
	"github.com/meshforge/listings/pkg/types"
	"github.com/rs/zerolog"
)

const validationConsumerGroup = "listing-validation-complete"

const (
	nozzleTempMinC = 180.0
	nozzleTempMaxC = 450.0

	titleMinLen = 5
	titleMaxLen = 100
	descMinLen  = 20
	descMaxLen  = 5000
)

// Subjects names the bus subjects the orchestrator publishes to and
// consumes from.
type Subjects struct {
	ImageValidationStart string
	ModelValidationStart string
	IndexListing         string
	ValidationComplete   string
}

// Config is the orchestrator's tunable behavior.
type Config struct {
	Subjects Subjects
}

// Service implements the Listing Orchestrator operations.
type Service struct {
	repo   *listingdb.Repository
	bus    eventbus.Bus
	logger zerolog.Logger
	cfg    Config
}

// New builds a Service.
func New(repo *listingdb.Repository, bus eventbus.Bus, cfg Config) *Service {
	return &Service{
		repo:   repo,
		bus:    bus,
		logger: log.WithComponent("listing"),
		cfg:    cfg,
	}
}

// CreateListing validates req, persists the listing and its files in
// one transaction, and (best-effort, post-commit) publishes a
// StartFileValidation event per file.
func (s *Service) CreateListing(ctx context.Context, user types.AuthenticatedUser, req types.NewListingInput, traceID string) (*types.Listing, []*types.ListingFile, error) {
	if err := validateNewListing(req, user.ID); err != nil {
		return nil, nil, err
	}

	now := time.Now().UTC()
	listing := &types.Listing{
		ID: uuid.NewString(),
		Seller: types.Seller{
			ID: user.ID,
		},
		Title:       req.Title,
		Description: req.Description,
		Categories:  req.Categories,
		License:     req.License,

		Price: types.Price{
			AmountMinorUnits: req.PriceMinorUnits,
			Currency:         types.Currency(strings.ToLower(req.Currency)),
			IsFree:           req.IsFree,
		},

		IsPhysical:           req.IsPhysical,
		Dimensions:           req.Dimensions,
		TotalWeightGrams:     req.TotalWeightGrams,
		NozzleTempC:          req.NozzleTempC,
		RecommendedMaterials: req.RecommendedMaterials,
		IsMulticolor:         req.IsMulticolor,
		RequiresAssembly:     req.RequiresAssembly,
		HardwareItems:        req.HardwareItems,

		AllowsRemixing:  req.AllowsRemixing,
		ParentListingID: req.ParentListingID,

		IsNSFW: req.IsNSFW,
		AI: types.AIDisclosure{
			IsAIGenerated: req.IsAIGenerated,
			ModelName:     req.AIModelName,
		},

		State: types.ListingPendingValidation,

		CreatedAt: now,
		UpdatedAt: now,

		TraceID:         traceID,
		AuthorizedParty: user.AuthorizedParty,
	}
	listing.ThumbnailPath = req.Files[0].Path

	files := make([]*types.ListingFile, 0, len(req.Files))
	for _, f := range req.Files {
		files = append(files, &types.ListingFile{
			ID:          uuid.NewString(),
			ListingID:   listing.ID,
			Path:        f.Path,
			Kind:        types.FileKind(strings.ToUpper(f.Kind)),
			SizeBytes:   f.Size,
			State:       types.FileStatePending,
			IsGenerated: false,
			CreatedAt:   now,
			UpdatedAt:   now,
		})
	}

	if err := s.repo.CreateListing(ctx, listing, files); err != nil {
		return nil, nil, apierr.Internal(fmt.Errorf("create listing: %w", err))
	}

	for _, f := range files {
		s.publishStartValidation(listing, f, user.ID, traceID)
	}

	return listing, files, nil
}

// publishStartValidation is best-effort: a publish failure is logged,
// never returned to the caller. A sweeper or user-initiated retry
// re-emits missed events.
func (s *Service) publishStartValidation(listing *types.Listing, file *types.ListingFile, userID, traceID string) {
	subject := s.cfg.Subjects.ModelValidationStart
	if file.Kind == types.FileKindImage {
		subject = s.cfg.Subjects.ImageValidationStart
	}
	payload := fmt.Sprintf(
		`{"listingId":%q,"userId":%q,"traceId":%q,"fileId":%q,"fileKey":%q,"fileType":%q}`,
		listing.ID, userID, traceID, file.ID, file.Path, strings.ToLower(string(file.Kind)),
	)
	msgID := fmt.Sprintf("start.%s.%s.%s", userID, listing.ID, file.ID)

	if err := s.bus.Publish(context.Background(), subject, []byte(payload), msgID); err != nil {
		s.logger.Error().Err(err).
			Str("listing_id", listing.ID).
			Str("file_id", file.ID).
			Str("subject", subject).
			Msg("failed to publish start-validation event")
	}
}

// GetListing loads a listing with its files, or apierr NOT_FOUND.
func (s *Service) GetListing(ctx context.Context, id string) (*types.Listing, []*types.ListingFile, error) {
	listing, files, err := s.repo.GetListing(ctx, id)
	if err != nil {
		return nil, nil, listingdb.AsAPIErr(err)
	}
	return listing, files, nil
}

// ListBySeller returns every listing owned by user, newest first.
func (s *Service) ListBySeller(ctx context.Context, sellerID string) ([]*types.Listing, map[string][]*types.ListingFile, error) {
	listings, files, err := s.repo.ListBySeller(ctx, sellerID)
	if err != nil {
		return nil, nil, apierr.Internal(err)
	}
	return listings, files, nil
}

// UpdateListing applies patch to the listing owned by user, persists
// it, and (best-effort) publishes a ReIndexListing event. Cache
// invalidation is the caller's (read model's) responsibility.
func (s *Service) UpdateListing(ctx context.Context, user types.AuthenticatedUser, id string, patch types.ListingPatch, traceID string) (*types.Listing, error) {
	existing, _, err := s.repo.GetListing(ctx, id)
	if err != nil {
		return nil, listingdb.AsAPIErr(err)
	}
	if existing.Seller.ID != user.ID {
		return nil, apierr.Unauthorized("listing is not owned by the caller")
	}

	applyPatch(existing, patch)
	if err := validateUpdated(existing); err != nil {
		return nil, err
	}

	if err := s.repo.UpdateListing(ctx, existing); err != nil {
		return nil, apierr.Internal(fmt.Errorf("update listing: %w", err))
	}

	payload := fmt.Sprintf(`{"listingId":%q,"traceId":%q}`, existing.ID, traceID)
	if err := s.bus.Publish(context.Background(), s.cfg.Subjects.IndexListing, []byte(payload), "reindex."+existing.ID); err != nil {
		s.logger.Error().Err(err).Str("listing_id", existing.ID).Msg("failed to publish reindex event")
	}

	return existing, nil
}

// DeleteListing soft-deletes the listing if owned by user; a no-op
// otherwise (per spec, not an error).
func (s *Service) DeleteListing(ctx context.Context, user types.AuthenticatedUser, id string) error {
	if err := s.repo.SoftDelete(ctx, id, user.ID); err != nil {
		return apierr.Internal(fmt.Errorf("delete listing: %w", err))
	}
	return nil
}

// SetHidden sets or clears the admin HIDDEN state for a listing owned
// by user.
func (s *Service) SetHidden(ctx context.Context, user types.AuthenticatedUser, id string, hidden bool) error {
	state := types.ListingActive
	if hidden {
		state = types.ListingHidden
	}
	if err := s.repo.SetListingState(ctx, id, user.ID, state); err != nil {
		return listingdb.AsAPIErr(err)
	}
	return nil
}

// validationCompletePayload is published by the out-of-scope
// content-validation workers when a file finishes (or fails)
// validation.
type validationCompletePayload struct {
	FileID        string                `json:"fileId"`
	Status        string                `json:"status"` // VALID, INVALID, FAILED
	ErrorMessage  string                `json:"errorMessage"`
	GeneratedFile *generatedFilePayload `json:"generatedFile,omitempty"`
}

type generatedFilePayload struct {
	Path      string `json:"path"`
	Kind      string `json:"kind"`
	SizeBytes int64  `json:"sizeBytes"`
}

// StartValidationCompleteConsumer subscribes to the validation-complete
// subject and applies each file's outcome via MarkFileValidated /
// MarkFileInvalid, keeping the ACTIVE/REJECTED fan-in inside the core
// rather than depending on an external aggregator.
func (s *Service) StartValidationCompleteConsumer() (eventbus.Subscription, error) {
	return s.bus.Subscribe(s.cfg.Subjects.ValidationComplete, validationConsumerGroup, s.handleValidationComplete)
}

func (s *Service) handleValidationComplete(ctx context.Context, payload []byte) error {
	var msg validationCompletePayload
	if err := json.Unmarshal(payload, &msg); err != nil {
		s.logger.Warn().Err(err).Msg("validation-complete: poison payload, acking")
		return nil
	}

	switch types.FileState(msg.Status) {
	case types.FileStateValid:
		if msg.GeneratedFile != nil {
			if err := s.attachGeneratedFile(ctx, msg.FileID, *msg.GeneratedFile); err != nil {
				s.logger.Error().Err(err).Str("file_id", msg.FileID).Msg("failed to attach generated file, nacking")
				return err
			}
		}
		return s.applyFileOutcome(ctx, msg.FileID, types.FileStateValid, "")
	case types.FileStateInvalid, types.FileStateFailed:
		return s.applyFileOutcome(ctx, msg.FileID, types.FileState(msg.Status), msg.ErrorMessage)
	default:
		s.logger.Warn().Str("status", msg.Status).Msg("validation-complete: unknown status, acking")
		return nil
	}
}

// MarkFileValidated records fileID as VALID and recomputes the owning
// listing's lifecycle, publishing IndexListing on an ACTIVE transition.
func (s *Service) MarkFileValidated(ctx context.Context, fileID string) error {
	return s.applyFileOutcome(ctx, fileID, types.FileStateValid, "")
}

// MarkFileInvalid records fileID as INVALID with reason and recomputes
// the owning listing's lifecycle.
func (s *Service) MarkFileInvalid(ctx context.Context, fileID, reason string) error {
	return s.applyFileOutcome(ctx, fileID, types.FileStateInvalid, reason)
}

func (s *Service) applyFileOutcome(ctx context.Context, fileID string, state types.FileState, reason string) error {
	newState, listingID, err := s.repo.UpdateFileState(ctx, fileID, state, reason)
	if err != nil {
		return fmt.Errorf("listing: apply file outcome: %w", err)
	}
	if newState == types.ListingActive {
		payload := fmt.Sprintf(`{"listingId":%q}`, listingID)
		if err := s.bus.Publish(context.Background(), s.cfg.Subjects.IndexListing, []byte(payload), "activate."+listingID); err != nil {
			s.logger.Error().Err(err).Str("listing_id", listingID).Msg("failed to publish index event on activation")
		}
	}
	return nil
}

func (s *Service) attachGeneratedFile(ctx context.Context, sourceFileID string, gf generatedFilePayload) error {
	listingID, err := s.repo.ListingIDForFile(ctx, sourceFileID)
	if err != nil {
		return fmt.Errorf("listing: attach generated file: %w", err)
	}

	now := time.Now().UTC()
	sourceID := sourceFileID
	f := &types.ListingFile{
		ID:           uuid.NewString(),
		ListingID:    listingID,
		Path:         gf.Path,
		Kind:         types.FileKind(strings.ToUpper(gf.Kind)),
		SizeBytes:    gf.SizeBytes,
		State:        types.FileStateValid,
		IsGenerated:  true,
		SourceFileID: &sourceID,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	return s.repo.AttachGeneratedFile(ctx, f)
}

// RepublishPendingValidation re-publishes StartFileValidation for every
// file still PENDING after grace, covering the gap where a post-commit
// publish in CreateListing was lost. Returns the count republished.
func (s *Service) RepublishPendingValidation(ctx context.Context, grace time.Duration) (int, error) {
	cutoff := time.Now().UTC().Add(-grace)
	files, err := s.repo.PendingFilesOlderThan(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("listing: republish pending validation: %w", err)
	}
	for _, f := range files {
		subject := s.cfg.Subjects.ModelValidationStart
		if f.Kind == types.FileKindImage {
			subject = s.cfg.Subjects.ImageValidationStart
		}
		payload := fmt.Sprintf(`{"listingId":%q,"fileId":%q,"fileKey":%q,"fileType":%q}`,
			f.ListingID, f.ID, f.Path, strings.ToLower(string(f.Kind)))
		msgID := fmt.Sprintf("sweep.%s.%s", f.ListingID, f.ID)
		if err := s.bus.Publish(ctx, subject, []byte(payload), msgID); err != nil {
			s.logger.Error().Err(err).Str("file_id", f.ID).Msg("sweeper: failed to republish start-validation event")
		}
	}
	return len(files), nil
}

func applyPatch(l *types.Listing, p types.ListingPatch) {
	if p.Title != nil {
		l.Title = *p.Title
	}
	if p.Description != nil {
		l.Description = *p.Description
	}
	if p.Categories != nil {
		l.Categories = p.Categories
	}
	if p.License != nil {
		l.License = *p.License
	}
	if p.PriceMinorUnits != nil {
		l.Price.AmountMinorUnits = *p.PriceMinorUnits
	}
	if p.Currency != nil {
		l.Price.Currency = types.Currency(strings.ToLower(*p.Currency))
	}
	if p.IsFree != nil {
		l.Price.IsFree = *p.IsFree
	}
	if p.IsNSFW != nil {
		l.IsNSFW = *p.IsNSFW
	}
	if p.IsAIGenerated != nil {
		l.AI.IsAIGenerated = *p.IsAIGenerated
	}
	if p.AIModelName != nil {
		l.AI.ModelName = *p.AIModelName
	}
	if p.AllowsRemixing != nil {
		l.AllowsRemixing = *p.AllowsRemixing
	}
}

func validateNewListing(req types.NewListingInput, userID string) error {
	if err := validateEditorial(req.Title, req.Description, req.Categories, req.License); err != nil {
		return err
	}
	if err := validatePricing(req.PriceMinorUnits, req.Currency); err != nil {
		return err
	}
	if err := validateTechSpecs(req.Dimensions, req.NozzleTempC, req.RecommendedMaterials, req.HardwareItems); err != nil {
		return err
	}
	if req.IsAIGenerated && strings.TrimSpace(req.AIModelName) == "" {
		return apierr.Invalid("aiModelName is required when isAIGenerated is true")
	}

	hasModel, hasImage := false, false
	for _, f := range req.Files {
		if strings.TrimSpace(f.Path) == "" {
			return apierr.Invalid("file path must not be empty")
		}
		if f.Size <= 0 {
			return apierr.Invalid("file size must be positive")
		}
		kind := strings.ToUpper(f.Kind)
		if kind != string(types.FileKindModel) && kind != string(types.FileKindImage) {
			return apierr.Invalid("unknown file kind %q", f.Kind)
		}
		owner, ok := ownerFromPath(f.Path)
		if !ok || owner != userID {
			return apierr.Invalid("file path %q is not owned by the caller", f.Path)
		}
		if kind == string(types.FileKindModel) {
			hasModel = true
		} else {
			hasImage = true
		}
	}
	if !hasModel || !hasImage {
		return apierr.Invalid("a listing requires at least one model file and one image file")
	}
	if len(req.Files) == 0 {
		return apierr.Invalid("a listing requires at least one file")
	}
	return nil
}

// validateUpdated re-runs the create-time validators that remain
// meaningful against the merged, in-memory listing.
func validateUpdated(l *types.Listing) error {
	if err := validateEditorial(l.Title, l.Description, l.Categories, l.License); err != nil {
		return err
	}
	if err := validatePricing(l.Price.AmountMinorUnits, string(l.Price.Currency)); err != nil {
		return err
	}
	if l.AI.IsAIGenerated && strings.TrimSpace(l.AI.ModelName) == "" {
		return apierr.Invalid("aiModelName is required when isAIGenerated is true")
	}
	return nil
}

func validateEditorial(title, description string, categories []string, license string) error {
	if n := len(title); n < titleMinLen || n > titleMaxLen {
		return apierr.Invalid("title must be between %d and %d characters", titleMinLen, titleMaxLen)
	}
	if n := len(description); n < descMinLen || n > descMaxLen {
		return apierr.Invalid("description must be between %d and %d characters", descMinLen, descMaxLen)
	}
	if len(categories) == 0 {
		return apierr.Invalid("at least one category is required")
	}
	if strings.TrimSpace(license) == "" {
		return apierr.Invalid("license is required")
	}
	return nil
}

func validatePricing(amountMinorUnits int64, currency string) error {
	if amountMinorUnits < 0 {
		return apierr.Invalid("price must be non-negative")
	}
	if amountMinorUnits > 0 {
		switch types.Currency(strings.ToLower(currency)) {
		case types.CurrencyUSD, types.CurrencyGBP:
		default:
			return apierr.Invalid("currency must be usd or gbp when price is greater than zero")
		}
	}
	return nil
}

func validateTechSpecs(dims *types.Dimensions, nozzleTempC *float64, materials, hardware []string) error {
	if dims != nil {
		if dims.X < 0 || dims.Y < 0 || dims.Z < 0 {
			return apierr.Invalid("dimensions must be non-negative")
		}
	}
	if nozzleTempC != nil {
		if *nozzleTempC < nozzleTempMinC || *nozzleTempC > nozzleTempMaxC {
			return apierr.Invalid("nozzle temperature must be between %.0f and %.0f degrees C", nozzleTempMinC, nozzleTempMaxC)
		}
	}
	for _, m := range materials {
		if strings.TrimSpace(m) == "" {
			return apierr.Invalid("recommended materials must not contain empty entries")
		}
	}
	for _, h := range hardware {
		if strings.TrimSpace(h) == "" {
			return apierr.Invalid("hardware items must not contain empty entries")
		}
	}
	return nil
}

// ownerFromPath extracts segment index 3 (0-indexed YYYY/MM/DD/userId/...)
// of an object-store path.
func ownerFromPath(path string) (string, bool) {
	segments := strings.Split(path, "/")
	if len(segments) <= 3 {
		return "", false
	}
	return segments[3], true
}

