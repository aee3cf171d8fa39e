// Package types defines the core domain model shared across the
// gateway and indexer processes: listings, their files, the
// authenticated caller, and the small value types layered on top of
// them.
package types

import "time"

// ListingState is the lifecycle state of a Listing.
type ListingState string

const (
	ListingPendingValidation ListingState = "PENDING_VALIDATION"
	ListingActive            ListingState = "ACTIVE"
	ListingRejected          ListingState = "REJECTED"
	ListingHidden            ListingState = "HIDDEN"
)

// FileKind distinguishes the two kinds of listing files.
type FileKind string

const (
	FileKindModel FileKind = "MODEL"
	FileKindImage FileKind = "IMAGE"
)

// FileState is the lifecycle state of a ListingFile.
type FileState string

const (
	FileStatePending FileState = "PENDING"
	FileStateValid   FileState = "VALID"
	FileStateInvalid FileState = "INVALID"
	FileStateFailed  FileState = "FAILED"
)

// Currency is one of the two currencies priced listings may use.
type Currency string

const (
	CurrencyUSD Currency = "usd"
	CurrencyGBP Currency = "gbp"
)

// Seller is the denormalized seller identity carried on a listing.
type Seller struct {
	ID          string
	DisplayName string
	Username    string
	Verified    bool
}

// Dimensions is the physical bounding box of a printable model, in
// millimetres.
type Dimensions struct {
	X float64
	Y float64
	Z float64
}

// Price is the listing's commerce metadata. AmountMinorUnits is in the
// smallest unit of Currency (cents/pence).
type Price struct {
	AmountMinorUnits int64
	Currency         Currency
	IsFree           bool
}

// Sale is optional active-sale metadata layered on top of Price.
type Sale struct {
	DiscountPercent  int
	SalePriceMinor   int64
	SaleEndsAt       time.Time
}

// SocialCounters are the denormalized engagement counters populated by
// out-of-scope collaborators and passed through into search documents.
type SocialCounters struct {
	Likes     int64
	Downloads int64
	Comments  int64
}

// AIDisclosure captures the listing's AI-generation disclosure.
type AIDisclosure struct {
	IsAIGenerated bool
	ModelName     string
}

// Listing is the sellable unit of the marketplace.
type Listing struct {
	ID     string
	Seller Seller

	Title         string
	Description   string
	Categories    []string
	License       string
	ThumbnailPath string

	Price Price
	Sale  *Sale

	IsPhysical           bool
	Dimensions           *Dimensions
	TotalWeightGrams     *float64
	NozzleTempC          *float64
	RecommendedMaterials []string
	IsMulticolor         bool
	RequiresAssembly     bool
	HardwareItems        []string

	AllowsRemixing   bool
	ParentListingID  *string

	IsNSFW bool
	AI     AIDisclosure

	Social SocialCounters

	State ListingState

	CreatedAt     time.Time
	UpdatedAt     time.Time
	LastIndexedAt *time.Time
	DeletedAt     *time.Time

	TraceID         string
	AuthorizedParty string
}

// ListingFile is a single uploaded or generated file attached to a
// Listing.
type ListingFile struct {
	ID           string
	ListingID    string
	Path         string
	Kind         FileKind
	SizeBytes    int64
	Metadata     FileMetadata
	State        FileState
	ErrorMessage string
	IsGenerated  bool
	SourceFileID *string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// FileMetadata is a tagged variant: only the field matching Kind is
// meaningful. Unmarshal failures of the underlying JSONB column must
// never crash a handler, so the column is only decoded through
// listingdb's decodeFileMetadata, which returns an error instead.
type FileMetadata struct {
	Model *ModelFileMetadata
	Image *ImageFileMetadata
}

// ModelFileMetadata is metadata specific to MODEL files.
type ModelFileMetadata struct {
	Format       string // "stl", "3mf", "obj"
	TriangleCount int64
}

// ImageFileMetadata is metadata specific to IMAGE files.
type ImageFileMetadata struct {
	WidthPx  int
	HeightPx int
}

// NewListingInput is the request payload for creating a listing.
type NewListingInput struct {
	Title       string
	Description string
	Categories  []string
	License     string

	PriceMinorUnits int64
	Currency        string
	IsFree          bool

	IsPhysical           bool
	Dimensions           *Dimensions
	TotalWeightGrams     *float64
	NozzleTempC          *float64
	RecommendedMaterials []string
	IsMulticolor         bool
	RequiresAssembly     bool
	HardwareItems        []string

	AllowsRemixing  bool
	ParentListingID *string

	IsNSFW        bool
	IsAIGenerated bool
	AIModelName   string

	Files []NewListingFileInput
}

// NewListingFileInput is one file entry within a NewListingInput.
type NewListingFileInput struct {
	Kind string
	Path string
	Size int64
}

// ListingPatch is the partial-update payload for UpdateListing; a nil
// field means "leave unchanged".
type ListingPatch struct {
	Title       *string
	Description *string
	Categories  []string
	License     *string

	PriceMinorUnits *int64
	Currency        *string
	IsFree          *bool

	IsNSFW        *bool
	IsAIGenerated *bool
	AIModelName   *string

	AllowsRemixing *bool
}

// AuthenticatedUser is the caller identity derived from a verified
// bearer token, per the claims mapping in the external interface spec.
type AuthenticatedUser struct {
	ID              string
	Username        string
	Email           string
	AuthorizedParty string
	Roles           []string
}

// HasRole reports whether the user carries the given realm role.
func (u AuthenticatedUser) HasRole(role string) bool {
	for _, r := range u.Roles {
		if r == role {
			return true
		}
	}
	return false
}
