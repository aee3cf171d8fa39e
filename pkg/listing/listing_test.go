package listing

import (
	"strings"
	"testing"

	"github.com/meshforge/listings/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validInput(userID string) types.NewListingInput {
	return types.NewListingInput{
		Title:       "Articulated Dragon",
		Description: strings.Repeat("a fully articulated print ", 2),
		Categories:  []string{"toys"},
		License:     "CC-BY-4.0",

		PriceMinorUnits: 0,
		Currency:        "usd",
		IsFree:          true,

		Files: []types.NewListingFileInput{
			{Kind: "model", Path: "2026/03/05/" + userID + "/draft-1/models/abc.stl", Size: 1024},
			{Kind: "image", Path: "2026/03/05/" + userID + "/draft-1/images/abc.jpg", Size: 2048},
		},
	}
}

func TestValidateNewListingAccepts(t *testing.T) {
	err := validateNewListing(validInput("user-1"), "user-1")
	assert.NoError(t, err)
}

func TestValidateNewListingRejectsShortTitle(t *testing.T) {
	req := validInput("user-1")
	req.Title = "hi"
	assert.Error(t, validateNewListing(req, "user-1"))
}

func TestValidateNewListingRejectsEmptyCategories(t *testing.T) {
	req := validInput("user-1")
	req.Categories = nil
	assert.Error(t, validateNewListing(req, "user-1"))
}

func TestValidateNewListingRejectsEmptyLicense(t *testing.T) {
	req := validInput("user-1")
	req.License = "  "
	assert.Error(t, validateNewListing(req, "user-1"))
}

func TestValidateNewListingRejectsPaidListingWithoutCurrencyGate(t *testing.T) {
	req := validInput("user-1")
	req.IsFree = false
	req.PriceMinorUnits = 500
	req.Currency = "eur"
	assert.Error(t, validateNewListing(req, "user-1"))
}

func TestValidateNewListingRejectsMissingCurrencyEvenWhenMarkedFree(t *testing.T) {
	req := validInput("user-1")
	req.IsFree = true
	req.PriceMinorUnits = 500
	req.Currency = ""
	assert.Error(t, validateNewListing(req, "user-1"), "isFree must not bypass the currency gate when a price is set")
}

func TestValidateNewListingAllowsPaidListingInUSD(t *testing.T) {
	req := validInput("user-1")
	req.IsFree = false
	req.PriceMinorUnits = 500
	req.Currency = "USD"
	assert.NoError(t, validateNewListing(req, "user-1"))
}

func TestValidateNewListingRejectsNegativeDimensions(t *testing.T) {
	req := validInput("user-1")
	req.Dimensions = &types.Dimensions{X: -1, Y: 10, Z: 10}
	assert.Error(t, validateNewListing(req, "user-1"))
}

func TestValidateNewListingRejectsOutOfRangeNozzleTemp(t *testing.T) {
	req := validInput("user-1")
	temp := 1000.0
	req.NozzleTempC = &temp
	assert.Error(t, validateNewListing(req, "user-1"))
}

func TestValidateNewListingRequiresAIModelNameWhenAIGenerated(t *testing.T) {
	req := validInput("user-1")
	req.IsAIGenerated = true
	req.AIModelName = ""
	assert.Error(t, validateNewListing(req, "user-1"))

	req.AIModelName = "midjourney-v6"
	assert.NoError(t, validateNewListing(req, "user-1"))
}

func TestValidateNewListingRejectsFileNotOwnedByCaller(t *testing.T) {
	req := validInput("user-1")
	req.Files[0].Path = "2026/03/05/someone-else/draft-1/models/abc.stl"
	assert.Error(t, validateNewListing(req, "user-1"))
}

func TestValidateNewListingRequiresBothModelAndImage(t *testing.T) {
	req := validInput("user-1")
	req.Files = req.Files[:1]
	assert.Error(t, validateNewListing(req, "user-1"))
}

func TestValidateNewListingRejectsUnknownFileKind(t *testing.T) {
	req := validInput("user-1")
	req.Files[0].Kind = "video"
	assert.Error(t, validateNewListing(req, "user-1"))
}

func TestOwnerFromPath(t *testing.T) {
	owner, ok := ownerFromPath("2026/03/05/user-42/draft-1/models/abc.stl")
	require.True(t, ok)
	assert.Equal(t, "user-42", owner)

	_, ok = ownerFromPath("too/short")
	assert.False(t, ok)
}

func TestApplyPatchOnlyTouchesSetFields(t *testing.T) {
	l := &types.Listing{Title: "Old Title", Description: "Old description", Price: types.Price{AmountMinorUnits: 100}}
	newTitle := "New Title"
	applyPatch(l, types.ListingPatch{Title: &newTitle})

	assert.Equal(t, "New Title", l.Title)
	assert.Equal(t, "Old description", l.Description)
	assert.Equal(t, int64(100), l.Price.AmountMinorUnits)
}
