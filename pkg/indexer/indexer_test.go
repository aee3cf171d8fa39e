package indexer

import (
	"testing"
	"time"

	"github.com/meshforge/listings/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestComposeMapsCoreFields(t *testing.T) {
	w := &Worker{cfg: Config{PublicBaseURL: "https://cdn.example.test"}}

	now := time.Now().UTC()
	parent := "parent-1"
	l := &types.Listing{
		ID:            "listing-1",
		Title:         "Dragon",
		Description:   "A dragon",
		ThumbnailPath: "images/dragon.jpg",
		Categories:    []string{"toys"},
		License:       "CC-BY-4.0",
		Dimensions:    &types.Dimensions{X: 1, Y: 2, Z: 3},
		Seller:        types.Seller{ID: "seller-1", DisplayName: "Ann", Username: "ann", Verified: true},
		Price:         types.Price{AmountMinorUnits: 500, Currency: types.CurrencyUSD},
		State:         types.ListingActive,
		ParentListingID: &parent,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	doc := w.compose(l)

	assert.Equal(t, "listing-1", doc.ID)
	assert.Equal(t, "https://cdn.example.test/images/dragon.jpg", doc.ThumbnailURL)
	assert.Equal(t, "seller-1", doc.SellerID)
	assert.Equal(t, "parent-1", doc.ParentListingID)
	require.NotNil(t, doc.DimXMM)
	assert.Equal(t, 1.0, *doc.DimXMM)
	assert.Equal(t, int64(500), doc.PriceMinorUnits)
	assert.Equal(t, "usd", doc.Currency)
}

func TestComposeOmitsSaleWhenNotOnSale(t *testing.T) {
	w := &Worker{cfg: Config{PublicBaseURL: "https://cdn.example.test"}}
	now := time.Now().UTC()
	l := &types.Listing{ID: "listing-1", CreatedAt: now, UpdatedAt: now}

	doc := w.compose(l)
	assert.Nil(t, doc.SaleDiscountPercent)
	assert.Nil(t, doc.SalePriceMinor)
}

func TestComposeIncludesSaleWhenPresent(t *testing.T) {
	w := &Worker{cfg: Config{PublicBaseURL: "https://cdn.example.test"}}
	now := time.Now().UTC()
	l := &types.Listing{
		ID:        "listing-1",
		CreatedAt: now,
		UpdatedAt: now,
		Sale:      &types.Sale{DiscountPercent: 20, SalePriceMinor: 400, SaleEndsAt: now.Add(24 * time.Hour)},
	}

	doc := w.compose(l)
	require.NotNil(t, doc.SaleDiscountPercent)
	assert.Equal(t, 20, *doc.SaleDiscountPercent)
	require.NotNil(t, doc.SalePriceMinor)
	assert.Equal(t, int64(400), *doc.SalePriceMinor)
}

func TestUUIDPattern(t *testing.T) {
	assert.True(t, uuidPattern.MatchString("3fa85f64-5717-4562-b3fc-2c963f66afa6"))
	assert.False(t, uuidPattern.MatchString("not-a-uuid"))
	assert.False(t, uuidPattern.MatchString(""))
}
