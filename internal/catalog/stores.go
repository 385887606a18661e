package catalog

import (
	"context"

	"catalogwatch/internal/storage"
	"catalogwatch/pkg/types"
)

// ProductStore is the read surface over tracked products that the strategy
// matchers query. A nil record with a nil error means no match.
type ProductStore interface {
	ProductByURL(ctx context.Context, rawURL string) (*types.ProductRecord, error)
	ProductByNormalizedURL(ctx context.Context, retailer, normURL string) (*types.ProductRecord, error)
	ProductByCode(ctx context.Context, retailer, code string) (*types.ProductRecord, error)
	ProductByTitlePrice(ctx context.Context, retailer, titleFold string, price float64) (*types.ProductRecord, error)
	CandidateProducts(ctx context.Context, retailer string, priceLow, priceHigh float64, limit int) ([]types.ProductRecord, error)
	ProductsWithImages(ctx context.Context, retailer string, priceLow, priceHigh float64, limit int) ([]types.ProductRecord, error)
}

// BaselineStore reads and appends the historical snapshot log.
type BaselineStore interface {
	InsertBaseline(ctx context.Context, row types.BaselineEntry) error
	BaselineByURL(ctx context.Context, retailer, rawURL string) (*types.BaselineEntry, error)
	BaselineByNormalizedURL(ctx context.Context, retailer, normURL string) (*types.BaselineEntry, error)
	BaselineByCode(ctx context.Context, retailer, code string) (*types.BaselineEntry, error)
}

// ProfileStore reads and recomputes learned retailer behaviour.
type ProfileStore interface {
	Profile(ctx context.Context, retailer string) (types.RetailerProfile, error)
	UpsertProfile(ctx context.Context, profile types.RetailerProfile) error
	RecordLinkObservations(ctx context.Context, observations []types.LinkObservation) error
	RecentLinkStats(ctx context.Context, retailer string, limit int) (storage.LinkStats, error)
}

// PriceQueue appends detected price changes for the update workflow.
type PriceQueue interface {
	EnqueuePriceChanges(ctx context.Context, records []types.PriceChangeRecord) error
}

// Stores bundles every persistence surface the engine needs. *storage.Store
// satisfies it.
type Stores interface {
	ProductStore
	BaselineStore
	ProfileStore
	PriceQueue
}
