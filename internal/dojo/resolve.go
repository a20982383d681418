package dojo

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/nelssec/scanbridge/internal/logger"
)

const (
	DefaultProductType    = 1
	DefaultEngagementType = "Interactive"
	EngagementInProgress  = "In Progress"
	dateLayout            = "2006-01-02"
)

// Catalog is the product/engagement surface of the platform.
type Catalog interface {
	ListProducts(ctx context.Context, name string) ([]Product, error)
	CreateProduct(ctx context.Context, p Product) (*Product, error)
	ListEngagements(ctx context.Context, productID int, name string) ([]Engagement, error)
	CreateEngagement(ctx context.Context, e Engagement) (*Engagement, error)
}

// Resolver maps product and engagement names to platform ids, creating the
// records when they do not exist yet.
type Resolver struct {
	api Catalog
	now func() time.Time
	log zerolog.Logger
}

func NewResolver(api Catalog) *Resolver {
	return &Resolver{
		api: api,
		now: time.Now,
		log: logger.Get().With().Str("component", "resolver").Logger(),
	}
}

// GetOrCreateProduct returns the id of the product called name. If the
// create call is rejected, typically because a concurrent run created the
// same product first, the lookup is retried once and an existing match wins.
func (r *Resolver) GetOrCreateProduct(ctx context.Context, name string) (int, error) {
	if p, err := r.findProduct(ctx, name); err != nil {
		return 0, err
	} else if p != nil {
		r.log.Info().Str("product", name).Int("id", p.ID).Msg("Found existing product")
		return p.ID, nil
	}

	created, err := r.api.CreateProduct(ctx, Product{
		Name:        name,
		Description: fmt.Sprintf("Automatically created for Nessus import on %s", r.now().Format(dateLayout)),
		ProdType:    DefaultProductType,
	})
	if err != nil {
		if p, ferr := r.findProduct(ctx, name); ferr == nil && p != nil {
			r.log.Info().Str("product", name).Int("id", p.ID).Msg("Product created concurrently, using existing")
			return p.ID, nil
		}
		return 0, fmt.Errorf("error creating product %q: %w", name, err)
	}

	r.log.Info().Str("product", name).Int("id", created.ID).Msg("Created new product")
	return created.ID, nil
}

// GetOrCreateEngagement does for engagements, scoped to productID, what
// GetOrCreateProduct does for products.
func (r *Resolver) GetOrCreateEngagement(ctx context.Context, productID int, name string) (int, error) {
	if e, err := r.findEngagement(ctx, productID, name); err != nil {
		return 0, err
	} else if e != nil {
		r.log.Info().Str("engagement", name).Int("id", e.ID).Msg("Found existing engagement")
		return e.ID, nil
	}

	today := r.now().Format(dateLayout)
	created, err := r.api.CreateEngagement(ctx, Engagement{
		Name:           name,
		ProductID:      productID,
		TargetStart:    today,
		TargetEnd:      today,
		Status:         EngagementInProgress,
		EngagementType: DefaultEngagementType,
	})
	if err != nil {
		if e, ferr := r.findEngagement(ctx, productID, name); ferr == nil && e != nil {
			r.log.Info().Str("engagement", name).Int("id", e.ID).Msg("Engagement created concurrently, using existing")
			return e.ID, nil
		}
		return 0, fmt.Errorf("error creating engagement %q: %w", name, err)
	}

	r.log.Info().Str("engagement", name).Int("id", created.ID).Msg("Created new engagement")
	return created.ID, nil
}

// The server-side name filter is a convenience; exact equality is still
// checked here.
func (r *Resolver) findProduct(ctx context.Context, name string) (*Product, error) {
	products, err := r.api.ListProducts(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("error getting products: %w", err)
	}
	for i := range products {
		if products[i].Name == name {
			return &products[i], nil
		}
	}
	return nil, nil
}

func (r *Resolver) findEngagement(ctx context.Context, productID int, name string) (*Engagement, error) {
	engagements, err := r.api.ListEngagements(ctx, productID, name)
	if err != nil {
		return nil, fmt.Errorf("error getting engagements: %w", err)
	}
	for i := range engagements {
		if engagements[i].Name == name && (engagements[i].ProductID == 0 || engagements[i].ProductID == productID) {
			return &engagements[i], nil
		}
	}
	return nil, nil
}
