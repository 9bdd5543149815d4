// Package downloads releases signed asset URLs to callers whose paid
// orders entitle them to the product.
package downloads

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"storefront-service/internal/apperr"
	"storefront-service/internal/catalog"
	"storefront-service/internal/orders"
	"storefront-service/internal/storage"
	"storefront-service/pkg/ctxmanage"
	"storefront-service/pkg/logkey"
)

type Ledger interface {
	CheckEntitlement(ctx context.Context, userID, productID string, scope orders.EntitlementScope) (orders.Entitlement, error)
}

type Catalog interface {
	GetProductByID(ctx context.Context, id string) (catalog.Product, error)
}

type Options struct {
	Scope   orders.EntitlementScope
	TTL     time.Duration
	Timeout time.Duration
}

type Releaser struct {
	ledger  Ledger
	catalog Catalog
	signer  storage.Signer
	opts    Options
}

func NewReleaser(l Ledger, c Catalog, s storage.Signer, opts Options) *Releaser {
	if opts.Scope == "" {
		opts.Scope = orders.EntitlementLatest
	}
	if opts.TTL <= 0 {
		opts.TTL = 300 * time.Second
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	return &Releaser{ledger: l, catalog: c, signer: s, opts: opts}
}

// Release returns a fresh signed URL for the full asset of productID.
// Entitlement is read from the ledger on every call, so a refund takes
// effect on the next request. Nothing is written.
func (r *Releaser) Release(ctx context.Context, userID, productID string) (string, error) {
	traceId := ctxmanage.GetTraceId(ctx)
	if productID == "" {
		return "", apperr.E(apperr.InvalidRequest, "Missing productId")
	}

	ent, err := r.ledger.CheckEntitlement(ctx, userID, productID, r.opts.Scope)
	if err != nil {
		slog.Error("failed to check entitlement", slog.String(logkey.TraceID, traceId), slog.String(logkey.ERROR, err.Error()))
		return "", apperr.Wrap(apperr.Internal, "Unable to verify payment", err)
	}
	if !ent.HasPaidOrder {
		return "", apperr.E(apperr.Forbidden, "Payment not confirmed")
	}
	if !ent.Entitled {
		return "", apperr.E(apperr.Forbidden, "No paid order for this product")
	}

	product, err := r.catalog.GetProductByID(ctx, productID)
	if err != nil {
		if errors.Is(err, catalog.ErrProductNotFound) {
			return "", apperr.E(apperr.NotFound, "File not available")
		}
		return "", apperr.Wrap(apperr.Internal, "Unable to load product", err)
	}
	if product.FullImagePath == "" {
		return "", apperr.E(apperr.NotFound, "File not available")
	}

	ctx, cancel := context.WithTimeout(ctx, r.opts.Timeout)
	defer cancel()
	url, err := r.signer.SignURL(ctx, product.FullImagePath, r.opts.TTL)
	if err != nil {
		slog.Error("failed to sign asset url", slog.String(logkey.TraceID, traceId),
			slog.String(logkey.ProductID, productID), slog.String(logkey.ERROR, err.Error()))
		return "", apperr.Wrap(apperr.Internal, "Unable to create signed URL", err)
	}

	slog.Info("download released", slog.String(logkey.TraceID, traceId), slog.String(logkey.UserID, userID),
		slog.String(logkey.ProductID, productID), slog.String(logkey.OrderID, ent.OrderID))
	return url, nil
}
