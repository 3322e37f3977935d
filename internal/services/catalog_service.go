package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"posterBack/internal/models"
)

// CatalogService loads the purchasable package snapshot. The snapshot is
// read-only; selection state belongs to the purchase session, not here.
// Redis is a read-through cache and strictly optional: a nil client or a
// cache failure falls back to the commerce backend.
type CatalogService struct {
	Commerce *CommerceService
	Cache    *redis.Client
	TTL      time.Duration
	Logger   *slog.Logger
}

const defaultCatalogTTL = 5 * time.Minute

// LoadPackages returns the grouped offer for a catalog context. An empty
// result means "no offer" and must not be retried automatically.
func (s *CatalogService) LoadPackages(ctx context.Context, contextID string) ([]models.PackageGroup, error) {
	if groups, ok := s.fromCache(ctx, contextID); ok {
		return groups, nil
	}

	groups, err := s.Commerce.ListPackages(ctx, contextID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrCatalogUnavailable, err)
	}
	s.toCache(ctx, contextID, groups)
	return groups, nil
}

// FindPackage resolves a SKU id against a loaded snapshot.
func FindPackage(groups []models.PackageGroup, skuID string) (models.Package, error) {
	for _, g := range groups {
		for _, p := range g.Packages {
			if p.ID == skuID {
				return p, nil
			}
		}
	}
	return models.Package{}, models.ErrPackageNotFound
}

func (s *CatalogService) fromCache(ctx context.Context, contextID string) ([]models.PackageGroup, bool) {
	if s.Cache == nil {
		return nil, false
	}
	data, err := s.Cache.Get(ctx, catalogKey(contextID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false
	}
	if err != nil {
		s.log().Warn("catalog cache get failed", "err", err)
		return nil, false
	}
	var groups []models.PackageGroup
	if err := json.Unmarshal(data, &groups); err != nil {
		s.log().Warn("catalog cache decode failed", "err", err)
		return nil, false
	}
	return groups, true
}

func (s *CatalogService) toCache(ctx context.Context, contextID string, groups []models.PackageGroup) {
	if s.Cache == nil {
		return
	}
	data, err := json.Marshal(groups)
	if err != nil {
		return
	}
	ttl := s.TTL
	if ttl <= 0 {
		ttl = defaultCatalogTTL
	}
	if err := s.Cache.Set(ctx, catalogKey(contextID), data, ttl).Err(); err != nil {
		s.log().Warn("catalog cache set failed", "err", err)
	}
}

func (s *CatalogService) log() *slog.Logger {
	if s.Logger != nil {
		return s.Logger
	}
	return slog.Default()
}

func catalogKey(contextID string) string {
	return fmt.Sprintf("vip:catalog:%s", contextID)
}
