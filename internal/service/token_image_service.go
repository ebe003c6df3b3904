package service

import (
	"context"
	"errors"
	"strings"

	"github.com/jukezispilled/lockd/internal/apperr"
	"github.com/jukezispilled/lockd/internal/domain"
	"github.com/jukezispilled/lockd/internal/metrics"
	"github.com/jukezispilled/lockd/internal/solana"
	"go.uber.org/zap"
)

// ImageTier is one cache level. A key present with a nil value is a cached
// "this mint has no image".
type ImageTier interface {
	GetMany(ctx context.Context, mints []string) (map[string]*string, error)
	SetMany(ctx context.Context, images map[string]*string) error
}

type ImageOracle interface {
	AssetImages(ctx context.Context, mints []string) (map[string]*string, error)
	TokenMetadata(ctx context.Context, mint string) (*domain.TokenMetadata, error)
}

type TokenImageService struct {
	hot      ImageTier // optional
	store    ImageTier
	oracle   ImageOracle
	maxBatch int
	log      *zap.SugaredLogger
}

func NewTokenImageService(hot, store ImageTier, oracle ImageOracle, maxBatch int, log *zap.SugaredLogger) *TokenImageService {
	return &TokenImageService{hot: hot, store: store, oracle: oracle, maxBatch: maxBatch, log: log}
}

// NormalizeMints trims, drops blanks and dedupes while keeping first-seen order.
func NormalizeMints(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, m := range in {
		m = strings.TrimSpace(m)
		if m == "" {
			continue
		}
		if _, ok := seen[m]; ok {
			continue
		}
		seen[m] = struct{}{}
		out = append(out, m)
	}
	return out
}

// Resolve maps every requested mint to its image URL or nil. It only fails
// on bad input; lookup failures degrade to nil per mint.
func (s *TokenImageService) Resolve(ctx context.Context, mints []string) (map[string]*string, error) {
	mints = NormalizeMints(mints)
	if len(mints) == 0 {
		return nil, apperr.Validation("mint address(es) cannot be empty")
	}
	if s.maxBatch > 0 && len(mints) > s.maxBatch {
		return nil, apperr.Validation("too many mint addresses")
	}

	out := make(map[string]*string, len(mints))
	missing := mints

	if s.hot != nil {
		missing = s.fromTier(ctx, s.hot, "redis", missing, out)
	}
	if len(missing) > 0 && s.store != nil {
		before := missing
		missing = s.fromTier(ctx, s.store, "mongo", missing, out)
		if s.hot != nil {
			s.backfill(ctx, s.hot, pick(out, before, missing))
		}
	}
	if len(missing) == 0 {
		return out, nil
	}

	fetched, err := s.oracle.AssetImages(ctx, missing)
	if err != nil {
		s.log.Warnw("asset lookup failed", "count", len(missing), "error", err)
		fetched = nil
	}
	found := make(map[string]*string, len(fetched))
	for _, m := range missing {
		url, ok := fetched[m]
		out[m] = url
		if ok {
			found[m] = url
			metrics.ImageLookups.WithLabelValues("oracle").Inc()
		} else {
			metrics.ImageLookups.WithLabelValues("miss").Inc()
		}
	}
	if s.store != nil {
		s.backfill(ctx, s.store, found)
	}
	if s.hot != nil {
		s.backfill(ctx, s.hot, found)
	}
	return out, nil
}

func (s *TokenImageService) fromTier(ctx context.Context, tier ImageTier, name string, mints []string, out map[string]*string) []string {
	got, err := tier.GetMany(ctx, mints)
	if err != nil {
		s.log.Warnw("image cache read failed", "tier", name, "error", err)
		return mints
	}
	rest := mints[:0:0]
	for _, m := range mints {
		if url, ok := got[m]; ok {
			out[m] = url
			metrics.ImageLookups.WithLabelValues(name).Inc()
			continue
		}
		rest = append(rest, m)
	}
	return rest
}

func (s *TokenImageService) backfill(ctx context.Context, tier ImageTier, images map[string]*string) {
	if len(images) == 0 {
		return
	}
	if err := tier.SetMany(ctx, images); err != nil {
		s.log.Warnw("image cache write failed", "count", len(images), "error", err)
	}
}

// pick returns the entries of out for mints in all but not in skip.
func pick(out map[string]*string, all, skip []string) map[string]*string {
	miss := make(map[string]struct{}, len(skip))
	for _, m := range skip {
		miss[m] = struct{}{}
	}
	res := make(map[string]*string)
	for _, m := range all {
		if _, ok := miss[m]; !ok {
			res[m] = out[m]
		}
	}
	return res
}

func (s *TokenImageService) Metadata(ctx context.Context, mint string) (*domain.TokenMetadata, error) {
	mint = strings.TrimSpace(mint)
	if mint == "" {
		return nil, apperr.Validation("mint address is required")
	}
	md, err := s.oracle.TokenMetadata(ctx, mint)
	if err != nil {
		if errors.Is(err, solana.ErrAssetNotFound) {
			return nil, apperr.NotFound("token not found")
		}
		return nil, apperr.Oracle("failed to fetch token metadata", err)
	}
	return md, nil
}
