package uploads

import (
	"context"
	"errors"
	"fmt"

	"github.com/storacha/go-ucanto/ucan"

	"github.com/storacha/upload-service/pkg/store"
	"github.com/storacha/upload-service/pkg/store/ratelimitstore"
)

func (s *UploadService) SetRateLimit(ctx context.Context, subject string, rate float64, cause ucan.Link) (string, error) {
	id, err := s.rateLimits.Put(ctx, subject, rate, cause)
	if err != nil {
		return "", fmt.Errorf("putting rate limit for %s: %w", subject, err)
	}
	return id, nil
}

// CurrentRateLimit returns [store.ErrNotFound] when subject is not limited.
func (s *UploadService) CurrentRateLimit(ctx context.Context, subject string) (ratelimitstore.RateLimit, error) {
	return s.rateLimits.CurrentLimit(ctx, subject)
}

// AnyBlocked reports whether any of subjects is currently blocked. A lookup
// failure reports true along with the error.
func (s *UploadService) AnyBlocked(ctx context.Context, subjects ...string) (bool, error) {
	for _, subject := range subjects {
		rl, err := s.rateLimits.CurrentLimit(ctx, subject)
		if errors.Is(err, store.ErrNotFound) {
			continue
		}
		if err != nil {
			return true, fmt.Errorf("getting rate limit for %s: %w", subject, err)
		}
		if rl.Blocked() {
			return true, nil
		}
	}
	return false, nil
}
