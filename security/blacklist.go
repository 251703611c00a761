package security

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/folio-works/adminguard/instrumentation"
	"github.com/folio-works/adminguard/internal/util"
	"github.com/folio-works/adminguard/storage"
)

// ErrBlacklistUnavailable is returned by a fail-closed Blacklist when the
// store cannot answer
var ErrBlacklistUnavailable = errors.New("token blacklist unavailable")

// BlacklistConfig configures a Blacklist
type BlacklistConfig struct {
	Store storage.BlacklistStore

	// Timeout bounds each store call. Default: DefaultStoreTimeout
	Timeout time.Duration

	// FailOpen treats an unreachable store as "not revoked". When false,
	// IsRevoked returns ErrBlacklistUnavailable and the token is rejected.
	FailOpen bool

	Logger          *slog.Logger
	Instrumentation *instrumentation.Instrumentation
}

// Blacklist applies the timeout and failure policy to a BlacklistStore
type Blacklist struct {
	store    storage.BlacklistStore
	timeout  time.Duration
	failOpen bool
	logger   *slog.Logger
	inst     *instrumentation.Instrumentation
}

// NewBlacklist builds a Blacklist
func NewBlacklist(cfg BlacklistConfig) *Blacklist {
	b := &Blacklist{
		store:    cfg.Store,
		timeout:  cfg.Timeout,
		failOpen: cfg.FailOpen,
		logger:   cfg.Logger,
		inst:     cfg.Instrumentation,
	}
	if b.timeout <= 0 {
		b.timeout = DefaultStoreTimeout
	}
	if b.logger == nil {
		b.logger = slog.Default()
	}
	return b
}

// FailOpen reports the configured failure policy
func (b *Blacklist) FailOpen() bool { return b.failOpen }

// Revoke blacklists jti for ttl. Revoking twice is harmless.
func (b *Blacklist) Revoke(ctx context.Context, jti string, ttl time.Duration) error {
	if jti == "" {
		return nil
	}
	ctx, span := startSpan(ctx, b.inst, "blacklist.revoke")
	defer span.End()

	storeCtx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()

	if err := b.store.Blacklist(storeCtx, jti, ttl); err != nil {
		instrumentation.RecordError(span, err)
		return fmt.Errorf("blacklist %s: %w", util.SafeTruncate(jti, 8), err)
	}
	instrumentation.SetSpanSuccess(span)
	return nil
}

// IsRevoked reports whether jti is blacklisted
func (b *Blacklist) IsRevoked(ctx context.Context, jti string) (bool, error) {
	ctx, span := startSpan(ctx, b.inst, "blacklist.check")
	defer span.End()

	storeCtx, cancel := context.WithTimeout(ctx, b.timeout)
	revoked, err := b.store.IsBlacklisted(storeCtx, jti)
	cancel()

	if err != nil {
		instrumentation.RecordError(span, err)
		if b.failOpen {
			b.logger.Warn("Blacklist unavailable, accepting token",
				"jti", util.SafeTruncate(jti, 8),
				"error", err)
			return false, nil
		}
		b.logger.Error("Blacklist unavailable, rejecting token",
			"jti", util.SafeTruncate(jti, 8),
			"error", err)
		return false, fmt.Errorf("%w: %v", ErrBlacklistUnavailable, err)
	}

	if revoked {
		b.inst.Metrics().RecordBlacklistHit(ctx)
	}
	instrumentation.SetSpanAttributes(span, attribute.Bool("security.blacklist.hit", revoked))
	instrumentation.SetSpanSuccess(span)
	return revoked, nil
}
