package valkey

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	valkeygo "github.com/valkey-io/valkey-go"

	"github.com/folio-works/adminguard/audit"
)

// MaxAuditEventSize bounds one serialized audit event (16KB)
const MaxAuditEventSize = 16 * 1024

// AuditPending is an audit.PendingStore backed by a Valkey list, shared by
// every instance of the service
type AuditPending struct {
	client valkeygo.Client
	key    string
	logger *slog.Logger
}

var _ audit.PendingStore = (*AuditPending)(nil)

// NewAuditPending creates a pending queue on the store's connection
func NewAuditPending(s *Store) *AuditPending {
	return &AuditPending{
		client: s.client,
		key:    s.prefix + "audit:pending",
		logger: s.logger,
	}
}

// Append pushes an event and returns the queue length
func (p *AuditPending) Append(ctx context.Context, ev audit.Event) (int, error) {
	data, err := json.Marshal(ev)
	if err != nil {
		return 0, fmt.Errorf("failed to marshal audit event: %w", err)
	}
	if len(data) > MaxAuditEventSize {
		return 0, fmt.Errorf("%w: audit event is %d bytes", errInputTooLarge, len(data))
	}

	n, err := p.client.Do(ctx, p.client.B().Rpush().Key(p.key).Element(string(data)).Build()).AsInt64()
	if err != nil {
		return 0, fmt.Errorf("failed to append audit event: %w", err)
	}
	return int(n), nil
}

// Drain atomically reads and deletes the queue
func (p *AuditPending) Drain(ctx context.Context) ([]audit.Event, error) {
	items, err := p.client.Do(ctx,
		p.client.B().Eval().Script(luaDrainList).
			Numkeys(1).
			Key(p.key).
			Build(),
	).AsStrSlice()
	if err != nil {
		if isNilError(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to drain audit events: %w", err)
	}

	events := make([]audit.Event, 0, len(items))
	for _, item := range items {
		var ev audit.Event
		if err := json.Unmarshal([]byte(item), &ev); err != nil {
			// The entry is already removed; keep the raw record in the log.
			p.logger.Error("Dropping unreadable audit event", "error", err, "raw", item)
			continue
		}
		events = append(events, ev)
	}
	return events, nil
}

// Len returns the queue length
func (p *AuditPending) Len(ctx context.Context) (int, error) {
	n, err := p.client.Do(ctx, p.client.B().Llen().Key(p.key).Build()).AsInt64()
	if err != nil {
		return 0, fmt.Errorf("failed to read audit queue length: %w", err)
	}
	return int(n), nil
}
