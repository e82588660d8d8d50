package auditchain

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	dErrors "trustnet/pkg/domain-errors"
	"trustnet/pkg/platform/sentinel"
	"trustnet/pkg/requestcontext"
)

// Store persists entries in append order. Append must reject an entry whose
// sequence number is already taken with sentinel.ErrConflict.
type Store interface {
	Append(ctx context.Context, e *Entry) error
	Last(ctx context.Context) (*Entry, error)
	All(ctx context.Context) ([]*Entry, error)
	Recent(ctx context.Context, limit int) ([]*Entry, error)
}

// Publisher mirrors entries to an external sink. Failures are logged, never fatal:
// the store is the system of record.
type Publisher interface {
	Publish(ctx context.Context, e *Entry) error
}

// Chain serialises appends on the tail and owns the head hash.
type Chain struct {
	mu       sync.Mutex
	store    Store
	head     string
	seq      int64
	loaded   bool
	halted   bool
	brokenAt string

	publisher Publisher
	logger    *slog.Logger
	tracer    trace.Tracer
}

type Option func(*Chain)

func WithLogger(logger *slog.Logger) Option {
	return func(c *Chain) {
		c.logger = logger
	}
}

func WithPublisher(p Publisher) Option {
	return func(c *Chain) {
		c.publisher = p
	}
}

// New constructs a chain over store. The head is loaded lazily on first use.
func New(store Store, opts ...Option) *Chain {
	c := &Chain{
		store:  store,
		logger: slog.Default(),
		tracer: otel.Tracer("trustnet/auditchain"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Chain) loadLocked(ctx context.Context) error {
	if c.loaded {
		return nil
	}
	last, err := c.store.Last(ctx)
	switch {
	case errors.Is(err, sentinel.ErrNotFound):
		c.head, c.seq = GenesisHash(), 0
	case err != nil:
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to load audit chain head")
	default:
		c.head, c.seq = last.Hash, last.Seq
	}
	c.loaded = true
	return nil
}

// Append computes the next entry, stores it and advances the head.
// Once the chain is halted every append fails with tamper_detected.
func (c *Chain) Append(ctx context.Context, action, actor string, details any) (*Entry, error) {
	ctx, span := c.tracer.Start(ctx, "auditchain.Append", trace.WithAttributes(attribute.String("audit.action", action)))
	defer span.End()

	raw, err := CanonicalDetails(details)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to encode audit details")
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.halted {
		return nil, dErrors.New(dErrors.CodeTamperDetected, "audit chain integrity failure; mutations are halted").
			WithDetail("broken_at_hash", c.brokenAt)
	}
	if err := c.loadLocked(ctx); err != nil {
		return nil, err
	}

	ts := requestcontext.Now(ctx).UTC().Truncate(time.Microsecond)
	e := &Entry{
		Seq:          c.seq + 1,
		PreviousHash: c.head,
		Action:       action,
		Actor:        actor,
		Timestamp:    ts,
		Details:      raw,
	}
	e.Hash = ComputeHash(e.PreviousHash, e.Action, e.Actor, e.Timestamp, e.Details)

	if err := c.store.Append(ctx, e); err != nil {
		// Another writer advanced the stored tail; reload before the next append.
		c.loaded = false
		if errors.Is(err, sentinel.ErrConflict) {
			return nil, dErrors.Wrap(err, dErrors.CodeConflict, "audit chain tail moved")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to store audit entry")
	}
	c.head, c.seq = e.Hash, e.Seq
	span.SetAttributes(attribute.Int64("audit.seq", e.Seq))

	if c.publisher != nil {
		if err := c.publisher.Publish(ctx, e); err != nil {
			c.logger.WarnContext(ctx, "failed to mirror audit entry", "seq", e.Seq, "error", err)
		}
	}
	return e.Clone(), nil
}

// Record appends and discards the entry. It satisfies the services' AuditRecorder.
func (c *Chain) Record(ctx context.Context, action, actor string, details map[string]any) error {
	_, err := c.Append(ctx, action, actor, details)
	return err
}

// Verify replays the stored chain. A broken chain halts further appends.
func (c *Chain) Verify(ctx context.Context) (Verification, error) {
	ctx, span := c.tracer.Start(ctx, "auditchain.Verify")
	defer span.End()

	entries, err := c.store.All(ctx)
	if err != nil {
		return Verification{}, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load audit entries")
	}
	v := VerifyEntries(entries)
	span.SetAttributes(attribute.Bool("audit.chain_valid", v.ChainValid), attribute.Int("audit.checked", v.Checked))
	if !v.ChainValid {
		c.Halt(v.BrokenAtHash)
	}
	return v, nil
}

// Halt stops all further appends. There is no resume; recovery needs an operator restart.
func (c *Chain) Halt(brokenAt string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.halted {
		c.halted = true
		c.brokenAt = brokenAt
	}
}

// Halted reports whether tampering was detected and where.
func (c *Chain) Halted() (bool, string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.halted, c.brokenAt
}

// Head returns the current head hash.
func (c *Chain) Head(ctx context.Context) (string, int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.loadLocked(ctx); err != nil {
		return "", 0, err
	}
	return c.head, c.seq, nil
}

// List returns up to limit entries, newest first.
func (c *Chain) List(ctx context.Context, limit int) ([]*Entry, error) {
	entries, err := c.store.Recent(ctx, limit)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to list audit entries")
	}
	return entries, nil
}
