// Package store is the paste lifecycle engine. It is the only reader and
// writer of paste records and keeps them in a key-value backend, one key
// per paste.
//
// Every operation takes the caller's clock explicitly. Consume is a plain
// read-modify-write unless an AtomicConsumer is configured: two concurrent
// consumes of the same paste may then both succeed against the same
// remaining-views value and one decrement is lost.
package store

import (
	"context"
	"encoding/json"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/sync/singleflight"
	"pastelink/metrics"
	"pastelink/pkg/domain"
	"pastelink/svc/util"
)

const (
	createAttempts = 3
	// sharedReadTimeout bounds a coalesced read, which no single caller owns.
	sharedReadTimeout = 5 * time.Second
)

// Backend is the key-value capability the engine needs. Get returns nil, nil
// for a missing key. A zero ttl means the key never expires.
type Backend interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, val []byte, ttl time.Duration) error
	SetNX(ctx context.Context, key string, val []byte, ttl time.Duration) (bool, error)
	Del(ctx context.Context, key string) error
	Ping(ctx context.Context) error
}

// AtomicConsumer performs the whole consume in one backend step. It returns
// the updated record, or nil when the key is absent, expired or exhausted.
type AtomicConsumer interface {
	ConsumeView(ctx context.Context, key string, now time.Time) ([]byte, error)
}

type Options struct {
	BaseURL   string
	KeyPrefix string
	// Atomic switches Consume to the backend's AtomicConsumer when it has one.
	Atomic bool
	NewID  func(now time.Time) (string, error)
}

type Paste struct {
	kv      Backend
	atomic  AtomicConsumer
	baseURL string
	prefix  string
	newID   func(now time.Time) (string, error)
	// peeks coalesces concurrent reads of one key. Only raw bytes are
	// shared; each caller decodes and judges liveness with its own clock.
	peeks singleflight.Group
}

func New(kv Backend, opts Options) *Paste {
	if kv == nil {
		panic("paste store: nil backend")
	}
	p := &Paste{
		kv:      kv,
		baseURL: opts.BaseURL,
		prefix:  opts.KeyPrefix,
		newID:   opts.NewID,
	}
	if p.prefix == "" {
		p.prefix = "paste:"
	}
	if p.newID == nil {
		p.newID = util.NewID
	}
	if opts.Atomic {
		if ac, ok := kv.(AtomicConsumer); ok {
			p.atomic = ac
		} else {
			util.Warn().Msg("backend has no atomic consume, falling back to read-modify-write")
		}
	}
	return p
}

func (p *Paste) key(id string) string {
	return p.prefix + id
}

// URL is the public viewing link for id.
func (p *Paste) URL(id string) string {
	return p.baseURL + "/p/" + id
}

// Atomic reports whether Consume counts views exactly.
func (p *Paste) Atomic() bool {
	return p.atomic != nil
}

// Create stores a new record with createdAt = now. Content, ttl and max
// views are expected to be validated by the caller.
func (p *Paste) Create(ctx context.Context, params domain.CreateParams, now time.Time) (*domain.Created, error) {
	rec := domain.NewRecord(params, now)
	data, err := json.Marshal(rec)
	if err != nil {
		return nil, errors.Wrap(err, "marshal record")
	}
	var ttl time.Duration
	if rec.TTLSeconds != nil {
		ttl = time.Duration(*rec.TTLSeconds) * time.Second
	}
	for attempt := 0; attempt < createAttempts; attempt++ {
		id, err := p.newID(now)
		if err != nil {
			return nil, errors.Wrap(err, "gen id")
		}
		ok, err := p.kv.SetNX(ctx, p.key(id), data, ttl)
		if err != nil {
			metrics.BackendErrors.WithLabelValues("create").Inc()
			return nil, errors.Wrap(domain.Backend("setnx", err), "create paste")
		}
		if !ok {
			util.Warn().Str("paste_id", id).Int("attempt", attempt+1).Msg("paste id collision, regenerating")
			continue
		}
		metrics.PasteCreated.Inc()
		util.Debug().
			Str("paste_id", id).
			Int("size", len(params.Content)).
			Dur("ttl", ttl).
			Msg("paste stored")
		return &domain.Created{ID: id, URL: p.URL(id)}, nil
	}
	return nil, domain.ErrIDGenerationFailed
}

// Consume returns the record and, for limited records, spends one view.
// The rewrite keeps the original absolute deadline.
func (p *Paste) Consume(ctx context.Context, id string, now time.Time) (*domain.Record, error) {
	if !util.ValidID(id) {
		metrics.PasteMissing.WithLabelValues("absent").Inc()
		return nil, domain.ErrPasteNotFound
	}
	if p.atomic != nil {
		return p.consumeAtomic(ctx, id, now)
	}
	key := p.key(id)
	rec, err := p.load(ctx, key, "consume", false)
	if err != nil {
		return nil, err
	}
	if rec.IsExpired(now) {
		if err := p.kv.Del(ctx, key); err != nil {
			util.Warn().Err(err).Str("paste_id", id).Msg("failed to delete expired paste, leaving it to backend ttl")
		}
		metrics.PasteMissing.WithLabelValues("expired").Inc()
		return nil, domain.ErrPasteNotFound
	}
	if rec.IsExhausted() {
		metrics.PasteMissing.WithLabelValues("exhausted").Inc()
		return nil, domain.ErrPasteNotFound
	}
	if !rec.Limited() {
		metrics.PasteViewed.Inc()
		return rec, nil
	}

	remaining := *rec.RemainingViews - 1
	if remaining < 0 {
		remaining = 0
	}
	*rec.RemainingViews = remaining
	data, err := json.Marshal(rec)
	if err != nil {
		return nil, errors.Wrap(err, "marshal record")
	}
	if err := p.kv.Set(ctx, key, data, rec.RemainingTTL(now)); err != nil {
		metrics.BackendErrors.WithLabelValues("consume").Inc()
		return nil, errors.Wrap(domain.Backend("set", err), "consume paste")
	}
	metrics.PasteViewed.Inc()
	return rec, nil
}

func (p *Paste) consumeAtomic(ctx context.Context, id string, now time.Time) (*domain.Record, error) {
	data, err := p.atomic.ConsumeView(ctx, p.key(id), now)
	if err != nil {
		metrics.BackendErrors.WithLabelValues("consume").Inc()
		return nil, errors.Wrap(domain.Backend("consume", err), "consume paste")
	}
	if data == nil {
		metrics.PasteMissing.WithLabelValues("gone").Inc()
		return nil, domain.ErrPasteNotFound
	}
	var rec domain.Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, errors.Wrap(err, "unmarshal record")
	}
	metrics.PasteViewed.Inc()
	return &rec, nil
}

// Peek runs the same checks as Consume but never writes or deletes.
func (p *Paste) Peek(ctx context.Context, id string, now time.Time) (*domain.Record, error) {
	if !util.ValidID(id) {
		return nil, domain.ErrPasteNotFound
	}
	rec, err := p.load(ctx, p.key(id), "peek", true)
	if err != nil {
		return nil, err
	}
	if rec.IsExpired(now) || rec.IsExhausted() {
		return nil, domain.ErrPasteNotFound
	}
	metrics.PastePeeked.Inc()
	return rec, nil
}

// Ping probes the backend with a trivial read.
func (p *Paste) Ping(ctx context.Context) error {
	if err := p.kv.Ping(ctx); err != nil {
		return domain.Backend("ping", err)
	}
	return nil
}

func (p *Paste) load(ctx context.Context, key, op string, shared bool) (*domain.Record, error) {
	var (
		data []byte
		err  error
	)
	if shared {
		data, err = p.sharedGet(ctx, key)
	} else {
		data, err = p.kv.Get(ctx, key)
	}
	if err != nil {
		metrics.BackendErrors.WithLabelValues(op).Inc()
		return nil, errors.Wrap(domain.Backend("get", err), op+" paste")
	}
	if data == nil {
		metrics.PasteMissing.WithLabelValues("absent").Inc()
		return nil, domain.ErrPasteNotFound
	}
	var rec domain.Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, errors.Wrap(err, "unmarshal record")
	}
	return &rec, nil
}

// sharedGet joins or starts the in-flight read of key. The read runs
// detached from any one caller, so a caller that goes away only abandons
// its own wait.
func (p *Paste) sharedGet(ctx context.Context, key string) ([]byte, error) {
	ch := p.peeks.DoChan(key, func() (interface{}, error) {
		readCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), sharedReadTimeout)
		defer cancel()
		return p.kv.Get(readCtx, key)
	})
	select {
	case res := <-ch:
		data, _ := res.Val.([]byte)
		return data, res.Err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
