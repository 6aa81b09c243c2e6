// Package incident owns incident identity: it resolves a cluster's readings
// to either a stored incident with the same fingerprint or a new one.
package incident

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/steve-dickinson/agentic-environmental-intelligence/internal/dedup"
	"github.com/steve-dickinson/agentic-environmental-intelligence/internal/model"
)

// DefaultWindow is the dedup lookback measured against created_at.
const DefaultWindow = 24 * time.Hour

// Store is the persistence the recorder needs.
type Store interface {
	FindIncidentByHash(ctx context.Context, hash string, since time.Time) (*model.Incident, error)
	InsertIncident(ctx context.Context, inc *model.Incident) error
}

// Recorder creates incidents with at most one durable write per fingerprint
// per window.
type Recorder struct {
	store  Store
	clock  clockwork.Clock
	window time.Duration
	newID  func() string
	locks  *keyedMutex
}

// Option configures a Recorder.
type Option func(*Recorder)

// WithClock sets the clock used for created_at and the lookback cutoff.
func WithClock(c clockwork.Clock) Option {
	return func(r *Recorder) { r.clock = c }
}

// WithWindow sets the dedup lookback.
func WithWindow(d time.Duration) Option {
	return func(r *Recorder) {
		if d > 0 {
			r.window = d
		}
	}
}

// WithIDFunc overrides incident id generation.
func WithIDFunc(fn func() string) Option {
	return func(r *Recorder) { r.newID = fn }
}

// NewRecorder creates a Recorder over s.
func NewRecorder(s Store, opts ...Option) *Recorder {
	r := &Recorder{
		store:  s,
		clock:  clockwork.NewRealClock(),
		window: DefaultWindow,
		newID:  uuid.NewString,
		locks:  newKeyedMutex(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Create resolves readings to an incident. When an incident with the same
// fingerprint was created inside the window, its id is returned with the
// caller's readings, alerts and permits and nothing is written; created is
// false. Otherwise a new incident is persisted and created is true. Store
// errors are returned as-is wrapped.
func (r *Recorder) Create(ctx context.Context, readings []model.Reading, alerts []model.Alert, permits []model.Permit) (inc *model.Incident, created bool, err error) {
	hash := dedup.ContentHash(readings)

	unlock := r.locks.lock(hash)
	defer unlock()

	now := r.clock.Now().UTC()
	existing, err := r.store.FindIncidentByHash(ctx, hash, now.Add(-r.window))
	if err != nil {
		return nil, false, eris.Wrapf(err, "incident: lookup %s", hash)
	}

	if existing != nil {
		zap.L().Info("incident: duplicate within window",
			zap.String("content_hash", hash),
			zap.String("incident_id", existing.ID),
			zap.Time("created_at", existing.CreatedAt),
		)
		return &model.Incident{
			ID:          existing.ID,
			Readings:    readings,
			Alerts:      alerts,
			Permits:     permits,
			ContentHash: hash,
			CreatedAt:   existing.CreatedAt,
		}, false, nil
	}

	inc = &model.Incident{
		ID:          r.newID(),
		Readings:    readings,
		Alerts:      alerts,
		Permits:     permits,
		ContentHash: hash,
		CreatedAt:   now,
	}
	if err := r.store.InsertIncident(ctx, inc); err != nil {
		return nil, false, eris.Wrapf(err, "incident: persist %s", hash)
	}

	zap.L().Info("incident: created",
		zap.String("content_hash", hash),
		zap.String("incident_id", inc.ID),
		zap.Int("readings", len(readings)),
		zap.Int("permits", len(permits)),
	)
	return inc, true, nil
}

// keyedMutex serialises work per key. Entries are dropped once unused.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*keyedEntry
}

type keyedEntry struct {
	mu   sync.Mutex
	refs int
}

func newKeyedMutex() *keyedMutex {
	return &keyedMutex{locks: make(map[string]*keyedEntry)}
}

func (k *keyedMutex) lock(key string) (unlock func()) {
	k.mu.Lock()
	e, ok := k.locks[key]
	if !ok {
		e = &keyedEntry{}
		k.locks[key] = e
	}
	e.refs++
	k.mu.Unlock()

	e.mu.Lock()
	return func() {
		e.mu.Unlock()
		k.mu.Lock()
		e.refs--
		if e.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}

func (k *keyedMutex) size() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.locks)
}
