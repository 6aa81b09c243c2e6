package incident

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/steve-dickinson/agentic-environmental-intelligence/internal/model"
)

// memStore is an in-memory Store. Its lookup is slow enough to expose races.
type memStore struct {
	mu        sync.Mutex
	incidents []model.Incident
	inserts   atomic.Int32
	findErr   error
	insertErr error
	delay     time.Duration
}

func (m *memStore) FindIncidentByHash(_ context.Context, hash string, since time.Time) (*model.Incident, error) {
	if m.findErr != nil {
		return nil, m.findErr
	}
	if m.delay > 0 {
		time.Sleep(m.delay)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	var best *model.Incident
	for i := range m.incidents {
		inc := m.incidents[i]
		if inc.ContentHash == hash && !inc.CreatedAt.Before(since) {
			if best == nil || inc.CreatedAt.After(best.CreatedAt) {
				best = &inc
			}
		}
	}
	return best, nil
}

func (m *memStore) InsertIncident(_ context.Context, inc *model.Incident) error {
	if m.insertErr != nil {
		return m.insertErr
	}
	m.inserts.Add(1)
	m.mu.Lock()
	defer m.mu.Unlock()
	m.incidents = append(m.incidents, *inc)
	return nil
}

func flood(station string, value float64, ts time.Time) model.Reading {
	return model.Reading{StationID: station, Value: value, Timestamp: ts, Source: model.SourceFlood}
}

var start = time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)

func TestCreate_NewIncident(t *testing.T) {
	s := &memStore{}
	clock := clockwork.NewFakeClockAt(start)
	r := NewRecorder(s, WithClock(clock), WithIDFunc(func() string { return "inc-1" }))

	readings := []model.Reading{flood("A", 5, start), flood("B", 6, start)}
	alerts := []model.Alert{{Summary: "rising", Priority: model.PriorityHigh}}

	inc, created, err := r.Create(context.Background(), readings, alerts, nil)
	require.NoError(t, err)
	assert.True(t, created)

	want := &model.Incident{
		ID:          "inc-1",
		Readings:    readings,
		Alerts:      alerts,
		ContentHash: "9d41aba816fe147d",
		CreatedAt:   start,
	}
	if diff := cmp.Diff(want, inc); diff != "" {
		t.Errorf("incident mismatch (-want +got):\n%s", diff)
	}
	assert.Equal(t, int32(1), s.inserts.Load())
}

// Scenario D: same stations and source an hour apart resolve to one incident.
func TestCreate_DuplicateWithinWindow(t *testing.T) {
	s := &memStore{}
	clock := clockwork.NewFakeClockAt(start)
	r := NewRecorder(s, WithClock(clock))

	first, created, err := r.Create(context.Background(),
		[]model.Reading{flood("A", 5, start), flood("B", 6, start)}, nil, nil)
	require.NoError(t, err)
	require.True(t, created)

	clock.Advance(time.Hour)
	newer := []model.Reading{flood("B", 9, start.Add(time.Hour)), flood("A", 7, start.Add(time.Hour))}
	permits := []model.Permit{{PermitID: "EPR/1", OperatorName: "Acme"}}

	second, created, err := r.Create(context.Background(), newer, nil, permits)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, newer, second.Readings)
	assert.Equal(t, permits, second.Permits)
	assert.True(t, second.CreatedAt.Equal(start))
	assert.Equal(t, int32(1), s.inserts.Load())
}

func TestCreate_OutsideWindowCreatesNew(t *testing.T) {
	s := &memStore{}
	clock := clockwork.NewFakeClockAt(start)
	r := NewRecorder(s, WithClock(clock))

	readings := []model.Reading{flood("A", 5, start), flood("B", 6, start)}
	first, _, err := r.Create(context.Background(), readings, nil, nil)
	require.NoError(t, err)

	clock.Advance(25 * time.Hour)
	second, created, err := r.Create(context.Background(), readings, nil, nil)
	require.NoError(t, err)
	assert.True(t, created)
	assert.NotEqual(t, first.ID, second.ID)
	assert.Equal(t, int32(2), s.inserts.Load())
}

func TestCreate_CustomWindow(t *testing.T) {
	s := &memStore{}
	clock := clockwork.NewFakeClockAt(start)
	r := NewRecorder(s, WithClock(clock), WithWindow(time.Hour))

	readings := []model.Reading{flood("A", 5, start)}
	_, _, err := r.Create(context.Background(), readings, nil, nil)
	require.NoError(t, err)

	clock.Advance(2 * time.Hour)
	_, created, err := r.Create(context.Background(), readings, nil, nil)
	require.NoError(t, err)
	assert.True(t, created)
}

func TestCreate_StoreErrorsPropagate(t *testing.T) {
	readings := []model.Reading{flood("A", 5, start)}

	_, _, err := NewRecorder(&memStore{findErr: errors.New("connection refused")}).
		Create(context.Background(), readings, nil, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection refused")

	_, _, err = NewRecorder(&memStore{insertErr: errors.New("disk full")}).
		Create(context.Background(), readings, nil, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk full")
}

func TestCreate_ConcurrentSameFingerprintWritesOnce(t *testing.T) {
	s := &memStore{delay: 5 * time.Millisecond}
	r := NewRecorder(s)

	var (
		wg  sync.WaitGroup
		ids sync.Map
	)
	for i := range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			inc, _, err := r.Create(context.Background(),
				[]model.Reading{flood("A", float64(i), start), flood("B", 1, start)}, nil, nil)
			require.NoError(t, err)
			ids.Store(inc.ID, true)
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), s.inserts.Load())
	n := 0
	ids.Range(func(_, _ any) bool { n++; return true })
	assert.Equal(t, 1, n)
	assert.Zero(t, r.locks.size())
}

func TestKeyedMutex_IndependentKeys(t *testing.T) {
	k := newKeyedMutex()
	unlockA := k.lock("a")

	done := make(chan struct{})
	go func() {
		unlock := k.lock("b")
		unlock()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("lock on b blocked behind a")
	}
	unlockA()
	assert.Zero(t, k.size())
}

func ExampleRecorder_Create() {
	r := NewRecorder(&memStore{}, WithIDFunc(func() string { return "inc-1" }))
	inc, created, _ := r.Create(context.Background(),
		[]model.Reading{flood("A", 5, start), flood("B", 6, start)}, nil, nil)
	fmt.Println(inc.ID, inc.ContentHash, created)
	// Output: inc-1 9d41aba816fe147d true
}
