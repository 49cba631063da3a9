package conn

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ChuLiYu/jobwatch/pkg/types"
)

// ============================================================================
// Fakes
// ============================================================================

// scriptedDialer returns one scripted outcome per Dial call.
type scriptedDialer struct {
	mu       sync.Mutex
	outcomes []dialOutcome
	calls    int
}

type dialOutcome struct {
	err error
	ch  *fakeChannel
}

func (d *scriptedDialer) Dial(ctx context.Context, _ Credentials) (Channel, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls++
	if len(d.outcomes) == 0 {
		return nil, transient(errors.New("no more outcomes"))
	}
	out := d.outcomes[0]
	d.outcomes = d.outcomes[1:]
	if out.err != nil {
		return nil, out.err
	}
	return out.ch, nil
}

func (d *scriptedDialer) Calls() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.calls
}

// fakeChannel yields its snapshots then ends with end.
type fakeChannel struct {
	snaps  []*types.Snapshot
	end    error
	closed bool
}

func (c *fakeChannel) Recv(ctx context.Context) (*types.Snapshot, error) {
	if len(c.snaps) > 0 {
		s := c.snaps[0]
		c.snaps = c.snaps[1:]
		return s, nil
	}
	if c.end == nil {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	return nil, c.end
}

func (c *fakeChannel) Close() error {
	c.closed = true
	return nil
}

type sleepRecorder struct {
	mu     sync.Mutex
	delays []time.Duration
}

func (s *sleepRecorder) sleep(ctx context.Context, d time.Duration) error {
	s.mu.Lock()
	s.delays = append(s.delays, d)
	s.mu.Unlock()
	return ctx.Err()
}

var errNet = transient(errors.New("connection refused"))

func drainStates(mb *Mailbox) []State {
	var states []State
	for {
		ev, ok := mb.TryNext()
		if !ok {
			return states
		}
		if ev.Status != nil {
			states = append(states, ev.Status.State)
		}
	}
}

// ============================================================================
// Backoff
// ============================================================================

func TestBackoffClamp(t *testing.T) {
	tests := []struct {
		n    int
		want time.Duration
	}{
		{0, time.Second},
		{1, time.Second},
		{2, 2 * time.Second},
		{3, 4 * time.Second},
		{4, 5 * time.Second},
		{10, 5 * time.Second},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Backoff(tt.n, time.Second, 5*time.Second), "n=%d", tt.n)
	}
}

// ============================================================================
// Manager
// ============================================================================

func TestEmptyAssertionNeverConnects(t *testing.T) {
	d := &scriptedDialer{}
	m := NewManager(d, Credentials{}, Config{})

	err := m.Run(context.Background())
	assert.ErrorIs(t, err, types.ErrUnauthorized)
	assert.Equal(t, StateUnauthorized, m.State())
	assert.Equal(t, 0, d.Calls())
	assert.Equal(t, []State{StateUnauthorized}, drainStates(m.Mailbox()))
}

func TestFiveFailedAttemptsThenFailed(t *testing.T) {
	d := &scriptedDialer{outcomes: []dialOutcome{{err: errNet}, {err: errNet}, {err: errNet}, {err: errNet}, {err: errNet}, {err: errNet}}}
	rec := &sleepRecorder{}
	m := NewManager(d, Credentials{InitData: "x"}, Config{}, WithSleep(rec.sleep))

	err := m.Run(context.Background())
	assert.ErrorIs(t, err, types.ErrTransientConnection)
	assert.Equal(t, StateFailed, m.State())
	assert.Equal(t, 5, d.Calls(), "no sixth attempt")
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second, 4 * time.Second, 5 * time.Second}, rec.delays)

	assert.Equal(t, []State{
		StateConnecting,
		StateReconnecting, StateReconnecting, StateReconnecting, StateReconnecting,
		StateFailed,
	}, drainStates(m.Mailbox()))
}

func TestHandshakeUnauthorizedNotRetried(t *testing.T) {
	d := &scriptedDialer{outcomes: []dialOutcome{{err: types.ErrUnauthorized}}}
	m := NewManager(d, Credentials{InitData: "bad"}, Config{}, WithSleep((&sleepRecorder{}).sleep))

	err := m.Run(context.Background())
	assert.ErrorIs(t, err, types.ErrUnauthorized)
	assert.Equal(t, 1, d.Calls())
	assert.Equal(t, []State{StateConnecting, StateUnauthorized}, drainStates(m.Mailbox()))
}

func TestServerCloseFailsWithoutRetry(t *testing.T) {
	snap := &types.Snapshot{Jobs: []types.JobRecord{{ID: "a"}}}
	ch := &fakeChannel{snaps: []*types.Snapshot{snap}, end: types.ErrServerClosed}
	d := &scriptedDialer{outcomes: []dialOutcome{{ch: ch}, {ch: &fakeChannel{}}}}
	m := NewManager(d, Credentials{InitData: "x"}, Config{})

	err := m.Run(context.Background())
	assert.ErrorIs(t, err, types.ErrServerClosed)
	assert.Equal(t, StateFailed, m.State())
	assert.Equal(t, 1, d.Calls())
	assert.True(t, ch.closed)

	mb := m.Mailbox()
	ev, ok := mb.TryNext()
	require.True(t, ok)
	assert.Equal(t, StateConnecting, ev.Status.State)
	ev, _ = mb.TryNext()
	assert.Equal(t, StateConnected, ev.Status.State)
	ev, _ = mb.TryNext()
	assert.Equal(t, StateFailed, ev.Status.State)
	ev, _ = mb.TryNext()
	require.NotNil(t, ev.Snapshot)
	assert.Same(t, snap, ev.Snapshot)
}

func TestConnectResetsAttemptCounter(t *testing.T) {
	lost := &fakeChannel{end: errNet}
	d := &scriptedDialer{outcomes: []dialOutcome{
		{err: errNet}, {err: errNet}, {err: errNet}, {err: errNet},
		{ch: lost},
		{err: errNet}, {err: errNet}, {err: errNet}, {err: errNet},
		{ch: &fakeChannel{end: types.ErrServerClosed}},
	}}
	rec := &sleepRecorder{}
	m := NewManager(d, Credentials{InitData: "x"}, Config{}, WithSleep(rec.sleep))

	err := m.Run(context.Background())
	assert.ErrorIs(t, err, types.ErrServerClosed, "four failures after a loss stay under the bound")
	assert.Equal(t, 10, d.Calls())
	assert.Equal(t, []time.Duration{
		time.Second, 2 * time.Second, 4 * time.Second, 5 * time.Second,
		time.Second, 2 * time.Second, 4 * time.Second, 5 * time.Second, 5 * time.Second,
	}, rec.delays)
}

func TestContextCancelDisconnects(t *testing.T) {
	d := &scriptedDialer{outcomes: []dialOutcome{{ch: &fakeChannel{}}}}
	m := NewManager(d, Credentials{InitData: "x"}, Config{})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- m.Run(ctx) }()

	require.Eventually(t, func() bool { return m.State() == StateConnected }, time.Second, time.Millisecond)
	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("Run did not return")
	}
	assert.Equal(t, StateDisconnected, m.State())
}

func TestRunAgainIsManualReload(t *testing.T) {
	d := &scriptedDialer{outcomes: []dialOutcome{{ch: &fakeChannel{end: types.ErrServerClosed}}, {ch: &fakeChannel{end: types.ErrServerClosed}}}}
	m := NewManager(d, Credentials{InitData: "x"}, Config{})

	require.ErrorIs(t, m.Run(context.Background()), types.ErrServerClosed)
	require.ErrorIs(t, m.Run(context.Background()), types.ErrServerClosed)
	assert.Equal(t, 2, m.Dials())
}

// ============================================================================
// Mailbox
// ============================================================================

func TestMailboxStatusFIFOSnapshotLatestWins(t *testing.T) {
	mb := NewMailbox()
	s1 := &types.Snapshot{Jobs: []types.JobRecord{{ID: "1"}}}
	s2 := &types.Snapshot{Jobs: []types.JobRecord{{ID: "2"}}}

	mb.PutStatus(Status{State: StateConnecting})
	mb.PutSnapshot(s1)
	mb.PutStatus(Status{State: StateConnected})
	mb.PutSnapshot(s2)

	ev, _ := mb.TryNext()
	assert.Equal(t, StateConnecting, ev.Status.State)
	ev, _ = mb.TryNext()
	assert.Equal(t, StateConnected, ev.Status.State)
	ev, _ = mb.TryNext()
	assert.Same(t, s2, ev.Snapshot)
	_, ok := mb.TryNext()
	assert.False(t, ok)
	assert.Equal(t, uint64(1), mb.Superseded())
}

func TestMailboxNextWaits(t *testing.T) {
	mb := NewMailbox()
	go func() {
		time.Sleep(10 * time.Millisecond)
		mb.PutSnapshot(&types.Snapshot{})
	}()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	ev, err := mb.Next(ctx)
	require.NoError(t, err)
	assert.NotNil(t, ev.Snapshot)

	ctx2, cancel2 := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel2()
	_, err = mb.Next(ctx2)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
