package ws

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/LLIEPJIOK/pinned-ws/pkg/ws/pinning"
)

type closeCall struct {
	code   int
	reason string
}

// fakeTransport хранит факты до опроса, как нативные транспорты.
type fakeTransport struct {
	mu         sync.Mutex
	seq        uint64
	queue      []WireEvent
	created    []string
	createErr  error
	createGate chan struct{}
	closeErr   error
	closes     []closeCall
	sendErr    error
	sent       []string
	pollErrs   int
	polls      int
	cleanups   int
	validation *pinning.Result

	// pollLatency задерживает каждый PollEvents
	pollLatency time.Duration
	inFlight    int
	maxInFlight int
	pollStarts  []time.Time
}

func (f *fakeTransport) CreateConnection(
	_ context.Context,
	id, _ string,
	_ []string,
	_ *pinning.Config,
	_ TransportOptions,
) error {
	f.mu.Lock()
	gate := f.createGate
	f.mu.Unlock()

	if gate != nil {
		<-gate
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	f.created = append(f.created, id)

	return f.createErr
}

func (f *fakeTransport) CloseConnection(_ context.Context, _ string, code int, reason string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.closes = append(f.closes, closeCall{code, reason})

	return f.closeErr
}

func (f *fakeTransport) SendData(_ context.Context, _, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.sendErr != nil {
		return f.sendErr
	}

	f.sent = append(f.sent, text)

	return nil
}

func (f *fakeTransport) GetReadyState(context.Context, string) (int, error) {
	return int(StateOpen), nil
}

func (f *fakeTransport) GetValidationResult(context.Context, string) (*pinning.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.validation, nil
}

func (f *fakeTransport) PollEvents(context.Context, string) ([]WireEvent, error) {
	f.mu.Lock()
	f.polls++
	f.pollStarts = append(f.pollStarts, time.Now())
	f.inFlight++
	f.maxInFlight = max(f.maxInFlight, f.inFlight)
	latency := f.pollLatency
	f.mu.Unlock()

	time.Sleep(latency)

	f.mu.Lock()
	defer f.mu.Unlock()

	f.inFlight--

	if f.pollErrs > 0 {
		f.pollErrs--
		return nil, context.DeadlineExceeded
	}

	events := f.queue
	f.queue = nil

	return events, nil
}

func (f *fakeTransport) CleanupConnection(context.Context, string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.cleanups++

	return nil
}

// push кладёт пронумерованный факт в очередь опроса.
func (f *fakeTransport) push(id string, fact Fact) WireEvent {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.seq++
	ev := WireEvent{ID: id, Seq: f.seq, Fact: fact}
	f.queue = append(f.queue, ev)

	return ev
}

type fakeStats struct {
	created     []string
	closes      []closeCall
	sent        []string
	polls       int
	cleanups    int
	maxInFlight int
	pollStarts  []time.Time
}

func (f *fakeTransport) snapshot() fakeStats {
	f.mu.Lock()
	defer f.mu.Unlock()

	return fakeStats{
		created:     append([]string(nil), f.created...),
		closes:      append([]closeCall(nil), f.closes...),
		sent:        append([]string(nil), f.sent...),
		polls:       f.polls,
		cleanups:    f.cleanups,
		maxInFlight: f.maxInFlight,
		pollStarts:  append([]time.Time(nil), f.pollStarts...),
	}
}

// pushTransport дополнительно рассылает каждый факт подписчикам.
type pushTransport struct {
	*fakeTransport

	subMu sync.Mutex
	subs  map[string]func(WireEvent)
}

func newPushTransport() *pushTransport {
	return &pushTransport{
		fakeTransport: &fakeTransport{},
		subs:          make(map[string]func(WireEvent)),
	}
}

func (p *pushTransport) Subscribe(id string, fn func(WireEvent)) func() {
	p.subMu.Lock()
	defer p.subMu.Unlock()

	p.subs[id] = fn

	return func() {
		p.subMu.Lock()
		defer p.subMu.Unlock()

		delete(p.subs, id)
	}
}

func (p *pushTransport) subscribed(id string) bool {
	p.subMu.Lock()
	defer p.subMu.Unlock()

	_, ok := p.subs[id]

	return ok
}

func (p *pushTransport) publish(id string, fact Fact) {
	ev := p.push(id, fact)

	p.subMu.Lock()
	fn := p.subs[id]
	p.subMu.Unlock()

	if fn != nil {
		fn(ev)
	}
}

type mockTransport struct {
	mock.Mock
}

func (m *mockTransport) CreateConnection(
	ctx context.Context,
	id, url string,
	protocols []string,
	pin *pinning.Config,
	opts TransportOptions,
) error {
	args := m.Called(ctx, id, url, protocols, pin, opts)
	return args.Error(0)
}

func (m *mockTransport) CloseConnection(ctx context.Context, id string, code int, reason string) error {
	args := m.Called(ctx, id, code, reason)
	return args.Error(0)
}

func (m *mockTransport) SendData(ctx context.Context, id, text string) error {
	args := m.Called(ctx, id, text)
	return args.Error(0)
}

func (m *mockTransport) GetReadyState(ctx context.Context, id string) (int, error) {
	args := m.Called(ctx, id)
	return args.Int(0), args.Error(1)
}

func (m *mockTransport) GetValidationResult(ctx context.Context, id string) (*pinning.Result, error) {
	args := m.Called(ctx, id)
	res, _ := args.Get(0).(*pinning.Result)

	return res, args.Error(1)
}

func (m *mockTransport) PollEvents(ctx context.Context, id string) ([]WireEvent, error) {
	args := m.Called(ctx, id)
	events, _ := args.Get(0).([]WireEvent)

	return events, args.Error(1)
}

func (m *mockTransport) CleanupConnection(ctx context.Context, id string) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

const eventTimeout = 2 * time.Second

// eventLog подписывается на все категории и складывает события в канал.
type eventLog struct {
	ch chan Event
}

func listen(s *Socket) *eventLog {
	l := &eventLog{ch: make(chan Event, 64)}

	for _, cat := range []Category{CategoryOpen, CategoryMessage, CategoryError, CategoryClose} {
		s.AddEventListener(cat, func(ev Event) { l.ch <- ev })
	}

	return l
}

func (l *eventLog) next(t *testing.T) Event {
	t.Helper()

	select {
	case ev := <-l.ch:
		return ev
	case <-time.After(eventTimeout):
		require.FailNow(t, "no event received")
		return nil
	}
}

func (l *eventLog) none(t *testing.T, d time.Duration) {
	t.Helper()

	select {
	case ev := <-l.ch:
		require.FailNow(t, "unexpected event", "%#v", ev)
	case <-time.After(d):
	}
}

func testConfig(url string) Config {
	cfg := DefaultConfig(url)
	cfg.Pacing = Pacing{
		Open:    5 * time.Millisecond,
		Idle:    5 * time.Millisecond,
		Failure: 5 * time.Millisecond,
	}

	return cfg
}

func newTestSocket(t *testing.T, tr Transport, mutate ...func(*Config)) *Socket {
	t.Helper()

	cfg := testConfig("ws://example.com/ws")
	for _, fn := range mutate {
		fn(&cfg)
	}

	s := New(cfg, tr)
	t.Cleanup(s.Cleanup)

	return s
}

// drainingTransport при отписке дожидается колбэков, которые уже выполняются.
type drainingTransport struct {
	*fakeTransport

	subMu    sync.Mutex
	drained  *sync.Cond
	subs     map[string]func(WireEvent)
	inFlight int
}

func newDrainingTransport() *drainingTransport {
	d := &drainingTransport{
		fakeTransport: &fakeTransport{},
		subs:          make(map[string]func(WireEvent)),
	}
	d.drained = sync.NewCond(&d.subMu)

	return d
}

func (d *drainingTransport) Subscribe(id string, fn func(WireEvent)) func() {
	d.subMu.Lock()
	defer d.subMu.Unlock()

	d.subs[id] = fn

	return func() {
		d.subMu.Lock()
		defer d.subMu.Unlock()

		delete(d.subs, id)

		for d.inFlight > 0 {
			d.drained.Wait()
		}
	}
}

func (d *drainingTransport) publish(id string, fact Fact) {
	ev := d.push(id, fact)

	d.subMu.Lock()
	fn := d.subs[id]

	if fn == nil {
		d.subMu.Unlock()
		return
	}

	d.inFlight++
	d.subMu.Unlock()

	fn(ev)

	d.subMu.Lock()
	d.inFlight--
	d.drained.Broadcast()
	d.subMu.Unlock()
}
