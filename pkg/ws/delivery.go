package ws

import (
	"context"
	"sync"
	"time"
)

type source string

const (
	sourcePoll     source = "poll"
	sourcePush     source = "push"
	sourceExternal source = "external"
)

// delivery - стратегия получения фактов от транспорта. Выбирается в New
// по возможностям транспорта; обе стратегии ведут в Socket.applyFact.
type delivery interface {
	// attach вызывается до CreateConnection.
	attach()
	// start вызывается после успешного CreateConnection.
	start(ctx context.Context)
	stop()
}

func newDelivery(s *Socket) delivery {
	p := &poller{s: s}

	if sub, ok := s.transport.(Subscriber); ok {
		return &pushDelivery{s: s, sub: sub, poll: p}
	}

	return p
}

// poller опрашивает транспорт из одной горутины, поэтому одновременно
// выполняется не больше одного PollEvents. Перезапуск после stop невозможен.
type poller struct {
	s *Socket

	mu      sync.Mutex
	started bool
	stopCh  chan struct{}
}

func (p *poller) attach() {}

func (p *poller) start(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.started {
		return
	}

	p.started = true
	p.stopCh = make(chan struct{})

	go p.run(ctx, p.stopCh)
}

func (p *poller) stop() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.started {
		// опрос уже не начнётся
		p.started = true
		return
	}

	if p.stopCh == nil {
		return
	}

	close(p.stopCh)
	p.stopCh = nil
}

func (p *poller) run(ctx context.Context, stop <-chan struct{}) {
	s := p.s

	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-stop:
			return
		case <-timer.C:
		}

		events, err := s.transport.PollEvents(ctx, s.id)

		// запрос мог завершиться уже после остановки - результат отбрасываем
		if stopped(stop) {
			return
		}

		// после ошибки опрос не прекращается, только замедляется
		delay := s.cfg.Pacing.Failure

		if err != nil {
			s.logger.Error("error during event polling", "error", err)
		} else {
			for _, ev := range events {
				s.applyFact(ev, sourcePoll)

				if stopped(stop) {
					return
				}
			}

			delay = s.pollDelay()
		}

		timer.Reset(delay)
	}
}

func stopped(ch <-chan struct{}) bool {
	select {
	case <-ch:
		return true
	default:
		return false
	}
}

// pushDelivery принимает факты из подписки сразу, а опрос продолжает
// работать как страховка: транспорт хранит факты до опроса.
type pushDelivery struct {
	s    *Socket
	sub  Subscriber
	poll *poller

	mu          sync.Mutex
	unsubscribe func()
	stopped     bool
}

func (d *pushDelivery) attach() {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.stopped || d.unsubscribe != nil {
		return
	}

	d.unsubscribe = d.sub.Subscribe(d.s.id, func(ev WireEvent) {
		d.s.applyFact(ev, sourcePush)
	})
}

func (d *pushDelivery) start(ctx context.Context) {
	d.poll.start(ctx)
}

func (d *pushDelivery) stop() {
	d.poll.stop()

	d.mu.Lock()
	unsubscribe := d.unsubscribe
	d.unsubscribe = nil
	d.stopped = true
	d.mu.Unlock()

	// stop вызывается под s.mu, а отписка может ждать колбэки, которые
	// сами ждут s.mu в applyFact: отписываемся из очереди доставки
	if unsubscribe != nil {
		d.s.events.push(unsubscribe)
	}
}
