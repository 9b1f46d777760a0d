// Package session plays productions through the sending pipeline: the data
// callbacks run around one send and one feedback collection, and the
// periodic and task requests they return are handed to the scheduler.
package session

import (
	"context"
	"errors"
	"fmt"
	"log"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/danielpatrickdp/fuzzctl/internal/chain"
	"github.com/danielpatrickdp/fuzzctl/internal/data"
	"github.com/danielpatrickdp/fuzzctl/internal/driver"
	"github.com/danielpatrickdp/fuzzctl/internal/periodic"
	"github.com/danielpatrickdp/fuzzctl/internal/scenario"
	"github.com/danielpatrickdp/fuzzctl/internal/tactics"
)

// #region types

// Monitor collects one feedback snapshot of the target.
type Monitor interface {
	Check(ctx context.Context) (*data.Feedback, error)
}

// Sender delivers data to the target. It is also called from the goroutines
// forwarding periodic sends.
type Sender func(ctx context.Context, d *data.Data) error

// Config tunes the feedback collection.
type Config struct {
	// FbkTimeout bounds the feedback collection when the data does not set one.
	FbkTimeout time.Duration
}

// DefaultConfig returns the session defaults.
func DefaultConfig() Config {
	return Config{FbkTimeout: 5 * time.Second}
}

// Production is the outcome of one pass through the pipeline.
type Production struct {
	// Data is what was handed to the sender, after any replacement.
	Data     *data.Data
	Sent     bool
	Timeout  time.Duration
	FbkMode  string
	Feedback *data.Feedback
}

// Session owns the pipeline of one interactive run.
type Session struct {
	resolver *chain.Resolver
	sched    *periodic.Scheduler
	monitor  Monitor
	send     Sender
	cfg      Config

	drivers map[string]*driver.Driver

	mu       sync.Mutex
	forwards map[string]context.CancelFunc
	wg       sync.WaitGroup
}

// Option configures a Session.
type Option func(*Session)

// WithMonitor collects feedback from m after every send.
func WithMonitor(m Monitor) Option {
	return func(s *Session) { s.monitor = m }
}

// WithSender delivers productions and periodic payloads through fn.
func WithSender(fn Sender) Option {
	return func(s *Session) { s.send = fn }
}

// WithConfig replaces DefaultConfig.
func WithConfig(cfg Config) Option {
	return func(s *Session) { s.cfg = cfg }
}

// #endregion types

// #region constructor

// New returns a Session resolving chains with r and running side effects on sched.
func New(r *chain.Resolver, sched *periodic.Scheduler, opts ...Option) *Session {
	s := &Session{
		resolver: r,
		sched:    sched,
		cfg:      DefaultConfig(),
		send:     func(context.Context, *data.Data) error { return nil },
		drivers:  make(map[string]*driver.Driver),
		forwards: make(map[string]context.CancelFunc),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// AddScenarios registers one driver per scenario in reg, which must be a
// registry of the session resolver.
func (s *Session) AddScenarios(reg *tactics.Registry, opts driver.Options, scs ...*scenario.Scenario) error {
	drivers, err := driver.RegisterScenarios(reg, s.resolver, opts, scs...)
	for _, d := range drivers {
		s.drivers[d.Scenario().Name()] = d
	}
	return err
}

// Scenarios lists the registered scenario names in order.
func (s *Session) Scenarios() []string {
	return slices.Sorted(maps.Keys(s.drivers))
}

// Close stops the periodic forwarding goroutines. The scheduler is left to its owner.
func (s *Session) Close() {
	s.mu.Lock()
	for id, cancel := range s.forwards {
		cancel()
		delete(s.forwards, id)
	}
	s.mu.Unlock()
	s.wg.Wait()
}

// #endregion constructor

// #region produce

// Produce resolves actions over seed and plays the result through the pipeline.
func (s *Session) Produce(ctx context.Context, actions []chain.Action, seed *data.Data) (*Production, error) {
	d, err := s.resolver.Resolve(actions, seed)
	if err != nil {
		return nil, err
	}
	return s.Play(ctx, d)
}

// Step produces the next data of the scenario name. Once the scenario is
// exhausted every periodic send and task it may have started is stopped and
// the chain.ErrDataUnusable outcome is returned.
func (s *Session) Step(ctx context.Context, name string) (*Production, error) {
	drv, ok := s.drivers[name]
	if !ok {
		return nil, fmt.Errorf("unknown scenario %q", name)
	}
	p, err := s.Produce(ctx, []chain.Action{{Type: driver.TypeName(drv.Scenario()), Name: name}}, nil)
	if errors.Is(err, chain.ErrDataUnusable) {
		log.Printf("[SESSION] scenario %s exhausted, stopping its side effects", name)
		s.apply(data.HookAfterFeedback, drv.StopAll())
	}
	return p, err
}

// Play runs the hooks of d around one send and one feedback collection.
func (s *Session) Play(ctx context.Context, d *data.Data) (*Production, error) {
	p := &Production{Data: d, Timeout: s.cfg.FbkTimeout}

	for _, ops := range d.RunCallbacks(data.HookBeforeSendingStep1, nil) {
		if len(ops.Replace) > 0 {
			p.Data = ops.Replace[0]
			if len(ops.Replace) > 1 {
				p.Data.SetBundle(ops.Replace[1:])
			}
		}
		s.apply(data.HookBeforeSendingStep1, ops)
	}
	for _, ops := range d.RunCallbacks(data.HookBeforeSendingStep2, nil) {
		if ops.FbkTimeout != nil {
			p.Timeout = *ops.FbkTimeout
		}
		if ops.FbkMode != "" {
			p.FbkMode = ops.FbkMode
		}
		s.apply(data.HookBeforeSendingStep2, ops)
	}

	if sendable(p.Data) {
		if err := s.send(ctx, p.Data); err != nil {
			return p, fmt.Errorf("send: %w", err)
		}
		p.Sent = true
	}
	for _, ops := range d.RunCallbacks(data.HookAfterSending, nil) {
		s.apply(data.HookAfterSending, ops)
	}

	p.Feedback = s.collect(ctx, p.Timeout)
	for _, ops := range d.RunCallbacks(data.HookAfterFeedback, p.Feedback) {
		s.apply(data.HookAfterFeedback, ops)
	}
	return p, nil
}

func sendable(d *data.Data) bool {
	return !d.IsEmpty() && !d.IsBlocked() && !d.IsPending()
}

// collect asks the monitor for feedback within timeout. A zero timeout skips collection.
func (s *Session) collect(ctx context.Context, timeout time.Duration) *data.Feedback {
	if s.monitor == nil || timeout <= 0 {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	fbk, err := s.monitor.Check(ctx)
	if err != nil {
		log.Printf("[SESSION] feedback collection failed: %v", err)
		return nil
	}
	return fbk
}

// #endregion produce

// #region side-effects

// apply forwards the periodic payloads of ops to the sender and hands ops to the scheduler.
func (s *Session) apply(hook data.Hook, ops *data.CallbackOps) {
	if ops == nil || s.sched == nil {
		return
	}
	for _, id := range ops.StopPeriodic {
		s.unforward(id)
	}
	for _, p := range ops.StartPeriodic {
		if err := s.forward(p.ID); err != nil {
			log.Printf("[SESSION] %s: %v", hook, err)
		}
	}
	if err := s.sched.Apply(ops); err != nil {
		log.Printf("[SESSION] %s ops: %v", hook, err)
	}
}

// forward relays the messages of the periodic send id to the sender until unforward(id).
func (s *Session) forward(id string) error {
	ctx, cancel := context.WithCancel(context.Background())
	msgs, err := s.sched.Subscribe(ctx, id)
	if err != nil {
		cancel()
		return err
	}

	s.mu.Lock()
	if prev, ok := s.forwards[id]; ok {
		prev()
	}
	s.forwards[id] = cancel
	s.wg.Add(1)
	s.mu.Unlock()

	go func() {
		defer s.wg.Done()
		for msg := range msgs {
			d := data.NewRaw("periodic", msg.Payload)
			if err := s.send(ctx, d); err != nil {
				log.Printf("[SESSION] periodic %s send failed: %v", id, err)
			}
			msg.Ack()
		}
	}()
	return nil
}

func (s *Session) unforward(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cancel, ok := s.forwards[id]; ok {
		cancel()
		delete(s.forwards, id)
	}
}

// #endregion side-effects
