// Package periodic runs the periodic sends and background tasks requested by
// scenario callbacks. Each periodic payload is published on its own watermill
// topic so the sending pipeline can subscribe to it.
package periodic

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"

	"github.com/danielpatrickdp/fuzzctl/internal/data"
)

// #region config

// Config tunes the underlying gochannel pub/sub.
type Config struct {
	OutputBuffer int64
	Debug        bool
}

// DefaultConfig returns the scheduler defaults.
func DefaultConfig() Config {
	return Config{OutputBuffer: 64}
}

// TopicPrefix prefixes the topic of every periodic send.
const TopicPrefix = "periodic."

// Topic returns the topic a periodic send publishes to.
func Topic(id string) string { return TopicPrefix + id }

// MetaDataID carries the ID of the published Data.
const MetaDataID = "data_id"

// #endregion config

// #region types

var ErrClosed = errors.New("scheduler closed")

// Scheduler owns the goroutines of periodic sends and tasks. Both are keyed by
// identifier; starting an identifier already running replaces it.
type Scheduler struct {
	mu     sync.Mutex
	pubsub *gochannel.GoChannel
	ctx    context.Context
	cancel context.CancelFunc
	sends  map[string]*job
	tasks  map[string]*job
	wg     sync.WaitGroup
	closed bool
}

// job is one tracked goroutine. A restart under the same identifier replaces it.
type job struct {
	cancel context.CancelFunc
}

// #endregion types

// #region constructor

// New returns a running Scheduler.
func New(cfg Config) *Scheduler {
	logger := watermill.NewStdLogger(cfg.Debug, false)
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		pubsub: gochannel.NewGoChannel(gochannel.Config{
			OutputChannelBuffer:            cfg.OutputBuffer,
			BlockPublishUntilSubscriberAck: false,
		}, logger),
		ctx:    ctx,
		cancel: cancel,
		sends:  make(map[string]*job),
		tasks:  make(map[string]*job),
	}
}

// #endregion constructor

// #region periodic

// Start publishes d on Topic(id) every period until Stop(id).
func (s *Scheduler) Start(id string, period time.Duration, d *data.Data) error {
	if period <= 0 {
		return fmt.Errorf("periodic %s: period must be > 0, got %s", id, period)
	}
	if d == nil {
		return fmt.Errorf("periodic %s: no data", id)
	}
	payload := append([]byte(nil), d.Bytes()...)
	dataID := d.ID()

	ctx, _, err := s.track(s.sends, id)
	if err != nil {
		return err
	}
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(period)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				msg := message.NewMessage(watermill.NewUUID(), payload)
				msg.Metadata.Set(MetaDataID, dataID)
				if err := s.pubsub.Publish(Topic(id), msg); err != nil {
					log.Printf("[PERIODIC] publish %s failed: %v", id, err)
					return
				}
			}
		}
	}()
	log.Printf("[PERIODIC] started %s every %s (%d bytes)", id, period, len(payload))
	return nil
}

// Stop cancels the periodic send id. Unknown identifiers are logged and ignored.
func (s *Scheduler) Stop(id string) bool {
	return s.untrack(s.sends, "periodic", id)
}

// Subscribe returns the messages published for the periodic send id.
// Every message must be acked before the next one is delivered.
func (s *Scheduler) Subscribe(ctx context.Context, id string) (<-chan *message.Message, error) {
	ch, err := s.pubsub.Subscribe(ctx, Topic(id))
	if err != nil {
		return nil, fmt.Errorf("subscribe %s: %w", id, err)
	}
	return ch, nil
}

// #endregion periodic

// #region tasks

// StartTask runs run every period until StopTask(id), or once when period is 0.
// A task run once is no longer Running after it returns.
// Task errors are logged and do not stop the task.
func (s *Scheduler) StartTask(id string, period time.Duration, run func(ctx context.Context) error) error {
	if run == nil {
		return fmt.Errorf("task %s: no function", id)
	}
	if period < 0 {
		return fmt.Errorf("task %s: negative period %s", id, period)
	}
	ctx, j, err := s.track(s.tasks, id)
	if err != nil {
		return err
	}
	go func() {
		defer s.wg.Done()
		if period == 0 {
			if err := run(ctx); err != nil {
				log.Printf("[PERIODIC] task %s failed: %v", id, err)
			}
			s.finish(s.tasks, id, j)
			return
		}
		ticker := time.NewTicker(period)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := run(ctx); err != nil {
					log.Printf("[PERIODIC] task %s failed: %v", id, err)
				}
			}
		}
	}()
	log.Printf("[PERIODIC] started task %s", id)
	return nil
}

// StopTask cancels the task id. Unknown identifiers are logged and ignored.
func (s *Scheduler) StopTask(id string) bool {
	return s.untrack(s.tasks, "task", id)
}

// #endregion tasks

// #region ops

// Apply executes the periodic and task requests of ops. Stops run before starts
// so a callback can restart an identifier in one go.
func (s *Scheduler) Apply(ops *data.CallbackOps) error {
	if ops == nil {
		return nil
	}
	for _, id := range ops.StopPeriodic {
		s.Stop(id)
	}
	for _, id := range ops.StopTask {
		s.StopTask(id)
	}
	var errs []error
	for _, p := range ops.StartPeriodic {
		if err := s.Start(p.ID, p.Period, p.Data); err != nil {
			errs = append(errs, err)
		}
	}
	for _, t := range ops.StartTask {
		if err := s.StartTask(t.ID, t.Period, t.Run); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Running reports whether a periodic send or task id is active.
func (s *Scheduler) Running(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, p := s.sends[id]
	_, t := s.tasks[id]
	return p || t
}

// Close stops everything and waits for the goroutines to exit.
func (s *Scheduler) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.cancel()
	clear(s.sends)
	clear(s.tasks)
	s.mu.Unlock()

	s.wg.Wait()
	return s.pubsub.Close()
}

// #endregion ops

// #region bookkeeping

// track registers a new job under id and adds it to the wait group while the
// lock is held, so Close never waits on a group missing a started goroutine.
func (s *Scheduler) track(m map[string]*job, id string) (context.Context, *job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, nil, ErrClosed
	}
	if prev, ok := m[id]; ok {
		prev.cancel()
	}
	ctx, cancel := context.WithCancel(s.ctx)
	j := &job{cancel: cancel}
	m[id] = j
	s.wg.Add(1)
	return ctx, j, nil
}

func (s *Scheduler) untrack(m map[string]*job, kind, id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := m[id]
	if !ok {
		log.Printf("[PERIODIC] stop unknown %s %s", kind, id)
		return false
	}
	j.cancel()
	delete(m, id)
	return true
}

// finish drops j once its goroutine is done, unless id was restarted since.
func (s *Scheduler) finish(m map[string]*job, id string, j *job) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j.cancel()
	if m[id] == j {
		delete(m, id)
	}
}

// #endregion bookkeeping
