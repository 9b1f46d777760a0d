package scenario

import (
	"github.com/danielpatrickdp/fuzzctl/internal/chain"
	"github.com/danielpatrickdp/fuzzctl/internal/data"
)

// #region item

// Item is one data descriptor of a Step: a literal Data, a named atom of the
// data model, or a DataProcess. Exactly one field is set.
type Item struct {
	Data    *data.Data
	Atom    string
	Process *DataProcess
}

// Literal wraps d as a Step item.
func Literal(d *data.Data) Item { return Item{Data: d} }

// AtomRef names an atom materialized by the data model when the Step runs.
func AtomRef(name string) Item { return Item{Atom: name} }

// Process wraps dp as a Step item.
func Process(dp *DataProcess) Item { return Item{Process: dp} }

func (it Item) clone() Item {
	switch {
	case it.Data != nil:
		return Item{Data: it.Data.Clone()}
	case it.Process != nil:
		return Item{Process: it.Process.Clone()}
	}
	return it
}

// #endregion item

// #region data-process

// DataProcess is a Step's declarative request for data: an ordered list of
// chain requests run one after the other, optionally seeded.
//
// A process is exhausted once its chain yields. The DataProcess is completed
// once every process has been exhausted at least once.
type DataProcess struct {
	processes [][]chain.Action
	seed      *Item
	autoRegen bool
	lazy      bool

	current   int
	exhausted []bool
	completed bool
	cached    *data.Data
}

// DPOption configures a DataProcess.
type DPOption func(*DataProcess)

// WithSeed feeds every process with the data produced by seed.
func WithSeed(seed Item) DPOption {
	return func(dp *DataProcess) { dp.seed = &seed }
}

// AutoRegen restarts from the first process once every process is exhausted.
func AutoRegen() DPOption {
	return func(dp *DataProcess) { dp.autoRegen = true }
}

// Lazy defers resolution to the before_sending_step1 hook.
func Lazy() DPOption {
	return func(dp *DataProcess) { dp.lazy = true }
}

// NewDataProcess returns a DataProcess running processes in order.
func NewDataProcess(processes [][]chain.Action, opts ...DPOption) *DataProcess {
	dp := &DataProcess{processes: processes, exhausted: make([]bool, len(processes))}
	for _, o := range opts {
		o(dp)
	}
	return dp
}

func (dp *DataProcess) Processes() [][]chain.Action { return dp.processes }
func (dp *DataProcess) Seed() *Item { return dp.seed }
func (dp *DataProcess) IsAutoRegen() bool { return dp.autoRegen }
func (dp *DataProcess) IsLazy() bool { return dp.lazy }
func (dp *DataProcess) Completed() bool { return dp.completed }
func (dp *DataProcess) Index() int { return dp.current }

// Current returns the chain request of the active process.
func (dp *DataProcess) Current() []chain.Action {
	if len(dp.processes) == 0 {
		return nil
	}
	return dp.processes[dp.current]
}

// MarkExhausted records that the active process yielded and moves to the next
// one. It returns false when no process is left to try in this round.
func (dp *DataProcess) MarkExhausted() bool {
	if len(dp.processes) == 0 {
		dp.completed = true
		return false
	}
	dp.exhausted[dp.current] = true
	if dp.current+1 < len(dp.processes) {
		dp.current++
		return true
	}
	dp.completed = true
	dp.current = 0
	if dp.autoRegen {
		clear(dp.exhausted)
		return true
	}
	return false
}

// Exhausted reports whether process i yielded at least once.
func (dp *DataProcess) Exhausted(i int) bool { return dp.exhausted[i] }

// CachedSeed returns the seed materialized during the current visit.
func (dp *DataProcess) CachedSeed() *data.Data { return dp.cached }

// CacheSeed keeps seed until the Step is left.
func (dp *DataProcess) CacheSeed(seed *data.Data) { dp.cached = seed }

// Outdate drops the cached seed. Called when the owning Step is left.
func (dp *DataProcess) Outdate() { dp.cached = nil }

// Reset forgets every exhaustion record.
func (dp *DataProcess) Reset() {
	dp.current = 0
	dp.completed = false
	dp.cached = nil
	clear(dp.exhausted)
}

// AppendAction returns a copy of dp where a is appended to every process.
func (dp *DataProcess) AppendAction(a chain.Action) *DataProcess {
	c := dp.Clone()
	for i, p := range c.processes {
		c.processes[i] = append(append([]chain.Action(nil), p...), a)
	}
	return c
}

// Clone copies the definition of dp with a fresh runtime state.
func (dp *DataProcess) Clone() *DataProcess {
	c := &DataProcess{
		processes: make([][]chain.Action, len(dp.processes)),
		autoRegen: dp.autoRegen,
		lazy:      dp.lazy,
		exhausted: make([]bool, len(dp.processes)),
	}
	for i, p := range dp.processes {
		c.processes[i] = append([]chain.Action(nil), p...)
	}
	if dp.seed != nil {
		s := dp.seed.clone()
		c.seed = &s
	}
	return c
}

// #endregion data-process
