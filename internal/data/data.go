package data

import (
	"maps"

	"github.com/google/uuid"
)

// #region data

// Data is one realized test input plus the metadata accumulated while producing it.
type Data struct {
	id        string
	content   Atom
	history   []MakerStep
	initial   *MakerStep
	info      []InfoEntry
	unusable  bool
	blocked   bool
	pending   bool
	origin    *Origin
	bundle    []*Data
	callbacks map[Hook][]Callback
}

// New wraps an atom into a fresh Data.
func New(content Atom) *Data {
	return &Data{id: uuid.New().String(), content: content}
}

// NewRaw wraps raw bytes into a fresh Data.
func NewRaw(name string, b []byte) *Data {
	return New(NewRawAtom(name, b))
}

// NewEmpty returns a Data without content, used for blocked, pending or terminal productions.
func NewEmpty() *Data {
	return &Data{id: uuid.New().String()}
}

// #endregion data

// #region content

func (d *Data) ID() string { return d.id }

// Content returns the wrapped atom, nil for empty data.
func (d *Data) Content() Atom { return d.content }

// SetContent replaces the wrapped atom.
func (d *Data) SetContent(a Atom) { d.content = a }

// Bytes serializes the content; empty data yields nil.
func (d *Data) Bytes() []byte {
	if d == nil || d.content == nil {
		return nil
	}
	return d.content.Bytes()
}

// Size is len(Bytes()).
func (d *Data) Size() int { return len(d.Bytes()) }

// IsEmpty reports whether d carries no payload. Nil-safe.
func (d *Data) IsEmpty() bool { return d == nil || d.content == nil }

// #endregion content

// #region flags

func (d *Data) MakeUnusable() { d.unusable = true }
func (d *Data) IsUnusable() bool { return d.unusable }
func (d *Data) MakeBlocked() { d.blocked = true }
func (d *Data) MakeUnblocked() { d.blocked = false }
func (d *Data) IsBlocked() bool { return d.blocked }

// MarkPending flags data whose content will be produced at HookBeforeSendingStep1.
func (d *Data) MarkPending() { d.pending = true }
func (d *Data) ClearPending() { d.pending = false }
func (d *Data) IsPending() bool { return d.pending }

// SetOrigin tags the data with the scenario that produced it.
func (d *Data) SetOrigin(o Origin) { d.origin = &o }

// Origin returns the scenario tag, nil when produced outside a scenario.
func (d *Data) Origin() *Origin { return d.origin }

// #endregion flags

// #region provenance

// History returns a copy of the provenance list.
func (d *Data) History() []MakerStep {
	return append([]MakerStep(nil), d.history...)
}

// SetHistory replaces the provenance list.
func (d *Data) SetHistory(h []MakerStep) {
	d.history = append([]MakerStep(nil), h...)
}

// AppendHistory adds one provenance entry.
func (d *Data) AppendHistory(s MakerStep) {
	d.history = append(d.history, s)
}

// SetInitialMaker records the step that created the data from scratch.
func (d *Data) SetInitialMaker(s MakerStep) { d.initial = &s }

// InitialMaker returns the generator step, if any.
func (d *Data) InitialMaker() (MakerStep, bool) {
	if d.initial == nil {
		return MakerStep{}, false
	}
	return *d.initial, true
}

// AddInfo appends a note to the info trail.
func (d *Data) AddInfo(typ, name, text string) {
	d.info = append(d.info, InfoEntry{Type: typ, Name: name, Text: text})
}

// Info returns a copy of the info trail.
func (d *Data) Info() []InfoEntry {
	return append([]InfoEntry(nil), d.info...)
}

// Provenance snapshots d into a record with the given outcome.
func (d *Data) Provenance(outcome, reason string) Provenance {
	p := Provenance{
		DataID:  d.id,
		History: d.History(),
		Info:    d.Info(),
		Outcome: outcome,
		Reason:  reason,
	}
	if d.initial != nil {
		s := *d.initial
		p.Initial = &s
	}
	if d.origin != nil {
		o := *d.origin
		p.Origin = &o
	}
	return p
}

// #endregion provenance

// #region bundle

// SetBundle attaches the follow-up parts that must be sent along with d.
func (d *Data) SetBundle(parts []*Data) {
	d.bundle = append([]*Data(nil), parts...)
}

// Bundle returns d followed by its attached parts.
func (d *Data) Bundle() []*Data {
	return append([]*Data{d}, d.bundle...)
}

// #endregion bundle

// #region callbacks

// RegisterCallback attaches cb to hook. Callbacks run in registration order.
func (d *Data) RegisterCallback(hook Hook, cb Callback) {
	if d.callbacks == nil {
		d.callbacks = make(map[Hook][]Callback)
	}
	d.callbacks[hook] = append(d.callbacks[hook], cb)
}

// HasCallbacks reports whether anything is registered for hook.
func (d *Data) HasCallbacks(hook Hook) bool {
	return len(d.callbacks[hook]) > 0
}

// RunCallbacks invokes the callbacks of hook and returns the non-empty ops they requested.
func (d *Data) RunCallbacks(hook Hook, fbk *Feedback) []*CallbackOps {
	var out []*CallbackOps
	for _, cb := range d.callbacks[hook] {
		if ops := cb(fbk); !ops.IsEmpty() {
			out = append(out, ops)
		}
	}
	return out
}

// ClearCallbacks drops every registered callback.
func (d *Data) ClearCallbacks() { d.callbacks = nil }

// #endregion callbacks

// #region clone

// Clone copies d under a new ID. The content Atom is shared; callbacks are not carried over.
func (d *Data) Clone() *Data {
	c := &Data{
		id:       uuid.New().String(),
		history:  d.History(),
		info:     d.Info(),
		unusable: d.unusable,
		blocked:  d.blocked,
		pending:  d.pending,
		content:  d.content,
	}
	if d.initial != nil {
		s := *d.initial
		s.UserInput = maps.Clone(s.UserInput)
		c.initial = &s
	}
	if d.origin != nil {
		o := *d.origin
		c.origin = &o
	}
	for _, p := range d.bundle {
		c.bundle = append(c.bundle, p.Clone())
	}
	return c
}

// #endregion clone
