// Package chain implements the processing engine: blocks with a fixed
// activation lifecycle, the strategies executing them (external binary,
// interactive session, in-process code) and the chain driving every
// resolved item through the block sequence.
package chain

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/bioimg/chainproc/internal/host"
	"github.com/bioimg/chainproc/internal/schema"
)

// State of one block activation. Every activation ends in CleanedUp,
// whichever stage failed before.
type State int

const (
	StateCreated State = iota
	StateParentAcquired
	StateOptionsParsed
	StateProcessed
	StateChildPublished
	StateAnnotated
	StateDone
	StateFailed
	StateCleanedUp
)

func (s State) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateParentAcquired:
		return "parent-acquired"
	case StateOptionsParsed:
		return "options-parsed"
	case StateProcessed:
		return "processed"
	case StateChildPublished:
		return "child-published"
	case StateAnnotated:
		return "annotated"
	case StateDone:
		return "done"
	case StateFailed:
		return "failed"
	case StateCleanedUp:
		return "cleaned-up"
	default:
		return "unknown"
	}
}

// Runtime carries the shared host handles of one chain activation. The
// connection is shared read-mostly by all blocks; only one block's
// subprocess is ever active at a time.
type Runtime struct {
	Conn     host.Conn
	Client   host.Client
	Importer host.Importer

	// Host is the resolved routing endpoint, set by Chain.Run.
	Host string

	// PollInterval for subprocess supervision, zero for the default.
	PollInterval time.Duration
}

// keepAlive emits the liveness signal. A failed signal is logged and
// never fails the poll loop: the host times dead connections out itself.
func (rt *Runtime) keepAlive(ctx context.Context) {
	if rt.Conn == nil {
		return
	}
	if err := rt.Conn.KeepAlive(ctx); err != nil {
		slog.WarnContext(ctx, "keepalive failed", "error", err)
	}
}

// Meta is block authorship metadata. Every block holds its own copies of
// the slices so repeated block types in a chain can never share state.
type Meta struct {
	Version      string
	Authors      []string
	Institutions []string
	Contact      string
}

func (m Meta) clone() Meta {
	m.Authors = append([]string(nil), m.Authors...)
	m.Institutions = append([]string(nil), m.Institutions...)
	return m
}

// Spec is the immutable configuration of a block: identity, documentation
// and the declared parameter schema.
type Spec struct {
	// Name is the block's type identifier, also used to resolve its
	// executable from the search path when no explicit path is given.
	Name   string
	Title  string
	Doc    string
	Meta   Meta
	Params []schema.Param
}

// Block is one processing step. Blocks are configured once and activated
// once per item; all per-activation state lives in the activation value,
// never on the block.
type Block interface {
	Name() string
	Title() string
	Doc() string
	Meta() Meta
	Params() []schema.Param

	// SetOptions hands the block its partition of the submitted
	// parameter values before the first activation.
	SetOptions(opts map[string]any)

	// Launch drives the full lifecycle against one parent item and
	// returns the published child.
	Launch(ctx context.Context, rt *Runtime, parent host.Item) (host.Item, error)
}

// core carries the configuration shared by every block variant.
type core struct {
	spec    Spec
	options map[string]any
}

func newCore(spec Spec) core {
	spec.Meta = spec.Meta.clone()
	spec.Params = append([]schema.Param(nil), spec.Params...)
	return core{spec: spec}
}

func (c *core) Name() string          { return c.spec.Name }
func (c *core) Title() string         { return c.spec.Title }
func (c *core) Doc() string           { return c.spec.Doc }
func (c *core) Meta() Meta            { return c.spec.Meta.clone() }
func (c *core) Params() []schema.Param {
	return append([]schema.Param(nil), c.spec.Params...)
}

func (c *core) SetOptions(opts map[string]any) { c.options = opts }

// activation is the per-item, per-block runtime state. It must never leak
// between items or blocks, which is why each Launch builds a fresh one.
type activation struct {
	rt    *Runtime
	state State

	parent       host.Item
	child        host.Item
	collectionID int64 // destination; zero when the parent is uncollected

	options map[string]any
	tmp     *Tracker

	in      string // exported parent image file
	inBytes []byte // in-memory input, in-process blocks only
	out     string // expected output image file
	logPath string
	logFile *os.File
}

// strategy is the closed set of lifecycle step implementations. Each
// variant specializes only the steps it needs; the shared driver owns
// ordering, failure transitions and guaranteed cleanup.
type strategy interface {
	acquireParent(ctx context.Context, act *activation) error
	parseOptions(ctx context.Context, act *activation) error
	process(ctx context.Context, act *activation) error
	publishChild(ctx context.Context, act *activation) error
	annotate(ctx context.Context, act *activation) error
}

// launch drives one activation through the state machine. Temporary
// resources are released exactly once on every exit path.
func launch(ctx context.Context, s strategy, rt *Runtime, options map[string]any, parent host.Item) (child host.Item, err error) {
	act := &activation{
		rt:      rt,
		state:   StateCreated,
		parent:  parent,
		options: options,
		tmp:     NewTracker(),
	}
	defer func() {
		if act.logFile != nil {
			_ = act.logFile.Close()
		}
		if rerr := act.tmp.Release(); rerr != nil {
			slog.WarnContext(ctx, "releasing temporary resources", "error", rerr)
		}
		act.state = StateCleanedUp
	}()

	steps := []struct {
		next State
		fn   func(context.Context, *activation) error
	}{
		{StateParentAcquired, s.acquireParent},
		{StateOptionsParsed, s.parseOptions},
		{StateProcessed, s.process},
		{StateChildPublished, s.publishChild},
		{StateAnnotated, s.annotate},
	}
	for _, step := range steps {
		if err := step.fn(ctx, act); err != nil {
			act.state = StateFailed
			return nil, err
		}
		act.state = step.next
	}
	act.state = StateDone
	return act.child, nil
}

// acquireCollection resolves the destination collection of the parent.
// An item can be a member of several collections; the first listed wins
// (single-parent assumption, not disambiguated further).
func acquireCollection(ctx context.Context, act *activation) error {
	ids, err := act.parent.CollectionIDs(ctx)
	if err != nil {
		return fmt.Errorf("resolving parent collections: %w", err)
	}
	if len(ids) > 0 {
		act.collectionID = ids[0]
	}
	return nil
}

// exportParent writes the parent image into a tracked temporary file and
// reserves the output path for the processing step.
func exportParent(ctx context.Context, act *activation, inSuffix, outSuffix string) error {
	f, err := act.tmp.CreateFile(inSuffix)
	if err != nil {
		return err
	}
	defer func() {
		_ = f.Close()
	}()
	if err := act.parent.Export(ctx, f); err != nil {
		return fmt.Errorf("exporting image %d: %w", act.parent.ID(), err)
	}
	act.in = f.Name()

	out, err := act.tmp.Path(outSuffix)
	if err != nil {
		return err
	}
	act.out = out
	return nil
}

// publishFile imports the processed image file as a new item and binds it
// as the activation's child.
func publishFile(ctx context.Context, act *activation, path string) error {
	id, err := act.rt.Importer.Import(ctx, host.ImportRequest{
		Path:         path,
		Name:         act.parent.Name(),
		CollectionID: act.collectionID,
	})
	if err != nil {
		return fmt.Errorf("importing processed image: %w", err)
	}
	if id == 0 {
		return fmt.Errorf("unable to get imported image ID")
	}
	child, err := act.rt.Conn.Item(ctx, id)
	if err != nil {
		return fmt.Errorf("fetching imported image %d: %w", id, err)
	}
	act.child = child
	return nil
}

// annotateCrossRef leaves a note on parent and child descriptions pointing
// at each other. The host has no first-class parent/child relationship, a
// description line in this style is what its clients render as a link.
func annotateCrossRef(ctx context.Context, act *activation) error {
	if err := appendDescription(ctx, act.parent, "parent of", act.child.ID()); err != nil {
		return err
	}
	return appendDescription(ctx, act.child, "child of", act.parent.ID())
}

func appendDescription(ctx context.Context, it host.Item, relationship string, to int64) error {
	desc, err := it.Description(ctx)
	if err != nil {
		return fmt.Errorf("reading description of %d: %w", it.ID(), err)
	}
	desc = desc + "\n" + fmt.Sprintf("%s Image ID: %d", relationship, to)
	if err := it.SetDescription(ctx, desc); err != nil {
		return fmt.Errorf("annotating %d: %w", it.ID(), err)
	}
	return nil
}

// attachLog attaches the activation log to the child when non-empty.
func attachLog(ctx context.Context, act *activation, name string) error {
	if act.logPath == "" {
		return nil
	}
	if act.logFile != nil {
		if err := act.logFile.Sync(); err != nil {
			return err
		}
	}
	info, err := os.Stat(act.logPath)
	if err != nil {
		return err
	}
	if info.Size() == 0 {
		return nil
	}
	return act.child.AttachFile(ctx, act.logPath, name)
}
