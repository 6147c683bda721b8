package chain

import (
	"context"
	"errors"
	"os"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/bioimg/chainproc/internal/host"
	"github.com/bioimg/chainproc/internal/host/hostfake"
)

// stubStrategy records step invocations and fails at a chosen step.
type stubStrategy struct {
	calls  []string
	failAt string
	act    *activation
}

var errStub = errors.New("step failed")

func (s *stubStrategy) step(name string, act *activation) error {
	s.calls = append(s.calls, name)
	s.act = act
	if s.failAt == name {
		return errStub
	}
	return nil
}

func (s *stubStrategy) acquireParent(_ context.Context, act *activation) error {
	return s.step("acquireParent", act)
}

func (s *stubStrategy) parseOptions(_ context.Context, act *activation) error {
	return s.step("parseOptions", act)
}

func (s *stubStrategy) process(_ context.Context, act *activation) error {
	if err := s.step("process", act); err != nil {
		return err
	}
	// claim a temporary artifact so cleanup has something to release
	f, err := act.tmp.CreateFile(".tmp")
	if err != nil {
		return err
	}
	return f.Close()
}

func (s *stubStrategy) publishChild(_ context.Context, act *activation) error {
	if err := s.step("publishChild", act); err != nil {
		return err
	}
	act.child = act.parent
	return nil
}

func (s *stubStrategy) annotate(_ context.Context, act *activation) error {
	return s.step("annotate", act)
}

func launchStub(t *testing.T, failAt string) (*stubStrategy, host.Item, error) {
	t.Helper()
	f := hostfake.New()
	parent := f.AddItem("a.tiff", []byte("aa"))
	s := &stubStrategy{failAt: failAt}
	child, err := launch(context.Background(), s, &Runtime{Conn: f, Client: f, Importer: f}, nil, parent)
	return s, child, err
}

func TestLaunchRunsStepsInOrder(t *testing.T) {
	s, child, err := launchStub(t, "")
	require.NoError(t, err)
	require.Equal(t, []string{
		"acquireParent", "parseOptions", "process", "publishChild", "annotate",
	}, s.calls)
	require.NotNil(t, child)
	require.Equal(t, StateCleanedUp, s.act.state)
	require.True(t, s.act.tmp.Released())
}

func TestLaunchStopsAtFailedStep(t *testing.T) {
	s, child, err := launchStub(t, "parseOptions")
	require.ErrorIs(t, err, errStub)
	require.Nil(t, child)
	require.Equal(t, []string{"acquireParent", "parseOptions"}, s.calls)
	require.True(t, s.act.tmp.Released())
}

func TestLaunchReleasesTempOnEveryExit(t *testing.T) {
	for _, failAt := range []string{"", "acquireParent", "process", "publishChild", "annotate"} {
		s, _, _ := launchStub(t, failAt)
		require.True(t, s.act.tmp.Released(), "failAt=%q", failAt)
		require.Equal(t, StateCleanedUp, s.act.state, "failAt=%q", failAt)
	}
}

func TestLaunchRemovesTempArtifacts(t *testing.T) {
	f := hostfake.New()
	parent := f.AddItem("a.tiff", []byte("aa"))
	s := &stubStrategy{}
	_, err := launch(context.Background(), s, &Runtime{Conn: f, Client: f, Importer: f}, nil, parent)
	require.NoError(t, err)

	// the stub created one artifact during process
	require.NotNil(t, s.act)
	require.NotEmpty(t, s.act.tmp.dir)
	_, statErr := os.Stat(s.act.tmp.dir)
	require.True(t, os.IsNotExist(statErr))
}

func TestAcquireCollectionFirstWins(t *testing.T) {
	f := hostfake.New()
	c1 := f.AddCollection("one")
	c2 := f.AddCollection("two")
	parent := f.AddItem("a.tiff", []byte("aa"), c1.ID(), c2.ID())

	act := &activation{parent: parent}
	require.NoError(t, acquireCollection(context.Background(), act))
	require.Equal(t, c1.ID(), act.collectionID)
}

func TestPublishFileBindsChild(t *testing.T) {
	f := hostfake.New()
	coll := f.AddCollection("plate")
	parent := f.AddItem("a.tiff", []byte("aa"), coll.ID())

	tmp := NewTracker()
	t.Cleanup(func() { _ = tmp.Release() })
	out, err := tmp.CreateFile(".ome.tiff")
	require.NoError(t, err)
	_, err = out.WriteString("processed")
	require.NoError(t, err)
	require.NoError(t, out.Close())

	act := &activation{
		rt:           &Runtime{Conn: f, Client: f, Importer: f},
		parent:       parent,
		collectionID: coll.ID(),
		tmp:          tmp,
	}
	require.NoError(t, publishFile(context.Background(), act, out.Name()))
	require.NotNil(t, act.child)
	require.Equal(t, parent.Name(), act.child.Name())

	members, err := coll.Items(context.Background())
	require.NoError(t, err)
	require.Len(t, members, 2)
}

func TestPublishFileImportFailure(t *testing.T) {
	f := hostfake.New()
	parent := f.AddItem("a.tiff", []byte("aa"))
	f.ImportErr = errors.New("server rejected upload")

	act := &activation{
		rt:     &Runtime{Conn: f, Client: f, Importer: f},
		parent: parent,
		tmp:    NewTracker(),
	}
	err := publishFile(context.Background(), act, "/nonexistent")
	require.ErrorContains(t, err, "server rejected upload")
	require.Nil(t, act.child)
}

func TestAnnotateCrossRef(t *testing.T) {
	f := hostfake.New()
	parent := f.AddItem("a.tiff", []byte("aa"))
	child := f.AddItem("a.tiff", []byte("AA"))

	act := &activation{parent: parent, child: child}
	require.NoError(t, annotateCrossRef(context.Background(), act))

	pdesc, err := parent.Description(context.Background())
	require.NoError(t, err)
	require.Contains(t, pdesc, "parent of Image ID: 2")

	cdesc, err := child.Description(context.Background())
	require.NoError(t, err)
	require.Contains(t, cdesc, "child of Image ID: 1")
}

func TestKeepAliveNeverFails(t *testing.T) {
	rt := &Runtime{}
	// no connection at all must be tolerated
	rt.keepAlive(context.Background())

	f := hostfake.New()
	rt.Conn = f
	rt.keepAlive(context.Background())
	require.Equal(t, 1, f.KeepAlives())
}
