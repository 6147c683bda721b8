package chain

import (
	"bytes"
	"context"
	"fmt"

	"github.com/bioimg/chainproc/internal/host"
)

// Func is an in-process transformation: serialized image in, serialized
// image out. Failures should wrap the model taxonomy kinds where they
// apply (model.ErrInvalidParameter, model.ErrInvalidImage).
type Func func(ctx context.Context, in []byte, options map[string]any) ([]byte, error)

// FuncBlock runs its processing in-process. The image never touches the
// filesystem until publishing.
type FuncBlock struct {
	core
	fn        Func
	outSuffix string
}

func NewFuncBlock(spec Spec, fn Func) (*FuncBlock, error) {
	if fn == nil {
		return nil, fmt.Errorf("block %q: func is required", spec.Name)
	}
	return &FuncBlock{
		core:      newCore(spec),
		fn:        fn,
		outSuffix: ".ome.tiff",
	}, nil
}

func (b *FuncBlock) Launch(ctx context.Context, rt *Runtime, parent host.Item) (host.Item, error) {
	return launch(ctx, b, rt, b.options, parent)
}

func (b *FuncBlock) acquireParent(ctx context.Context, act *activation) error {
	if err := acquireCollection(ctx, act); err != nil {
		return err
	}
	var buf bytes.Buffer
	if err := act.parent.Export(ctx, &buf); err != nil {
		return fmt.Errorf("exporting image %d: %w", act.parent.ID(), err)
	}
	act.inBytes = buf.Bytes()
	return nil
}

func (b *FuncBlock) parseOptions(context.Context, *activation) error {
	return nil
}

func (b *FuncBlock) process(ctx context.Context, act *activation) error {
	out, err := b.fn(ctx, act.inBytes, act.options)
	if err != nil {
		return err
	}
	f, err := act.tmp.CreateFile(b.outSuffix)
	if err != nil {
		return err
	}
	defer func() {
		_ = f.Close()
	}()
	if _, err := f.Write(out); err != nil {
		return err
	}
	act.out = f.Name()
	return nil
}

func (b *FuncBlock) publishChild(ctx context.Context, act *activation) error {
	return publishFile(ctx, act, act.out)
}

func (b *FuncBlock) annotate(ctx context.Context, act *activation) error {
	return annotateCrossRef(ctx, act)
}
