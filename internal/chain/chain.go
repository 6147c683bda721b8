package chain

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/bioimg/chainproc/internal/host"
	"github.com/bioimg/chainproc/internal/log"
	"github.com/bioimg/chainproc/internal/model"
	"github.com/bioimg/chainproc/internal/schema"
)

// Names of the general selection parameters, always first in the merged
// schema.
const (
	ParamDataType = "Data_Type"
	ParamIDs      = "IDs"

	DataTypeImage   = "Image"
	DataTypeDataset = "Dataset"
)

// DefaultEndpoint is used when routing endpoint discovery yields nothing.
const DefaultEndpoint = "localhost"

// Chain is an ordered, fixed-at-construction sequence of blocks applied
// to every resolved item.
type Chain struct {
	blocks []Block
	title  string
	doc    string
	params []schema.Param
}

// New builds a chain. Zero blocks is a construction error. A single
// block lends the chain its title and documentation; composing them for
// multiple blocks is an unimplemented extension and rejected.
func New(blocks ...Block) (*Chain, error) {
	switch len(blocks) {
	case 0:
		return nil, model.ErrNoBlocks
	case 1:
		// ok
	default:
		return nil, fmt.Errorf("chain title and doc composition: %w", model.ErrMultipleBlocks)
	}

	params, err := MergeParams(blocks...)
	if err != nil {
		return nil, err
	}

	return &Chain{
		blocks: blocks,
		title:  blocks[0].Title(),
		doc:    blocks[0].Doc(),
		params: params,
	}, nil
}

func (c *Chain) Title() string { return c.title }
func (c *Chain) Doc() string   { return c.doc }

// Params returns the merged external-facing parameter schema.
func (c *Chain) Params() []schema.Param {
	return append([]schema.Param(nil), c.params...)
}

// MergeParams merges block parameter declarations into one schema: the
// general selection parameters first, then per block an enable flag
// followed by the block's own parameters, each re-tagged with a grouping
// key prefixed by the zero-padded block ordinal so any rendered form
// keeps block-sequential, parameter-sequential order. A parameter name
// appearing twice is a construction-time defect.
func MergeParams(blocks ...Block) ([]schema.Param, error) {
	params := []schema.Param{
		{
			Name:        ParamDataType,
			Kind:        schema.KindString,
			Description: "Choose Images by their IDs or via their 'Dataset'",
			Default:     DataTypeImage,
			Values:      []string{DataTypeDataset, DataTypeImage},
			Grouping:    "0.1",
		},
		{
			Name:        ParamIDs,
			Kind:        schema.KindList,
			Description: "List of Dataset IDs or Image IDs",
			Grouping:    "0.2",
		},
	}

	seen := make(map[string]struct{}, len(params))
	for _, p := range params {
		seen[p.Name] = struct{}{}
	}

	width := len(strconv.Itoa(len(blocks)))
	for n, b := range blocks {
		subgroup := fmt.Sprintf("%0*d", width, n+1)

		enable := schema.Param{
			Name:     b.Title(),
			Kind:     schema.KindBool,
			Default:  true,
			Grouping: subgroup,
		}
		if _, ok := seen[enable.Name]; ok {
			return nil, fmt.Errorf("parameter %q: %w", enable.Name, model.ErrDuplicateParam)
		}
		seen[enable.Name] = struct{}{}
		params = append(params, enable)

		for _, p := range b.Params() {
			if _, ok := seen[p.Name]; ok {
				return nil, fmt.Errorf("parameter %q: %w", p.Name, model.ErrDuplicateParam)
			}
			seen[p.Name] = struct{}{}
			params = append(params, p.WithGroupPrefix(subgroup))
		}
	}
	return params, nil
}

// resolveItems turns submitted identifiers into the working set. Image
// identifiers address items directly; Dataset identifiers expand to their
// member items, flattened in collection order then member order, without
// deduplication across collections.
func (c *Chain) resolveItems(ctx context.Context, conn host.Conn, dataType string, ids []int64) ([]host.Item, error) {
	var items []host.Item
	switch dataType {
	case DataTypeImage:
		for _, id := range ids {
			it, err := conn.Item(ctx, id)
			if err != nil {
				slog.WarnContext(ctx, "image not found, skipping", "id", id, "error", err)
				continue
			}
			items = append(items, it)
		}
	case DataTypeDataset:
		for _, id := range ids {
			coll, err := conn.Collection(ctx, id)
			if err != nil {
				slog.WarnContext(ctx, "dataset not found, skipping", "id", id, "error", err)
				continue
			}
			members, err := coll.Items(ctx)
			if err != nil {
				return nil, fmt.Errorf("listing dataset %d: %w", id, err)
			}
			items = append(items, members...)
		}
	default:
		return nil, fmt.Errorf("data type %q: %w", dataType, model.ErrInvalidParameter)
	}
	return items, nil
}

// Run executes the chain: resolves the routing endpoint, reads and
// partitions the submitted parameters, resolves the working set and
// drives every item through the block sequence. A failing item is
// counted and never aborts the rest of the batch. The aggregate report is
// delivered as the single "Message" output and also returned.
func (c *Chain) Run(ctx context.Context, rt *Runtime) (Report, error) {
	rt.Host = rt.Client.Endpoint()
	if rt.Host == "" {
		rt.Host = DefaultEndpoint
	}

	inputs, err := rt.Client.Inputs(ctx)
	if err != nil {
		return Report{}, fmt.Errorf("reading submitted parameters: %w", err)
	}

	// partition submitted values per block by declared name; the host
	// elides optional parameters the user left unset, so absent names
	// are silently omitted
	for _, b := range c.blocks {
		opts := make(map[string]any)
		for _, p := range b.Params() {
			if v, ok := inputs[p.Name]; ok {
				opts[p.Name] = v
			}
		}
		b.SetOptions(opts)
	}

	dataType, _ := inputs[ParamDataType].(string)
	if dataType == "" {
		dataType = DataTypeImage
	}
	items, err := c.resolveItems(ctx, rt.Conn, dataType, toIDs(inputs[ParamIDs]))
	if err != nil {
		return Report{}, err
	}

	var report Report
	for _, item := range items {
		report.Items++
		ictx := log.ContextAttrs(ctx, slog.Int64("item", item.ID()))

		parent := item
		var failed error
		for _, b := range c.blocks {
			child, err := b.Launch(ictx, rt, parent)
			if err != nil {
				failed = err
				break
			}
			parent = child
		}
		if failed != nil {
			report.Failed++
			slog.ErrorContext(ictx, "processing failed", "error", failed)
			continue
		}
		slog.DebugContext(ictx, "processed", "child", parent.ID())
	}

	msg := report.Message()
	if err := rt.Client.SetOutput(ctx, "Message", msg); err != nil {
		return report, fmt.Errorf("delivering report: %w", err)
	}
	return report, nil
}

// toIDs normalizes the submitted identifier list; hosts deliver numbers
// in whatever width their serialization uses.
func toIDs(v any) []int64 {
	switch list := v.(type) {
	case nil:
		return nil
	case []int64:
		return list
	case []int:
		out := make([]int64, 0, len(list))
		for _, id := range list {
			out = append(out, int64(id))
		}
		return out
	case []any:
		out := make([]int64, 0, len(list))
		for _, e := range list {
			if id, ok := toID(e); ok {
				out = append(out, id)
			}
		}
		return out
	default:
		return nil
	}
}

func toID(v any) (int64, bool) {
	switch id := v.(type) {
	case int64:
		return id, true
	case int:
		return int64(id), true
	case float64:
		return int64(id), true
	case string:
		parsed, err := strconv.ParseInt(id, 10, 64)
		return parsed, err == nil
	default:
		return 0, false
	}
}
