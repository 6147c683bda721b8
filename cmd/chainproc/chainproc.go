package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"strings"

	"github.com/bioimg/chainproc/internal/chain"
	"github.com/bioimg/chainproc/internal/host"
	"github.com/bioimg/chainproc/internal/host/hostfake"
	"github.com/bioimg/chainproc/internal/importcli"
	"github.com/bioimg/chainproc/internal/model"
	"gopkg.in/yaml.v3"
)

// Runner is a component, which wires the configured block chain to a
// local image directory and executes it.
type Runner struct {
	chain *chain.Chain
	fake  *hostfake.Fake
	rt    *chain.Runtime
}

type RunnerOptions struct {
	// Dir holds the images: regular files are addressable as images,
	// first-level subdirectories as datasets.
	Dir      string
	DataType string
	IDs      []int64
	// Params are block parameters as name=value strings.
	Params []string
}

func NewRunner(ctx context.Context, config model.Config, opts RunnerOptions) (*Runner, error) {
	if config.Version != 0 {
		return nil, fmt.Errorf("config version %d is not supported, expected 0", config.Version)
	}
	if opts.Dir == "" {
		return nil, fmt.Errorf("no image directory given, use --dir")
	}

	blocks, err := blocksFromConfig(ctx, config)
	if err != nil {
		return nil, err
	}
	c, err := chain.New(blocks...)
	if err != nil {
		return nil, err
	}

	fake, err := hostfake.FromDir(opts.Dir)
	if err != nil {
		return nil, err
	}
	fake = fake.WithEndpoint(config.Endpoint)

	inputs := map[string]any{
		chain.ParamDataType: opts.DataType,
		chain.ParamIDs:      opts.IDs,
	}
	for _, p := range opts.Params {
		name, value, ok := strings.Cut(p, "=")
		if !ok {
			return nil, fmt.Errorf("parameter %q is not name=value", p)
		}
		inputs[name] = value
	}
	fake.SetInputs(inputs)

	return &Runner{
		chain: c,
		fake:  fake,
		rt: &chain.Runtime{
			Conn:         fake,
			Client:       fake,
			Importer:     fake,
			PollInterval: config.Supervise.Poll(),
		},
	}, nil
}

func (r *Runner) Do(ctx context.Context, out io.Writer) error {
	report, err := r.chain.Run(ctx, r.rt)
	if err != nil {
		return err
	}
	slog.InfoContext(ctx, "chain finished", "items", report.Items, "failed", report.Failed)
	_, err = fmt.Fprintln(out, report.Message())
	return err
}

// blocksFromConfig turns the declared block list into processing blocks.
// Only external binary blocks are expressible in configuration; session
// and in-process blocks need code and are assembled by embedders.
func blocksFromConfig(_ context.Context, config model.Config) ([]chain.Block, error) {
	blocks := make([]chain.Block, 0, len(config.Blocks))
	for _, b := range config.Blocks {
		if b.Type != "bin" {
			return nil, fmt.Errorf("block %q: unsupported type %q", b.Name, b.Type)
		}
		var path string
		if b.Bin != nil {
			path = *b.Bin
		}
		block, err := chain.NewBinBlock(chain.Spec{
			Name:  b.Name,
			Title: b.Name,
		}, chain.BinConfig{
			Path:    path,
			Args:    templateArgs(b.Argv),
			Timeout: b.TimeoutDuration(config.Supervise.TimeoutDuration()),
		})
		if err != nil {
			return nil, err
		}
		blocks = append(blocks, block)
	}
	if len(blocks) == 0 {
		return nil, fmt.Errorf("no blocks configured: %w", model.ErrNoBlocks)
	}
	return blocks, nil
}

// templateArgs expands the {in} and {out} placeholders of a configured
// argument vector.
func templateArgs(argv []string) chain.ArgsFunc {
	return func(in, out string, _ map[string]any) ([]string, error) {
		expanded := make([]string, 0, len(argv))
		for _, a := range argv {
			a = strings.ReplaceAll(a, "{in}", in)
			a = strings.ReplaceAll(a, "{out}", out)
			expanded = append(expanded, a)
		}
		return expanded, nil
	}
}

func printSchema(out io.Writer, blocks []chain.Block) error {
	params, err := chain.MergeParams(blocks...)
	if err != nil {
		return err
	}

	type paramDoc struct {
		Name        string   `yaml:"name"`
		Type        string   `yaml:"type"`
		Description string   `yaml:"description,omitempty"`
		Optional    bool     `yaml:"optional,omitempty"`
		Default     any      `yaml:"default,omitempty"`
		Values      []string `yaml:"values,omitempty"`
		Grouping    string   `yaml:"grouping"`
	}
	docs := make([]paramDoc, 0, len(params))
	for _, p := range params {
		docs = append(docs, paramDoc{
			Name:        p.Name,
			Type:        p.Kind.String(),
			Description: p.Description,
			Optional:    p.Optional,
			Default:     p.Default,
			Values:      p.Values,
			Grouping:    p.Grouping,
		})
	}

	enc := yaml.NewEncoder(out)
	defer func() {
		_ = enc.Close()
	}()
	return enc.Encode(docs)
}

func runImport(ctx context.Context, config model.Config, path, name string, collection int64) (int64, error) {
	tool, err := exec.LookPath(config.Import.Tool)
	if err != nil {
		return 0, fmt.Errorf("import tool %q: %w", config.Import.Tool, model.ErrNoBin)
	}
	imp := &importcli.Tool{
		Path:         tool,
		PollInterval: config.Supervise.Poll(),
		Timeout:      config.Supervise.TimeoutDuration(),
	}
	return imp.Import(ctx, host.ImportRequest{
		Path:         path,
		Name:         name,
		CollectionID: collection,
	})
}
