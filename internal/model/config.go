package model

import (
	"io"
	"time"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/encoding/yaml"

	_ "embed"
)

//go:embed config.cue
var cueSource []byte

var (
	cueCtx *cue.Context
	schema cue.Value
)

func init() {
	if len(cueSource) == 0 {
		panic("variable cueSource is empty")
	}
	cueCtx = cuecontext.New()
	compiled := cueCtx.CompileBytes(cueSource)
	if compiled.Err() != nil {
		panic(compiled.Err())
	}

	if err := compiled.Validate(); err != nil {
		panic(err)
	}

	schema = compiled.LookupPath(cue.ParsePath("#Config"))
	if schema.Err() != nil {
		panic(schema.Err())
	}
	if err := schema.Validate(); err != nil {
		panic(err)
	}
}

type Config struct {
	Version   int       `json:"version" yaml:"version"` // fixed 0 for now
	Endpoint  string    `json:"endpoint,omitempty" yaml:"endpoint,omitempty"`
	Import    Import    `json:"import" yaml:"import"`
	Supervise Supervise `json:"supervise" yaml:"supervise"`
	Session   *Session  `json:"session,omitempty" yaml:"session,omitempty"`
	Blocks    []Block   `json:"blocks,omitempty" yaml:"blocks,omitempty"`
	Service   Service   `json:"service" yaml:"service"`
}

// Import tool configuration. The tool is the host's out-of-process import
// facility used to publish processed images back.
type Import struct {
	Tool string `json:"tool" yaml:"tool"`
}

// Supervise holds the subprocess polling settings. Duration fields are
// human readable strings ("10s", "1h30m"); format is enforced by the CUE
// schema so the accessors below cannot fail on a validated config.
type Supervise struct {
	PollInterval string `json:"pollInterval,omitempty" yaml:"pollInterval,omitempty"`
	Timeout      string `json:"timeout,omitempty" yaml:"timeout,omitempty"`
}

func (s Supervise) Poll() time.Duration {
	if s.PollInterval == "" {
		return 10 * time.Second
	}
	return mustDuration(s.PollInterval)
}

// TimeoutDuration returns the default processing timeout, zero means no
// timeout at all.
func (s Supervise) TimeoutDuration() time.Duration {
	if s.Timeout == "" {
		return 0
	}
	return mustDuration(s.Timeout)
}

// Session configures the interactive interpreter used by session blocks.
type Session struct {
	Interpreter string   `json:"interpreter" yaml:"interpreter"`
	Args        []string `json:"args,omitempty" yaml:"args,omitempty"`
	Settle      string   `json:"settle,omitempty" yaml:"settle,omitempty"`
}

func (s Session) SettleDuration() time.Duration {
	if s.Settle == "" {
		return 5 * time.Second
	}
	return mustDuration(s.Settle)
}

// Block declares one processing step. Argv is the argument vector template
// for bin blocks, where the placeholders {in} and {out} expand to the
// exported parent image file and the expected output file.
type Block struct {
	Type    string   `json:"type" yaml:"type"` // "bin"
	Name    string   `json:"name" yaml:"name"`
	Bin     *string  `json:"bin,omitempty" yaml:"bin,omitempty"`
	Argv    []string `json:"argv,omitempty" yaml:"argv,omitempty"`
	Timeout *string  `json:"timeout,omitempty" yaml:"timeout,omitempty"`
}

func (b Block) TimeoutDuration(fallback time.Duration) time.Duration {
	if b.Timeout == nil || *b.Timeout == "" {
		return fallback
	}
	return mustDuration(*b.Timeout)
}

type Service struct {
	Verbose bool `json:"verbose,omitempty" yaml:"verbose,omitempty"`
}

func DefaultConfig() Config {
	return Config{
		Version:  0,
		Endpoint: "localhost",
		Import:   Import{Tool: "ome-import"},
		Supervise: Supervise{
			PollInterval: "10s",
		},
		Service: Service{},
	}
}

// LoadConfig validates YAML from r against the CUE schema and decodes it.
func LoadConfig(r io.Reader) (*Config, error) {
	yamlFile, err := yaml.Extract("config.yaml", r)
	if err != nil {
		return nil, err
	}
	yamlValue := cueCtx.BuildFile(yamlFile)

	unified := schema.Unify(yamlValue)
	if err := unified.Validate(
		cue.All(),          // all constraints
		cue.Concrete(true), // no incomplete values
	); err != nil {
		return nil, err
	}

	var out Config
	if err := unified.Decode(&out); err != nil {
		return nil, err
	}

	return &out, nil
}

func mustDuration(s string) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil {
		panic("duration not caught by config schema: " + s)
	}
	return d
}
