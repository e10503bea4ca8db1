package main

import (
	"bytes"
	"context"
	"io"
	"os"
	"strings"

	"github.com/alecthomas/kingpin/v2"
	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"github.com/anirudhraja/protoevent"
	"github.com/anirudhraja/protoevent/codec"
	"github.com/anirudhraja/protoevent/registry"
)

// Config is the optional YAML file given with --config. Command line flags
// take precedence over it.
type Config struct {
	ProtoPaths []string `yaml:"proto_paths"`
	ProtoFiles []string `yaml:"proto_files"`

	// Compile loads proto files with protocompile instead of go-protoparser.
	Compile bool `yaml:"compile"`

	Unknown          string `yaml:"unknown"`
	MaxDepth         int    `yaml:"max_depth"`
	AllowInvalidUTF8 bool   `yaml:"allow_invalid_utf8"`

	JSON JSONConfig `yaml:"json"`

	LogLevel    string `yaml:"log_level"`
	Concurrency int    `yaml:"concurrency"`
}

type JSONConfig struct {
	UseProtoNames  bool `yaml:"use_proto_names"`
	UseEnumNumbers bool `yaml:"use_enum_numbers"`
	DiscardUnknown bool `yaml:"discard_unknown"`
}

const defaultConcurrency = 4

// LoadConfig reads a YAML config file. Unknown keys are an error.
func LoadConfig(filename string) (*Config, error) {
	buf, err := os.ReadFile(filename)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read config")
	}
	var cfg Config
	dec := yaml.NewDecoder(bytes.NewReader(buf))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && err != io.EOF {
		return nil, errors.Wrapf(err, "failed to parse config %s", filename)
	}
	return &cfg, nil
}

// globals holds the flags shared by every command.
type globals struct {
	stdin          io.Reader
	stdout, stderr io.Writer

	configFile       string
	protoPaths       []string
	protoFiles       []string
	compile          bool
	unknown          string
	maxDepth         int
	allowInvalidUTF8 bool
	logLevel         string
	concurrency      int
}

func (g *globals) register(app *kingpin.Application) {
	app.Flag("config", "YAML config file.").Short('c').StringVar(&g.configFile)
	app.Flag("proto-path", "Directory searched for .proto files and imports. Repeatable.").Short('I').StringsVar(&g.protoPaths)
	app.Flag("proto", ".proto file to load, relative to a proto path. Repeatable.").Short('p').StringsVar(&g.protoFiles)
	app.Flag("compile", "Load .proto files with protocompile.").BoolVar(&g.compile)
	app.Flag("unknown", "Unknown field policy: strict or preserve (default preserve).").EnumVar(&g.unknown, "strict", "preserve")
	app.Flag("max-depth", "Maximum message nesting depth.").IntVar(&g.maxDepth)
	app.Flag("allow-invalid-utf8", "Pass string fields through without UTF-8 validation.").BoolVar(&g.allowInvalidUTF8)
	app.Flag("log.level", "Log level: debug, info, warn or error (default warn).").EnumVar(&g.logLevel, "debug", "info", "warn", "error")
	app.Flag("concurrency", "Number of input files processed at once.").IntVar(&g.concurrency)
}

// config merges the config file, if any, with the flags. The codec
// settings are left to codecConfig.
func (g *globals) config() (*Config, error) {
	cfg := &Config{}
	if g.configFile != "" {
		var err error
		if cfg, err = LoadConfig(g.configFile); err != nil {
			return nil, err
		}
	}
	cfg.ProtoPaths = append(cfg.ProtoPaths, g.protoPaths...)
	cfg.ProtoFiles = append(cfg.ProtoFiles, g.protoFiles...)
	cfg.Compile = cfg.Compile || g.compile
	cfg.AllowInvalidUTF8 = cfg.AllowInvalidUTF8 || g.allowInvalidUTF8
	if g.logLevel != "" {
		cfg.LogLevel = g.logLevel
	}
	if g.concurrency != 0 {
		cfg.Concurrency = g.concurrency
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = defaultConcurrency
	}
	return cfg, nil
}

func newLogger(w io.Writer, lvl string) (log.Logger, error) {
	var opt level.Option
	switch strings.ToLower(lvl) {
	case "debug":
		opt = level.AllowDebug()
	case "info":
		opt = level.AllowInfo()
	case "", "warn":
		opt = level.AllowWarn()
	case "error":
		opt = level.AllowError()
	default:
		return nil, errors.Errorf("invalid log level %q", lvl)
	}
	logger := log.NewLogfmtLogger(log.NewSyncWriter(w))
	logger = level.NewFilter(logger, opt)
	return log.With(logger, "ts", log.DefaultTimestampUTC), nil
}

// codecConfig builds the decoder and encoder config. The environment
// overrides the config file and flags override both.
func (g *globals) codecConfig(cfg *Config) (codec.Config, error) {
	out := codec.NewConfig(codec.UnknownPreserve)
	if cfg.Unknown != "" {
		p, err := codec.ParseUnknownPolicy(cfg.Unknown)
		if err != nil {
			return out, errors.Wrap(err, "config")
		}
		out.Unknown = p
	}
	if cfg.MaxDepth != 0 {
		out.MaxDepth = cfg.MaxDepth
	}
	out.AllowInvalidUTF8 = cfg.AllowInvalidUTF8

	out, err := out.FromEnv()
	if err != nil {
		return out, err
	}

	if g.unknown != "" {
		p, err := codec.ParseUnknownPolicy(g.unknown)
		if err != nil {
			return out, err
		}
		out.Unknown = p
	}
	if g.maxDepth != 0 {
		out.MaxDepth = g.maxDepth
	}
	return out, out.Validate()
}

// env is what a command needs once the schemas are loaded.
type env struct {
	cfg    *Config
	logger log.Logger
	pe     *protoevent.Protoevent
}

// setup loads the configured proto files into a registry and returns a
// Protoevent over it.
func (g *globals) setup(ctx context.Context) (*env, error) {
	cfg, err := g.config()
	if err != nil {
		return nil, err
	}
	logger, err := newLogger(g.stderr, cfg.LogLevel)
	if err != nil {
		return nil, err
	}
	if len(cfg.ProtoFiles) == 0 {
		return nil, errors.New("no .proto files given, use --proto or proto_files")
	}

	r, err := registry.NewRegistry(
		registry.WithLogger(logger),
		registry.WithProtoDirectories(cfg.ProtoPaths...),
	)
	if err != nil {
		return nil, err
	}
	if cfg.Compile {
		err = r.Compile(ctx, cfg.ProtoFiles...)
	} else {
		for _, f := range cfg.ProtoFiles {
			if err = r.LoadSchemaFromFile(f); err != nil {
				break
			}
		}
	}
	if err != nil {
		return nil, err
	}
	if _, err := r.Build(); err != nil {
		return nil, err
	}

	cc, err := g.codecConfig(cfg)
	if err != nil {
		return nil, err
	}
	pe, err := protoevent.New(r, cc)
	if err != nil {
		return nil, err
	}
	pe.JSON.UseProtoNames = cfg.JSON.UseProtoNames
	pe.JSON.UseEnumNumbers = cfg.JSON.UseEnumNumbers
	pe.FromJSONOptions.DiscardUnknown = cfg.JSON.DiscardUnknown

	level.Info(logger).Log("msg", "schemas loaded", "files", len(cfg.ProtoFiles), "messages", len(pe.ListMessages()), "unknown", cc.Unknown)
	return &env{cfg: cfg, logger: logger, pe: pe}, nil
}
