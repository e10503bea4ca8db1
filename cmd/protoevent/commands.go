package main

import (
	"context"
	"encoding/hex"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/alecthomas/kingpin/v2"
	"github.com/go-kit/log/level"
	"github.com/pkg/errors"
	"github.com/protocolbuffers/protoscope"
	"golang.org/x/sync/errgroup"
)

// stdinName reads an input from stdin instead of a file.
const stdinName = "-"

// convertFunc turns the contents of one input into its output.
type convertFunc func(ctx context.Context, name string, data []byte) ([]byte, error)

// convertFiles runs fn over every input, at most limit at a time, and returns
// the outputs in input order. The first failure cancels the rest.
func (g *globals) convertFiles(ctx context.Context, names []string, limit int, fn convertFunc) ([][]byte, error) {
	inputs := make([][]byte, len(names))
	for i, name := range names {
		if name != stdinName {
			continue
		}
		data, err := io.ReadAll(g.stdin)
		if err != nil {
			return nil, errors.Wrap(err, "failed to read stdin")
		}
		inputs[i] = data
	}

	out := make([][]byte, len(names))
	eg, ctx := errgroup.WithContext(ctx)
	eg.SetLimit(limit)
	for i, name := range names {
		i, name := i, name
		eg.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			data := inputs[i]
			if name != stdinName {
				var err error
				if data, err = os.ReadFile(name); err != nil {
					return errors.Wrap(err, "failed to read input")
				}
			}
			res, err := fn(ctx, name, data)
			if err != nil {
				return errors.WithMessage(err, name)
			}
			out[i] = res
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// decodeCommand prints wire format inputs as JSON, one document per line.
type decodeCommand struct {
	g              *globals
	message        string
	files          []string
	useProtoNames  bool
	useEnumNumbers bool
}

func addDecodeCommand(app *kingpin.Application, g *globals) {
	cmd := &decodeCommand{g: g}
	c := app.Command("decode", "Convert wire format messages to JSON.")
	c.Flag("proto-names", "Use proto field names instead of JSON names.").BoolVar(&cmd.useProtoNames)
	c.Flag("enum-numbers", "Write enum values as numbers.").BoolVar(&cmd.useEnumNumbers)
	c.Arg("message", "Message type, full or short name.").Required().StringVar(&cmd.message)
	c.Arg("files", "Input files, - for stdin.").Default(stdinName).StringsVar(&cmd.files)
	c.Action(cmd.run)
}

func (cmd *decodeCommand) run(_ *kingpin.ParseContext) error {
	ctx := context.Background()
	e, err := cmd.g.setup(ctx)
	if err != nil {
		return err
	}
	e.pe.JSON.UseProtoNames = e.pe.JSON.UseProtoNames || cmd.useProtoNames
	e.pe.JSON.UseEnumNumbers = e.pe.JSON.UseEnumNumbers || cmd.useEnumNumbers

	out, err := cmd.g.convertFiles(ctx, cmd.files, e.cfg.Concurrency, func(_ context.Context, name string, data []byte) ([]byte, error) {
		level.Debug(e.logger).Log("msg", "decoding", "file", name, "bytes", len(data))
		return e.pe.ToJSON(data, cmd.message)
	})
	if err != nil {
		return err
	}
	for _, doc := range out {
		if _, err := cmd.g.stdout.Write(append(doc, '\n')); err != nil {
			return err
		}
	}
	return nil
}

// encodeCommand converts JSON inputs to the wire format.
type encodeCommand struct {
	g       *globals
	message string
	files   []string
	outDir  string
	hex     bool
}

func addEncodeCommand(app *kingpin.Application, g *globals) {
	cmd := &encodeCommand{g: g}
	c := app.Command("encode", "Convert JSON messages to wire format.")
	c.Flag("out-dir", "Write each result to <out-dir>/<input name>.bin instead of stdout.").Short('o').StringVar(&cmd.outDir)
	c.Flag("hex", "Print results as hex, one line per input.").BoolVar(&cmd.hex)
	c.Arg("message", "Message type, full or short name.").Required().StringVar(&cmd.message)
	c.Arg("files", "Input files, - for stdin.").Default(stdinName).StringsVar(&cmd.files)
	c.Action(cmd.run)
}

func (cmd *encodeCommand) run(_ *kingpin.ParseContext) error {
	ctx := context.Background()
	e, err := cmd.g.setup(ctx)
	if err != nil {
		return err
	}

	out, err := cmd.g.convertFiles(ctx, cmd.files, e.cfg.Concurrency, func(_ context.Context, name string, data []byte) ([]byte, error) {
		level.Debug(e.logger).Log("msg", "encoding", "file", name, "bytes", len(data))
		return e.pe.FromJSON(data, cmd.message)
	})
	if err != nil {
		return err
	}

	for i, data := range out {
		switch {
		case cmd.outDir != "":
			name := cmd.files[i]
			if name == stdinName {
				name = "stdin"
			}
			name = strings.TrimSuffix(filepath.Base(name), filepath.Ext(name)) + ".bin"
			path := filepath.Join(cmd.outDir, name)
			if err := os.WriteFile(path, data, 0o644); err != nil {
				return errors.Wrap(err, "failed to write output")
			}
			level.Info(e.logger).Log("msg", "wrote message", "path", path, "bytes", len(data))
		case cmd.hex:
			if _, err := io.WriteString(cmd.g.stdout, hex.EncodeToString(data)+"\n"); err != nil {
				return err
			}
		default:
			if _, err := cmd.g.stdout.Write(data); err != nil {
				return err
			}
		}
	}
	return nil
}

// dumpCommand prints wire format inputs as protoscope text. It needs no
// schema.
type dumpCommand struct {
	g     *globals
	files []string
}

func addDumpCommand(app *kingpin.Application, g *globals) {
	cmd := &dumpCommand{g: g}
	c := app.Command("dump", "Print wire format messages as protoscope text without a schema.")
	c.Arg("files", "Input files, - for stdin.").Default(stdinName).StringsVar(&cmd.files)
	c.Action(cmd.run)
}

func (cmd *dumpCommand) run(_ *kingpin.ParseContext) error {
	cfg, err := cmd.g.config()
	if err != nil {
		return err
	}
	out, err := cmd.g.convertFiles(context.Background(), cmd.files, cfg.Concurrency, func(_ context.Context, _ string, data []byte) ([]byte, error) {
		return []byte(protoscope.Write(data, protoscope.WriterOptions{})), nil
	})
	if err != nil {
		return err
	}
	for i, text := range out {
		if len(out) > 1 {
			if _, err := io.WriteString(cmd.g.stdout, "# "+cmd.files[i]+"\n"); err != nil {
				return err
			}
		}
		if _, err := cmd.g.stdout.Write(text); err != nil {
			return err
		}
	}
	return nil
}
