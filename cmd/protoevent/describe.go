package main

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/alecthomas/kingpin/v2"
	"github.com/pkg/errors"

	"github.com/anirudhraja/protoevent/registry"
	"github.com/anirudhraja/protoevent/schema"
)

// describeCommand prints loaded types in .proto syntax.
type describeCommand struct {
	g     *globals
	names []string
}

func addDescribeCommand(app *kingpin.Application, g *globals) {
	cmd := &describeCommand{g: g}
	c := app.Command("describe", "Print loaded messages and enums. With no names, print all of them.")
	c.Arg("names", "Message or enum names, full or short.").StringsVar(&cmd.names)
	c.Action(cmd.run)
}

func (cmd *describeCommand) run(_ *kingpin.ParseContext) error {
	e, err := cmd.g.setup(context.Background())
	if err != nil {
		return err
	}
	r := e.pe.GetRegistry()

	names := cmd.names
	if len(names) == 0 {
		names = append(e.pe.ListMessages(), e.pe.ListEnums()...)
	}
	var b strings.Builder
	for i, name := range names {
		if i > 0 {
			b.WriteByte('\n')
		}
		if err := describe(&b, r, name); err != nil {
			return err
		}
	}
	_, err = io.WriteString(cmd.g.stdout, b.String())
	return err
}

// describe writes the message or enum called name. Messages win when a short
// name matches both.
func describe(w io.Writer, r *registry.Registry, name string) error {
	m, err := r.GetMessage(name)
	if err == nil {
		writeMessage(w, m)
		return nil
	}
	if !errors.Is(err, registry.ErrNotFound) {
		return err
	}
	en, err := r.GetEnum(name)
	if err != nil {
		return err
	}
	writeEnum(w, en)
	return nil
}

func writeMessage(w io.Writer, m *schema.MessageType) {
	fmt.Fprintf(w, "message %s {\n", m.FullName())
	for _, f := range m.Fields() {
		if f.OneOf() == nil {
			fmt.Fprintf(w, "  %s\n", fieldDecl(f))
		}
	}
	for _, o := range m.OneOfs() {
		fmt.Fprintf(w, "  oneof %s {\n", o.Name())
		for _, f := range o.Fields() {
			fmt.Fprintf(w, "    %s\n", fieldDecl(f))
		}
		fmt.Fprintln(w, "  }")
	}
	fmt.Fprintln(w, "}")
}

func fieldDecl(f *schema.Field) string {
	var b strings.Builder
	switch {
	case f.IsMap():
		fmt.Fprintf(&b, "map<%s, %s>", f.MapKey().Type(), f.MapValue().Type())
	case f.IsRepeated():
		fmt.Fprintf(&b, "repeated %s", f.Type())
	case f.Label() == schema.LabelRequired:
		fmt.Fprintf(&b, "required %s", f.Type())
	case f.IsProto3Optional():
		fmt.Fprintf(&b, "optional %s", f.Type())
	default:
		b.WriteString(f.Type().String())
	}
	fmt.Fprintf(&b, " %s = %d", f.Name(), f.Number())

	var opts []string
	if f.IsRepeated() && !f.IsMap() && f.IsPackable() && !f.IsPacked() {
		opts = append(opts, "packed = false")
	}
	if f.JSONName() != schema.JSONName(f.Name()) {
		opts = append(opts, fmt.Sprintf("json_name = %q", f.JSONName()))
	}
	if len(opts) > 0 {
		fmt.Fprintf(&b, " [%s]", strings.Join(opts, ", "))
	}
	b.WriteByte(';')
	return b.String()
}

func writeEnum(w io.Writer, e *schema.EnumType) {
	fmt.Fprintf(w, "enum %s {\n", e.FullName())
	for _, v := range e.Values() {
		fmt.Fprintf(w, "  %s = %d;\n", v.Name, v.Number)
	}
	fmt.Fprintln(w, "}")
}
