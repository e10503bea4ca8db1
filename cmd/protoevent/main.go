// Command protoevent converts protobuf messages between the wire format and
// JSON using .proto schemas loaded at runtime, and inspects raw wire data.
package main

import (
	"io"
	"os"

	"github.com/alecthomas/kingpin/v2"
)

func main() {
	app := newApp(os.Stdin, os.Stdout, os.Stderr)
	kingpin.MustParse(app.Parse(os.Args[1:]))
}

func newApp(stdin io.Reader, stdout, stderr io.Writer) *kingpin.Application {
	app := kingpin.New("protoevent", "Decode, encode and inspect protobuf messages against .proto schemas.")
	app.UsageWriter(stderr)
	app.ErrorWriter(stderr)
	app.HelpFlag.Short('h')

	g := &globals{stdin: stdin, stdout: stdout, stderr: stderr}
	g.register(app)

	addDecodeCommand(app, g)
	addEncodeCommand(app, g)
	addDumpCommand(app, g)
	addDescribeCommand(app, g)
	return app
}
