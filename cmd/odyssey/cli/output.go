package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
)

// Output carries the flags and writers every command shares. Nil writers
// fall back to the process streams.
type Output struct {
	JSON   bool
	Stdout io.Writer
	Stderr io.Writer
}

func (o Output) stdout() io.Writer {
	if o.Stdout == nil {
		return os.Stdout
	}
	return o.Stdout
}

func (o Output) stderr() io.Writer {
	if o.Stderr == nil {
		return os.Stderr
	}
	return o.Stderr
}

// fail prints "command: message" to stderr and returns exit code 1.
func (o Output) fail(command, format string, args ...any) int {
	_, _ = fmt.Fprintf(o.stderr(), "%s: %s\n", command, fmt.Sprintf(format, args...))
	return 1
}

// emit writes v as JSON in JSON mode and calls text otherwise.
func (o Output) emit(command string, v any, text func(io.Writer)) int {
	if !o.JSON {
		text(o.stdout())
		return 0
	}
	if err := json.NewEncoder(o.stdout()).Encode(v); err != nil {
		return o.fail(command, "encode json: %v", err)
	}
	return 0
}
