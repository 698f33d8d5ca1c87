package mcpwire

import (
	"encoding/json"
	"io"
	"sync"
)

// StdioTransport reads line-delimited JSON-RPC from r and writes to w.
// Used on the Server side when loco itself is invoked as an MCP server,
// speaking over its own process's standard input and output — never
// writing anything else to standard output.
type StdioTransport struct {
	w      io.Writer
	writeM sync.Mutex
	reader *lineReader
}

// NewStdioTransport starts reading r in the background. diag receives
// diagnostics for malformed lines (normally os.Stderr).
func NewStdioTransport(r io.Reader, w io.Writer, diag io.Writer) *StdioTransport {
	lr := newLineReader()
	go lr.run(r, diag, "stdio")
	return &StdioTransport{w: w, reader: lr}
}

func (t *StdioTransport) Send(raw json.RawMessage) error {
	return writeLine(&t.writeM, t.w, raw)
}

func (t *StdioTransport) Incoming() <-chan json.RawMessage { return t.reader.Incoming() }

func (t *StdioTransport) Err() error { return t.reader.Err() }

// Close is a no-op: the stdio transport does not own the process's
// standard streams and cannot meaningfully close them.
func (t *StdioTransport) Close() error { return nil }
