// Package control defines the newline-delimited JSON protocol the primary
// and its workers exchange over an inherited pipe (§4.7, §4.8): routing
// table snapshots flowing down, lifecycle and metrics reports flowing up.
// This is the Go-idiomatic analogue of Node's cluster IPC channel; no
// process-supervisor library in the example corpus covers this, so it is
// built directly on encoding/json + bufio (justified in DESIGN.md).
package control

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"

	dto "github.com/prometheus/client_model/go"

	"github.com/maegashira/maegashira/internal/routing"
)

// Type identifies one control message's purpose.
type Type string

const (
	// TypeTable carries a full routing-table snapshot, primary -> worker.
	TypeTable Type = "routingtable"
	// TypeTableRequest asks the primary for the current snapshot, worker -> primary.
	TypeTableRequest Type = "routingtable_request"
	// TypeShutdown tells workers to drain and exit, primary -> worker.
	TypeShutdown Type = "shutdown"
	// TypeOnline reports a worker has bound its listener, worker -> primary.
	TypeOnline Type = "online"
	// TypeWorkerError reports a non-fatal worker error, worker -> primary.
	TypeWorkerError Type = "error"
	// TypeMetrics reports a worker's current metric families, worker -> primary.
	TypeMetrics Type = "metrics"
)

// Message is one line of the control protocol.
type Message struct {
	Type     Type                `json:"type"`
	WorkerID string              `json:"worker_id,omitempty"`
	Table    routing.Table       `json:"table,omitempty"`
	Metrics  []*dto.MetricFamily `json:"metrics,omitempty"`
	Error    string              `json:"error,omitempty"`
}

// Encoder writes newline-delimited Messages to an underlying writer.
type Encoder struct {
	enc *json.Encoder
}

// NewEncoder wraps w (the primary or worker's side of the shared pipe).
func NewEncoder(w io.Writer) *Encoder {
	return &Encoder{enc: json.NewEncoder(w)}
}

// Encode writes one Message, newline-terminated.
func (e *Encoder) Encode(m Message) error {
	return e.enc.Encode(m)
}

// Decoder reads newline-delimited Messages from an underlying reader.
type Decoder struct {
	scanner *bufio.Scanner
}

// NewDecoder wraps r, sizing the scan buffer generously since a table
// snapshot or metrics report can run well past bufio's 64KiB default.
func NewDecoder(r io.Reader) *Decoder {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	return &Decoder{scanner: scanner}
}

// Decode reads and parses the next Message, returning io.EOF when the
// underlying stream is exhausted.
func (d *Decoder) Decode() (Message, error) {
	if !d.scanner.Scan() {
		if err := d.scanner.Err(); err != nil {
			return Message{}, fmt.Errorf("control: read failed: %w", err)
		}
		return Message{}, io.EOF
	}
	var m Message
	if err := json.Unmarshal(d.scanner.Bytes(), &m); err != nil {
		return Message{}, fmt.Errorf("control: decode failed: %w", err)
	}
	return m, nil
}
