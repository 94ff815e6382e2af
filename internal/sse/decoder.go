// Package sse decodes chat completion event streams incrementally.
//
// A Decoder is fed the response body chunk by chunk, in arrival order, and
// returns the events completed by each chunk. Lines are only interpreted once
// their terminator has been seen, so the emitted Data/Done sequence does not
// depend on where the network split the body.
package sse

import (
	"encoding/json"
	"strings"
)

const (
	dataPrefix   = "data:"
	doneSentinel = "[DONE]"

	// DefaultMaxContinuations is how many follow-up lines a malformed data
	// line may absorb before it is given up on.
	DefaultMaxContinuations = 4

	// DefaultMaxPendingBytes bounds the length of a line and of a malformed
	// fragment kept around for recovery.
	DefaultMaxPendingBytes = 1 << 20
)

var ignoredFields = []string{"event:", "id:", "retry:"}

// Kind discriminates Event.
type Kind int

const (
	// KindData carries one JSON payload.
	KindData Kind = iota + 1
	// KindDone is the terminal sentinel.
	KindDone
	// KindMalformed carries a fragment that could not be parsed, even after
	// waiting for continuation lines.
	KindMalformed
)

func (k Kind) String() string {
	switch k {
	case KindData:
		return "data"
	case KindDone:
		return "done"
	case KindMalformed:
		return "malformed"
	default:
		return "unknown"
	}
}

// Event is one decoded unit of the stream.
type Event struct {
	Kind Kind
	Data json.RawMessage // set for KindData
	Raw  string          // set for KindMalformed
}

// Option configures a Decoder.
type Option func(*Decoder)

// WithMaxContinuations caps the continuation lines a malformed fragment may
// absorb. Values below 1 disable recovery.
func WithMaxContinuations(n int) Option {
	return func(d *Decoder) {
		d.maxContinuations = n
	}
}

// WithMaxPendingBytes caps the size of a malformed fragment kept for recovery
// and the length of a single line. A longer line is reported as malformed and
// the rest of it is discarded.
func WithMaxPendingBytes(n int) Option {
	return func(d *Decoder) {
		if n > 0 {
			d.maxPendingBytes = n
		}
	}
}

// Decoder turns a chunked event-stream body into Events. It is single use and
// not safe for concurrent use.
type Decoder struct {
	// tail holds the unterminated end of the input, at most maxPendingBytes.
	tail strings.Builder
	// discarding is set while skipping the rest of an oversized line.
	discarding bool

	// pending holds a data line (plus absorbed continuation lines, joined by
	// the line terminator) whose payload did not parse yet.
	pending       string
	continuations int

	maxContinuations int
	maxPendingBytes  int
	done             bool
}

// NewDecoder creates a Decoder.
func NewDecoder(opts ...Option) *Decoder {
	d := &Decoder{
		maxContinuations: DefaultMaxContinuations,
		maxPendingBytes:  DefaultMaxPendingBytes,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Done reports whether the decoder has finished: the sentinel was seen or
// Finish was called. A finished decoder ignores further input.
func (d *Decoder) Done() bool {
	return d.done
}

// Consume appends chunk to the buffer and returns the events for every line
// the chunk completed. The trailing partial line stays buffered.
func (d *Decoder) Consume(chunk string) []Event {
	var events []Event
	for !d.done && chunk != "" {
		part, rest, complete := strings.Cut(chunk, "\n")
		chunk = rest

		if d.discarding {
			d.discarding = !complete
			continue
		}
		if d.tail.Len()+len(part) > d.maxPendingBytes {
			events = d.overflow(part, events)
			d.discarding = !complete
			continue
		}

		d.tail.WriteString(part)
		if !complete {
			break
		}
		line := d.tail.String()
		d.tail.Reset()
		events = d.line(line, events)
	}
	if d.done {
		d.tail.Reset()
	}
	return events
}

// Finish signals end of transport. The unterminated tail is treated as a
// final line and a fragment still waiting for continuation is reported as
// malformed.
func (d *Decoder) Finish() []Event {
	if d.done {
		return nil
	}

	var events []Event
	if d.tail.Len() > 0 {
		rest := d.tail.String()
		d.tail.Reset()
		events = d.line(rest, events)
	}
	if d.pending != "" {
		events = append(events, d.abandon())
	}
	d.discarding = false
	d.done = true
	return events
}

// overflow reports a line that outgrew maxPendingBytes. Raw holds its first
// maxPendingBytes bytes whatever the chunking.
func (d *Decoder) overflow(part string, events []Event) []Event {
	if d.pending != "" {
		events = append(events, d.abandon())
	}
	raw := d.tail.String() + part[:d.maxPendingBytes-d.tail.Len()]
	d.tail.Reset()
	return append(events, Event{Kind: KindMalformed, Raw: raw})
}

func (d *Decoder) line(raw string, events []Event) []Event {
	line := strings.TrimSpace(raw)
	if line == "" || ignored(line) {
		return events
	}

	payload, isData := cutData(line)

	if d.pending != "" {
		if !isData {
			return d.resume(line, events)
		}
		// A fresh data line means the fragment was never going to complete.
		events = append(events, d.abandon())
	}

	if !isData {
		return events
	}

	if payload == doneSentinel {
		d.done = true
		return append(events, Event{Kind: KindDone})
	}

	if json.Valid([]byte(payload)) {
		return append(events, Event{Kind: KindData, Data: json.RawMessage(payload)})
	}

	if d.maxContinuations < 1 {
		return append(events, Event{Kind: KindMalformed, Raw: line})
	}
	d.pending = line
	d.continuations = 0
	return events
}

// resume re-attempts the pending fragment with one more line appended.
func (d *Decoder) resume(line string, events []Event) []Event {
	d.pending += "\n" + line
	d.continuations++

	payload, _ := cutData(d.pending)
	if json.Valid([]byte(payload)) {
		d.pending = ""
		d.continuations = 0
		return append(events, Event{Kind: KindData, Data: json.RawMessage(payload)})
	}

	if d.continuations >= d.maxContinuations || len(d.pending) > d.maxPendingBytes {
		return append(events, d.abandon())
	}
	return events
}

func (d *Decoder) abandon() Event {
	ev := Event{Kind: KindMalformed, Raw: d.pending}
	d.pending = ""
	d.continuations = 0
	return ev
}

// ignored reports comment lines and event-stream fields other than data.
// They never start, continue or abandon a fragment.
func ignored(line string) bool {
	if strings.HasPrefix(line, ":") {
		return true
	}
	for _, field := range ignoredFields {
		if strings.HasPrefix(line, field) {
			return true
		}
	}
	return false
}

// cutData strips the data field name and the optional single space after it.
func cutData(line string) (string, bool) {
	rest, ok := strings.CutPrefix(line, dataPrefix)
	if !ok {
		return "", false
	}
	rest = strings.TrimPrefix(rest, " ")
	return strings.TrimSpace(rest), true
}
