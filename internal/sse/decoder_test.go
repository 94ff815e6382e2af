package sse

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// feed runs chunks through a new decoder and finishes it.
func feed(d *Decoder, chunks ...string) []Event {
	var out []Event
	for _, c := range chunks {
		out = append(out, d.Consume(c)...)
	}
	return append(out, d.Finish()...)
}

const wellFormed = "data: {\"choices\":[{\"delta\":{\"role\":\"assistant\"}}]}\n\n" +
	": keep-alive\n\n" +
	"data: {\"choices\":[{\"delta\":{\"content\":\"Hel\"}}]}\n\n" +
	"data:{\"choices\":[{\"delta\":{\"content\":\"lo, \"}}]}\r\n\r\n" +
	"event: message\n" +
	"data: {\"choices\":[{\"delta\":{\"content\":\"wörld\"}}]}\n\n" +
	"data: [DONE]\n\n"

func TestDecoder_SplitPayloadAcrossChunks(t *testing.T) {
	d := NewDecoder()

	events := feed(d,
		`data: {"choices":[{"delta":{"content":"Hel`,
		"lo\"}}]}\n\n",
		"data: [DONE]\n\n",
	)

	require.Len(t, events, 2)
	assert.Equal(t, KindData, events[0].Kind)
	assert.JSONEq(t, `{"choices":[{"delta":{"content":"Hello"}}]}`, string(events[0].Data))
	assert.Equal(t, KindDone, events[1].Kind)
}

func TestDecoder_PartialLineIsBuffered(t *testing.T) {
	d := NewDecoder()

	assert.Empty(t, d.Consume(`data: {"a":`))
	assert.Empty(t, d.Consume(`1}`))
	events := d.Consume("\n")

	require.Len(t, events, 1)
	assert.JSONEq(t, `{"a":1}`, string(events[0].Data))
}

func TestDecoder_ChunkingIndependence(t *testing.T) {
	want := feed(NewDecoder(), wellFormed)
	require.Len(t, want, 5)
	assert.Equal(t, KindDone, want[len(want)-1].Kind)

	// Every two-way and three-way split must give the same events.
	for i := 0; i <= len(wellFormed); i++ {
		got := feed(NewDecoder(), wellFormed[:i], wellFormed[i:])
		require.Equal(t, want, got, "split at %d", i)
	}
	for i := 0; i <= len(wellFormed); i += 7 {
		for j := i; j <= len(wellFormed); j += 5 {
			got := feed(NewDecoder(), wellFormed[:i], wellFormed[i:j], wellFormed[j:])
			require.Equal(t, want, got, "split at %d,%d", i, j)
		}
	}

	// Byte at a time.
	var chunks []string
	for i := 0; i < len(wellFormed); i++ {
		chunks = append(chunks, wellFormed[i:i+1])
	}
	assert.Equal(t, want, feed(NewDecoder(), chunks...))
}

func TestDecoder_NoDataAfterDone(t *testing.T) {
	d := NewDecoder()

	events := d.Consume("data: {\"n\":1}\ndata: [DONE]\ndata: {\"n\":2}\n")
	require.Len(t, events, 2)
	assert.Equal(t, KindData, events[0].Kind)
	assert.Equal(t, KindDone, events[1].Kind)
	assert.True(t, d.Done())

	assert.Empty(t, d.Consume("data: {\"n\":3}\n"))
	assert.Empty(t, d.Finish())
}

func TestDecoder_IgnoresNonDataLines(t *testing.T) {
	events := feed(NewDecoder(), ": ping\nevent: message\nid: 7\nretry: 1000\n\n\n")
	assert.Empty(t, events)
}

func TestDecoder_RecoversPayloadBrokenByTerminator(t *testing.T) {
	d := NewDecoder()

	events := d.Consume("data: {\"choices\":[{\"delta\":\n")
	assert.Empty(t, events, "fragment must be held, not dropped")

	events = d.Consume("{\"content\":\"x\"}}]}\n\n")
	require.Len(t, events, 1)
	assert.Equal(t, KindData, events[0].Kind)
	assert.JSONEq(t, `{"choices":[{"delta":{"content":"x"}}]}`, string(events[0].Data))
}

func TestDecoder_BlankLinesDoNotAbandonFragment(t *testing.T) {
	events := feed(NewDecoder(), "data: {\"a\":\n", "\n\n", "2}\n")
	require.Len(t, events, 1)
	assert.JSONEq(t, `{"a":2}`, string(events[0].Data))
}

func TestDecoder_NewDataLineAbandonsFragment(t *testing.T) {
	events := feed(NewDecoder(), "data: {broken\n\ndata: {\"ok\":true}\n\n")

	require.Len(t, events, 2)
	assert.Equal(t, KindMalformed, events[0].Kind)
	assert.Equal(t, "data: {broken", events[0].Raw)
	assert.Equal(t, KindData, events[1].Kind)
	assert.JSONEq(t, `{"ok":true}`, string(events[1].Data))
}

func TestDecoder_DoneAbandonsFragment(t *testing.T) {
	events := feed(NewDecoder(), "data: {broken\ndata: [DONE]\n")

	require.Len(t, events, 2)
	assert.Equal(t, KindMalformed, events[0].Kind)
	assert.Equal(t, KindDone, events[1].Kind)
}

func TestDecoder_ContinuationCap(t *testing.T) {
	d := NewDecoder(WithMaxContinuations(2))

	events := d.Consume("data: {\nnot json\n")
	assert.Empty(t, events)

	events = d.Consume("still not\n")
	require.Len(t, events, 1)
	assert.Equal(t, KindMalformed, events[0].Kind)
	assert.Equal(t, "data: {\nnot json\nstill not", events[0].Raw)

	// The decoder keeps working after giving up.
	events = d.Consume("data: {\"after\":1}\n")
	require.Len(t, events, 1)
	assert.Equal(t, KindData, events[0].Kind)
}

func TestDecoder_PendingByteCap(t *testing.T) {
	d := NewDecoder(WithMaxPendingBytes(32))

	events := d.Consume("data: {\n" + strings.Repeat("x", 20) + "\n")
	assert.Empty(t, events)

	events = d.Consume(strings.Repeat("y", 20) + "\n")
	require.Len(t, events, 1)
	assert.Equal(t, KindMalformed, events[0].Kind)
	assert.True(t, strings.HasPrefix(events[0].Raw, "data: {\nxxxx"))
}

func TestDecoder_CommentsInsideSplitPayload(t *testing.T) {
	events := feed(NewDecoder(), "data: {\"a\":\n: keepalive\nid: 7\nevent: message\n\"b\"}\n")

	require.Len(t, events, 1)
	assert.Equal(t, KindData, events[0].Kind)
	assert.JSONEq(t, `{"a":"b"}`, string(events[0].Data))
}

func TestDecoder_LineLengthCap(t *testing.T) {
	const limit = 64
	long := "data: {" + strings.Repeat("z", 4*limit)
	input := long + "\ndata: {\"after\":1}\n"

	want := feed(NewDecoder(WithMaxPendingBytes(limit)), input)
	require.Len(t, want, 2)
	assert.Equal(t, KindMalformed, want[0].Kind)
	assert.Equal(t, long[:limit], want[0].Raw)
	assert.Equal(t, KindData, want[1].Kind)
	assert.JSONEq(t, `{"after":1}`, string(want[1].Data))

	for _, size := range []int{1, 7, limit, limit + 1, 100} {
		d := NewDecoder(WithMaxPendingBytes(limit))
		var chunks []string
		for i := 0; i < len(input); i += size {
			chunks = append(chunks, input[i:min(i+size, len(input))])
		}
		assert.Equal(t, want, feed(d, chunks...), "chunk size %d", size)
	}
}

func TestDecoder_UnterminatedStreamStaysBounded(t *testing.T) {
	d := NewDecoder(WithMaxPendingBytes(1024))
	chunk := "data: {" + strings.Repeat("q", 4096)

	var events []Event
	for i := 0; i < 256; i++ {
		events = append(events, d.Consume(chunk)...)
		require.LessOrEqual(t, d.tail.Len(), 1024)
	}

	require.Len(t, events, 1, "one malformed event for the whole oversized line")
	assert.Equal(t, KindMalformed, events[0].Kind)
	assert.Len(t, events[0].Raw, 1024)
	assert.Empty(t, d.Finish())
}

func TestDecoder_RecoveryDisabled(t *testing.T) {
	d := NewDecoder(WithMaxContinuations(0))

	events := d.Consume("data: {\n")
	require.Len(t, events, 1)
	assert.Equal(t, KindMalformed, events[0].Kind)
	assert.Equal(t, "data: {", events[0].Raw)
}

func TestDecoder_FinishFlushesUnterminatedLine(t *testing.T) {
	d := NewDecoder()

	assert.Empty(t, d.Consume("data: {\"x\":1}\ndata: [DONE]"[:10]))
	events := d.Consume("data: {\"x\":1}\ndata: [DONE]"[10:])
	require.Len(t, events, 1)

	events = d.Finish()
	require.Len(t, events, 1)
	assert.Equal(t, KindDone, events[0].Kind)
	assert.True(t, d.Done())
}

func TestDecoder_FinishReportsPendingFragment(t *testing.T) {
	events := feed(NewDecoder(), "data: {\"cut\":\n")

	require.Len(t, events, 1)
	assert.Equal(t, KindMalformed, events[0].Kind)
	assert.Equal(t, `data: {"cut":`, events[0].Raw)
}

func TestKind_String(t *testing.T) {
	assert.Equal(t, "data", KindData.String())
	assert.Equal(t, "done", KindDone.String())
	assert.Equal(t, "malformed", KindMalformed.String())
	assert.Equal(t, "unknown", Kind(0).String())
}
