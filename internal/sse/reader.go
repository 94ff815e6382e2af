package sse

import (
	"context"
	"errors"
	"io"

	"github.com/rotisserie/eris"
)

const readBufferSize = 4096

// Read drives a fresh Decoder over r, handing each event to fn in stream
// order. It returns nil once the sentinel is seen or r reaches EOF, the first
// error returned by fn, or the read/context error that interrupted the
// stream. Read never closes r.
func Read(ctx context.Context, r io.Reader, fn func(Event) error, opts ...Option) error {
	d := NewDecoder(opts...)
	buf := make([]byte, readBufferSize)

	emit := func(events []Event) error {
		for _, ev := range events {
			if err := fn(ev); err != nil {
				return err
			}
		}
		return nil
	}

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		n, err := r.Read(buf)
		if n > 0 {
			if ferr := emit(d.Consume(string(buf[:n]))); ferr != nil {
				return ferr
			}
			if d.Done() {
				return nil
			}
		}

		if errors.Is(err, io.EOF) {
			return emit(d.Finish())
		}
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return ctxErr
			}
			return eris.Wrap(err, "sse: read stream")
		}
	}
}
