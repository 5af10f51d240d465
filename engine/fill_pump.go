package engine

import (
	"io"

	"github.com/badu/h1engine/transport"
)

// fillResult is FillPump's outcome for one fill() call, SPEC_FULL.md §4.1's
// {positive, 0, eof, error}.
type fillResult int

const (
	fillPositive fillResult = iota
	fillWouldBlock
	fillEOF
	fillError
)

const defaultFillCapacity = 8 * 1024

// fillPump drives bytes from a transport.Endpoint into the connection's
// bound input buffer. It holds no state of its own beyond what the
// bufferBinding already tracks; reset is simply "use a different buffer
// binding and endpoint," which callers get for free since fillPump is
// stateless.
type fillPump struct {
	ep  transport.Endpoint
	buf *bufferBinding
}

func newFillPump(ep transport.Endpoint, buf *bufferBinding) *fillPump {
	return &fillPump{ep: ep, buf: buf}
}

// fill performs exactly one (at most two, per the zero-retry rule) read
// attempt and reports the outcome, updating bytesIn on success.
func (p *fillPump) fill(bytesIn *int64) (fillResult, error) {
	b := p.buf.ensure(defaultFillCapacity)
	if b.Retained() {
		panic("engine: fill called while the input buffer is still retained")
	}

	for attempt := 0; attempt < 2; attempt++ {
		space := b.AppendDirect(b.Remaining())
		if len(space) == 0 {
			space = b.AppendDirect(defaultFillCapacity)
		}
		n, err := p.ep.Fill(space)
		if err != nil {
			if err == io.EOF {
				return fillEOF, nil
			}
			return fillError, transportError(err)
		}
		if n > 0 {
			b.Grow(n)
			*bytesIn += int64(n)
			return fillPositive, nil
		}
		// n==0, err==nil: would-block. Retry once (useful for transports
		// that unwrap zero application bytes from a handshake record on
		// the first call), then report would-block.
	}
	return fillWouldBlock, nil
}
