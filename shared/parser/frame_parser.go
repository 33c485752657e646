package parser

import (
	"github.com/shadowmesh/tunnelmesh/shared/wire"
)

// streamState is the two-state machine of spec.md §4.2.
type streamState int

const (
	awaitFrameHeader streamState = iota
	awaitCiphertext
)

// StreamParser incrementally reassembles complete frames (FrameHeader ||
// ciphertext) from an arbitrary-sized byte stream, such as a TCP socket's
// read callback delivers. It is endianness-neutral: all multi-byte fields
// it touches are parsed big-endian by wire.DecodeFrameHeader regardless of
// how the caller's buffer arrived (spec.md §4.2).
type StreamParser struct {
	state        streamState
	headerParser *ValueParser[wire.FrameHeader]
	bodyParser   *ValueParser[[]byte]
	header       wire.FrameHeader
}

// NewStreamParser returns a parser starting in AWAIT_FRAME_HEADER.
func NewStreamParser() *StreamParser {
	p := &StreamParser{}
	p.resetToHeader()
	return p
}

func (p *StreamParser) resetToHeader() {
	p.state = awaitFrameHeader
	p.headerParser = NewValueParser(wire.FrameHeaderSize, wire.DecodeFrameHeader)
	p.bodyParser = nil
}

// Feed consumes data and invokes handle once per complete raw frame
// (FrameHeader || ciphertext) assembled from it. handle's return value is
// surfaced to the caller but never affects this parser's state: the parser
// has already returned to AWAIT_FRAME_HEADER by the time handle runs, since
// the frame being handed to it is, from the parser's point of view, already
// fully and correctly framed. On a structural parsing error (unknown-bounds
// ciphertext length) the parser resets and the error is returned
// immediately; any bytes after the error point are not examined, matching
// "the parser resets to AWAIT_FRAME_HEADER on any structural error" taken
// literally as an all-stop rather than attempting resynchronization, since
// a corrupted length field leaves no self-delimiting recovery point.
func (p *StreamParser) Feed(data []byte, handle func(rawFrame []byte) error) error {
	for len(data) > 0 {
		switch p.state {
		case awaitFrameHeader:
			consumed, hdr, done, err := p.headerParser.Feed(data)
			data = data[consumed:]
			if err != nil {
				p.resetToHeader()
				return err
			}
			if !done {
				return nil
			}
			p.header = hdr
			p.bodyParser = NewValueParser(int(hdr.CiphertextLength), func(b []byte) ([]byte, error) {
				out := make([]byte, len(b))
				copy(out, b)
				return out, nil
			})
			p.state = awaitCiphertext

		case awaitCiphertext:
			consumed, body, done, err := p.bodyParser.Feed(data)
			data = data[consumed:]
			if err != nil {
				p.resetToHeader()
				return err
			}
			if !done {
				return nil
			}
			raw := p.header.Encode(make([]byte, 0, wire.FrameHeaderSize+len(body)))
			raw = append(raw, body...)
			p.resetToHeader()
			if err := handle(raw); err != nil {
				return err
			}
		}
	}
	return nil
}

// Reset forces the parser back to AWAIT_FRAME_HEADER, discarding any
// partially-accumulated frame. Used after a Resource-class error
// (spec.md §7: "reset parser; surface error") detected by the caller.
func (p *StreamParser) Reset() {
	p.resetToHeader()
}
