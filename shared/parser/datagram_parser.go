package parser

import "github.com/shadowmesh/tunnelmesh/shared/wire"

// DatagramParser is the message-stream variant of spec.md §4.2: each Feed
// call is presented with exactly one already-deframed datagram (e.g. one
// UDP read), so there is no cross-call accumulator state to maintain. It
// exists to give datagram transports the same "feed bytes, get a raw
// frame" entry point as StreamParser without pretending a UDP socket needs
// incremental reassembly.
type DatagramParser struct{}

// NewDatagramParser returns a stateless datagram parser.
func NewDatagramParser() *DatagramParser { return &DatagramParser{} }

// Feed validates that datagram is exactly one well-formed FrameHeader plus
// its declared ciphertext length and, if so, invokes handle with it.
// A malformed datagram (too short, bad header, trailing garbage) is a
// Discovery-class error on the discovery listener's use of this parser and
// is dropped silently by that caller (spec.md §4.7); other callers may
// treat it per the Framing row of §7's taxonomy.
func (d *DatagramParser) Feed(datagram []byte, handle func(rawFrame []byte) error) error {
	hdr, err := wire.DecodeFrameHeader(datagram)
	if err != nil {
		return err
	}
	want := wire.FrameHeaderSize + int(hdr.CiphertextLength)
	if len(datagram) != want {
		return wire.ErrShortBuffer
	}
	return handle(datagram)
}
