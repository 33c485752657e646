package fragment

import (
	"errors"

	"github.com/shadowmesh/tunnelmesh/shared/wire"
)

// ErrFragmentOutOfOrder is returned when a fragment's number or count is
// inconsistent with the reassembly buffer currently in progress. Per
// spec.md §4.4 the buffer is reset and the fragment dropped; this error is
// surfaced so the caller can log and count it, not to tear down the tunnel
// (a lost fragment is recoverable: the sender's next full message simply
// restarts reassembly at fragment #1).
var ErrFragmentOutOfOrder = errors.New("fragment: out of order or inconsistent count")

// Reassembler holds one tunnel's in-progress fragment buffer. It is not
// safe for concurrent use; callers serialize it the way every other
// per-tunnel receive-path state is serialized (spec.md §5).
type Reassembler struct {
	catalog  *wire.Catalog
	buf      []byte
	expected uint32
	received uint32
	active   bool
}

// NewReassembler returns an empty reassembler that looks up message types
// in catalog on completion.
func NewReassembler(catalog *wire.Catalog) *Reassembler {
	return &Reassembler{catalog: catalog}
}

// Feed appends one fragment's payload to the buffer in progress. It
// returns the fully reassembled message and true once the final fragment
// for that message has arrived; otherwise msg is nil and done is false.
//
// Fragment #1 always (re)starts a new buffer, discarding any incomplete
// one before it. Any other fragment that does not match the buffer's
// recorded count, or whose number is not exactly one past the last
// fragment received, resets the buffer and returns ErrFragmentOutOfOrder;
// the fragment itself is dropped (spec.md §4.4: "out-of-order or
// inconsistent count resets buffer and drops fragment").
func (r *Reassembler) Feed(fp *wire.FragmentPacket) (wire.Message, bool, error) {
	if fp.FragmentNumber == 1 {
		r.buf = append(r.buf[:0], fp.Bytes...)
		r.expected = fp.FragmentCount
		r.received = 1
		r.active = true
		if r.expected == 1 {
			return r.finish()
		}
		return nil, false, nil
	}

	if !r.active || fp.FragmentCount != r.expected || fp.FragmentNumber != r.received+1 {
		r.Reset()
		return nil, false, ErrFragmentOutOfOrder
	}

	r.buf = append(r.buf, fp.Bytes...)
	r.received++
	if r.received == r.expected {
		return r.finish()
	}
	return nil, false, nil
}

func (r *Reassembler) finish() (wire.Message, bool, error) {
	msg, err := wire.DeserializeMessage(r.buf, r.catalog)
	r.Reset()
	if err != nil {
		return nil, false, err
	}
	return msg, true, nil
}

// Reset discards any partially-accumulated message.
func (r *Reassembler) Reset() {
	r.buf = nil
	r.expected = 0
	r.received = 0
	r.active = false
}
