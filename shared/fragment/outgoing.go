// Package fragment implements the fragmentation filter pair of spec.md
// §4.4: an outgoing filter that slices an oversized serialized message
// into numbered FragmentPacket pieces, and an incoming filter that
// reassembles them per tunnel.
package fragment

import (
	"github.com/shadowmesh/tunnelmesh/shared/wire"
)

// Split serializes msg and, if its encoded form exceeds maxFragmentPayload,
// divides it into consecutively-numbered FragmentPacket messages each
// carrying at most maxFragmentPayload bytes. A message that already fits in
// one frame is still wrapped in a single FragmentPacket so the receive path
// has one code path regardless of fragmentation (spec.md §4.4:
// "max_fragment_payload = max_ciphertext_length - framing_overhead(type)").
func Split(msg wire.Message, maxFragmentPayload int) []*wire.FragmentPacket {
	payload := wire.SerializeMessage(msg)

	count := (len(payload) + maxFragmentPayload - 1) / maxFragmentPayload
	if count == 0 {
		count = 1
	}

	packets := make([]*wire.FragmentPacket, 0, count)
	for i := 0; i < count; i++ {
		start := i * maxFragmentPayload
		end := start + maxFragmentPayload
		if end > len(payload) {
			end = len(payload)
		}
		chunk := make([]byte, end-start)
		copy(chunk, payload[start:end])
		packets = append(packets, &wire.FragmentPacket{
			FragmentNumber: uint32(i + 1),
			FragmentCount:  uint32(count),
			Bytes:          chunk,
		})
	}
	return packets
}
