package fragment

import (
	"bytes"
	"testing"

	"github.com/shadowmesh/tunnelmesh/shared/wire"
)

func newCatalog() *wire.Catalog {
	c := wire.NewCatalog()
	wire.RegisterDefaultTypes(c)
	return c
}

// TestSplitReassembleRoundTrip covers spec.md §8's fragmentation roundtrip
// property across a range of payload sizes and fragment limits.
func TestSplitReassembleRoundTrip(t *testing.T) {
	testCases := []struct {
		name               string
		bytesLen           int
		maxFragmentPayload int
	}{
		{"fits in one fragment", 10, 4096},
		{"exact multiple of limit", 300, 100},
		{"one byte over limit", 101, 100},
		{"many small fragments", 5000, 37},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			original := &wire.DataPacket{
				HostID: "host-a",
				Chunk:  1,
				Chunks: 1,
				Bytes:  bytes.Repeat([]byte{0x5a}, tc.bytesLen),
			}

			fragments := Split(original, tc.maxFragmentPayload)
			if len(fragments) == 0 {
				t.Fatalf("Split returned no fragments")
			}
			for i, fp := range fragments {
				if fp.FragmentNumber != uint32(i+1) {
					t.Errorf("fragment %d: got number %d, want %d", i, fp.FragmentNumber, i+1)
				}
				if fp.FragmentCount != uint32(len(fragments)) {
					t.Errorf("fragment %d: got count %d, want %d", i, fp.FragmentCount, len(fragments))
				}
				if len(fp.Bytes) > tc.maxFragmentPayload {
					t.Errorf("fragment %d: payload %d exceeds limit %d", i, len(fp.Bytes), tc.maxFragmentPayload)
				}
			}

			r := NewReassembler(newCatalog())
			var got wire.Message
			for i, fp := range fragments {
				msg, done, err := r.Feed(fp)
				if err != nil {
					t.Fatalf("Feed fragment %d: %v", i, err)
				}
				if done != (i == len(fragments)-1) {
					t.Fatalf("Feed fragment %d: done=%v, want %v", i, done, i == len(fragments)-1)
				}
				if done {
					got = msg
				}
			}

			dp, ok := got.(*wire.DataPacket)
			if !ok {
				t.Fatalf("reassembled message is %T, want *wire.DataPacket", got)
			}
			if !bytes.Equal(dp.Bytes, original.Bytes) {
				t.Errorf("reassembled payload mismatch: got %d bytes, want %d", len(dp.Bytes), len(original.Bytes))
			}
			if dp.HostID != original.HostID {
				t.Errorf("HostID mismatch: got %q, want %q", dp.HostID, original.HostID)
			}
		})
	}
}

// TestReassemblerOutOfOrderResets checks that a fragment whose number skips
// ahead resets the buffer and is dropped (spec.md §4.4), rather than being
// appended in the wrong position.
func TestReassemblerOutOfOrderResets(t *testing.T) {
	msg := &wire.DataPacket{HostID: "host-a", Bytes: bytes.Repeat([]byte{1}, 300)}
	fragments := Split(msg, 100)
	if len(fragments) < 3 {
		t.Fatalf("test setup: need at least 3 fragments, got %d", len(fragments))
	}

	r := NewReassembler(newCatalog())
	if _, done, err := r.Feed(fragments[0]); err != nil || done {
		t.Fatalf("first fragment: done=%v err=%v", done, err)
	}

	// skip straight to the last fragment
	_, done, err := r.Feed(fragments[len(fragments)-1])
	if err != ErrFragmentOutOfOrder {
		t.Fatalf("got err %v, want ErrFragmentOutOfOrder", err)
	}
	if done {
		t.Fatalf("out-of-order feed reported done")
	}
	if r.active {
		t.Errorf("reassembler did not reset after out-of-order fragment")
	}
}

// TestReassemblerInconsistentCountResets checks that a fragment reporting a
// different total count than the one recorded from fragment #1 is rejected.
func TestReassemblerInconsistentCountResets(t *testing.T) {
	msg := &wire.DataPacket{HostID: "host-a", Bytes: bytes.Repeat([]byte{1}, 300)}
	fragments := Split(msg, 100)
	if len(fragments) < 2 {
		t.Fatalf("test setup: need at least 2 fragments, got %d", len(fragments))
	}

	r := NewReassembler(newCatalog())
	if _, done, err := r.Feed(fragments[0]); err != nil || done {
		t.Fatalf("first fragment: done=%v err=%v", done, err)
	}

	tampered := &wire.FragmentPacket{
		FragmentNumber: fragments[1].FragmentNumber,
		FragmentCount:  fragments[1].FragmentCount + 1,
		Bytes:          fragments[1].Bytes,
	}
	if _, _, err := r.Feed(tampered); err != ErrFragmentOutOfOrder {
		t.Fatalf("got err %v, want ErrFragmentOutOfOrder", err)
	}
}

// TestFragmentNumberOneRestartsBuffer checks that receiving a new fragment
// #1 mid-reassembly discards whatever was in progress rather than erroring,
// matching "fragment #1 always restarts a new buffer" (spec.md §4.4).
func TestFragmentNumberOneRestartsBuffer(t *testing.T) {
	first := &wire.DataPacket{HostID: "stale", Bytes: bytes.Repeat([]byte{1}, 300)}
	second := &wire.DataPacket{HostID: "fresh", Bytes: bytes.Repeat([]byte{2}, 50)}

	staleFragments := Split(first, 100)
	freshFragments := Split(second, 100)

	r := NewReassembler(newCatalog())
	if _, done, err := r.Feed(staleFragments[0]); err != nil || done {
		t.Fatalf("stale fragment 0: done=%v err=%v", done, err)
	}

	for i, fp := range freshFragments {
		msg, done, err := r.Feed(fp)
		if err != nil {
			t.Fatalf("fresh fragment %d: %v", i, err)
		}
		if done {
			dp := msg.(*wire.DataPacket)
			if dp.HostID != "fresh" {
				t.Errorf("reassembled stale message instead of fresh one: got HostID %q", dp.HostID)
			}
		}
	}
}
