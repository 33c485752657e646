package parser

import (
	"bytes"
	"crypto/rand"
	"testing"

	"github.com/shadowmesh/tunnelmesh/shared/wire"
)

func buildFrame(t *testing.T, ciphertextLen int) []byte {
	t.Helper()
	ciphertext := make([]byte, ciphertextLen)
	if _, err := rand.Read(ciphertext); err != nil {
		t.Fatalf("generating ciphertext: %v", err)
	}
	h := wire.FrameHeader{CiphertextLength: uint32(ciphertextLen)}
	if _, err := rand.Read(h.KeyID[:]); err != nil {
		t.Fatalf("generating key-id: %v", err)
	}
	raw := h.Encode(nil)
	return append(raw, ciphertext...)
}

// TestStreamParserChunkInvariance checks that the same frame stream,
// delivered to Feed in arbitrarily different chunk boundaries, produces the
// same sequence of reassembled frames (spec.md §8).
func TestStreamParserChunkInvariance(t *testing.T) {
	frame1 := buildFrame(t, 100)
	frame2 := buildFrame(t, 250)
	stream := append(append([]byte{}, frame1...), frame2...)

	chunkSizes := []int{1, 3, 7, 37, 512, len(stream)}

	for _, chunkSize := range chunkSizes {
		t.Run("", func(t *testing.T) {
			p := NewStreamParser()
			var got [][]byte
			for i := 0; i < len(stream); i += chunkSize {
				end := i + chunkSize
				if end > len(stream) {
					end = len(stream)
				}
				err := p.Feed(stream[i:end], func(raw []byte) error {
					frame := make([]byte, len(raw))
					copy(frame, raw)
					got = append(got, frame)
					return nil
				})
				if err != nil {
					t.Fatalf("Feed: %v", err)
				}
			}

			if len(got) != 2 {
				t.Fatalf("got %d frames, want 2 (chunk size %d)", len(got), chunkSize)
			}
			if !bytes.Equal(got[0], frame1) {
				t.Errorf("first frame mismatch at chunk size %d", chunkSize)
			}
			if !bytes.Equal(got[1], frame2) {
				t.Errorf("second frame mismatch at chunk size %d", chunkSize)
			}
		})
	}
}

func TestStreamParserResetsOnStructuralError(t *testing.T) {
	p := NewStreamParser()

	badHeader := wire.FrameHeader{CiphertextLength: wire.MaxCiphertextLength + 1}
	// Encode bypasses DecodeFrameHeader's validation, so build the bytes
	// directly the way a corrupted peer would.
	buf := make([]byte, 0, wire.FrameHeaderSize)
	buf = append(buf, badHeader.KeyID[:]...)
	var lenBuf [4]byte
	lenBuf[0] = 0xff
	lenBuf[1] = 0xff
	lenBuf[2] = 0xff
	lenBuf[3] = 0xff
	buf = append(buf, lenBuf[:]...)

	err := p.Feed(buf, func([]byte) error { return nil })
	if err == nil {
		t.Fatalf("Feed accepted an out-of-bounds ciphertext length")
	}

	// After the reset, a well-formed frame must parse normally.
	frame := buildFrame(t, 50)
	var got []byte
	if err := p.Feed(frame, func(raw []byte) error { got = raw; return nil }); err != nil {
		t.Fatalf("Feed after reset: %v", err)
	}
	if !bytes.Equal(got, frame) {
		t.Errorf("frame mismatch after recovering from a structural error")
	}
}

func TestDatagramParserFeedExactFrame(t *testing.T) {
	d := NewDatagramParser()
	frame := buildFrame(t, 64)

	var got []byte
	if err := d.Feed(frame, func(raw []byte) error { got = raw; return nil }); err != nil {
		t.Fatalf("Feed: %v", err)
	}
	if !bytes.Equal(got, frame) {
		t.Errorf("datagram mismatch")
	}
}

func TestDatagramParserRejectsTrailingGarbage(t *testing.T) {
	d := NewDatagramParser()
	frame := buildFrame(t, 64)
	withTrailer := append(frame, 0xde, 0xad)

	if err := d.Feed(withTrailer, func([]byte) error { return nil }); err == nil {
		t.Errorf("Feed accepted a datagram with trailing bytes")
	}
}

func TestValueParserFeedAcrossCalls(t *testing.T) {
	p := NewValueParser(4, func(b []byte) (uint32, error) {
		return uint32(b[0])<<24 | uint32(b[1])<<16 | uint32(b[2])<<8 | uint32(b[3]), nil
	})

	data := []byte{0x01, 0x02, 0x03, 0x04}
	for i, b := range data {
		consumed, value, done, err := p.Feed([]byte{b})
		if err != nil {
			t.Fatalf("Feed byte %d: %v", i, err)
		}
		if consumed != 1 {
			t.Fatalf("Feed byte %d: consumed %d, want 1", i, consumed)
		}
		wantDone := i == len(data)-1
		if done != wantDone {
			t.Fatalf("Feed byte %d: done=%v, want %v", i, done, wantDone)
		}
		if done && value != 0x01020304 {
			t.Errorf("Feed completed with value %#x, want 0x01020304", value)
		}
	}
}
