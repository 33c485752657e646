package wire

import (
	"bytes"
	"compress/flate"
	"crypto/rand"
	"errors"
	"fmt"
	"io"
)

// ErrSessionHeaderExpected is a Session-taxonomy error (spec.md §7): a frame
// declared SESSION_HEADER but the caller required one to be absent, or vice
// versa.
var ErrSessionHeaderExpected = errors.New("wire: session header expected but absent")

// EncodeFrame implements the wire frame codec's Encode operation
// (spec.md §4.1). sessionHeader is nil when the frame should not carry
// session binding (e.g. the initial ClientHello, or discovery messages).
func EncodeFrame(cipher Cipher, sessionHeader *SessionHeader, compress bool, msg Message, catalog *Catalog) ([]byte, error) {
	randomLength, err := randomPaddingLength()
	if err != nil {
		return nil, err
	}

	flags := uint8(0)
	if sessionHeader != nil {
		flags |= FlagSessionHeader
	}
	if compress {
		flags |= FlagCompressed
	}

	plaintext := PlaintextHeader{RandomLength: randomLength, Flags: flags}.Encode(nil)

	padding := make([]byte, randomLength)
	if _, err := io.ReadFull(rand.Reader, padding); err != nil {
		return nil, fmt.Errorf("wire: generating padding: %w", err)
	}
	plaintext = append(plaintext, padding...)

	if sessionHeader != nil {
		plaintext = sessionHeader.Encode(plaintext)
	}

	payload := SerializeMessage(msg)

	if compress {
		var buf bytes.Buffer
		fw, err := flate.NewWriter(&buf, flate.DefaultCompression)
		if err != nil {
			return nil, err
		}
		if _, err := fw.Write(payload); err != nil {
			return nil, err
		}
		if err := fw.Close(); err != nil {
			return nil, err
		}
		payload = buf.Bytes()
	}

	plaintext = append(plaintext, payload...)

	framed, err := cipher.EncryptAndFrame(plaintext)
	if err != nil {
		return nil, err
	}

	fh := FrameHeader{KeyID: cipher.KeyID(), CiphertextLength: uint32(len(framed))}
	if fh.CiphertextLength == 0 || fh.CiphertextLength > MaxCiphertextLength {
		return nil, ErrCiphertextLengthOutOfBounds
	}

	out := fh.Encode(make([]byte, 0, FrameHeaderSize+len(framed)))
	out = append(out, framed...)
	return out, nil
}

// DecodedFrame is the result of fully decoding one frame: the typed
// message, plus the session header if the frame carried one.
type DecodedFrame struct {
	Message       Message
	SessionHeader *SessionHeader
}

// DecodeFrame implements the wire frame codec's Decode operation
// (spec.md §4.1). raw is exactly one frame: FrameHeader || ciphertext,
// as delivered by the incremental parser. requireSession, when true,
// rejects a frame that does not carry a SESSION_HEADER flag.
func DecodeFrame(raw []byte, ring KeyRing, catalog *Catalog, requireSession bool) (*DecodedFrame, error) {
	fh, err := DecodeFrameHeader(raw)
	if err != nil {
		return nil, err
	}
	ciphertext := raw[FrameHeaderSize:]
	if uint32(len(ciphertext)) != fh.CiphertextLength {
		return nil, ErrShortBuffer
	}

	cipher, ok := ring.CipherFor(fh.KeyID)
	if !ok {
		return nil, fmt.Errorf("wire: %w: %s", ErrUnknownKeyID, fh.KeyID)
	}

	plaintext, err := cipher.Decrypt(ciphertext)
	if err != nil {
		return nil, err
	}

	ph, err := DecodePlaintextHeader(plaintext)
	if err != nil {
		return nil, err
	}
	rest := plaintext[PlaintextHeaderSize:]
	if len(rest) < int(ph.RandomLength) {
		return nil, ErrShortBuffer
	}
	rest = rest[ph.RandomLength:]

	var sh *SessionHeader
	if ph.HasSessionHeader() {
		header, err := DecodeSessionHeader(rest)
		if err != nil {
			return nil, err
		}
		sh = &header
		rest = rest[SessionHeaderSize:]
	} else if requireSession {
		return nil, ErrSessionHeaderExpected
	}

	if ph.IsCompressed() {
		fr := flate.NewReader(bytes.NewReader(rest))
		defer fr.Close()
		decompressed, err := io.ReadAll(fr)
		if err != nil {
			return nil, fmt.Errorf("wire: inflate: %w", err)
		}
		rest = decompressed
	}

	msg, err := DeserializeMessage(rest, catalog)
	if err != nil {
		return nil, err
	}

	return &DecodedFrame{Message: msg, SessionHeader: sh}, nil
}

// ErrUnknownKeyID signals a FrameHeader naming a key-id the key-ring does
// not hold (spec.md §3, a Framing-class error per §7).
var ErrUnknownKeyID = errors.New("unknown key-id")

func randomPaddingLength() (uint8, error) {
	var b [1]byte
	if _, err := io.ReadFull(rand.Reader, b[:]); err != nil {
		return 0, err
	}
	// map the random byte into [1, MaxRandomLength]; never zero (spec.md §4.1).
	return uint8(int(b[0])%MaxRandomLength) + 1, nil
}

// FramingOverhead returns the total byte overhead EncodeFrame adds around a
// message body of the given type name, for a cipher with the given max
// framing overhead and a session header of withSession. Used to compute
// max_fragment_payload (spec.md §4.4).
func FramingOverhead(typeName string, cipherMaxOverhead int, withSession bool) int {
	overhead := FrameHeaderSize + cipherMaxOverhead + PlaintextHeaderSize + MaxRandomLength
	if withSession {
		overhead += SessionHeaderSize
	}
	overhead += SerializableHeaderSize(typeName, 0)
	return overhead
}
