package wire

import "bytes"

// SerializeMessage produces the SerializableHeader-prefixed wire form of
// msg (spec.md §6: `Payload := SerializableHeader || MessageBody`). This is
// the unit the fragmentation filter slices when a message is too large for
// one frame (spec.md §4.4).
func SerializeMessage(msg Message) []byte {
	body := msg.Encode(nil)
	header := SerializableHeader{
		Magic:   SerializableMagic,
		Type:    msg.Type(),
		Version: msg.Version(),
		Size:    uint64(len(body)),
	}
	out := header.Encode(make([]byte, 0, SerializableHeaderSize(msg.Type(), uint64(len(body)))+len(body)))
	return append(out, body...)
}

// DeserializeMessage inverts SerializeMessage, looking up the concrete type
// via catalog.
func DeserializeMessage(buf []byte, catalog *Catalog) (Message, error) {
	r := bytes.NewReader(buf)
	header, err := DecodeSerializableHeader(r)
	if err != nil {
		return nil, err
	}
	msg, err := catalog.New(header.Type)
	if err != nil {
		return nil, err
	}
	bodyStart := len(buf) - r.Len()
	body := buf[bodyStart:]
	if uint64(len(body)) < header.Size {
		return nil, ErrShortBuffer
	}
	if err := msg.Decode(body[:header.Size], header.Version); err != nil {
		return nil, err
	}
	return msg, nil
}
