package wire

import (
	"encoding/binary"
	"errors"
)

// Wire type tags for every concrete message this module defines.
const (
	TypeClientHello       = "ClientHello"
	TypeServerHello       = "ServerHello"
	TypePromoteConnection = "PromoteConnection"
	TypeClientKeyExchange = "ClientKeyExchange"
	TypeServerKeyExchange = "ServerKeyExchange"
	TypeDataPacket        = "DataPacket"
	TypeHeartbeatPacket   = "HeartbeatPacket"
	TypeFragmentPacket    = "FragmentPacket"
	TypeErrorPacket       = "ErrorPacket"
	TypeInitiateDiscovery = "InitiateDiscovery"
	TypeBeacon            = "Beacon"
	TypePing              = "Ping"
)

// ErrTruncatedBody is returned when a message body ends before a field it
// names has been fully read.
var ErrTruncatedBody = errors.New("wire: truncated message body")

// --- small body-encoding helpers shared by every concrete message ---

func putVarint(dst []byte, v uint64) []byte { return appendVarint(dst, v) }

func getVarint(buf []byte) (uint64, []byte, error) {
	var v uint64
	var shift uint
	for i := 0; ; i++ {
		if i >= len(buf) {
			return 0, nil, ErrTruncatedBody
		}
		b := buf[i]
		v |= uint64(b&0x7f) << shift
		if b&0x80 == 0 {
			return v, buf[i+1:], nil
		}
		shift += 7
	}
}

func putBytes(dst []byte, b []byte) []byte {
	dst = putVarint(dst, uint64(len(b)))
	return append(dst, b...)
}

func getBytes(buf []byte) ([]byte, []byte, error) {
	n, rest, err := getVarint(buf)
	if err != nil {
		return nil, nil, err
	}
	if uint64(len(rest)) < n {
		return nil, nil, ErrTruncatedBody
	}
	return rest[:n], rest[n:], nil
}

func putString(dst []byte, s string) []byte { return putBytes(dst, []byte(s)) }

func getString(buf []byte) (string, []byte, error) {
	b, rest, err := getBytes(buf)
	if err != nil {
		return "", nil, err
	}
	return string(b), rest, nil
}

func putUint64(dst []byte, v uint64) []byte {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], v)
	return append(dst, b[:]...)
}

func getUint64(buf []byte) (uint64, []byte, error) {
	if len(buf) < 8 {
		return 0, nil, ErrTruncatedBody
	}
	return binary.BigEndian.Uint64(buf[:8]), buf[8:], nil
}

func putUint32(dst []byte, v uint32) []byte {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], v)
	return append(dst, b[:]...)
}

func getUint32(buf []byte) (uint32, []byte, error) {
	if len(buf) < 4 {
		return 0, nil, ErrTruncatedBody
	}
	return binary.BigEndian.Uint32(buf[:4]), buf[4:], nil
}

func putUint16(dst []byte, v uint16) []byte {
	var b [2]byte
	binary.BigEndian.PutUint16(b[:], v)
	return append(dst, b[:]...)
}

func getUint16(buf []byte) (uint16, []byte, error) {
	if len(buf) < 2 {
		return 0, nil, ErrTruncatedBody
	}
	return binary.BigEndian.Uint16(buf[:2]), buf[2:], nil
}

// ClientHello is sent by the connection initiator under the pre-shared
// identity cipher (spec.md §4.5 WAIT_CONNECT).
type ClientHello struct {
	HostID      string
	CipherSuite string
	KexParams   []byte
	Identity    *HostIdentity // optional, nil if unsigned
}

func (m *ClientHello) Type() string    { return TypeClientHello }
func (m *ClientHello) Version() uint16 { return 1 }

func (m *ClientHello) Encode(dst []byte) []byte {
	dst = putString(dst, m.HostID)
	dst = putString(dst, m.CipherSuite)
	dst = putBytes(dst, m.KexParams)
	dst = putIdentity(dst, m.Identity)
	return dst
}

func (m *ClientHello) Decode(body []byte, _ uint16) error {
	var err error
	if m.HostID, body, err = getString(body); err != nil {
		return err
	}
	if m.CipherSuite, body, err = getString(body); err != nil {
		return err
	}
	if m.KexParams, body, err = getBytes(body); err != nil {
		return err
	}
	m.Identity, _, err = getIdentity(body)
	return err
}

// ServerHello answers a ClientHello, carrying a fresh peer-swapped session
// (spec.md §4.5 WAIT_CLIENT_HELLO).
type ServerHello struct {
	HostID      string
	SessionID   [16]byte
	InboundSeq  uint64
	OutboundSeq uint64
	CipherSuite string
	KexParams   []byte
	Identity    *HostIdentity
}

func (m *ServerHello) Type() string    { return TypeServerHello }
func (m *ServerHello) Version() uint16 { return 1 }

func (m *ServerHello) Encode(dst []byte) []byte {
	dst = putString(dst, m.HostID)
	dst = append(dst, m.SessionID[:]...)
	dst = putUint64(dst, m.InboundSeq)
	dst = putUint64(dst, m.OutboundSeq)
	dst = putString(dst, m.CipherSuite)
	dst = putBytes(dst, m.KexParams)
	dst = putIdentity(dst, m.Identity)
	return dst
}

func (m *ServerHello) Decode(body []byte, _ uint16) error {
	var err error
	if m.HostID, body, err = getString(body); err != nil {
		return err
	}
	if len(body) < 16 {
		return ErrTruncatedBody
	}
	copy(m.SessionID[:], body[:16])
	body = body[16:]
	if m.InboundSeq, body, err = getUint64(body); err != nil {
		return err
	}
	if m.OutboundSeq, body, err = getUint64(body); err != nil {
		return err
	}
	if m.CipherSuite, body, err = getString(body); err != nil {
		return err
	}
	if m.KexParams, body, err = getBytes(body); err != nil {
		return err
	}
	m.Identity, _, err = getIdentity(body)
	return err
}

// HostIdentity optionally binds a hello message to a long-term signing key
// (SPEC_FULL.md §4.8, resolving spec.md §9's triangle-attack open question).
type HostIdentity struct {
	HostID           string
	SigningPublicKey []byte
	Signature        []byte
}

func putIdentity(dst []byte, id *HostIdentity) []byte {
	if id == nil {
		return append(dst, 0)
	}
	dst = append(dst, 1)
	dst = putString(dst, id.HostID)
	dst = putBytes(dst, id.SigningPublicKey)
	dst = putBytes(dst, id.Signature)
	return dst
}

func getIdentity(buf []byte) (*HostIdentity, []byte, error) {
	if len(buf) == 0 {
		return nil, buf, nil
	}
	present := buf[0]
	buf = buf[1:]
	if present == 0 {
		return nil, buf, nil
	}
	id := &HostIdentity{}
	var err error
	if id.HostID, buf, err = getString(buf); err != nil {
		return nil, nil, err
	}
	if id.SigningPublicKey, buf, err = getBytes(buf); err != nil {
		return nil, nil, err
	}
	if id.Signature, buf, err = getBytes(buf); err != nil {
		return nil, nil, err
	}
	return id, buf, nil
}

// PromoteConnection proves possession of the newly-derived key by being
// sendable under it; it carries no further cryptographic content
// (spec.md §9).
type PromoteConnection struct {
	HostID string
}

func (m *PromoteConnection) Type() string    { return TypePromoteConnection }
func (m *PromoteConnection) Version() uint16 { return 1 }

func (m *PromoteConnection) Encode(dst []byte) []byte { return putString(dst, m.HostID) }

func (m *PromoteConnection) Decode(body []byte, _ uint16) error {
	var err error
	m.HostID, _, err = getString(body)
	return err
}

// ClientKeyExchange triggers key rotation (spec.md §4.5).
type ClientKeyExchange struct {
	CipherSuite string
	KexParams   []byte
}

func (m *ClientKeyExchange) Type() string    { return TypeClientKeyExchange }
func (m *ClientKeyExchange) Version() uint16 { return 1 }

func (m *ClientKeyExchange) Encode(dst []byte) []byte {
	dst = putString(dst, m.CipherSuite)
	return putBytes(dst, m.KexParams)
}

func (m *ClientKeyExchange) Decode(body []byte, _ uint16) error {
	var err error
	if m.CipherSuite, body, err = getString(body); err != nil {
		return err
	}
	m.KexParams, _, err = getBytes(body)
	return err
}

// ServerKeyExchange answers a ClientKeyExchange with the server's half.
type ServerKeyExchange struct {
	CipherSuite string
	KexParams   []byte
}

func (m *ServerKeyExchange) Type() string    { return TypeServerKeyExchange }
func (m *ServerKeyExchange) Version() uint16 { return 1 }

func (m *ServerKeyExchange) Encode(dst []byte) []byte {
	dst = putString(dst, m.CipherSuite)
	return putBytes(dst, m.KexParams)
}

func (m *ServerKeyExchange) Decode(body []byte, _ uint16) error {
	var err error
	if m.CipherSuite, body, err = getString(body); err != nil {
		return err
	}
	m.KexParams, _, err = getBytes(body)
	return err
}

// DataPacket carries an opaque application payload. Payload contents are
// out of scope (spec.md §1); only the envelope is normative.
type DataPacket struct {
	HostID string
	Chunk  uint32 // 1-based index of this chunk within Chunks
	Chunks uint32 // total chunk count for this logical send (1 if unfragmented)
	Bytes  []byte
}

func (m *DataPacket) Type() string    { return TypeDataPacket }
func (m *DataPacket) Version() uint16 { return 1 }

func (m *DataPacket) Encode(dst []byte) []byte {
	dst = putString(dst, m.HostID)
	dst = putUint32(dst, m.Chunk)
	dst = putUint32(dst, m.Chunks)
	return putBytes(dst, m.Bytes)
}

func (m *DataPacket) Decode(body []byte, _ uint16) error {
	var err error
	if m.HostID, body, err = getString(body); err != nil {
		return err
	}
	if m.Chunk, body, err = getUint32(body); err != nil {
		return err
	}
	if m.Chunks, body, err = getUint32(body); err != nil {
		return err
	}
	m.Bytes, _, err = getBytes(body)
	return err
}

// HeartbeatPacket is sent by the connection manager when a tunnel has been
// idle longer than idle_threshold (spec.md §4.5, §4.6).
type HeartbeatPacket struct {
	LastRecvTimeSeen int64 // unix seconds, sender's view of when it last heard from peer
	Now              int64 // unix seconds, sender's clock at send time
}

func (m *HeartbeatPacket) Type() string    { return TypeHeartbeatPacket }
func (m *HeartbeatPacket) Version() uint16 { return 1 }

func (m *HeartbeatPacket) Encode(dst []byte) []byte {
	dst = putUint64(dst, uint64(m.LastRecvTimeSeen))
	return putUint64(dst, uint64(m.Now))
}

func (m *HeartbeatPacket) Decode(body []byte, _ uint16) error {
	v, rest, err := getUint64(body)
	if err != nil {
		return err
	}
	m.LastRecvTimeSeen = int64(v)
	v, _, err = getUint64(rest)
	if err != nil {
		return err
	}
	m.Now = int64(v)
	return nil
}

// FragmentPacket is one numbered slice of an oversized serialized message
// (spec.md §4.4). Its wire presence is transparent to application code.
type FragmentPacket struct {
	FragmentNumber uint32 // 1-based
	FragmentCount  uint32
	Bytes          []byte
}

func (m *FragmentPacket) Type() string    { return TypeFragmentPacket }
func (m *FragmentPacket) Version() uint16 { return 1 }

func (m *FragmentPacket) Encode(dst []byte) []byte {
	dst = putUint32(dst, m.FragmentNumber)
	dst = putUint32(dst, m.FragmentCount)
	return putBytes(dst, m.Bytes)
}

func (m *FragmentPacket) Decode(body []byte, _ uint16) error {
	var err error
	if m.FragmentNumber, body, err = getUint32(body); err != nil {
		return err
	}
	if m.FragmentCount, body, err = getUint32(body); err != nil {
		return err
	}
	m.Bytes, _, err = getBytes(body)
	return err
}

// ErrorPacket is an optional, best-effort diagnostic a tunnel MAY send
// immediately before tearing itself down on a locally-detected fatal error
// (SPEC_FULL.md §3). Receipt never changes tunnel state.
type ErrorPacket struct {
	Code    uint32
	Message string
}

func (m *ErrorPacket) Type() string    { return TypeErrorPacket }
func (m *ErrorPacket) Version() uint16 { return 1 }

func (m *ErrorPacket) Encode(dst []byte) []byte {
	dst = putUint32(dst, m.Code)
	return putString(dst, m.Message)
}

func (m *ErrorPacket) Decode(body []byte, _ uint16) error {
	var err error
	if m.Code, body, err = getUint32(body); err != nil {
		return err
	}
	m.Message, _, err = getString(body)
	return err
}

// InitiateDiscovery is broadcast by a host wishing to locate peers
// (spec.md §4.7 step 1).
type InitiateDiscovery struct {
	HostID string
}

func (m *InitiateDiscovery) Type() string    { return TypeInitiateDiscovery }
func (m *InitiateDiscovery) Version() uint16 { return 1 }
func (m *InitiateDiscovery) Encode(dst []byte) []byte {
	return putString(dst, m.HostID)
}
func (m *InitiateDiscovery) Decode(body []byte, _ uint16) error {
	var err error
	m.HostID, _, err = getString(body)
	return err
}

// Beacon answers an InitiateDiscovery (spec.md §4.7 step 2).
type Beacon struct {
	HostID string
}

func (m *Beacon) Type() string    { return TypeBeacon }
func (m *Beacon) Version() uint16 { return 1 }
func (m *Beacon) Encode(dst []byte) []byte {
	return putString(dst, m.HostID)
}
func (m *Beacon) Decode(body []byte, _ uint16) error {
	var err error
	m.HostID, _, err = getString(body)
	return err
}

// Ping is unicast back to a Beacon's source (spec.md §4.7 step 3).
type Ping struct {
	HostID           string
	ListeningTCPPort uint16
}

func (m *Ping) Type() string    { return TypePing }
func (m *Ping) Version() uint16 { return 1 }
func (m *Ping) Encode(dst []byte) []byte {
	dst = putString(dst, m.HostID)
	return putUint16(dst, m.ListeningTCPPort)
}
func (m *Ping) Decode(body []byte, _ uint16) error {
	var err error
	if m.HostID, body, err = getString(body); err != nil {
		return err
	}
	m.ListeningTCPPort, _, err = getUint16(body)
	return err
}
