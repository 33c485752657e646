package wire

import (
	"errors"
	"testing"
)

func TestCatalogNewRoundTrip(t *testing.T) {
	c := NewCatalog()
	RegisterDefaultTypes(c)

	msg, err := c.New(TypeDataPacket)
	if err != nil {
		t.Fatalf("New(%q): %v", TypeDataPacket, err)
	}
	if _, ok := msg.(*DataPacket); !ok {
		t.Errorf("New(%q) returned %T, want *DataPacket", TypeDataPacket, msg)
	}
}

func TestCatalogUnknownType(t *testing.T) {
	c := NewCatalog()
	RegisterDefaultTypes(c)
	if _, err := c.New("NotARealType"); !errors.Is(err, ErrUnknownType) {
		t.Errorf("got err %v, want ErrUnknownType", err)
	}
}

func TestRegisterDefaultTypesCoversEveryWireType(t *testing.T) {
	allTypes := []string{
		TypeClientHello, TypeServerHello, TypePromoteConnection,
		TypeClientKeyExchange, TypeServerKeyExchange, TypeDataPacket,
		TypeHeartbeatPacket, TypeFragmentPacket, TypeErrorPacket,
		TypeInitiateDiscovery, TypeBeacon, TypePing,
	}

	c := NewCatalog()
	RegisterDefaultTypes(c)
	for _, typ := range allTypes {
		if _, err := c.New(typ); err != nil {
			t.Errorf("New(%q): %v", typ, err)
		}
	}
}
