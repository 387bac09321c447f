package busproto

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMessageEncodeDecodeRoundTrip(t *testing.T) {
	m := &Message{
		Type:        TypeMethodCall,
		Serial:      7,
		Path:        ObjectPath("/org/bluez/hci0/dev_AA"),
		Interface:   ifaceGattChar,
		Member:      "ReadValue",
		Destination: BlueZBusName,
	}
	require.NoError(t, m.MarshalBody("a{sv}", map[string]Variant{}))

	wire := m.Encode()
	order, msgType, bodyLen, fieldsLen, err := DecodeHeader(wire)
	require.NoError(t, err)
	assert.Equal(t, TypeMethodCall, msgType)
	assert.EqualValues(t, len(m.Body), bodyLen)
	assert.Greater(t, fieldsLen, uint32(0))

	decoded, err := Decode(wire, order)
	require.NoError(t, err)
	assert.Equal(t, m.Path, decoded.Path)
	assert.Equal(t, m.Interface, decoded.Interface)
	assert.Equal(t, m.Member, decoded.Member)
	assert.Equal(t, m.Destination, decoded.Destination)
	assert.Equal(t, "a{sv}", decoded.Signature)
}

func TestMessageEncodeDecodeStringArg(t *testing.T) {
	m := &Message{Type: TypeMethodCall, Serial: 1, Path: "/a", Member: "Foo"}
	require.NoError(t, m.MarshalBody("s", "hello"))
	wire := m.Encode()
	order, _, _, _, err := DecodeHeader(wire)
	require.NoError(t, err)
	decoded, err := Decode(wire, order)
	require.NoError(t, err)
	require.Len(t, decoded.Args, 1)
	assert.Equal(t, "hello", decoded.Args[0])
}

func TestHandleOfExtractsEmbeddedHexHandle(t *testing.T) {
	h, err := HandleOf(ObjectPath("/org/bluez/hci0/dev_AA/service0012/char0034"))
	require.NoError(t, err)
	assert.EqualValues(t, 0x0034, h)
}

func TestHandleOfRejectsShortSegment(t *testing.T) {
	_, err := HandleOf(ObjectPath("/org/bluez/hci0/dev_AA/x"))
	assert.Error(t, err)
}

func TestResolveCharacteristicByHandleThreeStage(t *testing.T) {
	dev := ObjectPath("/org/bluez/hci0/dev_AA")
	svc := dev + "/service0001"
	ch := svc + "/char0012"
	objs := []ManagedObject{
		{Path: dev, Interfaces: map[string]map[string]Variant{ifaceDevice: {}}},
		{Path: svc, Interfaces: map[string]map[string]Variant{ifaceGattService: {}}},
		{Path: ch, Interfaces: map[string]map[string]Variant{ifaceGattChar: {}}},
	}
	got, err := ResolveCharacteristicByHandle(objs, dev, 0x0001, 0x0012)
	require.NoError(t, err)
	assert.Equal(t, ch, got)
}

func TestResolveCharacteristicByHandleMissingServiceErrors(t *testing.T) {
	dev := ObjectPath("/org/bluez/hci0/dev_AA")
	_, err := ResolveCharacteristicByHandle(nil, dev, 0x0001, 0x0002)
	assert.Error(t, err)
}
