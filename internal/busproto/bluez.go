package busproto

import (
	"fmt"
	"strings"
)

// BlueZ well-known bus name and root object manager path, used by the GATT
// dispatcher's three-stage device/service/characteristic resolution
// (DESIGN.md Open Question 1/2).
const (
	BlueZBusName = "org.bluez"
	RootPath     = ObjectPath("/")

	ifaceObjectManager  = "org.freedesktop.DBus.ObjectManager"
	ifaceProperties     = "org.freedesktop.DBus.Properties"
	ifaceDevice         = "org.bluez.Device1"
	ifaceGattService    = "org.bluez.GattService1"
	ifaceGattChar       = "org.bluez.GattCharacteristic1"
)

// ManagedObject is one entry of a GetManagedObjects reply: an object path
// plus its interface -> property map.
type ManagedObject struct {
	Path       ObjectPath
	Interfaces map[string]map[string]Variant
}

// GetManagedObjects calls the root ObjectManager and flattens the
// a{oa{sa{sv}}} reply into a slice, used to walk BlueZ's device/service/
// characteristic tree without prior knowledge of object paths.
func GetManagedObjects(c *Conn) ([]ManagedObject, error) {
	reply, err := c.Call(BlueZBusName, RootPath, ifaceObjectManager, "GetManagedObjects", "")
	if err != nil {
		return nil, fmt.Errorf("busproto: GetManagedObjects: %w", err)
	}
	if len(reply.Args) != 1 {
		return nil, fmt.Errorf("busproto: GetManagedObjects: unexpected reply shape")
	}
	outer, ok := reply.Args[0].(map[string]Variant)
	if !ok {
		return nil, fmt.Errorf("busproto: GetManagedObjects: reply is not a{oa{sa{sv}}}")
	}
	objs := make([]ManagedObject, 0, len(outer))
	for pathStr, v := range outer {
		ifaces, ok := v.Value.(map[string]Variant)
		if !ok {
			continue
		}
		mo := ManagedObject{Path: ObjectPath(pathStr), Interfaces: make(map[string]map[string]Variant)}
		for ifaceName, propsVar := range ifaces {
			props, ok := propsVar.Value.(map[string]Variant)
			if !ok {
				continue
			}
			mo.Interfaces[ifaceName] = props
		}
		objs = append(objs, mo)
	}
	return objs, nil
}

// ResolveCharacteristicByHandle walks a GetManagedObjects snapshot to find
// the object path of the characteristic under devicePath whose service and
// characteristic path-embedded handles match serviceHandle/charHandle
// (InputDecl.Service/Characteristic), implementing the three-stage device
// -> service -> characteristic resolution by path-embedded handle.
func ResolveCharacteristicByHandle(objs []ManagedObject, devicePath ObjectPath, serviceHandle, charHandle uint16) (ObjectPath, error) {
	servicePath, err := resolveServicePath(objs, devicePath, serviceHandle)
	if err != nil {
		return "", err
	}
	return resolveCharPath(objs, servicePath, charHandle)
}

func resolveServicePath(objs []ManagedObject, devicePath ObjectPath, serviceHandle uint16) (ObjectPath, error) {
	for _, o := range objs {
		if !strings.HasPrefix(string(o.Path), string(devicePath)+"/") {
			continue
		}
		if _, ok := o.Interfaces[ifaceGattService]; !ok {
			continue
		}
		if h, err := HandleOf(o.Path); err == nil && h == serviceHandle {
			return o.Path, nil
		}
	}
	return "", fmt.Errorf("busproto: service handle %04x not found under %s", serviceHandle, devicePath)
}

func resolveCharPath(objs []ManagedObject, servicePath ObjectPath, charHandle uint16) (ObjectPath, error) {
	for _, o := range objs {
		if !strings.HasPrefix(string(o.Path), string(servicePath)+"/") {
			continue
		}
		if _, ok := o.Interfaces[ifaceGattChar]; !ok {
			continue
		}
		if h, err := HandleOf(o.Path); err == nil && h == charHandle {
			return o.Path, nil
		}
	}
	return "", fmt.Errorf("busproto: characteristic handle %04x not found under %s", charHandle, servicePath)
}

// charPathsUnderService lists every GattCharacteristic1 object path nested
// under servicePath, in the order GetManagedObjects returned them.
func charPathsUnderService(objs []ManagedObject, servicePath ObjectPath) []ObjectPath {
	var out []ObjectPath
	for _, o := range objs {
		if !strings.HasPrefix(string(o.Path), string(servicePath)+"/") {
			continue
		}
		if _, ok := o.Interfaces[ifaceGattChar]; ok {
			out = append(out, o.Path)
		}
	}
	return out
}

// ResolveCharacteristics implements the device -> service -> characteristic
// resolution. The service and characteristic handles are each optional,
// except that a characteristic handle requires a service handle:
//
//   - service == nil, char == nil: decl matches at the device level; the
//     device path itself is returned as the sole entry.
//   - service != nil, char == nil: every characteristic nested under the
//     resolved service is returned, so the caller may subscribe to each.
//   - service != nil, char != nil: the single resolved characteristic path
//     is returned.
//   - service == nil, char != nil: rejected -- a characteristic handle is
//     only meaningful relative to a resolved service.
func ResolveCharacteristics(objs []ManagedObject, devicePath ObjectPath, service, char *uint16) ([]ObjectPath, error) {
	if service == nil {
		if char != nil {
			return nil, fmt.Errorf("busproto: characteristic handle %04x given without a service handle", *char)
		}
		return []ObjectPath{devicePath}, nil
	}
	servicePath, err := resolveServicePath(objs, devicePath, *service)
	if err != nil {
		return nil, err
	}
	if char == nil {
		chars := charPathsUnderService(objs, servicePath)
		if len(chars) == 0 {
			return nil, fmt.Errorf("busproto: no characteristics found under service %s", servicePath)
		}
		return chars, nil
	}
	charPath, err := resolveCharPath(objs, servicePath, *char)
	if err != nil {
		return nil, err
	}
	return []ObjectPath{charPath}, nil
}

// HandleOf extracts the path-embedded 4-hex-digit handle from a GATT
// object path (e.g. ".../service0012/char0034" -> 0x0034), the key that
// declared service and characteristic handles are resolved by.
func HandleOf(path ObjectPath) (uint16, error) {
	s := string(path)
	idx := strings.LastIndex(s, "/")
	if idx < 0 || len(s)-idx-1 < 4 {
		return 0, fmt.Errorf("busproto: path %q has no embedded handle", path)
	}
	tail := s[len(s)-4:]
	var handle uint16
	if _, err := fmt.Sscanf(tail, "%04x", &handle); err != nil {
		return 0, fmt.Errorf("busproto: path %q: %w", path, err)
	}
	return handle, nil
}

// ReadValue calls GattCharacteristic1.ReadValue({}) and returns the raw
// bytes.
func ReadValue(c *Conn, charPath ObjectPath) ([]byte, error) {
	reply, err := c.Call(BlueZBusName, charPath, ifaceGattChar, "ReadValue", "a{sv}", map[string]Variant{})
	if err != nil {
		return nil, err
	}
	if len(reply.Args) != 1 {
		return nil, fmt.Errorf("busproto: ReadValue: unexpected reply shape")
	}
	b, ok := reply.Args[0].([]byte)
	if !ok {
		return nil, fmt.Errorf("busproto: ReadValue: reply is not ay")
	}
	return b, nil
}

// WriteValue calls GattCharacteristic1.WriteValue with type=request, the
// acknowledged write mode.
func WriteValue(c *Conn, charPath ObjectPath, data []byte) error {
	opts := map[string]Variant{"type": {Sig: "s", Value: "request"}}
	_, err := c.Call(BlueZBusName, charPath, ifaceGattChar, "WriteValue", "aya{sv}", data, opts)
	return err
}

// StartNotify subscribes to value-changed notifications on charPath; the
// caller observes them via PropertiesChanged signals routed by object path.
func StartNotify(c *Conn, charPath ObjectPath) error {
	_, err := c.Call(BlueZBusName, charPath, ifaceGattChar, "StartNotify", "")
	return err
}

func StopNotify(c *Conn, charPath ObjectPath) error {
	_, err := c.Call(BlueZBusName, charPath, ifaceGattChar, "StopNotify", "")
	return err
}

// PropertiesChangedPayload is the decoded body of an
// org.freedesktop.DBus.Properties.PropertiesChanged signal:
// (interface_name, changed_properties, invalidated_properties).
type PropertiesChangedPayload struct {
	Interface string
	Changed   map[string]Variant
}

// ParsePropertiesChanged decodes msg's body if it is a PropertiesChanged
// signal, returning ok=false for anything else.
func ParsePropertiesChanged(msg *Message) (PropertiesChangedPayload, bool) {
	if msg.Type != TypeSignal || msg.Interface != ifaceProperties || msg.Member != "PropertiesChanged" {
		return PropertiesChangedPayload{}, false
	}
	if len(msg.Args) < 2 {
		return PropertiesChangedPayload{}, false
	}
	iface, ok := msg.Args[0].(string)
	if !ok {
		return PropertiesChangedPayload{}, false
	}
	changed, ok := msg.Args[1].(map[string]Variant)
	if !ok {
		return PropertiesChangedPayload{}, false
	}
	return PropertiesChangedPayload{Interface: iface, Changed: changed}, true
}
