// Package devicemgr holds the declaration types and the DeviceManager that
// matches, attaches, and detaches devices across all transports.
package devicemgr

// TransportType identifies one of the five input transport families a
// script may declare an input against.
type TransportType string

const (
	TransportEvdev  TransportType = "evdev"
	TransportHidraw TransportType = "hidraw"
	TransportLibusb TransportType = "libusb"
	TransportGatt   TransportType = "gatt"
	TransportMidi   TransportType = "midi"
)

// OutputType identifies the virtual device profile a script declares.
type OutputType string

const (
	OutputKeyboard    OutputType = "keyboard"
	OutputConsumer    OutputType = "consumer"
	OutputMouse       OutputType = "mouse"
	OutputGamepad     OutputType = "gamepad"
	OutputTouchpad    OutputType = "touchpad"
	OutputTouchpadMT  OutputType = "touchpad_mt"
	OutputTouchscreen OutputType = "touchscreen"
	OutputDigitizer   OutputType = "digitizer"
)

// BusKind is the optional bus hint on an InputDecl.
type BusKind string

const (
	BusUSB       BusKind = "usb"
	BusBluetooth BusKind = "bluetooth"
	BusPCI       BusKind = "pci"
)

// Capability is one (event-type, event-code) predicate an evdev match must
// satisfy.
type Capability struct {
	Type uint16 `yaml:"type" json:"type" toml:"type"`
	Code uint16 `yaml:"code" json:"code" toml:"code"`
}

// InputDecl is the script-provided declaration of a desired input device.
// Fields tagged "pattern-aware" below follow the match_string heuristic in
// match.go: a leading '^', trailing '$', or embedded ".*"/".+" is treated
// as regex, anything else as a literal. Struct tags mirror the declarative
// script file's top-level `inputs` table, loaded by internal/runtime/decl.go.
type InputDecl struct {
	ID   string        `yaml:"id" json:"id" toml:"id"`
	Type TransportType `yaml:"type" json:"type" toml:"type"`

	Vendor  *uint16 `yaml:"vendor,omitempty" json:"vendor,omitempty" toml:"vendor,omitempty"`
	Product *uint16 `yaml:"product,omitempty" json:"product,omitempty" toml:"product,omitempty"`
	Bus     BusKind `yaml:"bus,omitempty" json:"bus,omitempty" toml:"bus,omitempty"`

	Interface *int `yaml:"interface,omitempty" json:"interface,omitempty" toml:"interface,omitempty"` // USB interface number

	Name string `yaml:"name,omitempty" json:"name,omitempty" toml:"name,omitempty"` // pattern-aware
	Phys string `yaml:"phys,omitempty" json:"phys,omitempty" toml:"phys,omitempty"` // pattern-aware
	Uniq string `yaml:"uniq,omitempty" json:"uniq,omitempty" toml:"uniq,omitempty"` // pattern-aware

	MinVersion *uint16 `yaml:"min_version,omitempty" json:"min_version,omitempty" toml:"min_version,omitempty"` // bounds kernel bustype version
	MaxVersion *uint16 `yaml:"max_version,omitempty" json:"max_version,omitempty" toml:"max_version,omitempty"`

	Grab bool `yaml:"grab,omitempty" json:"grab,omitempty" toml:"grab,omitempty"` // evdev only: exclusive capture

	Capabilities []Capability `yaml:"capabilities,omitempty" json:"capabilities,omitempty" toml:"capabilities,omitempty"`

	Service        *uint16 `yaml:"service,omitempty" json:"service,omitempty" toml:"service,omitempty"`               // GATT 16-bit service handle
	Characteristic *uint16 `yaml:"characteristic,omitempty" json:"characteristic,omitempty" toml:"characteristic,omitempty"` // GATT 16-bit characteristic handle

	Client string `yaml:"client,omitempty" json:"client,omitempty" toml:"client,omitempty"` // MIDI
	Port   string `yaml:"port,omitempty" json:"port,omitempty" toml:"port,omitempty"`       // MIDI

	OnEvent string `yaml:"on_event,omitempty" json:"on_event,omitempty" toml:"on_event,omitempty"` // script global called per event/frame
	OnState string `yaml:"on_state,omitempty" json:"on_state,omitempty" toml:"on_state,omitempty"` // script global called on lifecycle changes
}

// RepeatRate (grounded on original_source/device_output.cc) carries
// optional keyboard auto-repeat hints. They are parsed from the
// declaration but not applied when the uinput device is created.
type RepeatRate struct {
	DelayMS  uint32 `yaml:"delay_ms" json:"delay_ms" toml:"delay_ms"`
	PeriodMS uint32 `yaml:"period_ms" json:"period_ms" toml:"period_ms"`
}

// OutputDecl is the script-provided declaration of a virtual output device.
type OutputDecl struct {
	ID      string     `yaml:"id" json:"id" toml:"id"`
	Type    OutputType `yaml:"type" json:"type" toml:"type"`
	Vendor  uint16     `yaml:"vendor,omitempty" json:"vendor,omitempty" toml:"vendor,omitempty"`
	Product uint16     `yaml:"product,omitempty" json:"product,omitempty" toml:"product,omitempty"`
	Version uint16     `yaml:"version,omitempty" json:"version,omitempty" toml:"version,omitempty"`
	Bus     BusKind    `yaml:"bus,omitempty" json:"bus,omitempty" toml:"bus,omitempty"`
	Name    string     `yaml:"name,omitempty" json:"name,omitempty" toml:"name,omitempty"`

	ExtraCapabilities []Capability `yaml:"extra_capabilities,omitempty" json:"extra_capabilities,omitempty" toml:"extra_capabilities,omitempty"`
	Repeat            *RepeatRate  `yaml:"repeat,omitempty" json:"repeat,omitempty" toml:"repeat,omitempty"` // parsed only; not applied to the uinput device

	OnHaptics string `yaml:"on_haptics,omitempty" json:"on_haptics,omitempty" toml:"on_haptics,omitempty"` // script global invoked on FF action
}
