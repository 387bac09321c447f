// Package haptics implements the Force-Feedback routing plane: a
// normalized EffectRecord, per-source and per-sink contexts, and a
// router that fans a virtual source's uploads out to physical sinks.
//
// Grounded on device/dualshock4/inputstate.go's rumble/feedback struct
// shape (a real physical controller's output report already carries
// strong/weak rumble magnitudes); generalized here to the full FF
// taxonomy in original_source/device_capabilities.h.
package haptics

import "github.com/aelkeyd/aelkeyd/internal/kernelio"

// Kind is the normalized EffectRecord variant.
type Kind int

const (
	KindRumble Kind = iota
	KindPeriodic
	KindConstant
)

// Envelope mirrors EffectRecord's envelope sub-record.
type Envelope struct {
	AttackLen, AttackLevel int32
	FadeLen, FadeLevel     int32
}

// Replay mirrors EffectRecord's common replay sub-record.
type Replay struct {
	Length, Delay int32
}

// Trigger mirrors EffectRecord's common trigger sub-record.
type Trigger struct {
	Button, Interval int32
}

// EffectRecord is the tagged-sum normalized force-feedback effect.
// Unknown kernel variants are normalized to KindRumble with magnitudes
// 0x4000 and a 250ms length default; this is policy, not a workaround.
type EffectRecord struct {
	Kind Kind

	// Rumble
	Strong, Weak uint16

	// Periodic
	Waveform  uint16
	Magnitude int16
	Offset    int16
	Phase     uint16
	Period    uint16

	Envelope Envelope

	// Constant
	Level int16

	Direction uint16
	Replay    Replay
	Trigger   Trigger
}

const (
	fallbackMagnitude = 0x4000
	fallbackLengthMS  = 250
)

// Fallback returns the normalized rumble effect used when a kernel ff_effect
// variant is unrecognized.
func Fallback() EffectRecord {
	return EffectRecord{
		Kind:   KindRumble,
		Strong: fallbackMagnitude,
		Weak:   fallbackMagnitude,
		Replay: Replay{Length: fallbackLengthMS},
	}
}

// NormalizeFromKernel converts a raw kernel ff_effect into an EffectRecord,
// falling back to Fallback() for any effect Type this runtime does not
// model (spring/friction/damper/inertia/ramp condition effects).
func NormalizeFromKernel(eff kernelio.FFEffect) EffectRecord {
	base := EffectRecord{
		Direction: eff.Direction,
		Replay:    Replay{Length: int32(eff.Replay.Length), Delay: int32(eff.Replay.Delay)},
		Trigger:   Trigger{Button: int32(eff.Trigger.Button), Interval: int32(eff.Trigger.Interval)},
	}
	switch eff.Type {
	case kernelio.FF_RUMBLE:
		base.Kind = KindRumble
		base.Strong = eff.Rumble.StrongMagnitude
		base.Weak = eff.Rumble.WeakMagnitude
	case kernelio.FF_PERIODIC:
		base.Kind = KindPeriodic
		base.Waveform = eff.Periodic.Waveform
		base.Magnitude = eff.Periodic.Magnitude
		base.Offset = eff.Periodic.Offset
		base.Phase = eff.Periodic.Phase
		base.Period = eff.Periodic.Period
		base.Envelope = Envelope{
			AttackLen: int32(eff.Periodic.Envelope.AttackLength), AttackLevel: int32(eff.Periodic.Envelope.AttackLevel),
			FadeLen: int32(eff.Periodic.Envelope.FadeLength), FadeLevel: int32(eff.Periodic.Envelope.FadeLevel),
		}
	case kernelio.FF_CONSTANT:
		base.Kind = KindConstant
		base.Level = eff.Constant.Level
		base.Envelope = Envelope{
			AttackLen: int32(eff.Constant.Envelope.AttackLength), AttackLevel: int32(eff.Constant.Envelope.AttackLevel),
			FadeLen: int32(eff.Constant.Envelope.FadeLength), FadeLevel: int32(eff.Constant.Envelope.FadeLevel),
		}
	default:
		fb := Fallback()
		fb.Direction = eff.Direction
		return fb
	}
	return base
}

// ToKernel converts a normalized EffectRecord back into a kernel ff_effect
// for uploading to a sink, with id left at -1 for a fresh upload (the
// caller overwrites ID when updating an existing slot).
func (e EffectRecord) ToKernel() kernelio.FFEffect {
	out := kernelio.FFEffect{
		ID:        -1,
		Direction: e.Direction,
		Trigger:   kernelio.Trigger{Button: uint16(e.Trigger.Button), Interval: uint16(e.Trigger.Interval)},
		Replay:    kernelio.Replay{Length: uint16(e.Replay.Length), Delay: uint16(e.Replay.Delay)},
	}
	switch e.Kind {
	case KindRumble:
		out.Type = kernelio.FF_RUMBLE
		out.Rumble = kernelio.Rumble{StrongMagnitude: e.Strong, WeakMagnitude: e.Weak}
	case KindPeriodic:
		out.Type = kernelio.FF_PERIODIC
		out.Periodic = kernelio.Periodic{
			Waveform: e.Waveform, Period: e.Period, Magnitude: e.Magnitude, Offset: e.Offset, Phase: e.Phase,
			Envelope: kernelio.Envelope{
				AttackLength: uint16(e.Envelope.AttackLen), AttackLevel: uint16(e.Envelope.AttackLevel),
				FadeLength: uint16(e.Envelope.FadeLen), FadeLevel: uint16(e.Envelope.FadeLevel),
			},
		}
	case KindConstant:
		out.Type = kernelio.FF_CONSTANT
		out.Constant = kernelio.Constant{
			Level: e.Level,
			Envelope: kernelio.Envelope{
				AttackLength: uint16(e.Envelope.AttackLen), AttackLevel: uint16(e.Envelope.AttackLevel),
				FadeLength: uint16(e.Envelope.FadeLen), FadeLevel: uint16(e.Envelope.FadeLevel),
			},
		}
	}
	return out
}
