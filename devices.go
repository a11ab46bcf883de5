package movehub

import (
	"slices"
	"sync"
	"sync/atomic"
)

// Device is a typed peripheral attached to a hub port. The registry
// exclusively owns Device instances; a detach destroys the instance and a
// re-attach produces a brand new one.
type Device struct {
	Port            Port
	Kind            DeviceKind
	IOType          IOType
	HardwareVersion uint32
	SoftwareVersion uint32

	// GroupPorts names the member ports when this device is a virtual
	// pair, like the builtin AB motor.
	GroupPorts []Port

	mu      sync.Mutex
	subs    []*deviceSub
	mode    byte
	enabled bool

	// setup serializes mode transitions: the check of the active mode, the
	// setup command and the subscriber registration happen as a unit, so
	// the recorded mode always matches the last setup the hub acknowledged.
	setup sync.Mutex
}

// HasEncoder reports whether the device reports position feedback.
func (d *Device) HasEncoder() bool {
	return d.IOType == IOTypeExternalMotor || d.IOType == IOTypeInternalMotor
}

type deviceSub struct {
	mode   byte
	fn     func(value []byte, mode byte)
	active atomic.Bool

	// run is held by the dispatcher from before the active check until the
	// callback returns, so flipping active and then passing through run is
	// a fence: no callback can begin once both have happened.
	run sync.Mutex
}

func newDevice(msg *AttachedIOMessage) *Device {
	return &Device{
		Port:            msg.Port,
		Kind:            kindOf(msg.IOType),
		IOType:          msg.IOType,
		HardwareVersion: msg.HardwareVersion,
		SoftwareVersion: msg.SoftwareVersion,
		GroupPorts:      msg.GroupPorts,
	}
}

func (d *Device) addSub(s *deviceSub) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.subs = append(d.subs, s)
	d.mode = s.mode
	d.enabled = true
}

// removeSub drops the subscription and reports whether any remain.
func (d *Device) removeSub(s *deviceSub) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.subs = slices.DeleteFunc(d.subs, func(ss *deviceSub) bool {
		return s == ss
	})
	if len(d.subs) == 0 {
		d.enabled = false
		return false
	}
	return true
}

// activeMode reports the mode the hardware is currently streaming, and
// whether streaming is enabled at all.
func (d *Device) activeMode() (byte, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.mode, d.enabled
}

// applyInputFormat records the mode setup the hub acknowledged.
func (d *Device) applyInputFormat(mode byte, enabled bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.mode = mode
	d.enabled = enabled
}

// snapshot returns the current subscriber list along with the active
// mode. The dispatcher invokes callbacks outside the device lock; each
// subscription's active flag is rechecked under its run lock, which an
// unsubscribe also passes through, so that a completed unsubscribe is
// never followed by a fresh callback.
func (d *Device) snapshot() ([]*deviceSub, byte) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return slices.Clone(d.subs), d.mode
}

// clearSubs deactivates every subscription, used when the device
// detaches. Stale subscriptions never see callbacks from a replacement
// device on the same port.
func (d *Device) clearSubs() {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, s := range d.subs {
		s.active.Store(false)
	}
	d.subs = nil
	d.enabled = false
}
