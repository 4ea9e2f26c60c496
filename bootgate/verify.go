package bootgate

import (
	"errors"
	"fmt"
)

// State is one node of the verification state machine.
type State string

const (
	Unverified    State = "Unverified"
	DeviceLocated State = "DeviceLocated"
	TypeChecked   State = "TypeChecked"
	LabelChecked  State = "LabelChecked"
	Ready         State = "Ready"
	FailClosed    State = "FailClosed"
)

// Verification errors. Each maps to the transition that failed.
var (
	ErrDeviceNotFound      = errors.New("expected block device not found")
	ErrDeviceTypeMismatch  = errors.New("block device filesystem type mismatch")
	ErrDeviceLabelMismatch = errors.New("block device label mismatch")
)

// BlockDevice is the observed identity of a located volume.
type BlockDevice struct {
	Path            string
	FilesystemType  string
	FilesystemLabel string
}

// Expectation is what the volume must look like before it may be mounted.
type Expectation struct {
	DeviceGlob     string
	FilesystemType string
	Label          string
}

// Result is the typed outcome of a verification walk.
type Result struct {
	State  State
	Device *BlockDevice
	Err    error

	// Trace records every state reached, in order, for forensic logging.
	Trace []State
}

// Ready reports whether the volume passed every check.
func (r Result) Ready() bool { return r.State == Ready }

// Inspector locates a block device and reports its filesystem identity.
type Inspector interface {
	Locate(deviceGlob string) (*BlockDevice, error)
}

// Evaluate runs the pure portion of the state machine against an already
// located device. It has no side effects.
func Evaluate(dev BlockDevice, want Expectation) Result {
	res := Result{
		Device: &dev,
		Trace:  []State{Unverified, DeviceLocated},
	}

	if dev.FilesystemType != want.FilesystemType {
		res.State = FailClosed
		res.Err = fmt.Errorf("%w: %s has type %q, expected %q",
			ErrDeviceTypeMismatch, dev.Path, dev.FilesystemType, want.FilesystemType)
		res.Trace = append(res.Trace, FailClosed)
		return res
	}
	res.Trace = append(res.Trace, TypeChecked)

	if dev.FilesystemLabel != want.Label {
		res.State = FailClosed
		res.Err = fmt.Errorf("%w: %s has label %q, expected %q",
			ErrDeviceLabelMismatch, dev.Path, dev.FilesystemLabel, want.Label)
		res.Trace = append(res.Trace, FailClosed)
		return res
	}
	res.Trace = append(res.Trace, LabelChecked, Ready)
	res.State = Ready
	return res
}

// Gate binds an inspector to an expectation.
type Gate struct {
	Inspector Inspector
	Want      Expectation
}

// Run locates the device and evaluates it. Location failure routes to
// FailClosed exactly like a mismatch: an absent volume must not silently
// proceed either.
func (g *Gate) Run() Result {
	dev, err := g.Inspector.Locate(g.Want.DeviceGlob)
	if err != nil {
		return Result{
			State: FailClosed,
			Err:   err,
			Trace: []State{Unverified, FailClosed},
		}
	}
	return Evaluate(*dev, g.Want)
}
