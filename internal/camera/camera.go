// Package camera defines the capability contract the acquisition core needs
// from a camera driver, plus a simulated sensor used for tests and demos.
package camera

import (
	"errors"
	"time"

	"github.com/enricmcalvo/UUTrap/pkg/types"
)

var (
	// ErrDevice is wrapped by every trigger or read failure.
	ErrDevice = errors.New("camera device error")
	// ErrStopped is returned by a device after Stop.
	ErrStopped = errors.New("camera stopped")
)

// Device is the software contract of a camera driver.
//
// Trigger and Read may block for the exposure time. They are not interrupted
// by the acquisition worker's stop request.
type Device interface {
	// Trigger starts the exposure of one frame.
	Trigger() error

	// Read returns the frame of the last trigger.
	Read() (*types.Frame, error)

	// SetROI restricts readout to the inclusive bounds x = [left, right],
	// y = [bottom, top] and returns the size actually applied, which the
	// hardware may adjust.
	SetROI(x, y [2]int) (width, height int, err error)

	// SetExposure sets the exposure time.
	SetExposure(exposure time.Duration) error

	// Size returns the current frame size.
	Size() (width, height int)

	// MaxSize returns the full sensor size.
	MaxSize() (width, height int)

	// Stop releases the device.
	Stop() error
}
