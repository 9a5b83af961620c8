package tcam

import (
	"errors"

	"github.com/yanet-platform/tcam/controlplane/tcam/geometry"
	"github.com/yanet-platform/tcam/controlplane/tcam/hw"
)

var (
	// ErrInvalidTable is returned for unknown table identifiers.
	ErrInvalidTable = errors.New("invalid table")
	// ErrInvalidGeometry is returned when the table constants do not match
	// the hardware. Such a table refuses all further operations.
	ErrInvalidGeometry = geometry.ErrInvalidGeometry
	// ErrUnsupportedSize is returned when the rule shape fits no size class.
	ErrUnsupportedSize = geometry.ErrUnsupportedSize
	// ErrInvalidRule is returned for rules with inconsistent buffers or an
	// unknown lookup.
	ErrInvalidRule = errors.New("invalid rule")
	// ErrAlreadyExists is returned when adding a rule with a taken identity.
	ErrAlreadyExists = errors.New("rule already exists")
	// ErrNotFound is returned when no rule has the requested identity.
	ErrNotFound = errors.New("rule not found")
	// ErrOutOfSpace is returned when the table has fewer free slots than the
	// rule requires.
	ErrOutOfSpace = errors.New("out of space")
	// ErrSizeMismatch is returned when a modification would change the
	// number of slots a rule occupies.
	ErrSizeMismatch = errors.New("rule size mismatch")
	// ErrHardwareTimeout is returned when a hardware command does not
	// complete in time.
	ErrHardwareTimeout = hw.ErrTimeout
	// ErrResourceReleaseFailed is returned when the side resource of a
	// deleted rule cannot be released. The rule is deleted regardless.
	ErrResourceReleaseFailed = errors.New("failed to release rule resource")
)
