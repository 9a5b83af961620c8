// Package hw defines the command boundary between the rule placement engine
// and a TCAM device.
package hw

import (
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/yanet-platform/tcam/controlplane/tcam/geometry"
)

// ErrTimeout is returned when a bounded poll does not observe command
// completion.
var ErrTimeout = errors.New("hardware command timeout")

const (
	// DefaultPollInterval is the sleep between two idle checks.
	DefaultPollInterval = 10 * time.Microsecond
	// DefaultPollTimeout bounds a single command.
	DefaultPollTimeout = 100 * time.Millisecond
)

// Direction is the direction of a move command.
type Direction uint8

const (
	// MoveUp relocates content towards lower addresses. It opens a gap at
	// the top of the moved range and is used by insertion.
	MoveUp Direction = iota
	// MoveDown relocates content towards higher addresses. It closes a gap
	// above the moved range and is used by deletion.
	MoveDown
)

func (m Direction) String() string {
	switch m {
	case MoveUp:
		return "up"
	case MoveDown:
		return "down"
	default:
		return fmt.Sprintf("Direction(%d)", uint8(m))
	}
}

// Subword is the raw register image of a single slot.
//
// Key bits use the TCAM x/y encoding: X holds the bits matching one, Y the
// bits matching zero.
type Subword struct {
	X       []uint32
	Y       []uint32
	Action  []uint32
	Counter uint32
}

// Clone returns a deep copy of the subword.
func (m Subword) Clone() Subword {
	return Subword{
		X:       slices.Clone(m.X),
		Y:       slices.Clone(m.Y),
		Action:  slices.Clone(m.Action),
		Counter: m.Counter,
	}
}

// Device is a single TCAM table.
//
// Each command only starts the operation, completion is observed through
// PollIdle. Commands on non-overlapping addresses are atomic with respect to
// each other.
type Device interface {
	// ReadSubword reads the registers of a slot.
	ReadSubword(addr int) (Subword, error)
	// WriteSubword writes the registers of a slot.
	WriteSubword(addr int, sw Subword) error
	// Move relocates the content of [low, high] by "distance" slots in the
	// given direction. Content is preserved verbatim.
	Move(low int, high int, distance int, dir Direction) error
	// Init resets "count" slots starting at addr to the never-match pattern.
	Init(addr int, count int) error
	// PollIdle waits until the last command completes.
	PollIdle(timeout time.Duration) error
}

// Prober is implemented by devices that can report their constants.
type Prober interface {
	Probe() (geometry.Info, error)
}
