package tcam

import (
	"fmt"
	"slices"
	"strings"
)

// User identifies a rule producer sharing a table.
//
// The ordinal is the macro priority: rules of a lower user are evaluated
// before rules of a higher one within the same size class.
type User uint8

const (
	UserPTP User = iota
	UserMRP
	UserCFM
	UserVLAN
	UserQoS
	UserUtil
	UserTC
	UserTCExtra
)

var userNames = [...]string{
	UserPTP:     "ptp",
	UserMRP:     "mrp",
	UserCFM:     "cfm",
	UserVLAN:    "vlan",
	UserQoS:     "qos",
	UserUtil:    "util",
	UserTC:      "tc",
	UserTCExtra: "tc-extra",
}

func (m User) String() string {
	if int(m) < len(userNames) {
		return userNames[m]
	}
	return fmt.Sprintf("user%d", uint8(m))
}

// ParseUser parses a user name as printed by User.String.
func ParseUser(name string) (User, error) {
	idx := slices.Index(userNames[:], strings.ToLower(name))
	if idx < 0 {
		return 0, fmt.Errorf("unknown user %q", name)
	}

	return User(idx), nil
}

// MarshalText implements encoding.TextMarshaler.
func (m User) MarshalText() ([]byte, error) {
	return []byte(m.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (m *User) UnmarshalText(text []byte) error {
	user, err := ParseUser(string(text))
	if err != nil {
		return err
	}
	*m = user
	return nil
}

// Identity identifies a rule within a table.
//
// The cookie disambiguates rules sharing user and priority.
type Identity struct {
	User     User
	Priority int32
	Cookie   uint64
}

func (m Identity) String() string {
	return fmt.Sprintf("%s/%d/%#x", m.User, m.Priority, m.Cookie)
}

// Resource is a side resource owned by a rule, such as an entry in a linked
// secondary table. It is released when the rule is deleted.
type Resource interface {
	Release() error
}

// Rule is a classification entry as provided by field parsers.
type Rule struct {
	// Key holds the value bits, Mask the bits to compare. Both are packed
	// LSB first and must hold at least KeyBits bits.
	Key  []uint32
	Mask []uint32
	// KeyBits is the key shape: the number of key bits in use.
	KeyBits int
	// Action holds the action bits.
	Action []uint32
	// ActionBits is the action shape.
	ActionBits int
	// Lookup is the logical sub-stage the rule belongs to.
	Lookup int
	// Resource is an optional side resource released with the rule.
	Resource Resource
}

// Clone returns a copy of the rule not sharing bit buffers with the
// original. The side resource is shared.
func (m Rule) Clone() Rule {
	out := m
	out.Key = slices.Clone(m.Key)
	out.Mask = slices.Clone(m.Mask)
	out.Action = slices.Clone(m.Action)
	return out
}

// SortKey orders placed rules. Rules with a lower key occupy higher
// addresses and are evaluated first.
//
// From the most significant bits: the distance of the size class to the
// largest one, the user and the priority in offset binary, so that negative
// priorities sort before positive ones.
type SortKey uint64

// NewSortKey builds the sort key of a rule.
func NewSortKey(maxSize int, size int, user User, priority int32) SortKey {
	return SortKey(uint64(maxSize-size)<<48 | uint64(user)<<32 | uint64(uint32(priority)^0x80000000))
}
