package yntcam

import (
	"errors"
	"fmt"
	"os"

	"github.com/c2h5oh/datasize"
	"gopkg.in/yaml.v3"

	"github.com/yanet-platform/tcam/controlplane/tcam"
)

// Op is a script operation.
type Op string

const (
	OpAdd    Op = "add"
	OpModify Op = "modify"
	OpDelete Op = "delete"
	OpGet    Op = "get"
	// OpHit simulates lookup hits on a placed rule.
	OpHit Op = "hit"
)

// errorNames maps the names accepted by Step.Expect to errors.
var errorNames = map[string]error{
	"invalid_table":           tcam.ErrInvalidTable,
	"invalid_geometry":        tcam.ErrInvalidGeometry,
	"invalid_rule":            tcam.ErrInvalidRule,
	"unsupported_size":        tcam.ErrUnsupportedSize,
	"already_exists":          tcam.ErrAlreadyExists,
	"not_found":               tcam.ErrNotFound,
	"out_of_space":            tcam.ErrOutOfSpace,
	"size_mismatch":           tcam.ErrSizeMismatch,
	"hardware_timeout":        tcam.ErrHardwareTimeout,
	"resource_release_failed": tcam.ErrResourceReleaseFailed,
}

// Step is a single scripted operation on a rule.
type Step step
type step struct {
	Op       Op        `yaml:"op"`
	Table    string    `yaml:"table"`
	User     tcam.User `yaml:"user"`
	Priority int32     `yaml:"priority"`
	Cookie   uint64    `yaml:"cookie"`
	Lookup   int       `yaml:"lookup"`
	// Match maps key field names to "value[/mask]" texts.
	Match map[string]string `yaml:"match"`
	// Action maps action field names to values.
	Action map[string]string `yaml:"action"`
	// Counter requests the hit counter on get.
	Counter bool `yaml:"counter"`
	// Hits is the number of hits simulated by a hit step.
	Hits uint32 `yaml:"hits"`
	// Expect names the error the step must fail with.
	Expect string `yaml:"expect"`
}

// Identity returns the rule identity the step refers to.
func (m *Step) Identity() tcam.Identity {
	return tcam.Identity{
		User:     m.User,
		Priority: m.Priority,
		Cookie:   m.Cookie,
	}
}

// UnmarshalYAML serves as a proxy for validation.
func (m *Step) UnmarshalYAML(value *yaml.Node) error {
	if err := value.Decode((*step)(m)); err != nil {
		return err
	}
	if err := m.Validate(); err != nil {
		return fmt.Errorf("line %d: %w", value.Line, err)
	}
	return nil
}

// Validate validates the step.
func (m *Step) Validate() error {
	switch m.Op {
	case OpAdd, OpModify:
	case OpDelete, OpGet, OpHit:
		if len(m.Match) != 0 || len(m.Action) != 0 {
			return fmt.Errorf("%s takes no match or action", m.Op)
		}
	default:
		return fmt.Errorf("unknown op %q", m.Op)
	}
	if m.Table == "" {
		return fmt.Errorf("%s without a table", m.Op)
	}
	if m.Expect != "" {
		if _, ok := errorNames[m.Expect]; !ok {
			return fmt.Errorf("unknown expected error %q", m.Expect)
		}
	}

	return nil
}

// expected reports whether err is the outcome the step expects.
func (m *Step) expected(err error) bool {
	if m.Expect == "" {
		return err == nil
	}
	return errors.Is(err, errorNames[m.Expect])
}

// Script is a sequence of rule operations.
type Script struct {
	Steps []Step `yaml:"steps"`
}

// ParseScript decodes a script.
func ParseScript(buf []byte) (*Script, error) {
	script := &Script{}
	if err := yaml.Unmarshal(buf, script); err != nil {
		return nil, fmt.Errorf("failed to deserialize script: %w", err)
	}

	return script, nil
}

// LoadScript loads a script from the given path, refusing files larger than
// "limit".
func LoadScript(path string, limit datasize.ByteSize) (*Script, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("failed to stat script: %w", err)
	}
	if size := datasize.ByteSize(info.Size()); size > limit {
		return nil, fmt.Errorf("script %q is %s, the limit is %s", path, size.HR(), limit.HR())
	}

	buf, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read script: %w", err)
	}

	return ParseScript(buf)
}
