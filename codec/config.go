package codec

import (
	"os"
	"strconv"

	"github.com/pkg/errors"
)

// UnknownPolicy selects what the decoder does with field numbers that are
// absent from the schema.
type UnknownPolicy int8

const (
	unknownUnset UnknownPolicy = iota
	// UnknownStrict fails the decode with wire.ErrUnknownField.
	UnknownStrict
	// UnknownPreserve reports the field as raw wire events on a
	// schema.UnknownField so that re-encoding reproduces it.
	UnknownPreserve
)

func (p UnknownPolicy) String() string {
	switch p {
	case UnknownStrict:
		return "strict"
	case UnknownPreserve:
		return "preserve"
	default:
		return "unset"
	}
}

// ParseUnknownPolicy parses "strict" or "preserve".
func ParseUnknownPolicy(s string) (UnknownPolicy, error) {
	switch s {
	case "strict":
		return UnknownStrict, nil
	case "preserve":
		return UnknownPreserve, nil
	}
	return unknownUnset, errors.Errorf("unknown field policy %q: want strict or preserve", s)
}

// DefaultMaxDepth bounds message nesting when Config.MaxDepth is zero.
const DefaultMaxDepth = 100

// Config controls decoder and encoder behavior. There is no default unknown
// field policy: callers pick one explicitly.
type Config struct {
	// Unknown is required by the decoder. The encoder ignores it.
	Unknown UnknownPolicy

	// MaxDepth limits embedded message nesting. Zero means DefaultMaxDepth.
	MaxDepth int

	// AllowInvalidUTF8: when true, string fields are passed through without
	// UTF-8 validation on decode and encode. Default false rejects invalid
	// strings with wire.ErrInvalidUTF8.
	AllowInvalidUTF8 bool
}

// NewConfig returns a Config with the given unknown field policy and default limits.
func NewConfig(unknown UnknownPolicy) Config {
	return Config{Unknown: unknown, MaxDepth: DefaultMaxDepth}
}

// Validate reports whether the config is usable by a Decoder.
func (c Config) Validate() error {
	switch c.Unknown {
	case UnknownStrict, UnknownPreserve:
	default:
		return errors.New("codec: Config.Unknown must be UnknownStrict or UnknownPreserve")
	}
	return c.validateLimits()
}

func (c Config) validateLimits() error {
	if c.MaxDepth < 0 {
		return errors.Errorf("codec: negative MaxDepth %d", c.MaxDepth)
	}
	return nil
}

func (c Config) maxDepth() int {
	if c.MaxDepth == 0 {
		return DefaultMaxDepth
	}
	return c.MaxDepth
}

// FromEnv overlays environment toggles on c:
//
//	PROTOEVENT_UNKNOWN=strict|preserve
//	PROTOEVENT_MAX_DEPTH=<n>
//	PROTOEVENT_ALLOW_INVALID_UTF8=1|true
//
// Unset variables leave the corresponding field unchanged.
func (c Config) FromEnv() (Config, error) {
	if v := os.Getenv("PROTOEVENT_UNKNOWN"); v != "" {
		p, err := ParseUnknownPolicy(v)
		if err != nil {
			return c, errors.Wrap(err, "PROTOEVENT_UNKNOWN")
		}
		c.Unknown = p
	}
	if v := os.Getenv("PROTOEVENT_MAX_DEPTH"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return c, errors.Wrap(err, "PROTOEVENT_MAX_DEPTH")
		}
		c.MaxDepth = n
	}
	if v := os.Getenv("PROTOEVENT_ALLOW_INVALID_UTF8"); v == "1" || v == "true" {
		c.AllowInvalidUTF8 = true
	}
	return c, nil
}
