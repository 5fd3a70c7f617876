package capability

import (
	"fmt"
	"strings"

	"github.com/gogpu/gputypes"

	"github.com/wippyai/ktx2-transcoder/backend"
	"github.com/wippyai/ktx2-transcoder/errors"
)

// Mask is the backend's compression method request: the set of compressed
// GPU format families the device can sample. The backend picks its output
// format from this set and falls back to uncompressed when it is empty.
type Mask uint8

const (
	None    Mask = 0
	ASTCLDR Mask = 1 << 0
	ASTCHDR Mask = 1 << 1
	BC      Mask = 1 << 2
	ETC2    Mask = 1 << 3

	// All is every family the backend understands.
	All = ASTCLDR | ASTCHDR | BC | ETC2
)

var maskNames = []struct {
	bit  Mask
	name string
}{
	{ASTCLDR, "astc-ldr"},
	{ASTCHDR, "astc-hdr"},
	{BC, "bc"},
	{ETC2, "etc2"},
}

// Has reports whether every bit of f is set in m.
func (m Mask) Has(f Mask) bool {
	return m&f == f
}

// String renders the mask as "bc|etc2", or "none".
func (m Mask) String() string {
	if m == None {
		return "none"
	}
	var parts []string
	for _, n := range maskNames {
		if m&n.bit != 0 {
			parts = append(parts, n.name)
		}
	}
	if rest := m &^ All; rest != 0 {
		parts = append(parts, fmt.Sprintf("%#x", uint8(rest)))
	}
	return strings.Join(parts, "|")
}

// ParseMask parses a list of family names separated by '|', ',' or '+'.
// "none" and the empty string yield None; "all" yields All.
func ParseMask(s string) (Mask, error) {
	fields := strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return r == '|' || r == ',' || r == '+' || r == ' '
	})

	var m Mask
	for _, f := range fields {
		switch f {
		case "none":
		case "all":
			m |= All
		case "astc", "astc-ldr", "astc_ldr":
			m |= ASTCLDR
		case "astc-hdr", "astc_hdr":
			m |= ASTCHDR
		case "bc", "bcn", "s3tc":
			m |= BC
		case "etc2", "etc":
			m |= ETC2
		default:
			return None, errors.New(errors.PhaseNegotiate, errors.KindInvalidInput).
				Value(f).
				Detail("unknown compression family %q", f).
				Build()
		}
	}
	return m, nil
}

// Features is the device's compressed texture support, one flag per family.
type Features struct {
	ASTCLDR bool
	ASTCHDR bool
	BC      bool
	ETC2    bool
}

// Negotiate ORs the mask bit of every supported family. Absent families
// contribute nothing; no support at all yields None.
func Negotiate(f Features) Mask {
	m := None
	if f.ASTCLDR {
		m |= ASTCLDR
	}
	if f.ASTCHDR {
		m |= ASTCHDR
	}
	if f.BC {
		m |= BC
	}
	if f.ETC2 {
		m |= ETC2
	}
	return m
}

// Features returns the feature set whose negotiated mask is m.
func (m Mask) Features() Features {
	return Features{
		ASTCLDR: m&ASTCLDR != 0,
		ASTCHDR: m&ASTCHDR != 0,
		BC:      m&BC != 0,
		ETC2:    m&ETC2 != 0,
	}
}

// FromGPU reads the compression features of a WebGPU feature set.
// WebGPU has no ASTC HDR feature, so HDR support is supplied separately
// and taken as given.
func FromGPU(features gputypes.Features, astcHDR bool) Features {
	return Features{
		ASTCLDR: features.Contains(gputypes.FeatureTextureCompressionASTC),
		ASTCHDR: astcHDR,
		BC:      features.Contains(gputypes.FeatureTextureCompressionBC),
		ETC2:    features.Contains(gputypes.FeatureTextureCompressionETC2),
	}
}

// Negotiator builds masks for an initialized backend.
type Negotiator struct {
	tok *backend.Token
}

// NewNegotiator requires the backend init token, so a mask can only be
// produced once the backend is ready to consume it.
func NewNegotiator(tok *backend.Token) (*Negotiator, error) {
	if tok == nil {
		return nil, errors.NotInitialized(errors.PhaseNegotiate, "backend")
	}
	return &Negotiator{tok: tok}, nil
}

// Negotiate returns the mask for the given device features.
func (n *Negotiator) Negotiate(f Features) Mask {
	return Negotiate(f)
}

// NegotiateGPU returns the mask for a WebGPU feature set.
func (n *Negotiator) NegotiateGPU(features gputypes.Features, astcHDR bool) Mask {
	return Negotiate(FromGPU(features, astcHDR))
}
