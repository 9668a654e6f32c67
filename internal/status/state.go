package status

import (
	"fmt"
	"strings"
)

// State is the worker status bitfield. Each bit is an independent facet;
// eligibility is derived from them by IsUsable.
type State uint32

const (
	Initialized  State = 0x0001
	IgnoreErrors State = 0x0002
	Draining     State = 0x0004
	InShutdown   State = 0x0010
	Disabled     State = 0x0020
	Stopped      State = 0x0040
	InError      State = 0x0080
	HotStandby   State = 0x0100
	Free         State = 0x0200
)

const notUsable = InShutdown | Disabled | Stopped | InError

// ConfiguredFacets are owned by the worker definition. Re-attaching a worker
// takes them from the definition instead of the stored record.
const ConfiguredFacets = IgnoreErrors | HotStandby

type facet struct {
	bit    State
	letter byte
	label  string
}

var facets = []facet{
	{Initialized, 'O', "Init"},
	{IgnoreErrors, 'I', "Ign"},
	{Draining, 'N', "Drn"},
	{InShutdown, 'U', "Shut"},
	{Disabled, 'D', "Dis"},
	{Stopped, 'S', "Stop"},
	{InError, 'E', "Err"},
	{HotStandby, 'H', "Stby"},
	{Free, 'F', "Free"},
}

func (s State) Has(f State) bool      { return s&f != 0 }
func (s State) With(f State) State    { return s | f }
func (s State) Without(f State) State { return s &^ f }

func (s State) IsInitialized() bool { return s.Has(Initialized) }
func (s State) IsInError() bool     { return s.Has(InError) }
func (s State) IsStandby() bool     { return s.Has(HotStandby) }
func (s State) IsDraining() bool    { return s.Has(Draining) }

// IsUsable reports whether a worker may receive requests: initialized and
// not shut down, disabled, stopped or in error.
func (s State) IsUsable() bool {
	return s.Has(Initialized) && s&notUsable == 0
}

// Letters renders the set facets as their single-letter flags, e.g. "OE".
func (s State) Letters() string {
	var b strings.Builder
	for _, f := range facets {
		if s.Has(f.bit) {
			b.WriteByte(f.letter)
		}
	}
	return b.String()
}

func (s State) String() string {
	var parts []string
	for _, f := range facets {
		if s.Has(f.bit) {
			parts = append(parts, f.label)
		}
	}
	if s.IsUsable() {
		parts = append(parts, "Ok")
	}
	return strings.Join(parts, " ")
}

// FlagForLetter maps a status letter to its bit.
func FlagForLetter(c byte) (State, error) {
	if 'a' <= c && c <= 'z' {
		c -= 'a' - 'A'
	}
	for _, f := range facets {
		if f.letter == c {
			return f.bit, nil
		}
	}
	return 0, fmt.Errorf("status: unknown flag %q", c)
}

// Apply parses a flag expression such as "+H -I" or "D" and applies it to s.
// A token without a sign sets its letters.
func (s State) Apply(expr string) (State, error) {
	fields := strings.FieldsFunc(expr, func(r rune) bool { return r == ' ' || r == ',' })
	for _, tok := range fields {
		set := true
		switch tok[0] {
		case '+':
			tok = tok[1:]
		case '-':
			set = false
			tok = tok[1:]
		}
		if tok == "" {
			return s, fmt.Errorf("status: empty flag in %q", expr)
		}
		for i := 0; i < len(tok); i++ {
			bit, err := FlagForLetter(tok[i])
			if err != nil {
				return s, err
			}
			if set {
				s = s.With(bit)
			} else {
				s = s.Without(bit)
			}
		}
	}
	return s, nil
}
