// Package path implements the derivation-path template model: parsing,
// placeholder substitution, and realization to a concrete BIP-32 index
// list.
package path

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ErrUnrealizedPlaceholder is returned when Realize is called on a path
// that still carries an `a` or `i` placeholder component.
var ErrUnrealizedPlaceholder = errors.New("path: placeholder component remains unrealized")

// ErrInvalidPath is returned when a path string fails to parse.
var ErrInvalidPath = errors.New("path: invalid derivation path string")

const hardenedBit = uint32(1) << 31

// componentKind tags what a single path component represents.
type componentKind int

const (
	kindLiteral componentKind = iota
	kindAccountPlaceholder
	kindIndexPlaceholder
)

type component struct {
	kind     componentKind
	value    uint32 // meaningful only for kindLiteral
	hardened bool   // for kindLiteral; for kindIndexPlaceholder, whether the substituted index is hardened
}

// Path is an immutable derivation-path template: an ordered list of
// components, each a literal (hardened or not) index or one of the `a`
// (account) / `i` (index) placeholders.
type Path struct {
	components []component
}

// Parse accepts strings of the form `m/<comp>(/<comp>)*` where each
// component is an integer optionally suffixed with `'` (hardened), or one
// of the literal placeholders `a`, `i`, or `i'` (hardened index).
func Parse(s string) (Path, error) {
	parts := strings.Split(s, "/")
	if len(parts) < 1 || parts[0] != "m" {
		return Path{}, fmt.Errorf("%w: %q must start with \"m\"", ErrInvalidPath, s)
	}

	comps := make([]component, 0, len(parts)-1)
	for _, raw := range parts[1:] {
		c, err := parseComponent(raw)
		if err != nil {
			return Path{}, fmt.Errorf("%w: %q: %v", ErrInvalidPath, s, err)
		}
		comps = append(comps, c)
	}
	return Path{components: comps}, nil
}

func parseComponent(raw string) (component, error) {
	switch raw {
	case "a":
		return component{kind: kindAccountPlaceholder}, nil
	case "i":
		return component{kind: kindIndexPlaceholder}, nil
	case "i'":
		return component{kind: kindIndexPlaceholder, hardened: true}, nil
	}

	hardened := strings.HasSuffix(raw, "'")
	numStr := raw
	if hardened {
		numStr = strings.TrimSuffix(raw, "'")
	}
	n, err := strconv.ParseUint(numStr, 10, 32)
	if err != nil {
		return component{}, fmt.Errorf("invalid component %q: %w", raw, err)
	}
	return component{kind: kindLiteral, value: uint32(n), hardened: hardened}, nil
}

// HasVariableAccount reports whether the path carries the `a` placeholder.
func (p Path) HasVariableAccount() bool {
	return p.indexOf(kindAccountPlaceholder) >= 0
}

// HasVariableIndex reports whether the path carries the `i` placeholder.
func (p Path) HasVariableIndex() bool {
	return p.indexOf(kindIndexPlaceholder) >= 0
}

func (p Path) indexOf(k componentKind) int {
	for i, c := range p.components {
		if c.kind == k {
			return i
		}
	}
	return -1
}

// WithAccount returns a new Path with the `a` placeholder substituted by a
// concrete account number. The account is always hardened, per the
// registry's fixed convention.
func (p Path) WithAccount(account uint32) Path {
	return p.substitute(kindAccountPlaceholder, account, true)
}

// WithIndex returns a new Path with the `i` placeholder substituted by a
// concrete address index. The index is non-hardened unless the template
// writes the placeholder as `i'`.
func (p Path) WithIndex(index uint32) Path {
	return p.substitute(kindIndexPlaceholder, index, false)
}

func (p Path) substitute(k componentKind, value uint32, hardened bool) Path {
	out := make([]component, len(p.components))
	copy(out, p.components)
	if i := p.indexOf(k); i >= 0 {
		out[i] = component{kind: kindLiteral, value: value, hardened: hardened || p.components[i].hardened}
	}
	return Path{components: out}
}

// Realize returns the ordered list of 32-bit derivation numbers (hardened
// bit applied where prescribed), starting after the `m`. It is a hard
// error for any placeholder component to remain.
func (p Path) Realize() ([]uint32, error) {
	out := make([]uint32, len(p.components))
	for i, c := range p.components {
		if c.kind != kindLiteral {
			return nil, ErrUnrealizedPlaceholder
		}
		n := c.value
		if c.hardened {
			n += hardenedBit
		}
		out[i] = n
	}
	return out, nil
}

// String renders the canonical `m/...` form used for equality, hashing
// (as a map key), and display.
func (p Path) String() string {
	var b strings.Builder
	b.WriteString("m")
	for _, c := range p.components {
		b.WriteString("/")
		switch c.kind {
		case kindAccountPlaceholder:
			b.WriteString("a")
		case kindIndexPlaceholder:
			b.WriteString("i")
			if c.hardened {
				b.WriteString("'")
			}
		default:
			b.WriteString(strconv.FormatUint(uint64(c.value), 10))
			if c.hardened {
				b.WriteString("'")
			}
		}
	}
	return b.String()
}

// MustParse is Parse for fixed template literals in the registry; it
// panics on malformed input, which would be a programming error.
func MustParse(s string) Path {
	p, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return p
}
