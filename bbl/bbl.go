// Package bbl parses and formats NYC Borough-Block-Lot tax lot identifiers.
//
// A BBL is ten digits: one borough digit (1-5), a five digit block and a
// four digit lot, both left-padded with zeros.
package bbl

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ZolaBase is the root of the NYC Planning ZoLa web map.
const ZolaBase = "https://zola.planning.nyc.gov"

// ErrInvalid is returned when a value cannot be interpreted as a BBL.
var ErrInvalid = errors.New("invalid BBL")

// BBL is a canonical ten digit tax lot identifier.
type BBL string

// Parse validates s and returns it as a BBL.
//
// Accepted forms are the canonical ten digit string, the same string with a
// trailing decimal part as PLUTO sometimes renders it ("1008350029.00000000"),
// and a separated form "1-835-29" or "1/00835/0029".
func Parse(s string) (BBL, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalid)
	}

	if i := strings.IndexByte(s, '.'); i > 0 && strings.Trim(s[i+1:], "0") == "" {
		s = s[:i]
	}

	if sep := strings.IndexAny(s, "-/ "); sep >= 0 {
		parts := strings.FieldsFunc(s, func(r rune) bool {
			return r == '-' || r == '/' || r == ' '
		})
		if len(parts) != 3 {
			return "", fmt.Errorf("%w: %q", ErrInvalid, s)
		}
		return FromParts(parts[0], parts[1], parts[2])
	}

	if len(s) != 10 || !allDigits(s) {
		return "", fmt.Errorf("%w: %q must be 10 digits", ErrInvalid, s)
	}
	if s[0] < '1' || s[0] > '5' {
		return "", fmt.Errorf("%w: %q has borough %c", ErrInvalid, s, s[0])
	}
	return BBL(s), nil
}

// MustParse is like Parse but panics on error. Intended for tests and
// package-level constants.
func MustParse(s string) BBL {
	b, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return b
}

// New builds a BBL from numeric components.
func New(borough, block, lot int) (BBL, error) {
	if borough < 1 || borough > 5 {
		return "", fmt.Errorf("%w: borough %d", ErrInvalid, borough)
	}
	if block < 0 || block > 99999 {
		return "", fmt.Errorf("%w: block %d", ErrInvalid, block)
	}
	if lot < 0 || lot > 9999 {
		return "", fmt.Errorf("%w: lot %d", ErrInvalid, lot)
	}
	return BBL(fmt.Sprintf("%d%05d%04d", borough, block, lot)), nil
}

// FromParts builds a BBL from textual components. The borough may be a digit
// or any name or alias accepted by BoroughCode.
func FromParts(borough, block, lot string) (BBL, error) {
	code, ok := BoroughCode(borough)
	if !ok {
		return "", fmt.Errorf("%w: unknown borough %q", ErrInvalid, borough)
	}
	blk, err := strconv.Atoi(strings.TrimSpace(block))
	if err != nil {
		return "", fmt.Errorf("%w: block %q", ErrInvalid, block)
	}
	lt, err := strconv.Atoi(strings.TrimSpace(lot))
	if err != nil {
		return "", fmt.Errorf("%w: lot %q", ErrInvalid, lot)
	}
	return New(code, blk, lt)
}

// String returns the ten digit form.
func (b BBL) String() string { return string(b) }

// Valid reports whether b has the canonical shape.
func (b BBL) Valid() bool {
	_, err := Parse(string(b))
	return err == nil && len(b) == 10
}

// Borough returns the borough code 1-5.
func (b BBL) Borough() int {
	if len(b) != 10 {
		return 0
	}
	return int(b[0] - '0')
}

// BoroughName returns the borough's display name.
func (b BBL) BoroughName() string {
	name, _ := BoroughName(b.Borough())
	return name
}

// Block returns the block number without padding.
func (b BBL) Block() int {
	if len(b) != 10 {
		return 0
	}
	n, _ := strconv.Atoi(string(b[1:6]))
	return n
}

// Lot returns the lot number without padding.
func (b BBL) Lot() int {
	if len(b) != 10 {
		return 0
	}
	n, _ := strconv.Atoi(string(b[6:]))
	return n
}

// PaddedBlock returns the five digit block segment.
func (b BBL) PaddedBlock() string {
	if len(b) != 10 {
		return ""
	}
	return string(b[1:6])
}

// PaddedLot returns the four digit lot segment.
func (b BBL) PaddedLot() string {
	if len(b) != 10 {
		return ""
	}
	return string(b[6:])
}

// ZolaLink returns the ZoLa lot page for b.
func (b BBL) ZolaLink() string {
	if len(b) != 10 {
		return ""
	}
	return fmt.Sprintf("%s/l/lot/%s/%s/%s", ZolaBase, b[:1], b[1:6], b[6:])
}

func allDigits(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}
