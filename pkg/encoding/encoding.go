// Copyright (C) 2021  Antonio Lassandro

// This program is free software: you can redistribute it and/or modify it
// under the terms of the GNU General Public License as published by the Free
// Software Foundation, either version 3 of the License, or (at your option)
// any later version.

// This program is distributed in the hope that it will be useful, but WITHOUT
// ANY WARRANTY; without even the implied warranty of MERCHANTABILITY or
// FITNESS FOR A PARTICULAR PURPOSE.  See the GNU General Public License for
// more details.

// You should have received a copy of the GNU General Public License along
// with this program.  If not, see <http://www.gnu.org/licenses/>.

package encoding

import (
	"errors"
	"strings"

	"github.com/japanoise/numparse"
)

// ParseImm decodes an integer literal operand. A leading '#' (ARM immediate
// syntax) is stripped, a leading '-' negates. The remainder may be any base
// numparse understands (decimal, 0x, 0o, 0b).
func ParseImm(s string) (int64, error) {
	s = strings.TrimPrefix(s, "#")

	negative := false

	if strings.HasPrefix(s, "-") {
		negative = true
		s = s[1:]
	}

	if s == "" {
		return 0, errors.New("empty numeric literal")
	}

	value, err := numparse.UNumParse(s)

	if err != nil {
		return 0, err
	}

	if value >= 1<<63 {
		return 0, errors.New("numeric literal overflows 64 bits")
	}

	result := int64(value)

	if negative {
		result = -result
	}

	return result, nil
}

// Word encodes a 32-bit value as four little-endian bytes.
func Word(value uint32) []byte {
	return []byte{
		byte(value),
		byte(value >> 8),
		byte(value >> 16),
		byte(value >> 24),
	}
}

// Half encodes a 16-bit value as two little-endian bytes.
func Half(value uint16) []byte {
	return []byte{
		byte(value),
		byte(value >> 8),
	}
}

// AlignPad returns the number of padding bytes needed to advance pc to the
// next multiple of align. align must be a power of two.
func AlignPad(pc, align uint32) uint32 {
	return (align - pc%align) % align
}

// FitsSigned reports whether value is representable as a two's-complement
// integer of the given bit width.
func FitsSigned(value int64, bits uint) bool {
	limit := int64(1) << (bits - 1)
	return value >= -limit && value < limit
}

// FitsField reports whether value is representable in an unsigned field of
// the given bit width, or as a negative value whose two's-complement
// truncation fits (e.g. .byte -1).
func FitsField(value int64, bits uint) bool {
	if value >= 0 {
		return value < int64(1)<<bits
	}

	return FitsSigned(value, bits)
}
