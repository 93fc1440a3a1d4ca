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

package assembler

import (
	"fmt"
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/lassandro/goarm/pkg/encoding"
)

func parseDirective(ident string) DirectiveType {
	if strings.EqualFold(ident, ".ARM") {
		return DIRECTIVE_ARM
	} else if strings.EqualFold(ident, ".THUMB") {
		return DIRECTIVE_THUMB
	} else if strings.EqualFold(ident, ".CODE") {
		return DIRECTIVE_CODE
	} else if strings.EqualFold(ident, ".INCLUDE") {
		return DIRECTIVE_INCLUDE
	} else if strings.EqualFold(ident, ".ALIGN") {
		return DIRECTIVE_ALIGN
	} else if strings.EqualFold(ident, ".BALIGN") {
		return DIRECTIVE_ALIGN
	} else if strings.EqualFold(ident, ".TEXT") {
		return DIRECTIVE_TEXT
	} else if strings.EqualFold(ident, ".DATA") {
		return DIRECTIVE_DATA
	} else if strings.EqualFold(ident, ".EQU") {
		return DIRECTIVE_EQU
	} else if strings.EqualFold(ident, ".SET") {
		return DIRECTIVE_EQU
	} else if strings.EqualFold(ident, ".GLOBAL") {
		return DIRECTIVE_GLOBAL
	} else if strings.EqualFold(ident, ".GLOBL") {
		return DIRECTIVE_GLOBAL
	} else if strings.EqualFold(ident, ".BYTE") {
		return DIRECTIVE_BYTE
	} else if strings.EqualFold(ident, ".HWORD") {
		return DIRECTIVE_HWORD
	} else if strings.EqualFold(ident, ".SHORT") {
		return DIRECTIVE_HWORD
	} else if strings.EqualFold(ident, ".WORD") {
		return DIRECTIVE_WORD
	} else if strings.EqualFold(ident, ".INT") {
		return DIRECTIVE_WORD
	} else if strings.EqualFold(ident, ".LONG") {
		return DIRECTIVE_WORD
	} else if strings.EqualFold(ident, ".ASCII") {
		return DIRECTIVE_ASCII
	} else if strings.EqualFold(ident, ".ASCIZ") {
		return DIRECTIVE_ASCIZ
	} else if strings.EqualFold(ident, ".STRING") {
		return DIRECTIVE_ASCIZ
	} else if strings.EqualFold(ident, ".SPACE") {
		return DIRECTIVE_SPACE
	} else if strings.EqualFold(ident, ".SKIP") {
		return DIRECTIVE_SPACE
	} else if strings.EqualFold(ident, ".ZERO") {
		return DIRECTIVE_SPACE
	}

	return DIRECTIVE_INVALID
}

// evalDirective dispatches one directive line for either pass. Every
// directive except .include flows through evalDirectiveBytes, which computes
// the PC delta and the emitted bytes in a single place so the two passes
// cannot disagree. .include recurses during the sizing pass and replays its
// recorded size during emission.
func (ctx *context) evalDirective(
	unit *sourceUnit,
	line *tokenLine,
	tokens []string,
	emit bool,
	pos Position,
) error {
	name := tokens[0]
	operands := tokens[1:]

	directive := parseDirective(name)

	switch directive {
	case DIRECTIVE_INVALID:
		return &UnsupportedDirectiveError{Position: pos, Directive: name}

	case DIRECTIVE_INCLUDE:
		if len(operands) != 1 {
			return &DirectiveSyntaxError{
				Position:  pos,
				Directive: name,
				Message:   "expected a file operand",
			}
		}

		if emit {
			ctx.pc += line.incSize
			ctx.consts = copyTable(line.incConsts)
			return nil
		}

		size, err := ctx.assembleInclude(unit, operands[0], pos)

		if err != nil {
			return err
		}

		line.incSize = size
		line.incConsts = copyTable(ctx.consts)

		return nil
	}

	delta, data, err := ctx.evalDirectiveBytes(directive, name, operands, pos)

	if err != nil {
		return err
	}

	if emit && len(data) > 0 {
		ctx.write(data)
	}

	ctx.pc += delta

	return nil
}

// evalDirectiveBytes is the shared sizing/emission form: it returns the PC
// delta and, for data-emitting directives, the bytes themselves
// (len(data) == delta). State-only directives mutate the context directly,
// identically in both passes.
func (ctx *context) evalDirectiveBytes(
	directive DirectiveType,
	name string,
	operands []string,
	pos Position,
) (uint32, []byte, error) {
	syntaxErr := func(format string, args ...interface{}) error {
		return &DirectiveSyntaxError{
			Position:  pos,
			Directive: strings.ToLower(name),
			Message:   fmt.Sprintf(format, args...),
		}
	}

	switch directive {
	case DIRECTIVE_ARM:
		ctx.mode = MODE_ARM
		return 0, nil, nil

	case DIRECTIVE_THUMB:
		ctx.mode = MODE_THUMB
		return 0, nil, nil

	case DIRECTIVE_CODE:
		if len(operands) != 1 {
			return 0, nil, syntaxErr("expected instruction set 16 or 32")
		}

		switch operands[0] {
		case "32":
			ctx.mode = MODE_ARM
		case "16":
			ctx.mode = MODE_THUMB
		default:
			return 0, nil, syntaxErr(
				"invalid instruction set '%s', expected 16 or 32",
				operands[0],
			)
		}

		return 0, nil, nil

	case DIRECTIVE_TEXT, DIRECTIVE_DATA:
		// Section markers; the output is a single flat image
		return 0, nil, nil

	case DIRECTIVE_ALIGN:
		exponent := int64(2)

		if len(operands) > 1 {
			return 0, nil, syntaxErr("expected at most one operand")
		}

		if len(operands) == 1 {
			value, err := encoding.ParseImm(operands[0])

			if err != nil {
				return 0, nil, syntaxErr(
					"invalid alignment exponent '%s'", operands[0],
				)
			}

			exponent = value
		}

		if exponent < 0 || exponent > 15 {
			return 0, nil, syntaxErr("alignment exponent out of range")
		}

		pad := encoding.AlignPad(ctx.pc, uint32(1)<<uint(exponent))

		return pad, make([]byte, pad), nil

	case DIRECTIVE_EQU:
		if len(operands) != 2 {
			return 0, nil, syntaxErr("expected name and value operands")
		}

		constName := operands[0]

		if !validSymbolName(constName) {
			return 0, nil, syntaxErr("invalid constant name '%s'", constName)
		}

		value, err := encoding.ParseImm(operands[1])

		if err != nil || !encoding.FitsField(value, 32) {
			return 0, nil, syntaxErr("invalid constant value '%s'", operands[1])
		}

		if _, exists := ctx.labels[constName]; exists {
			return 0, nil, &DuplicateSymbolError{
				Position: pos,
				Name:     constName,
			}
		}

		// .set semantics: redefining an existing constant is allowed
		ctx.consts[constName] = uint32(value)

		return 0, nil, nil

	case DIRECTIVE_GLOBAL:
		if len(operands) == 0 {
			return 0, nil, syntaxErr("expected at least one symbol")
		}

		for _, operand := range operands {
			if !validSymbolName(operand) {
				return 0, nil, syntaxErr("invalid symbol name '%s'", operand)
			}

			ctx.globals[operand] = true
		}

		return 0, nil, nil

	case DIRECTIVE_BYTE:
		return dataBytes(operands, 1, syntaxErr)

	case DIRECTIVE_HWORD:
		return dataBytes(operands, 2, syntaxErr)

	case DIRECTIVE_WORD:
		return dataBytes(operands, 4, syntaxErr)

	case DIRECTIVE_ASCII, DIRECTIVE_ASCIZ:
		if len(operands) != 1 || !strings.HasPrefix(operands[0], "\"") {
			return 0, nil, syntaxErr("expected a string operand")
		}

		text, err := strconv.Unquote(operands[0])

		if err != nil {
			return 0, nil, syntaxErr("malformed string operand")
		}

		data := []byte(text)

		if directive == DIRECTIVE_ASCIZ {
			data = append(data, 0)
		}

		return uint32(len(data)), data, nil

	case DIRECTIVE_SPACE:
		if len(operands) != 1 {
			return 0, nil, syntaxErr("expected a size operand")
		}

		size, err := encoding.ParseImm(operands[0])

		if err != nil || size < 0 || size > 1<<24 {
			return 0, nil, syntaxErr("invalid size '%s'", operands[0])
		}

		return uint32(size), make([]byte, size), nil
	}

	return 0, nil, &UnsupportedDirectiveError{Position: pos, Directive: name}
}

// dataBytes sizes and encodes .byte/.hword/.word operand lists,
// little-endian, width bytes per operand.
func dataBytes(
	operands []string,
	width uint32,
	syntaxErr func(string, ...interface{}) error,
) (uint32, []byte, error) {
	if len(operands) == 0 {
		return 0, nil, syntaxErr("expected at least one value")
	}

	data := make([]byte, 0, uint32(len(operands))*width)

	for _, operand := range operands {
		value, err := encoding.ParseImm(operand)

		if err != nil {
			return 0, nil, syntaxErr("invalid value '%s'", operand)
		}

		if !encoding.FitsField(value, uint(width*8)) {
			return 0, nil, syntaxErr(
				"value '%s' does not fit in %d bytes", operand, width,
			)
		}

		switch width {
		case 1:
			data = append(data, byte(value))
		case 2:
			data = append(data, encoding.Half(uint16(value))...)
		case 4:
			data = append(data, encoding.Word(uint32(value))...)
		}
	}

	return uint32(len(data)), data, nil
}

func validSymbolName(name string) bool {
	if name == "" {
		return false
	}

	first, _ := utf8.DecodeRuneInString(name)

	return unicode.IsLetter(first) || first == '_'
}
