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
	"math/bits"
	"strconv"
	"strings"
	"unicode"

	"github.com/lassandro/goarm/pkg/encoding"
)

var conditions = map[string]uint32{
	"eq": COND_EQ,
	"ne": COND_NE,
	"cs": COND_CS,
	"hs": COND_CS,
	"cc": COND_CC,
	"lo": COND_CC,
	"mi": COND_MI,
	"pl": COND_PL,
	"vs": COND_VS,
	"vc": COND_VC,
	"hi": COND_HI,
	"ls": COND_LS,
	"ge": COND_GE,
	"lt": COND_LT,
	"gt": COND_GT,
	"le": COND_LE,
	"al": COND_AL,
}

// parseMnemonic classifies an instruction token. Branches accept a condition
// suffix (beq, blne); everything else is unconditional.
func parseMnemonic(ident string) (InstructionType, uint32) {
	s := strings.ToLower(ident)

	switch s {
	case "mov":
		return INSTRUCTION_MOV, COND_AL
	case "add":
		return INSTRUCTION_ADD, COND_AL
	case "sub":
		return INSTRUCTION_SUB, COND_AL
	case "and":
		return INSTRUCTION_AND, COND_AL
	case "orr":
		return INSTRUCTION_ORR, COND_AL
	case "eor":
		return INSTRUCTION_EOR, COND_AL
	case "cmp":
		return INSTRUCTION_CMP, COND_AL
	case "b":
		return INSTRUCTION_B, COND_AL
	case "bl":
		return INSTRUCTION_BL, COND_AL
	case "bx":
		return INSTRUCTION_BX, COND_AL
	case "ldr":
		return INSTRUCTION_LDR, COND_AL
	case "str":
		return INSTRUCTION_STR, COND_AL
	case "svc", "swi":
		return INSTRUCTION_SVC, COND_AL
	case "nop":
		return INSTRUCTION_NOP, COND_AL
	}

	if strings.HasPrefix(s, "bl") {
		if cond, exists := conditions[s[2:]]; exists {
			return INSTRUCTION_BL, cond
		}
	}

	if strings.HasPrefix(s, "b") {
		if cond, exists := conditions[s[1:]]; exists {
			return INSTRUCTION_B, cond
		}
	}

	return INSTRUCTION_INVALID, COND_AL
}

func parseRegister(ident string) (uint32, bool) {
	if strings.EqualFold(ident, "SP") {
		return REG_SP, true
	} else if strings.EqualFold(ident, "LR") {
		return REG_LR, true
	} else if strings.EqualFold(ident, "PC") {
		return REG_PC, true
	}

	if len(ident) < 2 || (ident[0] != 'r' && ident[0] != 'R') {
		return 0, false
	}

	for _, char := range ident[1:] {
		if !unicode.IsDigit(char) {
			return 0, false
		}
	}

	number, err := strconv.Atoi(ident[1:])

	if err != nil || number > 15 {
		return 0, false
	}

	return uint32(number), true
}

// encodeInstruction produces the machine code for one instruction line at
// the current PC: exactly four bytes in ARM mode, two in Thumb mode.
func (ctx *context) encodeInstruction(
	tokens []string,
	pos Position,
) ([]byte, error) {
	instr, cond := parseMnemonic(tokens[0])

	if instr == INSTRUCTION_INVALID {
		return nil, &UnknownInstructionError{
			Position: pos,
			Mnemonic: tokens[0],
		}
	}

	operands := tokens[1:]

	if ctx.mode == MODE_THUMB {
		half, err := ctx.encodeThumb(instr, cond, operands, pos)

		if err != nil {
			return nil, err
		}

		return encoding.Half(half), nil
	}

	word, err := ctx.encodeARM(instr, cond, operands, pos)

	if err != nil {
		return nil, err
	}

	return encoding.Word(word), nil
}

// resolveValue turns a symbol or numeric operand into its value; labels win
// over constants, a leading '#' is tolerated on literals and symbols alike.
func (ctx *context) resolveValue(
	operand string,
	pos Position,
) (int64, error) {
	s := strings.TrimPrefix(operand, "#")

	if value, exists := ctx.lookup(s); exists {
		return int64(value), nil
	}

	value, err := encoding.ParseImm(s)

	if err == nil {
		return value, nil
	}

	if validSymbolName(s) {
		return 0, &UndefinedSymbolError{Position: pos, Name: s}
	}

	return 0, &OperandSyntaxError{
		Position: pos,
		Message:  fmt.Sprintf("invalid operand '%s'", operand),
	}
}

func (ctx *context) register(operand string, pos Position) (uint32, error) {
	if reg, exists := parseRegister(operand); exists {
		return reg, nil
	}

	return 0, &OperandSyntaxError{
		Position: pos,
		Message:  fmt.Sprintf("invalid register '%s'", operand),
	}
}

// lowRegister enforces the three-bit register fields of the narrow
// encodings.
func (ctx *context) lowRegister(operand string, pos Position) (uint32, error) {
	reg, err := ctx.register(operand, pos)

	if err != nil {
		return 0, err
	}

	if reg > 7 {
		return 0, &OperandOutOfRangeError{
			Position: pos,
			Operand:  operand,
			Message:  "only r0-r7 are encodable here",
		}
	}

	return reg, nil
}

// branchDisp computes a PC-relative displacement from the instruction's own
// address, applying the mode's pipeline offset, scaling it to alignment
// units and range-checking it against the field width.
func (ctx *context) branchDisp(
	target int64,
	pipeline, unit int64,
	fieldBits uint,
	operand string,
	pos Position,
) (uint32, error) {
	disp := target - int64(ctx.pc) - pipeline

	if disp%unit != 0 {
		return 0, &RelocationOverflowError{
			Position: pos,
			Symbol:   operand,
			Message: fmt.Sprintf(
				"target is not %d-byte aligned", unit,
			),
		}
	}

	disp /= unit

	if !encoding.FitsSigned(disp, fieldBits) {
		return 0, &RelocationOverflowError{
			Position: pos,
			Symbol:   operand,
			Message: fmt.Sprintf(
				"displacement %d exceeds the %d-bit field", disp, fieldBits,
			),
		}
	}

	return uint32(disp) & (1<<fieldBits - 1), nil
}

// armImmediate encodes a value as ARM operand2: an 8-bit constant rotated
// right by an even amount.
func armImmediate(value uint32) (uint32, bool) {
	for rot := uint32(0); rot < 16; rot++ {
		imm := bits.RotateLeft32(value, int(rot*2))

		if imm <= 0xFF {
			return rot<<8 | imm, true
		}
	}

	return 0, false
}

// armOperand2 resolves a data-processing second operand into the I bit plus
// the 12-bit operand field.
func (ctx *context) armOperand2(
	operand string,
	pos Position,
) (uint32, error) {
	if reg, exists := parseRegister(operand); exists {
		return reg, nil
	}

	value, err := ctx.resolveValue(operand, pos)

	if err != nil {
		return 0, err
	}

	if !encoding.FitsField(value, 32) {
		return 0, &OperandOutOfRangeError{
			Position: pos,
			Operand:  operand,
			Message:  "value does not fit in 32 bits",
		}
	}

	imm, ok := armImmediate(uint32(value))

	if !ok {
		return 0, &OperandOutOfRangeError{
			Position: pos,
			Operand:  operand,
			Message:  "not encodable as an 8-bit rotated immediate",
		}
	}

	return 1<<25 | imm, nil
}

func operandCountError(pos Position, want int) error {
	return &OperandSyntaxError{
		Position: pos,
		Message:  fmt.Sprintf("expected %d operands", want),
	}
}

func (ctx *context) encodeARM(
	instr InstructionType,
	cond uint32,
	operands []string,
	pos Position,
) (uint32, error) {
	base := cond << 28

	switch instr {
	case INSTRUCTION_NOP:
		if len(operands) != 0 {
			return 0, operandCountError(pos, 0)
		}

		// mov r0, r0
		return base | 0x01A00000, nil

	case INSTRUCTION_B, INSTRUCTION_BL:
		if len(operands) != 1 {
			return 0, operandCountError(pos, 1)
		}

		target, err := ctx.resolveValue(operands[0], pos)

		if err != nil {
			return 0, err
		}

		disp, err := ctx.branchDisp(
			target, PIPELINE_ARM, WIDTH_ARM, 24, operands[0], pos,
		)

		if err != nil {
			return 0, err
		}

		word := base | 0x0A000000 | disp

		if instr == INSTRUCTION_BL {
			word |= 1 << 24
		}

		return word, nil

	case INSTRUCTION_BX:
		if len(operands) != 1 {
			return 0, operandCountError(pos, 1)
		}

		rm, err := ctx.register(operands[0], pos)

		if err != nil {
			return 0, err
		}

		return base | 0x012FFF10 | rm, nil

	case INSTRUCTION_MOV:
		if len(operands) != 2 {
			return 0, operandCountError(pos, 2)
		}

		rd, err := ctx.register(operands[0], pos)

		if err != nil {
			return 0, err
		}

		op2, err := ctx.armOperand2(operands[1], pos)

		if err != nil {
			return 0, err
		}

		return base | 0x01A00000 | rd<<12 | op2, nil

	case INSTRUCTION_ADD, INSTRUCTION_SUB,
		INSTRUCTION_AND, INSTRUCTION_ORR, INSTRUCTION_EOR:
		if len(operands) != 3 {
			return 0, operandCountError(pos, 3)
		}

		var opcode uint32

		switch instr {
		case INSTRUCTION_AND:
			opcode = 0x0
		case INSTRUCTION_EOR:
			opcode = 0x1
		case INSTRUCTION_SUB:
			opcode = 0x2
		case INSTRUCTION_ADD:
			opcode = 0x4
		case INSTRUCTION_ORR:
			opcode = 0xC
		}

		rd, err := ctx.register(operands[0], pos)

		if err != nil {
			return 0, err
		}

		rn, err := ctx.register(operands[1], pos)

		if err != nil {
			return 0, err
		}

		op2, err := ctx.armOperand2(operands[2], pos)

		if err != nil {
			return 0, err
		}

		return base | opcode<<21 | rn<<16 | rd<<12 | op2, nil

	case INSTRUCTION_CMP:
		if len(operands) != 2 {
			return 0, operandCountError(pos, 2)
		}

		rn, err := ctx.register(operands[0], pos)

		if err != nil {
			return 0, err
		}

		op2, err := ctx.armOperand2(operands[1], pos)

		if err != nil {
			return 0, err
		}

		// opcode 0b1010 with S set
		return base | 0x01500000 | rn<<16 | op2, nil

	case INSTRUCTION_LDR, INSTRUCTION_STR:
		return ctx.encodeARMLoadStore(instr, base, operands, pos)

	case INSTRUCTION_SVC:
		if len(operands) != 1 {
			return 0, operandCountError(pos, 1)
		}

		value, err := ctx.resolveValue(operands[0], pos)

		if err != nil {
			return 0, err
		}

		if value < 0 || value > 0xFFFFFF {
			return 0, &OperandOutOfRangeError{
				Position: pos,
				Operand:  operands[0],
				Message:  "comment field exceeds 24 bits",
			}
		}

		return base | 0x0F000000 | uint32(value), nil
	}

	return 0, &InternalError{
		Position: pos,
		Message:  "unhandled instruction kind",
	}
}

// memoryOperand splits "[rn]" or "[rn, #off]" syntax, rejoined from the
// comma-split token stream.
func memoryOperand(operands []string) (string, string, bool) {
	joined := strings.Join(operands, ",")

	if !strings.HasPrefix(joined, "[") || !strings.HasSuffix(joined, "]") {
		return "", "", false
	}

	inner := joined[1 : len(joined)-1]

	parts := strings.Split(inner, ",")

	switch len(parts) {
	case 1:
		return strings.TrimSpace(parts[0]), "", true
	case 2:
		return strings.TrimSpace(parts[0]), strings.TrimSpace(parts[1]), true
	}

	return "", "", false
}

func (ctx *context) encodeARMLoadStore(
	instr InstructionType,
	base uint32,
	operands []string,
	pos Position,
) (uint32, error) {
	if len(operands) < 2 {
		return 0, operandCountError(pos, 2)
	}

	rd, err := ctx.register(operands[0], pos)

	if err != nil {
		return 0, err
	}

	word := base | 0x05000000 | rd<<12

	if instr == INSTRUCTION_LDR {
		word |= 1 << 20
	}

	var rn uint32
	var offset int64

	if baseReg, offTok, ok := memoryOperand(operands[1:]); ok {
		rn, err = ctx.register(baseReg, pos)

		if err != nil {
			return 0, err
		}

		if offTok != "" {
			offset, err = ctx.resolveValue(offTok, pos)

			if err != nil {
				return 0, err
			}
		}

		if offset > 4095 || offset < -4095 {
			return 0, &OperandOutOfRangeError{
				Position: pos,
				Operand:  offTok,
				Message:  "offset exceeds 12 bits",
			}
		}
	} else {
		// PC-relative literal form: ldr rd, label
		if instr == INSTRUCTION_STR {
			return 0, &OperandSyntaxError{
				Position: pos,
				Message:  "str requires a memory operand",
			}
		}

		if len(operands) != 2 {
			return 0, operandCountError(pos, 2)
		}

		target, err := ctx.resolveValue(operands[1], pos)

		if err != nil {
			return 0, err
		}

		rn = REG_PC
		offset = target - int64(ctx.pc) - PIPELINE_ARM

		if offset > 4095 || offset < -4095 {
			return 0, &RelocationOverflowError{
				Position: pos,
				Symbol:   operands[1],
				Message:  "literal displacement exceeds 12 bits",
			}
		}
	}

	if offset >= 0 {
		word |= 1 << 23
	} else {
		offset = -offset
	}

	return word | rn<<16 | uint32(offset), nil
}

func (ctx *context) encodeThumb(
	instr InstructionType,
	cond uint32,
	operands []string,
	pos Position,
) (uint16, error) {
	switch instr {
	case INSTRUCTION_NOP:
		if len(operands) != 0 {
			return 0, operandCountError(pos, 0)
		}

		// mov r8, r8
		return 0x46C0, nil

	case INSTRUCTION_B:
		if len(operands) != 1 {
			return 0, operandCountError(pos, 1)
		}

		target, err := ctx.resolveValue(operands[0], pos)

		if err != nil {
			return 0, err
		}

		if cond == COND_AL {
			disp, err := ctx.branchDisp(
				target, PIPELINE_THUMB, WIDTH_THUMB, 11, operands[0], pos,
			)

			if err != nil {
				return 0, err
			}

			return uint16(0xE000 | disp), nil
		}

		disp, err := ctx.branchDisp(
			target, PIPELINE_THUMB, WIDTH_THUMB, 8, operands[0], pos,
		)

		if err != nil {
			return 0, err
		}

		return uint16(0xD000 | cond<<8 | disp), nil

	case INSTRUCTION_BL:
		return 0, &OperandSyntaxError{
			Position: pos,
			Message:  "bl is not encodable as a single 16-bit instruction",
		}

	case INSTRUCTION_BX:
		if len(operands) != 1 {
			return 0, operandCountError(pos, 1)
		}

		rm, err := ctx.register(operands[0], pos)

		if err != nil {
			return 0, err
		}

		return uint16(0x4700 | rm<<3), nil

	case INSTRUCTION_MOV:
		if len(operands) != 2 {
			return 0, operandCountError(pos, 2)
		}

		if rm, exists := parseRegister(operands[1]); exists {
			rd, err := ctx.register(operands[0], pos)

			if err != nil {
				return 0, err
			}

			// the hi-register form with both H bits clear is
			// unpredictable on ARM7TDMI; two low registers take
			// add rd, rm, #0 instead, as GNU as does
			if rd < 8 && rm < 8 {
				return uint16(0x1C00 | rm<<3 | rd), nil
			}

			return uint16(0x4600 | (rd&8)<<4 | rm<<3 | rd&7), nil
		}

		rd, err := ctx.lowRegister(operands[0], pos)

		if err != nil {
			return 0, err
		}

		imm, err := ctx.thumbImm8(operands[1], pos)

		if err != nil {
			return 0, err
		}

		return uint16(0x2000 | rd<<8 | imm), nil

	case INSTRUCTION_ADD, INSTRUCTION_SUB:
		return ctx.encodeThumbAddSub(instr, operands, pos)

	case INSTRUCTION_AND, INSTRUCTION_ORR, INSTRUCTION_EOR:
		if len(operands) != 2 {
			return 0, operandCountError(pos, 2)
		}

		var opcode uint32

		switch instr {
		case INSTRUCTION_AND:
			opcode = 0x0
		case INSTRUCTION_EOR:
			opcode = 0x1
		case INSTRUCTION_ORR:
			opcode = 0xC
		}

		rd, err := ctx.lowRegister(operands[0], pos)

		if err != nil {
			return 0, err
		}

		rm, err := ctx.lowRegister(operands[1], pos)

		if err != nil {
			return 0, err
		}

		return uint16(0x4000 | opcode<<6 | rm<<3 | rd), nil

	case INSTRUCTION_CMP:
		if len(operands) != 2 {
			return 0, operandCountError(pos, 2)
		}

		rn, err := ctx.lowRegister(operands[0], pos)

		if err != nil {
			return 0, err
		}

		if rm, exists := parseRegister(operands[1]); exists {
			if rm > 7 {
				return 0, &OperandOutOfRangeError{
					Position: pos,
					Operand:  operands[1],
					Message:  "only r0-r7 are encodable here",
				}
			}

			return uint16(0x4280 | rm<<3 | rn), nil
		}

		imm, err := ctx.thumbImm8(operands[1], pos)

		if err != nil {
			return 0, err
		}

		return uint16(0x2800 | rn<<8 | imm), nil

	case INSTRUCTION_LDR, INSTRUCTION_STR:
		return ctx.encodeThumbLoadStore(instr, operands, pos)

	case INSTRUCTION_SVC:
		if len(operands) != 1 {
			return 0, operandCountError(pos, 1)
		}

		imm, err := ctx.thumbImm8(operands[0], pos)

		if err != nil {
			return 0, err
		}

		return uint16(0xDF00 | imm), nil
	}

	return 0, &InternalError{
		Position: pos,
		Message:  "unhandled instruction kind",
	}
}

func (ctx *context) thumbImm8(
	operand string,
	pos Position,
) (uint32, error) {
	value, err := ctx.resolveValue(operand, pos)

	if err != nil {
		return 0, err
	}

	if value < 0 || value > 0xFF {
		return 0, &OperandOutOfRangeError{
			Position: pos,
			Operand:  operand,
			Message:  "immediate does not fit in 8 bits",
		}
	}

	return uint32(value), nil
}

func (ctx *context) encodeThumbAddSub(
	instr InstructionType,
	operands []string,
	pos Position,
) (uint16, error) {
	sub := instr == INSTRUCTION_SUB

	switch len(operands) {
	case 2:
		// add/sub rd, #imm8
		rd, err := ctx.lowRegister(operands[0], pos)

		if err != nil {
			return 0, err
		}

		imm, err := ctx.thumbImm8(operands[1], pos)

		if err != nil {
			return 0, err
		}

		half := uint32(0x3000) | rd<<8 | imm

		if sub {
			half |= 0x0800
		}

		return uint16(half), nil

	case 3:
		rd, err := ctx.lowRegister(operands[0], pos)

		if err != nil {
			return 0, err
		}

		rn, err := ctx.lowRegister(operands[1], pos)

		if err != nil {
			return 0, err
		}

		if rm, exists := parseRegister(operands[2]); exists {
			if rm > 7 {
				return 0, &OperandOutOfRangeError{
					Position: pos,
					Operand:  operands[2],
					Message:  "only r0-r7 are encodable here",
				}
			}

			half := uint32(0x1800) | rm<<6 | rn<<3 | rd

			if sub {
				half |= 0x0200
			}

			return uint16(half), nil
		}

		value, err := ctx.resolveValue(operands[2], pos)

		if err != nil {
			return 0, err
		}

		if value < 0 || value > 7 {
			return 0, &OperandOutOfRangeError{
				Position: pos,
				Operand:  operands[2],
				Message:  "immediate does not fit in 3 bits",
			}
		}

		half := uint32(0x1C00) | uint32(value)<<6 | rn<<3 | rd

		if sub {
			half |= 0x0200
		}

		return uint16(half), nil
	}

	return 0, operandCountError(pos, 3)
}

func (ctx *context) encodeThumbLoadStore(
	instr InstructionType,
	operands []string,
	pos Position,
) (uint16, error) {
	if len(operands) < 2 {
		return 0, operandCountError(pos, 2)
	}

	rd, err := ctx.lowRegister(operands[0], pos)

	if err != nil {
		return 0, err
	}

	if baseReg, offTok, ok := memoryOperand(operands[1:]); ok {
		rn, err := ctx.lowRegister(baseReg, pos)

		if err != nil {
			return 0, err
		}

		var offset int64

		if offTok != "" {
			offset, err = ctx.resolveValue(offTok, pos)

			if err != nil {
				return 0, err
			}
		}

		if offset < 0 || offset > 124 || offset%4 != 0 {
			return 0, &OperandOutOfRangeError{
				Position: pos,
				Operand:  offTok,
				Message:  "offset must be a multiple of 4 in 0..124",
			}
		}

		half := uint32(0x6000) | uint32(offset/4)<<6 | rn<<3 | rd

		if instr == INSTRUCTION_LDR {
			half |= 0x0800
		}

		return uint16(half), nil
	}

	// PC-relative literal form: ldr rd, label
	if instr == INSTRUCTION_STR {
		return 0, &OperandSyntaxError{
			Position: pos,
			Message:  "str requires a memory operand",
		}
	}

	if len(operands) != 2 {
		return 0, operandCountError(pos, 2)
	}

	target, err := ctx.resolveValue(operands[1], pos)

	if err != nil {
		return 0, err
	}

	// the base is the word-aligned PC
	base := int64((ctx.pc + PIPELINE_THUMB) &^ 3)
	offset := target - base

	if offset < 0 || offset > 1020 || offset%4 != 0 {
		return 0, &RelocationOverflowError{
			Position: pos,
			Symbol:   operands[1],
			Message:  "literal must be word-aligned within 1020 bytes ahead",
		}
	}

	return uint16(0x4800 | rd<<8 | uint32(offset/4)), nil
}
