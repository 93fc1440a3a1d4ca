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

const (
	// Instruction set modes
	MODE_ARM Mode = iota
	MODE_THUMB
)

const (
	// Fixed instruction widths per mode
	WIDTH_ARM   = 4
	WIDTH_THUMB = 2
)

const (
	// Pipeline offsets applied to PC-relative displacements
	PIPELINE_ARM   = 8
	PIPELINE_THUMB = 4
)

// Default nesting limit for .include resolution
const DEFAULT_INCLUDE_DEPTH = 16

const (
	DIRECTIVE_INVALID DirectiveType = iota
	DIRECTIVE_ARM
	DIRECTIVE_THUMB
	DIRECTIVE_CODE
	DIRECTIVE_INCLUDE
	DIRECTIVE_ALIGN
	DIRECTIVE_TEXT
	DIRECTIVE_DATA
	DIRECTIVE_EQU
	DIRECTIVE_GLOBAL
	DIRECTIVE_BYTE
	DIRECTIVE_HWORD
	DIRECTIVE_WORD
	DIRECTIVE_ASCII
	DIRECTIVE_ASCIZ
	DIRECTIVE_SPACE
)

const (
	INSTRUCTION_INVALID InstructionType = iota
	INSTRUCTION_MOV
	INSTRUCTION_ADD
	INSTRUCTION_SUB
	INSTRUCTION_AND
	INSTRUCTION_ORR
	INSTRUCTION_EOR
	INSTRUCTION_CMP
	INSTRUCTION_B
	INSTRUCTION_BL
	INSTRUCTION_BX
	INSTRUCTION_LDR
	INSTRUCTION_STR
	INSTRUCTION_SVC
	INSTRUCTION_NOP
)

const (
	// ARM condition codes; COND_AL is the unconditional "always"
	COND_EQ uint32 = 0x0
	COND_NE uint32 = 0x1
	COND_CS uint32 = 0x2
	COND_CC uint32 = 0x3
	COND_MI uint32 = 0x4
	COND_PL uint32 = 0x5
	COND_VS uint32 = 0x6
	COND_VC uint32 = 0x7
	COND_HI uint32 = 0x8
	COND_LS uint32 = 0x9
	COND_GE uint32 = 0xA
	COND_LT uint32 = 0xB
	COND_GT uint32 = 0xC
	COND_LE uint32 = 0xD
	COND_AL uint32 = 0xE
)

const (
	// Register aliases
	REG_SP = 13
	REG_LR = 14
	REG_PC = 15
)
