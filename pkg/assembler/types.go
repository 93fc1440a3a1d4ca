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
)

type Mode uint
type DirectiveType uint
type InstructionType uint

// Position is the source location an error was raised at.
type Position struct {
	File string
	Line int
}

func (p Position) prefix() string {
	return fmt.Sprintf("%s:%d: ERROR: ", p.File, p.Line)
}

// PositionError is implemented by every error that carries a source
// location. IOError does not; it is reported without a line number.
type PositionError interface {
	GetPosition() Position
}

// SymTable is the optional debug output of an assembly: every label and
// constant with its resolved byte offset, plus the .global export list.
type SymTable struct {
	Source    string
	Labels    map[string]uint32
	Constants map[string]uint32
	Globals   []string
}

// Options adjusts assembly behavior. The zero value is usable.
type Options struct {
	// IncludePaths are searched, in order, after the including file's own
	// directory when resolving .include operands.
	IncludePaths []string

	// MaxDepth caps .include nesting; DEFAULT_INCLUDE_DEPTH when zero.
	MaxDepth int

	// SymTable, when non-nil, is populated after a successful assembly.
	SymTable *SymTable
}

type IOError struct {
	Path string
	Err  error
}

func (err *IOError) Error() string {
	return fmt.Sprintf("ERROR: unable to open source file '%s'", err.Path)
}

func (err *IOError) Unwrap() error {
	return err.Err
}

type InvalidLabelError struct {
	Position Position
	Name     string
}

func (err *InvalidLabelError) GetPosition() Position {
	return err.Position
}

func (err *InvalidLabelError) Error() string {
	return err.Position.prefix() + fmt.Sprintf("invalid label '%s'", err.Name)
}

type DuplicateSymbolError struct {
	Position Position
	Name     string
}

func (err *DuplicateSymbolError) GetPosition() Position {
	return err.Position
}

func (err *DuplicateSymbolError) Error() string {
	return err.Position.prefix() +
		fmt.Sprintf("duplicate symbol '%s'", err.Name)
}

type DirectiveSyntaxError struct {
	Position  Position
	Directive string
	Message   string
}

func (err *DirectiveSyntaxError) GetPosition() Position {
	return err.Position
}

func (err *DirectiveSyntaxError) Error() string {
	return err.Position.prefix() +
		fmt.Sprintf("%s: %s", err.Directive, err.Message)
}

type UnsupportedDirectiveError struct {
	Position  Position
	Directive string
}

func (err *UnsupportedDirectiveError) GetPosition() Position {
	return err.Position
}

func (err *UnsupportedDirectiveError) Error() string {
	return err.Position.prefix() +
		fmt.Sprintf("unsupported directive '%s'", err.Directive)
}

type UnknownInstructionError struct {
	Position Position
	Mnemonic string
}

func (err *UnknownInstructionError) GetPosition() Position {
	return err.Position
}

func (err *UnknownInstructionError) Error() string {
	return err.Position.prefix() +
		fmt.Sprintf("unknown instruction '%s'", err.Mnemonic)
}

type OperandSyntaxError struct {
	Position Position
	Message  string
}

func (err *OperandSyntaxError) GetPosition() Position {
	return err.Position
}

func (err *OperandSyntaxError) Error() string {
	return err.Position.prefix() + err.Message
}

type OperandOutOfRangeError struct {
	Position Position
	Operand  string
	Message  string
}

func (err *OperandOutOfRangeError) GetPosition() Position {
	return err.Position
}

func (err *OperandOutOfRangeError) Error() string {
	return err.Position.prefix() +
		fmt.Sprintf("operand '%s' out of range: %s", err.Operand, err.Message)
}

type RelocationOverflowError struct {
	Position Position
	Symbol   string
	Message  string
}

func (err *RelocationOverflowError) GetPosition() Position {
	return err.Position
}

func (err *RelocationOverflowError) Error() string {
	return err.Position.prefix() +
		fmt.Sprintf("relocation overflow for '%s': %s",
			err.Symbol, err.Message)
}

type UndefinedSymbolError struct {
	Position Position
	Name     string
}

func (err *UndefinedSymbolError) GetPosition() Position {
	return err.Position
}

func (err *UndefinedSymbolError) Error() string {
	return err.Position.prefix() +
		fmt.Sprintf("undefined symbol '%s'", err.Name)
}

type IncludeCycleError struct {
	Position Position
	Path     string
}

func (err *IncludeCycleError) GetPosition() Position {
	return err.Position
}

func (err *IncludeCycleError) Error() string {
	return err.Position.prefix() +
		fmt.Sprintf("include cycle through '%s'", err.Path)
}

type IncludeDepthError struct {
	Position Position
	Depth    int
}

func (err *IncludeDepthError) GetPosition() Position {
	return err.Position
}

func (err *IncludeDepthError) Error() string {
	return err.Position.prefix() +
		fmt.Sprintf("include depth exceeded (%d)", err.Depth)
}

// InternalError reports a sizing/emission disagreement between the two
// passes. It is a bug in the assembler, never a source error.
type InternalError struct {
	Position Position
	Message  string
}

func (err *InternalError) GetPosition() Position {
	return err.Position
}

func (err *InternalError) Error() string {
	return err.Position.prefix() + "internal: " + err.Message
}
