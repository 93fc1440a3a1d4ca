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
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/golang/glog"
)

// context is the single mutable state of one assembly run, threaded through
// the include recursion: instruction-set mode, location counter, output
// image, symbol tables and the active include stack.
type context struct {
	mode    Mode
	pc      uint32
	out     []byte
	labels  map[string]uint32
	consts  map[string]uint32
	globals map[string]bool
	active  []string
	opts    Options
}

// Assemble runs the two-pass pipeline over input. name is used for
// diagnostics; includes are resolved against the current directory and
// opts.IncludePaths.
func Assemble(input io.Reader, name string, opts *Options) ([]byte, error) {
	return assemble(input, name, ".", nil, opts)
}

// AssembleFile runs the two-pass pipeline over the file at path. Includes
// are resolved against the file's directory first.
func AssembleFile(path string, opts *Options) ([]byte, error) {
	file, err := os.Open(path)

	if err != nil {
		return nil, &IOError{Path: path, Err: err}
	}

	defer file.Close()

	abs, err := filepath.Abs(path)

	if err != nil {
		abs = path
	}

	return assemble(
		file, filepath.Base(path), filepath.Dir(path), []string{abs}, opts,
	)
}

// DefaultOutputPath returns path with its extension replaced by ".out".
func DefaultOutputPath(path string) string {
	return strings.TrimSuffix(path, filepath.Ext(path)) + ".out"
}

func assemble(
	input io.Reader,
	name, dir string,
	active []string,
	opts *Options,
) ([]byte, error) {
	if opts == nil {
		opts = &Options{}
	}

	unit, err := tokenize(input, name, dir)

	if err != nil {
		return nil, err
	}

	ctx := &context{
		mode:    MODE_ARM,
		labels:  make(map[string]uint32),
		consts:  make(map[string]uint32),
		globals: make(map[string]bool),
		active:  active,
		opts:    *opts,
	}

	if err := ctx.assembleUnit(unit); err != nil {
		return nil, err
	}

	if len(ctx.out) != int(ctx.pc) {
		return nil, &InternalError{
			Position: Position{File: name},
			Message: fmt.Sprintf(
				"image size %d does not match location counter %d",
				len(ctx.out), ctx.pc,
			),
		}
	}

	if opts.SymTable != nil {
		opts.SymTable.Source = name
		ctx.fillSymTable(opts.SymTable)
	}

	return ctx.out, nil
}

// assembleUnit fully consumes one source unit: sizing pass, rewind, emission
// pass. PC and symbols persist past the unit; the instruction-set mode is
// scoped to it and restored for the includer.
func (ctx *context) assembleUnit(unit *sourceUnit) error {
	startPC := ctx.pc
	startMode := ctx.mode

	glog.V(1).Infof("%s: pass 1 at PC %#x", unit.name, startPC)

	if err := ctx.runPass(unit, false); err != nil {
		return err
	}

	endPC := ctx.pc

	ctx.pc = startPC
	ctx.mode = startMode

	glog.V(1).Infof("%s: pass 2, %d bytes", unit.name, endPC-startPC)

	if err := ctx.runPass(unit, true); err != nil {
		return err
	}

	if ctx.pc != endPC {
		return &InternalError{
			Position: Position{File: unit.name},
			Message: fmt.Sprintf(
				"pass disagreement: sized %d bytes, emitted %d",
				endPC-startPC, ctx.pc-startPC,
			),
		}
	}

	ctx.mode = startMode

	return nil
}

// runPass walks a unit's token lines once. With emit unset it only advances
// PC and binds labels; with emit set it writes directive bytes and encoded
// instructions at PC.
func (ctx *context) runPass(unit *sourceUnit, emit bool) error {
	for i := range unit.lines {
		line := &unit.lines[i]
		tokens := line.tokens
		pos := Position{File: unit.name, Line: line.num}

		if isLabelToken(tokens[0]) {
			name, ok := labelName(tokens[0])

			if !ok {
				return &InvalidLabelError{Position: pos, Name: name}
			}

			if !emit {
				if err := ctx.bind(name, pos); err != nil {
					return err
				}
			}

			tokens = tokens[1:]

			if len(tokens) == 0 {
				continue
			}
		}

		if strings.HasPrefix(tokens[0], ".") {
			if err := ctx.evalDirective(unit, line, tokens, emit, pos); err != nil {
				return err
			}

			continue
		}

		width := ctx.width()

		if emit {
			code, err := ctx.encodeInstruction(tokens, pos)

			if err != nil {
				return err
			}

			if len(code) != width {
				return &InternalError{
					Position: pos,
					Message: fmt.Sprintf(
						"encoded %d bytes for a %d-byte mode",
						len(code), width,
					),
				}
			}

			ctx.write(code)
		}

		ctx.pc += uint32(width)
	}

	return nil
}

func (ctx *context) width() int {
	if ctx.mode == MODE_THUMB {
		return WIDTH_THUMB
	}

	return WIDTH_ARM
}

// write places data at the current PC, growing the image as needed. Writes
// are positional rather than appending so an included unit may emit before
// the includer's own emission pass reaches the bytes ahead of it.
func (ctx *context) write(data []byte) {
	end := int(ctx.pc) + len(data)

	if end > len(ctx.out) {
		ctx.out = append(ctx.out, make([]byte, end-len(ctx.out))...)
	}

	copy(ctx.out[ctx.pc:end], data)
}

func (ctx *context) bind(name string, pos Position) error {
	if _, exists := ctx.labels[name]; exists {
		return &DuplicateSymbolError{Position: pos, Name: name}
	}

	if _, exists := ctx.consts[name]; exists {
		return &DuplicateSymbolError{Position: pos, Name: name}
	}

	glog.V(2).Infof("%s:%d: label %q bound at %#x",
		pos.File, pos.Line, name, ctx.pc)

	ctx.labels[name] = ctx.pc

	return nil
}

// lookup resolves a symbol operand; labels take priority over constants.
func (ctx *context) lookup(name string) (uint32, bool) {
	if addr, exists := ctx.labels[name]; exists {
		return addr, true
	}

	if value, exists := ctx.consts[name]; exists {
		return value, true
	}

	return 0, false
}

// assembleInclude resolves an .include operand and runs the full pipeline
// for the named unit. It returns the number of bytes the unit contributed.
func (ctx *context) assembleInclude(
	unit *sourceUnit,
	operand string,
	pos Position,
) (uint32, error) {
	name := operand

	if strings.HasPrefix(name, "\"") {
		unquoted, err := strconv.Unquote(name)

		if err != nil {
			return 0, &DirectiveSyntaxError{
				Position:  pos,
				Directive: ".include",
				Message:   "malformed file operand",
			}
		}

		name = unquoted
	}

	maxDepth := ctx.opts.MaxDepth

	if maxDepth <= 0 {
		maxDepth = DEFAULT_INCLUDE_DEPTH
	}

	if len(ctx.active) >= maxDepth {
		return 0, &IncludeDepthError{Position: pos, Depth: maxDepth}
	}

	path, file, err := ctx.openInclude(unit, name)

	if err != nil {
		return 0, err
	}

	defer file.Close()

	abs, err := filepath.Abs(path)

	if err != nil {
		abs = path
	}

	for _, entry := range ctx.active {
		if entry == abs {
			return 0, &IncludeCycleError{Position: pos, Path: name}
		}
	}

	sub, err := tokenize(file, filepath.Base(path), filepath.Dir(path))

	if err != nil {
		return 0, err
	}

	glog.V(1).Infof("%s:%d: including %s at PC %#x",
		pos.File, pos.Line, name, ctx.pc)

	start := ctx.pc

	ctx.active = append(ctx.active, abs)
	err = ctx.assembleUnit(sub)
	ctx.active = ctx.active[:len(ctx.active)-1]

	if err != nil {
		return 0, err
	}

	return ctx.pc - start, nil
}

// openInclude tries the including file's directory, then each configured
// include path, for a relative include name.
func (ctx *context) openInclude(
	unit *sourceUnit,
	name string,
) (string, *os.File, error) {
	var candidates []string

	if filepath.IsAbs(name) {
		candidates = []string{name}
	} else {
		candidates = append(candidates, filepath.Join(unit.dir, name))

		for _, dir := range ctx.opts.IncludePaths {
			candidates = append(candidates, filepath.Join(dir, name))
		}
	}

	var lastErr error

	for _, candidate := range candidates {
		file, err := os.Open(candidate)

		if err == nil {
			return candidate, file, nil
		}

		lastErr = err
	}

	return "", nil, &IOError{Path: name, Err: lastErr}
}

func copyTable(src map[string]uint32) map[string]uint32 {
	dst := make(map[string]uint32, len(src))

	for name, value := range src {
		dst[name] = value
	}

	return dst
}

func (ctx *context) fillSymTable(table *SymTable) {
	table.Labels = copyTable(ctx.labels)
	table.Constants = copyTable(ctx.consts)

	table.Globals = make([]string, 0, len(ctx.globals))

	for name := range ctx.globals {
		table.Globals = append(table.Globals, name)
	}

	sort.Strings(table.Globals)
}
