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

package assembler_test

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/lassandro/goarm/pkg/assembler"
)

// writeTree lays out source fixtures in a fresh temp directory and returns
// the directory path.
func writeTree(t *testing.T, files map[string]string) string {
	t.Helper()

	dir := t.TempDir()

	for name, contents := range files {
		path := filepath.Join(dir, name)

		if err := os.MkdirAll(filepath.Dir(path), 0777); err != nil {
			t.Fatal(err)
		}

		if err := os.WriteFile(path, []byte(contents), 0666); err != nil {
			t.Fatal(err)
		}
	}

	return dir
}

func assembleTree(
	t *testing.T,
	files map[string]string,
	entry string,
	opts *assembler.Options,
) ([]byte, error) {
	t.Helper()

	dir := writeTree(t, files)

	return assembler.AssembleFile(filepath.Join(dir, entry), opts)
}

func TestIncludeConcatenation(t *testing.T) {
	result, err := assembleTree(t, map[string]string{
		"a.s": `
.word 1
.include "b.s"
.word 3
`,
		"b.s": `.byte 0xAA, 0xBB`,
	}, "a.s", nil)

	if err != nil {
		t.Fatal(err)
	}

	want := []byte{
		0x01, 0x00, 0x00, 0x00,
		0xAA, 0xBB,
		0x03, 0x00, 0x00, 0x00,
	}

	if !bytes.Equal(result, want) {
		t.Fatalf("encoding mismatch\nwant:[% x]\nhave:[% x]", want, result)
	}
}

func TestIncludeBackwardReference(t *testing.T) {
	result, err := assembleTree(t, map[string]string{
		"a.s": `
.include "lib.s"
	bl init
`,
		"lib.s": `
init:
	nop
`,
	}, "a.s", nil)

	if err != nil {
		t.Fatal(err)
	}

	want := []byte{
		0x00, 0x00, 0xA0, 0xE1,
		0xFD, 0xFF, 0xFF, 0xEB, // bl -3 words
	}

	if !bytes.Equal(result, want) {
		t.Fatalf("encoding mismatch\nwant:[% x]\nhave:[% x]", want, result)
	}
}

func TestIncludeForwardReference(t *testing.T) {
	// A file cannot reference labels in files included after it: one.s is
	// fully assembled before two.s has been read.
	_, err := assembleTree(t, map[string]string{
		"a.s": `
.include "one.s"
.include "two.s"
`,
		"one.s": `	b later`,
		"two.s": `later: nop`,
	}, "a.s", nil)

	if reflect.TypeOf(err) != reflect.TypeOf(&assembler.UndefinedSymbolError{}) {
		t.Fatalf("want %T, have %T (%v)", &assembler.UndefinedSymbolError{}, err, err)
	}
}

func TestIncludeDuplicateLabel(t *testing.T) {
	_, err := assembleTree(t, map[string]string{
		"a.s": `
entry:
	nop
.include "b.s"
`,
		"b.s": `entry: nop`,
	}, "a.s", nil)

	if reflect.TypeOf(err) != reflect.TypeOf(&assembler.DuplicateSymbolError{}) {
		t.Fatalf("want %T, have %T (%v)", &assembler.DuplicateSymbolError{}, err, err)
	}
}

func TestIncludeModeScoping(t *testing.T) {
	// armcode.s switches to the wide instruction set internally; the
	// includer resumes in its own mode afterwards.
	result, err := assembleTree(t, map[string]string{
		"a.s": `
.code 16
.include "armcode.s"
	mov r0, #1
`,
		"armcode.s": `
.code 32
	nop
`,
	}, "a.s", nil)

	if err != nil {
		t.Fatal(err)
	}

	want := []byte{
		0x00, 0x00, 0xA0, 0xE1,
		0x01, 0x20,
	}

	if !bytes.Equal(result, want) {
		t.Fatalf("encoding mismatch\nwant:[% x]\nhave:[% x]", want, result)
	}
}

func TestIncludeConstantRedefinition(t *testing.T) {
	// The include's .set is the latest definition; it must still be in
	// effect when the includer's emission pass reaches the mov, even
	// though that pass re-walks the includer's own .set line.
	result, err := assembleTree(t, map[string]string{
		"a.s": `
.set N, 1
.include "b.s"
	mov r0, #N
`,
		"b.s": `.set N, 2`,
	}, "a.s", nil)

	if err != nil {
		t.Fatal(err)
	}

	want := []byte{0x02, 0x00, 0xA0, 0xE3} // mov r0, #2

	if !bytes.Equal(result, want) {
		t.Fatalf("encoding mismatch\nwant:[% x]\nhave:[% x]", want, result)
	}
}

func TestIncludeConstantVisibleAfter(t *testing.T) {
	result, err := assembleTree(t, map[string]string{
		"a.s": `
.include "defs.s"
	mov r0, #K
`,
		"defs.s": `.equ K, 5`,
	}, "a.s", nil)

	if err != nil {
		t.Fatal(err)
	}

	want := []byte{0x05, 0x00, 0xA0, 0xE3}

	if !bytes.Equal(result, want) {
		t.Fatalf("encoding mismatch\nwant:[% x]\nhave:[% x]", want, result)
	}
}

func TestIncludeNested(t *testing.T) {
	result, err := assembleTree(t, map[string]string{
		"a.s": `
.byte 1
.include "sub/b.s"
.byte 4
`,
		"sub/b.s": `
.byte 2
.include "c.s"
`,
		"sub/c.s": `.byte 3`,
	}, "a.s", nil)

	if err != nil {
		t.Fatal(err)
	}

	want := []byte{0x01, 0x02, 0x03, 0x04}

	if !bytes.Equal(result, want) {
		t.Fatalf("encoding mismatch\nwant:[% x]\nhave:[% x]", want, result)
	}
}

func TestIncludeSearchPath(t *testing.T) {
	libdir := writeTree(t, map[string]string{
		"lib.s": `.byte 0xEE`,
	})

	result, err := assembleTree(t, map[string]string{
		"a.s": `.include "lib.s"`,
	}, "a.s", &assembler.Options{IncludePaths: []string{libdir}})

	if err != nil {
		t.Fatal(err)
	}

	if !bytes.Equal(result, []byte{0xEE}) {
		t.Fatalf("encoding mismatch\nwant:[ee]\nhave:[% x]", result)
	}
}

func TestIncludeCycle(t *testing.T) {
	_, err := assembleTree(t, map[string]string{
		"a.s": `.include "b.s"`,
		"b.s": `.include "a.s"`,
	}, "a.s", nil)

	if reflect.TypeOf(err) != reflect.TypeOf(&assembler.IncludeCycleError{}) {
		t.Fatalf("want %T, have %T (%v)", &assembler.IncludeCycleError{}, err, err)
	}
}

func TestIncludeSelfCycle(t *testing.T) {
	_, err := assembleTree(t, map[string]string{
		"a.s": `.include "a.s"`,
	}, "a.s", nil)

	if reflect.TypeOf(err) != reflect.TypeOf(&assembler.IncludeCycleError{}) {
		t.Fatalf("want %T, have %T (%v)", &assembler.IncludeCycleError{}, err, err)
	}
}

func TestIncludeDepthLimit(t *testing.T) {
	files := map[string]string{
		"f20.s": `.byte 1`,
	}

	for i := 0; i < 20; i++ {
		files[fmt.Sprintf("f%d.s", i)] = fmt.Sprintf(`.include "f%d.s"`, i+1)
	}

	_, err := assembleTree(t, files, "f0.s", nil)

	if reflect.TypeOf(err) != reflect.TypeOf(&assembler.IncludeDepthError{}) {
		t.Fatalf("want %T, have %T (%v)", &assembler.IncludeDepthError{}, err, err)
	}
}

func TestIncludeMissingFile(t *testing.T) {
	_, err := assembleTree(t, map[string]string{
		"a.s": `.include "nope.s"`,
	}, "a.s", nil)

	if reflect.TypeOf(err) != reflect.TypeOf(&assembler.IOError{}) {
		t.Fatalf("want %T, have %T (%v)", &assembler.IOError{}, err, err)
	}
}

func TestAssembleFileMissing(t *testing.T) {
	_, err := assembler.AssembleFile(
		filepath.Join(t.TempDir(), "missing.s"), nil,
	)

	if reflect.TypeOf(err) != reflect.TypeOf(&assembler.IOError{}) {
		t.Fatalf("want %T, have %T (%v)", &assembler.IOError{}, err, err)
	}
}

func TestIncludeSymTable(t *testing.T) {
	var symtable assembler.SymTable

	_, err := assembleTree(t, map[string]string{
		"a.s": `
first:
	nop
.include "b.s"
last:
	nop
`,
		"b.s": `
mid:
	.word 0
`,
	}, "a.s", &assembler.Options{SymTable: &symtable})

	if err != nil {
		t.Fatal(err)
	}

	want := map[string]uint32{
		"first": 0,
		"mid":   4,
		"last":  8,
	}

	for name, addr := range want {
		if have, exists := symtable.Labels[name]; !exists || have != addr {
			t.Fatalf(
				"want %s at %d, have %d (exists %v)",
				name, addr, have, exists,
			)
		}
	}
}
