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
	"bufio"
	"io"
	"strings"
	"unicode"
	"unicode/utf8"
)

// tokenLine is one non-blank, comment-stripped source line.
type tokenLine struct {
	num    int
	tokens []string

	// incSize is the byte count contributed by a .include line, recorded
	// during the sizing pass and replayed by the emission pass.
	incSize uint32

	// incConsts snapshots the constant table as the include left it. The
	// emission pass restores it in place of re-entering the include, so a
	// .set redefinition made inside the include survives the includer's
	// re-walk of its own earlier lines.
	incConsts map[string]uint32
}

// sourceUnit is one file under assembly, top-level or included.
type sourceUnit struct {
	name  string // base name, used in diagnostics
	dir   string // directory, used to resolve nested includes
	lines []tokenLine
}

// tokenize reads input line by line, strips comments and blank lines and
// splits the remainder into token lines.
func tokenize(input io.Reader, name, dir string) (*sourceUnit, error) {
	unit := &sourceUnit{name: name, dir: dir}

	scanner := bufio.NewScanner(input)

	num := 0

	for scanner.Scan() {
		num++

		tokens := splitTokens(scanner.Text())

		if len(tokens) == 0 {
			continue
		}

		unit.lines = append(unit.lines, tokenLine{num: num, tokens: tokens})
	}

	if err := scanner.Err(); err != nil {
		return nil, &IOError{Path: name, Err: err}
	}

	return unit, nil
}

// splitTokens breaks a raw line into tokens separated by whitespace and
// commas. A '//' outside a string truncates the line. Double-quoted strings
// are kept as single tokens, quotes included, so .ascii operands survive
// splitting; backslash escapes are left for strconv.Unquote to interpret.
func splitTokens(line string) []string {
	var tokens []string
	var builder strings.Builder

	instring := false
	escape := false

	flush := func() {
		if builder.Len() > 0 {
			tokens = append(tokens, builder.String())
			builder.Reset()
		}
	}

	runes := []rune(line)

	for i := 0; i < len(runes); i++ {
		char := runes[i]

		if instring {
			builder.WriteRune(char)

			if escape {
				escape = false
			} else if char == '\\' {
				escape = true
			} else if char == '"' {
				instring = false
				flush()
			}

			continue
		}

		switch {
		case char == '/' && i+1 < len(runes) && runes[i+1] == '/':
			flush()
			return tokens

		case unicode.IsSpace(char), char == ',':
			flush()

		case char == '"':
			flush()
			instring = true
			builder.WriteRune(char)

		default:
			builder.WriteRune(char)
		}
	}

	flush()

	return tokens
}

// isLabelToken reports whether a line's first token is a label declaration.
func isLabelToken(token string) bool {
	return strings.HasSuffix(token, ":")
}

// labelName strips the trailing ':' and validates the naming rule: the
// first character must be alphabetic or '_'.
func labelName(token string) (string, bool) {
	name := strings.TrimSuffix(token, ":")

	if name == "" {
		return name, false
	}

	first, _ := utf8.DecodeRuneInString(name)

	if !unicode.IsLetter(first) && first != '_' {
		return name, false
	}

	return name, true
}
