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

package main

import (
	"encoding/gob"
	goflag "flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/golang/glog"
	"github.com/spf13/cobra"

	"github.com/lassandro/goarm/pkg/assembler"
)

var outvar string
var debugvar bool
var includevar []string

var rootCmd = &cobra.Command{
	Use:   "goarm-as [flags] source.s",
	Short: "Two-pass assembler for 32-bit ARM and 16-bit Thumb source",
	Long: `goarm-as translates ARM/Thumb assembly source into a flat,
headerless binary image. Labels share one namespace across the whole
assembly; .include directives splice files into the image in place, each
assembled with its own sizing and emission pass.`,

	Args:          cobra.ExactArgs(1),
	SilenceUsage:  true,
	SilenceErrors: true,

	// cobra owns argument parsing; glog still checks flag.Parsed() before
	// logging, so mark its flag set parsed once cobra has filled it in
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		goflag.CommandLine.Parse(nil)
	},

	RunE: func(cmd *cobra.Command, args []string) error {
		return run(args[0])
	},
}

func init() {
	rootCmd.Flags().StringVarP(
		&outvar, "out", "o", "",
		"Specifies a precise name for the output file, "+
			"overriding the default means of determining it",
	)
	rootCmd.Flags().BoolVar(
		&debugvar, "debug", false,
		"Specifies whether to generate debugging information as a symbol "+
			"table. The table will use the output filename with extension "+
			"'.symdb'",
	)
	rootCmd.Flags().StringArrayVarP(
		&includevar, "include", "I", nil,
		"Adds a directory to the .include search path",
	)

	// hoist glog's -v/-logtostderr flags into the command
	rootCmd.Flags().AddGoFlagSet(goflag.CommandLine)
}

func run(source string) error {
	if outvar == "" {
		outvar = assembler.DefaultOutputPath(source)
	}

	var symtable assembler.SymTable
	var symtarget *assembler.SymTable = nil

	if debugvar {
		symtarget = &symtable
	}

	result, err := assembler.AssembleFile(source, &assembler.Options{
		IncludePaths: includevar,
		SymTable:     symtarget,
	})

	if err != nil {
		return err
	}

	if err := os.WriteFile(outvar, result, 0666); err != nil {
		return fmt.Errorf("ERROR: unable to write output file: %w", err)
	}

	if debugvar {
		filename := filepath.Dir(outvar) + "/" + strings.ReplaceAll(
			filepath.Base(outvar), filepath.Ext(outvar), ".symdb",
		)

		file, err := os.OpenFile(filename, os.O_WRONLY|os.O_CREATE, 0666)

		if err != nil {
			return fmt.Errorf("ERROR: unable to create symbol table: %w", err)
		}

		if err := gob.NewEncoder(file).Encode(symtable); err != nil {
			file.Close()
			return fmt.Errorf("ERROR: unable to write symbol table: %w", err)
		}

		file.Close()
	}

	fmt.Printf("Assembled %s (%d bytes)\n", outvar, len(result))

	return nil
}

func main() {
	defer glog.Flush()

	if err := rootCmd.Execute(); err != nil {
		if stderrIsTerminal() && os.Getenv("NO_COLOR") == "" {
			fmt.Fprintf(os.Stderr, "\033[1m%s\033[0m\n", err)
		} else {
			fmt.Fprintln(os.Stderr, err)
		}

		os.Exit(1)
	}
}
