package main

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"path/filepath"

	"github.com/chazu/tern/compiler"
	"github.com/chazu/tern/pkg/bytecode"
)

// runDump processes the `tern dump` subcommand. Dumps are printed even
// when compilation fails, as far as the pipeline got.
func runDump(args []string) error {
	fs := flag.NewFlagSet("dump", flag.ExitOnError)
	ast := fs.Bool("ast", false, "Print the syntax tree")
	symbols := fs.Bool("symbols", false, "Print the symbol table")
	code := fs.Bool("code", false, "Print the instruction listing")
	types := fs.Bool("types", false, "Print the interned types")
	bf := addBuildFlags(fs)
	fs.Parse(args)
	if !*ast && !*symbols && !*code && !*types {
		*ast, *symbols, *code = true, true, true
	}

	m, err := loadProject(fs.Arg(0))
	if err != nil {
		return err
	}
	bf.apply(m)
	res, err := m.Compile()
	if res == nil {
		return err
	}

	if *ast {
		fmt.Println("; AST")
		fmt.Print(res.DumpAST())
	}
	if *symbols {
		fmt.Println("; Symbols")
		fmt.Print(res.DumpSymbols())
	}
	if *types && res.Symbols != nil {
		fmt.Println("; Types")
		fmt.Print(compiler.DumpTypes(res.Symbols.Types))
	}
	if *code && res.Code != nil {
		fmt.Println("; Code")
		fmt.Print(res.DumpCode())
	}
	if res.Diagnostics.Len() > 0 {
		fmt.Fprint(os.Stderr, res.Diagnostics.String())
	}
	var ce *compiler.CompileError
	if errors.As(err, &ce) {
		return fmt.Errorf("compilation failed with %d errors", ce.Diagnostics.ErrorCount())
	}
	return err
}

// runDisasm processes the `tern disasm` subcommand for an image, a source
// file, or the project.
func runDisasm(args []string) error {
	fs := flag.NewFlagSet("disasm", flag.ExitOnError)
	bf := addBuildFlags(fs)
	fs.Parse(args)

	var data []byte
	path := fs.Arg(0)
	if filepath.Ext(path) == ".tbc" {
		var err error
		if data, err = os.ReadFile(path); err != nil {
			return err
		}
	} else {
		m, err := loadProject(path)
		if err != nil {
			return err
		}
		bf.apply(m)
		if data, err = buildImage(m); err != nil {
			return err
		}
	}

	img, err := bytecode.Decode(data)
	if err != nil {
		return err
	}
	fmt.Print(bytecode.Disassemble(img))
	return nil
}
