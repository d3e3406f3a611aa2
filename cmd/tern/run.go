package main

import (
	"flag"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/chazu/tern/manifest"
	"github.com/chazu/tern/pkg/bytecode"
	"github.com/chazu/tern/vm"
)

// runRun processes the `tern run` subcommand. The first argument may name
// a .tn source file or a .tbc image; the rest are parameter slots, with
// decimal points marking f32 values.
func runRun(args []string) error {
	fs := flag.NewFlagSet("run", flag.ExitOnError)
	entry := fs.String("entry", "", "Entry attribute (default from [run] or \"main\")")
	memory := fs.Int("memory", 0, "VM memory in slots")
	stackBase := fs.Int("stack-base", 0, "First stack slot; 0 places the stack after the globals")
	steps := fs.Int("steps", 0, "Instruction budget, 0 for unlimited")
	trace := fs.Bool("trace", false, "Log every executed instruction")
	floats := fs.Bool("f", false, "Print results as f32")
	bf := addBuildFlags(fs)
	fs.Parse(args)

	rest := fs.Args()
	var program string
	if len(rest) > 0 && (strings.HasSuffix(rest[0], ".tn") || strings.HasSuffix(rest[0], ".tbc")) {
		program, rest = rest[0], rest[1:]
	}
	params, err := parseParams(rest)
	if err != nil {
		return err
	}

	var m *manifest.Manifest
	var data []byte
	if filepath.Ext(program) == ".tbc" {
		if m, err = manifest.Parse(""); err != nil {
			return err
		}
		if data, err = os.ReadFile(program); err != nil {
			return err
		}
	} else {
		if m, err = loadProject(program); err != nil {
			return err
		}
		bf.apply(m)
		if data, err = buildImage(m); err != nil {
			return err
		}
	}

	if *entry != "" {
		m.Run.Entry = *entry
	}
	if *memory > 0 {
		m.Run.Memory = *memory
	}
	if *stackBase > 0 {
		m.Run.StackBase = *stackBase
	}
	if *steps > 0 {
		m.Run.MaxSteps = *steps
	}
	if *trace {
		m.Run.Trace = true
	}

	img, err := bytecode.Decode(data)
	if err != nil {
		return err
	}
	exp, ok := img.Link.FindExport(m.Run.Entry)
	if !ok || exp.IsVar() {
		return fmt.Errorf("no exported function with attribute %q", m.Run.Entry)
	}

	opts := append(m.VMOptions(), vm.WithImports(vm.Console(os.Stdout).Handle))
	machine := vm.New(make([]int32, m.Run.Memory), opts...)
	returns := make([]int32, exp.Ret)
	if !machine.RunImage(img, m.Run.Entry, params, returns) {
		fmt.Fprint(os.Stderr, machine.Diagnostics().String())
		return fmt.Errorf("%s failed after %d steps", exp.Name, machine.Steps())
	}
	for _, r := range returns {
		if *floats {
			fmt.Println(math.Float32frombits(uint32(r)))
		} else {
			fmt.Println(r)
		}
	}
	log.Infof("%s finished after %d steps", exp.Name, machine.Steps())
	return nil
}

// parseParams converts arguments to parameter slots. Booleans become 0 or
// 1 and floats are passed as their bit patterns.
func parseParams(args []string) ([]int32, error) {
	var out []int32
	for _, a := range args {
		switch {
		case a == "true" || a == "false":
			if a == "true" {
				out = append(out, 1)
			} else {
				out = append(out, 0)
			}
		case strings.ContainsAny(a, ".eE") && !strings.HasPrefix(a, "0x"):
			f, err := strconv.ParseFloat(a, 32)
			if err != nil {
				return nil, fmt.Errorf("bad parameter %q: %w", a, err)
			}
			out = append(out, int32(math.Float32bits(float32(f))))
		default:
			n, err := strconv.ParseInt(a, 0, 32)
			if err != nil {
				return nil, fmt.Errorf("bad parameter %q: %w", a, err)
			}
			out = append(out, int32(n))
		}
	}
	return out, nil
}
