package vm

import (
	"bytes"
	"strings"
	"testing"

	"github.com/chazu/tern/pkg/bytecode"
)

func push(v int32) bytecode.Instruction {
	return bytecode.NewInstr(bytecode.OpPush, bytecode.WidthInt, bytecode.ModeConst, v)
}

func op(o bytecode.Opcode, w bytecode.Width, args ...int32) bytecode.Instruction {
	return bytecode.NewInstr(o, w, bytecode.ModeNone, args...)
}

func local(o bytecode.Opcode, off int32) bytecode.Instruction {
	return bytecode.NewInstr(o, bytecode.WidthInt, bytecode.ModeLocal, off)
}

func ret(r, p, l int32) bytecode.Instruction {
	return op(bytecode.OpRet, bytecode.WidthNone, r, p, l)
}

// function exports code under name with the given signature.
func function(name string, params, results uint32) bytecode.LinkEntry {
	return bytecode.LinkEntry{
		Name:  name,
		Param: params,
		Ret:   results,
		Attrs: []bytecode.Attribute{{Name: name}},
		Label: name,
	}
}

func assemble(p *bytecode.Program) []byte {
	data, err := bytecode.Assemble(p).Encode()
	if err != nil {
		panic(err)
	}
	return data
}

// single builds an image holding one exported function F.
func single(params, results uint32, code ...bytecode.Instruction) []byte {
	return assemble(&bytecode.Program{
		Code:    append([]bytecode.Instruction{bytecode.Label("F")}, code...),
		Exports: []bytecode.LinkEntry{function("F", params, results)},
	})
}

func TestRunArithmetic(t *testing.T) {
	image := single(2, 1,
		local(bytecode.OpLoad, -4),
		local(bytecode.OpLoad, -3),
		op(bytecode.OpSub, bytecode.WidthInt),
		push(3),
		op(bytecode.OpMul, bytecode.WidthInt),
		ret(1, 2, 0),
	)
	out := make([]int32, 1)
	v := New(make([]int32, 64))
	if !v.Run(image, "F", []int32{10, 4}, out) {
		t.Fatalf("run failed:\n%s", v.Diagnostics())
	}
	if out[0] != 18 {
		t.Errorf("(10 - 4) * 3 = %d, want 18", out[0])
	}
	if v.Steps() != 6 {
		t.Errorf("steps = %d, want 6", v.Steps())
	}
}

func TestForLoopInfersStep(t *testing.T) {
	tests := []struct {
		start, end, step int32
		want             int32
	}{
		{0, 5, 0, 10},
		{5, 0, 0, 15},
		{0, 10, 3, 18},
		{10, 0, -4, 18},
		{3, 3, 0, 0},
		{0, 5, -1, 0},
	}
	for _, tc := range tests {
		image := single(0, 1,
			op(bytecode.OpReserve, bytecode.WidthNone, 3),
			push(tc.start), push(tc.end), push(tc.step),
			bytecode.Instruction{Op: bytecode.OpForStart, Mode: bytecode.ModeLocal, Args: []int32{0}, Target: "exit"},
			bytecode.Label("body"),
			local(bytecode.OpLoad, 2),
			local(bytecode.OpLoad, 0),
			op(bytecode.OpAdd, bytecode.WidthInt),
			local(bytecode.OpStore, 2),
			bytecode.Instruction{Op: bytecode.OpForLoop, Mode: bytecode.ModeLocal, Args: []int32{0}, Target: "body"},
			bytecode.Label("exit"),
			local(bytecode.OpLoad, 2),
			ret(1, 0, 3),
		)
		out := make([]int32, 1)
		v := New(make([]int32, 64))
		if !v.Run(image, "F", nil, out) {
			t.Errorf("for %d, %d, %d: run failed:\n%s", tc.start, tc.end, tc.step, v.Diagnostics())
			continue
		}
		if out[0] != tc.want {
			t.Errorf("for %d, %d, %d: sum = %d, want %d", tc.start, tc.end, tc.step, out[0], tc.want)
		}
	}
}

func TestFaults(t *testing.T) {
	tests := []struct {
		name string
		code []bytecode.Instruction
		msg  string
	}{
		{"stack overflow", []bytecode.Instruction{
			bytecode.Label("loop"), push(1), bytecode.Jump(bytecode.OpJump, "loop"),
		}, "stack overflow"},
		{"stack underflow", []bytecode.Instruction{
			op(bytecode.OpPop, bytecode.WidthNone, 5), ret(0, 0, 0),
		}, "stack underflow"},
		{"wild read", []bytecode.Instruction{
			push(100000), op(bytecode.OpLoadInd, bytecode.WidthInt), op(bytecode.OpPop, bytecode.WidthNone, 1), ret(0, 0, 0),
		}, "memory read out of bounds at address 100000"},
		{"wild write", []bytecode.Instruction{
			push(1), push(-3), op(bytecode.OpStoreInd, bytecode.WidthInt), ret(0, 0, 0),
		}, "memory write out of bounds at address -3"},
		{"global outside", []bytecode.Instruction{
			bytecode.NewInstr(bytecode.OpLoad, bytecode.WidthInt, bytecode.ModeGlobal, 0), ret(0, 0, 0),
		}, "global slot 0 outside the 0 global slots"},
		{"division", []bytecode.Instruction{
			push(1), push(0), op(bytecode.OpMod, bytecode.WidthInt), ret(0, 0, 0),
		}, "division by zero"},
		{"short frame", []bytecode.Instruction{
			ret(1, 0, 4),
		}, "stack mismatch on return"},
		{"block copy", []bytecode.Instruction{
			push(0), push(60), op(bytecode.OpCopyBlock, bytecode.WidthNone, 10), ret(0, 0, 0),
		}, "block copy of 10 slots"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			v := New(make([]int32, 64))
			if v.Run(single(0, 0, tc.code...), "F", nil, nil) {
				t.Fatal("run succeeded")
			}
			if !v.Failed() {
				t.Error("error flag not set")
			}
			d := v.Diagnostics()
			if d.ErrorCount() != 1 {
				t.Errorf("%d errors, want exactly the first fault:\n%s", d.ErrorCount(), d)
			}
			if !strings.Contains(d.String(), tc.msg) {
				t.Errorf("diagnostics = %q, want %q", d, tc.msg)
			}
		})
	}
}

func TestFaultStopsMemoryAccess(t *testing.T) {
	mem := make([]int32, 64)
	v := New(mem)
	v.Run(single(0, 0, push(100000), op(bytecode.OpLoadInd, bytecode.WidthInt)), "F", nil, nil)
	if !v.Failed() {
		t.Fatal("expected a fault")
	}
	v.write(0, 99)
	v.push(99)
	if got := v.read(0); got != 0 || mem[0] != 0 {
		t.Errorf("faulted machine touched memory: read %d, mem[0] = %d", got, mem[0])
	}
}

func TestStepBudget(t *testing.T) {
	image := single(0, 0, bytecode.Label("spin"), bytecode.Jump(bytecode.OpJump, "spin"))
	v := New(make([]int32, 16), WithMaxSteps(100))
	if v.Run(image, "F", nil, nil) {
		t.Fatal("infinite loop finished")
	}
	if v.Steps() != 100 {
		t.Errorf("steps = %d, want 100", v.Steps())
	}
	if !strings.Contains(v.Diagnostics().String(), "step budget of 100") {
		t.Errorf("diagnostics = %s", v.Diagnostics())
	}
}

func TestInvalidImage(t *testing.T) {
	v := New(make([]int32, 16))
	if v.Run([]byte("not an image"), "F", nil, nil) {
		t.Fatal("garbage image ran")
	}
	if !strings.Contains(v.Diagnostics().String(), "invalid image") {
		t.Errorf("diagnostics = %s", v.Diagnostics())
	}
}

func TestEntryPointChecks(t *testing.T) {
	image := assemble(&bytecode.Program{
		Code:    []bytecode.Instruction{bytecode.Label("F"), push(1), ret(1, 1, 0)},
		Exports: []bytecode.LinkEntry{function("F", 1, 1), {Name: "g", Attrs: []bytecode.Attribute{{Name: bytecode.VarAttr, Params: []string{"1"}}}}},
		Globals: 1,
	})
	tests := []struct {
		entry           string
		params, returns int
		want            error
	}{
		{"F", 0, 1, ErrSignature},
		{"F", 1, 2, ErrSignature},
		{"G", 1, 1, ErrEntryNotFound},
		{"var", 0, 0, ErrEntryNotFound},
	}
	for _, tc := range tests {
		v := New(make([]int32, 32))
		if v.Run(image, tc.entry, make([]int32, tc.params), make([]int32, tc.returns)) {
			t.Errorf("%s: run succeeded", tc.entry)
			continue
		}
		if !strings.Contains(v.Diagnostics().String(), tc.want.Error()) {
			t.Errorf("%s: diagnostics = %s, want %v", tc.entry, v.Diagnostics(), tc.want)
		}
	}
}

func TestMemoryLayout(t *testing.T) {
	image := assemble(&bytecode.Program{
		Code:    []bytecode.Instruction{bytecode.Label("F"), ret(0, 0, 0)},
		Exports: []bytecode.LinkEntry{function("F", 0, 0), {Name: "g", Address: 1, Attrs: []bytecode.Attribute{{Name: bytecode.VarAttr, Params: []string{"2"}}}}},
		Globals: 3,
	})

	mem := make([]int32, 16)
	for i := range mem {
		mem[i] = 7
	}
	v := New(mem)
	if !v.Run(image, "F", nil, nil) {
		t.Fatalf("run failed:\n%s", v.Diagnostics())
	}
	if g, ok := v.Global("g"); !ok || len(g) != 2 || g[0] != 0 || g[1] != 0 {
		t.Errorf("g = %v, %v; want two zeroed slots", g, ok)
	}
	if _, ok := v.Global("F"); ok {
		t.Error("function F reported as a global")
	}

	v = New(make([]int32, 16), WithStackBase(2))
	if v.Run(image, "F", nil, nil) {
		t.Error("stack base inside the globals accepted")
	}
	v = New(make([]int32, 2))
	if v.Run(image, "F", nil, nil) || !strings.Contains(v.Diagnostics().String(), ErrMemory.Error()) {
		t.Errorf("globals larger than memory: %s", v.Diagnostics())
	}
}

func TestInitPhase(t *testing.T) {
	global := func(o bytecode.Opcode, off int32) bytecode.Instruction {
		return bytecode.NewInstr(o, bytecode.WidthInt, bytecode.ModeGlobal, off)
	}
	image := assemble(&bytecode.Program{
		Code: []bytecode.Instruction{
			push(40), global(bytecode.OpStore, 0),
			bytecode.Label("init"),
			bytecode.Label("F"), global(bytecode.OpLoad, 0), push(2), op(bytecode.OpAdd, bytecode.WidthInt), ret(1, 0, 0),
		},
		Exports: []bytecode.LinkEntry{function("F", 0, 1)},
		InitEnd: "init",
		Globals: 1,
	})
	out := make([]int32, 1)
	v := New(make([]int32, 16))
	if !v.Run(image, "F", nil, out) {
		t.Fatalf("run failed:\n%s", v.Diagnostics())
	}
	if out[0] != 42 {
		t.Errorf("F() = %d, want 42", out[0])
	}
}

func importImage(params, results uint32) []byte {
	code := []bytecode.Instruction{bytecode.Label("F")}
	if results > 0 {
		code = append(code, op(bytecode.OpReserve, bytecode.WidthNone, int32(results)))
	}
	for i := uint32(0); i < params; i++ {
		code = append(code, push(int32(10+i)))
	}
	code = append(code, bytecode.Jump(bytecode.OpCallImport, bytecode.ImportPrefix+"ext"), ret(int32(results), 0, 0))
	return assemble(&bytecode.Program{
		Code:    code,
		Imports: []bytecode.LinkEntry{{Name: "ext", Param: params, Ret: results}},
		Exports: []bytecode.LinkEntry{function("F", 0, results)},
	})
}

func TestImportCalls(t *testing.T) {
	sum := func(v *VM, index int, name string, params, returns int) bool {
		v.PushInt(v.NextInt() + v.NextInt())
		return true
	}
	out := make([]int32, 1)
	v := New(make([]int32, 32), WithImports(sum))
	if !v.Run(importImage(2, 1), "F", nil, out) {
		t.Fatalf("run failed:\n%s", v.Diagnostics())
	}
	if out[0] != 21 {
		t.Errorf("ext(10, 11) = %d, want 21", out[0])
	}

	tests := []struct {
		name    string
		handler ImportFunc
		msg     string
	}{
		{"no handler", nil, `no import handler installed for "ext"`},
		{"declined", func(*VM, int, string, int, int) bool { return false }, `import "ext" was not handled`},
		{"too many results", func(v *VM, _ int, _ string, _, _ int) bool {
			v.PushInt(1)
			v.PushInt(2)
			return true
		}, `import "ext" pushed 2 results, declared 1`},
		{"read past params", func(v *VM, _ int, _ string, _, _ int) bool {
			v.NextInt()
			v.NextInt()
			v.NextInt()
			v.PushInt(0)
			return true
		}, "read past its 2 parameters"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			var opts []Option
			if tc.handler != nil {
				opts = append(opts, WithImports(tc.handler))
			}
			v := New(make([]int32, 32), opts...)
			if v.Run(importImage(2, 1), "F", nil, make([]int32, 1)) {
				t.Fatal("run succeeded")
			}
			if !strings.Contains(v.Diagnostics().String(), tc.msg) {
				t.Errorf("diagnostics = %s, want %q", v.Diagnostics(), tc.msg)
			}
		})
	}
}

func TestConsoleImports(t *testing.T) {
	var buf bytes.Buffer
	image := assemble(&bytecode.Program{
		Code: []bytecode.Instruction{
			bytecode.Label("F"),
			push(42), bytecode.Jump(bytecode.OpCallImport, bytecode.ImportPrefix+"print"),
			push('!'), bytecode.Jump(bytecode.OpCallImport, bytecode.ImportPrefix+"printc"),
			bytecode.Jump(bytecode.OpCallImport, bytecode.ImportPrefix+"println"),
			ret(0, 0, 0),
		},
		Imports: []bytecode.LinkEntry{
			{Name: "print", Param: 1},
			{Name: "printc", Param: 1},
			{Name: "println"},
		},
		Exports: []bytecode.LinkEntry{function("F", 0, 0)},
	})
	v := New(make([]int32, 32), WithImports(Console(&buf).Handle))
	if !v.Run(image, "F", nil, nil) {
		t.Fatalf("run failed:\n%s", v.Diagnostics())
	}
	if got := buf.String(); got != "42!\n" {
		t.Errorf("output = %q, want %q", got, "42!\n")
	}
}

func TestRunPackageFunction(t *testing.T) {
	out := make([]int32, 1)
	if !Run(single(0, 1, push(5), ret(1, 0, 0)), "F", nil, out, make([]int32, 8)) {
		t.Fatal("run failed")
	}
	if out[0] != 5 {
		t.Errorf("F() = %d, want 5", out[0])
	}
}
