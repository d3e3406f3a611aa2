package vm

import (
	"fmt"
	"io"
	"math"
)

// ImportFunc handles a call to an imported function. It reads the
// parameters in order with NextInt or NextFloat, pushes exactly returns
// results with PushInt or PushFloat and reports whether it recognised the
// name. Declining a call is a runtime error.
type ImportFunc func(v *VM, index int, name string, params, returns int) bool

type importCall struct {
	name   string
	args   int // first parameter slot
	params int
	next   int
	top    int // stack pointer when the handler was entered
}

// callImport runs the handler for import index. The caller reserved the
// result slots below the parameters; the pushed results are moved there
// and the parameters dropped.
func (v *VM) callImport(index int) {
	if v.failed {
		return
	}
	imports := v.img.Link.Imports
	if index < 0 || index >= len(imports) {
		v.faultf("import index %d outside the %d imports", index, len(imports))
		return
	}
	imp := &imports[index]
	p, r := int(imp.Param), int(imp.Ret)
	args := v.sp - p
	if args-r < v.stackBase {
		v.faultf("stack underflow calling import %q", imp.Name)
		return
	}
	if v.opts.imports == nil {
		v.faultf("no import handler installed for %q", imp.Name)
		return
	}

	call := &importCall{name: imp.Name, args: args, params: p, top: v.sp}
	v.call = call
	handled := v.opts.imports(v, index, imp.Name, p, r)
	v.call = nil
	if v.failed {
		return
	}
	if !handled {
		v.faultf("import %q was not handled", imp.Name)
		return
	}
	if pushed := v.sp - call.top; pushed != r {
		v.faultf("import %q pushed %d results, declared %d", imp.Name, pushed, r)
		return
	}
	for i := 0; i < r; i++ {
		v.write(args-r+i, v.read(call.top+i))
	}
	v.sp = args
}

// NextInt returns the next parameter of the import being handled.
func (v *VM) NextInt() int32 {
	c := v.call
	if c == nil {
		v.faultf("import parameter read outside an import call")
		return 0
	}
	if c.next >= c.params {
		v.faultf("import %q read past its %d parameters", c.name, c.params)
		return 0
	}
	val := v.read(c.args + c.next)
	c.next++
	return val
}

// NextFloat returns the next parameter as a float.
func (v *VM) NextFloat() float32 {
	return math.Float32frombits(uint32(v.NextInt()))
}

// PushInt pushes a result.
func (v *VM) PushInt(x int32) { v.push(x) }

// PushFloat pushes a float result.
func (v *VM) PushFloat(f float32) { v.push(int32(math.Float32bits(f))) }

// Load reads a memory slot, for handlers given the address of a compound
// parameter.
func (v *VM) Load(addr int) int32 { return v.read(addr) }

// Store writes a memory slot.
func (v *VM) Store(addr int, val int32) { v.write(addr, val) }

// Imports maps qualified import names to handlers. Its Handle method is an
// ImportFunc.
type Imports map[string]func(v *VM)

// Handle dispatches a call by name, declining unknown names.
func (m Imports) Handle(v *VM, index int, name string, params, returns int) bool {
	f, ok := m[name]
	if !ok {
		return false
	}
	f(v)
	return true
}

// Console returns the printing imports available to command line runs:
// print(i32), printf(f32), printb(bool), printc(byte) and println().
func Console(w io.Writer) Imports {
	return Imports{
		"print":  func(v *VM) { fmt.Fprint(w, v.NextInt()) },
		"printf": func(v *VM) { fmt.Fprint(w, v.NextFloat()) },
		"printb": func(v *VM) { fmt.Fprint(w, v.NextInt() != 0) },
		"printc": func(v *VM) { fmt.Fprintf(w, "%c", byte(v.NextInt())) },
		"println": func(v *VM) {
			fmt.Fprintln(w)
		},
	}
}
