// Package vm runs Tern bytecode images on a flat memory of int32 slots.
//
// Memory holds the globals at its start followed by the stack. A run
// executes the image's global initialisers, then calls one exported
// function found by attribute name and copies its results back to the
// caller. All faults are reported through a diagnostic sink and halt the
// machine with its error flag set; the memory array is never accessed out
// of bounds.
package vm

import (
	"errors"
	"fmt"

	"github.com/tliron/commonlog"

	"github.com/chazu/tern/pkg/bytecode"
	"github.com/chazu/tern/pkg/diag"
)

var log = commonlog.GetLogger("tern.vm")

// exitAddress is the return address that ends a run.
const exitAddress = -1

// noFrame is the base pointer outside any call frame.
const noFrame = -1

var (
	// ErrEntryNotFound means no export carries the requested attribute.
	ErrEntryNotFound = errors.New("entry point not found")
	// ErrSignature means the caller's buffers do not match the entry point.
	ErrSignature = errors.New("entry point signature mismatch")
	// ErrMemory means the memory array cannot hold the globals.
	ErrMemory = errors.New("memory too small")
)

type options struct {
	stackBase int
	imports   ImportFunc
	maxSteps  int
	trace     bool
}

// Option configures a VM.
type Option func(*options)

// WithStackBase places the stack at the given slot. It defaults to the
// image's global slot count and may not be lower.
func WithStackBase(n int) Option { return func(o *options) { o.stackBase = n } }

// WithImports installs the handler for imported functions.
func WithImports(f ImportFunc) Option { return func(o *options) { o.imports = f } }

// WithMaxSteps stops a run after n instructions. Zero means no limit.
func WithMaxSteps(n int) Option { return func(o *options) { o.maxSteps = n } }

// WithTrace logs every executed instruction at debug level.
func WithTrace(on bool) Option { return func(o *options) { o.trace = on } }

// VM is one machine bound to a memory array. It is not safe for
// concurrent use.
type VM struct {
	opts  options
	mem   []int32
	img   *bytecode.Image
	diags *diag.Sink

	pc        int
	sp        int
	bp        int
	stackBase int
	globals   int
	failed    bool
	halted    bool
	steps     int

	// instr is the offset of the executing instruction, for diagnostics.
	instr int

	// Import call state, valid while the handler runs.
	call *importCall
}

// New returns a machine using memory as its whole address space.
func New(memory []int32, opts ...Option) *VM {
	v := &VM{mem: memory, diags: diag.NewSink(), bp: noFrame, stackBase: -1}
	v.opts.stackBase = -1
	for _, opt := range opts {
		opt(&v.opts)
	}
	return v
}

// Run decodes an encoded image and runs the export carrying the entry
// attribute. It reports success; failures are described by the
// diagnostics of a machine created with New.
func Run(image []byte, entry string, params, returns, memory []int32, opts ...Option) bool {
	return New(memory, opts...).Run(image, entry, params, returns)
}

// Diagnostics returns the messages reported by the last run.
func (v *VM) Diagnostics() *diag.Sink { return v.diags }

// Failed reports whether the error flag is set.
func (v *VM) Failed() bool { return v.failed }

// Steps returns the number of instructions the last run executed.
func (v *VM) Steps() int { return v.steps }

// Memory returns the memory array.
func (v *VM) Memory() []int32 { return v.mem }

// Run decodes image and runs it. A malformed container is rejected before
// any code executes.
func (v *VM) Run(image []byte, entry string, params, returns []int32) bool {
	v.reset()
	img, err := bytecode.Decode(image)
	if err != nil {
		v.diags.Errorf(diag.Pos{}, "invalid image: %v", err)
		v.failed = true
		return false
	}
	return v.RunImage(img, entry, params, returns)
}

// RunImage runs an already decoded image: the global initialisers, then
// the entry point. On success the entry point's results are in returns.
// After a failure the contents of returns must not be trusted.
func (v *VM) RunImage(img *bytecode.Image, entry string, params, returns []int32) bool {
	v.reset()
	v.img = img
	if err := v.prepare(); err != nil {
		v.diags.Errorf(diag.Pos{}, "%v", err)
		v.failed = true
		return false
	}

	if img.HasInit {
		log.Debugf("running global initialisers up to offset %d", img.InitEnd)
		v.execute(img.InitEnd)
		if v.failed {
			return false
		}
	}

	exp, err := v.entryPoint(entry, len(params), len(returns))
	if err != nil {
		v.diags.Errorf(diag.Pos{}, "%v", err)
		v.failed = true
		return false
	}
	log.Debugf("calling %s at offset %d", exp.Name, exp.Address)

	for range returns {
		v.push(0)
	}
	for _, p := range params {
		v.push(p)
	}
	v.push(exitAddress)
	v.push(noFrame)
	v.bp = v.sp
	v.pc = int(exp.Address)
	v.execute(-1)
	if v.failed {
		return false
	}

	base := v.sp - len(returns)
	for i := range returns {
		returns[i] = v.read(base + i)
	}
	log.Debugf("%s returned after %d steps", exp.Name, v.steps)
	return !v.failed
}

func (v *VM) reset() {
	v.diags = diag.NewSink()
	v.pc, v.bp, v.steps = 0, noFrame, 0
	v.failed, v.halted = false, false
	v.call = nil
}

// prepare checks that memory can hold the image's globals and places the
// stack after them.
func (v *VM) prepare() error {
	v.globals = v.img.Globals
	if v.globals > len(v.mem) {
		return fmt.Errorf("%w: %d global slots, %d memory slots", ErrMemory, v.globals, len(v.mem))
	}
	clear(v.mem[:v.globals])
	v.stackBase = v.globals
	if v.opts.stackBase >= 0 {
		if v.opts.stackBase < v.globals || v.opts.stackBase > len(v.mem) {
			return fmt.Errorf("%w: stack base %d outside [%d, %d]", ErrMemory, v.opts.stackBase, v.globals, len(v.mem))
		}
		v.stackBase = v.opts.stackBase
	}
	v.sp = v.stackBase
	return nil
}

// entryPoint finds the export carrying the attribute and checks that the
// caller's buffers match its signature exactly.
func (v *VM) entryPoint(attr string, params, returns int) (*bytecode.LinkEntry, error) {
	exp, ok := v.img.Link.FindExport(attr)
	if !ok || exp.IsVar() {
		return nil, fmt.Errorf("%w: no exported function with attribute %q", ErrEntryNotFound, attr)
	}
	if int(exp.Param) != params || int(exp.Ret) != returns {
		return nil, fmt.Errorf("%w: %s takes %d parameter slots and returns %d, called with %d and %d",
			ErrSignature, exp.Name, exp.Param, exp.Ret, params, returns)
	}
	return exp, nil
}

// Global returns the slots of an exported global variable.
func (v *VM) Global(name string) ([]int32, bool) {
	if v.img == nil {
		return nil, false
	}
	for i := range v.img.Link.Exports {
		exp := &v.img.Link.Exports[i]
		if exp.Name != name || !exp.IsVar() {
			continue
		}
		start, n := int(exp.Address), exp.VarSlots()
		if start < 0 || start+n > len(v.mem) {
			return nil, false
		}
		return append([]int32(nil), v.mem[start:start+n]...), true
	}
	return nil, false
}

// faultf sets the error flag and reports a runtime error at the executing
// instruction. Only the first fault is reported.
func (v *VM) faultf(format string, args ...interface{}) {
	if v.failed {
		return
	}
	v.failed = true
	var pos diag.Pos
	if v.img != nil {
		pos = v.img.Debug.PosAt(v.instr)
	}
	msg := fmt.Sprintf(format, args...)
	v.diags.Errorf(pos, "runtime error at code offset %d: %s", v.instr, msg)
	log.Debugf("fault at %d: %s", v.instr, msg)
}
