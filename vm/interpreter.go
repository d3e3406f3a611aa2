package vm

import (
	"github.com/chazu/tern/pkg/bytecode"
)

// ---------------------------------------------------------------------------
// Interpreter: fetch, decode, execute
// ---------------------------------------------------------------------------

// execute runs instructions until the machine halts, faults or the program
// counter reaches stop. A negative stop never matches.
func (v *VM) execute(stop int) {
	for !v.failed && !v.halted && v.pc != stop {
		v.instr = v.pc
		if v.opts.maxSteps > 0 && v.steps >= v.opts.maxSteps {
			v.faultf("step budget of %d instructions exhausted", v.opts.maxSteps)
			return
		}
		d, err := bytecode.DecodeAt(v.img.Code, v.pc)
		if err != nil {
			v.faultf("%v", err)
			return
		}
		if v.opts.trace {
			log.Debugf("%6d  %-32s sp=%d bp=%d", v.pc, bytecode.FormatDecoded(d, v.img), v.sp, v.bp)
		}
		v.pc += d.Size
		v.steps++
		v.step(&d)
	}
}

// step executes one decoded instruction.
func (v *VM) step(d *bytecode.Decoded) {
	enc := d.Enc
	global := enc.Mode == bytecode.ModeGlobal

	switch enc.Op {
	case bytecode.OpNop:

	// --- Stack ---
	case bytecode.OpPush:
		v.push(d.Args[0])
	case bytecode.OpPop:
		v.popN(int(d.Args[0]))
	case bytecode.OpDup:
		v.push(v.peek())
	case bytecode.OpSwap:
		b := v.pop()
		a := v.pop()
		v.push(b)
		v.push(a)
	case bytecode.OpReserve:
		for i := int32(0); i < d.Args[0] && !v.failed; i++ {
			v.push(0)
		}

	// --- Memory ---
	case bytecode.OpLoad:
		v.push(v.read(v.slot(global, d.Args[0])))
	case bytecode.OpStore:
		val := v.pop()
		v.write(v.slot(global, d.Args[0]), val)
	case bytecode.OpAddr:
		addr := v.slot(global, d.Args[0])
		v.push(int32(addr))
	case bytecode.OpLoadInd:
		addr := v.pop()
		v.push(v.read(int(addr)))
	case bytecode.OpStoreInd:
		addr := v.pop()
		val := v.pop()
		v.write(int(addr), val)
	case bytecode.OpLoadBlock:
		addr := int(v.pop())
		for i := 0; i < int(d.Args[0]) && !v.failed; i++ {
			v.push(v.read(addr + i))
		}
	case bytecode.OpStoreBlock:
		addr := int(v.pop())
		for i := int(d.Args[0]) - 1; i >= 0 && !v.failed; i-- {
			v.write(addr+i, v.pop())
		}
	case bytecode.OpCopyBlock:
		src := int(v.pop())
		dst := int(v.pop())
		v.copyBlock(dst, src, int(d.Args[0]))

	// --- Arithmetic, bitwise and comparison ---
	case bytecode.OpAdd, bytecode.OpSub, bytecode.OpMul, bytecode.OpDiv, bytecode.OpMod,
		bytecode.OpAnd, bytecode.OpOr, bytecode.OpXor,
		bytecode.OpShl, bytecode.OpShr, bytecode.OpRol, bytecode.OpRor,
		bytecode.OpEq, bytecode.OpNe, bytecode.OpLt, bytecode.OpLe, bytecode.OpGt, bytecode.OpGe:
		b := v.pop()
		a := v.pop()
		if v.failed {
			return
		}
		r, err := bytecode.Binary(enc.Op, enc.Width, a, b)
		if err != nil {
			v.faultf("%v", err)
			return
		}
		v.push(r)
	case bytecode.OpNeg, bytecode.OpNot, bytecode.OpLNot,
		bytecode.OpI2F, bytecode.OpF2I, bytecode.OpI2B, bytecode.OpToBool:
		a := v.pop()
		r, err := bytecode.Unary(enc.Op, enc.Width, a)
		if err != nil {
			v.faultf("%v", err)
			return
		}
		v.push(r)

	// --- Control flow ---
	case bytecode.OpJump:
		v.pc = int(d.Args[0])
	case bytecode.OpJumpFalse:
		if v.pop() == 0 {
			v.pc = int(d.Args[0])
		}
	case bytecode.OpJumpTrue:
		if v.pop() != 0 {
			v.pc = int(d.Args[0])
		}
	case bytecode.OpCall:
		v.push(int32(v.pc))
		v.push(int32(v.bp))
		v.bp = v.sp
		v.pc = int(d.Args[0])
	case bytecode.OpCallImport:
		v.callImport(int(d.Args[0]))
	case bytecode.OpRet:
		v.ret(int(d.Args[0]), int(d.Args[1]), int(d.Args[2]))

	// --- Arrays and loops ---
	case bytecode.OpArray:
		v.element(int(d.Args[0]), int(d.Args[1]))
	case bytecode.OpForStart:
		v.forStart(v.local(int(d.Args[0])), int(d.Args[1]))
	case bytecode.OpForLoop:
		v.forLoop(v.local(int(d.Args[0])), int(d.Args[1]))

	default:
		v.faultf("unexpected instruction %s", enc.Name())
	}
}

func (v *VM) copyBlock(dst, src, n int) {
	if v.failed {
		return
	}
	if n < 0 || src < 0 || dst < 0 || src+n > len(v.mem) || dst+n > len(v.mem) {
		v.faultf("block copy of %d slots from %d to %d out of bounds", n, src, dst)
		return
	}
	copy(v.mem[dst:dst+n], v.mem[src:src+n])
}

// ret copies the top r values over the slots the caller reserved below
// the p parameter slots, drops the frame and returns to the caller.
func (v *VM) ret(r, p, locals int) {
	if v.failed {
		return
	}
	if v.bp == noFrame {
		v.faultf("return outside a call frame")
		return
	}
	if v.sp-r < v.bp+locals {
		v.faultf("stack mismatch on return: %d slots above the frame, want at least %d", v.sp-v.bp, locals+r)
		return
	}
	dst := v.bp - 2 - p - r
	if dst < v.stackBase {
		v.faultf("return slots below the stack base")
		return
	}
	src := v.sp - r
	for i := 0; i < r; i++ {
		v.write(dst+i, v.read(src+i))
	}
	retAddr := v.read(v.bp - 2)
	oldBP := v.read(v.bp - 1)
	v.sp = v.bp - 2 - p
	v.bp = int(oldBP)
	if retAddr == exitAddress {
		v.halted = true
		return
	}
	v.pc = int(retAddr)
}

// element pops k indices and the address of an n-dimensional array's
// data and pushes the address of the selected element. The (stride,
// count) header of level j sits at data-2n+2j.
func (v *VM) element(n, k int) {
	if v.failed {
		return
	}
	if k < 1 || k > n {
		v.faultf("array access with %d indices into %d dimensions", k, n)
		return
	}
	if v.sp-k-1 < v.stackBase {
		v.faultf("stack underflow")
		return
	}
	first := v.sp - k
	base := int(v.mem[first-1])
	addr := base
	for j := 0; j < k; j++ {
		idx := v.mem[first+j]
		stride := v.read(base - 2*n + 2*j)
		count := v.read(base - 2*n + 2*j + 1)
		if v.failed {
			return
		}
		if idx < 0 || idx >= count {
			v.faultf("array index %d out of range [0, %d)", idx, count)
			return
		}
		addr += int(idx) * int(stride)
	}
	v.sp = first - 1
	v.push(int32(addr))
}

// forStart pops step, end and start. A zero step counts towards end. An
// empty range jumps to exit; otherwise the index and step go to the loop
// slots and end stays on the stack for the duration of the loop.
func (v *VM) forStart(at, exit int) {
	step := v.pop()
	end := v.pop()
	start := v.pop()
	if v.failed {
		return
	}
	if step == 0 {
		step = 1
		if start > end {
			step = -1
		}
	}
	if (step > 0 && start >= end) || (step < 0 && start <= end) {
		v.pc = exit
		return
	}
	v.write(at, start)
	v.write(at+1, step)
	v.push(end)
}

// forLoop advances the index and branches back to body while it stays
// before end; on exit it drops end.
func (v *VM) forLoop(at, body int) {
	end := int64(v.peek())
	idx := int64(v.read(at))
	step := int64(v.read(at + 1))
	if v.failed {
		return
	}
	next := idx + step
	if (step > 0 && next < end) || (step < 0 && next > end) {
		v.write(at, int32(next))
		v.pc = body
		return
	}
	v.pop()
}
