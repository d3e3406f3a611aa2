package vm

// ---------------------------------------------------------------------------
// Bounds-checked memory access
// ---------------------------------------------------------------------------

// Every access to the memory array goes through these helpers. An invalid
// access sets the error flag and reports it; once the flag is set they do
// nothing and read as zero, so a faulted machine drains to a halt without
// touching memory.

func (v *VM) read(addr int) int32 {
	if v.failed {
		return 0
	}
	if addr < 0 || addr >= len(v.mem) {
		v.faultf("memory read out of bounds at address %d (memory size %d)", addr, len(v.mem))
		return 0
	}
	return v.mem[addr]
}

func (v *VM) write(addr int, val int32) {
	if v.failed {
		return
	}
	if addr < 0 || addr >= len(v.mem) {
		v.faultf("memory write out of bounds at address %d (memory size %d)", addr, len(v.mem))
		return
	}
	v.mem[addr] = val
}

func (v *VM) push(val int32) {
	if v.failed {
		return
	}
	if v.sp >= len(v.mem) {
		v.faultf("stack overflow (memory size %d)", len(v.mem))
		return
	}
	v.mem[v.sp] = val
	v.sp++
}

func (v *VM) pop() int32 {
	if v.failed {
		return 0
	}
	if v.sp <= v.stackBase {
		v.faultf("stack underflow")
		return 0
	}
	v.sp--
	return v.mem[v.sp]
}

// popN discards n values.
func (v *VM) popN(n int) {
	if v.failed {
		return
	}
	if n < 0 || v.sp-n < v.stackBase {
		v.faultf("stack underflow popping %d values", n)
		return
	}
	v.sp -= n
}

func (v *VM) peek() int32 {
	if v.failed {
		return 0
	}
	if v.sp <= v.stackBase {
		v.faultf("stack underflow")
		return 0
	}
	return v.mem[v.sp-1]
}

// global resolves a global slot, which must lie below the stack.
func (v *VM) global(off int) int {
	if off < 0 || off >= v.globals {
		v.faultf("global slot %d outside the %d global slots", off, v.globals)
		return -1
	}
	return off
}

// local resolves a frame-relative slot.
func (v *VM) local(off int) int {
	if v.bp < 0 {
		v.faultf("local slot %d accessed outside a call frame", off)
		return -1
	}
	return v.bp + off
}

// slot resolves an operand in the given addressing mode to an absolute
// address.
func (v *VM) slot(global bool, off int32) int {
	if global {
		return v.global(int(off))
	}
	return v.local(int(off))
}
