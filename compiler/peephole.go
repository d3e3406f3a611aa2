package compiler

import "github.com/chazu/tern/pkg/bytecode"

// Peephole removes jumps to the label that immediately follows them and
// pushes whose value is popped right away. Labels are kept, so branch
// targets stay valid.
func Peephole(code []bytecode.Instruction) []bytecode.Instruction {
	out := make([]bytecode.Instruction, 0, len(code))
	for i := 0; i < len(code); i++ {
		in := code[i]
		switch {
		case in.Op == bytecode.OpJump && jumpsToNext(code, i):
			continue
		case in.Op == bytecode.OpPush && i+1 < len(code) && isPopOne(code[i+1]):
			i++
			continue
		}
		out = append(out, in)
	}
	return out
}

func jumpsToNext(code []bytecode.Instruction, i int) bool {
	for j := i + 1; j < len(code) && code[j].IsLabel(); j++ {
		if code[j].Target == code[i].Target {
			return true
		}
	}
	return false
}

func isPopOne(in bytecode.Instruction) bool {
	return in.Op == bytecode.OpPop && len(in.Args) == 1 && in.Args[0] == 1
}
