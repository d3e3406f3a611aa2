// Package bytecode defines the Tern instruction set and the binary image
// container that carries compiled programs to the virtual machine.
//
// # Instruction set
//
// Instructions are typed: every Opcode is paired with an operand Width
// (none, byte, i32, f32) and an addressing Mode (none, const, global,
// local). The (opcode, width, mode) triple is mapped through one fixed,
// ordered table to a single encoded byte, so adding a new combination only
// means appending a table row. Decoding reverses the same table.
//
// Integer operands are packed: values in [-127, 127] take one biased byte
// (value+127); anything else is the sentinel byte 255 followed by the full
// 4-byte big-endian value.
//
// # Container
//
// An image is an IFF-style tree of chunks. The top-level FORM chunk holds the
// format identifier "TERN", a major and a minor version byte, and a sequence
// of sibling chunks, each a 4-byte ASCII tag, a 4-byte big-endian length and
// a body padded to even length:
//
//	code  encoded instruction stream (required)
//	link  import and export table (required)
//	init  u32 offset where global-initializer code stops (optional)
//	glob  u32 number of global memory slots (optional)
//	dbug  CBOR line table and symbol map (optional)
//
// Readers skip chunk tags they do not know, which keeps the format
// forward-extensible.
//
// # Fixups
//
// Labels and import references are recorded while instructions are encoded
// and patched in a second pass. Branches store an offset relative to the
// fixup site, calls to local functions store a code-relative (absolute)
// displacement and calls to imports store an index into the import table.
// An unresolved reference is an internal error, never a silent zero.
package bytecode
