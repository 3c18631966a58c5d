// Package bytecode provides the building blocks of dvm instruction streams.
//
// A method's code is a slice of 16-bit code units. The low byte of the first
// unit of an instruction is its opcode (see package op); the format of the
// opcode decides how registers, literals and pool indexes are packed into the
// remaining bits.
//
// # Key Types
//
//   - [ExceptionHandler]: One entry of a method's catch table (value type)
//   - [Instruction]: A fully decoded instruction, used by tools
//   - [Builder]: Emits code units with forward-referenced labels
//   - [Iterator]: Walks the instructions of a code stream, skipping payloads
//
// # Payloads
//
// packed-switch, sparse-switch and fill-array-data reference data tables
// embedded in the code stream. Payloads start on an even code unit and are
// identified by a pseudo-opcode in their first unit. They are never executed.
//
// # Package Dependencies
//
// This package depends only on [github.com/deepnoodle-ai/dvm/op] so that both
// the object model and the interpreter can use it.
package bytecode
