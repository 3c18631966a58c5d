package bytecode

// CatchAll is the TypeIdx of a handler that catches every throwable.
const CatchAll uint16 = 0xffff

// ExceptionHandler describes one try range of a method's catch table.
//
// Entries are ordered innermost first; the interpreter takes the first entry
// whose range covers the throwing instruction and whose type matches.
type ExceptionHandler struct {
	TryStart  int    // first code unit covered by the try range
	TryEnd    int    // first code unit past the try range
	HandlerPC int    // code unit offset of the handler
	TypeIdx   uint16 // type pool index of the caught class, or CatchAll
}

// Covers reports whether the instruction at pc lies inside the try range.
func (h ExceptionHandler) Covers(pc int) bool {
	return pc >= h.TryStart && pc < h.TryEnd
}

// IsCatchAll reports whether the handler catches every throwable.
func (h ExceptionHandler) IsCatchAll() bool {
	return h.TypeIdx == CatchAll
}
