package vm

import (
	"github.com/deepnoodle-ai/dvm/errz"
	"github.com/deepnoodle-ai/dvm/object"
)

const (
	// SaveAreaWords is the number of stack words reserved directly below
	// the registers of every frame. The word at fp-1 holds the frame's depth,
	// the word at fp-2 its caller's frame pointer.
	SaveAreaWords = 4

	// DefaultStackSize is the interpreter stack size of a thread, in words.
	DefaultStackSize = 64 * 1024

	// DefaultStackReserve is the part of the stack, in words, held back for
	// throwing StackOverflowError.
	DefaultStackReserve = 256
)

// SaveArea is the bookkeeping half of a frame's save area.
type SaveArea struct {
	// PrevFrame is the frame pointer of the calling frame, or -1.
	PrevFrame int
	// SavedPC is the pc of the frame's current instruction while it is
	// calling another method.
	SavedPC int
	// Method is nil for a break frame.
	Method *object.Method
	// LocalRefTop is the size of the thread's local reference table when
	// the frame was pushed.
	LocalRefTop int
	// Break marks the boundary of a nested Interpret call. Unwinding and
	// returning stop there.
	Break bool
}

// stack is a thread's interpreter stack. It grows downward: a callee's
// registers sit below its caller's save area, and the caller's outs are the
// callee's ins. Reference values are kept in refs, beside the raw bits, so
// the collector sees them.
type stack struct {
	raw   []uint32
	refs  []*object.Object
	tags  []Kind
	saves []SaveArea

	fp      int // frame pointer of the current frame, len(raw) when empty
	depth   int
	reserve int
	floor   int
}

func newStack(words, reserve int, shadowTags bool) *stack {
	if reserve >= words {
		reserve = words / 4
	}
	s := &stack{
		raw:     make([]uint32, words),
		refs:    make([]*object.Object, words),
		fp:      words,
		reserve: reserve,
		floor:   reserve,
	}
	if shadowTags {
		s.tags = make([]Kind, words)
	}
	return s
}

// bottom returns the lowest word used by the current frame: the start of its
// save area.
func (s *stack) bottom() int {
	if s.depth == 0 {
		return len(s.raw)
	}
	return s.fp - SaveAreaWords
}

// push adds a frame for m, or a break frame when m is nil. It returns false,
// changing nothing, if the frame and its outs would run below the floor.
func (s *stack) push(m *object.Method, brk bool, localRefTop int) (int, bool) {
	regs, outs := 0, 0
	if m != nil {
		regs, outs = m.RegistersSize, m.OutsSize
	}
	fp := s.bottom() - regs
	if fp-SaveAreaWords-outs < s.floor {
		return 0, false
	}
	prev := -1
	if s.depth > 0 {
		prev = s.fp
	}
	if s.depth == len(s.saves) {
		s.saves = append(s.saves, SaveArea{})
	}
	s.saves[s.depth] = SaveArea{PrevFrame: prev, Method: m, Break: brk, LocalRefTop: localRefTop}
	s.raw[fp-1] = uint32(s.depth)
	s.raw[fp-2] = uint32(int32(prev))
	ins := 0
	if m != nil {
		ins = m.InsSize
	}
	// Locals start out zero. The ins are written by the caller.
	for i := fp; i < fp+regs-ins; i++ {
		s.raw[i] = 0
		s.refs[i] = nil
		if s.tags != nil {
			s.tags[i] = KindUnset
		}
	}
	s.fp = fp
	s.depth++
	return fp, true
}

// pop removes the current frame and returns the new current frame pointer.
func (s *stack) pop() int {
	sa := &s.saves[s.depth-1]
	regs := 0
	if sa.Method != nil {
		regs = sa.Method.RegistersSize
	}
	for i := s.fp; i < s.fp+regs; i++ {
		s.refs[i] = nil
	}
	prev := sa.PrevFrame
	*sa = SaveArea{}
	s.depth--
	if prev < 0 {
		s.fp = len(s.raw)
	} else {
		s.fp = prev
	}
	return s.fp
}

// saveArea returns the save area of the frame at fp, checking the linkage
// words stored on the stack.
func (s *stack) saveArea(fp int) (*SaveArea, error) {
	if fp < SaveAreaWords || fp > len(s.raw) {
		return nil, errz.NewFatalError(errz.ErrFrameLinkage, "", 0, "frame pointer %d outside the stack", fp)
	}
	d := int(s.raw[fp-1])
	if d >= s.depth {
		return nil, errz.NewFatalError(errz.ErrFrameLinkage, "", 0, "frame %d has depth %d of %d", fp, d, s.depth)
	}
	sa := &s.saves[d]
	if int(int32(s.raw[fp-2])) != sa.PrevFrame {
		return nil, errz.NewFatalError(errz.ErrFrameLinkage, "", 0, "frame %d links to %d, save area says %d",
			fp, int32(s.raw[fp-2]), sa.PrevFrame)
	}
	return sa, nil
}

// current returns the save area of the current frame. The stack must not be
// empty.
func (s *stack) current() *SaveArea {
	return &s.saves[s.depth-1]
}

// overflowed reports whether the reserve is in use.
func (s *stack) overflowed() bool {
	return s.floor == 0
}

// FrameInfo describes one frame of a thread's stack.
type FrameInfo struct {
	Method *object.Method
	PC     int
	Line   int
	Break  bool
}

// frames walks the stack from the current frame outward. pc is the pc of the
// current frame; outer frames report their saved pc.
func (s *stack) frames(pc int) []FrameInfo {
	out := make([]FrameInfo, 0, s.depth)
	for d := s.depth - 1; d >= 0; d-- {
		sa := &s.saves[d]
		fi := FrameInfo{Method: sa.Method, PC: sa.SavedPC, Break: sa.Break}
		if d == s.depth-1 {
			fi.PC = pc
		}
		if sa.Method != nil && !sa.Method.IsNative() {
			fi.Line = sa.Method.LineFor(fi.PC)
		}
		out = append(out, fi)
	}
	return out
}

// stackTrace converts frames into error stack frames, skipping break frames.
func stackTrace(frames []FrameInfo) []errz.StackFrame {
	var out []errz.StackFrame
	for _, f := range frames {
		if f.Break || f.Method == nil {
			continue
		}
		out = append(out, errz.StackFrame{
			Function: f.Method.String(),
			PC:       f.PC,
			Line:     f.Line,
			Native:   f.Method.IsNative(),
		})
	}
	return out
}
