package vm

import (
	"fmt"
	"sort"
	"sync"

	"github.com/deepnoodle-ai/dvm/bytecode"
	"github.com/deepnoodle-ai/dvm/object"
)

// BreakEvent is delivered to the debugger's break handler on the
// interpreting goroutine. Execution continues when the handler returns.
type BreakEvent struct {
	Thread *Thread
	Method *object.Method
	PC     int
	Line   int
	// Step is set when the event comes from single-stepping rather than a
	// breakpoint.
	Step bool
}

type breakpointKey struct {
	method *object.Method
	pc     int
}

// Breakpoint is an instruction address of interest.
type Breakpoint struct {
	Method *object.Method
	PC     int
}

func (b Breakpoint) String() string {
	return fmt.Sprintf("%s@%d", b.Method, b.PC)
}

// Debugger holds the breakpoint table consulted by the instrumented
// interpreter. Any change to it switches running threads to the
// instrumented interpreter.
type Debugger struct {
	rt *Runtime

	mu          sync.RWMutex
	breakpoints map[breakpointKey]bool
	stepping    bool
	onBreak     func(BreakEvent)
}

// SetBreakpoint adds a breakpoint at the instruction starting at pc.
func (d *Debugger) SetBreakpoint(m *object.Method, pc int) error {
	if m.IsNative() || m.IsAbstract() {
		return fmt.Errorf("%s has no code", m)
	}
	if !isInstructionStart(m.Insns, pc) {
		return fmt.Errorf("%s: no instruction starts at %d", m, pc)
	}
	d.mu.Lock()
	d.breakpoints[breakpointKey{m, pc}] = true
	d.mu.Unlock()
	d.changed()
	return nil
}

// ClearBreakpoint removes a breakpoint. It reports whether one was set.
func (d *Debugger) ClearBreakpoint(m *object.Method, pc int) bool {
	d.mu.Lock()
	key := breakpointKey{m, pc}
	ok := d.breakpoints[key]
	delete(d.breakpoints, key)
	d.mu.Unlock()
	if ok {
		d.changed()
	}
	return ok
}

// Breakpoints lists the breakpoints ordered by method and pc.
func (d *Debugger) Breakpoints() []Breakpoint {
	d.mu.RLock()
	out := make([]Breakpoint, 0, len(d.breakpoints))
	for k := range d.breakpoints {
		out = append(out, Breakpoint{Method: k.method, PC: k.pc})
	}
	d.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		if a, b := out[i].Method.String(), out[j].Method.String(); a != b {
			return a < b
		}
		return out[i].PC < out[j].PC
	})
	return out
}

// SetStepping turns single-step events on or off.
func (d *Debugger) SetStepping(on bool) {
	d.mu.Lock()
	d.stepping = on
	d.mu.Unlock()
	d.changed()
}

// OnBreak sets the handler called at breakpoints and single steps.
func (d *Debugger) OnBreak(fn func(BreakEvent)) {
	d.mu.Lock()
	d.onBreak = fn
	d.mu.Unlock()
}

func (d *Debugger) changed() {
	d.mu.RLock()
	active := d.stepping || len(d.breakpoints) > 0
	d.mu.RUnlock()
	d.rt.updateInstrumentation(func(in *instrumentation) {
		in.debugging = active
	})
}

// check reports a break event if the instruction at pc is a breakpoint or
// stepping is on.
func (d *Debugger) check(t *Thread, m *object.Method, pc int) {
	d.mu.RLock()
	hit := d.breakpoints[breakpointKey{m, pc}]
	step := d.stepping
	fn := d.onBreak
	d.mu.RUnlock()
	if fn == nil || (!hit && !step) {
		return
	}
	fn(BreakEvent{Thread: t, Method: m, PC: pc, Line: m.LineFor(pc), Step: !hit})
}

func isInstructionStart(insns []uint16, pc int) bool {
	it := bytecode.NewIterator(insns)
	for it.Next() {
		if it.PC() == pc {
			return true
		}
		if it.PC() > pc {
			return false
		}
	}
	return false
}
