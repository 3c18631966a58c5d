// Package vm is the dvm interpreter: the register stack and frame layout,
// the dispatch loop, the method invocation protocol and the exception unwind
// engine.
//
// A Runtime owns the process-wide state: the resolver that links classes,
// the native bridge, the instrumentation (observer, profiler and debugger)
// and the registry of attached threads. Each Thread has its own interpreter
// stack and is driven by one goroutine at a time through Interpret.
//
// Language exceptions never leave the interpreter as Go panics. They are
// objects stored as the thread's pending exception and delivered by walking
// each method's handler table. An exception that escapes Interpret is
// reported as an *ExceptionError.
package vm

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/gofrs/uuid"
	"github.com/rs/zerolog"

	"github.com/deepnoodle-ai/dvm/errz"
	"github.com/deepnoodle-ai/dvm/object"
)

// Resolver links symbolic references for the interpreter. Every method must
// be idempotent and cache by constant pool slot. Failures that the program
// can observe are *object.ThrowError values.
type Resolver interface {
	ResolveClass(pool *object.Pool, idx uint32) (*object.Class, error)
	ResolveMethod(pool *object.Pool, idx uint32, kind object.MethodKind) (*object.Method, error)
	ResolveField(pool *object.Pool, idx uint32, static bool) (*object.Field, error)
	ResolveString(pool *object.Pool, idx uint32) (*object.Object, error)
	Lookup(desc string) (*object.Class, error)
	NewString(s string) (*object.Object, error)
	Heap() *object.Heap
}

// Dispatch selects how the interpreter loop transfers control to opcode
// handlers. Both strategies run the same handlers.
type Dispatch uint8

const (
	// DispatchTable indexes a table of handlers by opcode.
	DispatchTable Dispatch = iota
	// DispatchSwitch runs a switch statement over opcode ranges.
	DispatchSwitch
)

func (d Dispatch) String() string {
	if d == DispatchSwitch {
		return "switch"
	}
	return "table"
}

// ParseDispatch parses "table" or "switch".
func ParseDispatch(s string) (Dispatch, error) {
	switch s {
	case "", "table":
		return DispatchTable, nil
	case "switch":
		return DispatchSwitch, nil
	}
	return 0, fmt.Errorf("unknown dispatch strategy %q", s)
}

// ErrHalted is returned by Interpret when an observer stopped execution.
var ErrHalted = errors.New("execution halted by observer")

// Field names of java.lang.Throwable used by the interpreter.
const (
	fieldDetailMessage = "detailMessage"
	fieldCause         = "cause"
)

// Runtime is the state shared by every interpreter thread.
type Runtime struct {
	resolver Resolver
	sysHeap  *object.Heap // exceptions and other engine allocations
	heap     *object.Heap // program allocations

	log          zerolog.Logger
	stackSize    int
	stackReserve int
	dispatch     Dispatch
	shadowTags   bool
	bridge       NativeBridge
	natives      *Natives
	abortHandler func(*errz.FatalError)
	uncaughtFn   func(*Thread, *ExceptionError)
	debugger     *Debugger
	profiler     *Profiler
	icache       ifaceCache

	// instr is the current instrumentation; its replacement is announced to
	// every thread through the pending word.
	instr atomic.Pointer[instrumentation]
	bails atomic.Uint64

	mu      sync.Mutex
	cond    *sync.Cond
	threads map[uuid.UUID]*Thread
}

// New returns a runtime that links classes through resolver.
func New(resolver Resolver, opts ...Option) *Runtime {
	rt := &Runtime{
		resolver:     resolver,
		sysHeap:      resolver.Heap(),
		heap:         resolver.Heap(),
		log:          zerolog.Nop(),
		stackSize:    DefaultStackSize,
		stackReserve: DefaultStackReserve,
		natives:      NewNatives(),
		threads:      map[uuid.UUID]*Thread{},
		icache:       ifaceCache{entries: map[ifaceKey]*object.Method{}},
	}
	rt.cond = sync.NewCond(&rt.mu)
	rt.bridge = rt.natives
	rt.instr.Store(&instrumentation{})
	rt.debugger = &Debugger{rt: rt, breakpoints: map[breakpointKey]bool{}}
	rt.abortHandler = rt.defaultAbort
	rt.uncaughtFn = rt.defaultUncaught
	for _, opt := range opts {
		opt(rt)
	}
	return rt
}

// Resolver returns the runtime's resolver.
func (rt *Runtime) Resolver() Resolver { return rt.resolver }

// Heap returns the heap that program allocations come from.
func (rt *Runtime) Heap() *object.Heap { return rt.heap }

// Natives returns the built-in native method registry. It is consulted only
// when no other bridge was installed with WithNativeBridge.
func (rt *Runtime) Natives() *Natives { return rt.natives }

// Debugger returns the runtime's debugger. It is inactive until attached.
func (rt *Runtime) Debugger() *Debugger { return rt.debugger }

// Logger returns the runtime's logger.
func (rt *Runtime) Logger() zerolog.Logger { return rt.log }

// Dispatch returns the dispatch strategy of the runtime.
func (rt *Runtime) Dispatch() Dispatch { return rt.dispatch }

// NewThread attaches a new thread to the runtime.
func (rt *Runtime) NewThread(name string) *Thread {
	t := &Thread{
		ID:   uuid.Must(uuid.NewV4()),
		Name: name,
		rt:   rt,
		st:   newStack(rt.stackSize, rt.stackReserve, rt.shadowTags),
	}
	t.log = rt.log.With().Str("thread", t.ID.String()).Str("name", name).Logger()
	rt.mu.Lock()
	rt.threads[t.ID] = t
	rt.mu.Unlock()
	t.log.Debug().Int("stack_words", rt.stackSize).Msg("thread attached")
	return t
}

// Detach removes a thread from the runtime. The thread must be idle.
func (rt *Runtime) Detach(t *Thread) {
	rt.mu.Lock()
	delete(rt.threads, t.ID)
	rt.cond.Broadcast()
	rt.mu.Unlock()
	t.log.Debug().Msg("thread detached")
}

// Threads returns the attached threads ordered by name, then ID.
func (rt *Runtime) Threads() []*Thread {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	out := make([]*Thread, 0, len(rt.threads))
	for _, t := range rt.threads {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Name != out[j].Name {
			return out[i].Name < out[j].Name
		}
		return out[i].ID.String() < out[j].ID.String()
	})
	return out
}

// SuspendAll asks every thread except self to stop at its next checkpoint
// and waits until none of them is running bytecode. self may be nil.
func (rt *Runtime) SuspendAll(self *Thread) {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	rt.log.Debug().Int("threads", len(rt.threads)).Msg("suspend all")
	for _, t := range rt.threads {
		if t == self {
			continue
		}
		t.suspendCount++
		t.pending.Or(pendSuspend)
	}
	for {
		running := 0
		for _, t := range rt.threads {
			if t != self && t.Status() == StatusRunning {
				running++
			}
		}
		if running == 0 {
			break
		}
		rt.cond.Wait()
	}
	rt.log.Debug().Msg("all threads suspended")
}

// ResumeAll undoes one SuspendAll.
func (rt *Runtime) ResumeAll(self *Thread) {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	for _, t := range rt.threads {
		if t != self {
			t.resumeLocked()
		}
	}
	rt.cond.Broadcast()
	rt.log.Debug().Msg("resume all")
}

// Bails returns how many times an interpreter stopped to switch variants.
func (rt *Runtime) Bails() uint64 { return rt.bails.Load() }

// instrumented reports whether threads should run the instrumented variant.
func (rt *Runtime) instrumented() bool { return rt.instr.Load().active() }

// updateInstrumentation installs a modified copy of the instrumentation and
// flags every thread so it re-evaluates its interpreter variant at its next
// checkpoint.
func (rt *Runtime) updateInstrumentation(fn func(*instrumentation)) {
	rt.mu.Lock()
	next := *rt.instr.Load()
	fn(&next)
	rt.instr.Store(&next)
	for _, t := range rt.threads {
		t.pending.Or(pendInstrumentation)
	}
	rt.mu.Unlock()
	rt.log.Debug().Bool("active", next.active()).Msg("instrumentation changed")
}

// SetObserver installs or, with nil, removes the execution observer.
func (rt *Runtime) SetObserver(o Observer) {
	rt.updateInstrumentation(func(in *instrumentation) {
		in.observer = o
		if o != nil {
			in.observerCfg = NormalizeConfig(o.Config())
		}
	})
}

// SetProfiling starts or stops collecting a profile.
func (rt *Runtime) SetProfiling(on bool) {
	if rt.profiler == nil {
		rt.profiler = NewProfiler()
	}
	rt.updateInstrumentation(func(in *instrumentation) {
		if on {
			in.profiler = rt.profiler
		} else {
			in.profiler = nil
		}
	})
}

// SetCheckInterval makes the instrumented interpreter take a checkpoint
// every n instructions. Zero disables it.
func (rt *Runtime) SetCheckInterval(n int) {
	rt.updateInstrumentation(func(in *instrumentation) {
		in.interval = n
	})
}

// Profile returns a snapshot of the profiler's counters.
func (rt *Runtime) Profile() Profile {
	var p Profile
	if rt.profiler != nil {
		p = rt.profiler.Snapshot()
	} else {
		p = Profile{Opcodes: map[string]uint64{}, Methods: map[string]uint64{}}
	}
	p.InterfaceCacheHits, p.InterfaceCacheMisses = rt.icache.stats()
	return p
}

// fatal reports an engine-fatal condition to the abort handler.
func (rt *Runtime) fatal(t *Thread, err *errz.FatalError) {
	t.log.Error().Err(err).Str("kind", err.Kind.String()).Msg("fatal interpreter error")
	rt.abortHandler(err)
}

func (rt *Runtime) defaultAbort(err *errz.FatalError) {
	fmt.Fprintln(os.Stderr, err.FriendlyErrorMessage())
	os.Exit(2)
}

func (rt *Runtime) uncaught(t *Thread, err *ExceptionError) {
	rt.uncaughtFn(t, err)
}

func (rt *Runtime) defaultUncaught(t *Thread, err *ExceptionError) {
	t.log.Warn().
		Str("exception", object.ClassName(err.Class)).
		Str("message", err.Message).
		Msg("uncaught exception")
}
