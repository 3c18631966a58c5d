package vm

import (
	"github.com/rs/zerolog"

	"github.com/deepnoodle-ai/dvm/errz"
	"github.com/deepnoodle-ai/dvm/object"
)

// Option is a configuration function for a Runtime.
type Option func(*Runtime)

// WithLogger sets the logger. Threads log with the thread ID and name
// attached.
func WithLogger(logger zerolog.Logger) Option {
	return func(rt *Runtime) {
		rt.log = logger
	}
}

// WithStackSize sets the size, in 32-bit words, of each thread's
// interpreter stack.
func WithStackSize(words int) Option {
	return func(rt *Runtime) {
		if words > 0 {
			rt.stackSize = words
		}
	}
}

// WithStackReserve sets how many words at the end of each stack are held
// back so a StackOverflowError can be thrown and handled.
func WithStackReserve(words int) Option {
	return func(rt *Runtime) {
		if words > 0 {
			rt.stackReserve = words
		}
	}
}

// WithDispatch selects the dispatch strategy.
func WithDispatch(d Dispatch) Option {
	return func(rt *Runtime) {
		rt.dispatch = d
	}
}

// WithShadowTags makes every register carry a tag recording the kind of its
// last write. Reading a register as the wrong kind is then a fatal
// ErrRegisterType instead of undefined behavior.
func WithShadowTags(enabled bool) Option {
	return func(rt *Runtime) {
		rt.shadowTags = enabled
	}
}

// WithObserver installs an observer for execution events.
//
// Observer methods are called synchronously during execution, so
// implementations should be fast to avoid impacting performance.
// Returning false from any observer method halts execution.
func WithObserver(o Observer) Option {
	return func(rt *Runtime) {
		in := *rt.instr.Load()
		in.observer = o
		if o != nil {
			in.observerCfg = NormalizeConfig(o.Config())
		}
		rt.instr.Store(&in)
	}
}

// WithProfiler collects instruction and method counts into p.
func WithProfiler(p *Profiler) Option {
	return func(rt *Runtime) {
		rt.profiler = p
		in := *rt.instr.Load()
		in.profiler = p
		rt.instr.Store(&in)
	}
}

// WithCheckInterval makes the instrumented interpreter take a checkpoint
// every n instructions, so suspension and stop requests are honored inside
// loops without backward branches. Zero disables it.
func WithCheckInterval(n int) Option {
	return func(rt *Runtime) {
		in := *rt.instr.Load()
		in.interval = n
		rt.instr.Store(&in)
	}
}

// WithNativeBridge replaces the built-in native registry.
func WithNativeBridge(b NativeBridge) Option {
	return func(rt *Runtime) {
		rt.bridge = b
	}
}

// WithAbortHandler sets the function called on an engine-fatal error. The
// default prints the error and exits the process. A handler that returns
// lets Interpret return the *errz.FatalError instead.
func WithAbortHandler(fn func(*errz.FatalError)) Option {
	return func(rt *Runtime) {
		rt.abortHandler = fn
	}
}

// WithUncaughtHandler sets the function Thread.Run calls when an exception
// escapes the outermost frame.
func WithUncaughtHandler(fn func(*Thread, *ExceptionError)) Option {
	return func(rt *Runtime) {
		rt.uncaughtFn = fn
	}
}

// WithHeapLimit gives program allocations a separate heap limited to the
// given number of bytes. Exceptions raised by the interpreter are still
// allocated from the resolver's heap, so OutOfMemoryError can always be
// thrown.
func WithHeapLimit(bytes int64) Option {
	return func(rt *Runtime) {
		if bytes > 0 {
			rt.heap = object.NewHeap(bytes)
		}
	}
}
