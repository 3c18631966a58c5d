package vm

import (
	"github.com/deepnoodle-ai/dvm/object"
	"github.com/deepnoodle-ai/dvm/op"
)

// StepMode controls when OnStep callbacks are triggered.
type StepMode uint8

const (
	// StepAll calls OnStep for every instruction.
	// Use for: detailed tracing, instruction-level debugging.
	StepAll StepMode = iota

	// StepNone never calls OnStep.
	// Use for: observers that only need call, return and exception events.
	StepNone

	// StepSampled calls OnStep every N instructions.
	// Use for: statistical sampling.
	StepSampled

	// StepOnLine calls OnStep when the source line changes.
	// Use for: coverage tools and line-level tracing.
	StepOnLine
)

// ObserverConfig specifies what events an observer wants to receive.
// Use NewObserverConfig() to create configs with safe defaults.
type ObserverConfig struct {
	// StepMode controls OnStep callback frequency.
	StepMode StepMode

	// SampleInterval is the number of instructions between OnStep calls
	// when StepMode is StepSampled. Values <= 0 are treated as 1.
	SampleInterval int

	// ObserveCalls enables OnCall callbacks.
	ObserveCalls bool

	// ObserveReturns enables OnReturn callbacks.
	ObserveReturns bool

	// ObserveExceptions enables OnException callbacks.
	ObserveExceptions bool
}

// NewObserverConfig creates a config with safe defaults. Calls, returns and
// exceptions are observed.
func NewObserverConfig(mode StepMode) ObserverConfig {
	return ObserverConfig{
		StepMode:          mode,
		SampleInterval:    1000,
		ObserveCalls:      true,
		ObserveReturns:    true,
		ObserveExceptions: true,
	}
}

// NormalizeConfig validates and clamps config values.
func NormalizeConfig(cfg ObserverConfig) ObserverConfig {
	if cfg.StepMode == StepSampled && cfg.SampleInterval <= 0 {
		cfg.SampleInterval = 1
	}
	return cfg
}

// Observer receives interpreter events. Installing one with SetObserver or
// WithObserver makes every thread switch to the instrumented interpreter at
// its next checkpoint.
//
// Observer methods are called synchronously on the interpreting goroutine.
// Returning false from any of them halts execution: Interpret unwinds its
// frames and returns ErrHalted.
type Observer interface {
	// Config returns the observer's configuration. It is read when the
	// observer is installed.
	Config() ObserverConfig

	// OnStep is called before an instruction executes, as selected by the
	// step mode.
	OnStep(event StepEvent) bool

	// OnCall is called when a method is entered.
	OnCall(event CallEvent) bool

	// OnReturn is called when a method returns normally or by unwinding.
	OnReturn(event ReturnEvent) bool

	// OnException is called when an exception is thrown and again when a
	// handler catches it.
	OnException(event ExceptionEvent) bool
}

// StepEvent describes one instruction about to execute.
type StepEvent struct {
	Thread     *Thread
	Method     *object.Method
	PC         int
	Opcode     op.Code
	OpcodeName string
	Line       int

	// FrameDepth is the number of frames on the thread's stack.
	FrameDepth int
}

// CallEvent describes a method entry.
type CallEvent struct {
	Thread *Thread
	Method *object.Method

	// Caller is nil when the method was entered from Interpret.
	Caller     *object.Method
	CallerPC   int
	FrameDepth int
}

// ReturnEvent describes a method exit.
type ReturnEvent struct {
	Thread *Thread
	Method *object.Method
	Value  Value

	// Exceptional is set when the frame is popped by unwinding.
	Exceptional bool
	FrameDepth  int
}

// ExceptionEvent describes a thrown or caught exception.
type ExceptionEvent struct {
	Thread    *Thread
	Exception *object.Object
	Method    *object.Method
	PC        int

	// Caught is set when the event reports the handler found at PC.
	Caught bool
}

// NoOpObserver is an Observer implementation that does nothing.
// Embed it to implement only the callbacks you need.
//
// NoOpObserver uses StepAll mode with every event enabled. Override
// Config() in your observer to use a different mode.
type NoOpObserver struct{}

func (NoOpObserver) Config() ObserverConfig {
	return NewObserverConfig(StepAll)
}

func (NoOpObserver) OnStep(StepEvent) bool           { return true }
func (NoOpObserver) OnCall(CallEvent) bool           { return true }
func (NoOpObserver) OnReturn(ReturnEvent) bool       { return true }
func (NoOpObserver) OnException(ExceptionEvent) bool { return true }

// Ensure NoOpObserver implements Observer.
var _ Observer = NoOpObserver{}

// instrumentation is the set of listeners the instrumented interpreter
// reports to. A runtime replaces it as a whole.
type instrumentation struct {
	observer    Observer
	observerCfg ObserverConfig
	profiler    *Profiler
	debugging   bool
	interval    int
}

// active reports whether any listener needs the instrumented interpreter.
func (in *instrumentation) active() bool {
	return in.observer != nil || in.profiler != nil || in.debugging || in.interval > 0
}
