package main

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/deepnoodle-ai/dvm/asm"
	"github.com/deepnoodle-ai/dvm/builtins"
	"github.com/deepnoodle-ai/dvm/errz"
	"github.com/deepnoodle-ai/dvm/linker"
	"github.com/deepnoodle-ai/dvm/object"
	"github.com/deepnoodle-ai/dvm/vm"
)

type runOptions struct {
	class      string
	method     string
	descriptor string
	args       []string
	threads    int
	debug      bool
	profileOut string
	output     string
}

func (a *app) runCmd() *cobra.Command {
	var opts runOptions
	cmd := &cobra.Command{
		Use:   "run IMAGE",
		Short: "Run a static method of a program image",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.run(cmd.OutOrStdout(), args[0], opts)
		},
	}
	f := cmd.Flags()
	f.StringVar(&opts.class, "class", "LMain;", "descriptor of the class to run")
	f.StringVar(&opts.method, "method", "main", "name of the static method to run")
	f.StringVar(&opts.descriptor, "descriptor", "", "method descriptor, needed when the name is overloaded")
	f.StringSliceVar(&opts.args, "args", nil, "comma separated method arguments")
	f.IntVar(&opts.threads, "threads", 1, "number of threads running the method")
	f.BoolVar(&opts.debug, "debug", false, "trace every instruction at debug log level")
	f.StringVar(&opts.profileOut, "profile-out", "", "write a CBOR execution profile to this file")
	f.StringVarP(&opts.output, "output", "o", "", "output format: json or text")
	cmd.RegisterFlagCompletionFunc("output", func(*cobra.Command, []string, string) ([]string, cobra.ShellCompDirective) {
		return outputFormats, cobra.ShellCompDirectiveNoFileComp
	})
	return cmd
}

// program is a linked image with a runtime ready to execute it.
type program struct {
	linker *linker.Linker
	rt     *vm.Runtime
}

func (a *app) load(path string, out io.Writer, extra ...vm.Option) (*program, error) {
	cfg, err := a.config()
	if err != nil {
		return nil, err
	}
	rtOpts, err := cfg.Options()
	if err != nil {
		return nil, err
	}
	defs, err := asm.LoadImageFile(path)
	if err != nil {
		return nil, err
	}
	l, err := linker.NewBootstrapped(object.NewHeap(0), linker.WithLogger(a.log))
	if err != nil {
		return nil, err
	}
	if err := l.DefineAll(defs); err != nil {
		return nil, err
	}
	if err := l.LinkAll(); err != nil {
		return nil, err
	}
	log := a.log
	rtOpts = append(rtOpts,
		vm.WithLogger(log),
		vm.WithAbortHandler(func(err *errz.FatalError) {
			log.Error().Str("kind", err.Kind.String()).Msg("interpreter aborted")
		}),
		vm.WithUncaughtHandler(func(t *vm.Thread, err *vm.ExceptionError) {
			log.Debug().Str("thread", t.Name).Str("exception", err.Error()).Msg("uncaught exception")
		}),
	)
	rtOpts = append(rtOpts, extra...)
	rt := vm.New(l, rtOpts...)
	builtins.Register(rt.Natives(), out)
	return &program{linker: l, rt: rt}, nil
}

func (a *app) run(out io.Writer, path string, opts runOptions) error {
	if opts.threads < 1 {
		return fmt.Errorf("--threads must be at least 1, got %d", opts.threads)
	}
	var extra []vm.Option
	if opts.debug {
		extra = append(extra, vm.WithObserver(&tracer{log: a.log}))
	}
	var profiler *vm.Profiler
	if opts.profileOut != "" {
		profiler = vm.NewProfiler()
		extra = append(extra, vm.WithProfiler(profiler))
	}
	p, err := a.load(path, out, extra...)
	if err != nil {
		return err
	}
	m, err := findEntry(p.linker, opts.class, opts.method, opts.descriptor)
	if err != nil {
		return err
	}
	args, err := parseArgs(p.linker, m, opts.args)
	if err != nil {
		return err
	}

	results := make([]vm.Value, opts.threads)
	var g errgroup.Group
	for i := 0; i < opts.threads; i++ {
		i := i
		name := "main"
		if opts.threads > 1 {
			name = fmt.Sprintf("main-%d", i)
		}
		t := p.rt.NewThread(name)
		g.Go(func() error {
			defer p.rt.Detach(t)
			v, err := p.rt.Invoke(t, opts.class, m.Name, m.Descriptor, args...)
			if err != nil {
				return err
			}
			results[i] = v
			return nil
		})
	}
	runErr := g.Wait()

	if profiler != nil {
		if err := writeProfile(opts.profileOut, p.rt.Profile()); err != nil {
			return err
		}
		a.log.Info().Str("path", opts.profileOut).Msg("profile written")
	}
	if runErr != nil {
		return runErr
	}
	ret := m.ReturnType()
	if ret == "V" {
		return nil
	}
	for _, v := range results {
		s, err := formatOutput(jsonValue(v, ret), v.Format(ret), opts.output)
		if err != nil {
			return err
		}
		fmt.Fprintln(out, s)
	}
	return nil
}

// findEntry looks up the static method to run. Without a descriptor the name
// must be unique in the class.
func findEntry(l *linker.Linker, class, name, desc string) (*object.Method, error) {
	if desc != "" {
		m, err := l.FindMethod(class, name, desc)
		if err != nil {
			return nil, err
		}
		if !m.IsStatic() {
			return nil, fmt.Errorf("%s is not static", m)
		}
		return m, nil
	}
	c, err := l.Lookup(class)
	if err != nil {
		return nil, err
	}
	var found *object.Method
	for _, m := range c.Methods {
		if m.Name != name || !m.IsStatic() {
			continue
		}
		if found != nil {
			return nil, fmt.Errorf("%s->%s is overloaded; use --descriptor", class, name)
		}
		found = m
	}
	if found == nil {
		return nil, fmt.Errorf("no static method %s->%s", class, name)
	}
	return found, nil
}

// parseArgs converts command line strings to arguments of m.
func parseArgs(l *linker.Linker, m *object.Method, raw []string) ([]vm.Value, error) {
	params, _, err := object.ParseMethodDescriptor(m.Descriptor)
	if err != nil {
		return nil, err
	}
	if len(raw) != len(params) {
		return nil, fmt.Errorf("%s takes %d arguments, got %d", m, len(params), len(raw))
	}
	args := make([]vm.Value, len(params))
	for i, typ := range params {
		s := strings.TrimSpace(raw[i])
		var err error
		switch typ {
		case "Z":
			var b bool
			b, err = strconv.ParseBool(s)
			args[i] = vm.Bool(b)
		case "B", "S", "C", "I":
			var n int64
			n, err = strconv.ParseInt(s, 0, 32)
			args[i] = vm.Int(int32(n))
		case "J":
			var n int64
			n, err = strconv.ParseInt(s, 0, 64)
			args[i] = vm.Long(n)
		case "F":
			var f float64
			f, err = strconv.ParseFloat(s, 32)
			args[i] = vm.Float(float32(f))
		case "D":
			var f float64
			f, err = strconv.ParseFloat(s, 64)
			args[i] = vm.Double(f)
		case object.DescString, object.DescObject:
			var o *object.Object
			o, err = l.NewString(raw[i])
			args[i] = vm.Ref(o)
		default:
			if s != "null" {
				return nil, fmt.Errorf("argument %d: cannot pass %q as %s", i, s, typ)
			}
			args[i] = vm.Ref(nil)
		}
		if err != nil {
			return nil, fmt.Errorf("argument %d: %w", i, err)
		}
	}
	return args, nil
}

// jsonValue converts a result to a value encoding/json understands.
func jsonValue(v vm.Value, typ string) any {
	switch typ {
	case "Z":
		return v.AsBool()
	case "B", "S", "I":
		return v.AsInt()
	case "C":
		return string(rune(uint16(v.AsInt())))
	case "J":
		return v.AsLong()
	case "F":
		return v.AsFloat()
	case "D":
		return v.AsDouble()
	}
	o := v.AsRef()
	switch {
	case o == nil:
		return nil
	case o.IsString():
		return o.StringValue()
	}
	return o.String()
}

func writeProfile(path string, prof vm.Profile) error {
	data, err := vm.EncodeProfile(prof)
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("writing profile: %w", err)
	}
	return nil
}

// tracer logs interpreter events at debug level.
type tracer struct {
	vm.NoOpObserver
	log zerolog.Logger
}

func (o *tracer) Config() vm.ObserverConfig {
	return vm.NewObserverConfig(vm.StepAll)
}

func (o *tracer) OnStep(ev vm.StepEvent) bool {
	o.log.Debug().
		Str("thread", ev.Thread.Name).
		Str("method", ev.Method.String()).
		Int("pc", ev.PC).
		Int("line", ev.Line).
		Str("op", ev.OpcodeName).
		Msg("step")
	return true
}

func (o *tracer) OnCall(ev vm.CallEvent) bool {
	o.log.Debug().Str("thread", ev.Thread.Name).Str("method", ev.Method.String()).Int("depth", ev.FrameDepth).Msg("call")
	return true
}

func (o *tracer) OnReturn(ev vm.ReturnEvent) bool {
	o.log.Debug().
		Str("thread", ev.Thread.Name).
		Str("method", ev.Method.String()).
		Str("value", ev.Value.Format(ev.Method.ReturnType())).
		Bool("exceptional", ev.Exceptional).
		Msg("return")
	return true
}

func (o *tracer) OnException(ev vm.ExceptionEvent) bool {
	o.log.Debug().
		Str("thread", ev.Thread.Name).
		Str("exception", ev.Exception.Class().Descriptor).
		Str("method", methodName(ev.Method)).
		Int("pc", ev.PC).
		Bool("caught", ev.Caught).
		Msg("exception")
	return true
}

func methodName(m *object.Method) string {
	if m == nil {
		return ""
	}
	return m.String()
}
