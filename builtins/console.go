package builtins

import (
	"io"
	"sync"

	"github.com/deepnoodle-ai/dvm/object"
	"github.com/deepnoodle-ai/dvm/vm"
)

// console serializes writes from every thread to one writer.
type console struct {
	mu  sync.Mutex
	out io.Writer
}

func (c *console) print(typ string, newline bool) vm.NativeFunc {
	return func(t *vm.Thread, _ *object.Method, args vm.Args) (vm.Value, *object.Object) {
		s, ok := stringOf(t, args, typ)
		if !ok {
			return vm.Value{}, nil
		}
		if newline {
			s += "\n"
		}
		c.mu.Lock()
		_, err := io.WriteString(c.out, s)
		c.mu.Unlock()
		if err != nil {
			t.ThrowError(err)
		}
		return vm.Value{}, nil
	}
}
