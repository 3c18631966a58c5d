package vm

import (
	"errors"

	"github.com/deepnoodle-ai/dvm/object"
)

// ensureInit initializes c before the current instruction uses it.
func (in *interp) ensureInit(c *object.Class) control {
	if c.IsInitialized() {
		return ctlNext
	}
	in.st.current().SavedPC = in.pc
	if err := in.rt.initClass(in.t, c); err != nil {
		return in.throwErr(err)
	}
	return ctlNext
}

// initClass runs the static initializers of c and its superclasses, once
// per class. A thread initializing c sees it as usable; other threads wait
// for the outcome. An initializer that throws leaves the class erroneous:
// later uses raise NoClassDefFoundError.
func (rt *Runtime) initClass(t *Thread, c *object.Class) error {
	if c.IsInitialized() {
		return nil
	}
	prev := t.Status()
	t.setStatus(StatusWaiting)
	action := c.BeginInit(t)
	if prev == StatusRunning {
		t.setRunning()
	} else {
		t.setStatus(prev)
	}
	switch action {
	case object.InitDone:
		return nil
	case object.InitFailed:
		return object.Throwf(object.ExNoClassDefFound, "could not initialize class %s", c.Name())
	}
	if s := c.Super; s != nil {
		if err := rt.initClass(t, s); err != nil {
			c.FinishInit(false)
			return err
		}
	}
	clinit := c.ClassInit()
	if clinit == nil {
		c.FinishInit(true)
		return nil
	}
	t.log.Debug().Str("class", c.Name()).Msg("initializing class")
	_, err := rt.Interpret(t, clinit)
	if err == nil {
		c.FinishInit(true)
		return nil
	}
	c.FinishInit(false)
	var ee *ExceptionError
	if !errors.As(err, &ee) {
		return err
	}
	t.exception = nil
	if rt.isError(ee.Exception) {
		return ee
	}
	wrapped, werr := rt.newThrowable(t, object.ExExceptionInInitializer, "", t.captureBacktrace())
	if werr != nil {
		return werr
	}
	setCause(wrapped, ee.Exception)
	return newExceptionError(wrapped)
}
