package vm

import "github.com/deepnoodle-ai/dvm/object"

// monitorEnter acquires mon for t. A thread that has to wait is in
// StatusMonitor meanwhile, so SuspendAll does not wait for it.
func (rt *Runtime) monitorEnter(t *Thread, mon *object.Monitor) {
	if mon.TryEnter(t) {
		return
	}
	prev := t.Status()
	t.setStatus(StatusMonitor)
	mon.Enter(t)
	if prev == StatusRunning {
		t.setRunning()
	} else {
		t.setStatus(prev)
	}
}
