// Package object is the class and object model of the dvm interpreter.
//
// Classes, methods and fields are metadata produced by the linker and are
// read-only once linked. Objects are instances of classes: plain instances
// with field slots, arrays, and strings. Every object carries an intrinsic
// monitor that is created on first use.
//
// Language exceptions raised by the helpers in this package are reported as
// *ThrowError values naming the exception class to throw; the interpreter
// turns them into exception objects.
package object

import (
	"encoding/binary"
	"fmt"
	"sync"
	"sync/atomic"
)

// Object is a heap object. Its layout depends on its class: instances use
// slots for their fields, arrays use them for elements, and strings hold a Go
// string.
type Object struct {
	class  *Class
	slots  Slots
	length int
	str    string
	hash   uint32

	monitorOnce sync.Once
	monitor     *Monitor

	host      atomic.Value
	backtrace []Frame
}

// Frame is one entry of a throwable's captured stack.
type Frame struct {
	Method *Method
	PC     int
}

// Line returns the source line of the frame, or 0 if unknown.
func (f Frame) Line() int {
	if f.Method == nil {
		return 0
	}
	return f.Method.LineFor(f.PC)
}

// Class returns the runtime class of the object.
func (o *Object) Class() *Class { return o.class }

// Fields returns the instance field storage.
func (o *Object) Fields() *Slots { return &o.slots }

// IdentityHash returns the identity hash code assigned at allocation.
func (o *Object) IdentityHash() int32 { return int32(o.hash) }

// Monitor returns the object's intrinsic lock.
func (o *Object) Monitor() *Monitor {
	o.monitorOnce.Do(func() { o.monitor = newMonitor() })
	return o.monitor
}

// Host returns the host value attached to the object, for example the *Class
// behind a class mirror.
func (o *Object) Host() any { return o.host.Load() }

// SetHost attaches a host value to the object.
func (o *Object) SetHost(v any) { o.host.Store(v) }

// Backtrace returns the stack captured when a throwable was filled in.
func (o *Object) Backtrace() []Frame { return o.backtrace }

// SetBacktrace records the captured stack of a throwable.
func (o *Object) SetBacktrace(frames []Frame) { o.backtrace = frames }

// IsArray reports whether the object is an array.
func (o *Object) IsArray() bool { return o.class.IsArray() }

// IsString reports whether the object is a java.lang.String.
func (o *Object) IsString() bool { return o.class.Descriptor == DescString }

// StringValue returns the contents of a string object.
func (o *Object) StringValue() string { return o.str }

// Len returns the length of an array.
func (o *Object) Len() int { return o.length }

// String returns a short description of the object.
func (o *Object) String() string {
	switch {
	case o == nil:
		return "null"
	case o.IsString():
		return fmt.Sprintf("%q", o.str)
	case o.IsArray():
		return fmt.Sprintf("%s[%d]", o.class.Descriptor, o.length)
	}
	return fmt.Sprintf("%s@%08x", ClassName(o.class.Descriptor), o.hash)
}

// GetInt reads element i of a primitive array of at most 32 bits, sign or
// zero extended according to the component type.
func (o *Object) GetInt(i int) int32 {
	v := o.slots.prims[i]
	switch o.class.Component.Descriptor {
	case "Z":
		return int32(uint8(v))
	case "B":
		return int32(int8(v))
	case "C":
		return int32(uint16(v))
	case "S":
		return int32(int16(v))
	}
	return int32(uint32(v))
}

// SetInt stores v into element i of a primitive array, truncated to the
// component width.
func (o *Object) SetInt(i int, v int32) {
	switch o.class.Component.Descriptor {
	case "Z", "B":
		o.slots.prims[i] = uint64(uint8(v))
	case "C", "S":
		o.slots.prims[i] = uint64(uint16(v))
	default:
		o.slots.prims[i] = uint64(uint32(v))
	}
}

// GetWide reads element i of a long or double array.
func (o *Object) GetWide(i int) uint64 { return o.slots.prims[i] }

// SetWide stores element i of a long or double array.
func (o *Object) SetWide(i int, v uint64) { o.slots.prims[i] = v }

// GetRef reads element i of a reference array.
func (o *Object) GetRef(i int) *Object { return o.slots.refs[i].Load() }

// SetRef stores element i of a reference array.
func (o *Object) SetRef(i int, v *Object) { o.slots.refs[i].Store(v) }

// CheckIndex returns an ArrayIndexOutOfBoundsException error if i is not a
// valid index of the array.
func (o *Object) CheckIndex(i int32) error {
	if i < 0 || int(i) >= o.length {
		return Throwf(ExArrayIndexOutOfBounds, "length=%d; index=%d", o.length, i)
	}
	return nil
}

// CheckStore returns an ArrayStoreException error if v cannot be stored in
// the reference array.
func (o *Object) CheckStore(v *Object) error {
	if v == nil || v.class.IsAssignableTo(o.class.Component) {
		return nil
	}
	return Throwf(ExArrayStore, "%s cannot be stored in an array of type %s",
		ClassName(v.class.Descriptor), ClassName(o.class.Descriptor))
}

// FillArrayData copies little-endian elements of the given width into the
// start of a primitive array.
func (o *Object) FillArrayData(width int, data []byte) error {
	if !o.IsArray() || o.class.Component.IsReference() {
		return Throwf(ExInternal, "fill-array-data on %s", o.class.Descriptor)
	}
	if width != o.class.Component.ElementWidth() {
		return Throwf(ExInternal, "fill-array-data width %d for %s", width, o.class.Descriptor)
	}
	count := len(data) / width
	if count > o.length {
		return Throwf(ExArrayIndexOutOfBounds, "length=%d; index=%d", o.length, count-1)
	}
	for i := 0; i < count; i++ {
		chunk := data[i*width : (i+1)*width]
		var v uint64
		switch width {
		case 1:
			v = uint64(chunk[0])
		case 2:
			v = uint64(binary.LittleEndian.Uint16(chunk))
		case 4:
			v = uint64(binary.LittleEndian.Uint32(chunk))
		case 8:
			v = binary.LittleEndian.Uint64(chunk)
		}
		o.slots.prims[i] = v
	}
	return nil
}

// Ints returns the elements of a primitive array of at most 32 bits.
func (o *Object) Ints() []int32 {
	out := make([]int32, o.length)
	for i := range out {
		out[i] = o.GetInt(i)
	}
	return out
}

// InstanceOf reports whether o is non-null and an instance of c.
func InstanceOf(o *Object, c *Class) bool {
	return o != nil && o.class.IsAssignableTo(c)
}
