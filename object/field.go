package object

import "fmt"

// Field is a field of a loaded class.
//
// Slot indexes the primitive or the reference half of the owning storage:
// the object's instance slots for instance fields, the class's statics for
// static fields. A long or double takes a single primitive slot.
type Field struct {
	Class *Class
	Name  string
	Type  string
	Flags AccessFlags
	Slot  int
}

func (f *Field) IsStatic() bool    { return f.Flags.Has(AccStatic) }
func (f *Field) IsVolatile() bool  { return f.Flags.Has(AccVolatile) }
func (f *Field) IsReference() bool { return IsReference(f.Type) }
func (f *Field) IsWide() bool      { return IsWide(f.Type) }

// String returns the field in "LClass;->name:type" form.
func (f *Field) String() string {
	owner := "?"
	if f.Class != nil {
		owner = f.Class.Descriptor
	}
	return fmt.Sprintf("%s->%s:%s", owner, f.Name, f.Type)
}
