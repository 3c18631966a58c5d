package asm

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/hashicorp/go-multierror"

	"github.com/deepnoodle-ai/dvm/linker"
	"github.com/deepnoodle-ai/dvm/object"
)

// Image is a program image: a set of classes with assembled method bodies.
//
//	[[class]]
//	name = "LMain;"
//
//	  [[class.field]]
//	  name = "count"
//	  type = "I"
//	  flags = ["static"]
//	  value = 3
//
//	  [[class.method]]
//	  name = "add"
//	  descriptor = "(II)I"
//	  flags = ["public", "static"]
//	  registers = 3
//	  code = """
//	    add-int v2, v0, v1
//	    return v2
//	  """
type Image struct {
	Classes []ClassSpec `toml:"class"`
}

// ClassSpec describes one class of an image. Super defaults to
// java.lang.Object.
type ClassSpec struct {
	Name       string       `toml:"name"`
	Super      string       `toml:"super"`
	Flags      []string     `toml:"flags"`
	Interfaces []string     `toml:"interfaces"`
	Fields     []FieldSpec  `toml:"field"`
	Methods    []MethodSpec `toml:"method"`
}

// FieldSpec describes a field. Value is the initial value of a static field.
type FieldSpec struct {
	Name  string   `toml:"name"`
	Type  string   `toml:"type"`
	Flags []string `toml:"flags"`
	Value any      `toml:"value"`
}

// MethodSpec describes a method. Code is assembler source; it is empty for
// native and abstract methods. Registers overrides a .registers directive.
type MethodSpec struct {
	Name       string   `toml:"name"`
	Descriptor string   `toml:"descriptor"`
	Flags      []string `toml:"flags"`
	Registers  int      `toml:"registers"`
	Code       string   `toml:"code"`
}

// LoadImageFile reads and assembles the image at path.
func LoadImageFile(path string) ([]*linker.ClassDef, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return LoadImage(path, f)
}

// LoadImage decodes a TOML image from r and assembles it into class
// definitions ready for a linker. Errors in different classes and methods are
// reported together.
func LoadImage(name string, r io.Reader) ([]*linker.ClassDef, error) {
	var img Image
	md, err := toml.NewDecoder(r).Decode(&img)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	var result *multierror.Error
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		result = multierror.Append(result, fmt.Errorf("%s: unknown keys %s", name, strings.Join(keys, ", ")))
	}
	defs := make([]*linker.ClassDef, 0, len(img.Classes))
	for _, spec := range img.Classes {
		def, err := assembleClass(name, spec)
		if err != nil {
			result = multierror.Append(result, err)
			continue
		}
		defs = append(defs, def)
	}
	if err := result.ErrorOrNil(); err != nil {
		return nil, err
	}
	return defs, nil
}

func assembleClass(file string, spec ClassSpec) (*linker.ClassDef, error) {
	if spec.Name == "" {
		return nil, fmt.Errorf("%s: class without a name", file)
	}
	var result *multierror.Error
	fail := func(format string, args ...any) {
		result = multierror.Append(result, fmt.Errorf("%s: %s: %s", file, spec.Name, fmt.Sprintf(format, args...)))
	}
	flags, err := object.ParseAccessFlags(spec.Flags)
	if err != nil {
		fail("%v", err)
	}
	def := &linker.ClassDef{
		Descriptor: spec.Name,
		Flags:      flags,
		Super:      spec.Super,
		Interfaces: spec.Interfaces,
		Pool:       object.NewPool(),
	}
	if def.Super == "" && def.Descriptor != object.DescObject {
		def.Super = object.DescObject
	}
	for _, fs := range spec.Fields {
		ff, err := object.ParseAccessFlags(fs.Flags)
		if err != nil {
			fail("field %s: %v", fs.Name, err)
			continue
		}
		def.Fields = append(def.Fields, linker.FieldDef{Name: fs.Name, Type: fs.Type, Flags: ff, Value: fs.Value})
	}
	for _, ms := range spec.Methods {
		m, err := assembleMethod(file, def.Pool, ms)
		if err != nil {
			fail("method %s%s: %v", ms.Name, ms.Descriptor, err)
			continue
		}
		def.Methods = append(def.Methods, m)
	}
	if err := result.ErrorOrNil(); err != nil {
		return nil, err
	}
	return def, nil
}

func assembleMethod(file string, pool *object.Pool, ms MethodSpec) (*object.Method, error) {
	flags, err := object.ParseAccessFlags(ms.Flags)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(ms.Code) == "" {
		return &object.Method{Name: ms.Name, Descriptor: ms.Descriptor, Flags: flags}, nil
	}
	code, err := Assemble(file, strings.NewReader(ms.Code), pool)
	if err != nil {
		return nil, err
	}
	m := code.Method(ms.Name, ms.Descriptor, flags)
	if ms.Registers > 0 {
		m.RegistersSize = ms.Registers
	}
	return m, nil
}
