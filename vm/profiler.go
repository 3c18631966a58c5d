package vm

import (
	"fmt"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/fxamacker/cbor/v2"

	"github.com/deepnoodle-ai/dvm/object"
	"github.com/deepnoodle-ai/dvm/op"
)

// Profiler counts executed instructions by opcode, method invocations and
// thrown exceptions. It only counts while installed, and installing it
// switches threads to the instrumented interpreter.
type Profiler struct {
	opcodes      [256]atomic.Uint64
	instructions atomic.Uint64
	exceptions   atomic.Uint64

	mu      sync.Mutex
	methods map[*object.Method]uint64
}

// NewProfiler returns an empty profiler.
func NewProfiler() *Profiler {
	return &Profiler{methods: map[*object.Method]uint64{}}
}

func (p *Profiler) step(code op.Code) {
	p.opcodes[code].Add(1)
	p.instructions.Add(1)
}

func (p *Profiler) enter(m *object.Method) {
	p.mu.Lock()
	p.methods[m]++
	p.mu.Unlock()
}

func (p *Profiler) thrown() {
	p.exceptions.Add(1)
}

// Reset clears every counter.
func (p *Profiler) Reset() {
	for i := range p.opcodes {
		p.opcodes[i].Store(0)
	}
	p.instructions.Store(0)
	p.exceptions.Store(0)
	p.mu.Lock()
	p.methods = map[*object.Method]uint64{}
	p.mu.Unlock()
}

// Snapshot copies the counters into a Profile.
func (p *Profiler) Snapshot() Profile {
	prof := Profile{
		Opcodes:      map[string]uint64{},
		Methods:      map[string]uint64{},
		Instructions: p.instructions.Load(),
		Exceptions:   p.exceptions.Load(),
	}
	for i := range p.opcodes {
		if n := p.opcodes[i].Load(); n > 0 {
			prof.Opcodes[op.GetInfo(op.Code(i)).Name] = n
		}
	}
	p.mu.Lock()
	for m, n := range p.methods {
		prof.Methods[m.String()] += n
	}
	p.mu.Unlock()
	return prof
}

// Profile is a snapshot of profiler and interface cache counters.
type Profile struct {
	Opcodes              map[string]uint64 `cbor:"1,keyasint" json:"opcodes"`
	Methods              map[string]uint64 `cbor:"2,keyasint" json:"methods"`
	Instructions         uint64            `cbor:"3,keyasint" json:"instructions"`
	Exceptions           uint64            `cbor:"4,keyasint" json:"exceptions"`
	InterfaceCacheHits   uint64            `cbor:"5,keyasint" json:"interface_cache_hits"`
	InterfaceCacheMisses uint64            `cbor:"6,keyasint" json:"interface_cache_misses"`
}

// Count is one row of a ranked profile.
type Count struct {
	Name  string
	Count uint64
}

// TopOpcodes returns the n most executed opcodes, most frequent first.
func (p Profile) TopOpcodes(n int) []Count {
	return top(p.Opcodes, n)
}

// TopMethods returns the n most invoked methods, most frequent first.
func (p Profile) TopMethods(n int) []Count {
	return top(p.Methods, n)
}

func top(m map[string]uint64, n int) []Count {
	out := make([]Count, 0, len(m))
	for k, v := range m {
		out = append(out, Count{Name: k, Count: v})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Name < out[j].Name
	})
	if n >= 0 && n < len(out) {
		out = out[:n]
	}
	return out
}

// profileEncMode encodes profiles deterministically.
var profileEncMode cbor.EncMode

func init() {
	em, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("vm: failed to create CBOR enc mode: %v", err))
	}
	profileEncMode = em
}

// EncodeProfile serializes a profile to canonical CBOR.
func EncodeProfile(p Profile) ([]byte, error) {
	return profileEncMode.Marshal(p)
}

// DecodeProfile deserializes a profile from CBOR.
func DecodeProfile(data []byte) (Profile, error) {
	var p Profile
	if err := cbor.Unmarshal(data, &p); err != nil {
		return Profile{}, fmt.Errorf("vm: unmarshal profile: %w", err)
	}
	return p, nil
}
