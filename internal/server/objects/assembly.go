package objects

// Assembly object: application data images bound to I/O connections.

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/tturner/cipadapter/internal/cip/codec"
	"github.com/tturner/cipadapter/internal/cip/object"
	"github.com/tturner/cipadapter/internal/cip/spec"
	"github.com/tturner/cipadapter/internal/server/connmgr"
)

// Direction says which way an assembly's data flows.
type Direction string

const (
	DirectionInput  Direction = "input"  // produced T->O
	DirectionOutput Direction = "output" // consumed O->T
	DirectionConfig Direction = "config"
)

// Pattern selects how an assembly's data changes on its own.
type Pattern string

const (
	PatternStatic  Pattern = "static"
	PatternCounter Pattern = "counter"
	PatternReflect Pattern = "reflect"
)

var (
	ErrUnknownAssembly = errors.New("no such assembly")
	ErrAssemblyOwned   = errors.New("assembly is owned by a connection")
	ErrAssemblySize    = errors.New("wrong assembly data size")
)

// DefaultUpdateInterval is the counter pattern's period.
const DefaultUpdateInterval = 100 * time.Millisecond

// AssemblyConfig describes one assembly instance.
type AssemblyConfig struct {
	Instance  uint16
	Name      string
	Size      int
	Direction Direction
	Pattern   Pattern
	// ReflectFrom names the output assembly copied by the reflect pattern.
	ReflectFrom    uint16
	UpdateInterval time.Duration
}

// Assembly is one assembly instance. It implements connmgr.Point.
type Assembly struct {
	cfg     AssemblyConfig
	data    []byte
	size    uint16
	counter uint32
	since   time.Duration
	set     *Assemblies
	updated time.Time
}

// Instance returns the instance number.
func (a *Assembly) Instance() uint16 { return a.cfg.Instance }

// Config returns the assembly's configuration.
func (a *Assembly) Config() AssemblyConfig { return a.cfg }

// Size returns the data length in bytes.
func (a *Assembly) Size() int { return len(a.data) }

// Data returns the current image. Callers must not modify it.
func (a *Assembly) Data() []byte { return a.data }

// Updated returns the time of the last data change.
func (a *Assembly) Updated() time.Time { return a.updated }

// Write replaces the image with data received on a connection.
func (a *Assembly) Write(data []byte) error {
	if len(data) != len(a.data) {
		return fmt.Errorf("assembly %d: %w: %d bytes, want %d", a.cfg.Instance, ErrAssemblySize, len(data), len(a.data))
	}
	copy(a.data, data)
	a.set.changed(a)
	return nil
}

// AssemblyHooks connect the assemblies to the connection manager.
type AssemblyHooks struct {
	// Owned reports an established exclusive owner of an instance.
	Owned func(instance uint16) bool
	// Changed runs after an instance's data changed.
	Changed func(instance uint16)
}

// Assemblies is the set of configured assembly instances.
type Assemblies struct {
	byID  map[uint16]*Assembly
	hooks AssemblyHooks
	now   func() time.Time
}

// NewAssemblies builds the instances described by cfgs.
func NewAssemblies(cfgs []AssemblyConfig) (*Assemblies, error) {
	s := &Assemblies{byID: make(map[uint16]*Assembly, len(cfgs)), now: time.Now}
	for _, cfg := range cfgs {
		if cfg.Instance == 0 {
			return nil, fmt.Errorf("assembly %q: instance 0 is reserved", cfg.Name)
		}
		if _, dup := s.byID[cfg.Instance]; dup {
			return nil, fmt.Errorf("assembly instance %d defined twice", cfg.Instance)
		}
		if cfg.Size < 0 || cfg.Size > 0xFFFF {
			return nil, fmt.Errorf("assembly %d: size %d out of range", cfg.Instance, cfg.Size)
		}
		if cfg.Pattern == "" {
			cfg.Pattern = PatternStatic
		}
		if cfg.UpdateInterval <= 0 {
			cfg.UpdateInterval = DefaultUpdateInterval
		}
		s.byID[cfg.Instance] = &Assembly{
			cfg:     cfg,
			data:    make([]byte, cfg.Size),
			size:    uint16(cfg.Size),
			set:     s,
			updated: s.now(),
		}
	}
	for _, a := range s.byID {
		if a.cfg.Pattern != PatternReflect {
			continue
		}
		if a.cfg.Direction == DirectionOutput {
			return nil, fmt.Errorf("assembly %d: output assemblies cannot reflect", a.cfg.Instance)
		}
		src, ok := s.byID[a.cfg.ReflectFrom]
		if !ok || src.cfg.Direction != DirectionOutput {
			return nil, fmt.Errorf("assembly %d: reflect source %d is not an output assembly", a.cfg.Instance, a.cfg.ReflectFrom)
		}
	}
	return s, nil
}

// SetHooks installs the connection manager callbacks.
func (s *Assemblies) SetHooks(h AssemblyHooks) { s.hooks = h }

// Get looks up an instance.
func (s *Assemblies) Get(instance uint16) (*Assembly, bool) {
	a, ok := s.byID[instance]
	return a, ok
}

// List returns the instances ordered by number.
func (s *Assemblies) List() []*Assembly {
	out := make([]*Assembly, 0, len(s.byID))
	for _, a := range s.byID {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].cfg.Instance < out[j].cfg.Instance })
	return out
}

func (s *Assemblies) point(instance uint16, dir Direction) (connmgr.Point, bool) {
	a, ok := s.byID[instance]
	if !ok || a.cfg.Direction != dir {
		return nil, false
	}
	return a, true
}

// Consumer returns an output assembly.
func (s *Assemblies) Consumer(instance uint16) (connmgr.Point, bool) {
	return s.point(instance, DirectionOutput)
}

// Producer returns an input assembly.
func (s *Assemblies) Producer(instance uint16) (connmgr.Point, bool) {
	return s.point(instance, DirectionInput)
}

// Config returns a configuration assembly.
func (s *Assemblies) Config(instance uint16) (connmgr.Point, bool) {
	return s.point(instance, DirectionConfig)
}

// SetData replaces an instance's image on behalf of the application. Output
// assemblies held by an exclusive owner are refused.
func (s *Assemblies) SetData(instance uint16, data []byte) error {
	a, ok := s.byID[instance]
	if !ok {
		return fmt.Errorf("assembly %d: %w", instance, ErrUnknownAssembly)
	}
	if a.cfg.Direction == DirectionOutput && s.owned(instance) {
		return fmt.Errorf("assembly %d: %w", instance, ErrAssemblyOwned)
	}
	return a.Write(data)
}

// Advance runs the counter pattern.
func (s *Assemblies) Advance(elapsed time.Duration) {
	for _, a := range s.byID {
		if a.cfg.Pattern != PatternCounter {
			continue
		}
		a.since += elapsed
		if a.since < a.cfg.UpdateInterval {
			continue
		}
		a.since = 0
		a.counter++
		if len(a.data) >= 4 {
			binary.LittleEndian.PutUint32(a.data[0:4], a.counter)
		} else if len(a.data) > 0 {
			a.data[0] = byte(a.counter)
		}
		s.changed(a)
	}
}

// Reset zeroes every image and restarts the counters.
func (s *Assemblies) Reset() {
	for _, a := range s.byID {
		clear(a.data)
		a.counter = 0
		a.since = 0
		a.updated = s.now()
	}
}

func (s *Assemblies) owned(instance uint16) bool {
	return s.hooks.Owned != nil && s.hooks.Owned(instance)
}

// changed reflects new output data and notifies the producer side.
func (s *Assemblies) changed(a *Assembly) {
	a.updated = s.now()
	if s.hooks.Changed != nil {
		s.hooks.Changed(a.cfg.Instance)
	}
	if a.cfg.Direction != DirectionOutput {
		return
	}
	for _, dst := range s.byID {
		if dst.cfg.Pattern == PatternReflect && dst.cfg.ReflectFrom == a.cfg.Instance {
			n := copy(dst.data, a.data)
			clear(dst.data[n:])
			s.changed(dst)
		}
	}
}

// Register adds the Assembly class (revision 2) and every instance to reg.
// Attribute 3 is the data image, attribute 4 its size.
func (s *Assemblies) Register(reg *object.Registry) error {
	class, err := reg.RegisterClass(object.ClassConfig{
		ID:       spec.CIPClassAssembly,
		Name:     "Assembly",
		Revision: 2,
	})
	if err != nil {
		return err
	}
	for _, a := range s.List() {
		inst, err := class.CreateInstance(a.cfg.Instance)
		if err != nil {
			return err
		}
		data := object.Attribute{
			Number:    3,
			Type:      codec.TypeByteArray,
			Value:     &a.data,
			Access:    object.GetSingle | object.SetSingle,
			BeforeSet: func() error { return s.checkSettable(a) },
			AfterSet:  func() { s.changed(a) },
		}
		if err := inst.AddAttribute(data); err != nil {
			return err
		}
		if err := inst.AddAttribute(object.Attribute{Number: 4, Type: codec.TypeUint, Value: &a.size, Access: object.GetSingle}); err != nil {
			return err
		}
	}
	return nil
}

func (s *Assemblies) checkSettable(a *Assembly) error {
	if a.cfg.Direction == DirectionInput {
		return object.Status(spec.StatusAttributeNotSettable)
	}
	if s.owned(a.cfg.Instance) {
		return object.Status(spec.StatusObjectStateConflict)
	}
	return nil
}
