package object

// Class -> instance -> attribute/service object model.

import (
	"fmt"
	"sort"

	"github.com/tturner/cipadapter/internal/cip/codec"
	"github.com/tturner/cipadapter/internal/cip/protocol"
	"github.com/tturner/cipadapter/internal/cip/spec"
)

// ServiceFunc handles one service on an instance (the class pseudo-instance
// when the request addressed instance 0). It fills resp.Data, or sets the
// status on resp directly when the reply must carry data, or returns a
// *StatusError.
type ServiceFunc func(inst *Instance, req *protocol.Request, resp *protocol.Response) error

// Service binds a service code to its handler.
type Service struct {
	Code    protocol.ServiceCode
	Name    string
	Handler ServiceFunc
}

// ClassConfig describes a class at registration time.
type ClassConfig struct {
	ID       uint16
	Name     string
	Revision uint16
	// MaxInstances caps the instance table; 0 uses the registry default.
	MaxInstances int
	// GetAllMask selects instance attributes returned by GetAttributeAll.
	GetAllMask Mask
	// ClassGetAllMask selects class attributes; defaults to 1, 2, 3, 6, 7.
	ClassGetAllMask Mask
}

// Class is a registered object class.
type Class struct {
	ID              uint16
	Name            string
	Revision        uint16
	GetAllMask      Mask
	ClassGetAllMask Mask

	registry     *Registry
	maxInstances int
	instances    map[uint16]*Instance
	services     map[protocol.ServiceCode]Service
	self         *Instance

	maxInstanceID   uint16
	numInstances    uint16
	maxClassAttr    uint16
	maxInstanceAttr uint16
}

// Instance is one instance of a class. ID 0 is the class pseudo-instance.
type Instance struct {
	ID    uint16
	class *Class
	attrs map[uint16]*Attribute
}

// Registry owns every class for the lifetime of the adapter.
type Registry struct {
	classes      map[uint16]*Class
	maxInstances int
	codec        codec.Codec
}

// RegistryConfig bounds the registry.
type RegistryConfig struct {
	MaxInstancesPerClass int
	Codec                codec.Codec
}

// NewRegistry returns an empty registry.
func NewRegistry(cfg RegistryConfig) *Registry {
	if cfg.MaxInstancesPerClass <= 0 {
		cfg.MaxInstancesPerClass = 64
	}
	return &Registry{
		classes:      make(map[uint16]*Class),
		maxInstances: cfg.MaxInstancesPerClass,
		codec:        cfg.Codec,
	}
}

// Codec returns the codec used for attribute values.
func (r *Registry) Codec() codec.Codec {
	return r.codec
}

// RegisterClass adds a class with the generic attribute services and the
// standard class attributes.
func (r *Registry) RegisterClass(cfg ClassConfig) (*Class, error) {
	if _, ok := r.classes[cfg.ID]; ok {
		return nil, fmt.Errorf("%w: 0x%02X", ErrClassExists, cfg.ID)
	}
	c := &Class{
		ID:              cfg.ID,
		Name:            cfg.Name,
		Revision:        cfg.Revision,
		GetAllMask:      cfg.GetAllMask,
		ClassGetAllMask: cfg.ClassGetAllMask,
		registry:        r,
		maxInstances:    cfg.MaxInstances,
		instances:       make(map[uint16]*Instance),
		services:        make(map[protocol.ServiceCode]Service),
	}
	if c.maxInstances <= 0 {
		c.maxInstances = r.maxInstances
	}
	if c.ClassGetAllMask == 0 {
		c.ClassGetAllMask = MaskOf(1, 2, 3, 6, 7)
	}
	c.self = &Instance{ID: 0, class: c, attrs: make(map[uint16]*Attribute)}
	for _, a := range []Attribute{
		{Number: 1, Type: codec.TypeUint, Value: &c.Revision, Access: Gettable},
		{Number: 2, Type: codec.TypeUint, Value: &c.maxInstanceID, Access: Gettable},
		{Number: 3, Type: codec.TypeUint, Value: &c.numInstances, Access: Gettable},
		{Number: 6, Type: codec.TypeUint, Value: &c.maxClassAttr, Access: Gettable},
		{Number: 7, Type: codec.TypeUint, Value: &c.maxInstanceAttr, Access: Gettable},
	} {
		if err := c.self.AddAttribute(a); err != nil {
			return nil, err
		}
	}
	c.AddService(Service{Code: spec.CIPServiceGetAttributeSingle, Name: "Get_Attribute_Single", Handler: GetAttributeSingle})
	c.AddService(Service{Code: spec.CIPServiceGetAttributeAll, Name: "Get_Attribute_All", Handler: GetAttributeAll})
	c.AddService(Service{Code: spec.CIPServiceSetAttributeSingle, Name: "Set_Attribute_Single", Handler: SetAttributeSingle})
	r.classes[cfg.ID] = c
	return c, nil
}

// Class looks up a class.
func (r *Registry) Class(id uint16) (*Class, bool) {
	c, ok := r.classes[id]
	return c, ok
}

// Classes returns every class ordered by id.
func (r *Registry) Classes() []*Class {
	out := make([]*Class, 0, len(r.classes))
	for _, c := range r.classes {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// FindInstance resolves class and instance, reporting PathDestinationUnknown
// when either is missing.
func (r *Registry) FindInstance(classID, instanceID uint16) (*Instance, error) {
	c, ok := r.classes[classID]
	if !ok {
		return nil, Status(spec.StatusPathDestinationUnknown)
	}
	inst, ok := c.Instance(instanceID)
	if !ok {
		return nil, Status(spec.StatusPathDestinationUnknown)
	}
	return inst, nil
}

// GetAttribute returns the encoded value of one attribute regardless of its
// access flags.
func (r *Registry) GetAttribute(classID, instanceID, attr uint16) ([]byte, error) {
	inst, err := r.FindInstance(classID, instanceID)
	if err != nil {
		return nil, err
	}
	a, ok := inst.Attribute(attr)
	if !ok {
		return nil, Status(spec.StatusAttributeNotSupported)
	}
	w := codec.NewWriter(8)
	if _, err := r.codec.Encode(w, a.Type, a.Value); err != nil {
		return nil, err
	}
	return w.Bytes(), nil
}

// CreateInstance adds an instance to the class.
func (c *Class) CreateInstance(id uint16) (*Instance, error) {
	if id == 0 {
		return nil, ErrInvalidInstance
	}
	if _, ok := c.instances[id]; ok {
		return nil, fmt.Errorf("%w: class 0x%02X instance %d", ErrInstanceExists, c.ID, id)
	}
	if len(c.instances) >= c.maxInstances {
		return nil, fmt.Errorf("%w: class 0x%02X holds %d", ErrInstanceLimit, c.ID, c.maxInstances)
	}
	inst := &Instance{ID: id, class: c, attrs: make(map[uint16]*Attribute)}
	c.instances[id] = inst
	c.numInstances = uint16(len(c.instances))
	if id > c.maxInstanceID {
		c.maxInstanceID = id
	}
	return inst, nil
}

// Instance looks up an instance; id 0 returns the class pseudo-instance.
func (c *Class) Instance(id uint16) (*Instance, bool) {
	if id == 0 {
		return c.self, true
	}
	inst, ok := c.instances[id]
	return inst, ok
}

// Instances returns the instances ordered by id, without the class
// pseudo-instance.
func (c *Class) Instances() []*Instance {
	out := make([]*Instance, 0, len(c.instances))
	for _, inst := range c.instances {
		out = append(out, inst)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// AddService registers s, replacing any service with the same code.
func (c *Class) AddService(s Service) {
	c.services[s.Code] = s
}

// Service looks up a service.
func (c *Class) Service(code protocol.ServiceCode) (Service, bool) {
	s, ok := c.services[code]
	return s, ok
}

// InvokeService runs a service against inst and returns the reply envelope.
func (c *Class) InvokeService(inst *Instance, req *protocol.Request) protocol.Response {
	resp := protocol.NewResponse(*req)
	svc, ok := c.services[req.Service]
	if !ok {
		resp.GeneralStatus = spec.StatusServiceNotSupported
		return resp
	}
	if err := svc.Handler(inst, req, &resp); err != nil {
		resp.GeneralStatus, resp.ExtStatus = StatusOf(err)
		resp.Data = nil
	}
	return resp
}

// Class returns the class the instance belongs to.
func (i *Instance) Class() *Class {
	return i.class
}

// AddAttribute adds a to the instance.
func (i *Instance) AddAttribute(a Attribute) error {
	if a.Number == 0 {
		return ErrInvalidNumber
	}
	if _, ok := i.attrs[a.Number]; ok {
		return fmt.Errorf("%w: class 0x%02X instance %d attribute %d", ErrAttributeExists, i.class.ID, i.ID, a.Number)
	}
	attr := a
	i.attrs[a.Number] = &attr
	if i.ID == 0 {
		if a.Number > i.class.maxClassAttr {
			i.class.maxClassAttr = a.Number
		}
	} else if a.Number > i.class.maxInstanceAttr {
		i.class.maxInstanceAttr = a.Number
	}
	return nil
}

// Attribute looks up attribute n.
func (i *Instance) Attribute(n uint16) (*Attribute, bool) {
	a, ok := i.attrs[n]
	return a, ok
}

// Attributes returns the attributes ordered by number.
func (i *Instance) Attributes() []*Attribute {
	out := make([]*Attribute, 0, len(i.attrs))
	for _, a := range i.attrs {
		out = append(out, a)
	}
	sort.Slice(out, func(x, y int) bool { return out[x].Number < out[y].Number })
	return out
}

func (i *Instance) getAllMask() Mask {
	if i.ID == 0 {
		return i.class.ClassGetAllMask
	}
	return i.class.GetAllMask
}
