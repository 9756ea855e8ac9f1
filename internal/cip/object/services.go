package object

import (
	"github.com/tturner/cipadapter/internal/cip/codec"
	"github.com/tturner/cipadapter/internal/cip/protocol"
	"github.com/tturner/cipadapter/internal/cip/spec"
)

// GetAttributeSingle returns the encoded value of the addressed attribute.
func GetAttributeSingle(inst *Instance, req *protocol.Request, resp *protocol.Response) error {
	a, ok := inst.Attribute(req.Path.Attribute)
	if !ok || a.Access&GetSingle == 0 {
		return Status(spec.StatusAttributeNotSupported)
	}
	w := codec.NewWriter(16)
	if _, err := inst.class.registry.codec.Encode(w, a.Type, a.Value); err != nil {
		return err
	}
	resp.Data = w.Bytes()
	return nil
}

// GetAttributeAll concatenates every attribute selected by the get-all mask,
// in attribute order.
func GetAttributeAll(inst *Instance, req *protocol.Request, resp *protocol.Response) error {
	mask := inst.getAllMask()
	if mask == 0 || len(inst.attrs) == 0 {
		return Status(spec.StatusServiceNotSupported)
	}
	cd := inst.class.registry.codec
	w := codec.NewWriter(64)
	for _, a := range inst.Attributes() {
		if !mask.Has(a.Number) || a.Access&GetAll == 0 {
			continue
		}
		if _, err := cd.Encode(w, a.Type, a.Value); err != nil {
			return err
		}
	}
	resp.Data = w.Bytes()
	return nil
}

// SetAttributeSingle decodes the request data into the addressed attribute.
// The value is fully decoded before it is stored.
func SetAttributeSingle(inst *Instance, req *protocol.Request, resp *protocol.Response) error {
	a, ok := inst.Attribute(req.Path.Attribute)
	if !ok || a.Access&SetSingle == 0 {
		return Status(spec.StatusAttributeNotSupported)
	}
	if a.BeforeSet != nil {
		if err := a.BeforeSet(); err != nil {
			return err
		}
	}
	c := codec.NewCursor(req.Data)
	tmp := scratch(a.Value)
	if _, err := inst.class.registry.codec.Decode(c, a.Type, tmp); err != nil {
		return err
	}
	if c.Len() > 0 {
		return Status(spec.StatusTooMuchData)
	}
	commit(a.Value, tmp)
	if a.AfterSet != nil {
		a.AfterSet()
	}
	return nil
}

// SetAttributeAll decodes the request data into every settable attribute
// selected by the get-all mask, in attribute order. Nothing is stored unless
// every value decodes.
func SetAttributeAll(inst *Instance, req *protocol.Request, resp *protocol.Response) error {
	mask := inst.getAllMask()
	cd := inst.class.registry.codec
	c := codec.NewCursor(req.Data)

	type pending struct {
		attr *Attribute
		val  any
	}
	var sets []pending
	for _, a := range inst.Attributes() {
		if !mask.Has(a.Number) || a.Access&SetAll == 0 {
			continue
		}
		if a.BeforeSet != nil {
			if err := a.BeforeSet(); err != nil {
				return err
			}
		}
		tmp := scratch(a.Value)
		if _, err := cd.Decode(c, a.Type, tmp); err != nil {
			return err
		}
		sets = append(sets, pending{attr: a, val: tmp})
	}
	if len(sets) == 0 {
		return Status(spec.StatusServiceNotSupported)
	}
	if c.Len() > 0 {
		return Status(spec.StatusTooMuchData)
	}
	for _, p := range sets {
		commit(p.attr.Value, p.val)
	}
	for _, p := range sets {
		if p.attr.AfterSet != nil {
			p.attr.AfterSet()
		}
	}
	return nil
}
