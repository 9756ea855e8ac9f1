package router

// Message Router: resolves class, instance and service for a request and
// always produces a reply envelope.

import (
	"github.com/tturner/cipadapter/internal/cip/codec"
	"github.com/tturner/cipadapter/internal/cip/object"
	"github.com/tturner/cipadapter/internal/cip/protocol"
	"github.com/tturner/cipadapter/internal/cip/spec"
	"github.com/tturner/cipadapter/internal/logging"
)

// Router dispatches explicit requests into the object registry.
type Router struct {
	registry *object.Registry
	logger   *logging.Logger
	self     *object.Instance
}

// New registers the Message Router object (class 0x02, instance 1) with the
// Multiple Service Packet service and returns the router.
func New(reg *object.Registry, logger *logging.Logger) (*Router, error) {
	if logger == nil {
		logger = logging.NewNop()
	}
	r := &Router{registry: reg, logger: logger}
	class, err := reg.RegisterClass(object.ClassConfig{
		ID:       spec.CIPClassMessageRouter,
		Name:     "Message Router",
		Revision: 1,
	})
	if err != nil {
		return nil, err
	}
	r.self, err = class.CreateInstance(1)
	if err != nil {
		return nil, err
	}
	class.AddService(object.Service{
		Code:    spec.CIPServiceMultipleService,
		Name:    "Multiple_Service_Packet",
		Handler: r.multipleService,
	})
	return r, nil
}

// Registry returns the registry the router dispatches into.
func (r *Router) Registry() *object.Registry {
	return r.registry
}

// Dispatch resolves the class, then the instance (0 is the class itself), then
// the service. A miss at any step yields the matching error status with an
// empty payload.
func (r *Router) Dispatch(req *protocol.Request) protocol.Response {
	class, ok := r.registry.Class(req.Path.Class)
	if !ok {
		r.logger.Debug("dispatch: class 0x%02X unknown", req.Path.Class)
		return errorResponse(req.Service, spec.StatusPathDestinationUnknown)
	}
	inst, ok := class.Instance(req.Path.Instance)
	if !ok {
		r.logger.Debug("dispatch: class 0x%02X instance %d unknown", req.Path.Class, req.Path.Instance)
		return errorResponse(req.Service, spec.StatusPathDestinationUnknown)
	}
	resp := class.InvokeService(inst, req)
	r.logger.Debug("dispatch: %s %s status=0x%02X len=%d",
		spec.ServiceName(req.Service), req.Path, resp.GeneralStatus, len(resp.Data))
	return resp
}

// Handle decodes a raw Message Router request, dispatches it and returns the
// encoded reply.
func (r *Router) Handle(data []byte, origin protocol.Origin) []byte {
	resp := r.HandleRequest(data, origin)
	return resp.Encode()
}

// HandleRequest is Handle without the final encoding.
func (r *Router) HandleRequest(data []byte, origin protocol.Origin) protocol.Response {
	req, err := protocol.DecodeRequest(data)
	if err != nil {
		r.logger.Verbose("undecodable request from %s: %v", origin.Addr, err)
		general, ext := object.StatusOf(err)
		if general == spec.StatusNotEnoughData && req.Service != 0 {
			// a truncated path is still a path error
			general = spec.StatusPathSegmentError
		}
		return protocol.Response{Service: req.Service.Reply(), GeneralStatus: general, ExtStatus: ext}
	}
	req.Origin = origin
	return r.Dispatch(&req)
}

func errorResponse(service protocol.ServiceCode, general uint8, ext ...uint16) protocol.Response {
	return protocol.Response{Service: service.Reply(), GeneralStatus: general, ExtStatus: ext}
}

// multipleService runs each embedded request in order. The reply carries the
// count, an offset table relative to the count field and every embedded reply.
func (r *Router) multipleService(_ *object.Instance, req *protocol.Request, resp *protocol.Response) error {
	c := codec.NewCursor(req.Data)
	count, err := c.Uint16()
	if err != nil {
		return err
	}
	offsets := make([]uint16, count)
	for i := range offsets {
		if offsets[i], err = c.Uint16(); err != nil {
			return err
		}
	}
	bodies := make([][]byte, len(offsets))
	for i, off := range offsets {
		end := len(req.Data)
		if i+1 < len(offsets) {
			end = int(offsets[i+1])
		}
		if int(off) < 2+2*len(offsets) || int(off) > end || end > len(req.Data) {
			return object.Status(spec.StatusInvalidParameter)
		}
		bodies[i] = req.Data[off:end]
	}

	replies := make([][]byte, len(bodies))
	failed := false
	for i, body := range bodies {
		sub := r.HandleRequest(body, req.Origin)
		if sub.GeneralStatus != spec.StatusSuccess {
			failed = true
		}
		replies[i] = sub.Encode()
	}

	resp.Data = EncodeMultipleService(replies)
	if failed {
		resp.GeneralStatus = spec.StatusEmbeddedServiceError
	}
	return nil
}

// EncodeMultipleService builds a Multiple Service Packet body, request or
// reply, from already encoded members.
func EncodeMultipleService(members [][]byte) []byte {
	w := codec.NewWriter(64)
	w.PutUint16(uint16(len(members)))
	next := 2 + 2*len(members)
	for _, b := range members {
		w.PutUint16(uint16(next))
		next += len(b)
	}
	for _, b := range members {
		w.PutBytes(b)
	}
	return w.Bytes()
}
