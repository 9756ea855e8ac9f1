package connmgr

import (
	"github.com/tturner/cipadapter/internal/cip/codec"
	"github.com/tturner/cipadapter/internal/cip/object"
	"github.com/tturner/cipadapter/internal/cip/protocol"
	"github.com/tturner/cipadapter/internal/cip/spec"
)

var errUnconnectedSend = object.Status(spec.StatusConnectionFailure, spec.ExtParameterErrorInUnconnectedSend)

// Register adds the Connection Manager object (class 0x06, instance 1) to
// reg. Instance attributes 1-8 expose the open/close counters.
func (m *Manager) Register(reg *object.Registry) error {
	class, err := reg.RegisterClass(object.ClassConfig{
		ID:         spec.CIPClassConnectionManager,
		Name:       "Connection Manager",
		Revision:   1,
		GetAllMask: object.MaskOf(1, 2, 3, 4, 5, 6, 7, 8),
	})
	if err != nil {
		return err
	}
	inst, err := class.CreateInstance(1)
	if err != nil {
		return err
	}
	counters := []*uint16{
		&m.counters.OpenRequests,
		&m.counters.OpenFormatRejects,
		&m.counters.OpenResourceRejects,
		&m.counters.OpenOtherRejects,
		&m.counters.CloseRequests,
		&m.counters.CloseFormatRequests,
		&m.counters.CloseOtherRequests,
		&m.counters.ConnectionTimeouts,
	}
	for i, v := range counters {
		if err := inst.AddAttribute(object.Attribute{
			Number: uint16(i + 1),
			Type:   codec.TypeUint,
			Value:  v,
			Access: object.Gettable,
		}); err != nil {
			return err
		}
	}

	for _, s := range []object.Service{
		{Code: spec.CIPServiceForwardOpen, Name: "Forward_Open", Handler: m.serviceForwardOpen},
		{Code: spec.CIPServiceLargeForwardOpen, Name: "Large_Forward_Open", Handler: m.serviceForwardOpen},
		{Code: spec.CIPServiceForwardClose, Name: "Forward_Close", Handler: m.serviceForwardClose},
		{Code: spec.CIPServiceUnconnectedSend, Name: "Unconnected_Send", Handler: m.serviceUnconnectedSend},
		{Code: spec.CIPServiceGetConnectionData, Name: "Get_Connection_Data", Handler: m.serviceGetConnectionData},
		{Code: spec.CIPServiceSearchConnectionData, Name: "Search_Connection_Data", Handler: m.serviceSearchConnectionData},
		{Code: spec.CIPServiceGetConnectionOwner, Name: "Get_Connection_Owner", Handler: m.serviceGetConnectionOwner},
	} {
		class.AddService(s)
	}
	return nil
}

func (m *Manager) serviceForwardOpen(_ *object.Instance, req *protocol.Request, resp *protocol.Response) error {
	large := req.Service == spec.CIPServiceLargeForwardOpen
	fo, err := DecodeForwardOpen(req.Data, large)
	if err != nil {
		m.counters.OpenRequests++
		m.counters.OpenFormatRejects++
		m.logger.Verbose("forward open from %s: %v", req.Origin.Addr, err)
		return object.Status(spec.StatusNotEnoughData)
	}
	c, err := m.ForwardOpen(fo, req.Origin)
	if err != nil {
		oe := err.(*OpenError)
		resp.GeneralStatus, resp.ExtStatus = oe.Status()
		resp.Data = encodeTriadReply(fo.Triad, 0)
		return nil
	}
	resp.Data = ForwardOpenReply{
		OToTID:  c.ConsumedID,
		TToOID:  c.ProducedID,
		Triad:   c.Triad,
		OToTAPI: c.OToTAPI,
		TToOAPI: c.TToOAPI,
	}.Encode()
	if c.TToO.Type == ConnectionTypeMulticast {
		resp.TToOSockAddr = c.Destination
	}
	return nil
}

func (m *Manager) serviceForwardClose(_ *object.Instance, req *protocol.Request, resp *protocol.Response) error {
	fc, err := DecodeForwardClose(req.Data)
	if err != nil {
		m.counters.CloseRequests++
		m.counters.CloseFormatRequests++
		return object.Status(spec.StatusNotEnoughData)
	}
	if err := m.ForwardClose(fc, req.Origin); err != nil {
		oe := err.(*OpenError)
		resp.GeneralStatus, resp.ExtStatus = oe.Status()
	}
	resp.Data = encodeTriadReply(fc.Triad, 0)
	return nil
}

// serviceUnconnectedSend unwraps a request routed to this device and
// returns the embedded request's own reply.
func (m *Manager) serviceUnconnectedSend(_ *object.Instance, req *protocol.Request, resp *protocol.Response) error {
	c := codec.NewCursor(req.Data)
	if err := c.Skip(2); err != nil {
		return errUnconnectedSend
	}
	size, err := c.Uint16()
	if err != nil {
		return errUnconnectedSend
	}
	msg, err := c.Bytes(int(size))
	if err != nil || size == 0 {
		return errUnconnectedSend
	}
	if size%2 == 1 {
		if err := c.Skip(1); err != nil {
			return errUnconnectedSend
		}
	}
	words, err := c.Uint8()
	if err != nil {
		return errUnconnectedSend
	}
	if err := c.Skip(1); err != nil {
		return errUnconnectedSend
	}
	route, err := c.Bytes(int(words) * 2)
	if err != nil {
		return errUnconnectedSend
	}
	local, err := decodeRoute(route)
	if err != nil {
		return errUnconnectedSend
	}
	if !local {
		return object.Status(spec.StatusConnectionFailure, spec.ExtPortNotAvailable)
	}
	if m.msg == nil {
		return object.Status(spec.StatusServiceNotSupported)
	}
	*resp = m.msg.HandleRequest(msg, req.Origin)
	return nil
}

func (m *Manager) serviceGetConnectionData(_ *object.Instance, req *protocol.Request, resp *protocol.Response) error {
	c := codec.NewCursor(req.Data)
	n, err := c.Uint16()
	if err != nil {
		return object.Status(spec.StatusNotEnoughData)
	}
	if c.Len() > 0 {
		return object.Status(spec.StatusTooMuchData)
	}
	conn, ok := m.LookupNumber(n)
	if !ok {
		return object.Status(spec.StatusConnectionFailure, spec.ExtConnectionNotFoundAtTargetApplication)
	}
	resp.Data = encodeConnectionData(conn)
	return nil
}

func (m *Manager) serviceSearchConnectionData(_ *object.Instance, req *protocol.Request, resp *protocol.Response) error {
	c := codec.NewCursor(req.Data)
	var t Triad
	var err error
	if t.ConnectionSerial, err = c.Uint16(); err != nil {
		return object.Status(spec.StatusNotEnoughData)
	}
	if t.OriginatorVendor, err = c.Uint16(); err != nil {
		return object.Status(spec.StatusNotEnoughData)
	}
	if t.OriginatorSerial, err = c.Uint32(); err != nil {
		return object.Status(spec.StatusNotEnoughData)
	}
	conn, ok := m.LookupTriad(t)
	if !ok {
		return object.Status(spec.StatusConnectionFailure, spec.ExtConnectionNotFoundAtTargetApplication)
	}
	resp.Data = encodeConnectionData(conn)
	return nil
}

// serviceGetConnectionOwner reports the exclusive owner of the application
// object named by the request path.
func (m *Manager) serviceGetConnectionOwner(_ *object.Instance, req *protocol.Request, resp *protocol.Response) error {
	c := codec.NewCursor(req.Data)
	if err := c.Skip(1); err != nil {
		return object.Status(spec.StatusNotEnoughData)
	}
	words, err := c.Uint8()
	if err != nil {
		return object.Status(spec.StatusNotEnoughData)
	}
	raw, err := c.Bytes(int(words) * 2)
	if err != nil {
		return object.Status(spec.StatusNotEnoughData)
	}
	path, err := DecodeConnectionPath(raw)
	if err != nil {
		return object.Status(spec.StatusPathSegmentError)
	}
	points := path.Points
	if len(points) == 0 {
		points = []uint16{path.Instance}
	}

	var owner *Connection
	var total, owners uint8
	for _, conn := range m.active() {
		if conn.Path.Class != path.Class || !conn.uses(points) {
			continue
		}
		total++
		if conn.Type == InstanceExclusiveOwner {
			owners++
			if owner == nil {
				owner = conn
			}
		}
	}
	if total == 0 {
		return object.Status(spec.StatusConnectionFailure, spec.ExtConnectionNotFoundAtTargetApplication)
	}
	w := codec.NewWriter(12)
	w.PutUint8(total)
	w.PutUint8(owners)
	w.PutUint8(0) // redundant owners
	w.PutUint8(0) // last action
	if owner != nil {
		w.PutUint16(owner.Triad.ConnectionSerial)
		w.PutUint16(owner.Triad.OriginatorVendor)
		w.PutUint32(owner.Triad.OriginatorSerial)
	} else {
		w.PutZeros(8)
	}
	resp.Data = w.Bytes()
	return nil
}

func (c *Connection) uses(points []uint16) bool {
	for _, p := range points {
		if p == 0 {
			continue
		}
		if c.ConsumingPoint == p || c.ProducingPoint == p || (c.Type == InstanceExplicit && c.Path.Instance == p) {
			return true
		}
	}
	return false
}

// encodeConnectionData writes the Get/Search Connection Data reply.
func encodeConnectionData(c *Connection) []byte {
	w := codec.NewWriter(56)
	w.PutUint16(c.Number)
	w.PutUint16(uint16(c.State))
	w.PutUint16(1) // originator port
	w.PutUint16(1) // target port
	w.PutUint16(c.Triad.ConnectionSerial)
	w.PutUint16(c.Triad.OriginatorVendor)
	w.PutUint32(c.Triad.OriginatorSerial)
	w.PutUint32(c.OriginatorOToTID)
	w.PutUint32(c.ConsumedID)
	w.PutUint8(c.Multiplier)
	w.PutZeros(3)
	w.PutUint32(c.OToTRPI)
	w.PutUint32(c.OToTAPI)
	w.PutUint32(c.OriginatorTToOID)
	w.PutUint32(c.ProducedID)
	w.PutUint8(c.Multiplier)
	w.PutZeros(3)
	w.PutUint32(c.TToORPI)
	w.PutUint32(c.TToOAPI)
	return w.Bytes()
}
