package core

import (
	"encoding/binary"
	"net/netip"

	"github.com/tturner/cipadapter/internal/cip/protocol"
	"github.com/tturner/cipadapter/internal/enip"
	"github.com/tturner/cipadapter/internal/metrics"
)

// handleStreamCommand executes one frame received on a TCP socket and returns
// the reply, or nil when the command has none.
func (e *Engine) handleStreamCommand(s *Stream, encap enip.ENIPEncapsulation) []byte {
	switch encap.Command {
	case enip.ENIPCommandNOP:
		return nil
	case enip.ENIPCommandListServices:
		return enip.Reply(encap, enip.ENIPStatusSuccess, enip.BuildListServicesItems())
	case enip.ENIPCommandListIdentity:
		return e.handleListIdentity(encap)
	case enip.ENIPCommandListInterfaces:
		return enip.Reply(encap, enip.ENIPStatusSuccess, enip.BuildListInterfacesItems())
	case enip.ENIPCommandRegisterSession:
		return e.handleRegisterSession(s, encap)
	case enip.ENIPCommandUnregisterSession:
		return e.handleUnregisterSession(s, encap)
	case enip.ENIPCommandSendRRData:
		return e.handleSendRRData(s, encap)
	case enip.ENIPCommandSendUnitData:
		return e.handleSendUnitData(s, encap)
	default:
		e.logger.Verbose("unsupported command 0x%04X from %s", encap.Command, s.remote)
		e.metrics.Inc(metrics.EncapInvalidCommand)
		return buildErrorResponse(encap, enip.ENIPStatusInvalidCommand)
	}
}

// handleDatagramCommand executes one frame received on the UDP encapsulation
// port. Only the discovery commands are accepted there. The reply is nil when
// nothing is sent immediately.
func (e *Engine) handleDatagramCommand(encap enip.ENIPEncapsulation, from netip.AddrPort, broadcast bool, out PacketWriter) []byte {
	switch encap.Command {
	case enip.ENIPCommandListServices:
		return enip.Reply(encap, enip.ENIPStatusSuccess, enip.BuildListServicesItems())
	case enip.ENIPCommandListInterfaces:
		return enip.Reply(encap, enip.ENIPStatusSuccess, enip.BuildListInterfacesItems())
	case enip.ENIPCommandListIdentity:
		reply := e.handleListIdentity(encap)
		if !broadcast {
			return reply
		}
		e.enqueueDelayed(out, from, reply, enip.ListIdentityDelay(encap.SenderContext))
		return nil
	default:
		e.logger.Verbose("command %s not allowed over UDP from %s", enip.CommandName(encap.Command), from)
		e.metrics.Inc(metrics.EncapInvalidCommand)
		return buildErrorResponse(encap, enip.ENIPStatusInvalidCommand)
	}
}

func (e *Engine) handleListIdentity(encap enip.ENIPEncapsulation) []byte {
	var info enip.IdentityInfo
	if e.identity != nil {
		info = e.identity.IdentityInfo()
	}
	return enip.Reply(encap, enip.ENIPStatusSuccess, enip.BuildListIdentityItems(info))
}

func (e *Engine) handleRegisterSession(s *Stream, encap enip.ENIPEncapsulation) []byte {
	if len(encap.Data) != 4 {
		return buildErrorResponse(encap, enip.ENIPStatusInvalidLength)
	}
	version := binary.LittleEndian.Uint16(encap.Data[0:2])
	options := binary.LittleEndian.Uint16(encap.Data[2:4])
	if version < 1 || version > enip.ProtocolVersion || options != 0 {
		e.logger.Verbose("RegisterSession from %s: version %d options 0x%04X", s.remote, version, options)
		e.metrics.Inc(metrics.SessionsRejected)
		return enip.Reply(encap, enip.ENIPStatusUnsupportedProtocol, encap.Data)
	}
	if s.session != 0 {
		e.metrics.Inc(metrics.SessionsRejected)
		encap.SessionID = s.session
		return enip.Reply(encap, enip.ENIPStatusInvalidCommand, encap.Data)
	}
	slot := -1
	for i, owner := range e.sessions {
		if owner == nil {
			slot = i
			break
		}
	}
	if slot < 0 {
		e.logger.Info("RegisterSession from %s rejected: %d sessions in use", s.remote, len(e.sessions))
		e.metrics.Inc(metrics.SessionsRejected)
		return enip.Reply(encap, enip.ENIPStatusInsufficientMemory, encap.Data)
	}
	e.sessions[slot] = s
	s.session = uint32(slot + 1)
	e.metrics.Inc(metrics.SessionsRegistered)
	e.metrics.Set(metrics.GaugeSessions, int64(e.SessionCount()))
	e.logger.Info("Registered session %d for %s", s.session, s.remote)

	encap.SessionID = s.session
	return enip.Reply(encap, enip.ENIPStatusSuccess, encap.Data)
}

// handleUnregisterSession frees the session. Success has no reply.
func (e *Engine) handleUnregisterSession(s *Stream, encap enip.ENIPEncapsulation) []byte {
	if !e.ownsSession(s, encap.SessionID) {
		return buildErrorResponse(encap, enip.ENIPStatusInvalidSessionHandle)
	}
	e.logger.Info("Unregistered session %d", encap.SessionID)
	e.releaseSession(s)
	return nil
}

func (e *Engine) handleSendRRData(s *Stream, encap enip.ENIPEncapsulation) []byte {
	if len(encap.Data) < 6 {
		return buildErrorResponse(encap, enip.ENIPStatusInvalidLength)
	}
	if !e.ownsSession(s, encap.SessionID) {
		return buildErrorResponse(encap, enip.ENIPStatusInvalidSessionHandle)
	}
	req, err := enip.ParseSendRRDataRequest(encap.Data)
	if err != nil {
		e.logger.Verbose("SendRRData from %s: %v", s.remote, err)
		return buildErrorResponse(encap, enip.ENIPStatusIncorrectData)
	}
	if e.router == nil {
		return buildErrorResponse(encap, enip.ENIPStatusInvalidCommand)
	}
	resp := e.router.HandleRequest(req.CIPData, protocol.Origin{
		Addr:         s.remote,
		Session:      encap.SessionID,
		TToOSockAddr: req.TToO,
	})
	var extra []enip.CPFItem
	if resp.TToOSockAddr.IsValid() {
		extra = append(extra, enip.CPFItem{
			TypeID: enip.CPFItemSockaddrTToO,
			Data:   enip.EncodeSockaddr(resp.TToOSockAddr),
		})
	}
	return enip.Reply(encap, enip.ENIPStatusSuccess, enip.BuildSendRRDataPayload(resp.Encode(), extra...))
}

// handleSendUnitData answers a connected explicit request. Requests for
// unknown connections are dropped without a reply.
func (e *Engine) handleSendUnitData(s *Stream, encap enip.ENIPEncapsulation) []byte {
	if len(encap.Data) < 6 {
		return buildErrorResponse(encap, enip.ENIPStatusInvalidLength)
	}
	if !e.ownsSession(s, encap.SessionID) {
		return buildErrorResponse(encap, enip.ENIPStatusInvalidSessionHandle)
	}
	connID, seq, data, err := enip.ParseSendUnitDataRequest(encap.Data)
	if err != nil {
		e.logger.Verbose("SendUnitData from %s: %v", s.remote, err)
		return buildErrorResponse(encap, enip.ENIPStatusIncorrectData)
	}
	e.metrics.Inc(metrics.ExplicitRequests)
	if e.conns == nil {
		return nil
	}
	reply, ok := e.conns.HandleExplicit(connID, seq, data, encap.SessionID, s.remote)
	if !ok {
		e.metrics.Inc(metrics.ExplicitRejected)
		return nil
	}
	return enip.Reply(encap, enip.ENIPStatusSuccess, enip.BuildSendUnitDataPayload(reply.ConnectionID, reply.Sequence, reply.Data))
}

func buildErrorResponse(encap enip.ENIPEncapsulation, status uint32) []byte {
	return enip.Reply(encap, status, nil)
}
