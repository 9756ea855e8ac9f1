package enip

// EtherNet/IP encapsulation header and command helpers.

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// HeaderSize is the fixed encapsulation header length.
const HeaderSize = 24

// ProtocolVersion is the encapsulation protocol version this stack supports.
const ProtocolVersion = 1

// Encapsulation commands.
const (
	ENIPCommandNOP               uint16 = 0x0000
	ENIPCommandListServices      uint16 = 0x0004
	ENIPCommandListIdentity      uint16 = 0x0063
	ENIPCommandListInterfaces    uint16 = 0x0064
	ENIPCommandRegisterSession   uint16 = 0x0065
	ENIPCommandUnregisterSession uint16 = 0x0066
	ENIPCommandSendRRData        uint16 = 0x006F
	ENIPCommandSendUnitData      uint16 = 0x0070
)

// Encapsulation status codes.
const (
	ENIPStatusSuccess              uint32 = 0x0000
	ENIPStatusInvalidCommand       uint32 = 0x0001
	ENIPStatusInsufficientMemory   uint32 = 0x0002
	ENIPStatusIncorrectData        uint32 = 0x0003
	ENIPStatusInvalidSessionHandle uint32 = 0x0064
	ENIPStatusInvalidLength        uint32 = 0x0065
	ENIPStatusUnsupportedProtocol  uint32 = 0x0069
)

var (
	ErrShortHeader    = errors.New("encapsulation header too short")
	ErrLengthMismatch = errors.New("encapsulation length exceeds received data")
)

// ENIPEncapsulation is one encapsulation frame.
type ENIPEncapsulation struct {
	Command       uint16
	Length        uint16
	SessionID     uint32
	Status        uint32
	SenderContext [8]byte
	Options       uint32
	Data          []byte
}

// EncodeENIP encodes the frame. Length is taken from Data.
func EncodeENIP(encap ENIPEncapsulation) []byte {
	packet := make([]byte, HeaderSize+len(encap.Data))
	binary.LittleEndian.PutUint16(packet[0:2], encap.Command)
	binary.LittleEndian.PutUint16(packet[2:4], uint16(len(encap.Data)))
	binary.LittleEndian.PutUint32(packet[4:8], encap.SessionID)
	binary.LittleEndian.PutUint32(packet[8:12], encap.Status)
	copy(packet[12:20], encap.SenderContext[:])
	binary.LittleEndian.PutUint32(packet[20:24], encap.Options)
	copy(packet[HeaderSize:], encap.Data)
	return packet
}

// DecodeENIP decodes one frame. Bytes past the declared length are ignored;
// a declared length larger than the received data is an error.
func DecodeENIP(packet []byte) (ENIPEncapsulation, error) {
	var encap ENIPEncapsulation
	if len(packet) < HeaderSize {
		return encap, fmt.Errorf("%w: %d bytes", ErrShortHeader, len(packet))
	}
	encap.Command = binary.LittleEndian.Uint16(packet[0:2])
	encap.Length = binary.LittleEndian.Uint16(packet[2:4])
	encap.SessionID = binary.LittleEndian.Uint32(packet[4:8])
	encap.Status = binary.LittleEndian.Uint32(packet[8:12])
	copy(encap.SenderContext[:], packet[12:20])
	encap.Options = binary.LittleEndian.Uint32(packet[20:24])
	end := HeaderSize + int(encap.Length)
	if end > len(packet) {
		return encap, fmt.Errorf("%w: declared %d, have %d", ErrLengthMismatch, encap.Length, len(packet)-HeaderSize)
	}
	encap.Data = packet[HeaderSize:end]
	return encap, nil
}

// FrameLength returns the total length of the frame starting at buf, or 0
// when fewer than HeaderSize bytes are available.
func FrameLength(buf []byte) int {
	if len(buf) < HeaderSize {
		return 0
	}
	return HeaderSize + int(binary.LittleEndian.Uint16(buf[2:4]))
}

// Reply returns a reply frame for req carrying data and status.
func Reply(req ENIPEncapsulation, status uint32, data []byte) []byte {
	return EncodeENIP(ENIPEncapsulation{
		Command:       req.Command,
		SessionID:     req.SessionID,
		Status:        status,
		SenderContext: req.SenderContext,
		Data:          data,
	})
}

// CommandName returns a display name for an encapsulation command.
func CommandName(cmd uint16) string {
	switch cmd {
	case ENIPCommandNOP:
		return "NOP"
	case ENIPCommandListServices:
		return "ListServices"
	case ENIPCommandListIdentity:
		return "ListIdentity"
	case ENIPCommandListInterfaces:
		return "ListInterfaces"
	case ENIPCommandRegisterSession:
		return "RegisterSession"
	case ENIPCommandUnregisterSession:
		return "UnregisterSession"
	case ENIPCommandSendRRData:
		return "SendRRData"
	case ENIPCommandSendUnitData:
		return "SendUnitData"
	}
	return fmt.Sprintf("Command(0x%04X)", cmd)
}

// BuildRegisterSession builds a RegisterSession request.
func BuildRegisterSession(senderContext [8]byte) []byte {
	data := make([]byte, 4)
	binary.LittleEndian.PutUint16(data[0:2], ProtocolVersion)
	return EncodeENIP(ENIPEncapsulation{
		Command:       ENIPCommandRegisterSession,
		SenderContext: senderContext,
		Data:          data,
	})
}

// BuildUnregisterSession builds an UnregisterSession request.
func BuildUnregisterSession(sessionID uint32, senderContext [8]byte) []byte {
	return EncodeENIP(ENIPEncapsulation{
		Command:       ENIPCommandUnregisterSession,
		SessionID:     sessionID,
		SenderContext: senderContext,
	})
}

// BuildListIdentity builds a ListIdentity request. maxDelayMs is stored in
// the first two bytes of the sender context, where targets read the
// broadcast reply delay.
func BuildListIdentity(maxDelayMs uint16) []byte {
	var ctx [8]byte
	binary.LittleEndian.PutUint16(ctx[0:2], maxDelayMs)
	return EncodeENIP(ENIPEncapsulation{
		Command:       ENIPCommandListIdentity,
		SenderContext: ctx,
	})
}

// BuildSendRRData builds a SendRRData request carrying an unconnected message.
func BuildSendRRData(sessionID uint32, senderContext [8]byte, cipData []byte) []byte {
	return EncodeENIP(ENIPEncapsulation{
		Command:       ENIPCommandSendRRData,
		SessionID:     sessionID,
		SenderContext: senderContext,
		Data:          BuildSendRRDataPayload(cipData),
	})
}

// BuildSendUnitData builds a SendUnitData request carrying a connected
// message with its sequence count.
func BuildSendUnitData(sessionID, connectionID uint32, sequence uint16, cipData []byte) []byte {
	return EncodeENIP(ENIPEncapsulation{
		Command:   ENIPCommandSendUnitData,
		SessionID: sessionID,
		Data:      BuildSendUnitDataPayload(connectionID, sequence, cipData),
	})
}
