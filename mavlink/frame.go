/*
The package mavlink implements the small part of the MAVLink wire protocol that the relay needs: finding frame
boundaries in a byte stream, checking frame checksums and naming frames by their message type. Message payloads
are never decoded, frames travel through the relay as opaque byte buffers.

Both protocol versions are supported:
  v1: 0xFE | len | seq | sysid | compid | msgid | payload | crc
  v2: 0xFD | len | incompat | compat | seq | sysid | compid | msgid (3 bytes) | payload | crc | [signature]
*/
package mavlink

import (
	"fmt"
	"strings"
)

// Start-of-frame markers
const (
	STXv1 byte = 0xFE
	STXv2 byte = 0xFD
)

const (
	headerLenV1    = 6
	headerLenV2    = 10
	checksumLen    = 2
	signatureLen   = 13
	incompatSigned = 0x01
)

// MessageID identifies the message type carried in a frame.
type MessageID uint32

// Message IDs the relay cares about by name. All other IDs are relayed as well, they are just not named.
const (
	Heartbeat                 MessageID = 0
	SysStatus                 MessageID = 1
	SystemTime                MessageID = 2
	Ping                      MessageID = 4
	ChangeOperatorControlAck  MessageID = 6
	SetMode                   MessageID = 11
	ParamRequestRead          MessageID = 20
	ParamRequestList          MessageID = 21
	ParamValue                MessageID = 22
	ParamSet                  MessageID = 23
	GPSRawInt                 MessageID = 24
	Attitude                  MessageID = 30
	GlobalPositionInt         MessageID = 33
	MissionItem               MessageID = 39
	MissionRequest            MessageID = 40
	MissionRequestList        MessageID = 43
	MissionCount              MessageID = 44
	MissionClearAll           MessageID = 45
	MissionAck                MessageID = 47
	VFRHUD                    MessageID = 74
	CommandLong               MessageID = 76
	CommandAck                MessageID = 77
	StatusText                MessageID = 253
	LoggingDataAcked          MessageID = 267
	LoggingAck                MessageID = 268
	CameraTrackingImageStatus MessageID = 275
	CameraTrackingGeoStatus   MessageID = 276
	ParamExtAck               MessageID = 324
)

type messageInfo struct {
	name     string
	crcExtra byte
}

var messages = map[MessageID]messageInfo{
	Heartbeat:                 {"HEARTBEAT", 50},
	SysStatus:                 {"SYS_STATUS", 124},
	SystemTime:                {"SYSTEM_TIME", 137},
	Ping:                      {"PING", 237},
	ChangeOperatorControlAck:  {"CHANGE_OPERATOR_CONTROL_ACK", 104},
	SetMode:                   {"SET_MODE", 89},
	ParamRequestRead:          {"PARAM_REQUEST_READ", 214},
	ParamRequestList:          {"PARAM_REQUEST_LIST", 159},
	ParamValue:                {"PARAM_VALUE", 220},
	ParamSet:                  {"PARAM_SET", 168},
	GPSRawInt:                 {"GPS_RAW_INT", 24},
	Attitude:                  {"ATTITUDE", 39},
	GlobalPositionInt:         {"GLOBAL_POSITION_INT", 104},
	MissionItem:               {"MISSION_ITEM", 254},
	MissionRequest:            {"MISSION_REQUEST", 230},
	MissionRequestList:        {"MISSION_REQUEST_LIST", 132},
	MissionCount:              {"MISSION_COUNT", 221},
	MissionClearAll:           {"MISSION_CLEAR_ALL", 232},
	MissionAck:                {"MISSION_ACK", 153},
	VFRHUD:                    {"VFR_HUD", 20},
	CommandLong:               {"COMMAND_LONG", 152},
	CommandAck:                {"COMMAND_ACK", 143},
	StatusText:                {"STATUSTEXT", 83},
	LoggingDataAcked:          {"LOGGING_DATA_ACKED", 35},
	LoggingAck:                {"LOGGING_ACK", 14},
	CameraTrackingImageStatus: {"CAMERA_TRACKING_IMAGE_STATUS", 126},
	CameraTrackingGeoStatus:   {"CAMERA_TRACKING_GEO_STATUS", 18},
	ParamExtAck:               {"PARAM_EXT_ACK", 132},
}

// String returns the message name, or UNKNOWN_<id> for message types without a name.
func (id MessageID) String() string {
	info, ok := messages[id]
	if !ok {
		return fmt.Sprintf("UNKNOWN_%d", uint32(id))
	}
	return info.name
}

const (
	// CriticalMarker is contained in the type tag of every acknowledgement-class message.
	CriticalMarker = "ACK"
	// BadData is the type tag of an empty frame.
	BadData = "BAD_DATA"
)

// Frame is one complete MAVLink frame. A frame is immutable once it was created.
type Frame struct {
	buf []byte
	id  MessageID
}

// Type returns the type tag of the frame, e.g. ATTITUDE, or BAD_DATA for an empty frame.
func (f Frame) Type() string {
	if len(f.buf) == 0 {
		return BadData
	}
	return f.id.String()
}

// MessageID returns the numeric message type of the frame.
func (f Frame) MessageID() MessageID {
	return f.id
}

// Bytes returns a copy of the raw frame buffer as it travels on the wire.
func (f Frame) Bytes() []byte {
	result := make([]byte, len(f.buf))
	copy(result, f.buf)
	return result
}

// Len returns the size of the raw frame buffer in bytes.
func (f Frame) Len() int {
	return len(f.buf)
}

// Version returns the protocol version of the frame (1 or 2), or 0 for an empty frame.
func (f Frame) Version() int {
	if len(f.buf) == 0 {
		return 0
	}
	if f.buf[0] == STXv2 {
		return 2
	}
	return 1
}

// Critical reports if the frame carries an acknowledgement, which must never be dropped under contention.
func (f Frame) Critical() bool {
	return strings.Contains(f.Type(), CriticalMarker)
}

// IsHeartbeat reports if the frame is a liveness heartbeat.
func (f Frame) IsHeartbeat() bool {
	return len(f.buf) > 0 && f.id == Heartbeat
}

func (f Frame) String() string {
	return fmt.Sprintf("%s (%d bytes)", f.Type(), len(f.buf))
}

// NewFrameV1 builds a v1 frame around the given payload, including the checksum.
func NewFrameV1(seq, system, component byte, id MessageID, payload []byte) (Frame, error) {
	if id > 0xFF {
		return Frame{}, fmt.Errorf("message id %d does not fit into a v1 frame", id)
	}
	if len(payload) > 0xFF {
		return Frame{}, fmt.Errorf("payload too long: %d", len(payload))
	}
	buf := make([]byte, 0, headerLenV1+len(payload)+checksumLen)
	buf = append(buf, STXv1, byte(len(payload)), seq, system, component, byte(id))
	buf = append(buf, payload...)
	crc := frameChecksum(buf[1:], id)
	buf = append(buf, byte(crc), byte(crc>>8))
	return Frame{buf: buf, id: id}, nil
}

// NewFrameV2 builds an unsigned v2 frame around the given payload, including the checksum.
func NewFrameV2(seq, system, component byte, id MessageID, payload []byte) (Frame, error) {
	if id > 0xFFFFFF {
		return Frame{}, fmt.Errorf("message id %d does not fit into a v2 frame", id)
	}
	if len(payload) > 0xFF {
		return Frame{}, fmt.Errorf("payload too long: %d", len(payload))
	}
	buf := make([]byte, 0, headerLenV2+len(payload)+checksumLen)
	buf = append(buf, STXv2, byte(len(payload)), 0, 0, seq, system, component, byte(id), byte(id>>8), byte(id>>16))
	buf = append(buf, payload...)
	crc := frameChecksum(buf[1:], id)
	buf = append(buf, byte(crc), byte(crc>>8))
	return Frame{buf: buf, id: id}, nil
}

// frameChecksum calculates the CRC-16/MCRF4XX over the frame without STX, seeded with the message's CRC extra byte.
func frameChecksum(headerAndPayload []byte, id MessageID) uint16 {
	crc := uint16(0xFFFF)
	for _, b := range headerAndPayload {
		crc = accumulateCRC(crc, b)
	}
	if info, ok := messages[id]; ok {
		crc = accumulateCRC(crc, info.crcExtra)
	}
	return crc
}

func accumulateCRC(crc uint16, b byte) uint16 {
	tmp := b ^ byte(crc&0xFF)
	tmp ^= tmp << 4
	return (crc >> 8) ^ (uint16(tmp) << 8) ^ (uint16(tmp) << 3) ^ (uint16(tmp) >> 4)
}
