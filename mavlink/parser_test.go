package mavlink

import (
	"bytes"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func attitudeFrame(t *testing.T, seq byte) Frame {
	t.Helper()
	payload := make([]byte, 28)
	for i := range payload {
		payload[i] = seq + byte(i)
	}
	frame, err := NewFrameV2(seq, 1, 1, Attitude, payload)
	require.NoError(t, err)
	return frame
}

func TestFrame_Properties(t *testing.T) {
	tt := []struct {
		desc      string
		id        MessageID
		expected  string
		critical  bool
		heartbeat bool
	}{
		{desc: "attitude", id: Attitude, expected: "ATTITUDE"},
		{desc: "command ack", id: CommandAck, expected: "COMMAND_ACK", critical: true},
		{desc: "mission ack", id: MissionAck, expected: "MISSION_ACK", critical: true},
		{desc: "heartbeat", id: Heartbeat, expected: "HEARTBEAT", heartbeat: true},
		{desc: "unknown", id: 4242, expected: "UNKNOWN_4242"},
	}
	for _, tc := range tt {
		t.Run(tc.desc, func(t *testing.T) {
			frame, err := NewFrameV2(0, 1, 1, tc.id, []byte{1, 2, 3})
			require.NoError(t, err)

			assert.Equal(t, tc.expected, frame.Type())
			assert.Equal(t, tc.critical, frame.Critical())
			assert.Equal(t, tc.heartbeat, frame.IsHeartbeat())
			assert.Equal(t, 2, frame.Version())
		})
	}
}

func TestFrame_AcknowledgementTypes(t *testing.T) {
	tt := []struct {
		desc     string
		id       MessageID
		expected string
		critical bool
	}{
		{desc: "command ack", id: CommandAck, expected: "COMMAND_ACK", critical: true},
		{desc: "mission ack", id: MissionAck, expected: "MISSION_ACK", critical: true},
		{desc: "change operator control ack", id: ChangeOperatorControlAck, expected: "CHANGE_OPERATOR_CONTROL_ACK", critical: true},
		{desc: "logging data acked", id: LoggingDataAcked, expected: "LOGGING_DATA_ACKED", critical: true},
		{desc: "logging ack", id: LoggingAck, expected: "LOGGING_ACK", critical: true},
		{desc: "param ext ack", id: ParamExtAck, expected: "PARAM_EXT_ACK", critical: true},
		{desc: "camera tracking image status", id: CameraTrackingImageStatus, expected: "CAMERA_TRACKING_IMAGE_STATUS", critical: true},
		{desc: "camera tracking geo status", id: CameraTrackingGeoStatus, expected: "CAMERA_TRACKING_GEO_STATUS", critical: true},
		{desc: "command long", id: CommandLong, expected: "COMMAND_LONG"},
	}
	for _, tc := range tt {
		t.Run(tc.desc, func(t *testing.T) {
			frame, err := NewFrameV2(7, 1, 1, tc.id, []byte{1, 2, 3, 4})
			require.NoError(t, err)

			parsed := Parse(frame.Bytes())

			require.Len(t, parsed, 1)
			assert.Equal(t, frame, parsed[0])
			assert.Equal(t, tc.expected, parsed[0].Type())
			assert.Equal(t, tc.critical, parsed[0].Critical())
		})
	}
}

func TestFrame_Empty(t *testing.T) {
	var frame Frame

	assert.Equal(t, BadData, frame.Type())
	assert.False(t, frame.IsHeartbeat())
	assert.False(t, frame.Critical())
	assert.Equal(t, 0, frame.Version())
}

func TestNewFrame_Length(t *testing.T) {
	v2 := attitudeFrame(t, 0)
	assert.Equal(t, 40, v2.Len())

	v1, err := NewFrameV1(0, 1, 1, Heartbeat, make([]byte, 9))
	require.NoError(t, err)
	assert.Equal(t, 17, v1.Len())
	assert.Equal(t, 1, v1.Version())

	_, err = NewFrameV1(0, 1, 1, 300, nil)
	assert.Error(t, err)
}

func TestFrame_BytesIsACopy(t *testing.T) {
	frame := attitudeFrame(t, 1)
	buf := frame.Bytes()
	buf[0] = 0

	assert.Equal(t, STXv2, frame.Bytes()[0])
}

func TestParse(t *testing.T) {
	a := attitudeFrame(t, 1)
	b, err := NewFrameV1(2, 1, 1, CommandAck, []byte{0x10, 0x00, 0x00})
	require.NoError(t, err)
	c := attitudeFrame(t, 3)

	corrupted := a.Bytes()
	corrupted[len(corrupted)-2] = 0
	corrupted[len(corrupted)-1] = 0

	tt := []struct {
		desc     string
		buf      []byte
		expected []Frame
	}{
		{
			desc:     "empty",
			expected: []Frame{},
		},
		{
			desc:     "sequence",
			buf:      concat(a.Bytes(), b.Bytes(), c.Bytes()),
			expected: []Frame{a, b, c},
		},
		{
			desc:     "leading garbage",
			buf:      concat([]byte{0x00, 0x12, 0x34}, b.Bytes()),
			expected: []Frame{b},
		},
		{
			desc:     "truncated tail",
			buf:      concat(a.Bytes(), c.Bytes()[:20]),
			expected: []Frame{a},
		},
		{
			desc:     "bad checksum",
			buf:      concat(corrupted, b.Bytes()),
			expected: []Frame{b},
		},
	}
	for _, tc := range tt {
		t.Run(tc.desc, func(t *testing.T) {
			actual := Parse(tc.buf)
			assert.Equal(t, tc.expected, actual)
		})
	}
}

func TestReader_Read(t *testing.T) {
	a := attitudeFrame(t, 1)
	b, err := NewFrameV1(2, 1, 1, Heartbeat, make([]byte, 9))
	require.NoError(t, err)
	stream := bytes.NewReader(concat([]byte{0x42, 0xFE}, a.Bytes(), []byte{0x00}, b.Bytes()))

	reader := NewReader(stream)

	first, err := reader.Read()
	require.NoError(t, err)
	assert.Equal(t, a, first)

	second, err := reader.Read()
	require.NoError(t, err)
	assert.Equal(t, b, second)

	_, err = reader.Read()
	assert.Equal(t, io.EOF, err)
}

func concat(parts ...[]byte) []byte {
	result := []byte{}
	for _, part := range parts {
		result = append(result, part...)
	}
	return result
}
