package sstv

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProtocolMessages(t *testing.T) {
	msg := imageStartMessage(Robot36)
	assert.Equal(t, []byte{MsgTypeImageStart, 0, 0, 1, 64, 0, 0, 0, 240}, msg)

	msg = modeDetectedMessage(Robot36)
	require.Len(t, msg, 4+len("Robot 36"))
	assert.Equal(t, []byte{MsgTypeModeDetected, 0x08, 0, 8}, msg[:4])
	assert.Equal(t, "Robot 36", string(msg[4:]))

	msg = statusMessage(StatusLocked, "locked")
	assert.Equal(t, uint8(MsgTypeStatus), msg[0])
	assert.Equal(t, uint8(StatusLocked), msg[1])
	assert.Equal(t, uint16(6), binary.BigEndian.Uint16(msg[2:4]))
	assert.Equal(t, "locked", string(msg[4:]))

	assert.Equal(t, []byte{MsgTypeSyncDetected, 255}, syncDetectedMessage(1))
	assert.Equal(t, []byte{MsgTypeSyncDetected, 0}, syncDetectedMessage(-1))

	assert.Equal(t, []byte{MsgTypeComplete, 0, 0, 0, 240}, completeMessage(240))
	assert.Equal(t, []byte{MsgTypeFSKID, 2, 'K', '1'}, fskIDMessage("K1"))
}

func TestImageLineMessage(t *testing.T) {
	img := NewImage(320, 240)
	img.setRGB(1, 7, 1, 2, 3)

	msg := imageLineMessage(img, 7)
	require.Len(t, msg, 9+320*3)
	assert.Equal(t, uint8(MsgTypeImageLine), msg[0])
	assert.Equal(t, uint32(7), binary.BigEndian.Uint32(msg[1:5]))
	assert.Equal(t, uint32(320), binary.BigEndian.Uint32(msg[5:9]))
	assert.Equal(t, []byte{1, 2, 3}, msg[12:15])
}
