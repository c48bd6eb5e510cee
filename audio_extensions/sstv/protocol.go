package sstv

import "encoding/binary"

// Binary protocol message types
const (
	MsgTypeImageLine    = 0x01
	MsgTypeModeDetected = 0x02
	MsgTypeStatus       = 0x03
	MsgTypeSyncDetected = 0x04
	MsgTypeComplete     = 0x05
	MsgTypeFSKID        = 0x06
	MsgTypeImageStart   = 0x07
)

// Status codes carried by MsgTypeStatus
const (
	StatusWaiting = 0x00
	StatusLocked  = 0x01
	StatusLine    = 0x02
	StatusAborted = 0x03
	StatusError   = 0x04
)

// imageStartMessage: [type:1][width:4][height:4]
func imageStartMessage(m *ModeSpec) []byte {
	msg := make([]byte, 9)
	msg[0] = MsgTypeImageStart
	binary.BigEndian.PutUint32(msg[1:5], uint32(m.ImgWidth))
	binary.BigEndian.PutUint32(msg[5:9], uint32(m.NumLines))
	return msg
}

// modeDetectedMessage: [type:1][vis:1][extended:1][name_len:1][name:len]
func modeDetectedMessage(m *ModeSpec) []byte {
	nameBytes := []byte(m.Name)
	msg := make([]byte, 4+len(nameBytes))
	msg[0] = MsgTypeModeDetected
	msg[1] = uint8(m.VIS)
	msg[2] = 0 // extended VIS is not supported
	msg[3] = uint8(len(nameBytes))
	copy(msg[4:], nameBytes)
	return msg
}

// statusMessage: [type:1][code:1][msg_len:2][message:len]
func statusMessage(code uint8, status string) []byte {
	statusBytes := []byte(status)
	msg := make([]byte, 4+len(statusBytes))
	msg[0] = MsgTypeStatus
	msg[1] = code
	binary.BigEndian.PutUint16(msg[2:4], uint16(len(statusBytes)))
	copy(msg[4:], statusBytes)
	return msg
}

// syncDetectedMessage: [type:1][quality:1]
func syncDetectedMessage(quality float64) []byte {
	return []byte{MsgTypeSyncDetected, clip(quality * 255)}
}

// imageLineMessage: [type:1][line:4][width:4][rgb_data:width*3]
func imageLineMessage(img *Image, y int) []byte {
	lineData := img.Row(y)
	msg := make([]byte, 9+len(lineData))
	msg[0] = MsgTypeImageLine
	binary.BigEndian.PutUint32(msg[1:5], uint32(y))
	binary.BigEndian.PutUint32(msg[5:9], uint32(img.Width()))
	copy(msg[9:], lineData)
	return msg
}

// completeMessage: [type:1][total_lines:4]
func completeMessage(lines int) []byte {
	msg := make([]byte, 5)
	msg[0] = MsgTypeComplete
	binary.BigEndian.PutUint32(msg[1:5], uint32(lines))
	return msg
}

// fskIDMessage: [type:1][len:1][callsign:len]
func fskIDMessage(callsign string) []byte {
	callsignBytes := []byte(callsign)
	msg := make([]byte, 2+len(callsignBytes))
	msg[0] = MsgTypeFSKID
	msg[1] = uint8(len(callsignBytes))
	copy(msg[2:], callsignBytes)
	return msg
}
