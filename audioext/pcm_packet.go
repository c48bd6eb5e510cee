package audioext

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"sync"
	"time"

	"github.com/klauspost/compress/zstd"
)

// Binary PCM Packet Format
// ========================
//
// Audio reaches an attached extension as binary websocket messages in the
// hybrid PCM packet format. A full header is sent with the first packet and
// whenever the stream parameters change; later packets carry a minimal
// header. Samples are big-endian int16.
//
// FULL HEADER FORMAT (29 bytes):
// ------------------------------
// Offset | Size | Type    | Description
// -------|------|---------|--------------------------------------------------
// 0      | 2    | uint16  | Magic bytes: 0x5043 ("PC" for PCM)
// 2      | 1    | uint8   | Version: 1
// 3      | 1    | uint8   | Format type: 0=PCM, 2=PCM-zstd
// 4      | 8    | uint64  | Sample count of the first sample in the packet
// 12     | 8    | uint64  | Wall clock time in milliseconds
// 20     | 4    | uint32  | Sample rate in Hz
// 24     | 1    | uint8   | Number of channels
// 25     | 4    | uint32  | Reserved
// 29     | N    | []byte  | PCM audio data
//
// MINIMAL HEADER FORMAT (13 bytes):
// ---------------------------------
// 0      | 2    | uint16  | Magic bytes: 0x504D ("PM" for PCM Minimal)
// 2      | 1    | uint8   | Version: 1
// 3      | 8    | uint64  | Sample count
// 11     | 2    | uint16  | Reserved
// 13     | N    | []byte  | PCM audio data
//
// With compression the whole packet, header included, is one zstd frame.
// The decoder recognises the zstd frame magic so no side channel is needed.

const (
	PCMBinaryMagicFull    uint16 = 0x5043 // "PC"
	PCMBinaryMagicMinimal uint16 = 0x504D // "PM"

	PCMBinaryVersion uint8 = 1

	PCMFormatUncompressed uint8 = 0
	PCMFormatZstd         uint8 = 2

	PCMFullHeaderSize    = 29
	PCMMinimalHeaderSize = 13
)

var zstdFrameMagic = []byte{0x28, 0xb5, 0x2f, 0xfd}

// PCMBinaryEncoder packs int16 audio into binary PCM packets
type PCMBinaryEncoder struct {
	useCompression bool
	zstdEncoder    *zstd.Encoder
	encoderMu      sync.Mutex

	lastSampleRate int
	lastChannels   int
	sampleCount    uint64
	packetCount    uint64
}

// zstdEncoderPool provides reusable zstd encoders
var zstdEncoderPool = sync.Pool{
	New: func() interface{} {
		encoder, _ := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
		return encoder
	},
}

// NewPCMBinaryEncoder creates a new PCM binary encoder
func NewPCMBinaryEncoder(useCompression bool) *PCMBinaryEncoder {
	encoder := &PCMBinaryEncoder{
		useCompression: useCompression,
		lastSampleRate: -1, // Force full header on first packet
		lastChannels:   -1,
	}
	if useCompression {
		encoder.zstdEncoder = zstdEncoderPool.Get().(*zstd.Encoder)
	}
	return encoder
}

// EncodePCMPacket encodes one packet of interleaved samples
func (e *PCMBinaryEncoder) EncodePCMPacket(samples []int16, sampleRate, channels int) []byte {
	e.encoderMu.Lock()
	defer e.encoderMu.Unlock()

	pcm := make([]byte, 2*len(samples))
	for i, s := range samples {
		binary.BigEndian.PutUint16(pcm[2*i:], uint16(s))
	}

	var packet []byte
	if e.lastSampleRate != sampleRate || e.lastChannels != channels {
		packet = e.buildFullHeaderPacket(pcm, sampleRate, channels)
		e.lastSampleRate = sampleRate
		e.lastChannels = channels
	} else {
		packet = e.buildMinimalHeaderPacket(pcm)
	}
	e.packetCount++
	e.sampleCount += uint64(len(samples) / max(channels, 1))

	if e.useCompression && e.zstdEncoder != nil {
		return e.zstdEncoder.EncodeAll(packet, make([]byte, 0, len(packet)))
	}
	return packet
}

func (e *PCMBinaryEncoder) buildFullHeaderPacket(pcm []byte, sampleRate, channels int) []byte {
	packet := make([]byte, PCMFullHeaderSize+len(pcm))
	binary.LittleEndian.PutUint16(packet[0:], PCMBinaryMagicFull)
	packet[2] = PCMBinaryVersion
	if e.useCompression {
		packet[3] = PCMFormatZstd
	} else {
		packet[3] = PCMFormatUncompressed
	}
	binary.LittleEndian.PutUint64(packet[4:], e.sampleCount)
	binary.LittleEndian.PutUint64(packet[12:], uint64(time.Now().UnixMilli()))
	binary.LittleEndian.PutUint32(packet[20:], uint32(sampleRate))
	packet[24] = byte(channels)
	binary.LittleEndian.PutUint32(packet[25:], 0)
	copy(packet[PCMFullHeaderSize:], pcm)
	return packet
}

func (e *PCMBinaryEncoder) buildMinimalHeaderPacket(pcm []byte) []byte {
	packet := make([]byte, PCMMinimalHeaderSize+len(pcm))
	binary.LittleEndian.PutUint16(packet[0:], PCMBinaryMagicMinimal)
	packet[2] = PCMBinaryVersion
	binary.LittleEndian.PutUint64(packet[3:], e.sampleCount)
	binary.LittleEndian.PutUint16(packet[11:], 0)
	copy(packet[PCMMinimalHeaderSize:], pcm)
	return packet
}

// Close returns the compressor to the pool
func (e *PCMBinaryEncoder) Close() {
	e.encoderMu.Lock()
	defer e.encoderMu.Unlock()
	if e.zstdEncoder != nil {
		zstdEncoderPool.Put(e.zstdEncoder)
		e.zstdEncoder = nil
	}
}

// PCMPacket is a decoded packet
type PCMPacket struct {
	Samples     []int16
	SampleRate  int
	Channels    int
	SampleCount uint64
	Compressed  bool
}

// PCMBinaryDecoder unpacks binary PCM packets, compressed or not
type PCMBinaryDecoder struct {
	zstdDecoder    *zstd.Decoder
	lastSampleRate int
	lastChannels   int
}

// NewPCMBinaryDecoder creates a new PCM binary decoder
func NewPCMBinaryDecoder() (*PCMBinaryDecoder, error) {
	zstdDec, err := zstd.NewReader(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create zstd decoder: %w", err)
	}
	return &PCMBinaryDecoder{zstdDecoder: zstdDec}, nil
}

// Decode parses one packet. A minimal header packet takes its stream
// parameters from the last full header seen.
func (d *PCMBinaryDecoder) Decode(data []byte) (*PCMPacket, error) {
	pkt := &PCMPacket{}
	if bytes.HasPrefix(data, zstdFrameMagic) {
		decompressed, err := d.zstdDecoder.DecodeAll(data, nil)
		if err != nil {
			return nil, fmt.Errorf("zstd decompression error: %w", err)
		}
		data = decompressed
		pkt.Compressed = true
	}

	if len(data) < 4 {
		return nil, fmt.Errorf("binary PCM packet too short: %d bytes", len(data))
	}

	var pcm []byte
	switch magic := binary.LittleEndian.Uint16(data[0:2]); magic {
	case PCMBinaryMagicFull:
		if len(data) < PCMFullHeaderSize {
			return nil, fmt.Errorf("full header PCM packet too short: %d bytes", len(data))
		}
		pkt.SampleCount = binary.LittleEndian.Uint64(data[4:12])
		pkt.SampleRate = int(binary.LittleEndian.Uint32(data[20:24]))
		pkt.Channels = int(data[24])
		pcm = data[PCMFullHeaderSize:]

		d.lastSampleRate = pkt.SampleRate
		d.lastChannels = pkt.Channels

	case PCMBinaryMagicMinimal:
		if len(data) < PCMMinimalHeaderSize {
			return nil, fmt.Errorf("minimal header PCM packet too short: %d bytes", len(data))
		}
		if d.lastSampleRate == 0 || d.lastChannels == 0 {
			return nil, fmt.Errorf("received minimal header before full header")
		}
		pkt.SampleCount = binary.LittleEndian.Uint64(data[3:11])
		pkt.SampleRate = d.lastSampleRate
		pkt.Channels = d.lastChannels
		pcm = data[PCMMinimalHeaderSize:]

	default:
		return nil, fmt.Errorf("invalid PCM magic bytes: 0x%04X", magic)
	}

	if len(pcm)%2 != 0 {
		return nil, fmt.Errorf("odd PCM payload length: %d bytes", len(pcm))
	}
	pkt.Samples = make([]int16, len(pcm)/2)
	for i := range pkt.Samples {
		pkt.Samples[i] = int16(binary.BigEndian.Uint16(pcm[2*i:]))
	}
	return pkt, nil
}

// Close releases the decompressor
func (d *PCMBinaryDecoder) Close() {
	if d.zstdDecoder != nil {
		d.zstdDecoder.Close()
	}
}
