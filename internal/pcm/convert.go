package pcm

import (
	"encoding/binary"
	"log/slog"
	"math"
)

// PutS16 writes one little endian 16-bit sample at b[0:2].
func PutS16(b []byte, v int16) {
	binary.LittleEndian.PutUint16(b, uint16(v))
}

// FloatToS16 converts a sample in [-1, 1] to 16-bit, clamping out of range input.
func FloatToS16(v float64) int16 {
	if v > 1 {
		v = 1
	} else if v < -1 {
		v = -1
	}
	return int16(v * math.MaxInt16)
}

// AppendFloatsS16 encodes interleaved float samples as s16le onto dst.
func AppendFloatsS16(dst []byte, samples []float32) []byte {
	var b [2]byte
	for _, s := range samples {
		PutS16(b[:], FloatToS16(float64(s)))
		dst = append(dst, b[0], b[1])
	}
	return dst
}

// ApplyVolume scales samples in place. A volume of 1 leaves data untouched.
func ApplyVolume(data []byte, enc Encoding, volume float32) {
	if volume == 1 {
		return
	}
	switch enc {
	case U8:
		for i := range data {
			centered := float32(int(data[i]) - 128)
			data[i] = byte(int(centered*volume) + 128)
		}
	case S16:
		for i := 0; i+1 < len(data); i += 2 {
			sample := int16(binary.LittleEndian.Uint16(data[i:]))
			sample = int16(float32(sample) * volume)
			binary.LittleEndian.PutUint16(data[i:], uint16(sample))
		}
	case S24:
		for i := 0; i+2 < len(data); i += 3 {
			sample := int32(data[i]) | int32(data[i+1])<<8 | int32(data[i+2])<<16
			if sample&0x800000 != 0 {
				sample |= ^0xFFFFFF
			}
			sample = int32(float32(sample) * volume)
			data[i] = byte(sample)
			data[i+1] = byte(sample >> 8)
			data[i+2] = byte(sample >> 16)
		}
	case S32:
		for i := 0; i+3 < len(data); i += 4 {
			sample := int32(binary.LittleEndian.Uint32(data[i:]))
			sample = int32(float32(sample) * volume)
			binary.LittleEndian.PutUint32(data[i:], uint32(sample))
		}
	case F32:
		for i := 0; i+3 < len(data); i += 4 {
			sample := math.Float32frombits(binary.LittleEndian.Uint32(data[i:]))
			binary.LittleEndian.PutUint32(data[i:], math.Float32bits(sample*volume))
		}
	default:
		slog.Warn("volume adjustment not implemented for encoding", "encoding", enc.String())
	}
}
