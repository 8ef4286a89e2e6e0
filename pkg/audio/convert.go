package audio

import (
	"encoding/binary"
	"fmt"
)

// Byte layout of a PcmFrame on the wire: samples are signed 32-bit
// little-endian, channels interleaved (L0 R0 L1 R1 …), 4 bytes per sample,
// no padding. DecodeS32LE and EncodeS32LE are the only places that layout is
// spelled out; everything else works on []int32.

// FrameBytes returns the number of wire bytes needed to carry samples samples
// in format f.
func FrameBytes(samples int, f SampleFormat) int {
	return samples * f.SampleSize()
}

// DecodeS32LE decodes little-endian signed 32-bit PCM from src into dst.
// src must hold exactly len(dst)*4 bytes.
func DecodeS32LE(dst PcmFrame, src []byte) error {
	if len(src) != len(dst)*4 {
		return fmt.Errorf("audio: decode s32le: have %d bytes, need %d for %d samples", len(src), len(dst)*4, len(dst))
	}
	for i := range dst {
		dst[i] = int32(binary.LittleEndian.Uint32(src[i*4:]))
	}
	return nil
}

// EncodeS32LE encodes frame as little-endian signed 32-bit PCM, appending to
// dst and returning the extended slice.
func EncodeS32LE(dst []byte, frame PcmFrame) []byte {
	for _, s := range frame {
		dst = binary.LittleEndian.AppendUint32(dst, uint32(s))
	}
	return dst
}
