package audio

import (
	"bytes"
	"encoding/binary"
)

// NewWavBuffer wraps raw PCM in a WAV container for mono 16-bit audio at
// sampleRate, the format every provider in this module captures and streams.
func NewWavBuffer(pcm []byte, sampleRate int) []byte {
	return NewWavBufferFormat(pcm, sampleRate, 1, 16)
}

// NewWavBufferFormat wraps raw PCM in a WAV container for the given sample
// rate, channel count, and bit depth, so callers working with a non-default
// capture format (e.g. stereo exports, a Config.Channels override) don't have
// to hand-roll the RIFF header themselves.
func NewWavBufferFormat(pcm []byte, sampleRate, channels, bitsPerSample int) []byte {
	if channels <= 0 {
		channels = 1
	}
	if bitsPerSample <= 0 {
		bitsPerSample = 16
	}
	blockAlign := channels * bitsPerSample / 8
	byteRate := sampleRate * blockAlign

	buf := new(bytes.Buffer)

	buf.WriteString("RIFF")
	binary.Write(buf, binary.LittleEndian, uint32(36+len(pcm)))
	buf.WriteString("WAVE")

	buf.WriteString("fmt ")
	binary.Write(buf, binary.LittleEndian, uint32(16))
	binary.Write(buf, binary.LittleEndian, uint16(1))
	binary.Write(buf, binary.LittleEndian, uint16(channels))
	binary.Write(buf, binary.LittleEndian, uint32(sampleRate))
	binary.Write(buf, binary.LittleEndian, uint32(byteRate))
	binary.Write(buf, binary.LittleEndian, uint16(blockAlign))
	binary.Write(buf, binary.LittleEndian, uint16(bitsPerSample))

	buf.WriteString("data")
	binary.Write(buf, binary.LittleEndian, uint32(len(pcm)))
	buf.Write(pcm)

	return buf.Bytes()
}
