package audio

import (
	"bytes"
	"encoding/binary"
	"time"
)

// wavHeaderSize is the size of the canonical 44-byte PCM WAV header
const wavHeaderSize = 44

// Format describes interleaved little-endian PCM
type Format struct {
	SampleRate    int
	Channels      int
	BitsPerSample int
}

// BytesPerSecond returns the PCM byte rate
func (f Format) BytesPerSecond() int {
	return f.SampleRate * f.Channels * f.BitsPerSample / 8
}

// BytesFor returns the PCM size of d, rounded down to whole frames
func (f Format) BytesFor(d time.Duration) int {
	frame := f.Channels * f.BitsPerSample / 8
	if frame <= 0 {
		return 0
	}
	n := int(int64(f.BytesPerSecond()) * int64(d) / int64(time.Second))
	return n - n%frame
}

// Segment is one fixed-duration slice of decoded audio
type Segment struct {
	Seq      int
	PCM      []byte
	Format   Format
	Duration time.Duration
}

// EncodedSize is the size of the segment once framed as WAV
func (s Segment) EncodedSize() int {
	return len(s.PCM) + wavHeaderSize
}

// WAV frames the segment as a standalone WAV file
func (s Segment) WAV() []byte {
	return EncodeWAV(s.PCM, s.Format)
}

// EncodeWAV wraps raw PCM in a RIFF/WAVE header
func EncodeWAV(pcm []byte, f Format) []byte {
	byteRate := uint32(f.BytesPerSecond())
	blockAlign := uint16(f.Channels * f.BitsPerSample / 8)
	dataLen := uint32(len(pcm))
	riffSize := uint32(4 + (8 + 16) + (8 + dataLen))

	buf := bytes.NewBuffer(make([]byte, 0, wavHeaderSize+len(pcm)))
	buf.WriteString("RIFF")
	binary.Write(buf, binary.LittleEndian, riffSize)
	buf.WriteString("WAVE")
	buf.WriteString("fmt ")
	binary.Write(buf, binary.LittleEndian, uint32(16))
	binary.Write(buf, binary.LittleEndian, uint16(1)) // PCM
	binary.Write(buf, binary.LittleEndian, uint16(f.Channels))
	binary.Write(buf, binary.LittleEndian, uint32(f.SampleRate))
	binary.Write(buf, binary.LittleEndian, byteRate)
	binary.Write(buf, binary.LittleEndian, blockAlign)
	binary.Write(buf, binary.LittleEndian, uint16(f.BitsPerSample))
	buf.WriteString("data")
	binary.Write(buf, binary.LittleEndian, dataLen)
	buf.Write(pcm)
	return buf.Bytes()
}
