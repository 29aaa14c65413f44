package audio

import (
	"bytes"
	"encoding/binary"
)

// WAV wraps raw PCM16 mono samples in a minimal RIFF/WAVE container.
// Batch transcription endpoints want a container, not bare PCM.
func WAV(pcm []byte, sampleRate int) []byte {
	if sampleRate <= 0 {
		sampleRate = SampleRate
	}
	buf := new(bytes.Buffer)

	buf.WriteString("RIFF")
	binary.Write(buf, binary.LittleEndian, uint32(36+len(pcm)))
	buf.WriteString("WAVE")

	buf.WriteString("fmt ")
	binary.Write(buf, binary.LittleEndian, uint32(16))                      // chunk size
	binary.Write(buf, binary.LittleEndian, uint16(1))                       // PCM
	binary.Write(buf, binary.LittleEndian, uint16(1))                       // mono
	binary.Write(buf, binary.LittleEndian, uint32(sampleRate))              // sample rate
	binary.Write(buf, binary.LittleEndian, uint32(sampleRate*BytesPerSample)) // byte rate
	binary.Write(buf, binary.LittleEndian, uint16(BytesPerSample))          // block align
	binary.Write(buf, binary.LittleEndian, uint16(16))                      // bits per sample

	buf.WriteString("data")
	binary.Write(buf, binary.LittleEndian, uint32(len(pcm)))
	buf.Write(pcm)

	return buf.Bytes()
}
