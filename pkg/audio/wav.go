package audio

import (
	"encoding/binary"
	"fmt"
	"math"
)

// Supported per-sample bit depths for EncodeWAV.
const (
	BitDepth8  = 8
	BitDepth16 = 16
)

// DecodeError reports an unsupported or corrupt audio container. Callers can
// distinguish it from environment faults (e.g. a missing decoder binary) via
// errors.As.
type DecodeError struct {
	Reason string
}

func (e *DecodeError) Error() string {
	return "audio: decode: " + e.Reason
}

func decodeErrorf(format string, args ...any) error {
	return &DecodeError{Reason: fmt.Sprintf(format, args...)}
}

// IsWAV reports whether data starts with a RIFF/WAVE header.
func IsWAV(data []byte) bool {
	return len(data) >= 12 && string(data[0:4]) == "RIFF" && string(data[8:12]) == "WAVE"
}

// DecodeWAV parses a RIFF/WAVE container holding integer PCM data (8 or
// 16 bits per sample) and returns the decoded Waveform. Unknown chunks are
// skipped. A data chunk whose declared size is zero, 0xFFFFFFFF, or larger
// than the remaining bytes is treated as extending to the end of the input —
// streaming encoders (ffmpeg writing to a pipe) produce such headers.
func DecodeWAV(data []byte) (*Waveform, error) {
	if !IsWAV(data) {
		return nil, decodeErrorf("not a RIFF/WAVE container")
	}

	var (
		haveFmt    bool
		format     uint16
		channels   int
		sampleRate int
		bits       int
	)

	pos := 12
	for pos+8 <= len(data) {
		id := string(data[pos : pos+4])
		size := int(binary.LittleEndian.Uint32(data[pos+4 : pos+8]))
		body := pos + 8

		switch id {
		case "fmt ":
			if body+16 > len(data) {
				return nil, decodeErrorf("truncated fmt chunk")
			}
			format = binary.LittleEndian.Uint16(data[body : body+2])
			channels = int(binary.LittleEndian.Uint16(data[body+2 : body+4]))
			sampleRate = int(binary.LittleEndian.Uint32(data[body+4 : body+8]))
			bits = int(binary.LittleEndian.Uint16(data[body+14 : body+16]))
			haveFmt = true

		case "data":
			if !haveFmt {
				return nil, decodeErrorf("data chunk before fmt chunk")
			}
			if format != 1 {
				return nil, decodeErrorf("unsupported WAV format code %d (only integer PCM)", format)
			}
			if channels < 1 {
				return nil, decodeErrorf("invalid channel count %d", channels)
			}
			if sampleRate <= 0 {
				return nil, decodeErrorf("invalid sample rate %d", sampleRate)
			}
			if bits != BitDepth8 && bits != BitDepth16 {
				return nil, decodeErrorf("unsupported bit depth %d (only 8 or 16)", bits)
			}
			pcm := data[body:]
			if size > 0 && size != 0xFFFFFFFF && size <= len(pcm) {
				pcm = pcm[:size]
			}
			return decodePCM(pcm, sampleRate, channels, bits)
		}

		if size < 0 || size > len(data)-body {
			break // declared size runs past the input; no data chunk found
		}
		pos = body + size
		if size%2 == 1 {
			pos++ // chunks are word-aligned
		}
	}
	return nil, decodeErrorf("no data chunk found")
}

// decodePCM de-interleaves raw little-endian PCM into per-channel normalised
// float samples.
func decodePCM(pcm []byte, sampleRate, channels, bits int) (*Waveform, error) {
	bytesPerSample := bits / 8
	frameSize := bytesPerSample * channels
	frames := len(pcm) / frameSize

	w := &Waveform{
		SampleRate: sampleRate,
		Channels:   channels,
		Samples:    make([][]float32, channels),
	}
	for ch := range w.Samples {
		w.Samples[ch] = make([]float32, frames)
	}

	for i := range frames {
		base := i * frameSize
		for ch := range channels {
			switch bits {
			case BitDepth8:
				// 8-bit WAV is unsigned, centred on 128.
				s := int(pcm[base+ch]) - 128
				w.Samples[ch][i] = clampUnit(float32(s) / 127)
			case BitDepth16:
				s := int16(binary.LittleEndian.Uint16(pcm[base+ch*2:]))
				w.Samples[ch][i] = clampUnit(float32(s) / 32767)
			}
		}
	}
	return w, nil
}

// EncodeWAV wraps w in a standard RIFF/WAVE container with the given
// per-sample bit depth (8 or 16). A lower bit depth halves the payload size at
// the cost of quantisation noise, which matters when the downstream service
// enforces a request size ceiling.
func EncodeWAV(w *Waveform, bitDepth int) ([]byte, error) {
	if bitDepth != BitDepth8 && bitDepth != BitDepth16 {
		return nil, fmt.Errorf("audio: encode: unsupported bit depth %d (only 8 or 16)", bitDepth)
	}
	if w.SampleRate <= 0 || w.Channels < 1 {
		return nil, fmt.Errorf("audio: encode: invalid waveform format (rate=%d channels=%d)", w.SampleRate, w.Channels)
	}

	bytesPerSample := bitDepth / 8
	frames := w.Len()
	dataSize := frames * w.Channels * bytesPerSample
	byteRate := w.SampleRate * w.Channels * bytesPerSample
	blockAlign := w.Channels * bytesPerSample

	buf := make([]byte, 44+dataSize)

	// RIFF chunk descriptor
	copy(buf[0:4], "RIFF")
	binary.LittleEndian.PutUint32(buf[4:8], uint32(36+dataSize)) // file size − 8
	copy(buf[8:12], "WAVE")

	// fmt sub-chunk
	copy(buf[12:16], "fmt ")
	binary.LittleEndian.PutUint32(buf[16:20], 16) // sub-chunk size (PCM)
	binary.LittleEndian.PutUint16(buf[20:22], 1)  // audio format: PCM
	binary.LittleEndian.PutUint16(buf[22:24], uint16(w.Channels))
	binary.LittleEndian.PutUint32(buf[24:28], uint32(w.SampleRate))
	binary.LittleEndian.PutUint32(buf[28:32], uint32(byteRate))
	binary.LittleEndian.PutUint16(buf[32:34], uint16(blockAlign))
	binary.LittleEndian.PutUint16(buf[34:36], uint16(bitDepth))

	// data sub-chunk
	copy(buf[36:40], "data")
	binary.LittleEndian.PutUint32(buf[40:44], uint32(dataSize))

	out := buf[44:]
	for i := range frames {
		for ch := range w.Channels {
			f := clampUnit(w.Samples[ch][i])
			switch bitDepth {
			case BitDepth8:
				out[i*w.Channels+ch] = byte(int(math.Round(float64(f)*127)) + 128)
			case BitDepth16:
				s := int16(math.Round(float64(f) * 32767))
				binary.LittleEndian.PutUint16(out[(i*w.Channels+ch)*2:], uint16(s))
			}
		}
	}
	return buf, nil
}

func clampUnit(f float32) float32 {
	if f > 1 {
		return 1
	}
	if f < -1 {
		return -1
	}
	return f
}
