package audio

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
)

// ErrWAVFormat is returned by [DecodeWAV] for malformed or unsupported RIFF
// data.
var ErrWAVFormat = errors.New("audio: invalid WAV data")

// EncodeWAV wraps normalized float samples in a standard RIFF/WAV container
// as 16-bit signed little-endian mono PCM. The returned byte slice is
// suitable for direct inclusion in a multipart form upload.
func EncodeWAV(samples []float32, sampleRate int) []byte {
	pcm := FloatToPCM16(samples)

	const channels = 1
	const bitsPerSample = 16
	byteRate := sampleRate * channels * bitsPerSample / 8
	blockAlign := channels * bitsPerSample / 8
	dataSize := len(pcm)

	buf := make([]byte, 44+dataSize)

	// RIFF chunk descriptor
	copy(buf[0:4], "RIFF")
	binary.LittleEndian.PutUint32(buf[4:8], uint32(36+dataSize)) // file size − 8
	copy(buf[8:12], "WAVE")

	// fmt sub-chunk
	copy(buf[12:16], "fmt ")
	binary.LittleEndian.PutUint32(buf[16:20], 16)                 // sub-chunk size (PCM)
	binary.LittleEndian.PutUint16(buf[20:22], 1)                  // audio format: PCM
	binary.LittleEndian.PutUint16(buf[22:24], uint16(channels))   // num channels
	binary.LittleEndian.PutUint32(buf[24:28], uint32(sampleRate)) // sample rate
	binary.LittleEndian.PutUint32(buf[28:32], uint32(byteRate))   // byte rate
	binary.LittleEndian.PutUint16(buf[32:34], uint16(blockAlign)) // block align
	binary.LittleEndian.PutUint16(buf[34:36], bitsPerSample)      // bits per sample

	// data sub-chunk
	copy(buf[36:40], "data")
	binary.LittleEndian.PutUint32(buf[40:44], uint32(dataSize))
	copy(buf[44:], pcm)

	return buf
}

// DecodeWAV parses a RIFF/WAV container and returns normalized mono float
// samples plus the sample rate. Supported encodings are 16-bit integer PCM
// and 32-bit IEEE float; multi-channel audio is downmixed to mono. Chunks
// other than fmt and data are skipped.
func DecodeWAV(data []byte) ([]float32, int, error) {
	if len(data) < 12 || string(data[0:4]) != "RIFF" || string(data[8:12]) != "WAVE" {
		return nil, 0, fmt.Errorf("%w: missing RIFF/WAVE header", ErrWAVFormat)
	}

	var (
		audioFormat   uint16
		channels      int
		sampleRate    int
		bitsPerSample int
		pcm           []byte
		haveFmt       bool
	)

	// Walk the chunk list. Chunks are word-aligned; a chunk with an odd size
	// is followed by one padding byte.
	pos := 12
	for pos+8 <= len(data) {
		id := string(data[pos : pos+4])
		size := int(binary.LittleEndian.Uint32(data[pos+4 : pos+8]))
		body := pos + 8
		if size < 0 || body+size > len(data) {
			return nil, 0, fmt.Errorf("%w: chunk %q overruns file", ErrWAVFormat, id)
		}

		switch id {
		case "fmt ":
			if size < 16 {
				return nil, 0, fmt.Errorf("%w: fmt chunk too short", ErrWAVFormat)
			}
			audioFormat = binary.LittleEndian.Uint16(data[body : body+2])
			channels = int(binary.LittleEndian.Uint16(data[body+2 : body+4]))
			sampleRate = int(binary.LittleEndian.Uint32(data[body+4 : body+8]))
			bitsPerSample = int(binary.LittleEndian.Uint16(data[body+14 : body+16]))
			haveFmt = true
		case "data":
			pcm = data[body : body+size]
		}

		pos = body + size
		if size%2 == 1 {
			pos++
		}
	}

	if !haveFmt || pcm == nil {
		return nil, 0, fmt.Errorf("%w: missing fmt or data chunk", ErrWAVFormat)
	}
	if channels <= 0 || sampleRate <= 0 {
		return nil, 0, fmt.Errorf("%w: %s", ErrWAVFormat, formatString(sampleRate, channels))
	}

	var samples []float32
	switch {
	case audioFormat == 1 && bitsPerSample == 16:
		samples = PCM16ToFloat(pcm)
	case audioFormat == 3 && bitsPerSample == 32:
		n := len(pcm) / 4
		samples = make([]float32, n)
		for i := range n {
			samples[i] = math.Float32frombits(binary.LittleEndian.Uint32(pcm[i*4:]))
		}
	default:
		return nil, 0, fmt.Errorf("%w: unsupported encoding (format %d, %d bit)", ErrWAVFormat, audioFormat, bitsPerSample)
	}

	if channels > 1 {
		samples = DownmixFloat(samples, channels)
	}
	return samples, sampleRate, nil
}
