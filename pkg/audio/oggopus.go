package audio

import (
	"encoding/binary"
	"errors"
	"fmt"

	"layeh.com/gopus"
)

// Opus always decodes at 48 kHz; lower-rate streams are upsampled by the
// codec itself. 120 ms is the largest frame duration a single packet may
// carry.
const (
	opusDecodeRate   = 48000
	opusMaxFrameSize = opusDecodeRate * 120 / 1000
)

// ErrOggFormat is returned by [DecodeOggOpus] for data that is not an Ogg
// Opus stream.
var ErrOggFormat = errors.New("audio: invalid Ogg Opus data")

// DecodeOggOpus decodes an Ogg-encapsulated Opus stream into normalized mono
// float samples at 48000 Hz. Stereo streams are downmixed; the pre-skip
// interval declared in the OpusHead is discarded. Callers typically resample
// the result to the pipeline rate with [ResampleFloat].
func DecodeOggOpus(data []byte) ([]float32, int, error) {
	packets, channels, preSkip, err := demuxOggOpus(data)
	if err != nil {
		return nil, 0, err
	}

	dec, err := gopus.NewDecoder(opusDecodeRate, channels)
	if err != nil {
		return nil, 0, fmt.Errorf("audio: create opus decoder: %w", err)
	}

	var pcm []int16
	for _, pkt := range packets {
		frame, err := dec.Decode(pkt, opusMaxFrameSize, false)
		if err != nil {
			// A single damaged packet loses its frame, not the whole clip.
			continue
		}
		pcm = append(pcm, frame...)
	}

	samples := make([]float32, len(pcm))
	for i, s := range pcm {
		samples[i] = float32(s) / 32768.0
	}
	if channels > 1 {
		samples = DownmixFloat(samples, channels)
	}
	if skip := int(preSkip); skip < len(samples) {
		samples = samples[skip:]
	} else {
		samples = nil
	}
	return samples, opusDecodeRate, nil
}

// demuxOggOpus walks the Ogg page sequence, validates the OpusHead header
// packet, and returns the audio packets plus the channel count and pre-skip
// sample count. The OpusTags packet is skipped.
func demuxOggOpus(data []byte) (packets [][]byte, channels int, preSkip uint16, err error) {
	var (
		partial   []byte
		pageIndex int
	)
	pos := 0
	for pos+27 <= len(data) {
		if string(data[pos:pos+4]) != "OggS" {
			return nil, 0, 0, fmt.Errorf("%w: bad capture pattern at offset %d", ErrOggFormat, pos)
		}
		segCount := int(data[pos+26])
		tableStart := pos + 27
		if tableStart+segCount > len(data) {
			return nil, 0, 0, fmt.Errorf("%w: truncated segment table", ErrOggFormat)
		}

		body := tableStart + segCount
		for i := range segCount {
			segLen := int(data[tableStart+i])
			if body+segLen > len(data) {
				return nil, 0, 0, fmt.Errorf("%w: truncated page body", ErrOggFormat)
			}
			partial = append(partial, data[body:body+segLen]...)
			body += segLen

			// A lacing value below 255 terminates the packet.
			if segLen < 255 {
				packets = append(packets, partial)
				partial = nil
			}
		}
		pos = body
		pageIndex++
	}
	if len(packets) == 0 {
		return nil, 0, 0, fmt.Errorf("%w: no packets", ErrOggFormat)
	}

	head := packets[0]
	if len(head) < 19 || string(head[0:8]) != "OpusHead" {
		return nil, 0, 0, fmt.Errorf("%w: missing OpusHead", ErrOggFormat)
	}
	channels = int(head[9])
	if channels < 1 || channels > 2 {
		return nil, 0, 0, fmt.Errorf("%w: unsupported channel count %d", ErrOggFormat, channels)
	}
	preSkip = binary.LittleEndian.Uint16(head[10:12])

	// Packet 1 is OpusTags; audio starts at packet 2.
	if len(packets) < 3 {
		return nil, channels, preSkip, nil
	}
	return packets[2:], channels, preSkip, nil
}
