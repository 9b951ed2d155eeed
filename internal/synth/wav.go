package synth

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// Minimum bytes for a RIFF/WAVE header plus one chunk header.
const minWAVSize = 20

var (
	// ErrNotWAV indicates data that does not start with a RIFF/WAVE header.
	ErrNotWAV = errors.New("data is not a RIFF/WAVE stream")
	// ErrWAVFormatMismatch indicates chunks with differing audio formats.
	ErrWAVFormatMismatch = errors.New("wav chunks have differing formats")
	// ErrNoAudioChunks indicates an empty chunk list.
	ErrNoAudioChunks = errors.New("no audio chunks to concatenate")
)

// wavInfo describes the layout of a parsed WAVE stream.
type wavInfo struct {
	byteRate   uint32
	fmtChunk   []byte
	dataOffset int
	dataLength int
}

// parseWAV walks the RIFF chunk list and locates the fmt and data chunks.
func parseWAV(data []byte) (*wavInfo, error) {
	if len(data) < minWAVSize ||
		string(data[0:4]) != "RIFF" ||
		string(data[8:12]) != "WAVE" {
		return nil, ErrNotWAV
	}

	info := &wavInfo{}
	offset := 12

	for offset+8 <= len(data) {
		chunkID := string(data[offset : offset+4])
		chunkSize := int(binary.LittleEndian.Uint32(data[offset+4 : offset+8]))
		body := offset + 8

		if body+chunkSize > len(data) {
			chunkSize = len(data) - body
		}

		switch chunkID {
		case "fmt ":
			if chunkSize < 16 {
				return nil, fmt.Errorf("%w: fmt chunk too short", ErrNotWAV)
			}

			info.fmtChunk = data[body : body+chunkSize]
			info.byteRate = binary.LittleEndian.Uint32(data[body+8 : body+12])
		case "data":
			info.dataOffset = body
			info.dataLength = chunkSize
		}

		// Chunks are word-aligned.
		offset = body + chunkSize + chunkSize%2
	}

	if info.fmtChunk == nil || info.dataOffset == 0 {
		return nil, fmt.Errorf("%w: missing fmt or data chunk", ErrNotWAV)
	}

	return info, nil
}

// wavDuration returns the play time in seconds of a WAVE stream.
func wavDuration(data []byte) (float64, error) {
	info, err := parseWAV(data)
	if err != nil {
		return 0, err
	}

	if info.byteRate == 0 {
		return 0, fmt.Errorf("%w: zero byte rate", ErrNotWAV)
	}

	return float64(info.dataLength) / float64(info.byteRate), nil
}

// concatWAV joins WAVE streams into one seamless stream in order. All chunks
// must share the same format; the total duration equals the sum of the chunk
// durations because the sample data is appended without modification.
func concatWAV(chunks [][]byte) ([]byte, error) {
	if len(chunks) == 0 {
		return nil, ErrNoAudioChunks
	}

	if len(chunks) == 1 {
		return chunks[0], nil
	}

	first, err := parseWAV(chunks[0])
	if err != nil {
		return nil, err
	}

	totalData := 0
	parsed := make([]*wavInfo, len(chunks))

	for i, chunk := range chunks {
		info, parseErr := parseWAV(chunk)
		if parseErr != nil {
			return nil, fmt.Errorf("chunk %d: %w", i+1, parseErr)
		}

		if string(info.fmtChunk) != string(first.fmtChunk) {
			return nil, fmt.Errorf("chunk %d: %w", i+1, ErrWAVFormatMismatch)
		}

		parsed[i] = info
		totalData += info.dataLength
	}

	// Reuse everything before the first chunk's data payload as the header,
	// then append the sample data of every chunk in order.
	header := chunks[0][:first.dataOffset]
	out := make([]byte, 0, len(header)+totalData)
	out = append(out, header...)

	for i, chunk := range chunks {
		info := parsed[i]
		out = append(out, chunk[info.dataOffset:info.dataOffset+info.dataLength]...)
	}

	// Patch the RIFF and data chunk sizes for the combined payload.
	binary.LittleEndian.PutUint32(out[4:8], uint32(len(out)-8))
	binary.LittleEndian.PutUint32(out[first.dataOffset-4:first.dataOffset], uint32(totalData))

	return out, nil
}
