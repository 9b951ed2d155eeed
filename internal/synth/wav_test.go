package synth

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// makeWAV builds a minimal canonical mono 16-bit PCM WAVE stream.
func makeWAV(t *testing.T, sampleData []byte, byteRate uint32) []byte {
	t.Helper()

	buf := make([]byte, 0, 44+len(sampleData))
	buf = append(buf, "RIFF"...)
	buf = binary.LittleEndian.AppendUint32(buf, uint32(36+len(sampleData)))
	buf = append(buf, "WAVE"...)
	buf = append(buf, "fmt "...)
	buf = binary.LittleEndian.AppendUint32(buf, 16)
	buf = binary.LittleEndian.AppendUint16(buf, 1) // PCM
	buf = binary.LittleEndian.AppendUint16(buf, 1) // mono
	buf = binary.LittleEndian.AppendUint32(buf, byteRate/2)
	buf = binary.LittleEndian.AppendUint32(buf, byteRate)
	buf = binary.LittleEndian.AppendUint16(buf, 2)  // block align
	buf = binary.LittleEndian.AppendUint16(buf, 16) // bits per sample
	buf = append(buf, "data"...)
	buf = binary.LittleEndian.AppendUint32(buf, uint32(len(sampleData)))
	buf = append(buf, sampleData...)

	return buf
}

func TestWavDuration(t *testing.T) {
	t.Parallel()

	// 200 bytes at 100 bytes/second is two seconds of audio.
	wav := makeWAV(t, make([]byte, 200), 100)

	duration, err := wavDuration(wav)
	require.NoError(t, err)
	assert.InEpsilon(t, 2.0, duration, 0.001)
}

func TestWavDurationRejectsGarbage(t *testing.T) {
	t.Parallel()

	_, err := wavDuration([]byte("definitely-not-audio"))
	require.ErrorIs(t, err, ErrNotWAV)
}

func TestConcatWAV(t *testing.T) {
	t.Parallel()

	first := makeWAV(t, []byte{1, 2, 3, 4}, 100)
	second := makeWAV(t, []byte{5, 6, 7, 8, 9, 10}, 100)

	combined, err := concatWAV([][]byte{first, second})
	require.NoError(t, err)

	info, err := parseWAV(combined)
	require.NoError(t, err)
	assert.Equal(t, 10, info.dataLength)
	assert.Equal(t, []byte{1, 2, 3, 4, 5, 6, 7, 8, 9, 10},
		combined[info.dataOffset:info.dataOffset+info.dataLength])

	// Duration of the whole equals the sum of the parts.
	total, err := wavDuration(combined)
	require.NoError(t, err)

	firstDuration, err := wavDuration(first)
	require.NoError(t, err)

	secondDuration, err := wavDuration(second)
	require.NoError(t, err)

	assert.InEpsilon(t, firstDuration+secondDuration, total, 0.001)
}

func TestConcatWAVRejectsFormatMismatch(t *testing.T) {
	t.Parallel()

	first := makeWAV(t, []byte{1, 2}, 100)
	second := makeWAV(t, []byte{3, 4}, 200)

	_, err := concatWAV([][]byte{first, second})
	require.ErrorIs(t, err, ErrWAVFormatMismatch)
}

func TestConcatWAVSingleChunkPassesThrough(t *testing.T) {
	t.Parallel()

	wav := makeWAV(t, []byte{1, 2, 3}, 100)

	combined, err := concatWAV([][]byte{wav})
	require.NoError(t, err)
	assert.Equal(t, wav, combined)
}

func TestConcatWAVEmpty(t *testing.T) {
	t.Parallel()

	_, err := concatWAV(nil)
	require.ErrorIs(t, err, ErrNoAudioChunks)
}
