package source

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmylchreest/codecconf/internal/media"
)

func TestNewPCMSource_Validation(t *testing.T) {
	tests := []struct {
		name     string
		rate     int
		channels int
		chunk    int
		wantErr  bool
	}{
		{"valid", 8000, 1, 1024, false},
		{"zero rate", 0, 1, 1024, true},
		{"zero channels", 8000, 0, 1024, true},
		{"chunk below one frame", 8000, 2, 3, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewPCMSource(nil, tt.rate, tt.channels, tt.chunk)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestPCMSource_TimestampsFollowBytes(t *testing.T) {
	// 8 kHz stereo: 32000 bytes per second.
	data := make([]byte, 10000)
	src, err := NewPCMSource(data, 8000, 2, 4002)
	require.NoError(t, err)

	samples, err := Collect(src)
	require.NoError(t, err)
	require.Len(t, samples, 3)

	assert.Equal(t, 4000, samples[0].Info.Size, "chunk rounded down to whole frames")
	assert.Equal(t, int64(0), samples[0].Info.PresentationTimeUs)
	assert.Equal(t, int64(125000), samples[1].Info.PresentationTimeUs)
	assert.Equal(t, int64(250000), samples[2].Info.PresentationTimeUs)
	assert.Equal(t, 2000, samples[2].Info.Size)
	assert.Equal(t, 10000, src.BytesSubmitted())
}

func TestPCMSource_RestartAfterFlush(t *testing.T) {
	data := make([]byte, 16000)
	src, err := NewPCMSource(data, 8000, 1, 4000)
	require.NoError(t, err)

	_, err = src.ReadSample()
	require.NoError(t, err)
	_, err = src.ReadSample()
	require.NoError(t, err)

	// (8000+1024)*1e6/(2*1*8000)
	assert.Equal(t, int64(564000), src.FlushOffset())
	floor := src.Restart()
	assert.Equal(t, int64(563999), floor)

	s, err := src.ReadSample()
	require.NoError(t, err)
	assert.Equal(t, int64(564000), s.Info.PresentationTimeUs)
	assert.Greater(t, s.Info.PresentationTimeUs, floor)

	src.Rewind()
	s, err = src.ReadSample()
	require.NoError(t, err)
	assert.Zero(t, s.Info.PresentationTimeUs)
}

func TestPCMSource_Format(t *testing.T) {
	src, err := NewPCMSource(nil, 44100, 2, 4096)
	require.NoError(t, err)
	f := src.Format()
	assert.Equal(t, media.MimeAudioRaw, f.Mime())
	assert.Equal(t, 44100, f.IntOr(media.KeySampleRate, 0))
	assert.Equal(t, 2, f.IntOr(media.KeyChannelCount, 0))
	assert.Equal(t, 4096, f.IntOr(media.KeyMaxInputSize, 0))
}

func TestGenerateSine(t *testing.T) {
	pcm := GenerateSine(1000, 8000, 2, 500_000)
	assert.Len(t, pcm, 4000*2*2)

	samples := BytesToInt16(pcm)
	assert.Equal(t, int16(0), samples[0])
	assert.Equal(t, samples[2], samples[3], "channels carry the same tone")
	for _, s := range samples {
		assert.LessOrEqual(t, s, int16(16383))
		assert.GreaterOrEqual(t, s, int16(-16383))
	}
	assert.Equal(t, pcm, Int16ToBytes(samples))
}
