package source

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmylchreest/codecconf/internal/media"
)

// cloneTrack deep-copies t so tests can corrupt the copy.
func cloneTrack(t *Track) *Track {
	out := &Track{Format: t.Format.Clone(), Samples: make([]media.Sample, len(t.Samples))}
	for i, s := range t.Samples {
		s.Data = append([]byte(nil), s.Data...)
		out.Samples[i] = s
	}
	return out
}

func TestCompareTracks(t *testing.T) {
	ref, err := SyntheticAAC(48000, 2, 8)
	require.NoError(t, err)

	tests := []struct {
		name      string
		corrupt   func(*Track)
		wantIndex int
		wantIn    string
	}{
		{
			name:      "identical",
			corrupt:   func(*Track) {},
			wantIndex: -2,
		},
		{
			name:      "timestamp within tolerance",
			corrupt:   func(tr *Track) { tr.Samples[3].Info.PresentationTimeUs += 10 },
			wantIndex: -2,
		},
		{
			name:      "timestamp outside tolerance",
			corrupt:   func(tr *Track) { tr.Samples[3].Info.PresentationTimeUs += 500 },
			wantIndex: 3,
			wantIn:    "metadata",
		},
		{
			name:      "payload byte",
			corrupt:   func(tr *Track) { tr.Samples[5].Data[0] ^= 0xff },
			wantIndex: 5,
			wantIn:    "payload",
		},
		{
			name:      "dropped sample",
			corrupt:   func(tr *Track) { tr.Samples = tr.Samples[:7] },
			wantIndex: -1,
			wantIn:    "sample count 8 vs 7",
		},
		{
			name: "different sample rate",
			corrupt: func(tr *Track) {
				f, err := AACFormat(44100, 2)
				require.NoError(t, err)
				tr.Format = f
			},
			wantIndex: -1,
			wantIn:    "format",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			test := cloneTrack(ref)
			tt.corrupt(test)

			err := CompareTracks(ref, test, 12)
			if tt.wantIndex == -2 {
				assert.NoError(t, err)
				return
			}
			var mismatch *TrackMismatch
			require.True(t, errors.As(err, &mismatch), "got %v", err)
			assert.Equal(t, tt.wantIndex, mismatch.Index)
			assert.Contains(t, mismatch.Error(), tt.wantIn)
		})
	}
}

func TestSyntheticAAC(t *testing.T) {
	track, err := SyntheticAAC(44100, 1, 4)
	require.NoError(t, err)
	require.Len(t, track.Samples, 4)

	assert.Equal(t, media.MimeAudioAAC, track.Format.Mime())
	csd, ok := track.Format.Bytes(media.CSDKey(0))
	require.True(t, ok)
	assert.NotEmpty(t, csd)

	// 1024 samples at 44.1 kHz.
	assert.Equal(t, int64(0), track.Samples[0].Info.PresentationTimeUs)
	assert.Equal(t, int64(23219), track.Samples[1].Info.PresentationTimeUs)
	for _, s := range track.Samples {
		assert.True(t, s.Info.Flags.Has(media.FlagKeyFrame))
		assert.Equal(t, len(s.Data), s.Info.Size)
	}
}

func TestCollect_VideoTrack(t *testing.T) {
	v, err := NewVideoSource(VideoConfig{Width: 176, Height: 144, FrameRate: 30, Frames: 6, GOP: 3})
	require.NoError(t, err)

	track, err := v.Track()
	require.NoError(t, err)
	assert.Len(t, track.Samples, 6)

	// Track rewinds, so a second collection sees the same stream.
	again, err := v.Track()
	require.NoError(t, err)
	assert.NoError(t, CompareTracks(track, again, 0))
}
