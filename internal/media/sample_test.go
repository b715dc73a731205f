package media

import (
	"testing"

	"github.com/bluenviron/mediacommon/v2/pkg/formats/mpegts"
	"github.com/stretchr/testify/assert"
)

func TestBufferFlags_String(t *testing.T) {
	tests := []struct {
		flags BufferFlags
		want  string
	}{
		{0, "none"},
		{FlagKeyFrame, "key"},
		{FlagKeyFrame | FlagEndOfStream, "key|eos"},
		{FlagCodecConfig | FlagPartialFrame, "csd|partial"},
		{FlagEndOfStream | 0x40, "eos|0x40"},
	}
	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.flags.String())
		})
	}
}

func TestSampleInfo_HasTimestamp(t *testing.T) {
	assert.True(t, SampleInfo{Size: 10}.HasTimestamp())
	assert.True(t, SampleInfo{Size: 10, Flags: FlagEndOfStream}.HasTimestamp())
	assert.False(t, SampleInfo{Size: 0, Flags: FlagEndOfStream}.HasTimestamp())
	assert.False(t, SampleInfo{Size: 10, Flags: FlagCodecConfig}.HasTimestamp())
	assert.False(t, SampleInfo{Size: 10, Flags: FlagPartialFrame}.HasTimestamp())
}

func TestIsSampleInfoSimilar(t *testing.T) {
	ref := SampleInfo{Size: 100, PresentationTimeUs: 33333, Flags: FlagKeyFrame}

	tests := []struct {
		name string
		test SampleInfo
		tol  int64
		want bool
	}{
		{"identical", ref, 0, true},
		{"within one microsecond", SampleInfo{Size: 100, PresentationTimeUs: 33334, Flags: FlagKeyFrame}, 1, true},
		{"outside tolerance", SampleInfo{Size: 100, PresentationTimeUs: 33336, Flags: FlagKeyFrame}, 1, false},
		{"ts tick tolerance", SampleInfo{Size: 100, PresentationTimeUs: 33322, Flags: FlagKeyFrame}, 12, true},
		{"size differs", SampleInfo{Size: 99, PresentationTimeUs: 33333, Flags: FlagKeyFrame}, 1, false},
		{"flags differ", SampleInfo{Size: 100, PresentationTimeUs: 33333}, 1, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsSampleInfoSimilar(ref, tt.test, tt.tol))
		})
	}

	assert.True(t, IsSampleInfoIdentical(ref, ref))
	assert.False(t, IsSampleInfoIdentical(ref, SampleInfo{Size: 100, PresentationTimeUs: 33334, Flags: FlagKeyFrame}))
}

func TestIsSampleIdentical_IgnoresOffset(t *testing.T) {
	a := NewSample([]byte{1, 2, 3}, 10, FlagKeyFrame)
	b := Sample{
		Data: []byte{0, 0, 1, 2, 3},
		Info: SampleInfo{Offset: 2, Size: 3, PresentationTimeUs: 10, Flags: FlagKeyFrame},
	}
	assert.True(t, IsSampleIdentical(a, b, 0))

	b.Data[4] = 4
	assert.False(t, IsSampleIdentical(a, b, 0))
}

func TestMimeHelpers(t *testing.T) {
	assert.True(t, IsAudioMime(MimeAudioAAC))
	assert.True(t, IsVideoMime("VIDEO/AVC"))
	assert.Equal(t, MimeAudioRaw, RawMimeFor(MimeAudioAAC))
	assert.Equal(t, MimeVideoRaw, RawMimeFor(MimeVideoAVC))

	info, ok := LookupMime(MimeVideoAVC)
	assert.True(t, ok)
	assert.Equal(t, "h264", info.Name)
	assert.True(t, info.Demuxable)

	mime, ok := MimeFromTSCodec(&mpegts.CodecH264{})
	assert.True(t, ok)
	assert.Equal(t, MimeVideoAVC, mime)

	_, ok = MimeFromTSCodec(&mpegts.CodecUnsupported{})
	assert.False(t, ok)
}
