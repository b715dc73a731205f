package media

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFormat_TypedAccessors(t *testing.T) {
	f := NewFormat().
		SetString(KeyMime, MimeVideoAVC).
		SetInt(KeyWidth, 1920).
		SetInt64(KeyBitRate, 8_000_000).
		SetFloat(KeyFrameRate, 29.97).
		SetBytes(CSDKey(0), []byte{0x67, 0x42})

	mime, ok := f.GetString(KeyMime)
	assert.True(t, ok)
	assert.Equal(t, MimeVideoAVC, mime)

	w, ok := f.Int(KeyWidth)
	assert.True(t, ok)
	assert.Equal(t, 1920, w)

	br, ok := f.Int64(KeyBitRate)
	assert.True(t, ok)
	assert.Equal(t, int64(8_000_000), br)

	fr, ok := f.Float(KeyFrameRate)
	assert.True(t, ok)
	assert.InDelta(t, 29.97, fr, 1e-9)

	_, ok = f.Int(KeyMime)
	assert.False(t, ok, "string value must not read back as int")

	assert.Equal(t, 7, f.IntOr(KeyHeight, 7))
	assert.Equal(t, []string{KeyBitRate, CSDKey(0), KeyFrameRate, KeyMime, KeyWidth}, f.Keys())
}

func TestFormat_CloneIsDeep(t *testing.T) {
	orig := NewFormat().SetBytes(CSDKey(0), []byte{1, 2, 3})
	clone := orig.Clone()

	b, _ := clone.Bytes(CSDKey(0))
	b[0] = 9

	ob, _ := orig.Bytes(CSDKey(0))
	assert.Equal(t, byte(1), ob[0])
}

func TestFormat_CSD(t *testing.T) {
	f := NewFormat().
		SetBytes(CSDKey(0), []byte{0x67}).
		SetBytes(CSDKey(1), []byte{0x68}).
		SetBytes(CSDKey(3), []byte{0xff})

	assert.Equal(t, [][]byte{{0x67}, {0x68}}, f.CSD())
}

func TestWidthHeight_Crop(t *testing.T) {
	tests := []struct {
		name   string
		format *Format
		width  int
		height int
	}{
		{
			name:   "no crop",
			format: NewVideoFormat(MimeVideoRaw, 1920, 1088),
			width:  1920,
			height: 1088,
		},
		{
			name: "crop rectangle",
			format: NewVideoFormat(MimeVideoRaw, 1920, 1088).
				SetInt(KeyCropLeft, 0).SetInt(KeyCropRight, 1919).
				SetInt(KeyCropTop, 0).SetInt(KeyCropBottom, 1079),
			width:  1920,
			height: 1080,
		},
		{
			name:   "partial crop keys ignored",
			format: NewVideoFormat(MimeVideoRaw, 640, 480).SetInt(KeyCropLeft, 10),
			width:  640,
			height: 480,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.width, Width(tt.format))
			assert.Equal(t, tt.height, Height(tt.format))
		})
	}
}

func TestIsFormatSimilar(t *testing.T) {
	tests := []struct {
		name string
		in   *Format
		out  *Format
		want bool
	}{
		{
			name: "audio decoder output",
			in:   NewAudioFormat(MimeAudioAAC, 48000, 2),
			out:  NewAudioFormat(MimeAudioRaw, 48000, 2),
			want: true,
		},
		{
			name: "audio channel mismatch",
			in:   NewAudioFormat(MimeAudioAAC, 48000, 2),
			out:  NewAudioFormat(MimeAudioRaw, 48000, 1),
			want: false,
		},
		{
			name: "video decoder output with crop",
			in:   NewVideoFormat(MimeVideoAVC, 1920, 1080),
			out: NewVideoFormat(MimeVideoRaw, 1920, 1088).
				SetInt(KeyCropLeft, 0).SetInt(KeyCropRight, 1919).
				SetInt(KeyCropTop, 0).SetInt(KeyCropBottom, 1079),
			want: true,
		},
		{
			name: "kind mismatch",
			in:   NewAudioFormat(MimeAudioAAC, 48000, 2),
			out:  NewVideoFormat(MimeVideoRaw, 48000, 2),
			want: false,
		},
		{
			name: "nil output",
			in:   NewAudioFormat(MimeAudioAAC, 48000, 2),
			want: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsFormatSimilar(tt.in, tt.out))
		})
	}
}

func TestIsTrackFormatSimilar(t *testing.T) {
	ref := NewVideoFormat(MimeVideoAVC, 320, 240).SetBytes(CSDKey(0), []byte{0x67, 1}).SetBytes(CSDKey(1), []byte{0x68, 2})

	same := ref.Clone()
	assert.True(t, IsTrackFormatSimilar(ref, same))

	otherCSD := ref.Clone().SetBytes(CSDKey(1), []byte{0x68, 3})
	assert.False(t, IsTrackFormatSimilar(ref, otherCSD))

	missingCSD := ref.Clone()
	missingCSD.Remove(CSDKey(1))
	assert.False(t, IsTrackFormatSimilar(ref, missingCSD))

	otherMime := ref.Clone().SetString(KeyMime, MimeVideoHEVC)
	assert.False(t, IsTrackFormatSimilar(ref, otherMime))
}

func TestValidateColorAspects(t *testing.T) {
	f := NewVideoFormat(MimeVideoRaw, 16, 16).
		SetInt(KeyColorRange, 2).
		SetInt(KeyColorStandard, 1)

	require.NoError(t, ValidateColorAspects(f, 2, 1, -1))

	err := ValidateColorAspects(f, 1, 1, -1)
	var cae *ColorAspectError
	require.True(t, errors.As(err, &cae))
	assert.Equal(t, KeyColorRange, cae.Key)
	assert.Equal(t, 2, cae.Actual)

	err = ValidateColorAspects(f, 2, 1, 3)
	require.True(t, errors.As(err, &cae))
	assert.True(t, cae.Missing)
	assert.Equal(t, KeyColorTransfer, cae.Key)
}
