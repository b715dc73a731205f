package media

import (
	"bytes"
	"fmt"
	"maps"
	"slices"
	"strconv"
	"strings"
)

// Well-known format keys.
const (
	KeyMime          = "mime"
	KeyWidth         = "width"
	KeyHeight        = "height"
	KeySampleRate    = "sample-rate"
	KeyChannelCount  = "channel-count"
	KeyCropLeft      = "crop-left"
	KeyCropRight     = "crop-right"
	KeyCropTop       = "crop-top"
	KeyCropBottom    = "crop-bottom"
	KeyMaxInputSize  = "max-input-size"
	KeyBitRate       = "bitrate"
	KeyFrameRate     = "frame-rate"
	KeyMaxBFrames    = "max-bframes"
	KeyProfile       = "profile"
	KeyLevel         = "level"
	KeyColorRange    = "color-range"
	KeyColorStandard = "color-standard"
	KeyColorTransfer = "color-transfer"
	KeyPCMEncoding   = "pcm-encoding"
)

// CSDKey returns the key of the i-th codec-specific data buffer.
func CSDKey(i int) string {
	return "csd-" + strconv.Itoa(i)
}

// Format is a key-value description of a media stream. Values are stored
// with their type and read back through typed accessors.
type Format struct {
	values map[string]any
}

// NewFormat returns an empty format.
func NewFormat() *Format {
	return &Format{values: make(map[string]any)}
}

// NewAudioFormat returns a format with mime, sample rate and channel count.
func NewAudioFormat(mime string, sampleRate, channels int) *Format {
	f := NewFormat()
	f.SetString(KeyMime, mime)
	f.SetInt(KeySampleRate, sampleRate)
	f.SetInt(KeyChannelCount, channels)
	return f
}

// NewVideoFormat returns a format with mime and dimensions.
func NewVideoFormat(mime string, width, height int) *Format {
	f := NewFormat()
	f.SetString(KeyMime, mime)
	f.SetInt(KeyWidth, width)
	f.SetInt(KeyHeight, height)
	return f
}

func (f *Format) set(key string, v any) *Format {
	if f.values == nil {
		f.values = make(map[string]any)
	}
	f.values[key] = v
	return f
}

// SetString stores a string value.
func (f *Format) SetString(key, v string) *Format { return f.set(key, v) }

// SetInt stores an int value.
func (f *Format) SetInt(key string, v int) *Format { return f.set(key, v) }

// SetInt64 stores an int64 value.
func (f *Format) SetInt64(key string, v int64) *Format { return f.set(key, v) }

// SetFloat stores a float64 value.
func (f *Format) SetFloat(key string, v float64) *Format { return f.set(key, v) }

// SetBytes stores a copy of v.
func (f *Format) SetBytes(key string, v []byte) *Format { return f.set(key, bytes.Clone(v)) }

// Contains reports whether key is present.
func (f *Format) Contains(key string) bool {
	if f == nil {
		return false
	}
	_, ok := f.values[key]
	return ok
}

// Remove deletes key.
func (f *Format) Remove(key string) {
	if f != nil {
		delete(f.values, key)
	}
}

// GetString returns the string stored at key.
func (f *Format) GetString(key string) (string, bool) {
	if f == nil {
		return "", false
	}
	v, ok := f.values[key].(string)
	return v, ok
}

// Int returns the integer stored at key.
func (f *Format) Int(key string) (int, bool) {
	if f == nil {
		return 0, false
	}
	switch v := f.values[key].(type) {
	case int:
		return v, true
	case int64:
		return int(v), true
	default:
		return 0, false
	}
}

// IntOr returns the integer stored at key, or def.
func (f *Format) IntOr(key string, def int) int {
	if v, ok := f.Int(key); ok {
		return v
	}
	return def
}

// Int64 returns the integer stored at key.
func (f *Format) Int64(key string) (int64, bool) {
	if f == nil {
		return 0, false
	}
	switch v := f.values[key].(type) {
	case int64:
		return v, true
	case int:
		return int64(v), true
	default:
		return 0, false
	}
}

// Float returns the number stored at key.
func (f *Format) Float(key string) (float64, bool) {
	if f == nil {
		return 0, false
	}
	switch v := f.values[key].(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	default:
		return 0, false
	}
}

// Bytes returns the byte slice stored at key. The slice must not be modified.
func (f *Format) Bytes(key string) ([]byte, bool) {
	if f == nil {
		return nil, false
	}
	v, ok := f.values[key].([]byte)
	return v, ok
}

// Mime returns the mime type or "".
func (f *Format) Mime() string {
	m, _ := f.GetString(KeyMime)
	return m
}

// Keys returns the keys in sorted order.
func (f *Format) Keys() []string {
	if f == nil {
		return nil
	}
	return slices.Sorted(maps.Keys(f.values))
}

// CSD returns the codec-specific data buffers csd-0, csd-1, ... in order,
// stopping at the first missing index.
func (f *Format) CSD() [][]byte {
	var out [][]byte
	for i := 0; ; i++ {
		b, ok := f.Bytes(CSDKey(i))
		if !ok {
			return out
		}
		out = append(out, b)
	}
}

// Clone returns a deep copy.
func (f *Format) Clone() *Format {
	c := NewFormat()
	if f == nil {
		return c
	}
	for k, v := range f.values {
		if b, ok := v.([]byte); ok {
			v = bytes.Clone(b)
		}
		c.values[k] = v
	}
	return c
}

// String renders the format for logs.
func (f *Format) String() string {
	if f == nil {
		return "<nil>"
	}
	var sb strings.Builder
	sb.WriteByte('{')
	for i, k := range f.Keys() {
		if i > 0 {
			sb.WriteString(", ")
		}
		switch v := f.values[k].(type) {
		case []byte:
			fmt.Fprintf(&sb, "%s=<%d bytes>", k, len(v))
		default:
			fmt.Fprintf(&sb, "%s=%v", k, v)
		}
	}
	sb.WriteByte('}')
	return sb.String()
}

// Summary holds the fields the comparison helpers look at.
type Summary struct {
	Mime         string `json:"mime" yaml:"mime"`
	Width        int    `json:"width,omitempty" yaml:"width,omitempty"`
	Height       int    `json:"height,omitempty" yaml:"height,omitempty"`
	SampleRate   int    `json:"sample_rate,omitempty" yaml:"sample_rate,omitempty"`
	ChannelCount int    `json:"channel_count,omitempty" yaml:"channel_count,omitempty"`
}

// IsAudio reports whether the summary describes audio.
func (s Summary) IsAudio() bool { return IsAudioMime(s.Mime) }

// IsVideo reports whether the summary describes video.
func (s Summary) IsVideo() bool { return IsVideoMime(s.Mime) }

// Summary extracts the comparison fields.
func (f *Format) Summary() Summary {
	return Summary{
		Mime:         f.Mime(),
		Width:        Width(f),
		Height:       Height(f),
		SampleRate:   f.IntOr(KeySampleRate, 0),
		ChannelCount: f.IntOr(KeyChannelCount, 0),
	}
}

// Width returns the visible width, honouring crop keys when both are set.
func Width(f *Format) int {
	left, okL := f.Int(KeyCropLeft)
	right, okR := f.Int(KeyCropRight)
	if okL && okR {
		return right + 1 - left
	}
	return f.IntOr(KeyWidth, 0)
}

// Height returns the visible height, honouring crop keys when both are set.
func Height(f *Format) int {
	top, okT := f.Int(KeyCropTop)
	bottom, okB := f.Int(KeyCropBottom)
	if okT && okB {
		return bottom + 1 - top
	}
	return f.IntOr(KeyHeight, 0)
}

func mediaKind(mime string) string {
	if i := strings.IndexByte(mime, '/'); i >= 0 {
		return strings.ToLower(mime[:i])
	}
	return strings.ToLower(mime)
}

// summarySimilar compares the kind-specific fields.
func summarySimilar(a, b Summary) bool {
	if mediaKind(a.Mime) != mediaKind(b.Mime) {
		return false
	}
	if a.IsAudio() {
		return a.SampleRate == b.SampleRate && a.ChannelCount == b.ChannelCount
	}
	return a.Width == b.Width && a.Height == b.Height
}

// IsFormatSimilar reports whether a device's output format is consistent
// with its input format. Mime types differ between the two sides of a codec,
// so only the media kind and the kind-specific fields are compared.
func IsFormatSimilar(in, out *Format) bool {
	if in == nil || out == nil {
		return false
	}
	return summarySimilar(in.Summary(), out.Summary())
}

// IsCSDIdentical reports whether every csd-N buffer present in either
// format is present in both with identical content.
func IsCSDIdentical(ref, test *Format) bool {
	for i := 0; ; i++ {
		key := CSDKey(i)
		a, okA := ref.Bytes(key)
		b, okB := test.Bytes(key)
		if !okA && !okB {
			return true
		}
		if okA != okB || !bytes.Equal(a, b) {
			return false
		}
	}
}

// IsTrackFormatSimilar compares two extracted tracks of the same stream.
func IsTrackFormatSimilar(ref, test *Format) bool {
	if ref == nil || test == nil {
		return false
	}
	if !strings.EqualFold(ref.Mime(), test.Mime()) {
		return false
	}
	if !IsCSDIdentical(ref, test) {
		return false
	}
	return summarySimilar(ref.Summary(), test.Summary())
}

// ColorAspectError reports a color aspect that differs from the expected value.
type ColorAspectError struct {
	Key      string
	Expected int
	Actual   int
	Missing  bool
}

func (e *ColorAspectError) Error() string {
	if e.Missing {
		return fmt.Sprintf("color aspect %s missing, expected %d", e.Key, e.Expected)
	}
	return fmt.Sprintf("color aspect %s is %d, expected %d", e.Key, e.Actual, e.Expected)
}

// ValidateColorAspects checks range, standard and transfer. A negative
// expectation skips the corresponding key.
func ValidateColorAspects(f *Format, colorRange, standard, transfer int) error {
	checks := []struct {
		key      string
		expected int
	}{
		{KeyColorRange, colorRange},
		{KeyColorStandard, standard},
		{KeyColorTransfer, transfer},
	}
	for _, c := range checks {
		if c.expected < 0 {
			continue
		}
		v, ok := f.Int(c.key)
		if !ok {
			return &ColorAspectError{Key: c.key, Expected: c.expected, Missing: true}
		}
		if v != c.expected {
			return &ColorAspectError{Key: c.key, Expected: c.expected, Actual: v}
		}
	}
	return nil
}
