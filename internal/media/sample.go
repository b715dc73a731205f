package media

import (
	"bytes"
	"fmt"
	"strings"
)

// BufferFlags describes a sample. Values match the buffer flags of the
// platform codec API so recorded vectors stay comparable.
type BufferFlags uint32

// Buffer flag values.
const (
	FlagKeyFrame     BufferFlags = 1 << 0
	FlagCodecConfig  BufferFlags = 1 << 1
	FlagEndOfStream  BufferFlags = 1 << 2
	FlagPartialFrame BufferFlags = 1 << 3
)

var flagNames = []struct {
	flag BufferFlags
	name string
}{
	{FlagKeyFrame, "key"},
	{FlagCodecConfig, "csd"},
	{FlagEndOfStream, "eos"},
	{FlagPartialFrame, "partial"},
}

// Has reports whether all bits of other are set.
func (f BufferFlags) Has(other BufferFlags) bool {
	return f&other == other
}

// String returns the flags joined with '|', or "none".
func (f BufferFlags) String() string {
	if f == 0 {
		return "none"
	}
	var parts []string
	rest := f
	for _, fn := range flagNames {
		if f.Has(fn.flag) {
			parts = append(parts, fn.name)
			rest &^= fn.flag
		}
	}
	if rest != 0 {
		parts = append(parts, fmt.Sprintf("%#x", uint32(rest)))
	}
	return strings.Join(parts, "|")
}

// SampleInfo is the metadata of one compressed or raw unit.
type SampleInfo struct {
	Offset             int
	Size               int
	PresentationTimeUs int64
	Flags              BufferFlags
}

// IsEOS reports whether the end-of-stream flag is set.
func (s SampleInfo) IsEOS() bool { return s.Flags.Has(FlagEndOfStream) }

// IsCodecConfig reports whether the sample carries codec-specific data.
func (s SampleInfo) IsCodecConfig() bool { return s.Flags.Has(FlagCodecConfig) }

// IsPartialFrame reports whether the sample is a piece of a larger unit.
func (s SampleInfo) IsPartialFrame() bool { return s.Flags.Has(FlagPartialFrame) }

// IsKeyFrame reports whether the sample is a sync sample.
func (s SampleInfo) IsKeyFrame() bool { return s.Flags.Has(FlagKeyFrame) }

// HasTimestamp reports whether the sample takes part in presentation
// timestamp bookkeeping.
func (s SampleInfo) HasTimestamp() bool {
	return s.Size > 0 && !s.IsCodecConfig() && !s.IsPartialFrame()
}

func (s SampleInfo) String() string {
	return fmt.Sprintf("pts=%d size=%d offset=%d flags=%s", s.PresentationTimeUs, s.Size, s.Offset, s.Flags)
}

// Sample is a unit of media with its metadata.
type Sample struct {
	Data []byte
	Info SampleInfo
}

// NewSample builds a sample whose size matches data.
func NewSample(data []byte, pts int64, flags BufferFlags) Sample {
	return Sample{
		Data: data,
		Info: SampleInfo{Size: len(data), PresentationTimeUs: pts, Flags: flags},
	}
}

// Payload returns the bytes described by Info.
func (s Sample) Payload() []byte {
	end := s.Info.Offset + s.Info.Size
	if s.Info.Offset < 0 || end > len(s.Data) {
		return nil
	}
	return s.Data[s.Info.Offset:end]
}

// IsSampleInfoIdentical compares all fields exactly.
func IsSampleInfoIdentical(ref, test SampleInfo) bool {
	return ref == test
}

// IsSampleInfoSimilar compares sizes and flags exactly and timestamps within
// toleranceUs. Container formats that store a coarser timescale than
// microseconds lose precision on the way in.
func IsSampleInfoSimilar(ref, test SampleInfo, toleranceUs int64) bool {
	if ref.Size != test.Size || ref.Flags != test.Flags {
		return false
	}
	d := ref.PresentationTimeUs - test.PresentationTimeUs
	if d < 0 {
		d = -d
	}
	return d <= toleranceUs
}

// IsSampleIdentical compares sample metadata within toleranceUs and payloads
// byte for byte.
func IsSampleIdentical(ref, test Sample, toleranceUs int64) bool {
	refInfo, testInfo := ref.Info, test.Info
	refInfo.Offset, testInfo.Offset = 0, 0
	if !IsSampleInfoSimilar(refInfo, testInfo, toleranceUs) {
		return false
	}
	return bytes.Equal(ref.Payload(), test.Payload())
}
