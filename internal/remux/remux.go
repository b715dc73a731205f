// Package remux muxes extracted tracks back into MPEG-TS and checks that a
// write/read round trip preserves every sample.
package remux

import (
	"bytes"
	"fmt"
	"io"
	"slices"

	"github.com/bluenviron/mediacommon/v2/pkg/codecs/h264"
	"github.com/bluenviron/mediacommon/v2/pkg/codecs/mpeg4audio"
	"github.com/bluenviron/mediacommon/v2/pkg/formats/mpegts"

	"github.com/jmylchreest/codecconf/internal/codectest"
	"github.com/jmylchreest/codecconf/internal/media"
	"github.com/jmylchreest/codecconf/internal/source"
)

// ToleranceUs is the timestamp tolerance of a round trip. Microseconds are
// rounded to the 90 kHz clock on write and back on read.
const ToleranceUs = 12

const trackPID = 256

// DecodeTimestamps derives monotonic decode timestamps for samples in decode
// order. Each DTS is the k-th smallest PTS shifted back far enough that no
// DTS exceeds its PTS, and clamped to the earliest PTS.
func DecodeTimestamps(pts []int64) []int64 {
	dts := make([]int64, len(pts))
	if len(pts) == 0 {
		return dts
	}
	sorted := slices.Clone(pts)
	slices.Sort(sorted)
	var shift int64
	for k := range pts {
		shift = max(shift, sorted[k]-pts[k])
	}
	for k := range sorted {
		dts[k] = max(sorted[k]-shift, sorted[0])
	}
	return dts
}

func tsCodec(f *media.Format) (mpegts.Codec, error) {
	switch f.Mime() {
	case media.MimeVideoAVC:
		return &mpegts.CodecH264{}, nil
	case media.MimeAudioAAC:
		var asc mpeg4audio.AudioSpecificConfig
		if csd, ok := f.Bytes(media.CSDKey(0)); ok {
			if err := asc.Unmarshal(csd); err != nil {
				return nil, fmt.Errorf("parsing audio specific config: %w", err)
			}
		} else {
			asc = source.AACConfig(f.IntOr(media.KeySampleRate, 48000), f.IntOr(media.KeyChannelCount, 2))
		}
		return &mpegts.CodecMPEG4Audio{Config: asc}, nil
	default:
		return nil, fmt.Errorf("muxing %q: %w", f.Mime(), codectest.ErrUnsupportedFormat)
	}
}

// WriteTS muxes track into w as a single-program MPEG-TS stream.
func WriteTS(w io.Writer, track *source.Track) error {
	codec, err := tsCodec(track.Format)
	if err != nil {
		return err
	}
	t := &mpegts.Track{PID: trackPID, Codec: codec}
	mw := &mpegts.Writer{W: w, Tracks: []*mpegts.Track{t}}
	if err := mw.Initialize(); err != nil {
		return fmt.Errorf("initializing mpegts writer: %w", err)
	}

	samples := make([]media.Sample, 0, len(track.Samples))
	for _, s := range track.Samples {
		if !s.Info.IsCodecConfig() && s.Info.Size > 0 {
			samples = append(samples, s)
		}
	}
	pts := make([]int64, len(samples))
	for i, s := range samples {
		pts[i] = s.Info.PresentationTimeUs
	}
	dts := DecodeTimestamps(pts)

	for i, s := range samples {
		switch codec.(type) {
		case *mpegts.CodecH264:
			var au h264.AnnexB
			if err := au.Unmarshal(s.Payload()); err != nil {
				return fmt.Errorf("sample %d: splitting access unit: %w", i, err)
			}
			if err := mw.WriteH264(t, source.UsToTicks(pts[i]), source.UsToTicks(dts[i]), au); err != nil {
				return fmt.Errorf("sample %d: writing h264: %w", i, err)
			}
		case *mpegts.CodecMPEG4Audio:
			if err := mw.WriteMPEG4Audio(t, source.UsToTicks(pts[i]), [][]byte{s.Payload()}); err != nil {
				return fmt.Errorf("sample %d: writing aac: %w", i, err)
			}
		}
	}
	return nil
}

// RoundTrip writes track to MPEG-TS, extracts it again and compares the two.
// The extracted track is returned even when the comparison fails.
func RoundTrip(track *source.Track) (*source.Track, error) {
	var buf bytes.Buffer
	if err := WriteTS(&buf, track); err != nil {
		return nil, fmt.Errorf("remuxing: %w", err)
	}
	got, err := source.ReadTS(&buf, track.Format.Mime())
	if err != nil {
		return nil, fmt.Errorf("extracting remuxed stream: %w", err)
	}
	if err := source.CompareTracks(track, got, ToleranceUs); err != nil {
		return got, fmt.Errorf("round trip: %w", err)
	}
	return got, nil
}
