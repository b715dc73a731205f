package source

import (
	"fmt"

	"github.com/jmylchreest/codecconf/internal/media"
)

// TrackMismatch is the first difference found between two tracks. Index is
// -1 for track-level differences.
type TrackMismatch struct {
	Index  int
	Reason string
	Ref    media.SampleInfo
	Test   media.SampleInfo
}

func (e *TrackMismatch) Error() string {
	if e.Index < 0 {
		return "tracks differ: " + e.Reason
	}
	return fmt.Sprintf("sample %d differs: %s (reference %s, test %s)", e.Index, e.Reason, e.Ref, e.Test)
}

// CompareTracks checks that test holds the same stream as ref: similar
// format, identical sample count, and per sample identical size, flags and
// payload with timestamps within toleranceUs.
func CompareTracks(ref, test *Track, toleranceUs int64) error {
	if !media.IsTrackFormatSimilar(ref.Format, test.Format) {
		return &TrackMismatch{Index: -1, Reason: fmt.Sprintf("format %s vs %s", ref.Format, test.Format)}
	}
	if len(ref.Samples) != len(test.Samples) {
		return &TrackMismatch{Index: -1, Reason: fmt.Sprintf("sample count %d vs %d", len(ref.Samples), len(test.Samples))}
	}
	for i := range ref.Samples {
		r, t := ref.Samples[i], test.Samples[i]
		if media.IsSampleIdentical(r, t, toleranceUs) {
			continue
		}
		reason := "payload"
		if !media.IsSampleInfoSimilar(withoutOffset(r.Info), withoutOffset(t.Info), toleranceUs) {
			reason = "metadata"
		}
		return &TrackMismatch{Index: i, Reason: reason, Ref: r.Info, Test: t.Info}
	}
	return nil
}

func withoutOffset(info media.SampleInfo) media.SampleInfo {
	info.Offset = 0
	return info
}
