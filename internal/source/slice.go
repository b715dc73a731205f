// Package source produces input samples for the conformance driver: in-memory
// sample lists, synthetic PCM and H.264 streams, and tracks extracted from
// MPEG-TS test vectors.
package source

import (
	"fmt"
	"io"

	"github.com/jmylchreest/codecconf/internal/media"
)

// SeekMode selects which sync sample SeekTo lands on.
type SeekMode int

// Seek modes.
const (
	SeekPreviousSync SeekMode = iota
	SeekNextSync
	SeekClosestSync
)

func (m SeekMode) String() string {
	switch m {
	case SeekPreviousSync:
		return "previous_sync"
	case SeekNextSync:
		return "next_sync"
	case SeekClosestSync:
		return "closest_sync"
	default:
		return fmt.Sprintf("seek_mode(%d)", int(m))
	}
}

// SliceSource replays a fixed list of samples.
type SliceSource struct {
	samples []media.Sample
	pos     int
}

// NewSliceSource creates a source over samples. The slice is not copied.
func NewSliceSource(samples []media.Sample) *SliceSource {
	return &SliceSource{samples: samples}
}

// ReadSample returns the next sample or io.EOF.
func (s *SliceSource) ReadSample() (media.Sample, error) {
	if s.pos >= len(s.samples) {
		return media.Sample{}, io.EOF
	}
	smp := s.samples[s.pos]
	s.pos++
	return smp, nil
}

// Rewind restarts from the first sample.
func (s *SliceSource) Rewind() { s.pos = 0 }

// Len returns the total number of samples.
func (s *SliceSource) Len() int { return len(s.samples) }

// Remaining returns the number of samples not yet read.
func (s *SliceSource) Remaining() int { return len(s.samples) - s.pos }

// Samples returns the underlying samples.
func (s *SliceSource) Samples() []media.Sample { return s.samples }

func (s *SliceSource) hasKeyFrames() bool {
	for _, smp := range s.samples {
		if smp.Info.IsKeyFrame() {
			return true
		}
	}
	return false
}

// SeekTo positions the source on a sync sample relative to pts and returns
// the timestamp it landed on. Every sample counts as sync when none is
// flagged key, as with audio.
func (s *SliceSource) SeekTo(pts int64, mode SeekMode) (int64, error) {
	keyed := s.hasKeyFrames()
	prev, next := -1, -1
	for i, smp := range s.samples {
		if (keyed && !smp.Info.IsKeyFrame()) || smp.Info.IsCodecConfig() {
			continue
		}
		t := smp.Info.PresentationTimeUs
		if t <= pts && (prev < 0 || t >= s.samples[prev].Info.PresentationTimeUs) {
			prev = i
		}
		if t >= pts && (next < 0 || t < s.samples[next].Info.PresentationTimeUs) {
			next = i
		}
	}

	target := -1
	switch mode {
	case SeekPreviousSync:
		target = prev
		if target < 0 {
			target = next
		}
	case SeekNextSync:
		target = next
	case SeekClosestSync:
		switch {
		case prev < 0:
			target = next
		case next < 0:
			target = prev
		case pts-s.samples[prev].Info.PresentationTimeUs <= s.samples[next].Info.PresentationTimeUs-pts:
			target = prev
		default:
			target = next
		}
	default:
		return 0, fmt.Errorf("seek: unknown mode %s", mode)
	}
	if target < 0 {
		return 0, fmt.Errorf("seek to %d (%s): no sync sample", pts, mode)
	}
	s.pos = target
	return s.samples[target].Info.PresentationTimeUs, nil
}
