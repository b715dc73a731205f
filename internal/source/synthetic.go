package source

import (
	"errors"
	"fmt"
	"io"

	"github.com/bluenviron/mediacommon/v2/pkg/codecs/mpeg4audio"

	"github.com/jmylchreest/codecconf/internal/codectest"
	"github.com/jmylchreest/codecconf/internal/media"
)

// AACConfig returns the AAC-LC AudioSpecificConfig for rate and channels.
func AACConfig(sampleRate, channels int) mpeg4audio.AudioSpecificConfig {
	return mpeg4audio.AudioSpecificConfig{
		Type:         mpeg4audio.ObjectTypeAACLC,
		SampleRate:   sampleRate,
		ChannelCount: channels,
	}
}

// AACFormat returns an AAC format with the AudioSpecificConfig as csd-0.
func AACFormat(sampleRate, channels int) (*media.Format, error) {
	asc := AACConfig(sampleRate, channels)
	csd, err := asc.Marshal()
	if err != nil {
		return nil, fmt.Errorf("marshaling audio specific config: %w", err)
	}
	return media.NewAudioFormat(media.MimeAudioAAC, sampleRate, channels).
		SetBytes(media.CSDKey(0), csd), nil
}

// SyntheticAAC builds an AAC-shaped track of frames access units with
// deterministic filler payloads and 1024-sample frame timing.
func SyntheticAAC(sampleRate, channels, frames int) (*Track, error) {
	f, err := AACFormat(sampleRate, channels)
	if err != nil {
		return nil, err
	}
	t := &Track{Format: f, Samples: make([]media.Sample, 0, frames)}
	for n := range frames {
		size := 96 + (n*37)%160
		au := make([]byte, size)
		for i := range au {
			au[i] = byte(n*7 + i*3)
		}
		pts := int64(n) * aacFrameSamples * 1_000_000 / int64(sampleRate)
		t.Samples = append(t.Samples, media.NewSample(au, pts, media.FlagKeyFrame))
	}
	return t, nil
}

// Collect reads src to exhaustion.
func Collect(src codectest.Source) ([]media.Sample, error) {
	var out []media.Sample
	for {
		s, err := src.ReadSample()
		if errors.Is(err, io.EOF) {
			return out, nil
		}
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
}

// Track reads the whole stream into a track and rewinds the source.
func (v *VideoSource) Track() (*Track, error) {
	v.Rewind()
	defer v.Rewind()
	samples, err := Collect(v)
	if err != nil {
		return nil, err
	}
	return &Track{Format: v.Format(), Samples: samples}, nil
}
