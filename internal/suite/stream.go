package suite

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"path/filepath"
	"strings"

	"github.com/jmylchreest/codecconf/internal/codectest"
	"github.com/jmylchreest/codecconf/internal/media"
	"github.com/jmylchreest/codecconf/internal/source"
)

// Stream is a replayable test input.
type Stream struct {
	Name   string
	Format *media.Format
	// Reorders is true when samples arrive in decode order with
	// non-monotonic presentation timestamps.
	Reorders bool
	// Track holds the demuxed samples of compressed streams. It is nil for
	// raw streams, which have no container mapping.
	Track *source.Track
	// Vector is the file the stream was extracted from, if any.
	Vector string

	open func() (codectest.Source, error)
}

// Open returns a fresh source positioned at the first sample.
func (s *Stream) Open() (codectest.Source, error) {
	return s.open()
}

// Mime returns the stream mime type.
func (s *Stream) Mime() string { return s.Format.Mime() }

// IsRaw reports whether the stream carries uncompressed samples.
func (s *Stream) IsRaw() bool {
	info, ok := media.LookupMime(s.Mime())
	return ok && info.Raw
}

func trackStream(name, vector string, t *source.Track) *Stream {
	return &Stream{
		Name:     name,
		Format:   t.Format,
		Reorders: !ptsMonotonic(t.Samples),
		Track:    t,
		Vector:   vector,
		open:     func() (codectest.Source, error) { return t.Source(), nil },
	}
}

func ptsMonotonic(samples []media.Sample) bool {
	last := int64(-1 << 63)
	for _, s := range samples {
		if !s.Info.HasTimestamp() {
			continue
		}
		if s.Info.PresentationTimeUs < last {
			return false
		}
		last = s.Info.PresentationTimeUs
	}
	return true
}

// BuiltinStreams returns the synthetic streams every run covers.
func BuiltinStreams() ([]*Stream, error) {
	var streams []*Stream

	for _, p := range []struct {
		name            string
		rate, ch, chunk int
		durationUs      int64
	}{
		{"pcm-8k-mono", 8000, 1, 320, 2_000_000},
		{"pcm-48k-stereo", 48000, 2, 4096, 1_000_000},
	} {
		pcm := source.GenerateSine(440, p.rate, p.ch, p.durationUs)
		probe, err := source.NewPCMSource(pcm, p.rate, p.ch, p.chunk)
		if err != nil {
			return nil, fmt.Errorf("building %s: %w", p.name, err)
		}
		streams = append(streams, &Stream{
			Name:   p.name,
			Format: probe.Format(),
			open: func() (codectest.Source, error) {
				return source.NewPCMSource(pcm, p.rate, p.ch, p.chunk)
			},
		})
	}

	yuv := func() (*source.YUVSource, error) { return source.NewYUVSource(176, 144, 30, 15) }
	y, err := yuv()
	if err != nil {
		return nil, fmt.Errorf("building yuv-qcif: %w", err)
	}
	streams = append(streams, &Stream{
		Name:   "yuv-qcif",
		Format: y.Format(),
		open:   func() (codectest.Source, error) { return yuv() },
	})

	for _, v := range []struct {
		name string
		cfg  source.VideoConfig
	}{
		{"avc-qcif", source.VideoConfig{Width: 176, Height: 144, FrameRate: 30, Frames: 30, GOP: 10}},
		{"avc-qcif-bframes", source.VideoConfig{Width: 176, Height: 144, FrameRate: 30, Frames: 30, GOP: 10, BFrames: true}},
	} {
		vs, err := source.NewVideoSource(v.cfg)
		if err != nil {
			return nil, fmt.Errorf("building %s: %w", v.name, err)
		}
		track, err := vs.Track()
		if err != nil {
			return nil, fmt.Errorf("building %s: %w", v.name, err)
		}
		cfg := v.cfg
		streams = append(streams, &Stream{
			Name:     v.name,
			Format:   vs.Format(),
			Reorders: vs.Reorders(),
			Track:    track,
			open:     func() (codectest.Source, error) { return source.NewVideoSource(cfg) },
		})
	}

	aac, err := source.SyntheticAAC(48000, 2, 50)
	if err != nil {
		return nil, fmt.Errorf("building aac-48k-stereo: %w", err)
	}
	streams = append(streams, trackStream("aac-48k-stereo", "", aac))

	return streams, nil
}

// vectorMimes are the tracks extracted from each container vector.
var vectorMimes = []string{media.MimeVideoAVC, media.MimeAudioAAC}

// isVector reports whether name looks like an MPEG-TS vector, optionally
// compressed.
func isVector(name string) bool {
	name = strings.ToLower(name)
	for _, ext := range []string{".gz", ".bz2", ".xz", ".br"} {
		name = strings.TrimSuffix(name, ext)
	}
	return strings.HasSuffix(name, ".ts") || strings.HasSuffix(name, ".m2ts")
}

// LoadVectors extracts every AVC and AAC track from the MPEG-TS files under
// dir. Files that hold no usable track are logged and skipped.
func LoadVectors(dir string, logger *slog.Logger) ([]*Stream, error) {
	if dir == "" {
		return nil, nil
	}
	var streams []*Stream
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !isVector(d.Name()) {
			return nil
		}
		found, err := loadVector(dir, path)
		if err != nil {
			return err
		}
		if len(found) == 0 {
			logger.Warn("vector has no usable track", slog.String("vector", path))
		}
		streams = append(streams, found...)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("loading vectors from %s: %w", dir, err)
	}
	return streams, nil
}

func loadVector(root, path string) ([]*Stream, error) {
	rc, _, err := source.Open(path)
	if err != nil {
		return nil, err
	}
	data, err := io.ReadAll(rc)
	rc.Close()
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}

	rel, err := filepath.Rel(root, path)
	if err != nil {
		rel = filepath.Base(path)
	}
	var streams []*Stream
	for _, mime := range vectorMimes {
		track, err := source.ReadTS(bytes.NewReader(data), mime)
		if errors.Is(err, source.ErrNoTrack) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("extracting %s from %s: %w", mime, path, err)
		}
		if len(track.Samples) == 0 {
			continue
		}
		info, _ := media.LookupMime(mime)
		streams = append(streams, trackStream(rel+"#"+info.Name, rel, track))
	}
	return streams, nil
}
