package cmd

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/jmylchreest/codecconf/internal/media"
	"github.com/jmylchreest/codecconf/internal/remux"
	"github.com/jmylchreest/codecconf/internal/source"
)

var probeCmd = &cobra.Command{
	Use:   "probe <file>",
	Short: "Describe the programs and tracks of an MPEG-TS vector",
	Args:  cobra.ExactArgs(1),
	RunE:  runProbe,
}

var remuxCmd = &cobra.Command{
	Use:   "remux <file>",
	Short: "Round-trip the H.264 and AAC tracks of a vector through the muxer",
	Args:  cobra.ExactArgs(1),
	RunE:  runRemux,
}

func init() {
	rootCmd.AddCommand(probeCmd)
	rootCmd.AddCommand(remuxCmd)
}

// trackInfo summarises one extracted track.
type trackInfo struct {
	Format       media.Summary `yaml:"format"`
	Samples      int           `yaml:"samples"`
	Bytes        string        `yaml:"bytes"`
	DurationUs   int64         `yaml:"duration_us"`
	DecodeErrors int           `yaml:"decode_errors,omitempty"`
}

type probeOutput struct {
	File        string               `yaml:"file"`
	Compression source.Compression   `yaml:"compression"`
	Size        string               `yaml:"size"`
	Probe       *source.ProbeResult  `yaml:"probe"`
	Tracks      map[string]trackInfo `yaml:"tracks,omitempty"`
}

// readVector loads a whole, decompressed vector into memory.
func readVector(path string) ([]byte, source.Compression, error) {
	rc, compression, err := source.Open(path)
	if err != nil {
		return nil, compression, err
	}
	defer rc.Close()
	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, compression, fmt.Errorf("reading %s: %w", path, err)
	}
	return data, compression, nil
}

// demuxableMimes lists the mimes ReadTS can extract.
func demuxableMimes() []string {
	return []string{media.MimeVideoAVC, media.MimeAudioAAC}
}

func describeTrack(t *source.Track) trackInfo {
	info := trackInfo{
		Format:       t.Format.Summary(),
		Samples:      len(t.Samples),
		DecodeErrors: t.DecodeErrors,
	}
	var size uint64
	first, last := int64(-1), int64(-1)
	for _, s := range t.Samples {
		size += uint64(s.Info.Size)
		pts := s.Info.PresentationTimeUs
		if first < 0 || pts < first {
			first = pts
		}
		if pts > last {
			last = pts
		}
	}
	info.Bytes = humanize.IBytes(size)
	if first >= 0 {
		info.DurationUs = last - first
	}
	return info
}

func runProbe(cmd *cobra.Command, args []string) error {
	data, compression, err := readVector(args[0])
	if err != nil {
		return err
	}
	res, err := source.Probe(cmd.Context(), bytes.NewReader(data))
	if err != nil {
		return err
	}

	out := probeOutput{
		File:        args[0],
		Compression: compression,
		Size:        humanize.IBytes(uint64(len(data))),
		Probe:       res,
		Tracks:      make(map[string]trackInfo),
	}
	for _, mime := range demuxableMimes() {
		track, err := source.ReadTS(bytes.NewReader(data), mime)
		if errors.Is(err, source.ErrNoTrack) {
			continue
		}
		if err != nil {
			return err
		}
		info, _ := media.LookupMime(mime)
		out.Tracks[info.Name] = describeTrack(track)
	}

	enc := yaml.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent(2)
	defer enc.Close()
	return enc.Encode(out)
}

func runRemux(cmd *cobra.Command, args []string) error {
	data, _, err := readVector(args[0])
	if err != nil {
		return err
	}

	w := cmd.OutOrStdout()
	var failed, found int
	for _, mime := range demuxableMimes() {
		track, err := source.ReadTS(bytes.NewReader(data), mime)
		if errors.Is(err, source.ErrNoTrack) {
			continue
		}
		if err != nil {
			return err
		}
		found++
		info, _ := media.LookupMime(mime)
		if _, err := remux.RoundTrip(track); err != nil {
			failed++
			fmt.Fprintf(w, "FAIL %s: %v\n", info.Name, err)
			continue
		}
		fmt.Fprintf(w, "ok   %s: %d samples\n", info.Name, len(track.Samples))
	}

	if found == 0 {
		return fmt.Errorf("%s: %w", args[0], source.ErrNoTrack)
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d tracks failed the round trip", failed, found)
	}
	return nil
}
