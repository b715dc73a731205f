package source

import (
	"errors"
	"fmt"
	"io"

	"github.com/asticode/go-astits"
	"github.com/bluenviron/mediacommon/v2/pkg/codecs/h264"
	"github.com/bluenviron/mediacommon/v2/pkg/formats/mpegts"

	"github.com/jmylchreest/codecconf/internal/media"
)

// TSClockRate is the MPEG-TS timestamp clock.
const TSClockRate = 90000

// aacFrameSamples is the PCM frame count of one AAC-LC access unit.
const aacFrameSamples = 1024

// ErrNoTrack is returned when a stream holds no track of the requested type.
var ErrNoTrack = errors.New("no matching track")

// Track is one elementary stream extracted from a container.
type Track struct {
	Format  *media.Format
	Samples []media.Sample
	// DecodeErrors counts packets the demuxer could not decode.
	DecodeErrors int
}

// Source returns a replayable source over the track samples.
func (t *Track) Source() *SliceSource {
	return NewSliceSource(t.Samples)
}

// TicksToUs converts 90 kHz ticks to microseconds, rounding to nearest.
func TicksToUs(ticks int64) int64 {
	return (ticks*1_000_000 + TSClockRate/2) / TSClockRate
}

// UsToTicks converts microseconds to 90 kHz ticks, rounding to nearest.
func UsToTicks(us int64) int64 {
	return (us*TSClockRate + 500_000) / 1_000_000
}

// ReadTS extracts the first track of type mime from an MPEG-TS stream.
// Timestamps are converted to microseconds. For H.264, access unit
// delimiters are dropped, the first SPS and PPS become csd-0 and csd-1, and
// random access units are flagged key.
func ReadTS(r io.Reader, mime string) (*Track, error) {
	reader := &mpegts.Reader{R: r}
	if err := reader.Initialize(); err != nil {
		return nil, fmt.Errorf("initializing mpegts reader: %w", err)
	}

	var selected *mpegts.Track
	for _, t := range reader.Tracks() {
		if m, ok := media.MimeFromTSCodec(t.Codec); ok && m == mime {
			selected = t
			break
		}
	}
	if selected == nil {
		return nil, fmt.Errorf("reading %s: %w", mime, ErrNoTrack)
	}

	out := &Track{}
	reader.OnDecodeError(func(error) { out.DecodeErrors++ })

	switch codec := selected.Codec.(type) {
	case *mpegts.CodecH264:
		out.Format = media.NewVideoFormat(media.MimeVideoAVC, 0, 0)
		reader.OnDataH264(selected, func(pts, _ int64, au [][]byte) error {
			return out.addH264(pts, au)
		})

	case *mpegts.CodecMPEG4Audio:
		asc := codec.Config
		if asc.SampleRate <= 0 {
			return nil, fmt.Errorf("reading %s: invalid sample rate %d", mime, asc.SampleRate)
		}
		out.Format = media.NewAudioFormat(media.MimeAudioAAC, asc.SampleRate, asc.ChannelCount)
		if csd, err := asc.Marshal(); err == nil {
			out.Format.SetBytes(media.CSDKey(0), csd)
		}
		rate := int64(asc.SampleRate)
		reader.OnDataMPEG4Audio(selected, func(pts int64, aus [][]byte) error {
			// Offsets are computed per AU so rates that do not divide the
			// frame duration evenly, such as 44.1 kHz, do not accumulate error.
			base := TicksToUs(pts)
			for i, au := range aus {
				offset := int64(i) * aacFrameSamples * 1_000_000 / rate
				out.Samples = append(out.Samples, media.NewSample(au, base+offset, media.FlagKeyFrame))
			}
			return nil
		})

	default:
		return nil, fmt.Errorf("reading %s: extraction not supported", mime)
	}

	for {
		err := reader.Read()
		if err == nil {
			continue
		}
		if errors.Is(err, io.EOF) || errors.Is(err, astits.ErrNoMorePackets) {
			break
		}
		return nil, fmt.Errorf("reading mpegts: %w", err)
	}
	return out, nil
}

func (t *Track) addH264(pts int64, au [][]byte) error {
	kept := make([][]byte, 0, len(au))
	for _, nalu := range au {
		if len(nalu) == 0 {
			continue
		}
		switch h264.NALUType(nalu[0] & 0x1F) {
		case h264.NALUTypeAccessUnitDelimiter:
			continue
		case h264.NALUTypeSPS:
			if !t.Format.Contains(media.CSDKey(0)) {
				t.Format.SetBytes(media.CSDKey(0), withStartCode(nalu))
				var sps h264.SPS
				if err := sps.Unmarshal(nalu); err == nil {
					t.Format.SetInt(media.KeyWidth, sps.Width())
					t.Format.SetInt(media.KeyHeight, sps.Height())
				}
			}
		case h264.NALUTypePPS:
			if !t.Format.Contains(media.CSDKey(1)) {
				t.Format.SetBytes(media.CSDKey(1), withStartCode(nalu))
			}
		}
		kept = append(kept, nalu)
	}
	if len(kept) == 0 {
		return nil
	}

	data, err := h264.AnnexB(kept).Marshal()
	if err != nil {
		return fmt.Errorf("marshaling access unit: %w", err)
	}
	var flags media.BufferFlags
	if h264.IsRandomAccess(kept) {
		flags = media.FlagKeyFrame
	}
	t.Samples = append(t.Samples, media.NewSample(data, TicksToUs(pts), flags))
	return nil
}
