package device

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"slices"

	"github.com/bluenviron/mediacommon/v2/pkg/codecs/h264"

	"github.com/jmylchreest/codecconf/internal/media"
)

// configMagic prefixes the codec-config buffer emitted by software encoders.
var configMagic = []byte("CCFG")

// produced is one output sample tagged with the format it was produced in.
type produced struct {
	sample media.Sample
	format *media.Format
}

// processor turns input samples into output samples. It is the stand-in
// for the codec inside a software device.
type processor struct {
	encoder      bool
	reorderDepth int
	inspectAVC   bool

	format  *media.Format
	partial []byte
	window  []media.Sample
	csdSent bool
}

func newProcessor(in *media.Format, encoder bool, opts Options) (*processor, error) {
	mime := in.Mime()
	if mime == "" {
		return nil, fmt.Errorf("format has no mime")
	}
	p := &processor{
		encoder:    encoder,
		inspectAVC: opts.InspectAVC && mime == media.MimeVideoAVC && !encoder,
	}
	if !encoder {
		p.reorderDepth = opts.ReorderDepth
	}

	out := in.Clone()
	if encoder {
		out.SetBytes(media.CSDKey(0), encoderConfig(in))
	} else {
		out.SetString(media.KeyMime, media.RawMimeFor(mime))
		for i := range len(in.CSD()) {
			out.Remove(media.CSDKey(i))
		}
		if p.inspectAVC {
			for _, csd := range in.CSD() {
				applySPS(out, csd)
			}
		}
	}
	p.format = out
	return p, nil
}

// encoderConfig builds the codec-config payload of a software encoder. It
// is deterministic for a given format.
func encoderConfig(f *media.Format) []byte {
	var buf bytes.Buffer
	buf.Write(configMagic)
	buf.WriteString(f.Mime())
	s := f.Summary()
	for _, v := range []int{s.Width, s.Height, s.SampleRate, s.ChannelCount} {
		_ = binary.Write(&buf, binary.BigEndian, uint32(v))
	}
	return buf.Bytes()
}

// applySPS updates the dimensions in f from any SPS NAL unit in data, which
// may be a bare NAL unit or an Annex-B access unit. It reports whether the
// dimensions changed.
func applySPS(f *media.Format, data []byte) bool {
	nalus := [][]byte{data}
	var au h264.AnnexB
	if err := au.Unmarshal(data); err == nil {
		nalus = au
	}
	changed := false
	for _, nalu := range nalus {
		if len(nalu) == 0 || h264.NALUType(nalu[0]&0x1F) != h264.NALUTypeSPS {
			continue
		}
		var sps h264.SPS
		if err := sps.Unmarshal(nalu); err != nil {
			continue
		}
		w, h := sps.Width(), sps.Height()
		if media.Width(f) != w || media.Height(f) != h {
			f.SetInt(media.KeyWidth, w)
			f.SetInt(media.KeyHeight, h)
			changed = true
		}
	}
	return changed
}

// inspect switches to a new output format when data carries an SPS with
// different dimensions.
func (p *processor) inspect(data []byte) {
	if !p.inspectAVC {
		return
	}
	next := p.format.Clone()
	if applySPS(next, data) {
		p.format = next
	}
}

func (p *processor) emit(s media.Sample) []produced {
	return []produced{{sample: s, format: p.format}}
}

// process consumes one input sample.
func (p *processor) process(in media.Sample) []produced {
	info := in.Info
	if info.IsCodecConfig() {
		if !p.encoder {
			p.inspect(in.Data)
		}
		return nil
	}
	if info.IsPartialFrame() {
		p.partial = append(p.partial, in.Data...)
		return nil
	}

	data := in.Data
	if len(p.partial) > 0 {
		data = append(p.partial, data...)
		p.partial = nil
	}
	if len(data) == 0 {
		return nil
	}

	var out []produced
	if p.encoder {
		if !p.csdSent {
			csd, _ := p.format.Bytes(media.CSDKey(0))
			out = append(out, p.emit(media.NewSample(bytes.Clone(csd), 0, media.FlagCodecConfig))...)
			p.csdSent = true
		}
		return append(out, p.emit(media.NewSample(data, info.PresentationTimeUs, media.FlagKeyFrame))...)
	}

	p.inspect(data)
	frame := media.NewSample(data, info.PresentationTimeUs, info.Flags&media.FlagKeyFrame)
	if p.reorderDepth <= 0 {
		return p.emit(frame)
	}
	p.window = append(p.window, frame)
	if len(p.window) <= p.reorderDepth {
		return nil
	}
	return p.emit(p.popEarliest())
}

func (p *processor) popEarliest() media.Sample {
	i := 0
	for j, s := range p.window {
		if s.Info.PresentationTimeUs < p.window[i].Info.PresentationTimeUs {
			i = j
		}
	}
	s := p.window[i]
	p.window = slices.Delete(p.window, i, i+1)
	return s
}

// drain returns everything still held, in presentation order. Incomplete
// partial frames are dropped.
func (p *processor) drain() []produced {
	var out []produced
	for len(p.window) > 0 {
		out = append(out, p.emit(p.popEarliest())...)
	}
	p.partial = nil
	return out
}

// flush drops held frames. The current format and the encoder's
// codec-config state survive, as they would across a codec flush.
func (p *processor) flush() {
	p.window = nil
	p.partial = nil
}
