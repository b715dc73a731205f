package source

import (
	"fmt"
	"io"
	"math/bits"

	"github.com/bluenviron/mediacommon/v2/pkg/codecs/h264"

	"github.com/jmylchreest/codecconf/internal/media"
)

// flushLeadFrames is added to the submitted frame count when a video source
// restarts after a flush.
const flushLeadFrames = 5

var startCode = []byte{0, 0, 0, 1}

// ppsNALU is a fixed baseline picture parameter set.
var ppsNALU = []byte{0x68, 0xce, 0x38, 0x80}

// bitWriter writes an RBSP most significant bit first.
type bitWriter struct {
	buf []byte
	n   int
}

func (w *bitWriter) bit(b uint64) {
	if w.n%8 == 0 {
		w.buf = append(w.buf, 0)
	}
	if b&1 != 0 {
		w.buf[len(w.buf)-1] |= 1 << (7 - w.n%8)
	}
	w.n++
}

func (w *bitWriter) bits(v uint64, n int) {
	for i := n - 1; i >= 0; i-- {
		w.bit(v >> i)
	}
}

// ue writes an unsigned Exp-Golomb code.
func (w *bitWriter) ue(v uint64) {
	l := bits.Len64(v + 1)
	w.bits(0, l-1)
	w.bits(v+1, l)
}

func (w *bitWriter) trailing() {
	w.bit(1)
	for w.n%8 != 0 {
		w.bit(0)
	}
}

// escapeRBSP inserts emulation prevention bytes.
func escapeRBSP(rbsp []byte) []byte {
	out := make([]byte, 0, len(rbsp)+4)
	zeros := 0
	for _, b := range rbsp {
		if zeros >= 2 && b <= 3 {
			out = append(out, 3)
			zeros = 0
		}
		out = append(out, b)
		if b == 0 {
			zeros++
		} else {
			zeros = 0
		}
	}
	return out
}

// BuildSPS returns a baseline-profile SPS NAL unit for the given even
// dimensions, with frame cropping when they are not macroblock aligned.
func BuildSPS(width, height int) ([]byte, error) {
	if width <= 0 || height <= 0 || width%2 != 0 || height%2 != 0 {
		return nil, fmt.Errorf("building sps: invalid size %dx%d", width, height)
	}
	wMbs := (width + 15) / 16
	hMbs := (height + 15) / 16

	w := &bitWriter{}
	w.bits(66, 8) // profile_idc: baseline
	w.bits(0, 8)  // constraint flags
	w.bits(30, 8) // level_idc
	w.ue(0)       // seq_parameter_set_id
	w.ue(0)       // log2_max_frame_num_minus4
	w.ue(0)       // pic_order_cnt_type
	w.ue(0)       // log2_max_pic_order_cnt_lsb_minus4
	w.ue(1)       // max_num_ref_frames
	w.bit(0)      // gaps_in_frame_num_value_allowed_flag
	w.ue(uint64(wMbs - 1))
	w.ue(uint64(hMbs - 1))
	w.bit(1) // frame_mbs_only_flag
	w.bit(1) // direct_8x8_inference_flag
	cropRight := (wMbs*16 - width) / 2
	cropBottom := (hMbs*16 - height) / 2
	if cropRight > 0 || cropBottom > 0 {
		w.bit(1)
		w.ue(0)
		w.ue(uint64(cropRight))
		w.ue(0)
		w.ue(uint64(cropBottom))
	} else {
		w.bit(0)
	}
	w.bit(0) // vui_parameters_present_flag
	w.trailing()

	return append([]byte{0x67}, escapeRBSP(w.buf)...), nil
}

// withStartCode prefixes nalu with a four-byte Annex-B start code.
func withStartCode(nalu []byte) []byte {
	return append(append([]byte{}, startCode...), nalu...)
}

// VideoConfig describes a synthetic H.264 stream.
type VideoConfig struct {
	Width     int
	Height    int
	FrameRate int
	Frames    int
	// GOP is the key frame interval in frames.
	GOP int
	// BFrames emits frames in decode order with B-frame style reordering,
	// so presentation timestamps are not monotonic.
	BFrames bool
}

// VideoSource yields synthetic Annex-B H.264 access units. Key frames carry
// in-band SPS and PPS; payloads are deterministic filler.
type VideoSource struct {
	cfg    VideoConfig
	sps    []byte
	order  []int
	pos    int
	offset int64
}

// NewVideoSource creates a synthetic stream.
func NewVideoSource(cfg VideoConfig) (*VideoSource, error) {
	if cfg.FrameRate <= 0 || cfg.Frames < 0 {
		return nil, fmt.Errorf("video source: invalid frame rate %d or frame count %d", cfg.FrameRate, cfg.Frames)
	}
	if cfg.GOP <= 0 {
		cfg.GOP = cfg.FrameRate
	}
	sps, err := BuildSPS(cfg.Width, cfg.Height)
	if err != nil {
		return nil, fmt.Errorf("video source: %w", err)
	}
	return &VideoSource{cfg: cfg, sps: sps, order: decodeOrder(cfg)}, nil
}

// decodeOrder lists display indices in decode order. With B-frames every
// pair after the key frame of a GOP is swapped.
func decodeOrder(cfg VideoConfig) []int {
	order := make([]int, 0, cfg.Frames)
	for g := 0; g < cfg.Frames; g += cfg.GOP {
		end := min(g+cfg.GOP, cfg.Frames)
		order = append(order, g)
		for j := g + 1; j < end; j += 2 {
			if cfg.BFrames && j+1 < end {
				order = append(order, j+1, j)
			} else {
				order = append(order, j)
				if j+1 < end {
					order = append(order, j+1)
				}
			}
		}
	}
	return order
}

// Format returns the AVC format with SPS and PPS as csd-0 and csd-1.
func (v *VideoSource) Format() *media.Format {
	f := media.NewVideoFormat(media.MimeVideoAVC, v.cfg.Width, v.cfg.Height).
		SetInt(media.KeyFrameRate, v.cfg.FrameRate).
		SetBytes(media.CSDKey(0), withStartCode(v.sps)).
		SetBytes(media.CSDKey(1), withStartCode(ppsNALU))
	if v.cfg.BFrames {
		f.SetInt(media.KeyMaxBFrames, 1)
	}
	return f
}

// CSD returns the codec-specific data buffers.
func (v *VideoSource) CSD() [][]byte {
	return v.Format().CSD()
}

// Reorders reports whether presentation order differs from decode order.
func (v *VideoSource) Reorders() bool { return v.cfg.BFrames }

// Len returns the number of access units.
func (v *VideoSource) Len() int { return len(v.order) }

// AccessUnit builds the NAL units of display frame n.
func (v *VideoSource) AccessUnit(n int) [][]byte {
	k := n % v.cfg.GOP
	gopEnd := min(n-k+v.cfg.GOP, v.cfg.Frames)
	key := k == 0
	header := byte(0x41)
	switch {
	case key:
		header = 0x65
	case v.cfg.BFrames && k%2 == 1 && n+1 < gopEnd:
		header = 0x01 // non-reference
	}
	slice := make([]byte, 1, 33+(n%7)*8)
	slice[0] = header
	for i := 1; i < cap(slice); i++ {
		slice = append(slice, byte(0x10+(n*31+i*7)%0xe0))
	}
	if key {
		return [][]byte{v.sps, ppsNALU, slice}
	}
	return [][]byte{slice}
}

// ReadSample returns the next access unit in decode order or io.EOF.
func (v *VideoSource) ReadSample() (media.Sample, error) {
	if v.pos >= len(v.order) {
		return media.Sample{}, io.EOF
	}
	n := v.order[v.pos]
	au := v.AccessUnit(n)
	data, err := h264.AnnexB(au).Marshal()
	if err != nil {
		return media.Sample{}, fmt.Errorf("marshaling access unit %d: %w", n, err)
	}
	var flags media.BufferFlags
	if h264.IsRandomAccess(au) {
		flags = media.FlagKeyFrame
	}
	v.pos++
	return media.NewSample(data, v.offset+int64(n)*1_000_000/int64(v.cfg.FrameRate), flags), nil
}

// Rewind restarts at the first access unit and clears the offset.
func (v *VideoSource) Rewind() {
	v.pos = 0
	v.offset = 0
}

// FlushOffset returns the timestamp offset to resume with after a flush:
// (frames+5)*1e6/frameRate.
func (v *VideoSource) FlushOffset() int64 {
	return int64(v.pos+flushLeadFrames) * 1_000_000 / int64(v.cfg.FrameRate)
}

// Restart applies FlushOffset and replays from the first access unit. It
// returns the output floor the resumed run must exceed.
func (v *VideoSource) Restart() int64 {
	v.offset = v.FlushOffset()
	v.pos = 0
	return v.offset - 1
}

// YUVSource yields synthetic planar 4:2:0 frames for video encoders.
type YUVSource struct {
	width, height int
	frameRate     int
	frames        int
	pos           int
	offset        int64
}

// NewYUVSource creates a raw frame source.
func NewYUVSource(width, height, frameRate, frames int) (*YUVSource, error) {
	if width <= 0 || height <= 0 || width%2 != 0 || height%2 != 0 || frameRate <= 0 {
		return nil, fmt.Errorf("yuv source: invalid %dx%d at %d fps", width, height, frameRate)
	}
	return &YUVSource{width: width, height: height, frameRate: frameRate, frames: frames}, nil
}

// Format returns the raw video format of the source.
func (y *YUVSource) Format() *media.Format {
	return media.NewVideoFormat(media.MimeVideoRaw, y.width, y.height).
		SetInt(media.KeyFrameRate, y.frameRate)
}

// FrameSize returns the byte size of one frame.
func (y *YUVSource) FrameSize() int { return y.width * y.height * 3 / 2 }

// ReadSample returns the next frame or io.EOF.
func (y *YUVSource) ReadSample() (media.Sample, error) {
	if y.pos >= y.frames {
		return media.Sample{}, io.EOF
	}
	frame := make([]byte, y.FrameSize())
	for i := range frame {
		frame[i] = byte((i + y.pos*13) % 251)
	}
	pts := y.offset + int64(y.pos)*1_000_000/int64(y.frameRate)
	y.pos++
	return media.NewSample(frame, pts, 0), nil
}

// Rewind restarts at the first frame and clears the offset.
func (y *YUVSource) Rewind() {
	y.pos = 0
	y.offset = 0
}

// FlushOffset returns (frames+5)*1e6/frameRate.
func (y *YUVSource) FlushOffset() int64 {
	return int64(y.pos+flushLeadFrames) * 1_000_000 / int64(y.frameRate)
}

// Restart applies FlushOffset and replays from the first frame.
func (y *YUVSource) Restart() int64 {
	y.offset = y.FlushOffset()
	y.pos = 0
	return y.offset - 1
}
