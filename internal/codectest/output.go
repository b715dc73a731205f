package codectest

import (
	"encoding/binary"
	"hash/crc32"
	"image"
	"log/slog"
	"math"
	"slices"

	"github.com/jmylchreest/codecconf/internal/observability"
)

// DefaultMismatchReportLimit bounds how many individual mismatches a
// comparison lists.
const DefaultMismatchReportLimit = 20

// UnsupportedImageChecksum is recorded for frames whose layout cannot be
// checksummed, keeping checksum sequences aligned with frame counts.
const UnsupportedImageChecksum int64 = -1

// MaxRMSError is returned by RMSError when the sample counts differ.
const MaxRMSError = math.MaxFloat32

// OutputManager accumulates the observable output of one run: input and
// output presentation timestamps, per-chunk checksums and raw bytes. It is
// not safe for concurrent mutation.
type OutputManager struct {
	memory    []byte
	checksums []int64
	inputPTS  []int64
	inputSeen map[int64]struct{}
	outputPTS []int64

	reportLimit int
	logger      *slog.Logger
}

// OutputManagerOption configures an OutputManager.
type OutputManagerOption func(*OutputManager)

// WithReportLimit sets how many mismatches are logged and kept.
func WithReportLimit(n int) OutputManagerOption {
	return func(m *OutputManager) {
		if n > 0 {
			m.reportLimit = n
		}
	}
}

// WithLogger sets the diagnostics logger.
func WithLogger(logger *slog.Logger) OutputManagerOption {
	return func(m *OutputManager) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// NewOutputManager creates an empty snapshot.
func NewOutputManager(opts ...OutputManagerOption) *OutputManager {
	m := &OutputManager{
		inputSeen:   make(map[int64]struct{}),
		reportLimit: DefaultMismatchReportLimit,
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.logger = observability.WithComponent(m.logger, "output_manager")
	return m
}

// RecordInputPTS adds pts to the input set unless already present.
func (m *OutputManager) RecordInputPTS(pts int64) {
	if _, ok := m.inputSeen[pts]; ok {
		return
	}
	m.inputSeen[pts] = struct{}{}
	m.inputPTS = append(m.inputPTS, pts)
}

// RecordOutputPTS appends pts to the output sequence.
func (m *OutputManager) RecordOutputPTS(pts int64) {
	m.outputPTS = append(m.outputPTS, pts)
}

// RecordChecksum appends the CRC-32 of data.
func (m *OutputManager) RecordChecksum(data []byte) {
	m.checksums = append(m.checksums, int64(crc32.ChecksumIEEE(data)))
}

// RecordImageChecksum appends one CRC-32 over the visible luma and chroma
// planes of img, row by row. Only 4:2:0 subsampling is supported.
func (m *OutputManager) RecordImageChecksum(img *image.YCbCr) {
	if img == nil || img.SubsampleRatio != image.YCbCrSubsampleRatio420 {
		m.checksums = append(m.checksums, UnsupportedImageChecksum)
		return
	}
	r := img.Rect
	w, h := r.Dx(), r.Dy()
	crc := crc32.NewIEEE()
	for y := 0; y < h; y++ {
		off := img.YOffset(r.Min.X, r.Min.Y+y)
		crc.Write(img.Y[off : off+w])
	}
	cw, ch := (w+1)/2, (h+1)/2
	for _, plane := range [][]byte{img.Cb, img.Cr} {
		for y := 0; y < ch; y++ {
			off := img.COffset(r.Min.X, r.Min.Y+2*y)
			crc.Write(plane[off : off+cw])
		}
	}
	m.checksums = append(m.checksums, int64(crc.Sum32()))
}

// AppendBytes appends data to the raw byte buffer.
func (m *OutputManager) AppendBytes(data []byte) {
	m.memory = append(m.memory, data...)
}

// Reset clears all recorded state. Byte slices returned by Bytes before the
// reset stay valid.
func (m *OutputManager) Reset() {
	m.memory = nil
	m.checksums = m.checksums[:0]
	m.inputPTS = m.inputPTS[:0]
	m.outputPTS = m.outputPTS[:0]
	clear(m.inputSeen)
}

// InputPTS returns the deduplicated input timestamps in ascending order.
func (m *OutputManager) InputPTS() []int64 {
	out := slices.Clone(m.inputPTS)
	slices.Sort(out)
	return out
}

// OutputPTS returns the output timestamps in recorded order.
func (m *OutputManager) OutputPTS() []int64 {
	return slices.Clone(m.outputPTS)
}

// Checksums returns the recorded checksums in order.
func (m *OutputManager) Checksums() []int64 {
	return slices.Clone(m.checksums)
}

// Bytes returns the raw byte buffer. The slice must not be modified.
func (m *OutputManager) Bytes() []byte {
	return m.memory
}

// Len returns the size of the raw byte buffer.
func (m *OutputManager) Len() int {
	return len(m.memory)
}

// IsPTSStrictlyIncreasing reports whether every output timestamp is greater
// than the one before it, starting from floor.
func (m *OutputManager) IsPTSStrictlyIncreasing(floor int64) bool {
	last := floor
	for i, pts := range m.outputPTS {
		if pts <= last {
			m.logger.Warn("output timestamps not strictly increasing",
				slog.Int("index", i),
				slog.Int64("previous_pts", last),
				slog.Int64("pts", pts),
			)
			return false
		}
		last = pts
	}
	return true
}

// IsOutPTSIdenticalToInPTS compares the output timestamps with the sorted
// input set. Output is sorted first only when requireSorting is set, which
// callers pass when the device is expected to reorder frames.
func (m *OutputManager) IsOutPTSIdenticalToInPTS(requireSorting bool) bool {
	in := m.InputPTS()
	out := m.OutputPTS()
	if requireSorting {
		slices.Sort(out)
	}

	equal := slices.Equal(in, out)
	if !equal {
		m.logger.Warn("output timestamps differ from input timestamps",
			slog.Int("input_count", len(in)),
			slog.Int("output_count", len(out)),
		)
		reported := 0
		for i := 0; i < max(len(in), len(out)) && reported < m.reportLimit; i++ {
			var a, b any = "-", "-"
			if i < len(in) {
				a = in[i]
			}
			if i < len(out) {
				b = out[i]
			}
			if i < len(in) && i < len(out) && in[i] == out[i] {
				continue
			}
			m.logger.Warn("timestamp mismatch",
				slog.Int("index", i),
				slog.Any("input_pts", a),
				slog.Any("output_pts", b),
			)
			reported++
		}
	}
	return equal
}

// ByteMismatch is one differing byte between two buffers.
type ByteMismatch struct {
	Offset   int  `json:"offset" yaml:"offset"`
	Expected byte `json:"expected" yaml:"expected"`
	Actual   byte `json:"actual" yaml:"actual"`
}

// Comparison is the full result of comparing two snapshots.
type Comparison struct {
	ChecksumsEqual bool           `json:"checksums_equal" yaml:"checksums_equal"`
	ChecksumCounts [2]int         `json:"checksum_counts" yaml:"checksum_counts"`
	OutputPTSEqual bool           `json:"output_pts_equal" yaml:"output_pts_equal"`
	OutputPTSCount [2]int         `json:"output_pts_counts" yaml:"output_pts_counts"`
	SizeEqual      bool           `json:"size_equal" yaml:"size_equal"`
	Sizes          [2]int         `json:"sizes" yaml:"sizes"`
	ByteMismatches int            `json:"byte_mismatches" yaml:"byte_mismatches"`
	FirstBytes     []ByteMismatch `json:"first_byte_mismatches,omitempty" yaml:"first_byte_mismatches,omitempty"`
}

// Equal reports whether all clauses hold.
func (c Comparison) Equal() bool {
	return c.ChecksumsEqual && c.OutputPTSEqual && c.SizeEqual && c.ByteMismatches == 0
}

// Err returns a *MismatchError naming the broken clauses, or nil.
func (c Comparison) Err() error {
	var broken []string
	if !c.ChecksumsEqual {
		broken = append(broken, "checksums")
	}
	if !c.OutputPTSEqual {
		broken = append(broken, "output timestamps")
	}
	if !c.SizeEqual {
		broken = append(broken, "byte length")
	}
	if c.ByteMismatches > 0 {
		broken = append(broken, "byte content")
	}
	if len(broken) == 0 {
		return nil
	}
	return &MismatchError{Broken: broken, Comparison: c}
}

// Compare computes every equality clause against other, the reference.
// Nothing is short-circuited so the diagnostics are complete.
func (m *OutputManager) Compare(other *OutputManager) Comparison {
	c := Comparison{
		ChecksumCounts: [2]int{len(other.checksums), len(m.checksums)},
		OutputPTSCount: [2]int{len(other.outputPTS), len(m.outputPTS)},
		Sizes:          [2]int{len(other.memory), len(m.memory)},
	}

	c.ChecksumsEqual = slices.Equal(other.checksums, m.checksums)
	if !c.ChecksumsEqual {
		m.logger.Warn("checksum sequences differ",
			slog.Int("reference_count", len(other.checksums)),
			slog.Int("test_count", len(m.checksums)),
		)
	}

	c.OutputPTSEqual = slices.Equal(other.outputPTS, m.outputPTS)
	if !c.OutputPTSEqual {
		m.logger.Warn("output timestamp sequences differ",
			slog.Int("reference_count", len(other.outputPTS)),
			slog.Int("test_count", len(m.outputPTS)),
		)
	}

	c.SizeEqual = len(other.memory) == len(m.memory)
	if !c.SizeEqual {
		m.logger.Warn("byte buffer sizes differ",
			slog.Int("reference_size", len(other.memory)),
			slog.Int("test_size", len(m.memory)),
		)
	}

	n := min(len(other.memory), len(m.memory))
	for i := 0; i < n; i++ {
		if other.memory[i] == m.memory[i] {
			continue
		}
		c.ByteMismatches++
		if len(c.FirstBytes) < m.reportLimit {
			c.FirstBytes = append(c.FirstBytes, ByteMismatch{Offset: i, Expected: other.memory[i], Actual: m.memory[i]})
			m.logger.Warn("byte mismatch",
				slog.Int("offset", i),
				slog.Int("expected", int(other.memory[i])),
				slog.Int("actual", int(m.memory[i])),
			)
		}
	}
	if c.ByteMismatches > 0 {
		m.logger.Warn("byte buffers differ", slog.Int("mismatches", c.ByteMismatches))
	}

	return c
}

// Equals reports whether m and other are identical snapshots.
func (m *OutputManager) Equals(other *OutputManager) bool {
	return m.Compare(other).Equal()
}

// RMSError returns the root mean square difference between the recorded
// bytes, read as little-endian 16-bit samples, and ref. The squared error
// is accumulated in int64 and averaged with integer division.
func (m *OutputManager) RMSError(ref []int16) float64 {
	if len(m.memory)%2 != 0 || len(m.memory)/2 != len(ref) {
		m.logger.Warn("sample count mismatch",
			slog.Int("reference_samples", len(ref)),
			slog.Int("test_bytes", len(m.memory)),
		)
		return MaxRMSError
	}
	if len(ref) == 0 {
		return 0
	}
	var total int64
	for i, r := range ref {
		s := int16(binary.LittleEndian.Uint16(m.memory[2*i:]))
		d := int64(s) - int64(r)
		total += d * d
	}
	return math.Sqrt(float64(total / int64(len(ref))))
}
