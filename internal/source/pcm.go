package source

import (
	"encoding/binary"
	"fmt"
	"io"
	"math"

	"github.com/jmylchreest/codecconf/internal/media"
)

// flushLeadBytes is added to the submitted byte count when an audio encoder
// source restarts after a flush, so the new timestamps clear the old ones.
const flushLeadBytes = 1024

// PCMSource chunks raw s16le PCM into fixed-size input buffers. Timestamps
// follow the byte position: offset + bytes*1e6/(2*channels*rate).
type PCMSource struct {
	data       []byte
	sampleRate int
	channels   int
	chunk      int
	offset     int64
	pos        int
}

// NewPCMSource creates a source over interleaved s16le PCM. chunkBytes is
// the input buffer size and is rounded down to whole sample frames.
func NewPCMSource(pcm []byte, sampleRate, channels, chunkBytes int) (*PCMSource, error) {
	if sampleRate <= 0 || channels <= 0 {
		return nil, fmt.Errorf("pcm source: invalid rate %d or channel count %d", sampleRate, channels)
	}
	frame := 2 * channels
	chunkBytes -= chunkBytes % frame
	if chunkBytes <= 0 {
		return nil, fmt.Errorf("pcm source: chunk smaller than one %d byte frame", frame)
	}
	return &PCMSource{data: pcm, sampleRate: sampleRate, channels: channels, chunk: chunkBytes}, nil
}

// Format returns the raw audio format of the source.
func (p *PCMSource) Format() *media.Format {
	return media.NewAudioFormat(media.MimeAudioRaw, p.sampleRate, p.channels).
		SetInt(media.KeyMaxInputSize, p.chunk)
}

func (p *PCMSource) ptsAt(bytes int) int64 {
	return p.offset + int64(bytes)*1_000_000/int64(2*p.channels*p.sampleRate)
}

// ReadSample returns the next chunk or io.EOF.
func (p *PCMSource) ReadSample() (media.Sample, error) {
	if p.pos >= len(p.data) {
		return media.Sample{}, io.EOF
	}
	n := min(p.chunk, len(p.data)-p.pos)
	s := media.NewSample(p.data[p.pos:p.pos+n], p.ptsAt(p.pos), 0)
	p.pos += n
	return s, nil
}

// BytesSubmitted returns the number of bytes read since the last rewind.
func (p *PCMSource) BytesSubmitted() int { return p.pos }

// Offset returns the current timestamp offset.
func (p *PCMSource) Offset() int64 { return p.offset }

// Rewind restarts at byte zero and clears the offset.
func (p *PCMSource) Rewind() {
	p.pos = 0
	p.offset = 0
}

// FlushOffset returns the timestamp offset to resume with after a flush:
// (bytes+1024)*1e6/(2*channels*rate).
func (p *PCMSource) FlushOffset() int64 {
	return int64(p.pos+flushLeadBytes) * 1_000_000 / int64(2*p.channels*p.sampleRate)
}

// Restart applies FlushOffset and replays from byte zero. It returns the
// output floor the resumed run must exceed.
func (p *PCMSource) Restart() int64 {
	p.offset = p.FlushOffset()
	p.pos = 0
	return p.offset - 1
}

// Int16s decodes the whole source buffer as samples, for RMS comparison.
func (p *PCMSource) Int16s() []int16 {
	return BytesToInt16(p.data)
}

// BytesToInt16 decodes little-endian 16-bit samples. A trailing odd byte is
// ignored.
func BytesToInt16(b []byte) []int16 {
	out := make([]int16, len(b)/2)
	for i := range out {
		out[i] = int16(binary.LittleEndian.Uint16(b[2*i:]))
	}
	return out
}

// Int16ToBytes encodes samples as little-endian bytes.
func Int16ToBytes(samples []int16) []byte {
	out := make([]byte, 2*len(samples))
	for i, s := range samples {
		binary.LittleEndian.PutUint16(out[2*i:], uint16(s))
	}
	return out
}

// GenerateSine returns durationUs of interleaved s16le PCM holding a sine
// tone at half scale.
func GenerateSine(freqHz float64, sampleRate, channels int, durationUs int64) []byte {
	frames := int(durationUs * int64(sampleRate) / 1_000_000)
	samples := make([]int16, 0, frames*channels)
	for i := range frames {
		v := int16(math.Round(16383 * math.Sin(2*math.Pi*freqHz*float64(i)/float64(sampleRate))))
		for range channels {
			samples = append(samples, v)
		}
	}
	return Int16ToBytes(samples)
}
