package source

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"

	"github.com/asticode/go-astits"
)

// StreamInfo describes one elementary stream seen while probing.
type StreamInfo struct {
	PID        uint16 `json:"pid" yaml:"pid"`
	StreamType uint8  `json:"stream_type" yaml:"stream_type"`
	Codec      string `json:"codec" yaml:"codec"`
	PESCount   int    `json:"pes_count" yaml:"pes_count"`
	// FirstPTS and LastPTS are in microseconds; -1 when no PES carried one.
	FirstPTS int64 `json:"first_pts_us" yaml:"first_pts_us"`
	LastPTS  int64 `json:"last_pts_us" yaml:"last_pts_us"`
}

// ProgramInfo is one program from the PMT.
type ProgramInfo struct {
	Number  uint16       `json:"number" yaml:"number"`
	PCRPID  uint16       `json:"pcr_pid" yaml:"pcr_pid"`
	Streams []StreamInfo `json:"streams" yaml:"streams"`
}

// ProbeResult is the inventory of an MPEG-TS stream.
type ProbeResult struct {
	Programs []ProgramInfo `json:"programs" yaml:"programs"`
	Packets  int           `json:"pes_packets" yaml:"pes_packets"`
}

// streamTypeNames covers the stream types found in test vectors.
var streamTypeNames = map[uint8]string{
	0x02: "mpeg2video",
	0x03: "mp3",
	0x04: "mp3",
	0x06: "private",
	0x0f: "aac",
	0x11: "aac-latm",
	0x1b: "h264",
	0x24: "h265",
	0x81: "ac3",
	0x87: "eac3",
}

// StreamTypeName returns a short codec name for an MPEG-TS stream type.
func StreamTypeName(t uint8) string {
	if n, ok := streamTypeNames[t]; ok {
		return n
	}
	return fmt.Sprintf("0x%02x", t)
}

// Probe walks an MPEG-TS stream with astits and reports its programs, their
// elementary streams and PES statistics.
func Probe(ctx context.Context, r io.Reader) (*ProbeResult, error) {
	dmx := astits.NewDemuxer(ctx, r)

	programs := make(map[uint16]*ProgramInfo)
	streams := make(map[uint16]*StreamInfo)
	owner := make(map[uint16]uint16)
	res := &ProbeResult{}

	for {
		d, err := dmx.NextData()
		if err != nil {
			if errors.Is(err, astits.ErrNoMorePackets) || errors.Is(err, io.EOF) {
				break
			}
			return nil, fmt.Errorf("demuxing: %w", err)
		}

		if d.PMT != nil {
			p, ok := programs[d.PMT.ProgramNumber]
			if !ok {
				p = &ProgramInfo{Number: d.PMT.ProgramNumber}
				programs[d.PMT.ProgramNumber] = p
			}
			p.PCRPID = d.PMT.PCRPID
			for _, es := range d.PMT.ElementaryStreams {
				if _, seen := streams[es.ElementaryPID]; seen {
					continue
				}
				streams[es.ElementaryPID] = &StreamInfo{
					PID:        es.ElementaryPID,
					StreamType: uint8(es.StreamType),
					Codec:      StreamTypeName(uint8(es.StreamType)),
					FirstPTS:   -1,
					LastPTS:    -1,
				}
				owner[es.ElementaryPID] = d.PMT.ProgramNumber
			}
		}

		if d.PES != nil {
			res.Packets++
			s, ok := streams[d.PID]
			if !ok {
				continue
			}
			s.PESCount++
			if h := d.PES.Header; h != nil && h.OptionalHeader != nil && h.OptionalHeader.PTS != nil {
				pts := TicksToUs(h.OptionalHeader.PTS.Base)
				if s.FirstPTS < 0 {
					s.FirstPTS = pts
				}
				s.LastPTS = pts
			}
		}
	}

	for pid, s := range streams {
		p := programs[owner[pid]]
		p.Streams = append(p.Streams, *s)
	}
	for _, p := range programs {
		sort.Slice(p.Streams, func(i, j int) bool { return p.Streams[i].PID < p.Streams[j].PID })
		res.Programs = append(res.Programs, *p)
	}
	sort.Slice(res.Programs, func(i, j int) bool { return res.Programs[i].Number < res.Programs[j].Number })
	return res, nil
}
