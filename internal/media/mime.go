// Package media defines the sample metadata and format vocabulary shared by
// the conformance driver, the software devices and the container sources.
package media

import (
	"strings"

	"github.com/bluenviron/mediacommon/v2/pkg/formats/mpegts"
)

// Mime type constants.
const (
	MimeVideoAVC  = "video/avc"
	MimeVideoHEVC = "video/hevc"
	MimeVideoRaw  = "video/raw"
	MimeAudioAAC  = "audio/mp4a-latm"
	MimeAudioOpus = "audio/opus"
	MimeAudioMP3  = "audio/mpeg"
	MimeAudioAC3  = "audio/ac3"
	MimeAudioRaw  = "audio/raw"
)

// MimeInfo describes a known mime type.
type MimeInfo struct {
	Mime string
	// Name is the short codec name used in logs and reports.
	Name string
	// Raw is true for uncompressed sample formats.
	Raw bool
	// Demuxable is true when the TS extractor can produce samples for it.
	Demuxable bool
}

var mimeRegistry = map[string]*MimeInfo{
	MimeVideoAVC:  {Mime: MimeVideoAVC, Name: "h264", Demuxable: true},
	MimeVideoHEVC: {Mime: MimeVideoHEVC, Name: "h265"},
	MimeVideoRaw:  {Mime: MimeVideoRaw, Name: "yuv", Raw: true},
	MimeAudioAAC:  {Mime: MimeAudioAAC, Name: "aac", Demuxable: true},
	MimeAudioOpus: {Mime: MimeAudioOpus, Name: "opus"},
	MimeAudioMP3:  {Mime: MimeAudioMP3, Name: "mp3"},
	MimeAudioAC3:  {Mime: MimeAudioAC3, Name: "ac3"},
	MimeAudioRaw:  {Mime: MimeAudioRaw, Name: "pcm", Raw: true},
}

// LookupMime returns information about a mime type.
func LookupMime(mime string) (*MimeInfo, bool) {
	info, ok := mimeRegistry[strings.ToLower(mime)]
	return info, ok
}

// IsAudioMime reports whether mime names an audio format.
func IsAudioMime(mime string) bool {
	return strings.HasPrefix(strings.ToLower(mime), "audio/")
}

// IsVideoMime reports whether mime names a video format.
func IsVideoMime(mime string) bool {
	return strings.HasPrefix(strings.ToLower(mime), "video/")
}

// RawMimeFor returns the uncompressed mime of the same media kind.
func RawMimeFor(mime string) string {
	if IsAudioMime(mime) {
		return MimeAudioRaw
	}
	return MimeVideoRaw
}

// MimeFromTSCodec maps a mediacommon MPEG-TS codec to a mime type.
func MimeFromTSCodec(c mpegts.Codec) (string, bool) {
	switch c.(type) {
	case *mpegts.CodecH264:
		return MimeVideoAVC, true
	case *mpegts.CodecH265:
		return MimeVideoHEVC, true
	case *mpegts.CodecMPEG4Audio:
		return MimeAudioAAC, true
	case *mpegts.CodecOpus:
		return MimeAudioOpus, true
	case *mpegts.CodecMPEG1Audio:
		return MimeAudioMP3, true
	case *mpegts.CodecAC3:
		return MimeAudioAC3, true
	default:
		return "", false
	}
}
