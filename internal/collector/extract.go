package collector

import (
	"strconv"
	"strings"

	"github.com/azuse/jellyfin-exporter/internal/jellyfin"
)

// StreamKind classifies how a session's media reaches the client.
type StreamKind int

const (
	StreamNone StreamKind = iota
	StreamDirect
	StreamTranscode
)

func (k StreamKind) String() string {
	switch k {
	case StreamDirect:
		return "direct"
	case StreamTranscode:
		return "transcode"
	default:
		return "none"
	}
}

// Observation is the flattened view of one user session. Absent fields of
// the source record are left at their zero values.
type Observation struct {
	User              string
	Client            string
	DeviceName        string
	PlayName          string
	Path              string
	RunTimeTicks      int64
	Container         string
	VideoDisplayTitle string
	BitRate           int64
	BitDepth          int64
	ColorSpace        string
	AudioDisplayTitle string
	PositionTicks     int64
	IsPaused          bool
	IsMuted           bool
	VolumeLevel       int64
	PlayMethod        string
	Stream            StreamKind
}

// sessionLabels are the per-session label names, in LabelValues order.
var sessionLabels = []string{
	"user", "client", "device_name",
	"play_name", "path", "run_time_ticks", "container",
	"video_display_title", "bit_rate", "bit_depth", "color_space",
	"audio_display_title",
	"playing_position_ms", "is_paused", "is_muted", "volume_level", "play_method",
}

// LabelValues renders the observation in sessionLabels order. Invalid UTF-8
// in upstream strings is replaced, since label values must be valid UTF-8.
func (o Observation) LabelValues() []string {
	return []string{
		labelValue(o.User), labelValue(o.Client), labelValue(o.DeviceName),
		labelValue(o.PlayName), labelValue(o.Path), formatInt(o.RunTimeTicks), labelValue(o.Container),
		labelValue(o.VideoDisplayTitle), formatInt(o.BitRate), formatInt(o.BitDepth), labelValue(o.ColorSpace),
		labelValue(o.AudioDisplayTitle),
		formatInt(o.PositionTicks), formatBool(o.IsPaused), formatBool(o.IsMuted), formatInt(o.VolumeLevel), labelValue(o.PlayMethod),
	}
}

// Extract flattens a session. It reports false for sessions without a user
// name, which are not user sessions and must not be exported.
func Extract(s jellyfin.Session) (Observation, bool) {
	if s.UserName == nil {
		return Observation{}, false
	}

	o := Observation{
		User:       *s.UserName,
		Client:     s.Client,
		DeviceName: s.DeviceName,
		Stream:     Classify(s),
	}

	if item := s.NowPlayingItem; item != nil {
		o.PlayName = item.Name
		o.Path = item.Path
		o.RunTimeTicks = item.RunTimeTicks
		o.Container = item.Container

		if video, audio, ok := streamRoles(item.MediaStreams); ok {
			o.VideoDisplayTitle = video.DisplayTitle
			o.BitRate = video.BitRate
			o.BitDepth = video.BitDepth
			o.ColorSpace = video.ColorSpace
			o.AudioDisplayTitle = audio.DisplayTitle
		}
	}

	if ps := s.PlayState; ps != nil {
		o.PositionTicks = ps.PositionTicks
		o.IsPaused = ps.IsPaused
		o.IsMuted = ps.IsMuted
		o.VolumeLevel = ps.VolumeLevel
		o.PlayMethod = ps.PlayMethod
	}

	return o, true
}

// streamRoles picks the video and audio streams of an item by position:
// the server lists the video stream first and the audio stream second.
// Stream types are not checked. Items with fewer than two streams have no
// roles at all, not even a video stream.
func streamRoles(streams []jellyfin.MediaStream) (video, audio jellyfin.MediaStream, ok bool) {
	if len(streams) <= 1 {
		return jellyfin.MediaStream{}, jellyfin.MediaStream{}, false
	}
	return streams[0], streams[1], true
}

// Classify reports whether a session is idle, playing directly or
// transcoding. Without transcoding info the stream counts as direct.
func Classify(s jellyfin.Session) StreamKind {
	item := s.NowPlayingItem
	switch {
	case item == nil:
		return StreamNone
	case item.TranscodingInfo == nil:
		return StreamDirect
	case item.TranscodingInfo.IsVideoDirect:
		return StreamDirect
	default:
		return StreamTranscode
	}
}

func labelValue(s string) string {
	return strings.ToValidUTF8(s, "\uFFFD")
}

func formatInt(v int64) string {
	return strconv.FormatInt(v, 10)
}

// formatBool keeps the capitalised spelling existing dashboards match on.
func formatBool(v bool) string {
	if v {
		return "True"
	}
	return "False"
}
