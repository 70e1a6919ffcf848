package jellyfin

// PublicSystemInfo from GET /System/Info/Public.
type PublicSystemInfo struct {
	ServerName   string `json:"ServerName"`
	Version      string `json:"Version"`
	ID           string `json:"Id"`
	LocalAddress string `json:"LocalAddress"`
}

// Session from GET /Sessions.
//
// UserName is a pointer because its absence marks a session that does not
// belong to a user (the server's own background sessions, for instance).
type Session struct {
	ID             string     `json:"Id"`
	UserName       *string    `json:"UserName,omitempty"`
	Client         string     `json:"Client"`
	DeviceName     string     `json:"DeviceName"`
	NowPlayingItem *MediaItem `json:"NowPlayingItem,omitempty"`
	PlayState      *PlayState `json:"PlayState,omitempty"`
}

// MediaItem is the item a session is currently playing.
type MediaItem struct {
	ID              string           `json:"Id"`
	Name            string           `json:"Name"`
	Path            string           `json:"Path"`
	Type            string           `json:"Type"`
	RunTimeTicks    int64            `json:"RunTimeTicks"`
	Container       string           `json:"Container"`
	MediaStreams    []MediaStream    `json:"MediaStreams"`
	TranscodingInfo *TranscodingInfo `json:"TranscodingInfo,omitempty"`
}

type MediaStream struct {
	Type         string `json:"Type"`
	DisplayTitle string `json:"DisplayTitle"`
	BitRate      int64  `json:"BitRate"`
	BitDepth     int64  `json:"BitDepth"`
	ColorSpace   string `json:"ColorSpace"`
}

type TranscodingInfo struct {
	IsVideoDirect bool `json:"IsVideoDirect"`
	IsAudioDirect bool `json:"IsAudioDirect"`
}

type PlayState struct {
	PositionTicks int64  `json:"PositionTicks"`
	IsPaused      bool   `json:"IsPaused"`
	IsMuted       bool   `json:"IsMuted"`
	VolumeLevel   int64  `json:"VolumeLevel"`
	PlayMethod    string `json:"PlayMethod"`
}

// ItemCounts from GET /Items/Counts, keyed by catalog category
// (MovieCount, SeriesCount, ...).
type ItemCounts map[string]float64
