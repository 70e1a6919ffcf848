package jellyfin

import (
	"bytes"
	"errors"

	"github.com/goccy/go-json"
)

var errUserName = errors.New("UserName is not a string")

// fields is one JSON object, keyed by field name. Its accessors return the
// zero value when a field is absent, null or of an unexpected type, so a
// single odd field never costs the whole record.
type fields map[string]json.RawMessage

func decodeFields(data []byte) (fields, error) {
	var f fields
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, err
	}
	if f == nil {
		return nil, errors.New("not a JSON object")
	}
	return f, nil
}

func (f fields) present(key string) bool {
	raw, ok := f[key]
	return ok && !bytes.Equal(bytes.TrimSpace(raw), []byte("null"))
}

func (f fields) str(key string) string {
	var v string
	if f.present(key) && json.Unmarshal(f[key], &v) == nil {
		return v
	}
	return ""
}

// int accepts integral and fractional numbers; fractions are truncated.
func (f fields) int(key string) int64 {
	if !f.present(key) {
		return 0
	}
	var i int64
	if json.Unmarshal(f[key], &i) == nil {
		return i
	}
	var fl float64
	if json.Unmarshal(f[key], &fl) == nil {
		return int64(fl)
	}
	return 0
}

func (f fields) bool(key string) bool {
	var v bool
	if f.present(key) && json.Unmarshal(f[key], &v) == nil {
		return v
	}
	return false
}

// object decodes a nested object into v and reports whether it could.
func (f fields) object(key string, v json.Unmarshaler) bool {
	return f.present(key) && v.UnmarshalJSON(f[key]) == nil
}

func (s *Session) UnmarshalJSON(data []byte) error {
	f, err := decodeFields(data)
	if err != nil {
		return err
	}

	*s = Session{
		ID:         f.str("Id"),
		Client:     f.str("Client"),
		DeviceName: f.str("DeviceName"),
	}

	if f.present("UserName") {
		var name string
		if err := json.Unmarshal(f["UserName"], &name); err != nil {
			return errUserName
		}
		s.UserName = &name
	}

	var item MediaItem
	if f.object("NowPlayingItem", &item) {
		s.NowPlayingItem = &item
	}
	var ps PlayState
	if f.object("PlayState", &ps) {
		s.PlayState = &ps
	}
	return nil
}

func (m *MediaItem) UnmarshalJSON(data []byte) error {
	f, err := decodeFields(data)
	if err != nil {
		return err
	}

	*m = MediaItem{
		ID:           f.str("Id"),
		Name:         f.str("Name"),
		Path:         f.str("Path"),
		Type:         f.str("Type"),
		RunTimeTicks: f.int("RunTimeTicks"),
		Container:    f.str("Container"),
	}

	// Stream roles are positional, so an undecodable entry keeps its slot
	// as a zero stream.
	var streams []json.RawMessage
	if f.present("MediaStreams") && json.Unmarshal(f["MediaStreams"], &streams) == nil {
		m.MediaStreams = make([]MediaStream, len(streams))
		for i, raw := range streams {
			var ms MediaStream
			if ms.UnmarshalJSON(raw) == nil {
				m.MediaStreams[i] = ms
			}
		}
	}

	var ti TranscodingInfo
	if f.object("TranscodingInfo", &ti) {
		m.TranscodingInfo = &ti
	}
	return nil
}

func (ms *MediaStream) UnmarshalJSON(data []byte) error {
	f, err := decodeFields(data)
	if err != nil {
		return err
	}
	*ms = MediaStream{
		Type:         f.str("Type"),
		DisplayTitle: f.str("DisplayTitle"),
		BitRate:      f.int("BitRate"),
		BitDepth:     f.int("BitDepth"),
		ColorSpace:   f.str("ColorSpace"),
	}
	return nil
}

func (t *TranscodingInfo) UnmarshalJSON(data []byte) error {
	f, err := decodeFields(data)
	if err != nil {
		return err
	}
	*t = TranscodingInfo{
		IsVideoDirect: f.bool("IsVideoDirect"),
		IsAudioDirect: f.bool("IsAudioDirect"),
	}
	return nil
}

func (p *PlayState) UnmarshalJSON(data []byte) error {
	f, err := decodeFields(data)
	if err != nil {
		return err
	}
	*p = PlayState{
		PositionTicks: f.int("PositionTicks"),
		IsPaused:      f.bool("IsPaused"),
		IsMuted:       f.bool("IsMuted"),
		VolumeLevel:   f.int("VolumeLevel"),
		PlayMethod:    f.str("PlayMethod"),
	}
	return nil
}
