package jellyfin

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	gobreaker "github.com/sony/gobreaker/v2"
)

func TestNewClient_DefaultsAndConfig(t *testing.T) {
	client := NewClient(Config{URL: "http://localhost:8096/", APIKey: "token"})

	if client.BaseURL() != "http://localhost:8096" {
		t.Fatalf("baseURL = %q, want %q", client.BaseURL(), "http://localhost:8096")
	}
	if client.httpClient == nil {
		t.Fatalf("expected http client")
	}
	if client.httpClient.Timeout != 10*time.Second {
		t.Fatalf("timeout = %v, want %v", client.httpClient.Timeout, 10*time.Second)
	}
	if client.apiKey != "token" {
		t.Fatalf("apiKey = %q, want %q", client.apiKey, "token")
	}
}

func TestGetSessions_SendsAPIKeyAndKeepsPathPrefix(t *testing.T) {
	var gotPath, gotKey, gotAccept string

	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotKey = r.URL.Query().Get("api_key")
		gotAccept = r.Header.Get("Accept")
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`[]`))
	}))
	defer ts.Close()

	client := NewClient(Config{URL: ts.URL + "/jellyfin/", APIKey: "secret-key"})
	sessions, err := client.GetSessions(context.Background())
	if err != nil {
		t.Fatalf("GetSessions() error = %v", err)
	}

	if gotPath != "/jellyfin/Sessions" {
		t.Fatalf("path = %s, want /jellyfin/Sessions", gotPath)
	}
	if gotKey != "secret-key" {
		t.Fatalf("api_key = %q, want %q", gotKey, "secret-key")
	}
	if gotAccept != "application/json" {
		t.Fatalf("accept = %q", gotAccept)
	}
	if len(sessions) != 0 {
		t.Fatalf("sessions = %d, want 0", len(sessions))
	}
}

func TestGetSessions_DecodesPlayback(t *testing.T) {
	body := `[
		{
			"Id": "s1",
			"UserName": "alice",
			"Client": "Jellyfin Web",
			"DeviceName": "Firefox",
			"NowPlayingItem": {
				"Name": "Big Buck Bunny",
				"Path": "/media/bbb.mkv",
				"RunTimeTicks": 5964000000,
				"Container": "mkv",
				"MediaStreams": [
					{"Type": "Video", "DisplayTitle": "1080p H264 SDR", "BitRate": 8000000, "BitDepth": 8, "ColorSpace": "bt709"},
					{"Type": "Audio", "DisplayTitle": "English AAC Stereo"}
				],
				"TranscodingInfo": {"IsVideoDirect": false, "IsAudioDirect": true}
			},
			"PlayState": {"PositionTicks": 1200000000, "IsPaused": true, "VolumeLevel": 80, "PlayMethod": "Transcode"}
		},
		{"Id": "s2", "UserName": "bob", "NowPlayingItem": null},
		{"Id": "s3", "Client": "Jellyfin Server"}
	]`

	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(body))
	}))
	defer ts.Close()

	sessions, err := NewClient(Config{URL: ts.URL, APIKey: "k"}).GetSessions(context.Background())
	if err != nil {
		t.Fatalf("GetSessions() error = %v", err)
	}
	if len(sessions) != 3 {
		t.Fatalf("sessions = %d, want 3", len(sessions))
	}

	s := sessions[0]
	if s.UserName == nil || *s.UserName != "alice" {
		t.Fatalf("UserName = %v", s.UserName)
	}
	if s.NowPlayingItem == nil || s.NowPlayingItem.TranscodingInfo == nil {
		t.Fatalf("expected transcoding info, got %+v", s.NowPlayingItem)
	}
	if s.NowPlayingItem.TranscodingInfo.IsVideoDirect {
		t.Fatalf("IsVideoDirect = true, want false")
	}
	if len(s.NowPlayingItem.MediaStreams) != 2 || s.NowPlayingItem.MediaStreams[0].BitRate != 8000000 {
		t.Fatalf("unexpected streams: %+v", s.NowPlayingItem.MediaStreams)
	}
	if s.PlayState == nil || !s.PlayState.IsPaused || s.PlayState.VolumeLevel != 80 {
		t.Fatalf("unexpected play state: %+v", s.PlayState)
	}

	if sessions[1].NowPlayingItem != nil {
		t.Fatalf("expected null NowPlayingItem to decode as nil")
	}
	if sessions[2].UserName != nil {
		t.Fatalf("expected missing UserName to decode as nil")
	}
}

func TestGetSessions_DefaultsMistypedFields(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`[
			{"UserName": 42},
			"not a session",
			{"UserName": "carol", "PlayState": {"IsPaused": "yes", "VolumeLevel": 55.5, "PlayMethod": "DirectPlay"}},
			{"UserName": "dave", "NowPlayingItem": {"Name": "m", "RunTimeTicks": 1.5e10}}
		]`))
	}))
	defer ts.Close()

	sessions, err := NewClient(Config{URL: ts.URL, APIKey: "k"}).GetSessions(context.Background())
	if err != nil {
		t.Fatalf("GetSessions() error = %v", err)
	}
	if len(sessions) != 2 {
		t.Fatalf("sessions = %+v, want carol and dave", sessions)
	}

	carol := sessions[0]
	if *carol.UserName != "carol" || carol.PlayState == nil {
		t.Fatalf("unexpected first session: %+v", carol)
	}
	if carol.PlayState.IsPaused {
		t.Fatalf("IsPaused = true, want default false")
	}
	if carol.PlayState.VolumeLevel != 55 || carol.PlayState.PlayMethod != "DirectPlay" {
		t.Fatalf("unexpected play state: %+v", carol.PlayState)
	}

	dave := sessions[1]
	if dave.NowPlayingItem == nil || dave.NowPlayingItem.RunTimeTicks != 15000000000 {
		t.Fatalf("unexpected item: %+v", dave.NowPlayingItem)
	}
}

func TestGetSessions_NonArrayBodyIsDecodeError(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`<html>login</html>`))
	}))
	defer ts.Close()

	_, err := NewClient(Config{URL: ts.URL, APIKey: "k"}).GetSessions(context.Background())
	var decodeErr *DecodeError
	if !errors.As(err, &decodeErr) {
		t.Fatalf("error = %v, want DecodeError", err)
	}
	if decodeErr.Endpoint != "/Sessions" {
		t.Fatalf("endpoint = %q", decodeErr.Endpoint)
	}
}

func TestGetSessions_HTTPErrorIsTransportError(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad gateway", http.StatusBadGateway)
	}))
	defer ts.Close()

	_, err := NewClient(Config{URL: ts.URL, APIKey: "k"}).GetSessions(context.Background())
	var transportErr *TransportError
	if !errors.As(err, &transportErr) {
		t.Fatalf("error = %v, want TransportError", err)
	}
	if !strings.Contains(err.Error(), "status 502") {
		t.Fatalf("error = %q, want status code", err.Error())
	}
}

func TestGetSessions_UnreachableIsTransportError(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := ts.URL
	ts.Close()

	_, err := NewClient(Config{URL: url, APIKey: "k", Timeout: time.Second}).GetSessions(context.Background())
	var transportErr *TransportError
	if !errors.As(err, &transportErr) {
		t.Fatalf("error = %v, want TransportError", err)
	}
}

func TestGetSessions_InvalidURLIsTransportError(t *testing.T) {
	_, err := NewClient(Config{URL: "http://[::1", APIKey: "k"}).GetSessions(context.Background())
	var transportErr *TransportError
	if !errors.As(err, &transportErr) {
		t.Fatalf("error = %v, want TransportError", err)
	}
}

func TestGetItemCounts(t *testing.T) {
	var gotPath string
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		w.Write([]byte(`{"MovieCount": 120, "SeriesCount": 30, "EpisodeCount": 0}`))
	}))
	defer ts.Close()

	counts, err := NewClient(Config{URL: ts.URL, APIKey: "k"}).GetItemCounts(context.Background())
	if err != nil {
		t.Fatalf("GetItemCounts() error = %v", err)
	}
	if gotPath != "/Items/Counts" {
		t.Fatalf("path = %s, want /Items/Counts", gotPath)
	}
	if counts["MovieCount"] != 120 || counts["SeriesCount"] != 30 || len(counts) != 3 {
		t.Fatalf("counts = %v", counts)
	}
}

func TestPing_DoesNotSendAPIKey(t *testing.T) {
	var gotPath, gotKey string
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotKey = r.URL.Query().Get("api_key")
		w.Write([]byte(`{"ServerName": "Jellyfin", "Version": "10.9.0", "Id": "server-1"}`))
	}))
	defer ts.Close()

	info, err := NewClient(Config{URL: ts.URL, APIKey: "secret"}).Ping(context.Background())
	if err != nil {
		t.Fatalf("Ping() error = %v", err)
	}
	if gotPath != "/System/Info/Public" {
		t.Fatalf("path = %s", gotPath)
	}
	if gotKey != "" {
		t.Fatalf("api_key = %q, want none", gotKey)
	}
	if info.Version != "10.9.0" {
		t.Fatalf("version = %q", info.Version)
	}
}

func TestBreakerClient_OpensAfterConsecutiveFailures(t *testing.T) {
	var hits atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		http.Error(w, "unavailable", http.StatusServiceUnavailable)
	}))
	defer ts.Close()

	bc := NewBreakerClient(NewClient(Config{URL: ts.URL, APIKey: "k"}), BreakerConfig{
		FailureThreshold: 2,
		Cooldown:         time.Minute,
	})

	for i := 0; i < 2; i++ {
		if _, err := bc.GetSessions(context.Background()); err == nil {
			t.Fatalf("call %d: expected error", i)
		}
	}
	if bc.State() != "open" {
		t.Fatalf("state = %q, want open", bc.State())
	}

	_, err := bc.GetItemCounts(context.Background())
	var transportErr *TransportError
	if !errors.As(err, &transportErr) {
		t.Fatalf("error = %v, want TransportError", err)
	}
	if !errors.Is(err, gobreaker.ErrOpenState) {
		t.Fatalf("error = %v, want ErrOpenState", err)
	}
	if hits.Load() != 2 {
		t.Fatalf("server hits = %d, want 2", hits.Load())
	}
}

func TestBreakerClient_PassesThroughResults(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasSuffix(r.URL.Path, "/Sessions") {
			w.Write([]byte(`[{"UserName": "alice"}]`))
			return
		}
		w.Write([]byte(`{"MovieCount": 1}`))
	}))
	defer ts.Close()

	bc := NewBreakerClient(NewClient(Config{URL: ts.URL, APIKey: "k"}), BreakerConfig{})

	sessions, err := bc.GetSessions(context.Background())
	if err != nil || len(sessions) != 1 {
		t.Fatalf("GetSessions() = %v, %v", sessions, err)
	}
	counts, err := bc.GetItemCounts(context.Background())
	if err != nil || counts["MovieCount"] != 1 {
		t.Fatalf("GetItemCounts() = %v, %v", counts, err)
	}
	if bc.State() != "closed" {
		t.Fatalf("state = %q, want closed", bc.State())
	}
}
