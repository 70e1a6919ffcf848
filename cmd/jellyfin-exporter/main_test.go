package main

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/azuse/jellyfin-exporter/internal/config"
)

func fakeJellyfin(t *testing.T) *httptest.Server {
	t.Helper()
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/Sessions":
			w.Write([]byte(`[{"UserName": "alice", "Client": "Jellyfin Web", "NowPlayingItem": {"Name": "Movie"}}]`))
		case "/Items/Counts":
			w.Write([]byte(`{"MovieCount": 4}`))
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(ts.Close)
	return ts
}

func TestNewApp_RegistersExporterCollector(t *testing.T) {
	ts := fakeJellyfin(t)
	t.Setenv("JELLYFIN_BASEURL", ts.URL)
	t.Setenv("JELLYFIN_APIKEY", "key")

	cmd := newRootCmd()
	require.NoError(t, cmd.ParseFlags(nil))

	a, err := newApp(cmd)
	require.NoError(t, err)

	families, err := a.registry.Gather()
	require.NoError(t, err)

	var names []string
	for _, mf := range families {
		names = append(names, mf.GetName())
	}
	assert.Contains(t, names, "jellyfin_active_users")
	assert.Contains(t, names, "jellyfin_active_streams_direct_count")
	assert.Contains(t, names, "jellyfin_item_counts")
	assert.NotContains(t, names, "go_goroutines")
}

func TestNewApp_InstanceLabelKeepsConfiguredURL(t *testing.T) {
	ts := fakeJellyfin(t)
	t.Setenv("JELLYFIN_BASEURL", ts.URL+"/")
	t.Setenv("JELLYFIN_APIKEY", "key")

	cmd := newRootCmd()
	require.NoError(t, cmd.ParseFlags(nil))
	a, err := newApp(cmd)
	require.NoError(t, err)

	families, err := a.registry.Gather()
	require.NoError(t, err)

	var out bytes.Buffer
	require.NoError(t, writeFamilies(&out, families))
	assert.Contains(t, out.String(), `jellyfin_active_users_count{jellyfin_instance="`+ts.URL+`/"} 1`)
}

func TestNewApp_MissingConfigIsConfigError(t *testing.T) {
	t.Setenv("JELLYFIN_BASEURL", "")
	t.Setenv("JELLYFIN_APIKEY", "")

	cmd := newRootCmd()
	require.NoError(t, cmd.ParseFlags(nil))

	_, err := newApp(cmd)
	var cfgErr *config.ConfigError
	require.ErrorAs(t, err, &cfgErr)
}

func TestVersionCommand(t *testing.T) {
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"version"})

	require.NoError(t, cmd.Execute())
	assert.True(t, strings.HasPrefix(out.String(), "jellyfin-exporter dev"))
}

func TestWriteFamilies_TextFormat(t *testing.T) {
	ts := fakeJellyfin(t)
	t.Setenv("JELLYFIN_BASEURL", ts.URL)
	t.Setenv("JELLYFIN_APIKEY", "key")

	cmd := newRootCmd()
	require.NoError(t, cmd.ParseFlags(nil))
	a, err := newApp(cmd)
	require.NoError(t, err)

	families, err := a.registry.Gather()
	require.NoError(t, err)

	var out bytes.Buffer
	require.NoError(t, writeFamilies(&out, families))
	assert.Contains(t, out.String(), "# TYPE jellyfin_active_users_count gauge")
	assert.Contains(t, out.String(), `jellyfin_item_counts{jellyfin_instance="`+ts.URL+`",type="MovieCount"} 4`)
	assert.Contains(t, out.String(), `jellyfin_active_streams_direct_count{jellyfin_instance="`+ts.URL+`"} 1`)
}
