package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/1ureka/videoboard/internal/util"
)

func TestRegistryReadsStats(t *testing.T) {
	reg := NewRegistry()

	families, err := reg.Gather()
	require.NoError(t, err)
	names := make(map[string]bool)
	for _, f := range families {
		names[f.GetName()] = true
	}
	assert.True(t, names["videoboard_collisions_total"])
	assert.True(t, names["go_goroutines"])

	util.Stats.AddSessionOpened()
	defer util.Stats.AddSessionClosed()

	srv := httptest.NewServer(Handler(reg))
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "videoboard_sessions_opened_total")
	assert.Contains(t, string(body), "videoboard_sessions_active")
	assert.Contains(t, string(body), "videoboard_media_bytes_total")
}
