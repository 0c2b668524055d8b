package control

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func startTestServer(t *testing.T, handler Handler) string {
	t.Helper()
	socketPath := filepath.Join(t.TempDir(), "control.sock")
	srv := NewServer(socketPath, handler)
	require.NoError(t, srv.Start())
	t.Cleanup(srv.Stop)
	return socketPath
}

func TestClientServerRoundTripSuccess(t *testing.T) {
	socketPath := startTestServer(t, func(cmd Command) (map[string]any, error) {
		assert.Equal(t, "status", cmd.Type)
		return map[string]any{"status": "running"}, nil
	})

	client := NewClient(socketPath)
	resp, err := client.Status("orch-1")
	require.NoError(t, err)
	assert.True(t, resp.Success)
	assert.Equal(t, "running", resp.Data["status"])
	assert.Empty(t, resp.Error)
}

func TestClientServerRoundTripError(t *testing.T) {
	socketPath := startTestServer(t, func(cmd Command) (map[string]any, error) {
		return nil, assert.AnError
	})

	client := NewClient(socketPath)
	resp, err := client.Pause("orch-1", "operator request")
	require.NoError(t, err) // transport succeeded; the Response itself carries the failure
	assert.False(t, resp.Success)
	assert.NotEmpty(t, resp.Error)
}

func TestClientDialFailureWhenNoServer(t *testing.T) {
	client := NewClient(filepath.Join(t.TempDir(), "nonexistent.sock"))
	_, err := client.Status("orch-1")
	require.Error(t, err)
}

func TestServerStartTwiceFails(t *testing.T) {
	socketPath := filepath.Join(t.TempDir(), "control.sock")
	srv := NewServer(socketPath, func(Command) (map[string]any, error) { return nil, nil })
	require.NoError(t, srv.Start())
	defer srv.Stop()

	err := srv.Start()
	require.Error(t, err)
}

func TestResumeWithOptionRoundTrips(t *testing.T) {
	var gotOption string
	socketPath := startTestServer(t, func(cmd Command) (map[string]any, error) {
		gotOption = cmd.Option
		return map[string]any{"message": "resumed"}, nil
	})

	client := NewClient(socketPath)
	resp, err := client.Resume("orch-1", "retry")
	require.NoError(t, err)
	assert.True(t, resp.Success)
	assert.Equal(t, "retry", gotOption)

	// give the goroutine-based accept loop no excuse to race the assertion
	time.Sleep(time.Millisecond)
}
