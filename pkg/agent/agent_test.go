package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/challengectl/challengectl/pkg/blob"
	"github.com/challengectl/challengectl/pkg/client"
	"github.com/challengectl/challengectl/pkg/config"
	"github.com/challengectl/challengectl/pkg/freq"
	"github.com/challengectl/challengectl/pkg/types"
)

func TestIdentityRoundTrip(t *testing.T) {
	dir := t.TempDir()

	id, err := loadIdentity(dir)
	require.NoError(t, err)
	assert.Nil(t, id, "missing identity file should not be an error")

	want := &identity{RunnerID: "r-1", Name: "bench-runner", APIKey: "secret"}
	require.NoError(t, saveIdentity(dir, want))

	got, err := loadIdentity(dir)
	require.NoError(t, err)
	assert.Equal(t, want, got)

	info, err := os.Stat(filepath.Join(dir, identityFile))
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())
}

func TestIdentityRejectsIncomplete(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, identityFile)
	require.NoError(t, os.WriteFile(path, []byte(`{"runner_id":"r-1"}`), 0o600))

	_, err := loadIdentity(dir)
	assert.ErrorContains(t, err, "incomplete")
}

// fakeController is a minimal controller for agent loop tests. It hands
// out one task and records everything the agent sends back.
type fakeController struct {
	t       *testing.T
	task    *types.Task
	payload []byte

	enrolls    atomic.Int64
	registers  atomic.Int64
	polls      atomic.Int64
	downloads  atomic.Int64
	signouts   atomic.Int64
	heartbeats atomic.Int64

	reports chan *types.Report
}

func newFakeController(t *testing.T, task *types.Task, payload []byte) (*fakeController, *httptest.Server) {
	t.Helper()
	fc := &fakeController{t: t, task: task, payload: payload, reports: make(chan *types.Report, 4)}
	mux := http.NewServeMux()

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("/api/v1/enrollment/enroll", func(w http.ResponseWriter, r *http.Request) {
		fc.enrolls.Add(1)
		if r.Header.Get("Authorization") != "Bearer enroll-me" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		json.NewEncoder(w).Encode(client.EnrollResponse{RunnerID: "runner-1", Name: "lab", APIKey: "key-1"})
	})
	mux.HandleFunc("/api/v1/agents/register", func(w http.ResponseWriter, r *http.Request) {
		fc.registers.Add(1)
		if r.Header.Get("Authorization") != "Bearer key-1" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		var req types.RegisterRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		json.NewEncoder(w).Encode(types.Runner{ID: "runner-1", Name: "lab", Devices: req.Devices})
	})
	mux.HandleFunc("/api/v1/agents/runner-1/heartbeat", func(w http.ResponseWriter, r *http.Request) {
		fc.heartbeats.Add(1)
		json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
	})
	mux.HandleFunc("/api/v1/agents/runner-1/task", func(w http.ResponseWriter, r *http.Request) {
		if fc.polls.Add(1) == 1 && fc.task != nil {
			json.NewEncoder(w).Encode(fc.task)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	})
	mux.HandleFunc("/api/v1/agents/runner-1/complete", func(w http.ResponseWriter, r *http.Request) {
		var rep types.Report
		require.NoError(t, json.NewDecoder(r.Body).Decode(&rep))
		fc.reports <- &rep
		json.NewEncoder(w).Encode(map[string]string{"status": "recorded"})
	})
	mux.HandleFunc("/api/v1/agents/runner-1/signout", func(w http.ResponseWriter, r *http.Request) {
		fc.signouts.Add(1)
		json.NewEncoder(w).Encode(map[string]string{"status": "signed out"})
	})
	mux.HandleFunc("/api/v1/files/", func(w http.ResponseWriter, r *http.Request) {
		fc.downloads.Add(1)
		w.Write(fc.payload)
	})

	ts := httptest.NewServer(mux)
	t.Cleanup(ts.Close)
	return fc, ts
}

// testAgentConfig builds a runnable config pointing at the fake
// controller, with a shell script standing in for the transmit tool.
func testAgentConfig(t *testing.T, url string) (*config.Agent, string) {
	t.Helper()
	dir := t.TempDir()
	callLog := filepath.Join(dir, "calls.log")
	tool := filepath.Join(dir, "tx")
	script := fmt.Sprintf("#!/bin/sh\nprintf '%%s\\n' \"$*\" >> %q\n", callLog)
	require.NoError(t, os.WriteFile(tool, []byte(script), 0o755))

	return &config.Agent{
		ControllerURL:     url,
		Name:              "lab",
		EnrollmentToken:   "enroll-me",
		StateDir:          filepath.Join(dir, "state"),
		CacheDir:          filepath.Join(dir, "cache"),
		PollInterval:      config.Duration(20 * time.Millisecond),
		HeartbeatInterval: config.Duration(50 * time.Millisecond),
		Devices: []config.DeviceConfig{{
			Name:        "hackrf0",
			Driver:      "hackrf",
			Serial:      "0000001",
			Frequencies: []string{"400MHz-500MHz"},
		}},
		Tools: map[string]string{"ook": tool},
	}, callLog
}

func TestAgentLifecycle(t *testing.T) {
	payload := []byte("payload-bytes")
	task := &types.Task{
		ChallengeID: "ch-1",
		Name:        "keyfob",
		Modulation:  "ook",
		FrequencyHz: 433920000,
		Files:       []types.FileRef{{Name: "keyfob.bin", Digest: blob.Digest(payload)}},
		Expires:     time.Now().Add(time.Minute),
	}
	fc, ts := newFakeController(t, task, payload)
	cfg, callLog := testAgentConfig(t, ts.URL)

	a, err := New(cfg, "test")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Run(ctx) }()

	var report *types.Report
	select {
	case report = <-fc.reports:
	case <-time.After(5 * time.Second):
		t.Fatal("no report received")
	}

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("agent did not stop")
	}

	assert.Equal(t, int64(1), fc.enrolls.Load())
	assert.Equal(t, int64(1), fc.registers.Load())
	assert.Equal(t, int64(1), fc.signouts.Load())

	assert.Equal(t, "ch-1", report.ChallengeID)
	assert.Equal(t, types.OutcomeSuccess, report.Outcome)
	assert.Equal(t, "hackrf0", report.DeviceID)
	assert.Equal(t, uint64(433920000), report.FrequencyHz)

	// the tool saw the frequency, the device serial and the cached payload
	data, err := os.ReadFile(callLog)
	require.NoError(t, err)
	line := strings.TrimSpace(string(data))
	assert.Contains(t, line, "--frequency 433920000")
	assert.Contains(t, line, "--device 0000001")
	assert.Contains(t, line, filepath.Join(cfg.CacheDir, strings.TrimPrefix(task.Files[0].Digest, blob.Prefix)))

	// identity survived for the next boot
	id, err := loadIdentity(cfg.StateDir)
	require.NoError(t, err)
	assert.Equal(t, "runner-1", id.RunnerID)
	assert.Equal(t, "key-1", id.APIKey)
}

func TestAgentReusesSavedIdentity(t *testing.T) {
	fc, ts := newFakeController(t, nil, nil)
	cfg, _ := testAgentConfig(t, ts.URL)
	cfg.EnrollmentToken = ""
	require.NoError(t, saveIdentity(cfg.StateDir, &identity{RunnerID: "runner-1", Name: "lab", APIKey: "key-1"}))

	a, err := New(cfg, "test")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Run(ctx) }()

	require.Eventually(t, func() bool { return fc.polls.Load() >= 2 }, 5*time.Second, 10*time.Millisecond)
	cancel()
	require.NoError(t, <-done)

	assert.Zero(t, fc.enrolls.Load())
	assert.Equal(t, int64(1), fc.registers.Load())
}

func TestAgentRequiresTokenWhenUnenrolled(t *testing.T) {
	_, ts := newFakeController(t, nil, nil)
	cfg, _ := testAgentConfig(t, ts.URL)
	cfg.EnrollmentToken = ""

	a, err := New(cfg, "test")
	require.NoError(t, err)

	err = a.Run(context.Background())
	assert.ErrorContains(t, err, "no saved identity")
}

func TestAgentFatalOnRejectedKey(t *testing.T) {
	_, ts := newFakeController(t, nil, nil)
	cfg, _ := testAgentConfig(t, ts.URL)
	cfg.EnrollmentToken = ""
	require.NoError(t, saveIdentity(cfg.StateDir, &identity{RunnerID: "runner-1", Name: "lab", APIKey: "wrong-key"}))

	a, err := New(cfg, "test")
	require.NoError(t, err)

	err = a.Run(context.Background())
	assert.ErrorContains(t, err, "credentials rejected")
}

func TestDeviceSelection(t *testing.T) {
	a := &Agent{devices: []types.Device{
		{Name: "uhf", Frequencies: freq.Set{{Low: 400e6, High: 500e6}}},
		{Name: "ism", Frequencies: freq.Set{{Low: 900e6, High: 930e6}}},
	}}

	dev, ok := a.deviceFor(433920000)
	require.True(t, ok)
	assert.Equal(t, "uhf", dev.Name)

	dev, ok = a.deviceFor(915000000)
	require.True(t, ok)
	assert.Equal(t, "ism", dev.Name)

	_, ok = a.deviceFor(144000000)
	assert.False(t, ok)
}

func TestDeviceHandlePrefersSerial(t *testing.T) {
	assert.Equal(t, "abc123", deviceHandle(types.Device{Name: "hackrf0", Serial: "abc123"}))
	assert.Equal(t, "hackrf0", deviceHandle(types.Device{Name: "hackrf0"}))
}
