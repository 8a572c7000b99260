package service

import (
	"context"
	"errors"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sshcollectorpro/netdev/internal/config"
	"github.com/sshcollectorpro/netdev/internal/database"
	"github.com/sshcollectorpro/netdev/internal/model"
	"github.com/sshcollectorpro/netdev/pkg/netdev"
	"github.com/sshcollectorpro/netdev/simulate"
)

type testEnv struct {
	svc        *SessionService
	sshPort    int
	telnetPort int
	dataDir    string
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	srv, err := simulate.Start(&simulate.Config{
		Listen:       "127.0.0.1:0",
		TelnetListen: "127.0.0.1:0",
		Password:     "nova",
		Secret:       "s3cret",
		Devices: map[string]simulate.DeviceConfig{
			"r1": {
				Platform: "cisco_ios",
				Hostname: "R1",
				Commands: map[string]string{"show version": "Cisco IOS Software, Version 15.2(4)M"},
				Delays:   map[string]time.Duration{"show tech-support": 2 * time.Second},
			},
			"hz-core": {Platform: "huawei", Hostname: "HZ-Core"},
		},
	})
	require.NoError(t, err)
	t.Cleanup(srv.Stop)

	dataDir := t.TempDir()
	db, err := database.Open(config.SQLiteConfig{Path: filepath.Join(dataDir, "netdev.db")})
	require.NoError(t, err)
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})

	cfg := &config.Config{
		Session: config.SessionConfig{
			ReadWindow:      20 * time.Millisecond,
			IdleWindows:     25,
			CommandTimeout:  5 * time.Second,
			DiscoverRetries: 3,
			DiscoverTimeout: time.Second,
		},
		Executor: config.ExecutorConfig{
			Concurrent:       2,
			DefaultPlatform:  "cisco_ios",
			DefaultTransport: TransportSSH,
			PreviewLines:     5,
			PersistHistory:   true,
		},
		SSH:    config.SSHConfig{ConnectTimeout: 5 * time.Second},
		Telnet: config.TelnetConfig{Timeout: 5 * time.Second, LoginTimeout: 5 * time.Second},
		Storage: config.StorageConfig{
			Backend: BackendLocal,
			Prefix:  "transcripts",
			Local:   config.LocalConfig{BaseDir: dataDir, MkdirIfMissing: true},
		},
	}
	svc := NewSessionService(cfg, db, NewStorageWriter(cfg.Storage))
	t.Cleanup(func() { _ = svc.Stop() })

	return &testEnv{
		svc:        svc,
		sshPort:    port(t, srv.Addr()),
		telnetPort: port(t, srv.TelnetAddr()),
		dataDir:    dataDir,
	}
}

func port(t *testing.T, addr string) int {
	t.Helper()
	_, p, err := net.SplitHostPort(addr)
	require.NoError(t, err)
	n, err := strconv.Atoi(p)
	require.NoError(t, err)
	return n
}

func (e *testEnv) request(device, platform string, commands ...string) *ExecRequest {
	return &ExecRequest{
		Device:   device,
		Host:     "127.0.0.1",
		Port:     e.sshPort,
		Platform: platform,
		Username: device,
		Password: "nova",
		Commands: commands,
	}
}

func TestExec_CiscoPrivileged(t *testing.T) {
	env := newTestEnv(t)
	req := env.request("r1", "ios", "show version", "show clock")
	req.EnablePrivileged = true
	req.Secret = "s3cret"
	req.SaveTranscript = true

	resp, err := env.svc.Exec(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, model.JobStatusSuccess, resp.Status, resp.Error)
	assert.True(t, resp.Success)
	assert.Equal(t, "cisco_ios", resp.Platform)
	assert.Equal(t, "R1", resp.BasePrompt)
	assert.Equal(t, "privileged", resp.Mode)
	require.Len(t, resp.Results, 2)
	assert.Equal(t, "Cisco IOS Software, Version 15.2(4)M", resp.Results[0].Output)
	assert.Equal(t, "R1#", resp.Results[0].Prompt)
	assert.Contains(t, resp.Results[1].Output, "Invalid input")

	require.True(t, strings.HasPrefix(resp.TranscriptURI, "file://"))
	data, err := os.ReadFile(strings.TrimPrefix(resp.TranscriptURI, "file://"))
	require.NoError(t, err)
	assert.Contains(t, string(data), "R1# show version\nCisco IOS Software")

	job, err := env.svc.History().Get(resp.JobID)
	require.NoError(t, err)
	assert.Equal(t, model.JobStatusSuccess, job.Status)
	assert.Equal(t, "R1", job.BasePrompt)
	require.Len(t, job.Commands, 2)
	assert.Equal(t, "show version", job.Commands[0].Command)
	assert.Equal(t, 2, job.Commands[1].Seq)
}

func TestExec_HuaweiConfigMode(t *testing.T) {
	env := newTestEnv(t)
	req := env.request("hz-core", "huawei", "interface GigabitEthernet0/0/1", "description uplink")
	req.ConfigMode = true

	resp, err := env.svc.Exec(context.Background(), req)
	require.NoError(t, err)
	require.True(t, resp.Success, resp.Error)
	require.Len(t, resp.Results, 2)
	assert.Equal(t, "[HZ-Core-GigabitEthernet0/0/1]", resp.Results[0].Prompt)
	assert.Equal(t, "[HZ-Core-GigabitEthernet0/0/1]", resp.Results[1].Prompt)
	assert.Equal(t, "unprivileged", resp.Mode)
}

func TestExec_CommandTimeoutKeepsResults(t *testing.T) {
	env := newTestEnv(t)
	req := env.request("r1", "cisco_ios", "show version", "show tech-support")
	req.Timeout = 1

	resp, err := env.svc.Exec(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, model.JobStatusTimeout, resp.Status)
	assert.Equal(t, KindTimeout, resp.ErrorKind)
	require.Len(t, resp.Results, 2)
	assert.False(t, resp.Results[0].TimedOut)
	assert.True(t, resp.Results[1].TimedOut)
	assert.NotEmpty(t, resp.Results[1].Error)
}

func TestExec_Telnet(t *testing.T) {
	env := newTestEnv(t)
	req := env.request("r1", "cisco_ios", "show version")
	req.Transport = "TELNET"
	req.Port = env.telnetPort

	resp, err := env.svc.Exec(context.Background(), req)
	require.NoError(t, err)
	require.True(t, resp.Success, resp.Error)
	assert.Equal(t, "Cisco IOS Software, Version 15.2(4)M", resp.Results[0].Output)
}

func TestExec_AuthFailure(t *testing.T) {
	env := newTestEnv(t)
	req := env.request("r1", "cisco_ios", "show version")
	req.Password = "wrong"

	resp, err := env.svc.Exec(context.Background(), req)
	require.NoError(t, err)
	assert.False(t, resp.Success)
	assert.Equal(t, model.JobStatusFailed, resp.Status)
	assert.Equal(t, KindConnect, resp.ErrorKind)
	assert.Empty(t, resp.Results)

	job, err := env.svc.History().Get(resp.JobID)
	require.NoError(t, err)
	assert.Equal(t, KindConnect, job.ErrorKind)
}

func TestExec_Validation(t *testing.T) {
	env := newTestEnv(t)
	cases := map[string]*ExecRequest{
		"no host":       {Commands: []string{"show clock"}},
		"no commands":   {Host: "10.0.0.1", Commands: []string{" ", ""}},
		"bad transport": {Host: "10.0.0.1", Transport: "rlogin", Commands: []string{"show clock"}},
		"bad platform":  {Host: "10.0.0.1", Platform: "nope", Commands: []string{"show clock"}},
		"bad port":      {Host: "10.0.0.1", Port: 70000, Commands: []string{"show clock"}},
	}
	for name, req := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := env.svc.Exec(context.Background(), req)
			assert.ErrorIs(t, err, ErrInvalidRequest)
		})
	}
}

func TestBatch_MixedResults(t *testing.T) {
	env := newTestEnv(t)
	bad := env.request("r1", "cisco_ios", "show version")
	bad.Password = "wrong"
	req := &BatchRequest{Devices: []ExecRequest{
		*env.request("r1", "cisco_ios", "show version"),
		*env.request("hz-core", "huawei", "display version"),
		*bad,
	}}

	resp, err := env.svc.Batch(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, 3, resp.Total)
	assert.Equal(t, 2, resp.Succeeded)
	assert.Equal(t, 1, resp.Failed)
	require.Len(t, resp.Results, 3)
	assert.Equal(t, "R1", resp.Results[0].BasePrompt)
	assert.Equal(t, "HZ-Core", resp.Results[1].BasePrompt)
	assert.Equal(t, KindConnect, resp.Results[2].ErrorKind)

	jobs, total, err := env.svc.History().List(HistoryFilter{BatchID: resp.BatchID})
	require.NoError(t, err)
	assert.EqualValues(t, 3, total)
	assert.Len(t, jobs, 3)
	assert.Empty(t, env.svc.Running())
}

func TestBatch_RejectsInvalidDevice(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.svc.Batch(context.Background(), &BatchRequest{Devices: []ExecRequest{
		*env.request("r1", "cisco_ios", "show version"),
		{Host: "", Commands: []string{"show clock"}},
	}})
	assert.ErrorIs(t, err, ErrInvalidRequest)

	_, err = env.svc.Batch(context.Background(), &BatchRequest{})
	assert.ErrorIs(t, err, ErrInvalidRequest)
}

func TestCancel_Unknown(t *testing.T) {
	env := newTestEnv(t)
	assert.False(t, env.svc.Cancel("missing"))
}

func TestCancel_RunningJob(t *testing.T) {
	env := newTestEnv(t)

	done := make(chan *ExecResponse, 1)
	go func() {
		resp, err := env.svc.Exec(context.Background(), env.request("r1", "cisco_ios", "show tech-support"))
		assert.NoError(t, err)
		done <- resp
	}()

	require.Eventually(t, func() bool { return len(env.svc.Running()) == 1 }, 5*time.Second, 10*time.Millisecond)
	// 等待命令发出后再取消
	time.Sleep(200 * time.Millisecond)
	id := env.svc.Running()[0]
	assert.True(t, env.svc.Cancel(id))

	var resp *ExecResponse
	select {
	case resp = <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("cancelled job did not return")
	}
	require.NotNil(t, resp)
	assert.Equal(t, id, resp.JobID)
	assert.Equal(t, model.JobStatusCancelled, resp.Status)
	assert.Equal(t, KindCancelled, resp.ErrorKind)
	assert.False(t, resp.Success)
	assert.Empty(t, env.svc.Running())
	assert.False(t, env.svc.Cancel(id))

	job, err := env.svc.History().Get(id)
	require.NoError(t, err)
	assert.Equal(t, model.JobStatusCancelled, job.Status)
	assert.Equal(t, KindCancelled, job.ErrorKind)
}

func TestPruneHistory_DropsExpiredJobs(t *testing.T) {
	env := newTestEnv(t)
	env.svc.config.Executor.HistoryRetention = 24 * time.Hour

	old := &model.Job{ID: "old-job", Host: "10.0.0.1", Platform: "cisco_ios", Status: model.JobStatusSuccess, StartTime: time.Now().Add(-48 * time.Hour)}
	require.NoError(t, env.svc.History().Start(old))
	require.NoError(t, env.svc.History().Finish(old, []model.CommandLog{{Seq: 1, Command: "show clock"}}))

	resp, err := env.svc.Exec(context.Background(), env.request("r1", "cisco_ios", "show version"))
	require.NoError(t, err)

	n, err := env.svc.PruneHistory()
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	_, err = env.svc.History().Get("old-job")
	assert.ErrorIs(t, err, ErrJobNotFound)
	_, err = env.svc.History().Get(resp.JobID)
	assert.NoError(t, err)

	env.svc.config.Executor.HistoryRetention = 0
	n, err = env.svc.PruneHistory()
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestHealthAndStats(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.svc.Exec(context.Background(), env.request("r1", "cisco_ios", "show version"))
	require.NoError(t, err)

	status, err := env.svc.Health()
	require.NoError(t, err)
	assert.Equal(t, "ok", status["ssh_pool"])
	assert.Equal(t, "ok", status["database"])

	stats := env.svc.GetStats()
	assert.Contains(t, stats["database"], "open_connections")
	pool := stats["ssh_pool"].(map[string]interface{})
	assert.Equal(t, 1, pool["total_connections"])
	conns := pool["connections"].(map[string]interface{})
	require.Len(t, conns, 1)
	for _, c := range conns {
		assert.Equal(t, true, c.(map[string]interface{})["connected"])
		assert.Equal(t, false, c.(map[string]interface{})["in_use"])
	}
}

func TestErrorKind(t *testing.T) {
	cases := []struct {
		err  error
		kind string
	}{
		{nil, ""},
		{ErrInvalidRequest, KindInvalid},
		{&connectError{err: errors.New("refused")}, KindConnect},
		{&connectError{err: context.Canceled}, KindCancelled},
		{&netdev.PromptNotFoundError{}, KindPromptNotFound},
		{&netdev.ModeTransitionError{}, KindModeTransition},
		{&netdev.CommandTimeoutError{}, KindTimeout},
		{&netdev.SessionNotReadyError{}, KindNotReady},
		{&netdev.IOError{Op: "write", Err: errors.New("broken pipe")}, KindIO},
		{errors.New("boom"), KindInternal},
	}
	for _, c := range cases {
		assert.Equal(t, c.kind, ErrorKind(c.err), "%v", c.err)
	}
}
