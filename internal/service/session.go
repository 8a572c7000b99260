package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"

	"github.com/sshcollectorpro/netdev/internal/config"
	"github.com/sshcollectorpro/netdev/internal/model"
	"github.com/sshcollectorpro/netdev/pkg/logger"
	"github.com/sshcollectorpro/netdev/pkg/netdev"
	"github.com/sshcollectorpro/netdev/pkg/ssh"
	"github.com/sshcollectorpro/netdev/pkg/telnet"
)

// 传输协议
const (
	TransportSSH    = "ssh"
	TransportTelnet = "telnet"
)

// ErrInvalidRequest 请求参数校验失败
var ErrInvalidRequest = errors.New("invalid request")

// 错误类别，写入历史记录并决定 HTTP 状态码
const (
	KindInvalid        = "invalid"
	KindConnect        = "connect"
	KindPromptNotFound = "prompt_not_found"
	KindModeTransition = "mode_transition"
	KindTimeout        = "timeout"
	KindNotReady       = "not_ready"
	KindIO             = "io"
	KindCancelled      = "cancelled"
	KindInternal       = "internal"
)

// ExecRequest 单台设备执行请求
type ExecRequest struct {
	Device    string `json:"device,omitempty"`
	Host      string `json:"host"`
	Port      int    `json:"port,omitempty"`
	Transport string `json:"transport,omitempty"` // ssh | telnet
	Platform  string `json:"platform,omitempty"`
	Username  string `json:"username"`
	Password  string `json:"password,omitempty"`
	KeyFile   string `json:"key_file,omitempty"`
	// Secret enable 密码；EnablePrivileged 为 true 时连接后自动提权
	Secret           string   `json:"secret,omitempty"`
	EnablePrivileged bool     `json:"enable_privileged,omitempty"`
	Commands         []string `json:"commands"`
	// ConfigMode 在配置模式中执行命令，结束后退出
	ConfigMode bool `json:"config_mode,omitempty"`
	// Timeout 单条命令超时（秒），为空使用平台配置
	Timeout        int  `json:"timeout,omitempty"`
	SaveTranscript bool `json:"save_transcript,omitempty"`
}

// CommandView 单条命令结果
type CommandView struct {
	Command   string `json:"command"`
	Output    string `json:"output"`
	Prompt    string `json:"prompt"`
	TimedOut  bool   `json:"timed_out"`
	ElapsedMS int64  `json:"elapsed_ms"`
	Error     string `json:"error,omitempty"`
}

// ExecResponse 单台设备执行结果
type ExecResponse struct {
	JobID         string         `json:"job_id"`
	Device        string         `json:"device,omitempty"`
	Host          string         `json:"host"`
	Platform      string         `json:"platform"`
	Success       bool           `json:"success"`
	Status        string         `json:"status"`
	BasePrompt    string         `json:"base_prompt,omitempty"`
	Mode          string         `json:"mode,omitempty"`
	Results       []*CommandView `json:"results"`
	ErrorKind     string         `json:"error_kind,omitempty"`
	Error         string         `json:"error,omitempty"`
	TranscriptURI string         `json:"transcript_uri,omitempty"`
	DurationMS    int64          `json:"duration_ms"`
	Timestamp     time.Time      `json:"timestamp"`
}

// BatchRequest 批量执行请求
type BatchRequest struct {
	Devices []ExecRequest `json:"devices"`
	// Concurrent 并发设备数，为空使用 executor 配置
	Concurrent int `json:"concurrent,omitempty"`
}

// BatchResponse 批量执行结果，顺序与请求一致
type BatchResponse struct {
	BatchID    string          `json:"batch_id"`
	Total      int             `json:"total"`
	Succeeded  int             `json:"succeeded"`
	Failed     int             `json:"failed"`
	Results    []*ExecResponse `json:"results"`
	DurationMS int64           `json:"duration_ms"`
}

// SessionService 设备会话执行服务
type SessionService struct {
	config  *config.Config
	sshPool *ssh.Pool
	history *HistoryStore
	storage StorageWriter

	mutex sync.RWMutex
	jobs  map[string]context.CancelFunc

	stop     chan struct{}
	stopOnce sync.Once
}

// NewSessionService 创建会话服务；db 或 storage 为 nil 时不记录对应数据
func NewSessionService(cfg *config.Config, db *gorm.DB, storage StorageWriter) *SessionService {
	s := &SessionService{
		config:  cfg,
		sshPool: ssh.NewPool(cfg.SSH.Pool()),
		storage: storage,
		jobs:    make(map[string]context.CancelFunc),
		stop:    make(chan struct{}),
	}
	if db != nil && cfg.Executor.PersistHistory {
		s.history = NewHistoryStore(db)
		if cfg.Executor.HistoryRetention > 0 {
			go s.pruneLoop(min(cfg.Executor.HistoryRetention, pruneInterval))
		}
	}
	return s
}

const pruneInterval = time.Hour

// pruneLoop 启动时清理一次，之后按周期清理过期历史
func (s *SessionService) pruneLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		if _, err := s.PruneHistory(); err != nil {
			logger.With("error", err).Warn("history prune failed")
		}
		select {
		case <-s.stop:
			return
		case <-ticker.C:
		}
	}
}

// PruneHistory 删除超过保留时长的历史，未启用历史或保留时长为 0 时不做处理
func (s *SessionService) PruneHistory() (int64, error) {
	retention := s.config.Executor.HistoryRetention
	if s.history == nil || retention <= 0 {
		return 0, nil
	}
	n, err := s.history.Prune(time.Now().Add(-retention))
	if err != nil {
		return 0, err
	}
	if n > 0 {
		logger.With("deleted", n, "retention", retention.String()).Info("history pruned")
	}
	return n, nil
}

// History 历史存储，未启用时为 nil
func (s *SessionService) History() *HistoryStore {
	return s.history
}

// Stop 取消所有执行中的会话并关闭连接池
func (s *SessionService) Stop() error {
	s.stopOnce.Do(func() { close(s.stop) })
	s.mutex.Lock()
	for _, cancel := range s.jobs {
		cancel()
	}
	s.mutex.Unlock()
	return s.sshPool.Close()
}

// Cancel 取消执行中的会话，会话随即断开
func (s *SessionService) Cancel(jobID string) bool {
	s.mutex.RLock()
	cancel, ok := s.jobs[jobID]
	s.mutex.RUnlock()
	if ok {
		cancel()
	}
	return ok
}

// Running 执行中的会话 ID（已排序）
func (s *SessionService) Running() []string {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	ids := make([]string, 0, len(s.jobs))
	for id := range s.jobs {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// GetStats 服务统计
func (s *SessionService) GetStats() map[string]interface{} {
	stats := map[string]interface{}{
		"running":    len(s.Running()),
		"concurrent": s.concurrency(0),
		"ssh_pool":   s.sshPool.GetStats(),
	}
	if s.history != nil {
		stats["database"] = s.history.Stats()
	}
	return stats
}

// Health 依次检查连接池与历史数据库，返回各组件状态
func (s *SessionService) Health() (map[string]string, error) {
	status := map[string]string{"ssh_pool": "ok"}
	var firstErr error
	if err := s.sshPool.Health(); err != nil {
		status["ssh_pool"] = err.Error()
		firstErr = fmt.Errorf("ssh pool: %w", err)
	}
	if s.history != nil {
		status["database"] = "ok"
		if err := s.history.Ping(); err != nil {
			status["database"] = err.Error()
			if firstErr == nil {
				firstErr = fmt.Errorf("database: %w", err)
			}
		}
	}
	return status, firstErr
}

// Validate 校验并补全请求
func (s *SessionService) Validate(req *ExecRequest) (netdev.VendorProfile, error) {
	req.Host = strings.TrimSpace(req.Host)
	if req.Host == "" {
		return netdev.VendorProfile{}, fmt.Errorf("%w: host is required", ErrInvalidRequest)
	}
	if req.Port < 0 || req.Port > 65535 {
		return netdev.VendorProfile{}, fmt.Errorf("%w: port %d out of range", ErrInvalidRequest, req.Port)
	}
	cmds := req.Commands[:0]
	for _, c := range req.Commands {
		if strings.TrimSpace(c) != "" {
			cmds = append(cmds, c)
		}
	}
	req.Commands = cmds
	if len(req.Commands) == 0 {
		return netdev.VendorProfile{}, fmt.Errorf("%w: commands are required", ErrInvalidRequest)
	}
	req.Transport = strings.ToLower(strings.TrimSpace(req.Transport))
	if req.Transport == "" {
		req.Transport = s.config.Executor.DefaultTransport
	}
	if req.Transport != TransportSSH && req.Transport != TransportTelnet {
		return netdev.VendorProfile{}, fmt.Errorf("%w: unsupported transport %q", ErrInvalidRequest, req.Transport)
	}
	if req.Timeout < 0 {
		return netdev.VendorProfile{}, fmt.Errorf("%w: timeout must not be negative", ErrInvalidRequest)
	}
	profile, err := s.config.Profile(req.Platform)
	if err != nil {
		return netdev.VendorProfile{}, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	req.Platform = profile.Name
	return profile, nil
}

// Exec 连接设备、依次执行命令并断开。设备侧错误记录在响应中，
// 只有参数校验失败时返回 error。
func (s *SessionService) Exec(ctx context.Context, req *ExecRequest) (*ExecResponse, error) {
	return s.exec(ctx, req, "")
}

// Batch 按并发限制对多台设备执行，单台失败不影响其他设备
func (s *SessionService) Batch(ctx context.Context, req *BatchRequest) (*BatchResponse, error) {
	if len(req.Devices) == 0 {
		return nil, fmt.Errorf("%w: devices are required", ErrInvalidRequest)
	}
	for i := range req.Devices {
		if _, err := s.Validate(&req.Devices[i]); err != nil {
			return nil, fmt.Errorf("device %d: %w", i, err)
		}
	}

	start := time.Now()
	resp := &BatchResponse{
		BatchID: uuid.NewString(),
		Total:   len(req.Devices),
		Results: make([]*ExecResponse, len(req.Devices)),
	}
	log := logger.With("batch_id", resp.BatchID)
	log.WithFields(logrus.Fields{"devices": resp.Total, "concurrent": s.concurrency(req.Concurrent)}).Info("batch started")

	var g errgroup.Group
	g.SetLimit(s.concurrency(req.Concurrent))
	for i := range req.Devices {
		g.Go(func() error {
			r, err := s.exec(ctx, &req.Devices[i], resp.BatchID)
			if err != nil {
				// 已预先校验，这里只可能是内部错误
				r = &ExecResponse{Host: req.Devices[i].Host, Device: req.Devices[i].Device, Status: model.JobStatusFailed, ErrorKind: KindInternal, Error: err.Error(), Timestamp: time.Now()}
			}
			resp.Results[i] = r
			return nil
		})
	}
	_ = g.Wait()

	for _, r := range resp.Results {
		if r.Success {
			resp.Succeeded++
		} else {
			resp.Failed++
		}
	}
	resp.DurationMS = time.Since(start).Milliseconds()
	log.WithFields(logrus.Fields{"succeeded": resp.Succeeded, "failed": resp.Failed, "duration_ms": resp.DurationMS}).Info("batch finished")
	return resp, nil
}

func (s *SessionService) concurrency(requested int) int {
	n := requested
	if n <= 0 {
		n = s.config.Executor.Concurrent
	}
	if n <= 0 {
		n = 8
	}
	return n
}

func (s *SessionService) exec(parent context.Context, req *ExecRequest, batchID string) (*ExecResponse, error) {
	profile, err := s.Validate(req)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	job := &model.Job{
		ID:        uuid.NewString(),
		BatchID:   batchID,
		Device:    req.Device,
		Host:      req.Host,
		Port:      req.Port,
		Transport: req.Transport,
		Platform:  profile.Name,
		Username:  req.Username,
		Status:    model.JobStatusRunning,
		StartTime: start,
	}
	log := logger.With("job_id", job.ID, "host", req.Host, "platform", profile.Name)
	if s.history != nil {
		if err := s.history.Start(job); err != nil {
			log.WithError(err).Warn("failed to record job start")
		}
	}

	ctx, cancel := context.WithCancel(parent)
	s.mutex.Lock()
	s.jobs[job.ID] = cancel
	s.mutex.Unlock()
	defer func() {
		s.mutex.Lock()
		delete(s.jobs, job.ID)
		s.mutex.Unlock()
		cancel()
	}()

	resp := &ExecResponse{
		JobID:     job.ID,
		Device:    req.Device,
		Host:      req.Host,
		Platform:  profile.Name,
		Results:   make([]*CommandView, 0, len(req.Commands)),
		Timestamp: start,
	}
	var transcript strings.Builder
	runErr := s.run(ctx, req, profile, resp, &transcript, log)

	job.EndTime = time.Now()
	job.Duration = job.EndTime.Sub(start).Milliseconds()
	job.BasePrompt = resp.BasePrompt
	job.Status = jobStatus(ctx, runErr, resp.Results)
	if runErr != nil {
		job.ErrorKind = ErrorKind(runErr)
		job.ErrorMsg = runErr.Error()
		log.WithError(runErr).WithField("kind", job.ErrorKind).Warn("session finished with error")
	}

	if req.SaveTranscript && s.storage != nil && transcript.Len() > 0 {
		obj, err := s.storage.Write(context.WithoutCancel(ctx), StorageMeta{JobID: job.ID, Device: req.Device, Host: req.Host, StartTime: start}, transcript.String())
		if err != nil {
			log.WithError(err).Warn("failed to store transcript")
		} else {
			job.TranscriptURI = obj.URI
		}
	}

	if s.history != nil {
		if err := s.history.Finish(job, commandLogs(resp.Results)); err != nil {
			log.WithError(err).Warn("failed to record job result")
		}
	}

	resp.Status = job.Status
	resp.Success = job.Status == model.JobStatusSuccess
	resp.ErrorKind = job.ErrorKind
	resp.Error = job.ErrorMsg
	resp.TranscriptURI = job.TranscriptURI
	resp.DurationMS = job.Duration
	log.WithFields(logrus.Fields{"status": job.Status, "commands": len(resp.Results), "duration_ms": job.Duration}).Info("session finished")
	return resp, nil
}

// run 建立会话并执行命令；命令超时后会话仍可用，继续执行后续命令，
// 其他错误会话已不可用，立即结束
func (s *SessionService) run(ctx context.Context, req *ExecRequest, profile netdev.VendorProfile, resp *ExecResponse, transcript *strings.Builder, log *logrus.Entry) error {
	ch, err := s.open(ctx, req)
	if err != nil {
		return &connectError{err: err}
	}

	sess, err := netdev.NewSession(ch, profile, netdev.Options{
		Timing:           s.config.Timing(profile.Name),
		Secret:           req.Secret,
		EnablePrivileged: req.EnablePrivileged,
		Logger:           log,
	})
	if err != nil {
		_ = ch.Close()
		return err
	}
	if err := sess.Connect(ctx); err != nil {
		_ = ch.Close()
		return err
	}
	defer func() {
		if err := sess.Disconnect(); err != nil {
			log.WithError(err).Debug("disconnect")
		}
	}()
	resp.BasePrompt = sess.BasePrompt()

	if req.ConfigMode {
		if _, err := sess.EnterConfigMode(ctx); err != nil {
			return err
		}
	}

	opts := netdev.SendOptions{}
	if req.Timeout > 0 {
		opts.Timeout = time.Duration(req.Timeout) * time.Second
	}
	var firstErr error
	for _, cmd := range req.Commands {
		prompt := sess.Prompt()
		res, err := sess.SendCommandWithOptions(ctx, cmd, opts)
		view := &CommandView{Command: cmd}
		if res != nil {
			view.Output, view.Prompt, view.TimedOut = res.Output, res.Prompt, res.TimedOut
			view.ElapsedMS = res.Elapsed.Milliseconds()
			logger.DebugOutput(log, cmd, res.Output, s.config.Executor.PreviewLines)
		}
		if err != nil {
			view.Error = err.Error()
		}
		resp.Results = append(resp.Results, view)
		fmt.Fprintf(transcript, "%s %s\n%s\n", prompt, cmd, view.Output)

		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			if !errors.Is(err, netdev.ErrCommandTimeout) {
				return err
			}
		}
	}

	if req.ConfigMode {
		if _, err := sess.ExitConfigMode(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	resp.Mode = sess.Mode().String()
	return firstErr
}

// open 按传输协议打开字节通道
func (s *SessionService) open(ctx context.Context, req *ExecRequest) (netdev.Channel, error) {
	if req.Transport == TransportTelnet {
		ch, err := telnet.Dial(ctx, telnet.ConnectionInfo{
			Host:     req.Host,
			Port:     req.Port,
			Username: req.Username,
			Password: req.Password,
		}, s.config.Telnet.Client())
		if err != nil {
			return nil, err
		}
		return ch, nil
	}

	info := &ssh.ConnectionInfo{
		Host:     req.Host,
		Port:     req.Port,
		Username: req.Username,
		Password: req.Password,
		KeyFile:  req.KeyFile,
	}
	ch, err := s.sshPool.OpenShell(ctx, info)
	if err == nil {
		return ch, nil
	}
	if !errors.Is(err, ssh.ErrConnectionInUse) {
		return nil, err
	}
	// 同一账号的池化连接被占用时，使用独立连接
	client := ssh.NewClient(s.config.SSH.Client())
	if err := client.Connect(ctx, info); err != nil {
		return nil, err
	}
	shell, err := client.OpenShell(ctx)
	if err != nil {
		_ = client.Close()
		return nil, err
	}
	return &ownedChannel{ShellChannel: shell, client: client}, nil
}

// ownedChannel 关闭 Shell 时一并关闭独立的 SSH 连接
type ownedChannel struct {
	*ssh.ShellChannel
	client *ssh.Client
}

func (c *ownedChannel) Close() error {
	err := c.ShellChannel.Close()
	if cerr := c.client.Close(); err == nil {
		err = cerr
	}
	return err
}

// connectError 建立传输连接（拨号、认证、登录）失败
type connectError struct{ err error }

func (e *connectError) Error() string { return "connect: " + e.err.Error() }
func (e *connectError) Unwrap() error { return e.err }

// ErrorKind 将错误归类
func ErrorKind(err error) string {
	var ce *connectError
	var ioErr *netdev.IOError
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrInvalidRequest):
		return KindInvalid
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return KindCancelled
	case errors.As(err, &ce):
		return KindConnect
	case errors.Is(err, netdev.ErrPromptNotFound):
		return KindPromptNotFound
	case errors.Is(err, netdev.ErrModeTransition):
		return KindModeTransition
	case errors.Is(err, netdev.ErrCommandTimeout):
		return KindTimeout
	case errors.Is(err, netdev.ErrSessionNotReady):
		return KindNotReady
	case errors.As(err, &ioErr):
		return KindIO
	default:
		return KindInternal
	}
}

func jobStatus(ctx context.Context, err error, results []*CommandView) string {
	switch {
	case err == nil:
		return model.JobStatusSuccess
	case ctx.Err() != nil || ErrorKind(err) == KindCancelled:
		return model.JobStatusCancelled
	}
	for _, r := range results {
		if r.Error != "" && !r.TimedOut {
			return model.JobStatusFailed
		}
	}
	if ErrorKind(err) == KindTimeout {
		return model.JobStatusTimeout
	}
	return model.JobStatusFailed
}

func commandLogs(results []*CommandView) []model.CommandLog {
	logs := make([]model.CommandLog, 0, len(results))
	for i, r := range results {
		logs = append(logs, model.CommandLog{
			Seq:       i + 1,
			Command:   r.Command,
			Output:    r.Output,
			Prompt:    r.Prompt,
			TimedOut:  r.TimedOut,
			ElapsedMS: r.ElapsedMS,
			Error:     r.Error,
		})
	}
	return logs
}
