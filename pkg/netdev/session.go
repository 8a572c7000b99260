package netdev

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"sync"

	"github.com/sirupsen/logrus"
)

// State 会话生命周期状态
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateReady
	StateAwaitingPrompt
	StateInConfig
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateReady:
		return "ready"
	case StateAwaitingPrompt:
		return "awaiting_prompt"
	case StateInConfig:
		return "in_config"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Options 会话选项
type Options struct {
	Timing Timing
	// Secret 用于应答提权命令的密码提示
	Secret string
	// EnablePrivileged 为 true 时在 Connect 中提升到特权模式
	EnablePrivileged bool
	Logger           *logrus.Entry
}

// Session 在已打开的 Channel 上驱动单台设备的命令行会话
// 操作串行执行，并发时每台设备使用独立的 Session
type Session struct {
	ch      Channel
	profile VendorProfile
	timing  Timing
	log     *logrus.Entry

	dispatcher *Dispatcher
	modes      *ModeController
	enable     bool

	// opMu 保证同一时刻只有一个通道操作
	opMu sync.Mutex

	mu         sync.RWMutex
	state      State
	basePrompt string
	pattern    *regexp.Regexp
}

// NewSession 校验平台档案并绑定通道，Connect 之前不使用通道
func NewSession(ch Channel, profile VendorProfile, opts Options) (*Session, error) {
	if ch == nil {
		return nil, errors.New("nil channel")
	}
	if err := profile.Validate(); err != nil {
		return nil, err
	}
	timing := opts.Timing.withDefaults()
	log := entryOrDefault(opts.Logger).WithField("platform", profile.Name)
	d := NewDispatcher(ch, profile, timing, log)
	return &Session{
		ch:         ch,
		profile:    profile,
		timing:     timing,
		log:        log,
		dispatcher: d,
		modes:      NewModeController(d, profile, timing, opts.Secret, log),
		enable:     opts.EnablePrivileged,
		state:      StateDisconnected,
	}, nil
}

// Connect 发现提示符、构造 BasePattern、归一化模式并关闭分页
// 任一步骤失败时会话回到 Disconnected，不保留提示符状态
func (s *Session) Connect(ctx context.Context) error {
	s.opMu.Lock()
	defer s.opMu.Unlock()

	s.mu.Lock()
	if s.state != StateDisconnected {
		st := s.state
		s.mu.Unlock()
		return fmt.Errorf("connect: session already %s", st)
	}
	s.state = StateConnecting
	s.mu.Unlock()

	if err := s.connect(ctx); err != nil {
		s.discard(ctx, err)
		s.log.WithError(err).Warn("session setup failed")
		return err
	}
	return nil
}

func (s *Session) connect(ctx context.Context) error {
	prompt, base, err := NewPromptDetector(s.ch, s.profile, s.timing, s.log).Discover(ctx)
	if err != nil {
		return err
	}
	pattern, err := BuildPattern(base, s.profile)
	if err != nil {
		return fmt.Errorf("build base pattern for %q: %w", base, err)
	}
	s.modes.SetPattern(pattern)
	s.modes.Observe(prompt)
	s.log.WithFields(logrus.Fields{"base_prompt": base, "pattern": pattern.String(), "mode": s.modes.Mode()}).Debug("base pattern set")

	if s.enable {
		if _, err := s.modes.EnterPrivileged(ctx); err != nil {
			return err
		}
	}
	if err := s.profile.pagingStrategy().Disable(ctx, s.profile, sessionSender{s}); err != nil {
		return fmt.Errorf("disable paging: %w", err)
	}

	s.mu.Lock()
	s.basePrompt = base
	s.pattern = pattern
	s.state = s.idleState()
	s.mu.Unlock()
	s.log.WithFields(logrus.Fields{"base_prompt": base, "mode": s.modes.Mode()}).Info("session ready")
	return nil
}

// discard Connect 失败后丢弃中间状态
func (s *Session) discard(ctx context.Context, err error) {
	s.modes.SetPattern(nil)
	s.modes.Reset()
	if cancelled(ctx, err) {
		_ = s.ch.Close()
	}
	s.mu.Lock()
	s.basePrompt = ""
	s.pattern = nil
	s.state = StateDisconnected
	s.mu.Unlock()
}

// Disconnect 关闭通道，会话总是回到 Disconnected；关闭失败时仍返回错误
func (s *Session) Disconnect() error {
	s.mu.Lock()
	s.state = StateDisconnected
	s.mu.Unlock()
	if err := s.ch.Close(); err != nil {
		s.log.WithError(err).Warn("channel close failed")
		return &IOError{Op: "close channel", Err: err}
	}
	s.log.Debug("session disconnected")
	return nil
}

// SendCommand 发送一条命令并返回裁剪后的输出
func (s *Session) SendCommand(ctx context.Context, command string) (*CommandResult, error) {
	return s.SendCommandWithOptions(ctx, command, SendOptions{})
}

// SendCommandWithOptions 带单次调用选项的 SendCommand
func (s *Session) SendCommandWithOptions(ctx context.Context, command string, opts SendOptions) (*CommandResult, error) {
	var res *CommandResult
	err := s.do(ctx, "send command", func() error {
		var err error
		res, err = s.send(ctx, command, opts)
		return err
	})
	if err != nil {
		var te *CommandTimeoutError
		if errors.As(err, &te) {
			return te.Result, err
		}
		return nil, err
	}
	return res, nil
}

// EnterConfigMode 进入配置模式
func (s *Session) EnterConfigMode(ctx context.Context) (bool, error) {
	return s.transition(ctx, "enter config mode", s.modes.EnterConfig)
}

// ExitConfigMode 退出配置模式
func (s *Session) ExitConfigMode(ctx context.Context) (bool, error) {
	return s.transition(ctx, "exit config mode", s.modes.ExitConfig)
}

// EnterPrivilegedMode 进入特权模式
func (s *Session) EnterPrivilegedMode(ctx context.Context) (bool, error) {
	return s.transition(ctx, "enter privileged mode", s.modes.EnterPrivileged)
}

// ExitPrivilegedMode 在平台支持时退回普通模式
func (s *Session) ExitPrivilegedMode(ctx context.Context) (bool, error) {
	return s.transition(ctx, "exit privileged mode", s.modes.ExitPrivileged)
}

// CheckConfigMode 最近读到的提示符是否为配置模式提示符，不访问通道
func (s *Session) CheckConfigMode() bool {
	s.opMu.Lock()
	defer s.opMu.Unlock()
	return s.modes.CheckConfigMode()
}

// BasePrompt 发现的主机名提示符，Connect 前为空
func (s *Session) BasePrompt() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.basePrompt
}

// BasePattern 编译好的空闲提示符正则
func (s *Session) BasePattern() *regexp.Regexp {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.pattern
}

// State 当前生命周期状态
func (s *Session) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// Mode 由最近提示符推断的设备模式
func (s *Session) Mode() Mode {
	s.opMu.Lock()
	defer s.opMu.Unlock()
	return s.modes.Mode()
}

// ConfigDepth 最近提示符的配置嵌套层级
func (s *Session) ConfigDepth() int {
	s.opMu.Lock()
	defer s.opMu.Unlock()
	return s.modes.Depth()
}

// Prompt 最近观察到的设备提示符
func (s *Session) Prompt() string {
	s.opMu.Lock()
	defer s.opMu.Unlock()
	return s.modes.Prompt()
}

// Profile 会话使用的平台档案
func (s *Session) Profile() VendorProfile { return s.profile }

func (s *Session) transition(ctx context.Context, op string, fn func(context.Context) (bool, error)) (bool, error) {
	var ok bool
	err := s.do(ctx, op, func() error {
		var err error
		ok, err = fn(ctx)
		return err
	})
	return ok, err
}

// do 在就绪会话上独占执行 fn
func (s *Session) do(ctx context.Context, op string, fn func() error) error {
	s.opMu.Lock()
	defer s.opMu.Unlock()

	s.mu.Lock()
	if s.state != StateReady && s.state != StateInConfig {
		st := s.state
		s.mu.Unlock()
		return &SessionNotReadyError{Op: op, State: st}
	}
	s.state = StateAwaitingPrompt
	s.mu.Unlock()

	err := fn()

	var ioErr *IOError
	if cancelled(ctx, err) || errors.As(err, &ioErr) {
		// 此后字节流位置未知
		_ = s.ch.Close()
		s.mu.Lock()
		s.state = StateDisconnected
		s.mu.Unlock()
		s.log.WithError(err).Warn("session dropped")
		return err
	}
	s.mu.Lock()
	if s.state == StateAwaitingPrompt {
		s.state = s.idleState()
	}
	s.mu.Unlock()
	return err
}

// send 发送命令并把提示符交给模式控制器，调用方需持有 opMu
func (s *Session) send(ctx context.Context, command string, opts SendOptions) (*CommandResult, error) {
	res, err := s.dispatcher.Send(ctx, command, opts)
	if err != nil {
		return res, err
	}
	s.modes.Observe(res.Prompt)
	return res, nil
}

func (s *Session) idleState() State {
	if s.modes.Mode() == ModeConfig {
		return StateInConfig
	}
	return StateReady
}

type sessionSender struct{ s *Session }

func (ss sessionSender) Send(ctx context.Context, command string, opts SendOptions) (*CommandResult, error) {
	return ss.s.send(ctx, command, opts)
}

func cancelled(ctx context.Context, err error) bool {
	return ctx.Err() != nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
