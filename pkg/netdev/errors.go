package netdev

import (
	"errors"
	"fmt"
	"time"
)

// 哨兵错误，通过 errors.Is 匹配下方的具体错误类型
var (
	ErrPromptNotFound  = errors.New("prompt not found")
	ErrModeTransition  = errors.New("mode transition failed")
	ErrCommandTimeout  = errors.New("command timeout")
	ErrSessionNotReady = errors.New("session not ready")
)

// PromptNotFoundError 未发现提示符，会话建立失败
type PromptNotFoundError struct {
	Attempts int
	LastLine string
}

func (e *PromptNotFoundError) Error() string {
	if e.LastLine == "" {
		return fmt.Sprintf("prompt not found after %d attempts", e.Attempts)
	}
	return fmt.Sprintf("prompt not found after %d attempts, last line %q", e.Attempts, e.LastLine)
}

func (e *PromptNotFoundError) Is(target error) bool { return target == ErrPromptNotFound }

// ModeTransitionError 模式切换未得到确认
type ModeTransitionError struct {
	From   Mode
	To     Mode
	Prompt string
}

func (e *ModeTransitionError) Error() string {
	return fmt.Sprintf("mode transition %s -> %s not confirmed (prompt %q)", e.From, e.To, e.Prompt)
}

func (e *ModeTransitionError) Is(target error) bool { return target == ErrModeTransition }

// CommandTimeoutError 命令超时，携带超时前收到的全部字节
type CommandTimeoutError struct {
	Command string
	Partial []byte
	Elapsed time.Duration
	Result  *CommandResult
}

func (e *CommandTimeoutError) Error() string {
	return fmt.Sprintf("command %q timed out after %s with %d bytes received", e.Command, e.Elapsed.Round(time.Millisecond), len(e.Partial))
}

func (e *CommandTimeoutError) Is(target error) bool { return target == ErrCommandTimeout }

// SessionNotReadyError 在 Ready/InConfig 之外的状态发起操作
type SessionNotReadyError struct {
	Op    string
	State State
}

func (e *SessionNotReadyError) Error() string {
	return fmt.Sprintf("%s: session not ready (state %s)", e.Op, e.State)
}

func (e *SessionNotReadyError) Is(target error) bool { return target == ErrSessionNotReady }

// IOError 原样包装传输层错误
type IOError struct {
	Op  string
	Err error
}

func (e *IOError) Error() string { return fmt.Sprintf("%s: %v", e.Op, e.Err) }

func (e *IOError) Unwrap() error { return e.Err }
