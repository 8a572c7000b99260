package netdev

import (
	"context"
	"errors"
	"time"
)

// ErrReadTimeout 读取窗口内没有收到数据，不代表失败
var ErrReadTimeout = errors.New("read timeout")

// Channel 会话驱动的有序字节流，由 pkg/ssh 与 pkg/telnet 实现
// 会话本身不负责建立连接和认证
type Channel interface {
	Write(ctx context.Context, p []byte) error
	// ReadWithTimeout 返回 timeout 内收到的数据，无数据时返回 ErrReadTimeout
	// ctx 取消时返回 ctx.Err()
	ReadWithTimeout(ctx context.Context, timeout time.Duration) ([]byte, error)
	Close() error
}
