package netdev

import (
	"context"
	"errors"
	"time"

	"github.com/sirupsen/logrus"
)

// Timing 会话各阻塞步骤的时间参数
type Timing struct {
	// ReadWindow 单次读取窗口
	ReadWindow time.Duration
	// IdleWindows 连续空窗口数达到该值且未见提示符时判定命令超时
	IdleWindows int
	// CommandTimeout 单条命令总时长上限
	CommandTimeout time.Duration
	// DiscoverRetries 提示符探测次数
	DiscoverRetries int
	// DiscoverTimeout 单次探测时长上限
	DiscoverTimeout time.Duration
	// MaxConfigDepth 超过该嵌套层级时记录告警
	MaxConfigDepth int
}

// DefaultTiming 局域网内交互设备的默认值
var DefaultTiming = Timing{
	ReadWindow:      200 * time.Millisecond,
	IdleWindows:     50,
	CommandTimeout:  60 * time.Second,
	DiscoverRetries: 3,
	DiscoverTimeout: 3 * time.Second,
	MaxConfigDepth:  4,
}

func (t Timing) withDefaults() Timing {
	if t.ReadWindow <= 0 {
		t.ReadWindow = DefaultTiming.ReadWindow
	}
	if t.IdleWindows <= 0 {
		t.IdleWindows = DefaultTiming.IdleWindows
	}
	if t.CommandTimeout <= 0 {
		t.CommandTimeout = DefaultTiming.CommandTimeout
	}
	if t.DiscoverRetries <= 0 {
		t.DiscoverRetries = DefaultTiming.DiscoverRetries
	}
	if t.DiscoverTimeout <= 0 {
		t.DiscoverTimeout = DefaultTiming.DiscoverTimeout
	}
	if t.MaxConfigDepth <= 0 {
		t.MaxConfigDepth = DefaultTiming.MaxConfigDepth
	}
	return t
}

func entryOrDefault(log *logrus.Entry) *logrus.Entry {
	if log != nil {
		return log
	}
	return logrus.NewEntry(logrus.StandardLogger())
}

// wrapIO 取消时返回 ctx.Err()，其余传输错误包装为 IOError
func wrapIO(op string, ctx context.Context, err error) error {
	if cerr := ctx.Err(); cerr != nil {
		return cerr
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return &IOError{Op: op, Err: err}
}
