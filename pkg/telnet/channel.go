package telnet

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/ziutek/telnet"

	"github.com/sshcollectorpro/netdev/pkg/netdev"
)

// Config Telnet配置
type Config struct {
	Timeout      time.Duration `mapstructure:"timeout"`
	LoginTimeout time.Duration `mapstructure:"login_timeout"`
	// 登录提示符片段，按 SkipUntil 语义匹配
	UsernamePrompts []string `mapstructure:"username_prompts"`
	PasswordPrompts []string `mapstructure:"password_prompts"`
}

// DefaultConfig 默认配置
var DefaultConfig = Config{
	Timeout:         10 * time.Second,
	LoginTimeout:    15 * time.Second,
	UsernamePrompts: []string{"sername:", "ogin:"},
	PasswordPrompts: []string{"assword:"},
}

func (c Config) withDefaults() Config {
	if c.Timeout <= 0 {
		c.Timeout = DefaultConfig.Timeout
	}
	if c.LoginTimeout <= 0 {
		c.LoginTimeout = DefaultConfig.LoginTimeout
	}
	if len(c.UsernamePrompts) == 0 {
		c.UsernamePrompts = DefaultConfig.UsernamePrompts
	}
	if len(c.PasswordPrompts) == 0 {
		c.PasswordPrompts = DefaultConfig.PasswordPrompts
	}
	return c
}

// ConnectionInfo Telnet连接信息
type ConnectionInfo struct {
	Host     string `json:"host"`
	Port     int    `json:"port"`
	Username string `json:"username"`
	Password string `json:"password"`
}

// Address 返回 host:port
func (i ConnectionInfo) Address() string {
	port := i.Port
	if port == 0 {
		port = 23
	}
	return net.JoinHostPort(i.Host, fmt.Sprintf("%d", port))
}

// Channel 基于 Telnet 的字节通道，实现 netdev.Channel
type Channel struct {
	conn      *telnet.Conn
	timeout   time.Duration
	closeOnce sync.Once
	closeErr  error
}

var _ netdev.Channel = (*Channel)(nil)

// Dial 建立 Telnet 连接并完成用户名/密码登录，返回时设备提示符尚未读取
func Dial(ctx context.Context, info ConnectionInfo, cfg Config) (*Channel, error) {
	cfg = cfg.withDefaults()
	conn, err := telnet.DialTimeout("tcp", info.Address(), cfg.Timeout)
	if err != nil {
		return nil, fmt.Errorf("failed to dial: %w", err)
	}
	conn.SetUnixWriteMode(true)

	// ctx 取消时立即打断阻塞中的登录读写
	stop := context.AfterFunc(ctx, func() { _ = conn.SetDeadline(time.Now()) })
	defer stop()

	if err := login(conn, info, cfg); err != nil {
		conn.Close()
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, err
	}
	if err := conn.SetDeadline(time.Time{}); err != nil {
		conn.Close()
		return nil, err
	}
	return &Channel{conn: conn, timeout: cfg.Timeout}, nil
}

func login(conn *telnet.Conn, info ConnectionInfo, cfg Config) error {
	deadline := time.Now().Add(cfg.LoginTimeout)
	if info.Username != "" {
		if err := expect(conn, deadline, cfg.UsernamePrompts...); err != nil {
			return fmt.Errorf("waiting for username prompt: %w", err)
		}
		if err := sendln(conn, deadline, info.Username); err != nil {
			return fmt.Errorf("sending username: %w", err)
		}
	}
	if info.Password != "" {
		if err := expect(conn, deadline, cfg.PasswordPrompts...); err != nil {
			return fmt.Errorf("waiting for password prompt: %w", err)
		}
		if err := sendln(conn, deadline, info.Password); err != nil {
			return fmt.Errorf("sending password: %w", err)
		}
	}
	return nil
}

func expect(conn *telnet.Conn, deadline time.Time, delims ...string) error {
	if err := conn.SetReadDeadline(deadline); err != nil {
		return err
	}
	return conn.SkipUntil(delims...)
}

func sendln(conn *telnet.Conn, deadline time.Time, s string) error {
	if err := conn.SetWriteDeadline(deadline); err != nil {
		return err
	}
	_, err := conn.Write([]byte(s + "\n"))
	return err
}

// Write 写入数据，受 ctx 与写超时控制
func (c *Channel) Write(ctx context.Context, p []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := c.conn.SetWriteDeadline(time.Now().Add(c.timeout)); err != nil {
		return err
	}
	stop := context.AfterFunc(ctx, func() { _ = c.conn.SetWriteDeadline(time.Now()) })
	defer stop()

	_, err := c.conn.Write(p)
	if err != nil && ctx.Err() != nil {
		return ctx.Err()
	}
	return err
}

// ReadWithTimeout 在 timeout 内读取可用字节，超时无数据返回 netdev.ErrReadTimeout
func (c *Channel) ReadWithTimeout(ctx context.Context, timeout time.Duration) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := c.conn.SetReadDeadline(time.Now().Add(timeout)); err != nil {
		return nil, err
	}
	stop := context.AfterFunc(ctx, func() { _ = c.conn.SetReadDeadline(time.Now()) })
	defer stop()

	buf := make([]byte, 32*1024)
	n, err := c.conn.Read(buf)
	if n > 0 {
		return buf[:n], nil
	}
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	var nerr net.Error
	if errors.As(err, &nerr) && nerr.Timeout() {
		return nil, netdev.ErrReadTimeout
	}
	if err == nil {
		return nil, netdev.ErrReadTimeout
	}
	return nil, err
}

// Close 关闭连接，可重复调用
func (c *Channel) Close() error {
	c.closeOnce.Do(func() {
		c.closeErr = c.conn.Close()
	})
	return c.closeErr
}
