package ssh

import (
	"context"
	"errors"
	"io"
	"sync"
	"time"

	"golang.org/x/crypto/ssh"

	"github.com/sshcollectorpro/netdev/pkg/netdev"
)

// ErrShellClosed 通道已关闭
var ErrShellClosed = errors.New("ssh shell closed")

// ShellChannel 基于 PTY Shell 的字节通道，实现 netdev.Channel
// stdout 与 stderr 合并为同一读流
type ShellChannel struct {
	session *ssh.Session
	stdin   io.WriteCloser

	chunks chan []byte
	eof    chan struct{}
	done   chan struct{}

	errMu   sync.Mutex
	readErr error

	closeOnce sync.Once
	onClose   func()
}

var _ netdev.Channel = (*ShellChannel)(nil)

func newShellChannel(session *ssh.Session, stdin io.WriteCloser, readers ...io.Reader) *ShellChannel {
	c := &ShellChannel{
		session: session,
		stdin:   stdin,
		chunks:  make(chan []byte, 64),
		eof:     make(chan struct{}),
		done:    make(chan struct{}),
	}
	var wg sync.WaitGroup
	for _, r := range readers {
		wg.Add(1)
		go func(r io.Reader) {
			defer wg.Done()
			c.pump(r)
		}(r)
	}
	go func() {
		wg.Wait()
		close(c.eof)
	}()
	return c
}

// pump 持续读取设备输出并投递到 chunks
func (c *ShellChannel) pump(r io.Reader) {
	buf := make([]byte, 32*1024)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			b := append([]byte(nil), buf[:n]...)
			select {
			case c.chunks <- b:
			case <-c.done:
				return
			}
		}
		if err != nil {
			if !errors.Is(err, io.EOF) {
				c.errMu.Lock()
				if c.readErr == nil {
					c.readErr = err
				}
				c.errMu.Unlock()
			}
			return
		}
	}
}

// Write 写入命令，受 ctx 控制
func (c *ShellChannel) Write(ctx context.Context, p []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	select {
	case <-c.done:
		return ErrShellClosed
	default:
	}
	errc := make(chan error, 1)
	go func() {
		_, err := c.stdin.Write(p)
		errc <- err
	}()
	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ReadWithTimeout 在 timeout 内返回已到达的全部字节，无数据时返回 netdev.ErrReadTimeout
func (c *ShellChannel) ReadWithTimeout(ctx context.Context, timeout time.Duration) ([]byte, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case b := <-c.chunks:
		return c.drain(b), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-c.done:
		return nil, ErrShellClosed
	case <-c.eof:
		// 读协程已结束，先交付缓冲中剩余的数据
		select {
		case b := <-c.chunks:
			return c.drain(b), nil
		default:
		}
		c.errMu.Lock()
		err := c.readErr
		c.errMu.Unlock()
		if err == nil {
			err = io.EOF
		}
		return nil, err
	case <-timer.C:
		return nil, netdev.ErrReadTimeout
	}
}

// drain 合并已就绪的后续数据块
func (c *ShellChannel) drain(first []byte) []byte {
	for {
		select {
		case b := <-c.chunks:
			first = append(first, b...)
		default:
			return first
		}
	}
}

// Close 关闭 Shell，可重复调用
func (c *ShellChannel) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.done)
		_ = c.stdin.Close()
		if cerr := c.session.Close(); cerr != nil && !errors.Is(cerr, io.EOF) {
			err = cerr
		}
		if c.onClose != nil {
			c.onClose()
		}
	})
	return err
}
