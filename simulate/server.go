package simulate

import (
	"bufio"
	"crypto/ed25519"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/ssh"

	"github.com/sshcollectorpro/netdev/pkg/logger"
	"github.com/sshcollectorpro/netdev/pkg/netdev/platforms"
)

// Server 模拟网络设备的 SSH/Telnet 服务
// 登录用户名即设备名，按 devices 配置匹配平台与提示符
type Server struct {
	cfg      *Config
	hostKey  ssh.Signer
	sshLn    net.Listener
	telnetLn net.Listener
	active   int
	mu       sync.Mutex
	wg       sync.WaitGroup
	log      *logrus.Entry
}

// New 创建模拟服务（未监听）
func New(cfg *Config) (*Server, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	signer, err := loadOrCreateHostKey(cfg.HostKeyPath)
	if err != nil {
		return nil, fmt.Errorf("failed to init host key: %w", err)
	}
	return &Server{cfg: cfg, hostKey: signer, log: logger.With("component", "simulate")}, nil
}

// Start 创建并启动模拟服务
func Start(cfg *Config) (*Server, error) {
	s, err := New(cfg)
	if err != nil {
		return nil, err
	}
	if err := s.Listen(); err != nil {
		return nil, err
	}
	return s, nil
}

// Listen 启动 SSH 与可选的 Telnet 监听
func (s *Server) Listen() error {
	ln, err := net.Listen("tcp", s.cfg.Listen)
	if err != nil {
		return err
	}
	s.sshLn = ln
	s.log.WithField("addr", ln.Addr().String()).Info("ssh simulator listening")
	s.serve(ln, s.handleSSH)

	if s.cfg.TelnetListen != "" {
		tln, err := net.Listen("tcp", s.cfg.TelnetListen)
		if err != nil {
			_ = ln.Close()
			return err
		}
		s.telnetLn = tln
		s.log.WithField("addr", tln.Addr().String()).Info("telnet simulator listening")
		s.serve(tln, s.handleTelnet)
	}
	return nil
}

// Addr SSH 实际监听地址
func (s *Server) Addr() string {
	if s.sshLn == nil {
		return ""
	}
	return s.sshLn.Addr().String()
}

// TelnetAddr Telnet 实际监听地址
func (s *Server) TelnetAddr() string {
	if s.telnetLn == nil {
		return ""
	}
	return s.telnetLn.Addr().String()
}

// Stop 关闭监听并等待所有会话结束
func (s *Server) Stop() {
	for _, ln := range []net.Listener{s.sshLn, s.telnetLn} {
		if ln != nil {
			_ = ln.Close()
		}
	}
	s.wg.Wait()
}

func (s *Server) serve(ln net.Listener, handle func(net.Conn)) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		for {
			conn, err := ln.Accept()
			if err != nil {
				if errors.Is(err, net.ErrClosed) {
					return
				}
				s.log.WithError(err).Warn("accept failed")
				time.Sleep(200 * time.Millisecond)
				continue
			}
			// 并发限制
			s.mu.Lock()
			if s.cfg.MaxConn > 0 && s.active >= s.cfg.MaxConn {
				s.mu.Unlock()
				_ = conn.Close()
				s.log.WithField("active", s.cfg.MaxConn).Warn("reject connection, max_conn exceeded")
				continue
			}
			s.active++
			s.mu.Unlock()

			s.wg.Add(1)
			go func(c net.Conn) {
				defer s.wg.Done()
				defer func() {
					s.mu.Lock()
					s.active--
					s.mu.Unlock()
				}()
				handle(c)
			}(conn)
		}
	}()
}

func (s *Server) handleSSH(nc net.Conn) {
	srvCfg := &ssh.ServerConfig{
		PasswordCallback: func(md ssh.ConnMetadata, password []byte) (*ssh.Permissions, error) {
			if string(password) == s.cfg.Password {
				return nil, nil
			}
			return nil, fmt.Errorf("access denied")
		},
		// 兼容部分客户端默认使用 keyboard-interactive 的情况
		KeyboardInteractiveCallback: func(md ssh.ConnMetadata, challenge ssh.KeyboardInteractiveChallenge) (*ssh.Permissions, error) {
			answers, err := challenge(md.User(), "Authentication", []string{"Password:"}, []bool{false})
			if err != nil {
				return nil, err
			}
			if len(answers) > 0 && answers[0] == s.cfg.Password {
				return nil, nil
			}
			return nil, fmt.Errorf("access denied")
		},
	}
	srvCfg.AddHostKey(s.hostKey)

	conn, chans, reqs, err := ssh.NewServerConn(nc, srvCfg)
	if err != nil {
		s.log.WithError(err).WithField("remote", nc.RemoteAddr().String()).Debug("ssh handshake failed")
		_ = nc.Close()
		return
	}
	defer conn.Close()
	go ssh.DiscardRequests(reqs)

	log := s.log.WithFields(logrus.Fields{"device": conn.User(), "remote": nc.RemoteAddr().String()})
	for ch := range chans {
		if ch.ChannelType() != "session" {
			_ = ch.Reject(ssh.UnknownChannelType, "unknown channel type")
			continue
		}
		channel, requests, err := ch.Accept()
		if err != nil {
			log.WithError(err).Warn("channel accept failed")
			continue
		}
		go s.handleSession(channel, requests, s.device(conn.User()), log)
	}
}

func (s *Server) handleSession(channel ssh.Channel, requests <-chan *ssh.Request, dev *deviceTemplate, log *logrus.Entry) {
	defer channel.Close()
	for req := range requests {
		switch req.Type {
		case "pty-req", "window-change", "env":
			_ = req.Reply(true, nil)
		case "shell":
			_ = req.Reply(true, nil)
			log.Debug("shell start")
			s.runShell(newLineReader(channel), channel, dev.build(), dev.banner, log)
			return
		case "exec":
			var payload struct{ Command string }
			if err := ssh.Unmarshal(req.Payload, &payload); err != nil {
				_ = req.Reply(false, nil)
				return
			}
			_ = req.Reply(true, nil)
			d := dev.build()
			out, _, _ := d.Handle(payload.Command)
			// exec 不输出提示符
			_, _ = io.WriteString(channel, strings.TrimSuffix(out, d.Prompt()))
			_, _ = channel.SendRequest("exit-status", false, ssh.Marshal(struct{ Status uint32 }{0}))
			return
		default:
			_ = req.Reply(false, nil)
		}
	}
}

// handleTelnet 明文登录：Username/Password 提示后进入设备 Shell
func (s *Server) handleTelnet(nc net.Conn) {
	defer nc.Close()
	r := newLineReader(nc)
	log := s.log.WithField("remote", nc.RemoteAddr().String())

	_, _ = io.WriteString(nc, "\r\nUser Access Verification\r\n\r\nUsername: ")
	user, err := r.ReadLine()
	if err != nil {
		return
	}
	_, _ = io.WriteString(nc, "Password: ")
	pass, err := r.ReadLine()
	if err != nil {
		return
	}
	if pass != s.cfg.Password {
		_, _ = io.WriteString(nc, "\r\n% Authentication failed\r\n")
		log.WithField("device", user).Debug("telnet auth failed")
		return
	}
	_, _ = io.WriteString(nc, "\r\n")
	dev := s.device(user)
	s.runShell(r, nc, dev.build(), dev.banner, log.WithField("device", user))
}

// runShell 交互式 Shell 主循环
func (s *Server) runShell(r *lineReader, w io.Writer, dev *Device, banner string, log *logrus.Entry) {
	write := func(str string) { _, _ = io.WriteString(w, str) }
	if banner != "" {
		write(ensureCRLF(banner))
	}
	write(dev.Prompt())

	done := make(chan struct{})
	defer close(done)
	lines := make(chan string)
	go func() {
		defer close(lines)
		for {
			line, err := r.ReadLine()
			if err != nil {
				return
			}
			select {
			case lines <- line:
			case <-done:
				return
			}
		}
	}()

	var idleC <-chan time.Time
	var idleTimer *time.Timer
	if s.cfg.IdleSeconds > 0 {
		idleTimer = time.NewTimer(time.Duration(s.cfg.IdleSeconds) * time.Second)
		defer idleTimer.Stop()
		idleC = idleTimer.C
	}

	for {
		select {
		case <-idleC:
			write("\r\nSession closed due to idle timeout.\r\n")
			log.Debug("session idle timeout")
			return
		case line, ok := <-lines:
			if !ok {
				log.Debug("session EOF")
				return
			}
			echo := dev.EchoesInput() && strings.TrimSpace(line) != ""
			out, delay, closed := dev.Handle(line)
			if echo {
				write(line + "\r\n")
			}
			if delay > 0 {
				time.Sleep(delay)
			}
			write(out)
			if closed {
				return
			}
			if idleTimer != nil {
				idleTimer.Reset(time.Duration(s.cfg.IdleSeconds) * time.Second)
			}
		}
	}
}

// lineReader 按行读取输入，兼容 CR、LF、CRLF 与 CR NUL，并忽略 Telnet IAC 协商
type lineReader struct {
	r       *bufio.Reader
	afterCR bool
}

func newLineReader(r io.Reader) *lineReader {
	return &lineReader{r: bufio.NewReader(r)}
}

func (l *lineReader) ReadLine() (string, error) {
	var buf []byte
	for {
		b, err := l.r.ReadByte()
		if err != nil {
			return "", err
		}
		if l.afterCR {
			l.afterCR = false
			if b == '\n' || b == 0 {
				continue
			}
		}
		switch b {
		case 0xff:
			next, err := l.r.ReadByte()
			if err != nil {
				return "", err
			}
			if next >= 251 && next <= 254 {
				if _, err := l.r.ReadByte(); err != nil {
					return "", err
				}
			}
		case '\r':
			l.afterCR = true
			return string(buf), nil
		case '\n':
			return string(buf), nil
		case 0:
		default:
			buf = append(buf, b)
		}
	}
}

// deviceTemplate 每个会话从同一模板构造新的设备状态
type deviceTemplate struct {
	build  func() *Device
	banner string
}

func (s *Server) device(user string) *deviceTemplate {
	name := strings.ToLower(strings.TrimSpace(user))
	dc := s.cfg.Devices[name]
	profile, err := platforms.Get(dc.Platform)
	if err != nil {
		s.log.WithError(err).WithField("device", name).Warn("unknown platform, using default")
		profile, _ = platforms.Get(platforms.DefaultPlatform)
	}
	return &deviceTemplate{
		build:  func() *Device { return NewDevice(name, dc, profile, s.cfg.Secret, s.cfg.CommandDir) },
		banner: dc.Banner,
	}
}

// loadOrCreateHostKey 加载或生成持久化的 host key（RSA 2048）；路径为空时生成临时 ed25519 密钥
func loadOrCreateHostKey(keyPath string) (ssh.Signer, error) {
	if keyPath == "" {
		_, priv, err := ed25519.GenerateKey(rand.Reader)
		if err != nil {
			return nil, err
		}
		return ssh.NewSignerFromKey(priv)
	}
	if bs, err := os.ReadFile(keyPath); err == nil {
		if signer, err := ssh.ParsePrivateKey(bs); err == nil {
			return signer, nil
		}
	}
	if err := os.MkdirAll(filepath.Dir(keyPath), 0o755); err != nil {
		return nil, fmt.Errorf("failed to ensure host key dir: %w", err)
	}
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		return nil, fmt.Errorf("failed to generate host key: %w", err)
	}
	pemBytes := pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(key)})
	if err := os.WriteFile(keyPath, pemBytes, 0o600); err != nil {
		return nil, fmt.Errorf("failed to write host key: %w", err)
	}
	return ssh.ParsePrivateKey(pemBytes)
}
