package ssh

import (
	"context"
	"fmt"
	"net"
	"os"
	"strings"
	"sync"
	"time"

	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"
)

// Config SSH配置
type Config struct {
	Timeout     time.Duration `mapstructure:"timeout"`
	KeepAlive   time.Duration `mapstructure:"keep_alive"`
	MaxSessions int           `mapstructure:"max_sessions"`
	// KnownHosts 为空时不校验主机密钥（网络设备常见做法）
	KnownHosts string `mapstructure:"known_hosts"`
	TermType   string `mapstructure:"term_type"`
	TermWidth  int    `mapstructure:"term_width"`
	TermHeight int    `mapstructure:"term_height"`
}

// Client SSH客户端
type Client struct {
	config     *Config
	connection *ssh.Client
	shells     map[int]*ShellChannel
	nextID     int
	mutex      sync.RWMutex
	// 保存最近一次成功连接的参数，用于在会话创建失败（如 EOF）时自动重连
	info *ConnectionInfo
	stop chan struct{}
}

// ConnectionInfo SSH连接信息
type ConnectionInfo struct {
	Host     string `json:"host"`
	Port     int    `json:"port"`
	Username string `json:"username"`
	Password string `json:"password"`
	KeyFile  string `json:"key_file,omitempty"`
}

// Address 返回 host:port
func (i *ConnectionInfo) Address() string {
	port := i.Port
	if port == 0 {
		port = 22
	}
	return net.JoinHostPort(i.Host, fmt.Sprintf("%d", port))
}

// NewClient 创建SSH客户端
func NewClient(config *Config) *Client {
	if config == nil {
		config = &Config{Timeout: 30 * time.Second}
	}
	return &Client{
		config: config,
		shells: make(map[int]*ShellChannel),
	}
}

// Connect 连接SSH服务器
func (c *Client) Connect(ctx context.Context, info *ConnectionInfo) error {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	// 记录连接参数以便后续自动重连
	c.info = info

	sshConfig, err := c.clientConfig(info)
	if err != nil {
		return err
	}

	address := info.Address()
	dialer := &net.Dialer{Timeout: c.config.Timeout}
	conn, err := dialer.DialContext(ctx, "tcp", address)
	if err != nil {
		return fmt.Errorf("failed to dial: %w", err)
	}

	sshConn, chans, reqs, err := ssh.NewClientConn(conn, address, sshConfig)
	if err != nil {
		conn.Close()
		return fmt.Errorf("failed to create SSH connection: %w", err)
	}

	c.connection = ssh.NewClient(sshConn, chans, reqs)
	c.stop = make(chan struct{})

	// 启动保活机制，生命周期跟随连接而不是调用方的 ctx
	go c.keepAlive(c.connection, c.stop)

	return nil
}

func (c *Client) clientConfig(info *ConnectionInfo) (*ssh.ClientConfig, error) {
	hostKeyCallback := ssh.InsecureIgnoreHostKey()
	if c.config.KnownHosts != "" {
		cb, err := knownhosts.New(c.config.KnownHosts)
		if err != nil {
			return nil, fmt.Errorf("failed to load known_hosts: %w", err)
		}
		hostKeyCallback = cb
	}

	sshConfig := &ssh.ClientConfig{
		User:            info.Username,
		HostKeyCallback: hostKeyCallback,
		Timeout:         c.config.Timeout,
		Config: ssh.Config{
			// 支持旧版本的密钥交换算法
			KeyExchanges: []string{
				"curve25519-sha256",
				"curve25519-sha256@libssh.org",
				"diffie-hellman-group14-sha256",
				"diffie-hellman-group14-sha1",
				"diffie-hellman-group1-sha1",
				"diffie-hellman-group-exchange-sha256",
				"diffie-hellman-group-exchange-sha1",
				"ecdh-sha2-nistp256",
				"ecdh-sha2-nistp384",
				"ecdh-sha2-nistp521",
			},
			// 支持旧版本的加密算法
			Ciphers: []string{
				"aes128-ctr",
				"aes192-ctr",
				"aes256-ctr",
				"aes128-gcm@openssh.com",
				"aes256-gcm@openssh.com",
				"aes128-cbc",
				"aes192-cbc",
				"aes256-cbc",
				"3des-cbc",
			},
			// 支持旧版本的MAC算法
			MACs: []string{
				"hmac-sha2-256-etm@openssh.com",
				"hmac-sha2-256",
				"hmac-sha1",
				"hmac-sha1-96",
			},
		},
		// 支持旧版本主机密钥算法
		HostKeyAlgorithms: []string{
			"ssh-ed25519",
			"ssh-rsa",
			"rsa-sha2-256",
			"rsa-sha2-512",
			"ecdsa-sha2-nistp256",
			"ecdsa-sha2-nistp384",
			"ecdsa-sha2-nistp521",
		},
	}

	if info.KeyFile != "" {
		pem, err := os.ReadFile(info.KeyFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read key file: %w", err)
		}
		signer, err := ssh.ParsePrivateKey(pem)
		if err != nil {
			return nil, fmt.Errorf("failed to parse key file: %w", err)
		}
		sshConfig.Auth = append(sshConfig.Auth, ssh.PublicKeys(signer))
	}

	if info.Password != "" {
		// 同时尝试 password 与 keyboard-interactive，提高与网络设备的兼容性
		sshConfig.Auth = append(sshConfig.Auth,
			ssh.Password(info.Password),
			ssh.KeyboardInteractive(func(user, instruction string, questions []string, echos []bool) ([]string, error) {
				// 对所有提示统一使用密码响应（常见于 H3C/Cisco 等设备）
				answers := make([]string, len(questions))
				for i := range questions {
					answers[i] = info.Password
				}
				return answers, nil
			}),
		)
	}
	if len(sshConfig.Auth) == 0 {
		return nil, fmt.Errorf("no authentication method for %s", info.Username)
	}
	return sshConfig, nil
}

// newSessionWithRetry 创建会话（带重试）
// 部分网络设备首次或快速连续打开会话通道可能返回
// "ssh: rejected: administratively prohibited (open failed)"，短延迟重试。
func (c *Client) newSessionWithRetry(ctx context.Context) (*ssh.Session, error) {
	// 退避策略：立即、200ms、500ms、1s、2s，共5次
	backoffs := []time.Duration{0, 200 * time.Millisecond, 500 * time.Millisecond, 1 * time.Second, 2 * time.Second}
	var lastErr error
	for _, d := range backoffs {
		if d > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(d):
			}
		}
		c.mutex.RLock()
		conn := c.connection
		c.mutex.RUnlock()
		if conn == nil {
			return nil, fmt.Errorf("SSH connection not established")
		}
		sess, err := conn.NewSession()
		if err == nil {
			return sess, nil
		}
		lastErr = err
		// 包含 EOF 也作为可重试错误（部分设备在登录后短时间内打开会话会返回 EOF）
		if strings.Contains(strings.ToLower(err.Error()), "eof") && c.info != nil {
			_ = c.closeConnection()
			rctx, cancel := context.WithTimeout(ctx, c.config.Timeout)
			// 忽略重连错误并继续后续退避
			_ = c.Connect(rctx, c.info)
			cancel()
		}
	}
	return nil, lastErr
}

// OpenShell 打开交互式 PTY Shell，返回可供会话引擎驱动的字节通道
func (c *Client) OpenShell(ctx context.Context) (*ShellChannel, error) {
	session, err := c.newSessionWithRetry(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}

	// 设置终端模式（启用回显，兼容网络设备CLI）
	modes := ssh.TerminalModes{
		ssh.ECHO:          1,
		ssh.TTY_OP_ISPEED: 14400,
		ssh.TTY_OP_OSPEED: 14400,
	}
	width, height := c.config.TermWidth, c.config.TermHeight
	if width <= 0 {
		width = 511
	}
	if height <= 0 {
		height = 24
	}
	// 终端类型回退，优先使用配置值，再依次尝试 vt100/xterm/ansi/dumb
	terms := []string{"vt100", "xterm", "ansi", "dumb"}
	if c.config.TermType != "" {
		terms = append([]string{c.config.TermType}, terms...)
	}
	var ptyErr error
	for _, term := range terms {
		if ptyErr = session.RequestPty(term, height, width, modes); ptyErr == nil {
			break
		}
	}
	if ptyErr != nil {
		session.Close()
		return nil, fmt.Errorf("failed to request pty: %w", ptyErr)
	}

	stdin, err := session.StdinPipe()
	if err != nil {
		session.Close()
		return nil, fmt.Errorf("failed to get stdin: %w", err)
	}
	stdout, err := session.StdoutPipe()
	if err != nil {
		session.Close()
		return nil, fmt.Errorf("failed to get stdout: %w", err)
	}
	stderr, err := session.StderrPipe()
	if err != nil {
		session.Close()
		return nil, fmt.Errorf("failed to get stderr: %w", err)
	}

	// 启动交互式Shell
	if err := session.Shell(); err != nil {
		session.Close()
		return nil, fmt.Errorf("failed to start shell: %w", err)
	}

	c.mutex.Lock()
	id := c.nextID
	c.nextID++
	ch := newShellChannel(session, stdin, stdout, stderr)
	ch.onClose = func() {
		c.mutex.Lock()
		delete(c.shells, id)
		c.mutex.Unlock()
	}
	c.shells[id] = ch
	c.mutex.Unlock()
	return ch, nil
}

// Close 关闭SSH连接及其上所有 Shell
func (c *Client) Close() error {
	c.mutex.Lock()
	shells := make([]*ShellChannel, 0, len(c.shells))
	for _, ch := range c.shells {
		shells = append(shells, ch)
	}
	c.mutex.Unlock()

	for _, ch := range shells {
		_ = ch.Close()
	}
	return c.closeConnection()
}

func (c *Client) closeConnection() error {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	if c.stop != nil {
		close(c.stop)
		c.stop = nil
	}
	if c.connection != nil {
		err := c.connection.Close()
		c.connection = nil
		return err
	}
	return nil
}

// IsConnected 检查连接状态
func (c *Client) IsConnected() bool {
	c.mutex.RLock()
	conn := c.connection
	c.mutex.RUnlock()
	if conn == nil {
		return false
	}
	// 轻量级健康检查：发送 keepalive 请求而不创建会话，避免触发设备的会话数量限制
	_, _, err := conn.SendRequest("keepalive@openssh.com", false, nil)
	return err == nil
}

// keepAlive 保持连接活跃
func (c *Client) keepAlive(conn *ssh.Client, stop <-chan struct{}) {
	if c.config.KeepAlive <= 0 {
		return
	}

	ticker := time.NewTicker(c.config.KeepAlive)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			// 发送保活请求（不等待回复，避免不支持该请求的设备导致错误）
			if _, _, err := conn.SendRequest("keepalive@openssh.com", false, nil); err != nil {
				// 连接可能已断开，主动关闭并置空以便池清理
				c.mutex.Lock()
				if c.connection == conn {
					_ = conn.Close()
					c.connection = nil
				}
				c.mutex.Unlock()
				return
			}
		}
	}
}

// GetConnectionStats 获取连接统计信息
func (c *Client) GetConnectionStats() map[string]interface{} {
	c.mutex.RLock()
	defer c.mutex.RUnlock()

	return map[string]interface{}{
		"connected":   c.connection != nil,
		"shell_count": len(c.shells),
	}
}
