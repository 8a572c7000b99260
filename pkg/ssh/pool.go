package ssh

import (
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"sync"
	"time"
)

// Pool SSH连接池，按 host:port@user 复用已认证的连接
type Pool struct {
	config      *Config
	connections map[string]*pooledConnection
	mutex       sync.RWMutex
	maxIdle     int
	maxActive   int
	idleTimeout time.Duration
	stop        chan struct{}
	stopOnce    sync.Once
}

// ErrConnectionInUse 同一 user@host:port 的连接正被其他会话占用
var ErrConnectionInUse = errors.New("connection is in use")

// pooledConnection 池化的连接
type pooledConnection struct {
	client   *Client
	info     *ConnectionInfo
	lastUsed time.Time
	inUse    bool
	created  time.Time
}

// PoolConfig 连接池配置
type PoolConfig struct {
	MaxIdle         int           `mapstructure:"max_idle"`
	MaxActive       int           `mapstructure:"max_active"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout"`
	CleanupInterval time.Duration `mapstructure:"cleanup_interval"`
	SSHConfig       *Config       `mapstructure:"-"`
}

// NewPool 创建SSH连接池
func NewPool(config *PoolConfig) *Pool {
	pool := &Pool{
		config:      config.SSHConfig,
		connections: make(map[string]*pooledConnection),
		maxIdle:     config.MaxIdle,
		maxActive:   config.MaxActive,
		idleTimeout: config.IdleTimeout,
		stop:        make(chan struct{}),
	}
	if pool.maxActive <= 0 {
		pool.maxActive = 64
	}
	if pool.idleTimeout <= 0 {
		pool.idleTimeout = 5 * time.Minute
	}

	interval := config.CleanupInterval
	if interval <= 0 {
		interval = 30 * time.Second
	}
	// 启动清理协程
	go pool.cleanup(interval)

	return pool
}

// GetConnection 获取SSH连接，拨号期间不持有池锁
func (p *Pool) GetConnection(ctx context.Context, info *ConnectionInfo) (*Client, error) {
	key := p.getConnectionKey(info)

	p.mutex.Lock()
	if conn, exists := p.connections[key]; exists {
		if !conn.inUse && conn.client.IsConnected() {
			conn.inUse = true
			conn.lastUsed = time.Now()
			p.mutex.Unlock()
			return conn.client, nil
		}
		if conn.inUse {
			p.mutex.Unlock()
			return nil, fmt.Errorf("%w: %s", ErrConnectionInUse, key)
		}
		// 连接已断开，删除
		_ = conn.client.Close()
		delete(p.connections, key)
	}
	if activeCount := p.getActiveCount(); activeCount >= p.maxActive {
		p.mutex.Unlock()
		return nil, fmt.Errorf("connection pool is full, active connections: %d", activeCount)
	}
	// 占位，避免并发重复拨号
	placeholder := &pooledConnection{client: NewClient(p.config), info: info, inUse: true, created: time.Now(), lastUsed: time.Now()}
	p.connections[key] = placeholder
	p.mutex.Unlock()

	if err := placeholder.client.Connect(ctx, info); err != nil {
		p.mutex.Lock()
		if p.connections[key] == placeholder {
			delete(p.connections, key)
		}
		p.mutex.Unlock()
		return nil, fmt.Errorf("failed to create SSH connection: %w", err)
	}
	return placeholder.client, nil
}

// ReleaseConnection 释放SSH连接
func (p *Pool) ReleaseConnection(info *ConnectionInfo) {
	key := p.getConnectionKey(info)

	p.mutex.Lock()
	defer p.mutex.Unlock()

	if conn, exists := p.connections[key]; exists {
		conn.inUse = false
		conn.lastUsed = time.Now()
	}
}

// CloseConnection 关闭指定连接
func (p *Pool) CloseConnection(info *ConnectionInfo) error {
	key := p.getConnectionKey(info)

	p.mutex.Lock()
	conn, exists := p.connections[key]
	delete(p.connections, key)
	p.mutex.Unlock()

	if exists {
		return conn.client.Close()
	}
	return nil
}

// OpenShell 从池中取连接并打开 Shell，Shell 关闭时自动归还连接
func (p *Pool) OpenShell(ctx context.Context, info *ConnectionInfo) (*ShellChannel, error) {
	client, err := p.GetConnection(ctx, info)
	if err != nil {
		return nil, err
	}
	ch, err := client.OpenShell(ctx)
	if err != nil {
		// 打开失败的连接多半已不可用，直接丢弃
		_ = p.CloseConnection(info)
		return nil, err
	}
	release := ch.onClose
	ch.onClose = func() {
		if release != nil {
			release()
		}
		p.ReleaseConnection(info)
	}
	return ch, nil
}

// Close 关闭连接池
func (p *Pool) Close() error {
	p.stopOnce.Do(func() { close(p.stop) })

	p.mutex.Lock()
	defer p.mutex.Unlock()

	var lastErr error
	for key, conn := range p.connections {
		if err := conn.client.Close(); err != nil {
			lastErr = err
		}
		delete(p.connections, key)
	}

	return lastErr
}

// GetStats 获取连接池统计信息
func (p *Pool) GetStats() map[string]interface{} {
	p.mutex.RLock()
	defer p.mutex.RUnlock()

	conns := make(map[string]interface{}, len(p.connections))
	for key, conn := range p.connections {
		stats := conn.client.GetConnectionStats()
		stats["in_use"] = conn.inUse
		conns[key] = stats
	}
	return map[string]interface{}{
		"connections":        conns,
		"total_connections":  len(p.connections),
		"active_connections": p.getActiveCount(),
		"idle_connections":   p.getIdleCount(),
		"max_idle":           p.maxIdle,
		"max_active":         p.maxActive,
	}
}

// getConnectionKey 生成连接键，凭据不同的请求不复用同一连接
func (p *Pool) getConnectionKey(info *ConnectionInfo) string {
	sum := sha256.Sum256([]byte(info.Password + "\x00" + info.KeyFile))
	return fmt.Sprintf("%s@%s#%x", info.Username, info.Address(), sum[:4])
}

// getActiveCount 获取活跃连接数
func (p *Pool) getActiveCount() int {
	count := 0
	for _, conn := range p.connections {
		if conn.inUse {
			count++
		}
	}
	return count
}

// getIdleCount 获取空闲连接数
func (p *Pool) getIdleCount() int {
	count := 0
	for _, conn := range p.connections {
		if !conn.inUse {
			count++
		}
	}
	return count
}

// cleanup 清理过期连接
func (p *Pool) cleanup(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-p.stop:
			return
		case <-ticker.C:
			p.cleanupExpiredConnections()
		}
	}
}

// cleanupExpiredConnections 清理过期连接
func (p *Pool) cleanupExpiredConnections() {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	now := time.Now()
	for key, conn := range p.connections {
		if conn.inUse {
			continue
		}
		// 清理超时的空闲连接与断开的连接
		if now.Sub(conn.lastUsed) > p.idleTimeout || !conn.client.IsConnected() {
			conn.client.Close()
			delete(p.connections, key)
		}
	}

	// 如果空闲连接过多，关闭一些
	excess := p.getIdleCount() - p.maxIdle
	for key, conn := range p.connections {
		if excess <= 0 {
			break
		}
		if !conn.inUse {
			conn.client.Close()
			delete(p.connections, key)
			excess--
		}
	}
}

// Health 健康检查
func (p *Pool) Health() error {
	p.mutex.RLock()
	defer p.mutex.RUnlock()

	total := len(p.connections)
	if total == 0 {
		return nil // 没有连接也是正常的
	}

	connected := 0
	for _, conn := range p.connections {
		if conn.client.IsConnected() {
			connected++
		}
	}
	if connected == 0 {
		return fmt.Errorf("all connections are disconnected")
	}
	return nil
}
