package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/spf13/viper"

	"github.com/sshcollectorpro/netdev/pkg/logger"
	"github.com/sshcollectorpro/netdev/pkg/netdev"
	"github.com/sshcollectorpro/netdev/pkg/netdev/platforms"
	"github.com/sshcollectorpro/netdev/pkg/ssh"
	"github.com/sshcollectorpro/netdev/pkg/telnet"
)

// Config 应用配置结构
type Config struct {
	Server    ServerConfig              `mapstructure:"server"`
	Session   SessionConfig             `mapstructure:"session"`
	Executor  ExecutorConfig            `mapstructure:"executor"`
	SSH       SSHConfig                 `mapstructure:"ssh"`
	Telnet    TelnetConfig              `mapstructure:"telnet"`
	Database  DatabaseConfig            `mapstructure:"database"`
	Storage   StorageConfig             `mapstructure:"storage"`
	Simulate  SimulateConfig            `mapstructure:"simulate"`
	Log       logger.Config             `mapstructure:"log"`
	Platforms map[string]PlatformConfig `mapstructure:"platforms"`

	file string
}

// ServerConfig 服务器配置
type ServerConfig struct {
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	Mode         string        `mapstructure:"mode"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// SessionConfig 会话时序参数，零值表示使用引擎默认值
type SessionConfig struct {
	ReadWindow      time.Duration `mapstructure:"read_window"`
	IdleWindows     int           `mapstructure:"idle_windows"`
	CommandTimeout  time.Duration `mapstructure:"command_timeout"`
	DiscoverRetries int           `mapstructure:"discover_retries"`
	DiscoverTimeout time.Duration `mapstructure:"discover_timeout"`
	MaxConfigDepth  int           `mapstructure:"max_config_depth"`
}

// merge 用 o 中的非零字段覆盖 s
func (s SessionConfig) merge(o SessionConfig) SessionConfig {
	if o.ReadWindow > 0 {
		s.ReadWindow = o.ReadWindow
	}
	if o.IdleWindows > 0 {
		s.IdleWindows = o.IdleWindows
	}
	if o.CommandTimeout > 0 {
		s.CommandTimeout = o.CommandTimeout
	}
	if o.DiscoverRetries > 0 {
		s.DiscoverRetries = o.DiscoverRetries
	}
	if o.DiscoverTimeout > 0 {
		s.DiscoverTimeout = o.DiscoverTimeout
	}
	if o.MaxConfigDepth > 0 {
		s.MaxConfigDepth = o.MaxConfigDepth
	}
	return s
}

func (s SessionConfig) timing() netdev.Timing {
	return netdev.Timing{
		ReadWindow:      s.ReadWindow,
		IdleWindows:     s.IdleWindows,
		CommandTimeout:  s.CommandTimeout,
		DiscoverRetries: s.DiscoverRetries,
		DiscoverTimeout: s.DiscoverTimeout,
		MaxConfigDepth:  s.MaxConfigDepth,
	}
}

// ExecutorConfig 执行服务配置
type ExecutorConfig struct {
	// Concurrent 批量执行时的最大并发设备数
	Concurrent int `mapstructure:"concurrent"`
	// ConcurrencyProfile 并发档位：S/M/L/XL（优先级高于 concurrent 数值）
	ConcurrencyProfile  string                              `mapstructure:"concurrency_profile"`
	ConcurrencyProfiles map[string]ConcurrencyProfileConfig `mapstructure:"concurrency_profiles"`
	// DefaultPlatform 请求未指定平台时使用
	DefaultPlatform string `mapstructure:"default_platform"`
	// DefaultTransport ssh | telnet
	DefaultTransport string `mapstructure:"default_transport"`
	// PreviewLines 调试日志中输出预览的最大行数
	PreviewLines int `mapstructure:"preview_lines"`
	// PersistHistory 是否写入命令历史
	PersistHistory bool `mapstructure:"persist_history"`
	// HistoryRetention 历史保留时长，0 表示不清理
	HistoryRetention time.Duration `mapstructure:"history_retention"`
}

// ConcurrencyProfileConfig 并发档位配置
type ConcurrencyProfileConfig struct {
	Concurrent int `mapstructure:"concurrent"`
}

// SSHConfig SSH配置
type SSHConfig struct {
	ConnectTimeout    time.Duration `mapstructure:"connect_timeout"`
	KeepAliveInterval time.Duration `mapstructure:"keep_alive_interval"`
	CleanupInterval   time.Duration `mapstructure:"cleanup_interval"`
	MaxSessions       int           `mapstructure:"max_sessions"`
	MaxIdle           int           `mapstructure:"max_idle"`
	MaxActive         int           `mapstructure:"max_active"`
	IdleTimeout       time.Duration `mapstructure:"idle_timeout"`
	KnownHosts        string        `mapstructure:"known_hosts"`
	TermWidth         int           `mapstructure:"term_width"`
	TermHeight        int           `mapstructure:"term_height"`
}

// Client 转换为 SSH 客户端配置
func (c SSHConfig) Client() *ssh.Config {
	return &ssh.Config{
		Timeout:     c.ConnectTimeout,
		KeepAlive:   c.KeepAliveInterval,
		MaxSessions: c.MaxSessions,
		KnownHosts:  c.KnownHosts,
		TermWidth:   c.TermWidth,
		TermHeight:  c.TermHeight,
	}
}

// Pool 转换为连接池配置
func (c SSHConfig) Pool() *ssh.PoolConfig {
	return &ssh.PoolConfig{
		MaxIdle:         c.MaxIdle,
		MaxActive:       c.MaxActive,
		IdleTimeout:     c.IdleTimeout,
		CleanupInterval: c.CleanupInterval,
		SSHConfig:       c.Client(),
	}
}

// TelnetConfig Telnet配置
type TelnetConfig struct {
	Timeout         time.Duration `mapstructure:"timeout"`
	LoginTimeout    time.Duration `mapstructure:"login_timeout"`
	UsernamePrompts []string      `mapstructure:"username_prompts"`
	PasswordPrompts []string      `mapstructure:"password_prompts"`
}

// Client 转换为 Telnet 拨号配置
func (c TelnetConfig) Client() telnet.Config {
	return telnet.Config{
		Timeout:         c.Timeout,
		LoginTimeout:    c.LoginTimeout,
		UsernamePrompts: c.UsernamePrompts,
		PasswordPrompts: c.PasswordPrompts,
	}
}

// DatabaseConfig 数据库配置
type DatabaseConfig struct {
	SQLite SQLiteConfig `mapstructure:"sqlite"`
}

// SQLiteConfig SQLite配置
type SQLiteConfig struct {
	Path            string        `mapstructure:"path"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

// StorageConfig 会话记录存储配置
type StorageConfig struct {
	// Backend local | minio | none
	Backend string       `mapstructure:"backend"`
	Prefix  string       `mapstructure:"prefix"`
	Local   LocalConfig  `mapstructure:"local"`
	Minio   MinioConfig  `mapstructure:"minio"`
}

// LocalConfig 本地存储配置
type LocalConfig struct {
	BaseDir        string `mapstructure:"base_dir"`
	MkdirIfMissing bool   `mapstructure:"mkdir_if_missing"`
}

// MinioConfig 对象存储配置
type MinioConfig struct {
	Host      string `mapstructure:"host"`
	Port      int    `mapstructure:"port"`
	AccessKey string `mapstructure:"access_key"`
	SecretKey string `mapstructure:"secret_key"`
	Bucket    string `mapstructure:"bucket"`
	Secure    bool   `mapstructure:"secure"`
}

// SimulateConfig 内置模拟设备开关
type SimulateConfig struct {
	Enable bool `mapstructure:"enable"`
	// ConfigPath 模拟器配置文件（simulate.yaml）
	ConfigPath string `mapstructure:"config_path"`
}

// PlatformConfig 单个平台的覆盖项：档案字段与会话时序
type PlatformConfig struct {
	platforms.Override `mapstructure:",squash"`
	Session            SessionConfig `mapstructure:"session"`
}

var (
	globalMu     sync.RWMutex
	globalConfig *Config
)

// Load 加载配置文件
func Load(configPath string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")

	// 设置默认值
	setDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		// 默认配置文件路径
		v.SetConfigName("config")
		v.AddConfigPath("./configs")
		v.AddConfigPath("../configs")
		v.AddConfigPath("../../configs")
	}

	// 设置环境变量前缀，例如 NETDEV_SERVER_PORT
	v.SetEnvPrefix("NETDEV")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	config.file = v.ConfigFileUsed()

	// 环境变量替换
	config = replaceEnvVars(config)

	// 应用并发档位配置（若设置了 concurrency_profile 则覆盖 concurrent 数值）
	applyConcurrencyProfile(&config)

	// 提前校验平台覆盖项，避免运行时才发现错误
	for name := range config.Platforms {
		if _, err := config.Profile(name); err != nil {
			return nil, err
		}
	}

	globalMu.Lock()
	globalConfig = &config
	globalMu.Unlock()
	return &config, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.mode", "release")
	v.SetDefault("server.read_timeout", 30*time.Second)
	v.SetDefault("server.write_timeout", 5*time.Minute)

	// 会话时序默认值与引擎保持一致
	v.SetDefault("session.read_window", netdev.DefaultTiming.ReadWindow)
	v.SetDefault("session.idle_windows", netdev.DefaultTiming.IdleWindows)
	v.SetDefault("session.command_timeout", netdev.DefaultTiming.CommandTimeout)
	v.SetDefault("session.discover_retries", netdev.DefaultTiming.DiscoverRetries)
	v.SetDefault("session.discover_timeout", netdev.DefaultTiming.DiscoverTimeout)
	v.SetDefault("session.max_config_depth", netdev.DefaultTiming.MaxConfigDepth)

	// 默认并发档位配置
	v.SetDefault("executor.concurrency_profile", "S")
	v.SetDefault("executor.concurrency_profiles", map[string]map[string]int{
		"S":  {"concurrent": 8},  // 2c4g
		"M":  {"concurrent": 16}, // 4c8g
		"L":  {"concurrent": 32}, // 8c16g
		"XL": {"concurrent": 64}, // 16c32g
	})
	v.SetDefault("executor.default_platform", platforms.DefaultPlatform)
	v.SetDefault("executor.default_transport", "ssh")
	v.SetDefault("executor.preview_lines", 20)
	v.SetDefault("executor.persist_history", true)
	v.SetDefault("executor.history_retention", 30*24*time.Hour)

	v.SetDefault("ssh.connect_timeout", 10*time.Second)
	v.SetDefault("ssh.keep_alive_interval", 30*time.Second)
	v.SetDefault("ssh.cleanup_interval", 30*time.Second)
	v.SetDefault("ssh.max_sessions", 4)
	v.SetDefault("ssh.max_idle", 16)
	v.SetDefault("ssh.max_active", 64)
	v.SetDefault("ssh.idle_timeout", 5*time.Minute)

	v.SetDefault("telnet.timeout", telnet.DefaultConfig.Timeout)
	v.SetDefault("telnet.login_timeout", telnet.DefaultConfig.LoginTimeout)

	v.SetDefault("database.sqlite.path", "./data/netdev.db")
	v.SetDefault("database.sqlite.max_idle_conns", 5)
	v.SetDefault("database.sqlite.max_open_conns", 10)
	v.SetDefault("database.sqlite.conn_max_lifetime", time.Hour)

	v.SetDefault("storage.backend", "local")
	v.SetDefault("storage.prefix", "transcripts")
	v.SetDefault("storage.local.base_dir", "./data")
	v.SetDefault("storage.local.mkdir_if_missing", true)

	v.SetDefault("simulate.enable", false)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
	v.SetDefault("log.output", "console")
	v.SetDefault("log.file_path", "./logs/netdev.log")
	v.SetDefault("log.max_size", 100)
	v.SetDefault("log.max_backups", 5)
	v.SetDefault("log.max_age", 30)
}

// Get 获取全局配置
func Get() *Config {
	globalMu.RLock()
	defer globalMu.RUnlock()
	return globalConfig
}

// File 实际加载的配置文件路径
func (c *Config) File() string {
	return c.file
}

// GetServerAddr 获取服务器地址
func (c *Config) GetServerAddr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

// Timing 解析平台的会话时序：全局 session 与 platforms.<name>.session 合并
func (c *Config) Timing(platform string) netdev.Timing {
	s := c.Session
	if pc, ok := c.platform(platform); ok {
		s = s.merge(pc.Session)
	}
	return s.timing()
}

// Profile 获取平台档案并应用配置中的覆盖项
func (c *Config) Profile(platform string) (netdev.VendorProfile, error) {
	if strings.TrimSpace(platform) == "" {
		platform = c.Executor.DefaultPlatform
	}
	p, err := platforms.Get(platform)
	if err != nil {
		return netdev.VendorProfile{}, err
	}
	pc, ok := c.platform(platform)
	if !ok {
		// 别名也可能以内置名称配置
		pc, ok = c.platform(p.Name)
	}
	if !ok {
		return p, nil
	}
	return pc.Override.Apply(p)
}

// platform 查找平台覆盖项，viper 会将键名转为小写
func (c *Config) platform(name string) (PlatformConfig, bool) {
	pc, ok := c.Platforms[strings.ToLower(strings.TrimSpace(name))]
	return pc, ok
}

// replaceEnvVars 替换形如 ${VAR} 的配置值
func replaceEnvVars(config Config) Config {
	config.Storage.Minio.AccessKey = expandEnv(config.Storage.Minio.AccessKey)
	config.Storage.Minio.SecretKey = expandEnv(config.Storage.Minio.SecretKey)
	config.Database.SQLite.Path = expandEnv(config.Database.SQLite.Path)
	return config
}

func expandEnv(s string) string {
	if strings.HasPrefix(s, "${") && strings.HasSuffix(s, "}") {
		envVar := strings.TrimSuffix(strings.TrimPrefix(s, "${"), "}")
		if value := os.Getenv(envVar); value != "" {
			return value
		}
	}
	return s
}

// applyConcurrencyProfile 根据并发档位设置并发数（覆盖 Executor.Concurrent）
func applyConcurrencyProfile(cfg *Config) {
	prof := strings.TrimSpace(cfg.Executor.ConcurrencyProfile)
	if prof == "" {
		return
	}
	// 兼容大小写与可能的前缀（例如 "Concurrency-S"）
	p := strings.ToUpper(prof)
	if after, ok := strings.CutPrefix(p, "CONCURRENCY-"); ok {
		p = after
	}
	for k, v := range cfg.Executor.ConcurrencyProfiles {
		if strings.ToUpper(k) == p && v.Concurrent > 0 {
			cfg.Executor.Concurrent = v.Concurrent
			return
		}
	}
	// 档位名也可以直接写成数字
	if n, err := strconv.Atoi(p); err == nil && n > 0 {
		cfg.Executor.Concurrent = n
	}
}
