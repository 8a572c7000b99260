package simulate

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Config 模拟器配置（simulate.yaml）
type Config struct {
	// Listen SSH 监听地址，例如 ":2222"；"127.0.0.1:0" 由系统分配端口
	Listen string `mapstructure:"listen"`
	// TelnetListen Telnet 监听地址，为空则不启动
	TelnetListen string `mapstructure:"telnet_listen"`
	IdleSeconds  int    `mapstructure:"idle_seconds"`
	MaxConn      int    `mapstructure:"max_conn"`
	// Password 登录密码，Secret 为 enable 密码
	Password string `mapstructure:"password"`
	Secret   string `mapstructure:"secret"`
	// HostKeyPath 为空时使用进程内临时主机密钥
	HostKeyPath string `mapstructure:"host_key_path"`
	// CommandDir 命令回显文件目录：<command_dir>/<device>/<command>.txt
	CommandDir string `mapstructure:"command_dir"`
	// Devices 以登录用户名为键，用户名即设备名
	Devices map[string]DeviceConfig `mapstructure:"devices"`
}

// DeviceConfig 单台模拟设备
type DeviceConfig struct {
	Platform        string            `mapstructure:"platform"`
	Hostname        string            `mapstructure:"hostname"`
	StartPrivileged bool              `mapstructure:"start_privileged"`
	Banner          string            `mapstructure:"banner"`
	Commands        map[string]string `mapstructure:"commands"`
	// Delays 指定命令输出前的等待时间，用于超时场景
	Delays map[string]time.Duration `mapstructure:"delays"`
}

// DefaultConfig 默认配置
func DefaultConfig() *Config {
	return &Config{
		Listen:   ":2222",
		Password: "nova",
		Secret:   "nova",
		Devices:  map[string]DeviceConfig{},
	}
}

// LoadConfig 读取模拟器配置文件
func LoadConfig(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetConfigFile(path)
	v.SetDefault("listen", ":2222")
	v.SetDefault("password", "nova")
	v.SetDefault("secret", "nova")
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read simulate config: %w", err)
	}
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal simulate config: %w", err)
	}
	if cfg.Devices == nil {
		cfg.Devices = map[string]DeviceConfig{}
	}
	return &cfg, nil
}
