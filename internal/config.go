package internal

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config 服務配置
//
// 分區塊的 YAML 配置；未提供配置檔時全部使用預設值，
// 提供時逐欄位覆蓋預設值。
type Config struct {
	Server ServerConfig `yaml:"server"`
	Lobby  LobbyConfig  `yaml:"lobby"`
	Log    LogConfig    `yaml:"log"`
}

// Duration 支援 "30m"、"15s" 這類人類可讀格式的時長
//
// yaml.v3 不會特殊處理 time.Duration，所以自行解析。
type Duration time.Duration

// UnmarshalYAML 實作 yaml.Unmarshaler
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return fmt.Errorf("時長必須是字串（如 \"30m\"）: %w", err)
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("無效的時長 %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

// Std 轉回標準 time.Duration
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// ServerConfig HTTP 伺服器配置
type ServerConfig struct {
	Port         int      `yaml:"port"`
	ReadTimeout  Duration `yaml:"read_timeout"`
	WriteTimeout Duration `yaml:"write_timeout"`
	IdleTimeout  Duration `yaml:"idle_timeout"`
}

// LobbyConfig 大廳協調器配置
type LobbyConfig struct {
	// RoomIdleTimeout 房間閒置多久後被收割（以最後活動時間計）
	RoomIdleTimeout Duration `yaml:"room_idle_timeout"`
	// SweepInterval 收割掃描間隔
	SweepInterval Duration `yaml:"sweep_interval"`
}

// LogConfig 日誌配置
type LogConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // text, json
}

// DefaultConfig 預設配置
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:         8080,
			ReadTimeout:  Duration(15 * time.Second),
			WriteTimeout: Duration(15 * time.Second),
			IdleTimeout:  Duration(60 * time.Second),
		},
		Lobby: LobbyConfig{
			RoomIdleTimeout: Duration(30 * time.Minute),
			SweepInterval:   Duration(5 * time.Minute),
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// LoadConfig 載入配置檔並覆蓋預設值
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("讀取配置檔失敗: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("解析配置檔失敗: %w", err)
	}

	return cfg, nil
}
