package config

import (
	"bytes"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

// ErrNoHosts は配信するホストが1つもないことを表す
var ErrNoHosts = errors.New("配信するホストがありません")

// Config はアプリケーション全体の設定を保持する構造体
type Config struct {
	Server ServerConfig `yaml:"server" toml:"server"`
	Hosts  []HostEntry  `yaml:"hosts" toml:"hosts" validate:"dive"`
	Admin  AdminConfig  `yaml:"admin" toml:"admin"`
	Log    LogConfig    `yaml:"log" toml:"log"`
}

// ServerConfig は全ホスト共通の配信設定
type ServerConfig struct {
	// ContentDir 配下のサブディレクトリをホストとして検出する（任意）
	ContentDir string `yaml:"content_dir" toml:"content_dir" validate:"omitempty,dir"`
	Port       int    `yaml:"port" toml:"port" validate:"min=0,max=65535"` // 検出したホストのポート

	// 接続の設定
	KeepAlive      Duration `yaml:"keep_alive" toml:"keep_alive" validate:"gt=0"`             // アイドルタイムアウト
	WriteTimeout   Duration `yaml:"write_timeout" toml:"write_timeout" validate:"gte=0"`      // 書き込みタイムアウト（0 で無効）
	WorkersPerHost int      `yaml:"workers_per_host" toml:"workers_per_host" validate:"min=1,max=1024"`
	MaxHeaders     int      `yaml:"max_headers" toml:"max_headers" validate:"min=1"`

	// 停止時に処理中の接続を待つ時間
	GracePeriod Duration `yaml:"grace_period" toml:"grace_period" validate:"gt=0"`

	// 全体共通のエラーページディレクトリ（空なら ContentDir）
	ErrorPages string `yaml:"error_pages" toml:"error_pages" validate:"omitempty,dir"`
}

// HostEntry は明示的に指定するホスト
type HostEntry struct {
	Hostname   string `yaml:"hostname" toml:"hostname" validate:"required,hostname_rfc1123"`
	Root       string `yaml:"root" toml:"root" validate:"required,dir"`
	Address    string `yaml:"address" toml:"address" validate:"required"` // 例: 127.0.0.1:8080
	ErrorPages string `yaml:"error_pages" toml:"error_pages" validate:"omitempty,dir"`
}

// AdminConfig は管理用エンドポイントの設定
type AdminConfig struct {
	Addr string `yaml:"addr" toml:"addr"` // 空なら起動しない
}

// LogConfig はログ出力の設定
type LogConfig struct {
	Level  string `yaml:"level" toml:"level" validate:"oneof=debug info warn error"`
	Format string `yaml:"format" toml:"format" validate:"oneof=text json"`
	Output string `yaml:"output" toml:"output"` // stderr / stdout / ファイルパス
}

// Duration は "2s" のような文字列で書ける時間
type Duration time.Duration

// UnmarshalText は time.ParseDuration の形式を解釈する
func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return fmt.Errorf("不正な時間指定 %q: %w", text, err)
	}
	*d = Duration(v)
	return nil
}

// MarshalText は time.Duration の文字列表現を返す
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

// Std は time.Duration に変換する
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// Default はデフォルト設定を返す
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:           8080,
			KeepAlive:      Duration(2 * time.Second),
			WriteTimeout:   0,
			WorkersPerHost: 4,
			MaxHeaders:     512,
			GracePeriod:    Duration(5 * time.Second),
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
			Output: "stderr",
		},
	}
}

// Load は設定を読み込む
// WEBSERVER_CONFIG が指定されていればそのファイルを、なければデフォルト値を使う
func Load() (*Config, error) {
	if path := os.Getenv("WEBSERVER_CONFIG"); path != "" {
		return LoadFile(path)
	}

	cfg := Default()
	cfg.applyEnv()

	// 設定の検証
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("設定の検証に失敗: %w", err)
	}

	return cfg, nil
}

// LoadFile は YAML または TOML の設定ファイルを読み込む
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("設定ファイルの読み込みに失敗: %w", err)
	}

	cfg := Default()
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(cfg); err != nil {
			return nil, fmt.Errorf("YAMLの解析に失敗 (%s): %w", path, err)
		}
	case ".toml":
		dec := toml.NewDecoder(bytes.NewReader(data))
		dec.DisallowUnknownFields()
		if err := dec.Decode(cfg); err != nil {
			return nil, fmt.Errorf("TOMLの解析に失敗 (%s): %w", path, err)
		}
	default:
		return nil, fmt.Errorf("未対応の設定ファイル形式: %q", ext)
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("設定の検証に失敗: %w", err)
	}

	return cfg, nil
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate は設定の妥当性を検証する
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return err
	}

	for _, h := range c.Hosts {
		if _, _, err := net.SplitHostPort(h.Address); err != nil {
			return fmt.Errorf("ホスト %s のアドレスが不正: %w", h.Hostname, err)
		}
	}

	if c.Admin.Addr != "" {
		if _, _, err := net.SplitHostPort(c.Admin.Addr); err != nil {
			return fmt.Errorf("管理用アドレスが不正: %w", err)
		}
	}

	return nil
}

// GlobalErrorPages は全体共通のエラーページディレクトリを返す
func (c *Config) GlobalErrorPages() string {
	if c.Server.ErrorPages != "" {
		return c.Server.ErrorPages
	}
	return c.Server.ContentDir
}

// AdminAddress は管理用エンドポイントのリッスンアドレスを返す
func (c *Config) AdminAddress() string {
	return c.Admin.Addr
}

// applyEnv は環境変数で設定を上書きする
func (c *Config) applyEnv() {
	c.Server.ContentDir = getEnvOrDefault("WEBSERVER_CONTENT_DIR", c.Server.ContentDir)
	c.Server.Port = getEnvAsIntOrDefault("WEBSERVER_PORT", c.Server.Port)
	c.Server.WorkersPerHost = getEnvAsIntOrDefault("WEBSERVER_WORKERS", c.Server.WorkersPerHost)
	c.Server.KeepAlive = getEnvAsDurationOrDefault("WEBSERVER_KEEP_ALIVE", c.Server.KeepAlive)
	c.Server.GracePeriod = getEnvAsDurationOrDefault("WEBSERVER_GRACE_PERIOD", c.Server.GracePeriod)
	c.Server.ErrorPages = getEnvOrDefault("WEBSERVER_ERROR_PAGES", c.Server.ErrorPages)
	c.Admin.Addr = getEnvOrDefault("WEBSERVER_ADMIN_ADDR", c.Admin.Addr)
	c.Log.Level = getEnvOrDefault("WEBSERVER_LOG_LEVEL", c.Log.Level)
	c.Log.Format = getEnvOrDefault("WEBSERVER_LOG_FORMAT", c.Log.Format)
	c.Log.Output = getEnvOrDefault("WEBSERVER_LOG_OUTPUT", c.Log.Output)
}

// getEnvOrDefault は環境変数を取得し、設定されていない場合はデフォルト値を返す
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsIntOrDefault は環境変数を整数として取得し、設定されていない場合はデフォルト値を返す
func getEnvAsIntOrDefault(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		var intVal int
		if _, err := fmt.Sscanf(value, "%d", &intVal); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// getEnvAsDurationOrDefault は環境変数を時間として取得する
func getEnvAsDurationOrDefault(key string, defaultValue Duration) Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return Duration(d)
		}
	}
	return defaultValue
}
