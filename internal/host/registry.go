// Package host はバーチャルホストの設定とレジストリを提供する
//
// # 責務
// - ホスト名からルートパス・待ち受けエンドポイントへの対応表の保持
// - 重複ホスト名の拒否
//
// # 仕様
// - Registry は起動時に一度だけ構築され、以後は読み取り専用
// - 読み取り専用のためロックなしで全ゴルーチンから共有できる
// - ルーティングは接続を受け付けたソケットで決まり、Hostヘッダーは使わない
package host

import (
	"errors"
	"fmt"
	"net"
	"sort"
	"strings"
)

var (
	// ErrDuplicateHost は同じホスト名が二度登録されたことを表す
	ErrDuplicateHost = errors.New("ホスト名が重複しています")
	// ErrInvalidHost はホスト設定が不正であることを表す
	ErrInvalidHost = errors.New("ホスト設定が不正です")
)

// Config は1つのバーチャルホストの設定
type Config struct {
	Hostname   string // ホスト名
	Root       string // 配信ルートディレクトリ
	Address    string // 待ち受けエンドポイント (例: 127.0.0.1:8080)
	ErrorPages string // ホスト固有のエラーページディレクトリ（任意）
}

// Validate はホスト設定の妥当性を検証する
func (c Config) Validate() error {
	if strings.TrimSpace(c.Hostname) == "" {
		return fmt.Errorf("%w: ホスト名が空です", ErrInvalidHost)
	}
	if c.Root == "" {
		return fmt.Errorf("%w: %s のルートパスが空です", ErrInvalidHost, c.Hostname)
	}
	if _, _, err := net.SplitHostPort(c.Address); err != nil {
		return fmt.Errorf("%w: %s のエンドポイント %q: %v", ErrInvalidHost, c.Hostname, c.Address, err)
	}
	return nil
}

// Registry はホスト名をキーにした不変のホスト設定集合
type Registry struct {
	hosts map[string]Config
	names []string
}

// NewRegistry はホスト設定の一覧からRegistryを構築する
func NewRegistry(entries []Config) (*Registry, error) {
	r := &Registry{
		hosts: make(map[string]Config, len(entries)),
		names: make([]string, 0, len(entries)),
	}

	// 同じエンドポイントを2つのホストに割り当てることはできない（ポート0は除く）
	endpoints := make(map[string]string, len(entries))

	for _, entry := range entries {
		if err := entry.Validate(); err != nil {
			return nil, err
		}

		key := normalize(entry.Hostname)
		if _, exists := r.hosts[key]; exists {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateHost, entry.Hostname)
		}

		if _, port, _ := net.SplitHostPort(entry.Address); port != "0" {
			if other, taken := endpoints[entry.Address]; taken {
				return nil, fmt.Errorf("%w: %s と %s が同じエンドポイント %s を使用しています",
					ErrInvalidHost, other, entry.Hostname, entry.Address)
			}
			endpoints[entry.Address] = entry.Hostname
		}

		r.hosts[key] = entry
		r.names = append(r.names, key)
	}

	sort.Strings(r.names)
	return r, nil
}

// Lookup はホスト名に対応する設定を返す（大文字小文字は区別しない）
func (r *Registry) Lookup(hostname string) (Config, bool) {
	cfg, ok := r.hosts[normalize(hostname)]
	return cfg, ok
}

// Hosts はホスト名順に並べた全ホスト設定を返す
func (r *Registry) Hosts() []Config {
	hosts := make([]Config, 0, len(r.names))
	for _, name := range r.names {
		hosts = append(hosts, r.hosts[name])
	}
	return hosts
}

// Len は登録されているホスト数を返す
func (r *Registry) Len() int {
	return len(r.names)
}

func normalize(hostname string) string {
	return strings.ToLower(strings.TrimSuffix(strings.TrimSpace(hostname), "."))
}
