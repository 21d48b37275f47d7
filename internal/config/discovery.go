package config

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"webserver/internal/host"
)

// Lookup はホスト名を IP アドレスに解決する
// net.DefaultResolver がこれを満たす
type Lookup interface {
	LookupIPAddr(ctx context.Context, host string) ([]net.IPAddr, error)
}

// Discover はディレクトリ直下のサブディレクトリをホストとして検出する
//
// サブディレクトリ名をホスト名とみなし、名前解決した最初のアドレスと port で待ち受ける。
// 解決できない名前は警告を出して読み飛ばす。
// 各ホストのエラーページはそのホストのディレクトリから探す。
func Discover(ctx context.Context, dir string, port int, lookup Lookup, logger *slog.Logger) ([]host.Config, error) {
	if lookup == nil {
		lookup = net.DefaultResolver
	}
	if logger == nil {
		logger = slog.Default()
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("コンテンツディレクトリの読み込みに失敗: %w", err)
	}

	var hosts []host.Config
	for _, entry := range entries {
		name := entry.Name()
		if !entry.IsDir() || strings.HasPrefix(name, ".") {
			continue
		}

		addrs, err := lookup.LookupIPAddr(ctx, name)
		if err != nil || len(addrs) == 0 {
			logger.Warn("ホスト名を解決できないため読み飛ばします", "host", name, "err", err)
			continue
		}

		root, err := filepath.Abs(filepath.Join(dir, name))
		if err != nil {
			return nil, fmt.Errorf("パスの解決に失敗 (%s): %w", name, err)
		}

		hosts = append(hosts, host.Config{
			Hostname:   name,
			Root:       root,
			Address:    net.JoinHostPort(addrs[0].IP.String(), strconv.Itoa(port)),
			ErrorPages: root,
		})
		logger.Debug("ホストを検出しました", "host", name, "address", hosts[len(hosts)-1].Address)
	}

	sort.Slice(hosts, func(i, j int) bool { return hosts[i].Hostname < hosts[j].Hostname })
	return hosts, nil
}

// HostConfigs は明示的なホストと検出したホストをまとめて返す
//
// 同じホスト名がある場合は明示的な指定を優先する。
func (c *Config) HostConfigs(ctx context.Context, lookup Lookup, logger *slog.Logger) ([]host.Config, error) {
	var hosts []host.Config
	seen := make(map[string]bool)

	for _, h := range c.Hosts {
		hosts = append(hosts, host.Config{
			Hostname:   h.Hostname,
			Root:       h.Root,
			Address:    h.Address,
			ErrorPages: h.ErrorPages,
		})
		seen[strings.ToLower(h.Hostname)] = true
	}

	if c.Server.ContentDir != "" {
		discovered, err := Discover(ctx, c.Server.ContentDir, c.Server.Port, lookup, logger)
		if err != nil {
			return nil, err
		}
		for _, h := range discovered {
			if seen[strings.ToLower(h.Hostname)] {
				continue
			}
			hosts = append(hosts, h)
		}
	}

	if len(hosts) == 0 {
		return nil, ErrNoHosts
	}
	return hosts, nil
}
