package network

import (
	"context"
	"log/slog"
	"net"
	"time"
)

// MonitorInterval はインターフェース監視の間隔
const MonitorInterval = 10 * time.Second

type interfaceMonitor struct {
	cancel     context.CancelFunc
	done       chan struct{}
	interfaces []net.Interface
}

func (c *UDPConnection) startInterfaceMonitor(ctx context.Context) {
	monitorCtx, cancel := context.WithCancel(ctx)
	m := &interfaceMonitor{
		cancel: cancel,
		done:   make(chan struct{}),
	}
	if ifaces, err := net.Interfaces(); err != nil {
		slog.Warn("ネットワークインターフェース情報の取得に失敗", "err", err)
	} else {
		m.interfaces = ifaces
	}

	c.mu.Lock()
	c.monitor = m
	c.mu.Unlock()

	go c.monitorLoop(monitorCtx, m)
	slog.Info("ネットワーク監視が開始されました")
}

func (c *UDPConnection) stopInterfaceMonitor() {
	c.mu.Lock()
	m := c.monitor
	c.monitor = nil
	c.mu.Unlock()

	if m == nil {
		return
	}
	m.cancel()
	<-m.done
	slog.Info("ネットワーク監視が停止されました")
}

// IsNetworkMonitorEnabled はネットワーク監視が有効かどうかを返します
func (c *UDPConnection) IsNetworkMonitorEnabled() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.monitor != nil
}

func (c *UDPConnection) monitorLoop(ctx context.Context, m *interfaceMonitor) {
	defer close(m.done)

	ticker := time.NewTicker(MonitorInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			current, err := net.Interfaces()
			if err != nil {
				slog.Warn("ネットワークインターフェース情報の取得に失敗", "err", err)
				continue
			}
			if !hasNetworkChanged(m.interfaces, current) {
				continue
			}
			m.interfaces = current
			slog.Info("ネットワークインターフェースの変更を検出しました")
			c.refreshLocalIPs()
		}
	}
}

func (c *UDPConnection) refreshLocalIPs() {
	ips, err := GetLocalIPv4s()
	if err != nil {
		slog.Warn("ローカルIPアドレスの再取得に失敗", "err", err)
		return
	}
	c.mu.Lock()
	c.localIPs = ips
	c.mu.Unlock()
	slog.Debug("ローカルIPアドレスを更新しました", "count", len(ips))
}

// hasNetworkChanged はインターフェース名とフラグの変化を調べます
func hasNetworkChanged(previous, current []net.Interface) bool {
	if len(previous) != len(current) {
		return true
	}
	prevMap := make(map[string]net.Flags, len(previous))
	for _, iface := range previous {
		prevMap[iface.Name] = iface.Flags
	}
	for _, iface := range current {
		if flags, ok := prevMap[iface.Name]; !ok || flags != iface.Flags {
			return true
		}
	}
	return false
}
