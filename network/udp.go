package network

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"
)

// ErrIPv6NotSupported は IPv6 アドレスが指定された場合のエラー
var ErrIPv6NotSupported = errors.New("IPv6 not supported")

// UDPConnection は UDP ソケットを管理します
type UDPConnection struct {
	UdpConn   *net.UDPConn
	LocalAddr *net.UDPAddr
	Port      int

	mu        sync.RWMutex
	localIPs  []net.IP // 自送信パケット除外用のローカルIPリスト
	broadcast net.IP
	monitor   *interfaceMonitor
}

// Options は CreateUDPConnection の設定
type Options struct {
	// IP は listen するアドレス。nil の場合はワイルドカード
	IP net.IP
	// Port は listen と送信の両方で使うポート
	Port int
	// Broadcast は Broadcast() の宛先。nil の場合は GetIPv4BroadcastIP で検出する
	Broadcast net.IP
	// MonitorInterfaces が true ならインターフェースの変化を監視してローカルIPを更新する
	MonitorInterfaces bool
}

// CreateUDPConnection は IPv4 の unicast と broadcast を送受信できるソケットを作成します。
// Go の UDP ソケットは SO_BROADCAST が有効な状態で作られるため、そのままブロードキャストを送れる。
func CreateUDPConnection(ctx context.Context, opts Options) (*UDPConnection, error) {
	if opts.IP != nil && opts.IP.To4() == nil {
		return nil, fmt.Errorf("listen ip %s: %w", opts.IP, ErrIPv6NotSupported)
	}
	if opts.Broadcast != nil && opts.Broadcast.To4() == nil {
		return nil, fmt.Errorf("broadcast ip %s: %w", opts.Broadcast, ErrIPv6NotSupported)
	}

	bindIP := opts.IP
	if bindIP == nil || bindIP.IsUnspecified() {
		bindIP = net.IPv4zero
	}
	conn, err := net.ListenUDP("udp4", &net.UDPAddr{IP: bindIP, Port: opts.Port})
	if err != nil {
		return nil, fmt.Errorf("failed to listen on %s:%d: %w", bindIP, opts.Port, err)
	}

	localIPs, err := GetLocalIPv4s()
	if err != nil {
		slog.Warn("自送信パケット除外用のローカルIPを取得できません", "err", err)
		localIPs = []net.IP{}
	}
	localAddr := conn.LocalAddr().(*net.UDPAddr)
	if localAddr.IP.To4() != nil && !localAddr.IP.IsUnspecified() && !containsIP(localIPs, localAddr.IP) {
		localIPs = append(localIPs, localAddr.IP)
	}

	broadcast := opts.Broadcast
	if broadcast == nil {
		broadcast = GetIPv4BroadcastIP()
	}

	c := &UDPConnection{
		UdpConn:   conn,
		LocalAddr: localAddr,
		Port:      localAddr.Port,
		localIPs:  localIPs,
		broadcast: broadcast,
	}

	if opts.MonitorInterfaces {
		c.startInterfaceMonitor(ctx)
	}

	return c, nil
}

func containsIP(ips []net.IP, ip net.IP) bool {
	for _, v := range ips {
		if v.Equal(ip) {
			return true
		}
	}
	return false
}

// isSelfPacket は指定されたアドレスが自身のいずれかのローカルIPとポートから送信されたものかを確認します
func (c *UDPConnection) isSelfPacket(src *net.UDPAddr) bool {
	if src == nil || src.Port != c.Port {
		return false
	}
	return c.IsLocalIP(src.IP)
}

// IsLocalIP は指定されたIPアドレスが自身のローカルIPのいずれかと一致するかを確認します
func (c *UDPConnection) IsLocalIP(ip net.IP) bool {
	if ip == nil {
		return false
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	return containsIP(c.localIPs, ip)
}

// BroadcastIP は Broadcast() の宛先アドレスを返します
func (c *UDPConnection) BroadcastIP() net.IP {
	return c.broadcast
}

// Close はソケットを閉じます
func (c *UDPConnection) Close() error {
	c.stopInterfaceMonitor()
	return c.UdpConn.Close()
}

// SendTo は指定先の同じポートにデータを送信します
func (c *UDPConnection) SendTo(dstIP net.IP, data []byte) (int, error) {
	return c.UdpConn.WriteTo(data, &net.UDPAddr{IP: dstIP, Port: c.Port})
}

// SendToAddr は任意のアドレスとポートにデータを送信します（要求元への応答用）
func (c *UDPConnection) SendToAddr(dst *net.UDPAddr, data []byte) (int, error) {
	return c.UdpConn.WriteToUDP(data, dst)
}

// Broadcast はブロードキャストアドレスにデータを送信します
func (c *UDPConnection) Broadcast(data []byte) (int, error) {
	return c.SendTo(c.broadcast, data)
}

// bufferPool は受信バッファのプールです
var bufferPool = sync.Pool{
	New: func() interface{} { return make([]byte, 1500) },
}

// Receive は UDP パケットを受信し、データと送信元アドレスを返します。
// 自送信パケットの場合は data と addr が nil で err も nil になります。
func (c *UDPConnection) Receive(ctx context.Context) ([]byte, *net.UDPAddr, error) {
	if deadline, ok := ctx.Deadline(); ok {
		c.UdpConn.SetReadDeadline(deadline)
	} else {
		c.UdpConn.SetReadDeadline(time.Time{})
	}

	type result struct {
		data []byte
		addr *net.UDPAddr
		err  error
	}
	ch := make(chan result, 1)
	go func() {
		buf := bufferPool.Get().([]byte)
		defer bufferPool.Put(buf)
		n, src, err := c.UdpConn.ReadFromUDP(buf)
		if err != nil {
			ch <- result{nil, nil, err}
			return
		}
		if c.isSelfPacket(src) {
			ch <- result{nil, nil, nil}
			return
		}
		data := make([]byte, n)
		copy(data, buf[:n])
		ch <- result{data, src, nil}
	}()

	select {
	case <-ctx.Done():
		c.UdpConn.SetReadDeadline(time.Now())
		<-ch
		return nil, nil, ctx.Err()
	case res := <-ch:
		return res.data, res.addr, res.err
	}
}
