package network

import (
	"errors"
	"fmt"
	"log/slog"
	"net"
)

// GetIPv4BroadcastIP は、ローカルネットワークのIPv4ブロードキャストアドレスを自動的に検出します
func GetIPv4BroadcastIP() net.IP {
	defaultBroadcast := net.IPv4bcast.To4()

	interfaces, err := net.Interfaces()
	if err != nil {
		slog.Warn("ネットワークインターフェースの取得に失敗しました", "err", err)
		return defaultBroadcast
	}

	for _, iface := range interfaces {
		if iface.Flags&net.FlagLoopback != 0 || iface.Flags&net.FlagUp == 0 {
			continue
		}
		addrs, err := iface.Addrs()
		if err != nil {
			continue
		}
		for _, addr := range addrs {
			ipnet, ok := addr.(*net.IPNet)
			if !ok {
				continue
			}
			if broadcast := BroadcastFor(ipnet); broadcast != nil {
				slog.Debug("IPv4ブロードキャストアドレスを検出", "interface", iface.Name, "broadcast", broadcast)
				return broadcast
			}
		}
	}

	return defaultBroadcast
}

// BroadcastFor は ipnet のブロードキャストアドレス (IP | ^Mask) を返す。IPv4 以外は nil。
func BroadcastFor(ipnet *net.IPNet) net.IP {
	ip4 := ipnet.IP.To4()
	if ip4 == nil {
		return nil
	}
	mask := ipnet.Mask
	if len(mask) == net.IPv6len {
		mask = mask[12:]
	}
	if len(mask) != net.IPv4len {
		return nil
	}
	broadcast := make(net.IP, net.IPv4len)
	for i := range ip4 {
		broadcast[i] = ip4[i] | ^mask[i]
	}
	return broadcast
}

// GetLocalIPv4s はローカルマシンの非ループバックIPv4アドレスのリストを取得します
func GetLocalIPv4s() ([]net.IP, error) {
	localIPs := []net.IP{}
	ifaces, err := net.Interfaces()
	if err != nil {
		return nil, fmt.Errorf("failed to get interfaces: %w", err)
	}
	for _, i := range ifaces {
		if (i.Flags&net.FlagUp == 0) || (i.Flags&net.FlagLoopback != 0) {
			continue
		}
		addrs, err := i.Addrs()
		if err != nil {
			slog.Warn("インターフェースのアドレス取得に失敗", "interface", i.Name, "err", err)
			continue
		}
		for _, addr := range addrs {
			var ip net.IP
			switch v := addr.(type) {
			case *net.IPNet:
				ip = v.IP
			case *net.IPAddr:
				ip = v.IP
			}
			if ip != nil && ip.To4() != nil {
				localIPs = append(localIPs, ip)
			}
		}
	}
	return localIPs, nil
}

// GetInterfaceIPv4 は名前のインターフェースの最初の IPv4 アドレスとネットワークを返す
func GetInterfaceIPv4(name string) (*net.IPNet, error) {
	iface, err := net.InterfaceByName(name)
	if err != nil {
		return nil, fmt.Errorf("interface %q: %w", name, err)
	}
	addrs, err := iface.Addrs()
	if err != nil {
		return nil, fmt.Errorf("interface %q addresses: %w", name, err)
	}
	for _, addr := range addrs {
		if ipnet, ok := addr.(*net.IPNet); ok && ipnet.IP.To4() != nil {
			return ipnet, nil
		}
	}
	return nil, fmt.Errorf("interface %q has no IPv4 address", name)
}

// ErrAddressNotFound は指定の IPv4 アドレスを持つインターフェースがないことを示す
var ErrAddressNotFound = errors.New("no interface has the address")

// LookupIPv4 は ip を持つインターフェースとそのネットワークを返す
func LookupIPv4(ip net.IP) (*net.Interface, *net.IPNet, error) {
	ip4 := ip.To4()
	if ip4 == nil {
		return nil, nil, fmt.Errorf("lookup %s: %w", ip, ErrIPv6NotSupported)
	}
	ifaces, err := net.Interfaces()
	if err != nil {
		return nil, nil, fmt.Errorf("list interfaces: %w", err)
	}
	for i := range ifaces {
		addrs, err := ifaces[i].Addrs()
		if err != nil {
			continue
		}
		for _, addr := range addrs {
			if ipnet, ok := addr.(*net.IPNet); ok && ipnet.IP.Equal(ip4) {
				return &ifaces[i], ipnet, nil
			}
		}
	}
	return nil, nil, fmt.Errorf("lookup %s: %w", ip, ErrAddressNotFound)
}
