// MAC 地址

package nero

import (
	"fmt"
	"net"
	"strings"
)

// interfaceWeight 为网卡打分：物理网卡、已启用、有 IPv4 地址的网卡优先
func interfaceWeight(iface net.Interface) int {
	weight := 0
	if !strings.Contains(iface.Name, "vmnet") && !strings.Contains(iface.Name, "vboxnet") {
		weight += 10
	}
	if iface.Flags&net.FlagUp != 0 {
		weight += 10
	}

	addrs, err := iface.Addrs()
	if err != nil {
		return weight
	}
	for _, addr := range addrs {
		if ipNet, ok := addr.(*net.IPNet); ok && !ipNet.IP.IsLoopback() && ipNet.IP.To4() != nil {
			return weight + 10
		}
	}
	return weight
}

// primaryMACAddress 返回主要网卡的 MAC 地址（去掉分隔符），用作默认的实例ID
func primaryMACAddress() (string, error) {
	interfaces, err := net.Interfaces()
	if err != nil {
		return "", err
	}

	best, bestWeight := "", 0
	for _, iface := range interfaces {
		if iface.HardwareAddr == nil || iface.Flags&net.FlagLoopback != 0 {
			continue
		}
		if weight := interfaceWeight(iface); weight > bestWeight {
			best, bestWeight = iface.HardwareAddr.String(), weight
		}
	}

	if best == "" {
		return "", fmt.Errorf("未找到 MAC 地址")
	}
	return strings.ReplaceAll(best, ":", ""), nil
}
