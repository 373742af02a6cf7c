package timesync

import "net"

// refID renders an NTP reference id.  Stratum 1 servers use four ASCII characters naming their
// reference clock ("GPS", "PPS"); everyone else uses the IPv4 address of their upstream.
func refID(ip net.IP) string {
	if v4 := ip.To4(); v4 != nil {
		last := len(v4)
		for i, b := range v4 {
			if b == 0 && i > 0 {
				last = i
				break
			}
			if b < '0' || b > 'z' {
				last = 0
				break
			}
		}
		if last > 0 {
			return string(v4[0:last])
		}
	}
	return ip.String()
}

func intRefID(id uint32) string {
	return refID(net.IPv4(byte(id>>24), byte(id>>16), byte(id>>8), byte(id)))
}
