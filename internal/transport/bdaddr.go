package transport

import "fmt"

// formatBDAddr renders a kernel-order (little-endian) Bluetooth address as
// the conventional colon separated, most significant byte first string.
func formatBDAddr(addr [6]uint8) string {
	return fmt.Sprintf("%02X:%02X:%02X:%02X:%02X:%02X",
		addr[5], addr[4], addr[3], addr[2], addr[1], addr[0])
}
