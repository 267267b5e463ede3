package registry

import (
	"fmt"
	"net"
	"strconv"
)

// ValidateAddress checks that address is a usable host:port node address
func ValidateAddress(address string) error {
	host, port, err := net.SplitHostPort(address)
	if err != nil {
		return fmt.Errorf("%w: %q: %w", ErrInvalidAddress, address, err)
	}
	if host == "" {
		return fmt.Errorf("%w: %q: missing host", ErrInvalidAddress, address)
	}
	n, err := strconv.Atoi(port)
	if err != nil || n < 1 || n > 65535 {
		return fmt.Errorf("%w: %q: bad port", ErrInvalidAddress, address)
	}
	return nil
}
