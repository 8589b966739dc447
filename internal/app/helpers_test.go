package app

import (
	"net"
	"strconv"
)

func splitPort(addr string) (string, int, error) {
	host, raw, err := net.SplitHostPort(addr)
	if err != nil {
		return "", 0, err
	}
	port, err := strconv.Atoi(raw)
	return host, port, err
}
