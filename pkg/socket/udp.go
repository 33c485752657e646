package socket

import (
	"context"
	"net"
)

// UDPSocket wraps a net.UDPConn as a DatagramSocket, used by the broadcast
// discovery protocol (pkg/discovery).
type UDPSocket struct {
	conn *net.UDPConn
}

// ListenUDP binds addr ("" host means all interfaces) for both receiving
// and, via WriteTo, sending.
func ListenUDP(addr string) (*UDPSocket, error) {
	udpAddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return nil, err
	}
	conn, err := net.ListenUDP("udp", udpAddr)
	if err != nil {
		return nil, err
	}
	return &UDPSocket{conn: conn}, nil
}

// ReadFrom implements DatagramSocket.
func (s *UDPSocket) ReadFrom(ctx context.Context) ([]byte, string, error) {
	type result struct {
		data []byte
		from string
		err  error
	}
	done := make(chan result, 1)
	go func() {
		buf := make([]byte, 64*1024)
		n, addr, err := s.conn.ReadFromUDP(buf)
		done <- result{data: buf[:n], from: addrString(addr), err: err}
	}()
	select {
	case r := <-done:
		return r.data, r.from, r.err
	case <-ctx.Done():
		return nil, "", ctx.Err()
	}
}

func addrString(addr *net.UDPAddr) string {
	if addr == nil {
		return ""
	}
	return addr.String()
}

// WriteTo implements DatagramSocket.
func (s *UDPSocket) WriteTo(ctx context.Context, b []byte, addr string) error {
	udpAddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return err
	}
	done := make(chan error, 1)
	go func() {
		_, err := s.conn.WriteToUDP(b, udpAddr)
		done <- err
	}()
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// LocalPort reports the bound UDP port, for the Ping message's
// listening_tcp_port-style self-advertisement (spec.md §4.7 uses a TCP
// port there; the UDP socket's own port is used for the Beacon/Ping
// exchange itself).
func (s *UDPSocket) LocalPort() int {
	return s.conn.LocalAddr().(*net.UDPAddr).Port
}

// Close implements DatagramSocket.
func (s *UDPSocket) Close() error { return s.conn.Close() }
