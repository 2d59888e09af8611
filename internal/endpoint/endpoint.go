// Package endpoint describes the origin of a received message.
package endpoint

import (
	"fmt"
	"net"
	"strconv"
)

// Protocol is the transport protocol a message arrived on.
type Protocol uint8

const (
	ProtocolUnknown Protocol = iota
	ProtocolTCP
	ProtocolUDP
)

func (p Protocol) String() string {
	switch p {
	case ProtocolTCP:
		return "tcp"
	case ProtocolUDP:
		return "udp"
	default:
		return "unknown"
	}
}

// ParseProtocol maps a config or flag value onto a Protocol.
func ParseProtocol(raw string) (Protocol, error) {
	switch raw {
	case "tcp", "TCP":
		return ProtocolTCP, nil
	case "udp", "UDP":
		return ProtocolUDP, nil
	default:
		return ProtocolUnknown, fmt.Errorf("endpoint: unknown protocol %q", raw)
	}
}

// IPVersion is the IP family of the remote address.
type IPVersion uint8

const (
	IPvUnknown IPVersion = 0
	IPv4       IPVersion = 4
	IPv6       IPVersion = 6
)

func (v IPVersion) String() string {
	switch v {
	case IPv4:
		return "v4"
	case IPv6:
		return "v6"
	default:
		return "unknown"
	}
}

// VersionOf reports the IP family of ip.
func VersionOf(ip net.IP) IPVersion {
	if ip == nil {
		return IPvUnknown
	}
	if ip.To4() != nil {
		return IPv4
	}
	return IPv6
}

// Endpoint is the remote side of a transport as seen by the receiver.
type Endpoint struct {
	Address  string
	Port     uint16
	Protocol Protocol
	Version  IPVersion
}

// New builds an Endpoint from its parts.
func New(address string, port uint16, protocol Protocol, version IPVersion) *Endpoint {
	return &Endpoint{
		Address:  address,
		Port:     port,
		Protocol: protocol,
		Version:  version,
	}
}

// FromAddr derives an Endpoint from a net.Addr reported by a socket.
func FromAddr(addr net.Addr) *Endpoint {
	switch a := addr.(type) {
	case *net.TCPAddr:
		return New(a.IP.String(), uint16(a.Port), ProtocolTCP, VersionOf(a.IP))
	case *net.UDPAddr:
		return New(a.IP.String(), uint16(a.Port), ProtocolUDP, VersionOf(a.IP))
	default:
		return &Endpoint{}
	}
}

// HostPort renders the endpoint as host:port.
func (e *Endpoint) HostPort() string {
	if e == nil {
		return ""
	}
	return net.JoinHostPort(e.Address, strconv.Itoa(int(e.Port)))
}

func (e *Endpoint) String() string {
	if e == nil {
		return "<nil>"
	}
	return e.Protocol.String() + "://" + e.HostPort()
}
