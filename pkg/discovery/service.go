package discovery

import (
	"context"
	"net"
	"strconv"
)

const (
	DefaultServiceType = "_lanrtc._tcp"
	DefaultDomain      = "local"

	// txtKeyID carries the receiver's service ID in the TXT record.
	txtKeyID = "id"
)

type ServiceInfo struct {
	Name   string // hostname or instance name
	Type   string // service name, e.g., "_lanrtc._tcp"
	Domain string // domain, e.g., "local"
	ID     string // receiver service ID, sent back by senders in signaling requests
	Addr   net.IP
	Port   int
}

// Address returns the host:port of the signaling endpoint.
func (s ServiceInfo) Address() string {
	return net.JoinHostPort(s.Addr.String(), strconv.Itoa(s.Port))
}

// DiscoveryResult contains either a snapshot of the services seen so far or an error.
type DiscoveryResult struct {
	Services []ServiceInfo
	Error    error
}

type Adapter interface {
	Announce(ctx context.Context, service ServiceInfo) error
	Discover(ctx context.Context, service string) <-chan DiscoveryResult
}

// LookupName returns the fully qualified name browsed for a service type.
func LookupName(serviceType, domain string) string {
	if serviceType == "" {
		serviceType = DefaultServiceType
	}
	if domain == "" {
		domain = DefaultDomain
	}
	return serviceType + "." + domain + "."
}
