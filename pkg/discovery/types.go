package discovery

import (
	"errors"
	"net"
	"strconv"
	"time"

	"github.com/iio-remote/iiod-go/pkg/version"
)

const (
	// ServiceType is the DNS-SD service type of iiod.
	ServiceType = "_iio._tcp"

	// Domain is the mDNS domain.
	Domain = "local"

	// DefaultPort is the iiod TCP port.
	DefaultPort = 30431

	// BrowseTimeout bounds FindFirst when the context has no deadline.
	BrowseTimeout = 5 * time.Second

	// MaxInstanceNameLen is the DNS label limit.
	MaxInstanceNameLen = 63
)

var (
	ErrNotFound            = errors.New("no iiod service found")
	ErrAlreadyStarted      = errors.New("advertiser already started")
	ErrInstanceNameTooLong = errors.New("instance name exceeds 63 characters")
	ErrInvalidTXTRecord    = errors.New("invalid TXT record format")
)

// Service is one discovered iiod instance.
type Service struct {
	Instance  string
	Host      string
	Port      uint16
	Addresses []string
	TXT       TXTRecordMap
}

// Address returns a dialable "host:port" string. IPv4 addresses are
// preferred over IPv6 ones; the host name is used when no address was
// resolved.
func (s *Service) Address() string {
	port := strconv.Itoa(int(s.Port))

	var v6 string
	for _, a := range s.Addresses {
		ip := net.ParseIP(a)
		if ip == nil {
			continue
		}
		if ip.To4() != nil {
			return net.JoinHostPort(a, port)
		}
		if v6 == "" {
			v6 = a
		}
	}
	if v6 != "" {
		return net.JoinHostPort(v6, port)
	}
	return net.JoinHostPort(s.Host, port)
}

// Version returns the daemon version announced in the TXT record.
func (s *Service) Version() (version.Version, bool) {
	raw, ok := s.TXT[TXTKeyVersion]
	if !ok {
		return version.Version{}, false
	}
	v, err := version.Parse(raw)
	if err != nil {
		return version.Version{}, false
	}
	return v, true
}
