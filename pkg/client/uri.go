package client

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"strings"

	"github.com/iio-remote/iiod-go/pkg/discovery"
	"github.com/iio-remote/iiod-go/pkg/transport"
	"github.com/iio-remote/iiod-go/pkg/version"
	"github.com/iio-remote/iiod-go/pkg/wire"
)

// DefaultPort is the iiod TCP port.
const DefaultPort = discovery.DefaultPort

// Scheme is the transport part of a URI.
type Scheme string

const (
	SchemeIP     Scheme = "ip"
	SchemeSerial Scheme = "serial"
)

// URI is a parsed iiod address.
type URI struct {
	Scheme Scheme

	// Host is empty when the daemon is to be found over DNS-SD.
	Host string
	Port int

	Serial transport.SerialConfig
}

// Address returns the "host:port" of an ip URI.
func (u URI) Address() string {
	return net.JoinHostPort(u.Host, strconv.Itoa(u.Port))
}

// String formats u back into URI form.
func (u URI) String() string {
	switch u.Scheme {
	case SchemeSerial:
		return "serial:" + u.Serial.String()
	default:
		if u.Host == "" {
			return "ip:"
		}
		return "ip:" + u.Address()
	}
}

// ParseURI parses "ip:[host[:port]]", "ip:[v6addr]:port", "ip:v6addr"
// and "serial:port[,baud[,8n1]]".
func ParseURI(uri string) (URI, error) {
	scheme, rest, found := strings.Cut(uri, ":")
	if !found {
		return URI{}, fmt.Errorf("%w: missing scheme in %q", wire.EINVAL, uri)
	}

	switch Scheme(scheme) {
	case SchemeIP:
		host, port, err := parseHostPort(rest)
		if err != nil {
			return URI{}, fmt.Errorf("%w: %q: %w", wire.EINVAL, uri, err)
		}
		return URI{Scheme: SchemeIP, Host: host, Port: port}, nil

	case SchemeSerial:
		cfg, err := transport.ParseSerialConfig(rest)
		if err != nil {
			return URI{}, fmt.Errorf("%w: %q: %w", wire.EINVAL, uri, err)
		}
		return URI{Scheme: SchemeSerial, Serial: cfg}, nil
	}

	return URI{}, fmt.Errorf("%w: unsupported scheme %q", wire.ENOSYS, scheme)
}

func parseHostPort(s string) (string, int, error) {
	if s == "" {
		return "", DefaultPort, nil
	}

	host, portStr := s, ""
	switch {
	case strings.HasPrefix(s, "["):
		end := strings.IndexByte(s, ']')
		if end < 0 {
			return "", 0, fmt.Errorf("unterminated '['")
		}
		host = s[1:end]
		tail := s[end+1:]
		if tail != "" {
			if tail[0] != ':' {
				return "", 0, fmt.Errorf("garbage after ']'")
			}
			portStr = tail[1:]
		}
	case strings.Count(s, ":") == 1:
		host, portStr, _ = strings.Cut(s, ":")
	}
	// more than one colon without brackets is a bare IPv6 address

	port := DefaultPort
	if portStr != "" {
		p, err := strconv.ParseUint(portStr, 10, 16)
		if err != nil || p == 0 {
			return "", 0, fmt.Errorf("bad port %q", portStr)
		}
		port = int(p)
	}
	if host == "" {
		return "", 0, fmt.Errorf("empty host")
	}
	return host, port, nil
}

// Dial connects to the daemon named by uri. An ip URI without a host
// browses for the first iiod announced over DNS-SD.
func Dial(ctx context.Context, uri string, config Config) (*Client, error) {
	u, err := ParseURI(uri)
	if err != nil {
		return nil, err
	}
	return DialURI(ctx, u, config)
}

// DialURI is Dial for a parsed URI.
func DialURI(ctx context.Context, u URI, config Config) (*Client, error) {
	var stream *transport.Stream

	switch u.Scheme {
	case SchemeSerial:
		var err error
		if stream, err = transport.OpenSerial(u.Serial); err != nil {
			return nil, err
		}

	default:
		addr := ""
		if u.Host == "" {
			svc, err := discovery.NewBrowser(discovery.BrowserConfig{Logger: config.Logger}).FindFirst(ctx)
			if err != nil {
				return nil, fmt.Errorf("%w: %w", wire.ENXIO, err)
			}
			addr = svc.Address()
			if config.Logger != nil {
				v, ok := svc.Version()
				if ok && !v.Compatible(version.Current) {
					config.Logger.Warn("client: discovered iiod has a different major version", "instance", svc.Instance, "version", v.String())
				}
				config.Logger.Info("client: using discovered iiod", "instance", svc.Instance, "address", addr)
			}
		} else {
			addr = u.Address()
		}

		dconfig := transport.DefaultDialConfig()
		dconfig.Logger = config.ProtocolLogger
		if config.Timeout > 0 {
			dconfig.ConnectTimeout = config.Timeout
		}

		var err error
		if stream, err = transport.Dial(ctx, addr, dconfig); err != nil {
			return nil, err
		}
	}

	return New(stream, config)
}
