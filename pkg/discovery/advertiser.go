package discovery

import (
	"fmt"
	"log/slog"
	"net"
	"os"
	"sync"
	"time"

	"github.com/enbility/zeroconf/v3"
)

// registration is the part of *zeroconf.Server the advertiser uses.
type registration interface {
	SetText(text []string)
	Shutdown()
}

var registerFunc = func(instance, service, domain string, port int, text []string,
	ifaces []net.Interface, opts ...zeroconf.ServerOption) (registration, error) {
	server, err := zeroconf.Register(instance, service, domain, port, text, ifaces, opts...)
	if err != nil {
		return nil, err
	}
	return server, nil
}

// AdvertiserConfig configures advertiser behavior.
type AdvertiserConfig struct {
	// Interface specifies which network interface to use.
	// Empty string means all interfaces.
	Interface string

	// TTL is the DNS record TTL.
	// Default: 120 seconds.
	TTL time.Duration

	// Instance overrides the "iiod on <hostname>" instance name.
	Instance string

	// Port is the advertised TCP port. Default: DefaultPort.
	Port int

	// TXT records published with the service. iiod publishes none by
	// default.
	TXT TXTRecordMap

	// Logger is optional.
	Logger *slog.Logger
}

// DefaultAdvertiserConfig returns the default advertiser configuration.
func DefaultAdvertiserConfig() AdvertiserConfig {
	return AdvertiserConfig{
		TTL:  120 * time.Second,
		Port: DefaultPort,
	}
}

// Advertiser publishes the iiod service over mDNS.
type Advertiser struct {
	config AdvertiserConfig

	mu     sync.Mutex
	server registration
}

// NewAdvertiser creates an advertiser. Nothing is published until Start.
func NewAdvertiser(config AdvertiserConfig) *Advertiser {
	if config.Port == 0 {
		config.Port = DefaultPort
	}
	return &Advertiser{config: config}
}

// InstanceName returns the instance name the advertiser publishes.
func (a *Advertiser) InstanceName() string {
	if a.config.Instance != "" {
		return a.config.Instance
	}
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "localhost"
	}
	name := "iiod on " + host
	if len(name) > MaxInstanceNameLen {
		name = name[:MaxInstanceNameLen]
	}
	return name
}

// getInterfaces returns the network interfaces to use for advertising.
// Returns nil to use all interfaces.
func (a *Advertiser) getInterfaces() []net.Interface {
	if a.config.Interface == "" {
		return nil
	}

	iface, err := net.InterfaceByName(a.config.Interface)
	if err != nil {
		return nil
	}
	return []net.Interface{*iface}
}

// Start registers the service.
func (a *Advertiser) Start() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.server != nil {
		return ErrAlreadyStarted
	}

	instance := a.InstanceName()
	if err := ValidateInstanceName(instance); err != nil {
		return err
	}
	if err := ValidateTXT(a.config.TXT); err != nil {
		return err
	}

	var opts []zeroconf.ServerOption
	if a.config.TTL > 0 {
		opts = append(opts, zeroconf.TTL(uint32(a.config.TTL.Seconds())))
	}

	server, err := registerFunc(
		instance,
		ServiceType,
		Domain,
		a.config.Port,
		TXTRecordsToStrings(a.config.TXT),
		a.getInterfaces(),
		opts...,
	)
	if err != nil {
		return fmt.Errorf("failed to register %s: %w", ServiceType, err)
	}

	a.server = server
	a.debugLog("advertising", "instance", instance, "port", a.config.Port)
	return nil
}

// UpdateTXT replaces the published TXT records.
func (a *Advertiser) UpdateTXT(txt TXTRecordMap) error {
	if err := ValidateTXT(txt); err != nil {
		return err
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	a.config.TXT = txt
	if a.server == nil {
		return ErrNotFound
	}
	a.server.SetText(TXTRecordsToStrings(txt))
	return nil
}

// Stop withdraws the service. It is a no-op when not started.
func (a *Advertiser) Stop() {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.server != nil {
		a.server.Shutdown()
		a.server = nil
		a.debugLog("advertising stopped")
	}
}

func (a *Advertiser) debugLog(msg string, args ...any) {
	if a.config.Logger != nil {
		a.config.Logger.Debug(msg, args...)
	}
}
