package discovery

import (
	"context"
	"errors"
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/enbility/zeroconf/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRegistration struct {
	mu       sync.Mutex
	text     []string
	shutdown bool
}

func (f *fakeRegistration) SetText(text []string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.text = text
}

func (f *fakeRegistration) Shutdown() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.shutdown = true
}

type registerCall struct {
	instance, service, domain string
	port                      int
	text                      []string
}

func stubRegister(t *testing.T, err error) (*[]registerCall, *fakeRegistration) {
	t.Helper()

	reg := &fakeRegistration{}
	var calls []registerCall

	orig := registerFunc
	registerFunc = func(instance, service, domain string, port int, text []string,
		ifaces []net.Interface, opts ...zeroconf.ServerOption) (registration, error) {
		calls = append(calls, registerCall{instance, service, domain, port, text})
		if err != nil {
			return nil, err
		}
		return reg, nil
	}
	t.Cleanup(func() { registerFunc = orig })

	return &calls, reg
}

func stubBrowse(t *testing.T, feed func(entries, removed chan *zeroconf.ServiceEntry)) {
	t.Helper()

	orig := browseFunc
	browseFunc = func(ctx context.Context, service, domain string,
		entries, removed chan *zeroconf.ServiceEntry, opts ...zeroconf.ClientOption) error {
		assert.Equal(t, ServiceType, service)
		assert.Equal(t, Domain, domain)
		feed(entries, removed)
		<-ctx.Done()
		return nil
	}
	t.Cleanup(func() { browseFunc = orig })
}

func newEntry(instance, host string, port int, addrs ...string) *zeroconf.ServiceEntry {
	e := &zeroconf.ServiceEntry{ServiceRecord: zeroconf.ServiceRecord{
		Instance: instance, Service: ServiceType, Domain: Domain,
	}}
	e.HostName = host
	e.Port = port
	for _, a := range addrs {
		ip := net.ParseIP(a)
		if ip.To4() != nil {
			e.AddrIPv4 = append(e.AddrIPv4, ip)
		} else {
			e.AddrIPv6 = append(e.AddrIPv6, ip)
		}
	}
	return e
}

func TestAdvertiserStartStop(t *testing.T) {
	calls, reg := stubRegister(t, nil)

	adv := NewAdvertiser(AdvertiserConfig{Instance: "iiod on bench", TTL: time.Minute})
	require.NoError(t, adv.Start())
	assert.ErrorIs(t, adv.Start(), ErrAlreadyStarted)

	require.Len(t, *calls, 1)
	c := (*calls)[0]
	assert.Equal(t, "iiod on bench", c.instance)
	assert.Equal(t, ServiceType, c.service)
	assert.Equal(t, Domain, c.domain)
	assert.Equal(t, DefaultPort, c.port)
	assert.Empty(t, c.text)

	require.NoError(t, adv.UpdateTXT(TXTRecordMap{TXTKeyVersion: "0.26", TXTKeyBackend: "sim"}))
	assert.Equal(t, []string{"backend=sim", "version=0.26"}, reg.text)

	adv.Stop()
	assert.True(t, reg.shutdown)
	adv.Stop()

	assert.ErrorIs(t, adv.UpdateTXT(nil), ErrNotFound)
}

func TestAdvertiserDefaultInstanceName(t *testing.T) {
	calls, _ := stubRegister(t, nil)

	adv := NewAdvertiser(DefaultAdvertiserConfig())
	require.NoError(t, adv.Start())
	defer adv.Stop()

	name := (*calls)[0].instance
	assert.True(t, strings.HasPrefix(name, "iiod on "), name)
	assert.LessOrEqual(t, len(name), MaxInstanceNameLen)
}

func TestAdvertiserRegisterError(t *testing.T) {
	boom := errors.New("no multicast")
	stubRegister(t, boom)

	adv := NewAdvertiser(DefaultAdvertiserConfig())
	err := adv.Start()
	assert.ErrorIs(t, err, boom)

	// A failed start leaves the advertiser restartable
	stubRegister(t, nil)
	assert.NoError(t, adv.Start())
}

func TestAdvertiserRejectsOversizedTXT(t *testing.T) {
	stubRegister(t, nil)

	adv := NewAdvertiser(AdvertiserConfig{TXT: TXTRecordMap{"k": strings.Repeat("x", 300)}})
	assert.ErrorIs(t, adv.Start(), ErrInvalidTXTRecord)
}

func TestBrowseAggregatesInstances(t *testing.T) {
	stubBrowse(t, func(entries, removed chan *zeroconf.ServiceEntry) {
		entries <- newEntry("iiod on a", "a.local.", 30431, "192.168.1.10")
		entries <- newEntry("iiod on a", "a.local.", 30431, "fe80::1")
		entries <- newEntry("iiod on b", "b.local.", 30432, "fe80::2")
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	results, err := NewBrowser(DefaultBrowserConfig()).Browse(ctx)
	require.NoError(t, err)

	first := <-results
	second := <-results
	assert.Equal(t, "iiod on a", first.Instance)
	assert.Equal(t, []string{"192.168.1.10"}, first.Addresses)
	assert.Equal(t, "iiod on b", second.Instance)
	assert.Equal(t, uint16(30432), second.Port)

	cancel()
	for range results {
	}
}

func TestBrowseForgetsRemovedInstance(t *testing.T) {
	stubBrowse(t, func(entries, removed chan *zeroconf.ServiceEntry) {
		entries <- newEntry("iiod on a", "a.local.", 30431, "10.0.0.1")
		removed <- newEntry("iiod on a", "a.local.", 30431, "10.0.0.1")
		entries <- newEntry("iiod on a", "a.local.", 30431, "10.0.0.2")
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	results, err := NewBrowser(DefaultBrowserConfig()).Browse(ctx)
	require.NoError(t, err)

	assert.Equal(t, []string{"10.0.0.1"}, (<-results).Addresses)
	assert.Equal(t, []string{"10.0.0.2"}, (<-results).Addresses)
}

func TestFindFirst(t *testing.T) {
	stubBrowse(t, func(entries, removed chan *zeroconf.ServiceEntry) {
		entries <- newEntry("iiod on a", "a.local.", 30431, "fe80::5", "10.1.2.3")
	})

	svc, err := NewBrowser(DefaultBrowserConfig()).FindFirst(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "10.1.2.3:30431", svc.Address())
}

func TestFindFirstTimeout(t *testing.T) {
	stubBrowse(t, func(entries, removed chan *zeroconf.ServiceEntry) {})

	b := NewBrowser(BrowserConfig{BrowseTimeout: 20 * time.Millisecond})
	_, err := b.FindFirst(context.Background())
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestServiceAddress(t *testing.T) {
	tests := []struct {
		name string
		svc  Service
		want string
	}{
		{"ipv4", Service{Port: 30431, Addresses: []string{"10.0.0.1"}}, "10.0.0.1:30431"},
		{"ipv6 only", Service{Port: 30431, Addresses: []string{"fe80::1"}}, "[fe80::1]:30431"},
		{"prefers ipv4", Service{Port: 1, Addresses: []string{"fe80::1", "10.0.0.1"}}, "10.0.0.1:1"},
		{"host fallback", Service{Host: "pluto.local.", Port: 30431}, "pluto.local.:30431"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.svc.Address())
		})
	}
}

func TestServiceVersion(t *testing.T) {
	svc := Service{TXT: TXTRecordMap{TXTKeyVersion: "0.26"}}
	v, ok := svc.Version()
	require.True(t, ok)
	assert.Equal(t, uint16(0), v.Major)
	assert.Equal(t, uint16(26), v.Minor)

	svc.TXT[TXTKeyVersion] = "latest"
	_, ok = svc.Version()
	assert.False(t, ok)

	_, ok = (&Service{}).Version()
	assert.False(t, ok)
}

func TestTXTRecords(t *testing.T) {
	txt := StringsToTXTRecords([]string{"version=0.26", "flag", "", "k=a=b"})
	assert.Equal(t, TXTRecordMap{"version": "0.26", "flag": "", "k": "a=b"}, txt)
	assert.Equal(t, []string{"flag=", "k=a=b", "version=0.26"}, TXTRecordsToStrings(txt))

	assert.NoError(t, ValidateTXT(txt))
	assert.ErrorIs(t, ValidateTXT(TXTRecordMap{"": "x"}), ErrInvalidTXTRecord)

	assert.Error(t, ValidateInstanceName(""))
	assert.ErrorIs(t, ValidateInstanceName(strings.Repeat("n", 64)), ErrInstanceNameTooLong)
}
