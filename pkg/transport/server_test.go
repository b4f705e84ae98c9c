package transport

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iio-remote/iiod-go/pkg/log"
)

func startEchoServer(t *testing.T, logger log.Logger) *Server {
	t.Helper()

	config := DefaultServerConfig()
	config.Address = "127.0.0.1:0"
	config.Logger = logger
	config.OnConnect = func(ctx context.Context, s *Stream) {
		for {
			line, err := s.ReadLine()
			if err != nil {
				return
			}
			if err := s.Printf("%s\n", line); err != nil {
				return
			}
		}
	}

	server, err := NewServer(config)
	require.NoError(t, err)
	require.NoError(t, server.Start(context.Background()))
	t.Cleanup(func() { _ = server.Stop() })
	return server
}

func TestNewServerRequiresHandler(t *testing.T) {
	_, err := NewServer(ServerConfig{})
	assert.ErrorIs(t, err, ErrNoHandler)
}

func TestServerEcho(t *testing.T) {
	server := startEchoServer(t, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	client, err := Dial(ctx, server.Addr().String(), DefaultDialConfig())
	require.NoError(t, err)
	defer client.Close()

	require.NoError(t, client.Printf("VERSION\r\n"))
	line, err := client.ReadLine()
	require.NoError(t, err)
	assert.Equal(t, "VERSION", line)

	assert.Eventually(t, func() bool { return server.ConnectionCount() == 1 },
		time.Second, 10*time.Millisecond)
}

func TestServerStopClosesConnections(t *testing.T) {
	server := startEchoServer(t, nil)

	ctx := context.Background()
	client, err := Dial(ctx, server.Addr().String(), DefaultDialConfig())
	require.NoError(t, err)
	defer client.Close()

	require.Eventually(t, func() bool { return server.ConnectionCount() == 1 },
		time.Second, 10*time.Millisecond)

	require.NoError(t, server.Stop())
	assert.Equal(t, 0, server.ConnectionCount())

	_, err = client.ReadLine()
	assert.Error(t, err)

	// Stopping twice is harmless.
	assert.NoError(t, server.Stop())
}

func TestServerDoubleStart(t *testing.T) {
	server := startEchoServer(t, nil)
	assert.ErrorIs(t, server.Start(context.Background()), ErrServerRunning)
}

func TestServerLogsConnectionState(t *testing.T) {
	rec := &captureLogger{}
	server := startEchoServer(t, rec)

	client, err := Dial(context.Background(), server.Addr().String(), DefaultDialConfig())
	require.NoError(t, err)
	require.NoError(t, client.Printf("X\n"))
	_, err = client.ReadLine()
	require.NoError(t, err)
	client.Close()

	states := func() []string {
		var out []string
		for _, ev := range rec.snapshot() {
			if ev.StateChange != nil {
				out = append(out, ev.StateChange.NewState)
			}
		}
		return out
	}
	require.Eventually(t, func() bool { return len(states()) == 2 },
		time.Second, 10*time.Millisecond)
	assert.Equal(t, []string{"CONNECTED", "DISCONNECTED"}, states())
}

func TestDialFailure(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	_, err := Dial(ctx, "127.0.0.1:1", DefaultDialConfig())
	assert.Error(t, err)
}

func TestServerConnectionLimit(t *testing.T) {
	refused := make(chan error, 1)
	config := DefaultServerConfig()
	config.Address = "127.0.0.1:0"
	config.MaxConnections = 1
	config.OnConnect = func(ctx context.Context, s *Stream) { _, _ = s.ReadLine() }
	config.OnError = func(err error) {
		select {
		case refused <- err:
		default:
		}
	}
	server, err := NewServer(config)
	require.NoError(t, err)
	require.NoError(t, server.Start(context.Background()))
	defer server.Stop()

	first, err := Dial(context.Background(), server.Addr().String(), DefaultDialConfig())
	require.NoError(t, err)
	defer first.Close()
	require.Eventually(t, func() bool { return server.ConnectionCount() == 1 },
		time.Second, 10*time.Millisecond)

	second, err := Dial(context.Background(), server.Addr().String(), DefaultDialConfig())
	require.NoError(t, err)
	defer second.Close()

	select {
	case err := <-refused:
		assert.ErrorIs(t, err, ErrTooManyClients)
	case <-time.After(time.Second):
		t.Fatal("second client was not refused")
	}
	_, err = second.ReadLine()
	assert.Error(t, err)
	assert.Equal(t, 1, server.ConnectionCount())
}

func TestServerStopsWithContext(t *testing.T) {
	config := DefaultServerConfig()
	config.Address = "127.0.0.1:0"
	config.OnConnect = func(ctx context.Context, s *Stream) {}
	server, err := NewServer(config)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, server.Start(ctx))
	require.NotNil(t, server.Addr())

	cancel()
	assert.Eventually(t, func() bool { return server.Addr() == nil },
		time.Second, 10*time.Millisecond)
}
