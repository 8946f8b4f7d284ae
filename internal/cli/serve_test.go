package cli

import (
	"context"
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"solana-token-sale/internal/config"
)

func TestRunServe_GracefulShutdown(t *testing.T) {
	cfg, err := config.Parse(map[string]string{
		"TOKENSALE_LISTEN_ADDR":    "127.0.0.1:0",
		"TOKENSALE_FAUCET_ENABLED": "true",
	})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	addrCh := make(chan net.Addr, 1)
	done := make(chan error, 1)
	go func() {
		done <- runServe(ctx, cfg, zaptest.NewLogger(t), func(a net.Addr) { addrCh <- a })
	}()

	var addr net.Addr
	select {
	case addr = <-addrCh:
	case err := <-done:
		t.Fatalf("serve exited early: %v", err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not start")
	}

	resp, err := http.Get("http://" + addr.String() + "/health")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not shut down")
	}
}

func TestRunServe_ListenError(t *testing.T) {
	cfg, err := config.Parse(map[string]string{"TOKENSALE_LISTEN_ADDR": "256.0.0.1:bad"})
	require.NoError(t, err)

	err = runServe(context.Background(), cfg, zaptest.NewLogger(t), nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "listen")
}
