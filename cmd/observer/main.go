package main

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"os/signal"
	"syscall"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/nimbuschat/realtime/internal/config"
)

// cmd/observer is a standalone diagnostic client: it dials the server's
// /internal/observer websocket and logs each snapshot it receives. It
// carries no state of its own and never writes to the hot path — it
// mirrors the role the teacher's worker binary plays as a second process,
// here repurposed from job execution to read-only observability.
func main() {
	logger, _ := zap.NewDevelopment()
	defer logger.Sync()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("failed to load configuration", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	header := http.Header{}
	if cfg.Observer.BearerToken != "" {
		dialURL, err := url.Parse(cfg.Observer.DialURL)
		if err != nil {
			logger.Fatal("invalid observer dial url", zap.Error(err))
		}
		q := dialURL.Query()
		q.Set("token", cfg.Observer.BearerToken)
		dialURL.RawQuery = q.Encode()
		cfg.Observer.DialURL = dialURL.String()
	}

	logger.Info("dialing observer stream", zap.String("url", cfg.Observer.DialURL))

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, cfg.Observer.DialURL, header)
	if err != nil {
		logger.Fatal("failed to dial observer stream", zap.Error(err))
	}
	defer conn.Close()

	go func() {
		<-ctx.Done()
		conn.Close()
	}()

	for {
		var raw json.RawMessage
		if err := conn.ReadJSON(&raw); err != nil {
			if ctx.Err() != nil {
				logger.Info("observer client stopped")
				return
			}
			logger.Error("observer stream read failed", zap.Error(err))
			return
		}
		logger.Info("snapshot", zap.ByteString("payload", raw))
	}
}
