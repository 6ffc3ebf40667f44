package metrics

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Config configures the metrics endpoint.
type Config struct {
	Listen string
	Path   string
}

// Module serves prometheus metrics over HTTP.
type Module struct {
	log    *zap.Logger
	config Config
	server *http.Server
}

// NewModule creates the metrics module.
func NewModule(log *zap.Logger, cfg Config) (*Module, error) {
	if strings.TrimSpace(cfg.Listen) == "" {
		return nil, errors.New("metrics listen address required")
	}
	if cfg.Path == "" {
		cfg.Path = "/metrics"
	}
	if log == nil {
		log = zap.NewNop()
	}

	mux := http.NewServeMux()
	mux.Handle(cfg.Path, promhttp.Handler())
	return &Module{
		log:    log,
		config: cfg,
		server: &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second},
	}, nil
}

// Run serves until ctx is done.
func (m *Module) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", m.config.Listen)
	if err != nil {
		return err
	}
	return m.serve(ctx, ln)
}

func (m *Module) serve(ctx context.Context, ln net.Listener) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- m.server.Serve(ln)
	}()
	m.log.Info("metrics listening", zap.String("addr", ln.Addr().String()), zap.String("path", m.config.Path))

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	return m.server.Shutdown(shutdownCtx)
}
