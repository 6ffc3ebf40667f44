package presence

import (
	"context"
	"errors"
	"strings"

	"go.uber.org/zap"

	"github.com/mikey-austin/presenced/pkg/presence"
)

// Config configures the presence module.
type Config struct {
	TopicBase string
}

// Module runs the presence service on a broker connection.
type Module struct {
	log     *zap.Logger
	service *Service
}

// NewModule initializes the presence module with an empty, closed state.
func NewModule(log *zap.Logger, transport Transport, cfg Config) (*Module, error) {
	if transport == nil {
		return nil, errors.New("presence module requires an mqtt client")
	}
	if strings.TrimSpace(cfg.TopicBase) == "" {
		cfg.TopicBase = presence.BaseTopic
	}
	if log == nil {
		log = zap.NewNop()
	}

	service := NewService(log, transport, presence.Topics(cfg.TopicBase), presence.NewState())
	return &Module{log: log, service: service}, nil
}

// Run subscribes and processes messages until ctx is done. A publish or
// transport failure ends the module with an error.
func (m *Module) Run(ctx context.Context) error {
	if err := m.service.Start(); err != nil {
		return err
	}
	defer m.service.Stop()

	return m.service.Run(ctx)
}
