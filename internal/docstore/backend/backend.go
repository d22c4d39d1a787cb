// Package backend opens the document collection selected by configuration.
package backend

import (
	"context"
	"fmt"
	"strings"

	"github.com/danghamo/docidentity/internal/docstore"
	"github.com/danghamo/docidentity/internal/docstore/badgerdoc"
	"github.com/danghamo/docidentity/internal/docstore/memdoc"
	"github.com/danghamo/docidentity/internal/docstore/redisdoc"
	"github.com/danghamo/docidentity/pkg/config"
	"github.com/danghamo/docidentity/pkg/logger"
	"github.com/danghamo/docidentity/pkg/redisx"
)

// Handle is an opened collection together with whatever owns its connection.
type Handle struct {
	Client docstore.Client
	// Redis is set for the redis backend so the event bus can share the connection.
	Redis *redisx.Client
}

// Close releases the collection and the underlying connection.
func (h *Handle) Close() error {
	err := h.Client.Close()
	if h.Redis != nil {
		if rerr := h.Redis.Close(); err == nil {
			err = rerr
		}
	}
	return err
}

// Open builds the docstore.Client named by cfg.Store.Backend.
func Open(ctx context.Context, cfg *config.Config, log *logger.Logger) (*Handle, error) {
	if log == nil {
		log = logger.GetGlobalLogger()
	}

	switch strings.ToLower(cfg.Store.Backend) {
	case "redis":
		rdb, err := redisx.NewClientFromConfig(&cfg.Redis, log)
		if err != nil {
			return nil, err
		}
		client, err := redisdoc.New(ctx, rdb, cfg.Store.Collection)
		if err != nil {
			_ = rdb.Close()
			return nil, err
		}
		return &Handle{Client: client, Redis: rdb}, nil

	case "badger":
		client, err := badgerdoc.Open(badgerdoc.Config{Dir: cfg.Badger.Dir, InMemory: cfg.Badger.InMemory}, log)
		if err != nil {
			return nil, err
		}
		return &Handle{Client: client}, nil

	case "memory":
		client, err := memdoc.New(log)
		if err != nil {
			return nil, err
		}
		return &Handle{Client: client}, nil

	default:
		return nil, fmt.Errorf("unknown store backend: %s", cfg.Store.Backend)
	}
}
