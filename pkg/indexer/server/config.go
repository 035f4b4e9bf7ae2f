package server

import (
	"errors"
	"net"
	"time"

	"github.com/plenariolabs/plenario/pkg/indexer"
)

type Config struct {
	HTTPListener      net.Listener
	ReadHeaderTimeout time.Duration
	ShutdownTimeout   time.Duration
	IndexerConfig     indexer.Config
}

func (cfg *Config) Validate() error {
	if cfg.HTTPListener == nil {
		return errors.New("http listener is required")
	}
	if err := cfg.IndexerConfig.Validate(); err != nil {
		return err
	}
	return nil
}
