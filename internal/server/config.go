package server

import (
	"github.com/raysh454/probekit/internal/logging"
	"github.com/raysh454/probekit/internal/model"
)

type Config struct {
	// ListenAddr is the progress server address, e.g. "127.0.0.1:8089".
	ListenAddr string
	// Snapshot returns the report for the outcomes recorded so far.
	Snapshot func() model.Report
	// Buffer is the per-subscriber queue length. Zero means 256.
	Buffer int
	Logger logging.Logger
}
