package config

import "time"

// Default configuration constants for the daemon and its exporters
const (
	DefaultListen          = ":8080"
	DefaultServiceName     = "procmeterd"
	DefaultShutdownTimeout = 10 * time.Second
	DefaultExportInterval  = 15 * time.Second
	DefaultSampleRate      = 1.0
	MinExportInterval      = 100 * time.Millisecond
)
