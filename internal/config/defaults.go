package config

import "time"

const (
	DefaultDashboardAddr  = "127.0.0.1:8080"
	DefaultTwinAddr       = "127.0.0.1:8090"
	DefaultBaseURL        = "http://" + DefaultTwinAddr + "/api"
	DefaultAPIKeyHeader   = "x-api-key"
	DefaultTimeout        = 20 * time.Second
	DefaultUploadPath     = "/upload"
	DefaultConfirmTimeout = 2 * time.Minute
	DefaultNoticeTTL      = 4 * time.Second

	DefaultPageSize      = 10
	DefaultPageSizeParam = "page_size"
	DefaultItemsKey      = "data"
	DefaultPollInterval  = 15 * time.Second
	DefaultDwell         = 2 * time.Second
)

// DefaultLogDir returns the default mutation history directory.
func DefaultLogDir() string {
	return "~/.adminsync/logs"
}
