package config

import "time"

// Database connection pool settings
const (
	DBMaxOpenConns    = 10
	DBMaxIdleConns    = 2
	DBConnMaxLifetime = 5 * time.Minute
)

// HTTP server timeouts. Reads and writes are unbounded so large uploads
// and downloads can stream; only headers and JSON handlers are bounded.
const (
	ServerRequestTimeout     = 30 * time.Second
	ServerReadHeaderTimeout  = 10 * time.Second
	ServerIdleTimeout        = 120 * time.Second
	ServerShutdownTimeout    = 30 * time.Second
	DBPingTimeout            = 5 * time.Second
	MDNSServiceType          = "_http._tcp"
	MDNSDomain               = "local."
	TransferChunkSize        = 1 << 20
	JSONBodyLimit            = 2 << 20
	ThumbnailMaxDimension    = 128
	ThumbnailMaxSourcePixels = 40_000_000
	DefaultAnalyticsLimit    = 100
	MaxAnalyticsLimit        = 1000
	ProgressEventMinInterval = 250 * time.Millisecond
)

// Background job intervals
const (
	CleanupJobInterval = time.Minute
	TempFileMaxAge     = 5 * time.Minute
	ExpiredSessionTTL  = 10 * time.Minute
)
