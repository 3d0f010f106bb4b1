package constants

const AppName = "relaycache"

// define gw->backend Protocol constants
const (
	ProtocolRequestIDKey   = "X-Request-ID"
	ProtocolCacheStatusKey = "X-Cache"
	PrefetchCacheKey       = "X-Prefetch"

	InternalTraceKey         = "i-xtrace"
	InternalStoreUrl         = "i-x-store-url"
	InternalSwapfile         = "i-x-swapfile"
	InternalFillRangePercent = "i-x-fp"
)

// default timing and sizing parameters for the session pool / state engine,
// overridable via conf.Bootstrap.
const (
	DefaultHTTPReqSize       = 8 * 1024
	DefaultHTTPReqHdrLen     = 64
	DefaultWorkspaceSize     = 64 * 1024
	DefaultMaxRestarts       = 4
	DefaultTimeoutIdle       = 5 // seconds
	DefaultTimeoutLinger     = 1 // seconds (100 ms in real varnish; kept coarse here)
	DefaultTimeoutReq        = 2 // seconds
	DefaultSendTimeout       = 60 // seconds
	DefaultLRUTimeout        = 10 // seconds
	DefaultConnectTimeout    = 3  // seconds
	DefaultFirstByteTimeout  = 60 // seconds
	DefaultBetweenBytesTime  = 60 // seconds
	DefaultWthreadStatsRate  = 1000
)
