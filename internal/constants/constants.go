package constants

import "time"

const (
	KafkaBatchTimeout = 10 * time.Millisecond
	KafkaWriteTimeout = 10 * time.Second
)

const (
	DefaultHTTPTimeout = 10 * time.Second
)

const (
	CacheKeyPrefixStimulus = "stimulus:"
)

const (
	DefaultStimulusTopic     = "automation_stimuli"
	DefaultNotificationTopic = "automation_notifications"
)

const (
	DefaultMongoDBName = "beacon"
)

const (
	ShutdownTimeout = 5 * time.Second
)

const (
	DefaultLimit       = 100
	MaxLimit           = 1000
	DefaultTruncateLen = 100
)

const (
	DefaultDedupTTLSeconds = 3600
)

const (
	HTTPStatusOKMin = 200
	HTTPStatusOKMax = 300
)

const (
	DefaultRetryMaxAttempts = 5
	DefaultRetryBaseDelay   = 30 * time.Second
	DefaultRetryMaxDelay    = time.Hour
	DefaultStaleRetryAfter  = 5 * time.Minute
)

const (
	FallbackAllow  = "allow"
	FallbackReject = "reject"
)
