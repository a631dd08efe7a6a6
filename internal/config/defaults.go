package config

import "time"

// Default configuration values.
const (
	DefaultLogLevel            = "info"
	DefaultChannelDir          = "/dev/shm"
	DefaultChannelTimeout      = 3 * time.Second
	DefaultLockTimeout         = 10 * time.Second
	DefaultJournalRetention    = 7 * 24 * time.Hour
	DefaultPolicyScriptTimeout = 2 * time.Second
	DefaultEventBufferSize     = 10000
	DefaultScriptConcurrency   = 4
	DefaultScriptTimeout       = 10 * time.Second
	DefaultWebhookTimeout      = 10 * time.Second
	DefaultWebhookRetries      = 3
	DefaultWebhookRetryBackoff = 2 * time.Second
)
