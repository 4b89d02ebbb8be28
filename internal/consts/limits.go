package consts

import "time"

// Buffer sizes for various operations
const (
	// BufferSize1KB is 1 kilobyte
	BufferSize1KB = 1024
	// BufferSize10MB is 10 megabytes
	BufferSize10MB = 10 * 1024 * 1024
	// SendQueueSize is the number of outbound messages buffered per peer
	SendQueueSize = 256
	// EventQueueSize is the number of inbound events buffered by a session
	EventQueueSize = 512
)

// Timeouts for various operations
const (
	// Timeout5Seconds is a 5 second timeout
	Timeout5Seconds = 5 * time.Second
	// Timeout10Seconds is a 10 second timeout
	Timeout10Seconds = 10 * time.Second
	// Timeout30Seconds is a 30 second timeout
	Timeout30Seconds = 30 * time.Second
	// Timeout60Seconds is a 60 second timeout (1 minute)
	Timeout60Seconds = 60 * time.Second
	// Timeout10Minutes is a 10 minute timeout
	Timeout10Minutes = 10 * time.Minute
)

// Time durations
const (
	// Duration1Hour is 1 hour
	Duration1Hour = 1 * time.Hour
)

// Session defaults
const (
	// DefaultProbeInterval is how often bound peers are pinged
	DefaultProbeInterval = Timeout30Seconds
	// DefaultStaleArtifactAge is the age after which staged diff files are reclaimed
	DefaultStaleArtifactAge = Duration1Hour
	// DefaultSweepInterval is how often stale staged files are looked for
	DefaultSweepInterval = Timeout10Minutes
)
