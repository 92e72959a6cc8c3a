package protocol

// Config holds the protocol-layer tunables spec.md §6 names alongside
// STORAGE_CHUNK_SIZE (which lives in transfer.Config instead, since it
// governs registry AddPart cadence rather than wire framing).
type Config struct {
	// BytesPayload is BYTES_PAYLOAD: the size of each outbound BYTES
	// frame during a download.
	BytesPayload int

	// MaxMessageSize is MAX_MESSAGE_SIZE: the largest inbound frame the
	// decoder accepts before rejecting the connection.
	MaxMessageSize uint32
}

const defaultBytesPayload = 64 * 1024

// DefaultConfig returns spec.md §6's stated defaults.
func DefaultConfig() Config {
	return Config{
		BytesPayload:   defaultBytesPayload,
		MaxMessageSize: 0, // wire.DefaultMaxMessageSize
	}
}

func (c Config) withDefaults() Config {
	if c.BytesPayload <= 0 {
		c.BytesPayload = defaultBytesPayload
	}
	return c
}
