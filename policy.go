package rivulet

// IndexPolicy selects where a new subscription's cursor starts. These
// integer encodings are part of the public ABI and must not change.
type IndexPolicy int

const (
	// EARLIEST joins at the slowest current subscriber's cursor, so the
	// new subscriber misses nothing the channel still retains.
	EARLIEST IndexPolicy = iota
	// CURRENT preserves an existing subscription's cursor unchanged; if
	// the caller is not already subscribed it falls back to LATEST.
	CURRENT
	// LATEST joins at the most advanced current subscriber's cursor,
	// skipping history that subscriber has already consumed. On a channel
	// with no subscribers it starts at 0, the same as EARLIEST.
	LATEST
)

func (p IndexPolicy) String() string {
	switch p {
	case EARLIEST:
		return "EARLIEST"
	case CURRENT:
		return "CURRENT"
	case LATEST:
		return "LATEST"
	default:
		return "UNKNOWN"
	}
}
