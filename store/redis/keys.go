package redis

// Key prefixes for primary entity storage.
const (
	prefixAccountToken = "fanout:acct:token:" // + token
	prefixAccountID    = "fanout:acct:id:"    // + account ID, holds the current token
	prefixDestinations = "fanout:dest:acct:"  // + account ID, hash of destination ID to JSON
	prefixAttempt      = "fanout:att:"
	prefixDLQ          = "fanout:dlq:"
)

// Key names for sorted set indexes.
const (
	zAttemptAll   = "fanout:z:att:all"
	zAttemptEvent = "fanout:z:att:evt:" // + event ID
	zDLQAll       = "fanout:z:dlq:all"
)

// Counters.
const (
	seqDestination = "fanout:seq:dest"
	hAttemptStatus = "fanout:h:att:status"
)

// entityKey returns the primary key for an entity.
func entityKey(prefix, id string) string {
	return prefix + id
}
