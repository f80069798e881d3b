// Package fanout provides a multi-tenant webhook relay for Go.
//
// Accounts push JSON events over HTTP using a secret token. Each event passes
// an admission gate (credential lookup, content checks and a per-account
// sliding-window rate limit), is persisted to a durable at-least-once queue
// and is then fanned out by a dispatch engine to every destination the account
// has registered. Every dispatch run is recorded in an append-only delivery
// log, and jobs that exhaust their retries land in a dead letter queue from
// which they can be replayed.
//
// Fanout is usable as a library or through the fanoutd daemon.
//
// Key features:
//   - Sliding-window rate limiting, in-process or on Redis
//   - Durable queues on memory, Redis or NATS JetStream
//   - Composable store pattern with multiple backends (Postgres, SQLite, MongoDB, Redis, Memory)
//   - Exponential backoff retries with dead letter queue and replay
//   - Prometheus metrics and OpenTelemetry spans
//
// Quick start:
//
//	f, err := fanout.New(
//	    fanout.WithStore(memory.New()),
//	    fanout.WithQueue(func(opts ...queue.Option) (queue.Queue, error) {
//	        return memqueue.New(opts...), nil
//	    }),
//	)
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	f.Start(ctx)
//	defer f.Stop(ctx)
//
//	http.Handle("/api/", http.StripPrefix("/api",
//	    api.NewHandler(f.Gate(), f.Store(), f.DLQ(), f.Queue(), logger)))
package fanout
