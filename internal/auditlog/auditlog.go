// Package auditlog publishes process exit events to Redis, for anyone
// tailing the scheduler's lifecycle out-of-process (a dashboard, an
// accounting job). It is optional: a scheduler that never wires a
// Publisher simply doesn't emit anything.
package auditlog

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// streamName is the Redis stream exit events are XADDed to.
const streamName = "sched:exits"

// Publisher wraps a Redis client for exit-event publication. Grounded on
// the teacher's redis.Client: same construction shape (explicit timeouts,
// pool sizing, a startup ping logged at connect time), repointed from
// channel/remux repositories at scheduler exit events.
type Publisher struct {
	client *redis.Client
	log    *zap.Logger
}

// NewPublisher dials addr and returns a Publisher. db selects the Redis
// logical database, matching the teacher's NewClient signature.
func NewPublisher(addr string, db int, log *zap.Logger) *Publisher {
	opts := &redis.Options{
		Addr:         addr,
		DB:           db,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		PoolSize:     10,
		MinIdleConns: 5,
		MaxRetries:   3,
	}

	p := &Publisher{
		client: redis.NewClient(opts),
		log:    log.Named("auditlog"),
	}

	p.ping()
	return p
}

// ping logs connection diagnostics without failing construction — a
// transient Redis outage must never block scheduler bootstrap.
func (p *Publisher) ping() {
	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()

	start := time.Now()
	err := p.client.Ping(ctx).Err()
	elapsed := time.Since(start)

	if err != nil {
		p.log.Warn("connection failed", zap.Error(err), zap.Duration("ping_rtt", elapsed))
		return
	}
	p.log.Info("connection established", zap.Duration("ping_rtt", elapsed))
}

// Close releases the underlying Redis connection pool.
func (p *Publisher) Close() error {
	return p.client.Close()
}

// PublishExit records one process's termination. Failures are logged, not
// returned — a dropped audit event must never affect scheduling.
func (p *Publisher) PublishExit(ctx context.Context, pid, ppid uint64, generation uint64, returnCode int32, terminatedNormally bool) {
	ctx, cancel := context.WithTimeout(ctx, 500*time.Millisecond)
	defer cancel()

	err := p.client.XAdd(ctx, &redis.XAddArgs{
		Stream: streamName,
		Values: map[string]any{
			"pid":                 pid,
			"ppid":                ppid,
			"generation":          generation,
			"return_code":         returnCode,
			"terminated_normally": terminatedNormally,
			"at_unix_nano":        time.Now().UnixNano(),
		},
	}).Err()
	if err != nil {
		p.log.Warn("publish exit event failed", zap.Error(err), zap.Uint64("pid", pid))
	}
}
