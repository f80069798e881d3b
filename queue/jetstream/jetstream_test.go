package jetstream

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/nats-io/nats.go/jetstream"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xraph/fanout/event"
	"github.com/xraph/fanout/id"
	"github.com/xraph/fanout/queue"
)

func TestStreamConfigIsWorkQueue(t *testing.T) {
	cfg := DefaultConfig()
	sc := streamConfig(cfg)

	assert.Equal(t, "FANOUT_EVENTS", sc.Name)
	assert.Equal(t, []string{"fanout.events"}, sc.Subjects)
	assert.Equal(t, jetstream.WorkQueuePolicy, sc.Retention)
	assert.Equal(t, jetstream.FileStorage, sc.Storage)
}

func TestConsumerConfigFollowsOptions(t *testing.T) {
	o := queue.NewOptions(
		queue.WithLease(15*time.Second),
		queue.WithRetryPolicy(queue.RetryPolicy{MaxAttempts: 3, BaseDelay: time.Second}),
	)
	cc := consumerConfig(DefaultConfig(), o)

	assert.Equal(t, "fanout-dispatch", cc.Durable)
	assert.Equal(t, jetstream.AckExplicitPolicy, cc.AckPolicy)
	assert.Equal(t, 15*time.Second, cc.AckWait)
	assert.Equal(t, -1, cc.MaxDeliver, "attempt budget is enforced by Claim")
	assert.Equal(t, "fanout.events", cc.FilterSubject)
}

type fakeMsg struct {
	jetstream.Msg

	data       []byte
	delivered  uint64
	acks       int
	terms      int
	inProgress int
	naks       []time.Duration
}

func (m *fakeMsg) Data() []byte { return m.data }

func (m *fakeMsg) Metadata() (*jetstream.MsgMetadata, error) {
	return &jetstream.MsgMetadata{NumDelivered: m.delivered}, nil
}

func (m *fakeMsg) Ack() error        { m.acks++; return nil }
func (m *fakeMsg) Term() error       { m.terms++; return nil }
func (m *fakeMsg) InProgress() error { m.inProgress++; return nil }

func (m *fakeMsg) NakWithDelay(d time.Duration) error {
	m.naks = append(m.naks, d)
	return nil
}

type fakeBatch struct {
	ch chan jetstream.Msg
}

func (b *fakeBatch) Messages() <-chan jetstream.Msg { return b.ch }
func (b *fakeBatch) Error() error                   { return nil }

// fakeConsumer serves each queued delivery once per FetchNoWait.
type fakeConsumer struct {
	jetstream.Consumer

	mu      sync.Mutex
	pending []jetstream.Msg
}

func (c *fakeConsumer) deliver(msgs ...jetstream.Msg) {
	c.mu.Lock()
	c.pending = append(c.pending, msgs...)
	c.mu.Unlock()
}

func (c *fakeConsumer) FetchNoWait(limit int) (jetstream.MessageBatch, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := min(limit, len(c.pending))
	ch := make(chan jetstream.Msg, n)
	for _, m := range c.pending[:n] {
		ch <- m
	}
	close(ch)
	c.pending = c.pending[n:]
	return &fakeBatch{ch: ch}, nil
}

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type recorder struct {
	mu     sync.Mutex
	causes []string
	fails  int
}

func (r *recorder) DeadLetter(_ context.Context, _ *queue.Job, cause string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.fails > 0 {
		r.fails--
		return errors.New("dlq store unavailable")
	}
	r.causes = append(r.causes, cause)
	return nil
}

func newTestQueue(t *testing.T, opts ...queue.Option) (*Queue, *fakeConsumer, *clock, *recorder) {
	t.Helper()
	clk := &clock{now: time.Unix(1_700_000_000, 0)}
	rec := &recorder{}
	cons := &fakeConsumer{}
	opts = append([]queue.Option{
		queue.WithClock(clk.Now),
		queue.WithDeadLetterer(rec),
		queue.WithLease(10 * time.Second),
		queue.WithRetryPolicy(queue.RetryPolicy{MaxAttempts: 2, BaseDelay: time.Second}),
	}, opts...)
	q := &Queue{
		consumer: cons,
		cfg:      DefaultConfig(),
		opts:     queue.NewOptions(opts...),
		leases:   make(map[id.ID]lease),
		causes:   make(map[string]string),
	}
	return q, cons, clk, rec
}

func newMsg(t *testing.T, job *queue.Job, delivered uint64) *fakeMsg {
	t.Helper()
	data, err := json.Marshal(job)
	require.NoError(t, err)
	return &fakeMsg{data: data, delivered: delivered}
}

func TestExtendSignalsInProgress(t *testing.T) {
	q, cons, clk, _ := newTestQueue(t)
	ctx := context.Background()

	job := queue.NewJob(event.New("evt-1", "acc-1", nil), 2)
	msg := newMsg(t, job, 1)
	cons.deliver(msg)

	claimed, err := q.Claim(ctx, 1)
	require.NoError(t, err)
	require.Len(t, claimed, 1)

	for range 3 {
		clk.Advance(8 * time.Second)
		require.NoError(t, q.Extend(ctx, claimed[0]))
	}
	assert.Equal(t, 3, msg.inProgress)

	require.NoError(t, q.Ack(ctx, claimed[0]))
	assert.Equal(t, 1, msg.acks)
	assert.ErrorIs(t, q.Extend(ctx, claimed[0]), queue.ErrNotLeased)
}

func TestExtendAfterLeaseExpiry(t *testing.T) {
	q, cons, clk, _ := newTestQueue(t)
	ctx := context.Background()

	job := queue.NewJob(event.New("evt-1", "acc-1", nil), 2)
	msg := newMsg(t, job, 1)
	cons.deliver(msg)

	claimed, err := q.Claim(ctx, 1)
	require.NoError(t, err)
	require.Len(t, claimed, 1)

	clk.Advance(10 * time.Second)
	assert.ErrorIs(t, q.Extend(ctx, claimed[0]), queue.ErrNotLeased)
	assert.Zero(t, msg.inProgress)
}

func TestDeadLetterFailureIsRetried(t *testing.T) {
	q, cons, _, rec := newTestQueue(t)
	ctx := context.Background()
	rec.fails = 1

	job := queue.NewJob(event.New("evt-1", "acc-1", nil), 2)
	final := newMsg(t, job, 2)
	cons.deliver(final)

	claimed, err := q.Claim(ctx, 1)
	require.NoError(t, err)
	require.Len(t, claimed, 1)
	require.NoError(t, q.Fail(ctx, claimed[0], errors.New("down")))

	assert.Empty(t, rec.causes)
	assert.Zero(t, final.terms, "a rejected hand-off must not terminate the message")
	assert.Equal(t, []time.Duration{time.Second}, final.naks)

	// The server redelivers past the attempt budget.
	redelivered := newMsg(t, job, 3)
	cons.deliver(redelivered)

	again, err := q.Claim(ctx, 1)
	require.NoError(t, err)
	assert.Empty(t, again, "an exhausted job must not reach a worker")
	assert.Equal(t, []string{"down"}, rec.causes)
	assert.Equal(t, 1, redelivered.terms)
}

func TestExpiredFinalLeaseIsDeadLettered(t *testing.T) {
	q, cons, _, rec := newTestQueue(t)
	ctx := context.Background()

	job := queue.NewJob(event.New("evt-1", "acc-1", nil), 2)
	msg := newMsg(t, job, 3)
	cons.deliver(msg)

	claimed, err := q.Claim(ctx, 1)
	require.NoError(t, err)
	assert.Empty(t, claimed)
	assert.Equal(t, []string{"lease expired"}, rec.causes)
	assert.Equal(t, 1, msg.terms)
}
