package delay

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	rtsup "auratask/internal/runtime/supervisor"
	"auratask/internal/task/engine"
	logx "auratask/pkg/logx"
)

type RedisConfig struct {
	Prefix       string
	PollInterval time.Duration
	// Lease is how long a claimed item may run before it is handed out again.
	// Every attempt renews it.
	Lease time.Duration
	Batch int
}

func (c RedisConfig) withDefaults() RedisConfig {
	c.Prefix = strings.TrimRight(strings.TrimSpace(c.Prefix), ":")
	if c.Prefix == "" {
		c.Prefix = "auratask:delay"
	}
	if c.PollInterval <= 0 {
		c.PollInterval = time.Second
	}
	if c.Lease <= 0 {
		c.Lease = 5 * time.Minute
	}
	if c.Batch <= 0 {
		c.Batch = 64
	}
	return c
}

// Redis stores items in three keys under Prefix:
//
//	<prefix>:due      ZSET key -> fire time (unix ms)
//	<prefix>:inflight ZSET key -> lease deadline (unix ms)
//	<prefix>:payload  HASH key -> payload
type Redis struct {
	rdb  *redis.Client
	cfg  RedisConfig
	exec Executor
	h    Handler
	opt  Options
	log  logx.Logger
	now  func() time.Time

	dueKey, inflightKey, payloadKey string

	mu  sync.Mutex
	sup *rtsup.Supervisor
}

var _ Runtime = (*Redis)(nil)

// claimScript moves up to ARGV[2] due items into the lease set and returns
// key, payload and fire time triples.
var claimScript = redis.NewScript(`
local due = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', ARGV[1], 'WITHSCORES', 'LIMIT', 0, tonumber(ARGV[2]))
local out = {}
for i = 1, #due, 2 do
  local k = due[i]
  redis.call('ZREM', KEYS[1], k)
  local p = redis.call('HGET', KEYS[3], k)
  if p then
    redis.call('ZADD', KEYS[2], ARGV[3], k)
    table.insert(out, k)
    table.insert(out, p)
    table.insert(out, due[i + 1])
  end
end
return out
`)

// reapScript returns items whose lease expired to the due set.
var reapScript = redis.NewScript(`
local expired = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', ARGV[1])
for _, k in ipairs(expired) do
  redis.call('ZREM', KEYS[1], k)
  if redis.call('HEXISTS', KEYS[3], k) == 1 then
    redis.call('ZADD', KEYS[2], 'NX', ARGV[1], k)
  end
end
return #expired
`)

// ackScript releases a lease. The payload is kept when the key was
// resubmitted while it was running.
var ackScript = redis.NewScript(`
redis.call('ZREM', KEYS[1], ARGV[1])
if not redis.call('ZSCORE', KEYS[2], ARGV[1]) then
  redis.call('HDEL', KEYS[3], ARGV[1])
end
return 1
`)

func NewRedis(rdb *redis.Client, cfg RedisConfig, exec Executor, h Handler, opt Options, log logx.Logger) *Redis {
	if log.IsZero() {
		log = logx.Nop()
	}
	cfg = cfg.withDefaults()
	return &Redis{
		rdb:         rdb,
		cfg:         cfg,
		exec:        exec,
		h:           h,
		opt:         opt,
		log:         log.With(logx.Component("delay.redis")),
		now:         time.Now,
		dueKey:      cfg.Prefix + ":due",
		inflightKey: cfg.Prefix + ":inflight",
		payloadKey:  cfg.Prefix + ":payload",
	}
}

func unavailable(err error) error {
	if err == nil || errors.Is(err, ErrUnavailable) {
		return err
	}
	return fmt.Errorf("%w: %v", ErrUnavailable, err)
}

func (r *Redis) Submit(ctx context.Context, key string, fireAt time.Time, payload []byte) error {
	key = strings.TrimSpace(key)
	if key == "" {
		return errors.New("delay key required")
	}
	_, err := r.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.HSet(ctx, r.payloadKey, key, payload)
		p.ZAdd(ctx, r.dueKey, redis.Z{Score: float64(fireAt.UnixMilli()), Member: key})
		return nil
	})
	return unavailable(err)
}

func (r *Redis) Cancel(ctx context.Context, key string) error {
	_, err := r.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.ZRem(ctx, r.dueKey, key)
		p.HDel(ctx, r.payloadKey, key)
		return nil
	})
	return unavailable(err)
}

func (r *Redis) Pending(ctx context.Context, key string) (time.Time, bool, error) {
	score, err := r.rdb.ZScore(ctx, r.dueKey, key).Result()
	if errors.Is(err, redis.Nil) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, unavailable(err)
	}
	return time.UnixMilli(int64(score)).UTC(), true, nil
}

func (r *Redis) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.sup != nil {
		return nil
	}

	pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := r.rdb.Ping(pctx).Err(); err != nil {
		return unavailable(err)
	}

	r.sup = rtsup.NewSupervisor(ctx, rtsup.WithLogger(r.log), rtsup.WithCancelOnError(false))
	r.sup.GoRestart("poller", r.pollLoop, rtsup.WithRestartBackoff(time.Second, 30*time.Second))
	r.log.Info("delay runtime started",
		logx.String("kind", "redis"),
		logx.String("prefix", r.cfg.Prefix),
		logx.Duration("poll", r.cfg.PollInterval),
		logx.Duration("lease", r.cfg.Lease),
	)
	return nil
}

// Stop ends polling. Items stay in Redis for the next start.
func (r *Redis) Stop(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}
	r.mu.Lock()
	sup := r.sup
	r.sup = nil
	r.mu.Unlock()
	if sup == nil {
		return
	}
	sup.Cancel()
	_ = sup.Wait(ctx)
	r.log.Info("delay runtime stopped", logx.String("kind", "redis"))
}

func (r *Redis) pollLoop(ctx context.Context) error {
	t := time.NewTicker(r.cfg.PollInterval)
	defer t.Stop()
	for {
		if err := r.Poll(ctx); err != nil && ctx.Err() == nil {
			r.log.Warn("delay poll failed", logx.Err(err))
		}
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
		}
	}
}

// Poll requeues expired leases, then claims and dispatches due items.
func (r *Redis) Poll(ctx context.Context) error {
	now := r.now()
	nowMs := strconv.FormatInt(now.UnixMilli(), 10)

	reaped, err := reapScript.Run(ctx, r.rdb, []string{r.inflightKey, r.dueKey, r.payloadKey}, nowMs).Int()
	if err != nil {
		return unavailable(err)
	}
	if reaped > 0 {
		r.log.Warn("requeued items with expired lease", logx.Int("count", reaped))
	}

	leaseUntil := strconv.FormatInt(now.Add(r.cfg.Lease).UnixMilli(), 10)
	res, err := claimScript.Run(ctx, r.rdb, []string{r.dueKey, r.inflightKey, r.payloadKey}, nowMs, r.cfg.Batch, leaseUntil).StringSlice()
	if err != nil {
		return unavailable(err)
	}

	for i := 0; i+2 < len(res); i += 3 {
		ms, _ := strconv.ParseFloat(res[i+2], 64)
		it := Item{Key: res[i], Payload: []byte(res[i+1]), FireAt: time.UnixMilli(int64(ms)).UTC()}
		if err := dispatch(ctx, r.exec, r.h, r.opt, r.log, it, r.renewLease(it.Key), r.ack(it.Key)); err != nil {
			// The lease is left in place; the item returns once it expires.
			r.log.Warn("delayed item not dispatched", logx.ReminderKey(it.Key), logx.Err(err))
		}
	}
	return nil
}

func (r *Redis) renewLease(key string) func(context.Context) {
	return func(ctx context.Context) {
		deadline := float64(r.now().Add(r.cfg.Lease).UnixMilli())
		if err := r.rdb.ZAddXX(ctx, r.inflightKey, redis.Z{Score: deadline, Member: key}).Err(); err != nil {
			r.log.Debug("lease renewal failed", logx.ReminderKey(key), logx.Err(err))
		}
	}
}

func (r *Redis) ack(key string) func(context.Context, error) {
	return func(ctx context.Context, err error) {
		if errors.Is(err, engine.ErrStopped) {
			return
		}
		if e := ackScript.Run(ctx, r.rdb, []string{r.inflightKey, r.dueKey, r.payloadKey}, key).Err(); e != nil {
			r.log.Warn("delayed item ack failed", logx.ReminderKey(key), logx.Err(e))
		}
	}
}
