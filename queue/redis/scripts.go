package redis

import goredis "github.com/redis/go-redis/v9"

// claimScript requeues expired leases, leases up to limit ready jobs and
// takes up to limit due dead jobs for hand-off. A dead job is scored by its
// next hand-off time, so taking one pushes it a lease period out.
//
// KEYS[1] = ready zset, KEYS[2] = leased zset, KEYS[3] = dead zset
// ARGV[1] = now (ms), ARGV[2] = limit, ARGV[3] = lease (ms), ARGV[4] = job key prefix
//
// Returns {claimed_ids, dead_ids}.
var claimScript = goredis.NewScript(`
local now = tonumber(ARGV[1])
local dead = {}

local expired = redis.call('ZRANGEBYSCORE', KEYS[2], '-inf', now)
for _, id in ipairs(expired) do
  redis.call('ZREM', KEYS[2], id)
  local key = ARGV[4] .. id
  redis.call('HSET', key, 'error', 'lease expired')
  local attempt = tonumber(redis.call('HGET', key, 'attempt') or '0')
  local max = tonumber(redis.call('HGET', key, 'max') or '1')
  if attempt >= max then
    redis.call('ZADD', KEYS[3], now, id)
  else
    redis.call('ZADD', KEYS[1], now, id)
  end
end

local ids = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', now, 'LIMIT', 0, tonumber(ARGV[2]))
for _, id in ipairs(ids) do
  redis.call('ZREM', KEYS[1], id)
  redis.call('ZADD', KEYS[2], now + tonumber(ARGV[3]), id)
  redis.call('HINCRBY', ARGV[4] .. id, 'attempt', 1)
end

local dead = redis.call('ZRANGEBYSCORE', KEYS[3], '-inf', now, 'LIMIT', 0, tonumber(ARGV[2]))
for _, id in ipairs(dead) do
  redis.call('ZADD', KEYS[3], now + tonumber(ARGV[3]), id)
end

return {ids, dead}
`)

// extendScript pushes a lease deadline if the caller still holds the lease.
//
// KEYS[1] = leased zset, KEYS[2] = job key
// ARGV[1] = job id, ARGV[2] = attempt, ARGV[3] = new deadline (ms)
var extendScript = goredis.NewScript(`
if not redis.call('ZSCORE', KEYS[1], ARGV[1]) then return 0 end
if tonumber(redis.call('HGET', KEYS[2], 'attempt')) ~= tonumber(ARGV[2]) then return 0 end
redis.call('ZADD', KEYS[1], 'XX', ARGV[3], ARGV[1])
return 1
`)

// ackScript deletes a job if the caller still holds its lease.
//
// KEYS[1] = leased zset, KEYS[2] = job key
// ARGV[1] = job id, ARGV[2] = attempt
var ackScript = goredis.NewScript(`
if not redis.call('ZSCORE', KEYS[1], ARGV[1]) then return 0 end
if tonumber(redis.call('HGET', KEYS[2], 'attempt')) ~= tonumber(ARGV[2]) then return 0 end
redis.call('ZREM', KEYS[1], ARGV[1])
redis.call('DEL', KEYS[2])
return 1
`)

// failScript releases a lease, scheduling a retry or parking the job as dead.
//
// KEYS[1] = leased zset, KEYS[2] = ready zset, KEYS[3] = dead zset, KEYS[4] = job key
// ARGV[1] = job id, ARGV[2] = attempt, ARGV[3] = error, ARGV[4] = score (ms), ARGV[5] = "1" when exhausted
//
// A dead job's score is the time another claimer may take over its hand-off.
// Returns 0 when the lease was lost, 1 when retried, 2 when dead.
var failScript = goredis.NewScript(`
if not redis.call('ZSCORE', KEYS[1], ARGV[1]) then return 0 end
if tonumber(redis.call('HGET', KEYS[4], 'attempt')) ~= tonumber(ARGV[2]) then return 0 end
redis.call('ZREM', KEYS[1], ARGV[1])
redis.call('HSET', KEYS[4], 'error', ARGV[3])
if ARGV[5] == '1' then
  redis.call('ZADD', KEYS[3], ARGV[4], ARGV[1])
  return 2
end
redis.call('ZADD', KEYS[2], ARGV[4], ARGV[1])
return 1
`)
