package permit

// luaScript is the Atomic Permit Script, executed as a single Redis EVAL so
// the guardrail, observed-bucket, global, and route checks and their
// mutations are one indivisible transition, totally ordered by the store's
// execution order.
//
// KEYS[1] guard:{group}
// KEYS[2] bucket_map:{method}:{route}
// KEYS[3] global:{identity}:{second}
// KEYS[4] route:{identity}:{method}:{route}:{major}:{second}
//
// ARGV[1] identity
// ARGV[2] major_parameter
// ARGV[3] now_ms
// ARGV[4] global_cap
// ARGV[5] route_cap
// ARGV[6] min_retry_ms
// ARGV[7] second_boundary_ms -- (floor(now/1000)+1)*1000
// ARGV[8] global_ttl_ms
// ARGV[9] route_ttl_ms
// ARGV[10] namespace_prefix -- "" or "ns:" used for the bucket_state key,
//                              which is built here because it depends on the
//                              bucket id this script resolves from KEYS[2]
//
// Returns {granted(0|1), retry_after_ms, reason, bucket_id}.
const luaScript = `
local identity = ARGV[1]
local major = ARGV[2]
local now = tonumber(ARGV[3])
local global_cap = tonumber(ARGV[4])
local route_cap = tonumber(ARGV[5])
local min_retry = tonumber(ARGV[6])
local second_boundary = tonumber(ARGV[7])
local global_ttl = tonumber(ARGV[8])
local route_ttl = tonumber(ARGV[9])
local ns = ARGV[10]

local function retry_floor(ms)
	if ms < min_retry then
		return min_retry
	end
	return ms
end

-- 1. Guardrail: once set for a group, deny until its TTL elapses.
local guard = redis.call('GET', KEYS[1])
if guard then
	local ttl = redis.call('PTTL', KEYS[1])
	if ttl < 0 then
		ttl = min_retry
	end
	return {0, retry_floor(ttl), 'invalid_guardrail_active', ''}
end

-- 2. Observed bucket: deny if the cached bucket is known exhausted.
local bucket_id = redis.call('GET', KEYS[2])
if bucket_id then
	local bkey = ns .. 'bucket_state:' .. identity .. ':' .. bucket_id .. ':' .. major
	local vals = redis.call('HMGET', bkey, 'remaining', 'reset_at_unix_ms')
	if vals[1] and vals[2] then
		local remaining = tonumber(vals[1])
		local reset_at = tonumber(vals[2])
		if remaining <= 0 and reset_at > now then
			return {0, retry_floor(reset_at - now), 'bucket_exhausted', bucket_id}
		end
	end
end

-- 3. Global: counters are not rolled back on deny.
local global_count = redis.call('INCR', KEYS[3])
if global_count == 1 then
	redis.call('PEXPIRE', KEYS[3], global_ttl)
end
if global_count > global_cap then
	return {0, retry_floor(second_boundary - now), 'global_bucket_exhausted', bucket_id or ''}
end

-- 4. Route
local route_count = redis.call('INCR', KEYS[4])
if route_count == 1 then
	redis.call('PEXPIRE', KEYS[4], route_ttl)
end
if route_count > route_cap then
	return {0, retry_floor(second_boundary - now), 'route_bucket_exhausted', bucket_id or ''}
end

-- 5. Bucket decrement: best-effort calibration, never blocks a grant.
if bucket_id then
	local bkey = ns .. 'bucket_state:' .. identity .. ':' .. bucket_id .. ':' .. major
	local remaining = redis.call('HGET', bkey, 'remaining')
	if remaining and tonumber(remaining) > 0 then
		redis.call('HINCRBY', bkey, 'remaining', -1)
	end
end

-- 6. Grant
return {1, 0, 'ok', bucket_id or ''}
`
