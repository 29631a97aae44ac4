package observation

// luaScript is the Observation Ingester's atomic script, run as a single
// EVAL per report so the bucket-map write, bucket-state write, and
// invalid-counter/guardrail mutation are one indivisible transition.
//
// KEYS[1] bucket_map:{method}:{route}
// KEYS[2] invalid:{group}
// KEYS[3] guard:{group}
//
// ARGV[1]  identity
// ARGV[2]  major_parameter
// ARGV[3]  bucket_id ("" if the report carries no x_ratelimit_bucket)
// ARGV[4]  bucket_map_ttl_ms
// ARGV[5]  has_bucket_state_fields ("1" if limit/remaining/reset_after_s present)
// ARGV[6]  limit
// ARGV[7]  remaining
// ARGV[8]  reset_after_s
// ARGV[9]  scope ("" if absent)
// ARGV[10] observed_at_unix_ms
// ARGV[11] is_invalid_request ("1" if this report should count toward the
//            invalid counter; computed in Go via Report.IsInvalidRequest)
// ARGV[12] invalid_ttl_ms
// ARGV[13] invalid_threshold
// ARGV[14] guardrail_cooldown_ms
// ARGV[15] namespace_prefix (for the dynamically built bucket_state key)
//
// Returns {bucket_mapped(0|1), bucket_state_written(0|1), invalid_count, guard_tripped(0|1)}.
const luaScript = `
local identity = ARGV[1]
local major = ARGV[2]
local bucket_id = ARGV[3]
local bucket_map_ttl = tonumber(ARGV[4])
local has_fields = ARGV[5] == '1'
local limit = ARGV[6]
local remaining = ARGV[7]
local reset_after_s = tonumber(ARGV[8])
local scope = ARGV[9]
local observed_at = tonumber(ARGV[10])
local is_invalid = ARGV[11] == '1'
local invalid_ttl = tonumber(ARGV[12])
local invalid_threshold = tonumber(ARGV[13])
local guardrail_cooldown = tonumber(ARGV[14])
local ns = ARGV[15]

local bucket_mapped = 0
local bucket_state_written = 0
local invalid_count = 0
local guard_tripped = 0

-- 1. Bucket discovery
if bucket_id ~= '' then
	redis.call('SET', KEYS[1], bucket_id, 'PX', bucket_map_ttl)
	bucket_mapped = 1
else
	local known = redis.call('GET', KEYS[1])
	if known then
		bucket_id = known
	end
end

-- 2. Observed bucket state, reject out-of-order writes by timestamp
if has_fields and bucket_id ~= '' then
	local bkey = ns .. 'bucket_state:' .. identity .. ':' .. bucket_id .. ':' .. major
	local prev_observed = redis.call('HGET', bkey, 'observed_at_unix_ms')
	if (not prev_observed) or tonumber(prev_observed) <= observed_at then
		redis.call('HSET', bkey,
			'limit', limit,
			'remaining', remaining,
			'reset_at_unix_ms', observed_at + (reset_after_s * 1000),
			'scope', scope,
			'observed_at_unix_ms', observed_at)
		redis.call('PEXPIRE', bkey, (reset_after_s * 1000) + 5000)
		bucket_state_written = 1
	end
end

-- 3. Invalid-request guardrail
if is_invalid then
	invalid_count = redis.call('INCR', KEYS[2])
	if invalid_count == 1 then
		redis.call('PEXPIRE', KEYS[2], invalid_ttl)
	end
	if invalid_count >= invalid_threshold then
		redis.call('SET', KEYS[3], '1', 'PX', guardrail_cooldown)
		guard_tripped = 1
	end
end

return {bucket_mapped, bucket_state_written, invalid_count, guard_tripped}
`
