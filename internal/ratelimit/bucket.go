package ratelimit

import "time"

// bucket is the persisted state of one fixed window.
type bucket struct {
	remaining int
	windowEnd time.Time
	blocked   bool
}

// consume applies one fixed-window consume to b at now. exists reports
// whether b was loaded from the store. The returned bucket is the state to
// persist; changed is false when nothing needs writing.
//
// The window starts at first consume and refills when now >= windowEnd.
// A denied consume never changes remaining; when the policy has a block
// duration, the first denial of a window pushes windowEnd out once.
func consume(b bucket, exists bool, policy Policy, points int, now time.Time) (bucket, Result, bool) {
	changed := false
	if !exists || !now.Before(b.windowEnd) {
		b = bucket{
			remaining: policy.Points,
			windowEnd: now.Add(policy.Duration),
		}
		changed = true
	}

	if b.remaining-points >= 0 {
		b.remaining -= points
		return b, Result{Allowed: true, Remaining: b.remaining, ResetAfter: b.windowEnd.Sub(now)}, true
	}

	if policy.BlockDuration > 0 && !b.blocked {
		b.windowEnd = b.windowEnd.Add(policy.BlockDuration)
		b.blocked = true
		changed = true
	}

	return b, Result{Allowed: false, Remaining: b.remaining, ResetAfter: b.windowEnd.Sub(now)}, changed
}

// peek reports b at now without changing it.
func peek(b bucket, exists bool, policy Policy, now time.Time) Result {
	if !exists || !now.Before(b.windowEnd) {
		return Result{Allowed: true, Remaining: policy.Points}
	}
	return Result{Allowed: b.remaining > 0, Remaining: b.remaining, ResetAfter: b.windowEnd.Sub(now)}
}
