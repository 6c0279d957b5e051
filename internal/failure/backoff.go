package failure

import (
	"math/rand/v2"
	"time"

	"github.com/vk/taskgridgo/internal/task"
)

// maxBackoff caps the exponential curves so a long retry loop cannot grow
// delays without bound.
const maxBackoff = 5 * time.Minute

// jitterFraction is the spread applied by the jittered curve: the delay is
// drawn uniformly from [d*(1-f), d*(1+f)].
const jitterFraction = 0.5

// Backoff returns the delay before retry number attempt (1 is the first
// retry). Fixed returns the base delay; exponential doubles it per attempt;
// the jittered variant additionally spreads the result to avoid
// synchronized retry storms.
func Backoff(policy task.RetryPolicy, attempt int) time.Duration {
	base := policy.BaseDelay
	if base <= 0 {
		base = time.Second
	}
	if attempt < 1 {
		attempt = 1
	}

	switch policy.Backoff {
	case task.BackoffFixed, "":
		return base
	case task.BackoffExponential:
		return capBackoff(exponential(base, attempt))
	case task.BackoffExponentialJitter:
		d := capBackoff(exponential(base, attempt))
		spread := (rand.Float64()*2 - 1) * jitterFraction
		return time.Duration(float64(d) * (1 + spread))
	default:
		return base
	}
}

func exponential(base time.Duration, attempt int) time.Duration {
	d := base
	for i := 1; i < attempt; i++ {
		d *= 2
		if d > maxBackoff {
			return maxBackoff
		}
	}
	return d
}

func capBackoff(d time.Duration) time.Duration {
	if d > maxBackoff {
		return maxBackoff
	}
	return d
}
