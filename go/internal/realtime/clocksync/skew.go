package clocksync

import (
	"fmt"
	"strings"
	"time"
)

// Sample is one exchange with the time authority.
type Sample struct {
	Remote       time.Time // authority's instant as reported
	LocalSend    time.Time // local clock when the request went out
	LocalReceive time.Time // local clock when the reply arrived
}

// RoundTrip returns the observed request latency, never negative.
func (s Sample) RoundTrip() time.Duration {
	rtt := s.LocalReceive.Sub(s.LocalSend)
	if rtt < 0 {
		return 0
	}
	return rtt
}

// Estimator selects how a Sample is turned into a skew.
type Estimator int

const (
	// EstimatorOneWay treats the reply as if it took no time to arrive:
	// skew = remote - localReceive.
	EstimatorOneWay Estimator = iota
	// EstimatorMidpoint assumes the authority read its clock halfway through the round trip:
	// skew = remote - (localSend + rtt/2).
	EstimatorMidpoint
)

func (e Estimator) String() string {
	switch e {
	case EstimatorOneWay:
		return "one_way"
	case EstimatorMidpoint:
		return "midpoint"
	default:
		return fmt.Sprintf("estimator(%d)", int(e))
	}
}

// ParseEstimator maps a config value to an Estimator. Empty means one_way.
func ParseEstimator(s string) (Estimator, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "one_way", "oneway":
		return EstimatorOneWay, nil
	case "midpoint", "round_trip":
		return EstimatorMidpoint, nil
	default:
		return EstimatorOneWay, fmt.Errorf("unknown skew estimator %q", s)
	}
}

// Estimate returns the signed offset to add to the local clock.
func (e Estimator) Estimate(s Sample) time.Duration {
	if e == EstimatorMidpoint {
		return s.Remote.Sub(s.LocalSend.Add(s.RoundTrip() / 2))
	}
	return s.Remote.Sub(s.LocalReceive)
}
