// Package classifier maps short-horizon activity counters to a qualitative status.
package classifier

import (
	"errors"
	"fmt"
)

// Status is the qualitative activity label shown next to a team.
type Status string

const (
	Inactive       Status = "Inactive"
	RecentlyActive Status = "Recently Active"
	Active         Status = "Active"
	VeryActive     Status = "Very Active"
)

// Thresholds are the minimum combined activity signal for each label.
// A signal below RecentlyActiveMin is Inactive.
type Thresholds struct {
	VeryActiveMin     int64
	ActiveMin         int64
	RecentlyActiveMin int64
}

// DefaultThresholds mirrors the recency weights the leaderboard service uses (20/10/5) with
// any recent activity at all counting as Recently Active.
func DefaultThresholds() Thresholds {
	return Thresholds{
		VeryActiveMin:     20,
		ActiveMin:         10,
		RecentlyActiveMin: 1,
	}
}

// Validate checks that the thresholds are positive and strictly ordered.
func (t Thresholds) Validate() error {
	if t.RecentlyActiveMin <= 0 {
		return errors.New("recently active threshold must be greater than 0")
	}
	if t.ActiveMin <= t.RecentlyActiveMin {
		return fmt.Errorf("active threshold (%d) must be greater than recently active threshold (%d)", t.ActiveMin, t.RecentlyActiveMin)
	}
	if t.VeryActiveMin <= t.ActiveMin {
		return fmt.Errorf("very active threshold (%d) must be greater than active threshold (%d)", t.VeryActiveMin, t.ActiveMin)
	}
	return nil
}

// Classifier is a configured threshold function. The zero value is not usable; build it with New.
type Classifier struct {
	thresholds Thresholds
}

// New validates thresholds and returns a Classifier.
func New(t Thresholds) (*Classifier, error) {
	if err := t.Validate(); err != nil {
		return nil, fmt.Errorf("invalid activity thresholds: %w", err)
	}
	return &Classifier{thresholds: t}, nil
}

// Classify labels a team from its short-horizon activity count (e.g. queries in the last hour)
// and its recent query count (e.g. queries in the last 24 hours). The signal is their sum;
// negative counters count as zero, so every input maps to exactly one label.
func (c *Classifier) Classify(activityCount, recentQueryCount int64) Status {
	signal := max(activityCount, 0) + max(recentQueryCount, 0)
	switch {
	case signal >= c.thresholds.VeryActiveMin:
		return VeryActive
	case signal >= c.thresholds.ActiveMin:
		return Active
	case signal >= c.thresholds.RecentlyActiveMin:
		return RecentlyActive
	default:
		return Inactive
	}
}

// Thresholds returns the configured thresholds.
func (c *Classifier) Thresholds() Thresholds {
	return c.thresholds
}
