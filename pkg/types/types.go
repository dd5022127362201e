package types

import (
	"strconv"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
)

// JobNamePrefix scopes summary jobs inside the scheduler
const JobNamePrefix = "summary_group_"

// ConsumerName is the reserved name of the queue consumer task
const ConsumerName = "summary_queue_processor"

// GroupID identifies a configured chat group
type GroupID int64

// String returns the store key for the group
func (id GroupID) String() string {
	return strconv.FormatInt(int64(id), 10)
}

// ParseGroupID parses a store key into a GroupID.
// Only the canonical decimal form is accepted, so "007" is an invalid key.
func ParseGroupID(key string) (GroupID, error) {
	if !IsValidGroupKey(key) {
		return 0, errors.Newf("invalid group key %q", key)
	}
	n, err := strconv.ParseInt(key, 10, 64)
	if err != nil {
		return 0, errors.Wrapf(err, "invalid group key %q", key)
	}
	return GroupID(n), nil
}

// IsValidGroupKey reports whether key is a non-empty run of ASCII digits
// without leading zeros
func IsValidGroupKey(key string) bool {
	if key == "" || (len(key) > 1 && key[0] == '0') {
		return false
	}
	for _, r := range key {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// JobName derives the scheduler job name for a store key
func JobName(key string) string {
	return JobNamePrefix + key
}

// GroupJobName derives the scheduler job name for a group
func GroupJobName(id GroupID) string {
	return JobName(id.String())
}

// KeyFromJobName is the inverse of JobName. The second return value is false
// when name does not belong to this subsystem.
func KeyFromJobName(name string) (string, bool) {
	if !strings.HasPrefix(name, JobNamePrefix) {
		return "", false
	}
	return strings.TrimPrefix(name, JobNamePrefix), true
}

// GroupConfig is the per-group summary schedule
type GroupConfig struct {
	Hour              int       `json:"hour" yaml:"hour"`
	Minute            int       `json:"minute" yaml:"minute"`
	LeastMessageCount int       `json:"least_message_count" yaml:"least_message_count"`
	Style             string    `json:"style,omitempty" yaml:"style,omitempty"`
	CreatedAt         time.Time `json:"created_at" yaml:"created_at,omitempty"`
	UpdatedAt         time.Time `json:"updated_at" yaml:"updated_at,omitempty"`
}

// Validate checks the schedule fields
func (c *GroupConfig) Validate() error {
	if c == nil {
		return errors.New("group config is nil")
	}
	if c.Hour < 0 || c.Hour > 23 {
		return errors.Newf("hour must be between 0 and 23, got %d", c.Hour)
	}
	if c.Minute < 0 || c.Minute > 59 {
		return errors.Newf("minute must be between 0 and 59, got %d", c.Minute)
	}
	if c.LeastMessageCount <= 0 {
		return errors.Newf("least_message_count must be positive, got %d", c.LeastMessageCount)
	}
	return nil
}

// Second returns the second-of-minute the group's job fires at.
// Always in [0, 59].
func (id GroupID) Second() int {
	s := int(int64(id) % 60)
	if s < 0 {
		s += 60
	}
	return s
}

// SummaryTask is a unit of work placed on the summary queue when a job fires
type SummaryTask struct {
	ID                string    `json:"id"`
	GroupID           GroupID   `json:"group_id"`
	LeastMessageCount int       `json:"least_message_count"`
	Style             string    `json:"style,omitempty"`
	ScheduledAt       time.Time `json:"scheduled_at"`
}

// Job is a recurring summary job registered in the scheduler
type Job struct {
	Name    string    `json:"name"`
	GroupID GroupID   `json:"group_id"`
	Spec    string    `json:"spec"`
	Next    time.Time `json:"next,omitempty"`
	Prev    time.Time `json:"prev,omitempty"`
}
