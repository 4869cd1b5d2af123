package domain

import (
	"encoding/json"
	"time"
)

// TimerState is either stopped or running since a point in time.
// It serializes as an RFC3339 timestamp while running and as null while stopped.
type TimerState struct {
	since *time.Time
}

func Stopped() TimerState { return TimerState{} }

func RunningSince(t time.Time) TimerState {
	t = t.UTC()
	return TimerState{since: &t}
}

func (s TimerState) Running() bool { return s.since != nil }

// Since returns the start time and whether the timer is running.
func (s TimerState) Since() (time.Time, bool) {
	if s.since == nil {
		return time.Time{}, false
	}
	return *s.since, true
}

// Elapsed returns whole seconds between the start and now. A stopped timer or a start in the
// future yields zero.
func (s TimerState) Elapsed(now time.Time) int64 {
	if s.since == nil {
		return 0
	}
	d := now.Sub(*s.since)
	if d <= 0 {
		return 0
	}
	return int64(d / time.Second)
}

// String returns the stored form: RFC3339 while running, empty while stopped.
func (s TimerState) String() string {
	if s.since == nil {
		return ""
	}
	return s.since.UTC().Format(time.RFC3339)
}

// ParseTimerState reads the stored form. Empty or unparsable input is a stopped timer.
func ParseTimerState(v string) TimerState {
	if v == "" {
		return Stopped()
	}
	t, err := time.Parse(time.RFC3339, v)
	if err != nil {
		return Stopped()
	}
	return RunningSince(t)
}

func (s TimerState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *TimerState) UnmarshalText(data []byte) error {
	*s = ParseTimerState(string(data))
	return nil
}

func (s TimerState) MarshalJSON() ([]byte, error) {
	if s.since == nil {
		return []byte("null"), nil
	}
	return json.Marshal(s.String())
}

func (s *TimerState) UnmarshalJSON(data []byte) error {
	var raw *string
	if err := json.Unmarshal(data, &raw); err != nil || raw == nil {
		*s = Stopped()
		return nil
	}
	*s = ParseTimerState(*raw)
	return nil
}
