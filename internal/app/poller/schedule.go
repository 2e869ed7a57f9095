package poller

import "time"

// State is the per-group bookkeeping owned by a single worker. Zero
// LastPoll / LastRecording mean "never happened".
type State struct {
	Start         time.Time
	LastPoll      time.Time
	LastRecording time.Time
}

// MissedIterations counts whole intervals elapsed since last. It is only
// used for drift warnings and never alters the schedule.
func MissedIterations(now, last time.Time, interval time.Duration) int {
	if interval <= 0 {
		return 0
	}
	elapsed := now.Sub(last)
	if elapsed <= 0 {
		return 0
	}
	return int(elapsed / interval)
}

// ShouldRecord decides whether the cached values are forwarded at now.
// After the first recording a forward needs the recording interval to have
// elapsed and a poll in the second half of the current window.
func ShouldRecord(s State, now time.Time, interval time.Duration) bool {
	if s.LastPoll.IsZero() {
		return false
	}
	if s.LastRecording.IsZero() {
		return true
	}
	cadence := now.Sub(s.LastRecording) > interval
	fresh := s.LastPoll.After(s.LastRecording.Add(interval / 2))
	return cadence && fresh
}

// SleepDuration returns the wait until the next multiple of interval since
// start, keeping the cadence phase-aligned whatever an iteration costs.
func SleepDuration(now, start time.Time, interval time.Duration) time.Duration {
	if interval <= 0 {
		return 0
	}
	elapsed := now.Sub(start)
	if elapsed < 0 {
		return interval
	}
	return interval - elapsed%interval
}

func (s State) pollReference() time.Time {
	if s.LastPoll.IsZero() {
		return s.Start
	}
	return s.LastPoll
}

func (s State) recordingReference() time.Time {
	if s.LastRecording.IsZero() {
		return s.Start
	}
	return s.LastRecording
}
