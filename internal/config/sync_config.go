package config

import "time"

// MinBackgroundPollInterval is the tightest cadence for checks while the app
// is not frontmost.
const MinBackgroundPollInterval = 15 * time.Minute

type Sync struct {
	file *File
}

var _ SyncConfig = Sync{}

func (s Sync) GetRequestTimeout() time.Duration {
	return GetDuration("DIETSYNC_REQUEST_TIMEOUT", s.file.dur(func(f *File) time.Duration { return f.RequestTimeout }, 15*time.Second))
}

func (s Sync) GetRenewalTimeout() time.Duration {
	return GetDuration("DIETSYNC_RENEWAL_TIMEOUT", s.file.dur(func(f *File) time.Duration { return f.RenewalTimeout }, 15*time.Second))
}

func (s Sync) GetForegroundPollInterval() time.Duration {
	return GetDuration("DIETSYNC_POLL_INTERVAL", s.file.dur(func(f *File) time.Duration { return f.PollInterval }, 30*time.Second))
}

func (s Sync) GetBackgroundPollInterval() time.Duration {
	d := GetDuration("DIETSYNC_BACKGROUND_POLL_INTERVAL", s.file.dur(func(f *File) time.Duration { return f.BackgroundPollInterval }, MinBackgroundPollInterval))
	if d < MinBackgroundPollInterval {
		return MinBackgroundPollInterval
	}
	return d
}

func (s Sync) GetReconnectBaseDelay() time.Duration {
	return GetDuration("DIETSYNC_RECONNECT_BASE", s.file.dur(func(f *File) time.Duration { return f.ReconnectBase }, 1*time.Second))
}

func (s Sync) GetReconnectMaxDelay() time.Duration {
	return GetDuration("DIETSYNC_RECONNECT_MAX", s.file.dur(func(f *File) time.Duration { return f.ReconnectMax }, 30*time.Second))
}
