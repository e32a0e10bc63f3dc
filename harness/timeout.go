package harness

import "time"

// Default timeouts for each stage of a check.
const (
	DefaultNavigationTimeout  = 30 * time.Second
	DefaultReadinessTimeout   = 30 * time.Second
	DefaultInteractionTimeout = 15 * time.Second
	DefaultCaptureTimeout     = 10 * time.Second

	DefaultNetworkIdleQuiet = 500 * time.Millisecond
	DefaultPollInterval     = 100 * time.Millisecond
)

// Timeouts overrides stage timeouts. Zero values inherit.
type Timeouts struct {
	Navigation  time.Duration `json:"navigation" yaml:"navigation"`
	Readiness   time.Duration `json:"readiness" yaml:"readiness"`
	Interaction time.Duration `json:"interaction" yaml:"interaction"`
	Capture     time.Duration `json:"capture" yaml:"capture"`
}

func (t Timeouts) validate() error {
	for name, d := range map[string]time.Duration{
		"navigation":  t.Navigation,
		"readiness":   t.Readiness,
		"interaction": t.Interaction,
		"capture":     t.Capture,
	} {
		if d < 0 {
			return invalidf("%s timeout must be positive, got %s", name, d)
		}
	}
	return nil
}

// TimeoutSettings holds stage timeouts. Unset values are looked up in the
// parent, so a suite can set defaults that individual checks override.
type TimeoutSettings struct {
	parent *TimeoutSettings

	defaultTimeout     *time.Duration
	navigationTimeout  *time.Duration
	readinessTimeout   *time.Duration
	interactionTimeout *time.Duration
	captureTimeout     *time.Duration
}

// NewTimeoutSettings creates a new timeout settings object.
func NewTimeoutSettings(parent *TimeoutSettings) *TimeoutSettings {
	return &TimeoutSettings{parent: parent}
}

// SetDefault sets the timeout used by every stage without its own value.
func (t *TimeoutSettings) SetDefault(d time.Duration) { t.defaultTimeout = &d }

func (t *TimeoutSettings) SetNavigation(d time.Duration)  { t.navigationTimeout = &d }
func (t *TimeoutSettings) SetReadiness(d time.Duration)   { t.readinessTimeout = &d }
func (t *TimeoutSettings) SetInteraction(d time.Duration) { t.interactionTimeout = &d }
func (t *TimeoutSettings) SetCapture(d time.Duration)     { t.captureTimeout = &d }

// Apply sets every non-zero value of o.
func (t *TimeoutSettings) Apply(o Timeouts) {
	if o.Navigation > 0 {
		t.SetNavigation(o.Navigation)
	}
	if o.Readiness > 0 {
		t.SetReadiness(o.Readiness)
	}
	if o.Interaction > 0 {
		t.SetInteraction(o.Interaction)
	}
	if o.Capture > 0 {
		t.SetCapture(o.Capture)
	}
}

func (t *TimeoutSettings) Navigation() time.Duration {
	return t.lookup(func(s *TimeoutSettings) *time.Duration { return s.navigationTimeout }, DefaultNavigationTimeout)
}

func (t *TimeoutSettings) Readiness() time.Duration {
	return t.lookup(func(s *TimeoutSettings) *time.Duration { return s.readinessTimeout }, DefaultReadinessTimeout)
}

func (t *TimeoutSettings) Interaction() time.Duration {
	return t.lookup(func(s *TimeoutSettings) *time.Duration { return s.interactionTimeout }, DefaultInteractionTimeout)
}

func (t *TimeoutSettings) Capture() time.Duration {
	return t.lookup(func(s *TimeoutSettings) *time.Duration { return s.captureTimeout }, DefaultCaptureTimeout)
}

func (t *TimeoutSettings) lookup(field func(*TimeoutSettings) *time.Duration, fallback time.Duration) time.Duration {
	if t == nil {
		return fallback
	}
	if d := field(t); d != nil {
		return *d
	}
	if t.defaultTimeout != nil {
		return *t.defaultTimeout
	}
	return t.parent.lookup(field, fallback)
}
