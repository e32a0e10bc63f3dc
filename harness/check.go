package harness

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"
)

// Capture describes the evidence screenshot of a check.
type Capture struct {
	// Path is where the PNG is written. It is overwritten on every run.
	Path string
	// Selector limits the screenshot to an element's bounding box.
	Selector string
	FullPage bool
}

// Check is a single verification: one browser session, one target, one
// piece of evidence.
type Check struct {
	Name         string
	URL          string
	Readiness    Readiness
	Interactions []Interaction
	Capture      Capture

	// ErrorPath is where the diagnostic screenshot goes when the check
	// fails. Empty means "error-<base name of Capture.Path>" next to it.
	ErrorPath string
	// Console prints the browser console transcript after the run.
	Console  bool
	Viewport Viewport
	Timeouts Timeouts
}

// Validate reports the first problem found in c.
func (c Check) Validate() error {
	if strings.TrimSpace(c.URL) == "" {
		return invalidf("check %q has no url", c.Name)
	}
	if c.Capture.Path == "" {
		return invalidf("check %q has no artifact path", c.Name)
	}
	if c.Viewport.Width < 0 || c.Viewport.Height < 0 {
		return invalidf("check %q has a negative viewport", c.Name)
	}
	if err := c.Timeouts.validate(); err != nil {
		return fmt.Errorf("check %q: %w", c.Name, err)
	}
	if err := c.Readiness.Validate(); err != nil {
		return fmt.Errorf("check %q: %w", c.Name, err)
	}
	for n, i := range c.Interactions {
		if err := i.Validate(); err != nil {
			return fmt.Errorf("check %q step %d: %w", c.Name, n+1, err)
		}
	}
	return nil
}

// ErrorArtifactPath returns where the diagnostic screenshot is written.
func (c Check) ErrorArtifactPath() string {
	if c.ErrorPath != "" {
		return c.ErrorPath
	}
	dir, base := filepath.Split(c.Capture.Path)
	return filepath.Join(dir, "error-"+base)
}

// ArtifactKind tells evidence and diagnostic screenshots apart.
type ArtifactKind string

const (
	ArtifactScreenshot      ArtifactKind = "screenshot"
	ArtifactErrorScreenshot ArtifactKind = "error-screenshot"
)

// Artifact is a persisted screenshot.
type Artifact struct {
	Path   string       `json:"path"`
	Kind   ArtifactKind `json:"kind"`
	Size   int          `json:"size"`
	Width  int          `json:"width"`
	Height int          `json:"height"`
}

// Stage is a phase of a check run.
type Stage string

const (
	StageLaunch    Stage = "launch"
	StageNavigate  Stage = "navigate"
	StageReadiness Stage = "readiness"
	StageInteract  Stage = "interact"
	StageCapture   Stage = "capture"
)

// StageTiming records how long a stage took.
type StageTiming struct {
	Stage    Stage         `json:"stage"`
	Duration time.Duration `json:"duration"`
}

// Result describes a finished run. It is returned for failed runs too.
type Result struct {
	RunID         string        `json:"run_id"`
	Check         string        `json:"check"`
	URL           string        `json:"url"`
	Artifact      *Artifact     `json:"artifact,omitempty"`
	ErrorArtifact *Artifact     `json:"error_artifact,omitempty"`
	Transcript    []string      `json:"transcript,omitempty"`
	Stages        []StageTiming `json:"stages"`
	Duration      time.Duration `json:"duration"`
}
