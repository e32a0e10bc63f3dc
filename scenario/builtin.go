// Package scenario holds the built-in verification checks of the ISS
// Detector and IoT applications, and loads user defined suites from YAML.
package scenario

import (
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/liuxd6825/vischeck/errext"
	"github.com/liuxd6825/vischeck/errext/exitcodes"
	"github.com/liuxd6825/vischeck/harness"
)

// Defaults used by the built-in checks.
const (
	DefaultBaseURL   = "http://localhost:3001"
	DefaultOutputDir = "jules-scratch/verification"
)

// ErrUnknownScenario is returned for names that are not built in.
var ErrUnknownScenario = errext.WithExitCodeIfNone(errors.New("unknown scenario"), exitcodes.InvalidConfig)

const sliderSelector = "#predictionLengthSlider"

// Builtin describes a built-in check.
type Builtin struct {
	Name        string `yaml:"name"`
	Description string `yaml:"description"`
	build       func(outDir string) harness.Check
}

var builtins = []Builtin{
	{
		Name:        "cloud-fix",
		Description: "ISS detector sketch holder renders; element screenshot",
		build: func(out string) harness.Check {
			return harness.Check{
				URL:       "/iss-detector",
				Readiness: harness.WaitVisible("#sketch-holder", 0),
				Capture:   harness.Capture{Path: filepath.Join(out, "verification.png"), Selector: "#sketch-holder"},
			}
		},
	},
	{
		Name:        "cloud-map",
		Description: "p5 canvas visible, 5s for textures to load; viewport screenshot",
		build: func(out string) harness.Check {
			return harness.Check{
				URL:          "/iss-detector",
				Readiness:    harness.WaitVisible("#defaultCanvas0", 30*time.Second),
				Interactions: []harness.Interaction{harness.Await(harness.WaitDelay(5 * time.Second))},
				Capture:      harness.Capture{Path: filepath.Join(out, "verification.png")},
			}
		},
	},
	{
		Name:        "iss-detector",
		Description: "ISS detector with the pass entry and exit times visible",
		build: func(out string) harness.Check {
			return harness.Check{
				URL:       "/iss-detector",
				Readiness: harness.WaitVisible("#sketch-holder", 0),
				Interactions: []harness.Interaction{
					harness.Await(harness.WaitVisible("#pass-entry-time", 0)),
					harness.Await(harness.WaitVisible("#pass-exit-time", 0)),
				},
				Capture: harness.Capture{Path: filepath.Join(out, "iss_detector_verification.png")},
			}
		},
	},
	{
		Name:        "iot-page",
		Description: "IoT page after the network settled",
		build: func(out string) harness.Check {
			return harness.Check{
				URL:       "/iot",
				Readiness: harness.WaitNetworkIdle(0),
				Capture:   harness.Capture{Path: filepath.Join(out, "iot_page.png")},
			}
		},
	},
	{
		Name:        "device-config-profile",
		Description: "follow the Create Config Profile link from the IoT page",
		build: func(out string) harness.Check {
			return harness.Check{
				URL:       "/iot",
				Readiness: harness.WaitNetworkIdle(0),
				Interactions: []harness.Interaction{
					harness.Click(harness.LinkNamed("Create Config Profile")),
					harness.ExpectURL("/device-config-profile"),
					harness.Await(harness.WaitNetworkIdle(0)),
				},
				Capture: harness.Capture{Path: filepath.Join(out, "device_config_profile_page.png")},
			}
		},
	},
	{
		Name:        "slider-update",
		Description: "set the prediction length slider to 6480 and let the sketch re-render",
		build: func(out string) harness.Check {
			return harness.Check{
				URL:       "/iss-detector",
				Readiness: harness.WaitVisible("#sketch-holder canvas", 45*time.Second),
				Interactions: []harness.Interaction{
					harness.Await(harness.WaitAttribute(sliderSelector, "max", "6480")),
					harness.Fill(sliderSelector, "6480"),
					harness.Await(harness.WaitDelay(20 * time.Second)),
				},
				Capture:   harness.Capture{Path: filepath.Join(out, "final_verification.png")},
				ErrorPath: filepath.Join(out, "error.png"),
				Console:   true,
				Timeouts:  harness.Timeouts{Navigation: 90 * time.Second},
			}
		},
	},
}

// Builtins lists the built-in checks in run order.
func Builtins() []Builtin {
	return append([]Builtin(nil), builtins...)
}

// Names returns the built-in check names, sorted.
func Names() []string {
	names := make([]string, 0, len(builtins))
	for _, b := range builtins {
		names = append(names, b.Name)
	}
	sort.Strings(names)
	return names
}

// Check builds the named built-in check writing its artifacts to outDir.
func Check(name, outDir string) (harness.Check, error) {
	for _, b := range builtins {
		if b.Name == name {
			c := b.build(outDir)
			c.Name = b.Name
			return c, nil
		}
	}
	return harness.Check{}, fmt.Errorf("%w %q, available: %s", ErrUnknownScenario, name, strings.Join(Names(), ", "))
}

// Select builds the named checks in the given order, or every built-in
// check when names is empty.
func Select(names []string, outDir string) ([]harness.Check, error) {
	if len(names) == 0 {
		for _, b := range builtins {
			names = append(names, b.Name)
		}
	}
	checks := make([]harness.Check, 0, len(names))
	for _, name := range names {
		c, err := Check(name, outDir)
		if err != nil {
			return nil, err
		}
		checks = append(checks, c)
	}
	return checks, nil
}
