/*
 *
 * k6 - a next-generation load testing tool
 * Copyright (C) 2016 Load Impact
 *
 * This program is free software: you can redistribute it and/or modify
 * it under the terms of the GNU Affero General Public License as
 * published by the Free Software Foundation, either version 3 of the
 * License, or (at your option) any later version.
 *
 * This program is distributed in the hope that it will be useful,
 * but WITHOUT ANY WARRANTY; without even the implied warranty of
 * MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
 * GNU Affero General Public License for more details.
 *
 * You should have received a copy of the GNU Affero General Public License
 * along with this program.  If not, see <http://www.gnu.org/licenses/>.
 *
 */

// Package version reports the vischeck version.
package version

import (
	"fmt"
	"runtime"
	"runtime/debug"
)

// Version represents a semver; vischeck uses semantic versioning (http://semver.org/)
type Version struct {
	Major uint
	Minor uint
	Patch uint
}

// Current represents the current version and can be shared across packages
var Current = Version{Major: 0, Minor: 3, Patch: 0}

// Full returns the full semantic version as a string major.minor.patch
func Full() string {
	return fmt.Sprintf("%d.%d.%d", Current.Major, Current.Minor, Current.Patch)
}

// Details returns the version and build details, as printed by
// `vischeck version --json`.
func Details() map[string]string {
	v := map[string]string{
		"version":    "v" + Full(),
		"go_version": runtime.Version(),
		"go_os":      runtime.GOOS,
		"go_arch":    runtime.GOARCH,
	}
	if info, ok := debug.ReadBuildInfo(); ok {
		for _, s := range info.Settings {
			switch s.Key {
			case "vcs.revision":
				v["commit"] = s.Value
			case "vcs.modified":
				if s.Value == "true" {
					v["commit_dirty"] = "true"
				}
			}
		}
	}
	return v
}

// String returns a one line description of the version and build.
func String() string {
	d := Details()
	s := d["version"]
	if c, ok := d["commit"]; ok {
		if len(c) > 10 {
			c = c[:10]
		}
		if d["commit_dirty"] == "true" {
			c += "-dirty"
		}
		s += " (commit/" + c + ")"
	}
	return fmt.Sprintf("%s, %s, %s/%s", s, d["go_version"], d["go_os"], d["go_arch"])
}
