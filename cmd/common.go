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

package cmd

import (
	"os"
	"syscall"

	"github.com/spf13/pflag"
	"gopkg.in/guregu/null.v3"

	"github.com/liuxd6825/vischeck/cmd/state"
	"github.com/liuxd6825/vischeck/errext/exitcodes"
	"github.com/liuxd6825/vischeck/lib/types"
)

// Panic if the given error is not nil.
func must(err error) {
	if err != nil {
		panic(err)
	}
}

func getNullBool(flags *pflag.FlagSet, key string) null.Bool {
	v, err := flags.GetBool(key)
	if err != nil {
		panic(err)
	}
	return null.NewBool(v, flags.Changed(key))
}

func getNullDuration(flags *pflag.FlagSet, key string) types.NullDuration {
	v, err := flags.GetDuration(key)
	if err != nil {
		panic(err)
	}
	return types.NewNullDuration(v, flags.Changed(key))
}

func getNullString(flags *pflag.FlagSet, key string) null.String {
	v, err := flags.GetString(key)
	if err != nil {
		panic(err)
	}
	return null.NewString(v, flags.Changed(key))
}

// handleAbortSignals traps interrupts and calls gracefulStop on the first
// one. A second signal exits immediately.
func handleAbortSignals(gs *state.GlobalState, gracefulStop func(os.Signal)) (stop func()) {
	gs.Logger.Debug("Trapping interrupt signals so vischeck can close the browser...")
	sigC := make(chan os.Signal, 2)
	done := make(chan struct{})
	gs.SignalNotify(sigC, os.Interrupt, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		select {
		case sig := <-sigC:
			gracefulStop(sig)
		case <-done:
			return
		}

		select {
		case <-sigC:
			gs.OSExit(int(exitcodes.ExternalAbort))
		case <-done:
			return
		}
	}()

	return func() {
		gs.Logger.Debug("Releasing signal trap...")
		close(done)
		gs.SignalStop(sigC)
	}
}
