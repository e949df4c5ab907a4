// Copyright 2018 Google LLC
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package applog bootstraps process-wide logging: a file-backed
// google/logger instance for lifecycle events, with google/deck attached to
// the same writer for every component's structured log lines.
package applog

import (
	"os"

	"github.com/google/deck"
	deckLogger "github.com/google/deck/backends/logger"
	"github.com/google/logger"
)

// Init opens logPath for append, wires both logger (the teacher main.go's
// own top-level facility) and deck (every internal package's structured
// log lines) to it, and returns a close func for deferred cleanup.
func Init(serviceName, logPath string, debug bool) (close func(), err error) {
	lf, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0664)
	if err != nil {
		return nil, err
	}

	loggerCloser := logger.Init(serviceName, debug, true, lf)
	deck.Add(deckLogger.Init(serviceName, debug, true, lf))

	return func() {
		loggerCloser.Close()
		lf.Close()
	}, nil
}
