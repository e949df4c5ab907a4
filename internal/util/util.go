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

// Package util holds small shared helpers used across the sync engine.
package util

import (
	"fmt"
	"os"
	"strings"
)

// PathExists reports whether path exists on disk.
func PathExists(path string) (bool, error) {
	if path == "" {
		return false, fmt.Errorf("PathExists: received empty string to test")
	}
	_, err := os.Stat(path)
	if os.IsNotExist(err) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// UniqueStrings returns a deduplicated representation of slice, preserving
// the order of first occurrence.
func UniqueStrings(slice []string) []string {
	var unique []string
	seen := make(map[string]bool, len(slice))
	for _, s := range slice {
		if !seen[s] {
			seen[s] = true
			unique = append(unique, s)
		}
	}
	return unique
}

// ContainsFold reports whether substr occurs within s, case-insensitively.
func ContainsFold(s, substr string) bool {
	return strings.Contains(strings.ToLower(s), strings.ToLower(substr))
}
