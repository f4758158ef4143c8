// SPDX-FileCopyrightText: SAP SE or an SAP affiliate company and Gardener contributors
//
// SPDX-License-Identifier: Apache-2.0

// Package keys builds the opaque state-store keys used by the placement
// subsystem. Keeping key construction in one place means the counter and
// ratio families can never accidentally collide or drift in format.
package keys

import (
	"fmt"
	"strings"
)

// executorCountPrefix namespaces the counter key family, and is what the
// reconciler scans to enumerate every job currently tracked in the store.
const executorCountPrefix = "exec-count:"

// ExecutorCount returns the state-store key holding the (on_demand, spot)
// counter record for a job.
func ExecutorCount(namespace, jobID string) string {
	return executorCountPrefix + namespace + ":" + jobID
}

// ExecutorCountScanPattern returns the pattern the reconciler uses to scan
// the store for every tracked executor-count key.
func ExecutorCountScanPattern() string {
	return executorCountPrefix + "*"
}

// ParseExecutorCount extracts the (namespace, jobID) a counter key was
// built from. ok is false if key is not a well-formed executor-count key.
func ParseExecutorCount(key string) (namespace, jobID string, ok bool) {
	rest, found := strings.CutPrefix(key, executorCountPrefix)
	if !found {
		return "", "", false
	}
	namespace, jobID, found = strings.Cut(rest, ":")
	if !found || namespace == "" || jobID == "" {
		return "", "", false
	}
	return namespace, jobID, true
}

// JobRatio returns the state-store key holding the cached target spot
// ratio for a job.
func JobRatio(namespace, jobID string) string {
	return fmt.Sprintf("job-ratio:%s:%s", namespace, jobID)
}

// Lock returns the key used to guard read-modify-write access to the given
// underlying key. Locks are namespaced separately from the data they guard
// so a lock's TTL expiry can never be confused with the data's TTL.
func Lock(key string) string {
	return "lock:" + key
}
