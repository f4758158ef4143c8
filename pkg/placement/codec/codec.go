// SPDX-FileCopyrightText: SAP SE or an SAP affiliate company and Gardener contributors
//
// SPDX-License-Identifier: Apache-2.0

// Package codec encodes and decodes the compact records kept in the state
// store: per-job executor counters and cached target ratios.
package codec

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/go-logr/logr"
)

// ExecutorCount is the per-job (on_demand, spot) counter record.
type ExecutorCount struct {
	OnDemand int64
	Spot     int64
}

const counterDelimiter = ":"

// EncodeExecutorCount renders a counter as "<on_demand>:<spot>".
func EncodeExecutorCount(c ExecutorCount) string {
	return fmt.Sprintf("%d%s%d", c.OnDemand, counterDelimiter, c.Spot)
}

// DecodeExecutorCount parses a stored counter value. A missing key (empty
// string) decodes to the zero value. A malformed value resets to the zero
// value and logs a warning rather than failing the caller — callers on the
// hot admission path must never be blocked by a corrupt record.
func DecodeExecutorCount(log logr.Logger, raw string) ExecutorCount {
	if raw == "" {
		return ExecutorCount{}
	}

	parts := strings.SplitN(raw, counterDelimiter, 2)
	if len(parts) != 2 {
		log.Info("resetting malformed executor-count record", "value", raw)
		return ExecutorCount{}
	}

	onDemand, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil || onDemand < 0 {
		log.Info("resetting malformed executor-count record", "value", raw)
		return ExecutorCount{}
	}
	spot, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil || spot < 0 {
		log.Info("resetting malformed executor-count record", "value", raw)
		return ExecutorCount{}
	}

	return ExecutorCount{OnDemand: onDemand, Spot: spot}
}

// EncodeRatio renders a ratio with enough precision to round-trip any value
// in [0.000, 1.000].
func EncodeRatio(ratio float64) string {
	return strconv.FormatFloat(ratio, 'f', 3, 64)
}

// DecodeRatio parses a stored ratio. Returns ok=false for an empty, NaN,
// infinite, or unparseable value so the caller can fall back to the
// configured default without caching the fallback.
func DecodeRatio(raw string) (ratio float64, ok bool) {
	if raw == "" {
		return 0, false
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, false
	}
	return Clamp(v), true
}

// Clamp restricts a ratio to the valid [0.0, 1.0] range.
func Clamp(ratio float64) float64 {
	switch {
	case ratio < 0:
		return 0
	case ratio > 1:
		return 1
	default:
		return ratio
	}
}
