// SPDX-FileCopyrightText: SAP SE or an SAP affiliate company and Gardener contributors
//
// SPDX-License-Identifier: Apache-2.0

// Package engine implements the placement decision: given the current
// per-job executor counts and a target spot ratio, choose the capacity
// type for the next executor. The engine is a pure, in-memory function;
// callers are responsible for serializing read-decide-write cycles.
package engine

import "github.com/spotbalancer/admission-webhook/pkg/placement/codec"

// Mode selects between enforcing the ratio with counters (STRICT) and
// making no placement decision at all (BEST_EFFORT).
type Mode string

const (
	// Strict enforces the configured ratio and maintains the counter.
	Strict Mode = "STRICT"
	// BestEffort never labels a pod for capacity type and never mutates
	// the counter; the autoscaler is free to place opportunistically.
	BestEffort Mode = "BEST_EFFORT"
)

// CapacityType is the node-selector value chosen for an executor, or the
// empty/unlabeled choice made under BEST_EFFORT.
type CapacityType string

const (
	// Spot selects the spot-instance node pool.
	Spot CapacityType = "spot"
	// OnDemand selects the on-demand node pool.
	OnDemand CapacityType = "on-demand"
	// Unlabeled means no capacity-type selector should be applied.
	Unlabeled CapacityType = ""
)

// Decision is the transient result of one placement call.
type Decision struct {
	CapacityType CapacityType
	UpdatedCount codec.ExecutorCount
}

// Decide picks the capacity type for the next executor of a job given its
// current counts and target ratio, and returns the counts that result from
// admitting it. Decide never mutates counts; under BestEffort it returns
// the counts unchanged.
func Decide(counts codec.ExecutorCount, ratio float64, mode Mode) Decision {
	if mode == BestEffort {
		return Decision{CapacityType: Unlabeled, UpdatedCount: counts}
	}

	ratio = codec.Clamp(ratio)
	choice := chooseStrict(counts, ratio)

	updated := counts
	if choice == Spot {
		updated.Spot++
	} else {
		updated.OnDemand++
	}
	return Decision{CapacityType: choice, UpdatedCount: updated}
}

// chooseStrict implements the STRICT algorithm from the placement spec:
// pick whichever capacity type brings the running spot ratio closest to
// the target, preferring spot on ties, with r=1.0/r=0.0 as absolute
// boundaries regardless of current counts.
func chooseStrict(counts codec.ExecutorCount, ratio float64) CapacityType {
	if ratio >= 1.0 {
		return Spot
	}
	if ratio <= 0.0 {
		return OnDemand
	}

	total := counts.OnDemand + counts.Spot
	if total == 0 {
		if ratio >= 0.5 {
			return Spot
		}
		return OnDemand
	}

	newTotal := float64(total + 1)
	ratioIfSpot := (float64(counts.Spot) + 1) / newTotal
	ratioIfOnDemand := float64(counts.Spot) / newTotal

	distSpot := absDiff(ratioIfSpot, ratio)
	distOnDemand := absDiff(ratioIfOnDemand, ratio)

	if distSpot <= distOnDemand {
		return Spot
	}
	return OnDemand
}

func absDiff(a, b float64) float64 {
	if a > b {
		return a - b
	}
	return b - a
}
