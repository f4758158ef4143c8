// SPDX-FileCopyrightText: SAP SE or an SAP affiliate company and Gardener contributors
//
// SPDX-License-Identifier: Apache-2.0

// Package config holds the frozen, process-wide configuration surface for
// the spot-ratio admission webhook. A Config is read once from flags/env
// at startup, validated, and never mutated afterwards.
package config

import (
	"time"

	"github.com/spotbalancer/admission-webhook/pkg/logging"
	"github.com/spotbalancer/admission-webhook/pkg/placement/engine"
)

// Config is the full set of named options recognized by the webhook,
// mirroring the env-var table in the system specification one field per
// row.
type Config struct {
	// SpotPreference selects STRICT or BEST_EFFORT placement.
	SpotPreference engine.Mode
	// DefaultSpotRatio is the fallback target ratio, clamped to [0,1].
	DefaultSpotRatio float64

	// WebhookTimeout bounds a single admission handler invocation.
	WebhookTimeout time.Duration

	// RedisURL is the state-store endpoint (required).
	RedisURL string
	// RedisDefaultTTL is applied to counter and ratio records.
	RedisDefaultTTL time.Duration
	// LockTTL bounds how long a per-key lock can be held before it is
	// considered abandoned.
	LockTTL time.Duration

	// CapacityTypeLabel is the node-selector key for capacity type.
	CapacityTypeLabel string
	// WorkloadRoleLabel is the pod label key carrying the workload role.
	WorkloadRoleLabel string
	// DriverRoleValue and ExecutorRoleValue are the role label values.
	DriverRoleValue   string
	ExecutorRoleValue string
	// JobIDLabel is the pod label key carrying the job identifier.
	JobIDLabel string
	// SpotRatioAnnotation is the driver-pod annotation key carrying the
	// target ratio.
	SpotRatioAnnotation string

	// ReconcileEnabled toggles the background reconciliation loop.
	ReconcileEnabled bool
	// ReconcileInterval is the cadence of the reconciliation loop.
	ReconcileInterval time.Duration

	// LogLevel and LogFormat configure the process-wide logger.
	LogLevel  logging.Level
	LogFormat logging.Format

	// Port is the admission-webhook HTTPS listen port.
	Port int
	// HealthProbePort serves /healthz and /metrics.
	HealthProbePort int
	// CertDir holds the TLS serving certificate (out of scope for this
	// system beyond naming the directory — rotation/issuance is handled
	// by an external collaborator).
	CertDir string
}
