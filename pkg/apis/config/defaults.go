// SPDX-FileCopyrightText: SAP SE or an SAP affiliate company and Gardener contributors
//
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"time"

	"github.com/spotbalancer/admission-webhook/pkg/logging"
	"github.com/spotbalancer/admission-webhook/pkg/placement/engine"
)

// SetDefaults fills unset fields with the component's documented startup
// defaults. It is idempotent and safe to call on a partially-populated
// Config built from flags, where pflag already applied its own per-flag
// defaults — this only backstops fields a caller constructs by hand (e.g.
// in tests).
func SetDefaults(c *Config) {
	if c.SpotPreference == "" {
		c.SpotPreference = engine.Strict
	}
	if c.WebhookTimeout == 0 {
		c.WebhookTimeout = 10 * time.Second
	}
	if c.RedisDefaultTTL == 0 {
		c.RedisDefaultTTL = 24 * time.Hour
	}
	if c.LockTTL == 0 {
		c.LockTTL = 5 * time.Second
	}
	if c.CapacityTypeLabel == "" {
		c.CapacityTypeLabel = "node.kubernetes.io/capacity-type"
	}
	if c.WorkloadRoleLabel == "" {
		c.WorkloadRoleLabel = "spark-role"
	}
	if c.DriverRoleValue == "" {
		c.DriverRoleValue = "driver"
	}
	if c.ExecutorRoleValue == "" {
		c.ExecutorRoleValue = "executor"
	}
	if c.JobIDLabel == "" {
		c.JobIDLabel = "spark-app-selector"
	}
	if c.SpotRatioAnnotation == "" {
		c.SpotRatioAnnotation = "scheduling.spotbalancer.io/spot-ratio"
	}
	if c.ReconcileInterval == 0 {
		c.ReconcileInterval = 5 * time.Minute
	}
	if c.LogLevel == "" {
		c.LogLevel = logging.InfoLevel
	}
	if c.LogFormat == "" {
		c.LogFormat = logging.FormatJSON
	}
	if c.Port == 0 {
		c.Port = 9443
	}
	if c.HealthProbePort == 0 {
		c.HealthProbePort = 8080
	}
}
