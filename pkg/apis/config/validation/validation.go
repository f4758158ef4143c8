// SPDX-FileCopyrightText: SAP SE or an SAP affiliate company and Gardener contributors
//
// SPDX-License-Identifier: Apache-2.0

// Package validation validates a config.Config before it is frozen and
// used to start the webhook server.
package validation

import (
	"math"

	"k8s.io/apimachinery/pkg/util/validation/field"

	"github.com/spotbalancer/admission-webhook/pkg/apis/config"
	"github.com/spotbalancer/admission-webhook/pkg/placement/engine"
)

// ValidateConfig checks that conf is complete and internally consistent.
// Any error here is fatal at startup — the spec treats missing/invalid
// required configuration as the one error class that should stop the
// process rather than degrade gracefully.
func ValidateConfig(conf *config.Config) field.ErrorList {
	var allErrs field.ErrorList

	switch conf.SpotPreference {
	case engine.Strict, engine.BestEffort:
	default:
		allErrs = append(allErrs, field.NotSupported(field.NewPath("spotPreference"), conf.SpotPreference, []string{string(engine.Strict), string(engine.BestEffort)}))
	}

	if math.IsNaN(conf.DefaultSpotRatio) || math.IsInf(conf.DefaultSpotRatio, 0) {
		allErrs = append(allErrs, field.Invalid(field.NewPath("defaultSpotRatio"), conf.DefaultSpotRatio, "must be a finite number"))
	} else if conf.DefaultSpotRatio < 0 || conf.DefaultSpotRatio > 1 {
		allErrs = append(allErrs, field.Invalid(field.NewPath("defaultSpotRatio"), conf.DefaultSpotRatio, "must be in [0.0, 1.0]"))
	}

	if conf.RedisURL == "" {
		allErrs = append(allErrs, field.Required(field.NewPath("redisURL"), "is required"))
	}

	if conf.WebhookTimeout <= 0 {
		allErrs = append(allErrs, field.Invalid(field.NewPath("webhookTimeout"), conf.WebhookTimeout, "must be positive"))
	}
	if conf.RedisDefaultTTL <= 0 {
		allErrs = append(allErrs, field.Invalid(field.NewPath("redisDefaultTTL"), conf.RedisDefaultTTL, "must be positive"))
	}
	if conf.LockTTL <= 0 {
		allErrs = append(allErrs, field.Invalid(field.NewPath("lockTTL"), conf.LockTTL, "must be positive"))
	}
	if conf.ReconcileEnabled && conf.ReconcileInterval <= 0 {
		allErrs = append(allErrs, field.Invalid(field.NewPath("reconcileInterval"), conf.ReconcileInterval, "must be positive when reconciliation is enabled"))
	}

	for _, f := range []struct {
		name  string
		value string
	}{
		{"capacityTypeLabel", conf.CapacityTypeLabel},
		{"workloadRoleLabel", conf.WorkloadRoleLabel},
		{"driverRoleValue", conf.DriverRoleValue},
		{"executorRoleValue", conf.ExecutorRoleValue},
		{"jobIDLabel", conf.JobIDLabel},
		{"spotRatioAnnotation", conf.SpotRatioAnnotation},
	} {
		if f.value == "" {
			allErrs = append(allErrs, field.Required(field.NewPath(f.name), "is required"))
		}
	}

	if conf.DriverRoleValue != "" && conf.DriverRoleValue == conf.ExecutorRoleValue {
		allErrs = append(allErrs, field.Invalid(field.NewPath("executorRoleValue"), conf.ExecutorRoleValue, "must differ from driverRoleValue"))
	}

	if conf.Port <= 0 || conf.Port > 65535 {
		allErrs = append(allErrs, field.Invalid(field.NewPath("port"), conf.Port, "must be a valid TCP port"))
	}
	if conf.HealthProbePort <= 0 || conf.HealthProbePort > 65535 {
		allErrs = append(allErrs, field.Invalid(field.NewPath("healthProbePort"), conf.HealthProbePort, "must be a valid TCP port"))
	}

	return allErrs
}
