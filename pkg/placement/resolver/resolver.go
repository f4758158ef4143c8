// SPDX-FileCopyrightText: SAP SE or an SAP affiliate company and Gardener contributors
//
// SPDX-License-Identifier: Apache-2.0

// Package resolver resolves a job's target spot ratio: a cached lookup
// backed by the driver pod's annotation, with a configured fallback.
package resolver

import (
	"context"
	"fmt"
	"time"

	"github.com/go-logr/logr"
	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes"

	"github.com/spotbalancer/admission-webhook/pkg/placement/codec"
	"github.com/spotbalancer/admission-webhook/pkg/placement/keys"
	"github.com/spotbalancer/admission-webhook/pkg/placement/store"
)

// Resolver resolves and caches per-job target spot ratios.
type Resolver struct {
	Store  store.Store
	Pods   kubernetes.Interface
	Log    logr.Logger
	TTL    time.Duration
	Labels struct {
		JobID               string
		WorkloadRole        string
		DriverRoleValue     string
		SpotRatioAnnotation string
	}
	DefaultRatio float64
}

// Resolve returns the target spot ratio for (namespace, jobID): cache hit,
// else driver-annotation lookup, else the configured default. A resolved
// fallback is never cached, so a later successful lookup can still
// populate the cache key.
func (r *Resolver) Resolve(ctx context.Context, namespace, jobID string) float64 {
	key := keys.JobRatio(namespace, jobID)

	raw, err := r.Store.Get(ctx, key)
	if err == nil {
		if ratio, ok := codec.DecodeRatio(raw); ok {
			return ratio
		}
	}

	ratio, found := r.lookupDriverRatio(ctx, namespace, jobID)
	if !found {
		return codec.Clamp(r.DefaultRatio)
	}

	if err := r.Store.Set(ctx, key, codec.EncodeRatio(ratio), r.TTL); err != nil {
		r.Log.Error(err, "failed to cache resolved spot ratio", "namespace", namespace, "job", jobID)
	}
	return ratio
}

// lookupDriverRatio finds the driver pod carrying a matching job-id label
// and reads its spot-ratio annotation. found is false if the driver is
// missing or the annotation is absent/unparseable — either way the caller
// falls back to the configured default without caching it.
func (r *Resolver) lookupDriverRatio(ctx context.Context, namespace, jobID string) (ratio float64, found bool) {
	selector := fmt.Sprintf("%s=%s,%s=%s", r.Labels.WorkloadRole, r.Labels.DriverRoleValue, r.Labels.JobID, jobID)

	list, err := r.Pods.CoreV1().Pods(namespace).List(ctx, metav1.ListOptions{LabelSelector: selector})
	if err != nil {
		r.Log.Error(err, "failed to look up driver pod", "namespace", namespace, "job", jobID)
		return 0, false
	}
	if len(list.Items) == 0 {
		return 0, false
	}

	driver := pickDriver(list.Items)
	raw, ok := driver.Annotations[r.Labels.SpotRatioAnnotation]
	if !ok {
		return 0, false
	}

	return codec.DecodeRatio(raw)
}

// pickDriver picks a single driver pod deterministically when more than
// one somehow matches the selector (e.g. during a driver restart).
func pickDriver(pods []corev1.Pod) corev1.Pod {
	best := pods[0]
	for _, p := range pods[1:] {
		if p.CreationTimestamp.After(best.CreationTimestamp.Time) {
			best = p
		}
	}
	return best
}
