// SPDX-FileCopyrightText: SAP SE or an SAP affiliate company and Gardener contributors
//
// SPDX-License-Identifier: Apache-2.0

// Package reconciler runs the periodic background loop that lists live
// executor pods cluster-wide and overwrites the stored per-job counters
// with ground truth, correcting drift from missed admission/delete events.
package reconciler

import (
	"context"
	"fmt"

	"github.com/go-logr/logr"
	"github.com/robfig/cron/v3"
	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes"

	"github.com/spotbalancer/admission-webhook/pkg/apis/config"
	"github.com/spotbalancer/admission-webhook/pkg/metrics"
	"github.com/spotbalancer/admission-webhook/pkg/placement/balancer"
	"github.com/spotbalancer/admission-webhook/pkg/placement/codec"
	"github.com/spotbalancer/admission-webhook/pkg/placement/engine"
	"github.com/spotbalancer/admission-webhook/pkg/placement/keys"
)

// groupKey identifies one (namespace, job_id) group of executor pods.
type groupKey struct {
	namespace string
	jobID     string
}

// jobGroup holds both the capacity-type counter to write back and the
// total number of live executor pods observed for the job. podCount can
// be nonzero even when counts is the zero value, when a live executor has
// not yet been labeled with a recognized capacity-type selector (e.g. it
// was created before the mutating webhook ran) — that distinction is what
// decides whether a job is eligible for reaping.
type jobGroup struct {
	counts   codec.ExecutorCount
	podCount int
}

// Reconciler periodically recomputes per-job executor counts from the live
// cluster state and overwrites the stored counters to match.
type Reconciler struct {
	Conf     *config.Config
	Pods     kubernetes.Interface
	Balancer *balancer.Balancer
	Log      logr.Logger

	cron *cron.Cron
}

// Start schedules the reconciliation loop on the configured interval and
// begins running it in the background. It is a no-op if reconciliation is
// disabled. Call Stop to end the loop; Start does not block.
func (r *Reconciler) Start(ctx context.Context) {
	if !r.Conf.ReconcileEnabled {
		return
	}

	r.cron = cron.New()
	spec := fmt.Sprintf("@every %s", r.Conf.ReconcileInterval)
	if _, err := r.cron.AddFunc(spec, func() { r.RunOnce(ctx) }); err != nil {
		r.Log.Error(err, "failed to schedule reconciliation loop; reconciliation will not run")
		return
	}
	r.cron.Start()
}

// Stop ends the background loop, waiting for any in-flight run to finish.
func (r *Reconciler) Stop() {
	if r.cron != nil {
		<-r.cron.Stop().Done()
	}
}

// RunOnce performs a single reconciliation pass: list, group, overwrite.
// An error listing executor pods is logged and skips the whole pass. An
// error reaching the store for one group is logged and that group is
// skipped; a partial pass still corrects every group it reached.
func (r *Reconciler) RunOnce(ctx context.Context) {
	selector := fmt.Sprintf("%s=%s", r.Conf.WorkloadRoleLabel, r.Conf.ExecutorRoleValue)
	list, err := r.Pods.CoreV1().Pods(metav1.NamespaceAll).List(ctx, metav1.ListOptions{LabelSelector: selector})
	if err != nil {
		r.Log.Error(err, "reconciliation: failed to list executor pods; skipping this pass")
		metrics.ReconcileRuns.WithLabelValues("list_failed").Inc()
		return
	}

	groups := groupByJob(list.Items, r.Conf)

	for key, group := range groups {
		if err := r.Balancer.Overwrite(ctx, key.namespace, key.jobID, group.counts); err != nil {
			r.Log.Error(err, "reconciliation: failed to overwrite counter; will retry next pass", "namespace", key.namespace, "job", key.jobID)
			metrics.ReconcileGroupErrors.WithLabelValues("overwrite").Inc()
			continue
		}
	}

	r.reapDriverlessJobs(ctx, groups)
	metrics.ReconcileRuns.WithLabelValues("completed").Inc()
}

// groupByJob buckets executor pods by (namespace, job_id), counting each
// bucket by capacity-type node selector and separately tallying every
// live executor pod regardless of whether it carries a recognized
// capacity-type selector. Pods with no recognized capacity-type selector
// are ignored for the counter but still count toward podCount, and still
// keep the job present in the result.
func groupByJob(pods []corev1.Pod, conf *config.Config) map[groupKey]jobGroup {
	groups := map[groupKey]jobGroup{}

	for _, pod := range pods {
		jobID := pod.Labels[conf.JobIDLabel]
		if jobID == "" {
			continue
		}
		key := groupKey{namespace: pod.Namespace, jobID: jobID}
		group := groups[key]
		group.podCount++

		switch engine.CapacityType(pod.Spec.NodeSelector[conf.CapacityTypeLabel]) {
		case engine.Spot:
			group.counts.Spot++
		case engine.OnDemand:
			group.counts.OnDemand++
		}
		groups[key] = group
	}

	return groups
}

// reapDriverlessJobs deletes the stored counter for any tracked job that
// has zero live executor pods of any kind (not merely zero pods counted
// toward a recognized capacity type) and whose driver pod no longer
// exists. Reap candidates come from the store itself, via a prefix scan,
// rather than from groups: a job whose executors have all terminated has
// no entry in groups at all (groups is built from the current pod
// listing), so scanning the store is what makes it discoverable. A job
// that does appear in groups has at least one live executor pod and is
// never reaped, even if that pod lacks a recognized capacity-type
// selector and so contributes nothing to its counts.
func (r *Reconciler) reapDriverlessJobs(ctx context.Context, groups map[groupKey]jobGroup) {
	trackedKeys, err := r.Balancer.Store.Keys(ctx, keys.ExecutorCountScanPattern())
	if err != nil {
		r.Log.Error(err, "reconciliation: failed to list tracked counters; skipping reap pass")
		metrics.ReconcileGroupErrors.WithLabelValues("keys_list").Inc()
		return
	}

	driverSelector := fmt.Sprintf("%s=%s", r.Conf.WorkloadRoleLabel, r.Conf.DriverRoleValue)
	driverList, err := r.Pods.CoreV1().Pods(metav1.NamespaceAll).List(ctx, metav1.ListOptions{LabelSelector: driverSelector})
	if err != nil {
		r.Log.Error(err, "reconciliation: failed to list driver pods; skipping reap pass")
		metrics.ReconcileGroupErrors.WithLabelValues("driver_lookup").Inc()
		return
	}
	hasDriver := map[groupKey]bool{}
	for _, pod := range driverList.Items {
		jobID := pod.Labels[r.Conf.JobIDLabel]
		if jobID == "" {
			continue
		}
		hasDriver[groupKey{namespace: pod.Namespace, jobID: jobID}] = true
	}

	for _, trackedKey := range trackedKeys {
		namespace, jobID, ok := keys.ParseExecutorCount(trackedKey)
		if !ok {
			continue
		}
		key := groupKey{namespace: namespace, jobID: jobID}
		if groups[key].podCount > 0 || hasDriver[key] {
			continue
		}

		if err := r.Balancer.Forget(ctx, namespace, jobID); err != nil {
			r.Log.Error(err, "reconciliation: failed to reap driverless job", "namespace", namespace, "job", jobID)
			metrics.ReconcileGroupErrors.WithLabelValues("reap").Inc()
		}
	}
}
