// SPDX-FileCopyrightText: SAP SE or an SAP affiliate company and Gardener contributors
//
// SPDX-License-Identifier: Apache-2.0

// Package mutate implements the pod CREATE admission handler: it resolves
// a job's target spot ratio, runs one placement decision under the
// per-job lock, and patches the pod's node selector accordingly.
package mutate

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/go-logr/logr"
	corev1 "k8s.io/api/core/v1"
	ctrlwebhook "sigs.k8s.io/controller-runtime/pkg/webhook"
	"sigs.k8s.io/controller-runtime/pkg/webhook/admission"

	webhookadmission "github.com/spotbalancer/admission-webhook/pkg/webhook/admission"

	"github.com/spotbalancer/admission-webhook/pkg/apis/config"
	"github.com/spotbalancer/admission-webhook/pkg/metrics"
	"github.com/spotbalancer/admission-webhook/pkg/placement/balancer"
	"github.com/spotbalancer/admission-webhook/pkg/placement/engine"
	"github.com/spotbalancer/admission-webhook/pkg/placement/resolver"
)

// Handler implements admission.Handler for pod CREATE requests.
type Handler struct {
	Conf     *config.Config
	Balancer *balancer.Balancer
	Resolver *resolver.Resolver
	Logger   logr.Logger
	Decoder  admission.Decoder
}

var _ admission.Handler = &Handler{}

// Handle decides spot/on-demand placement for the incoming pod and returns
// a patch response. It never returns allowed=false: every failure mode
// degrades to allow-unchanged per the fail-open contract.
func (h *Handler) Handle(ctx context.Context, req admission.Request) admission.Response {
	if h.Conf.WebhookTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.Conf.WebhookTimeout)
		defer cancel()
	}

	pod := &corev1.Pod{}
	if err := h.Decoder.Decode(req, pod); err != nil {
		h.Logger.Error(err, "failed to decode pod in mutate handler")
		return webhookadmission.Errored(http.StatusBadRequest, err)
	}

	if pod.Labels[h.Conf.WorkloadRoleLabel] != h.Conf.ExecutorRoleValue {
		return webhookadmission.Allowed("")
	}

	jobID := pod.Labels[h.Conf.JobIDLabel]
	if jobID == "" {
		return webhookadmission.Allowed("no job-id label; no placement applied")
	}

	namespace := pod.Namespace
	if namespace == "" {
		namespace = req.Namespace
	}

	ratio := h.Resolver.Resolve(ctx, namespace, jobID)

	decision, err := h.Balancer.Admit(ctx, namespace, jobID, ratio, h.Conf.SpotPreference)
	if err != nil {
		h.Logger.Error(err, "failed to admit executor; failing open", "namespace", namespace, "job", jobID)
		metrics.AdmissionFailOpen.WithLabelValues("mutate").Inc()
		return webhookadmission.Errored(http.StatusServiceUnavailable, err)
	}
	metrics.AdmissionDecisions.WithLabelValues(string(decision.CapacityType)).Inc()

	patched := pod.DeepCopy()
	if patched.Spec.NodeSelector == nil {
		patched.Spec.NodeSelector = map[string]string{}
	}
	patched.Spec.NodeSelector[h.Conf.WorkloadRoleLabel] = h.Conf.ExecutorRoleValue
	if decision.CapacityType != engine.Unlabeled {
		patched.Spec.NodeSelector[h.Conf.CapacityTypeLabel] = string(decision.CapacityType)
	}

	marshaledPod, err := json.Marshal(patched)
	if err != nil {
		h.Logger.Error(err, "failed to marshal patched pod")
		return webhookadmission.Errored(http.StatusInternalServerError, err)
	}

	return admission.PatchResponseFromRaw(req.Object.Raw, marshaledPod)
}

// AddToManager registers the handler at /mutate on the given webhook
// server.
func AddToManager(server ctrlwebhook.Server, h *Handler) {
	server.Register("/mutate", &admission.Webhook{Handler: h})
}
