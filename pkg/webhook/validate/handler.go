// SPDX-FileCopyrightText: SAP SE or an SAP affiliate company and Gardener contributors
//
// SPDX-License-Identifier: Apache-2.0

// Package validate implements the pod DELETE admission handler: it
// decrements the matching executor counter and always allows the delete.
package validate

import (
	"context"
	"net/http"

	"github.com/go-logr/logr"
	corev1 "k8s.io/api/core/v1"
	ctrlwebhook "sigs.k8s.io/controller-runtime/pkg/webhook"
	"sigs.k8s.io/controller-runtime/pkg/webhook/admission"

	"github.com/spotbalancer/admission-webhook/pkg/apis/config"
	webhookadmission "github.com/spotbalancer/admission-webhook/pkg/webhook/admission"

	"github.com/spotbalancer/admission-webhook/pkg/metrics"
	"github.com/spotbalancer/admission-webhook/pkg/placement/balancer"
	"github.com/spotbalancer/admission-webhook/pkg/placement/engine"
)

// Handler implements admission.Handler for pod DELETE requests. It never
// denies a delete; this endpoint only maintains the counter.
type Handler struct {
	Conf     *config.Config
	Balancer *balancer.Balancer
	Logger   logr.Logger
	Decoder  admission.Decoder
}

var _ admission.Handler = &Handler{}

// Handle decrements the counter for the deleted pod's capacity type and
// always returns allowed=true.
func (h *Handler) Handle(ctx context.Context, req admission.Request) admission.Response {
	if h.Conf.WebhookTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.Conf.WebhookTimeout)
		defer cancel()
	}

	pod := &corev1.Pod{}
	if err := h.decodeDeletedPod(req, pod); err != nil {
		h.Logger.Error(err, "failed to decode pod in validate handler")
		return webhookadmission.Errored(http.StatusBadRequest, err)
	}

	if pod.Labels[h.Conf.WorkloadRoleLabel] != h.Conf.ExecutorRoleValue {
		return webhookadmission.Allowed("")
	}

	capacityType := engine.CapacityType(pod.Spec.NodeSelector[h.Conf.CapacityTypeLabel])
	if capacityType != engine.Spot && capacityType != engine.OnDemand {
		return webhookadmission.Allowed("no recognized capacity-type selector; no counter update applied")
	}

	jobID := pod.Labels[h.Conf.JobIDLabel]
	if jobID == "" {
		return webhookadmission.Allowed("")
	}

	namespace := pod.Namespace
	if namespace == "" {
		namespace = req.Namespace
	}

	if err := h.Balancer.Release(ctx, namespace, jobID, capacityType); err != nil {
		h.Logger.Error(err, "failed to release executor counter", "namespace", namespace, "job", jobID)
		metrics.AdmissionFailOpen.WithLabelValues("validate").Inc()
		return webhookadmission.Errored(http.StatusServiceUnavailable, err)
	}

	return webhookadmission.Allowed("")
}

// decodeDeletedPod decodes the OldObject, which is what the API server
// populates for a DELETE admission review (Object is empty on delete).
func (h *Handler) decodeDeletedPod(req admission.Request, pod *corev1.Pod) error {
	return h.Decoder.DecodeRaw(req.OldObject, pod)
}

// AddToManager registers the handler at /validate on the given webhook
// server.
func AddToManager(server ctrlwebhook.Server, h *Handler) {
	server.Register("/validate", &admission.Webhook{Handler: h})
}
