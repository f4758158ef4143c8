// SPDX-FileCopyrightText: SAP SE or an SAP affiliate company and Gardener contributors
//
// SPDX-License-Identifier: Apache-2.0

// Package admission holds the small response helpers shared by the mutate
// and validate handlers.
package admission

import (
	"net/http"

	admissionv1 "k8s.io/api/admission/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"sigs.k8s.io/controller-runtime/pkg/webhook/admission"
)

// Allowed returns a plain allow response, optionally carrying msg.
func Allowed(msg string) admission.Response {
	return admission.Response{
		AdmissionResponse: admissionv1.AdmissionResponse{
			Allowed: true,
			Result: &metav1.Status{
				Code:    int32(http.StatusOK),
				Message: msg,
			},
		},
	}
}

// Errored returns a response that allows the request through but records
// err as its status message. The spot-ratio webhook fails open: a store or
// lookup failure must never block pod scheduling, so this is used instead
// of admission.Errored on every path that can legitimately degrade.
func Errored(code int32, err error) admission.Response {
	return admission.Response{
		AdmissionResponse: admissionv1.AdmissionResponse{
			Allowed: true,
			Result: &metav1.Status{
				Code:    code,
				Message: err.Error(),
			},
		},
	}
}
