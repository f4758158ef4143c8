// SPDX-FileCopyrightText: SAP SE or an SAP affiliate company and Gardener contributors
//
// SPDX-License-Identifier: Apache-2.0

package validate_test

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/go-logr/logr"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	admissionv1 "k8s.io/api/admission/v1"
	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/runtime"
	"k8s.io/client-go/kubernetes/scheme"
	"sigs.k8s.io/controller-runtime/pkg/webhook/admission"

	"github.com/spotbalancer/admission-webhook/pkg/apis/config"
	"github.com/spotbalancer/admission-webhook/pkg/placement/balancer"
	"github.com/spotbalancer/admission-webhook/pkg/placement/codec"
	"github.com/spotbalancer/admission-webhook/pkg/placement/keys"
	"github.com/spotbalancer/admission-webhook/pkg/placement/store/storetest"
	. "github.com/spotbalancer/admission-webhook/pkg/webhook/validate"
)

func testConfig() *config.Config {
	c := &config.Config{
		WorkloadRoleLabel: "spark-role",
		ExecutorRoleValue: "executor",
		JobIDLabel:        "job-id",
		CapacityTypeLabel: "node.kubernetes.io/capacity-type",
	}
	config.SetDefaults(c)
	return c
}

func deleteRequest(pod *corev1.Pod) admission.Request {
	raw, err := json.Marshal(pod)
	Expect(err).NotTo(HaveOccurred())

	return admission.Request{
		AdmissionRequest: admissionv1.AdmissionRequest{
			Namespace: pod.Namespace,
			OldObject: runtime.RawExtension{Raw: raw},
		},
	}
}

func executorPod(namespace, jobID, capacityType string) *corev1.Pod {
	pod := &corev1.Pod{
		ObjectMeta: metav1.ObjectMeta{
			Namespace: namespace,
			Name:      "executor-1",
			Labels: map[string]string{
				"spark-role": "executor",
				"job-id":     jobID,
			},
		},
	}
	if capacityType != "" {
		pod.Spec.NodeSelector = map[string]string{"node.kubernetes.io/capacity-type": capacityType}
	}
	return pod
}

var _ = Describe("Handler", func() {
	var (
		ctx     context.Context
		conf    *config.Config
		store   *storetest.Fake
		b       *balancer.Balancer
		handler *Handler
	)

	BeforeEach(func() {
		ctx = context.Background()
		conf = testConfig()
		store = storetest.New()
		b = balancer.New(store, logr.Discard(), conf.LockTTL, conf.RedisDefaultTTL)
		handler = &Handler{Conf: conf, Balancer: b, Logger: logr.Discard(), Decoder: admission.NewDecoder(scheme.Scheme)}
	})

	It("always allows, even without side effects", func() {
		resp := handler.Handle(ctx, deleteRequest(executorPod("ns", "job1", "")))
		Expect(resp.Allowed).To(BeTrue())
	})

	It("decrements the spot counter on delete of a spot executor", func() {
		Expect(store.Set(ctx, keys.ExecutorCount("ns", "job1"), codec.EncodeExecutorCount(codec.ExecutorCount{OnDemand: 3, Spot: 7}), conf.RedisDefaultTTL)).To(Succeed())

		resp := handler.Handle(ctx, deleteRequest(executorPod("ns", "job1", "spot")))
		Expect(resp.Allowed).To(BeTrue())

		raw, err := store.Get(ctx, keys.ExecutorCount("ns", "job1"))
		Expect(err).NotTo(HaveOccurred())
		Expect(codec.DecodeExecutorCount(logr.Discard(), raw)).To(Equal(codec.ExecutorCount{OnDemand: 3, Spot: 6}))
	})

	It("does not touch the counter when the selector is absent", func() {
		Expect(store.Set(ctx, keys.ExecutorCount("ns", "job1"), codec.EncodeExecutorCount(codec.ExecutorCount{OnDemand: 3, Spot: 7}), conf.RedisDefaultTTL)).To(Succeed())

		resp := handler.Handle(ctx, deleteRequest(executorPod("ns", "job1", "")))
		Expect(resp.Allowed).To(BeTrue())

		raw, err := store.Get(ctx, keys.ExecutorCount("ns", "job1"))
		Expect(err).NotTo(HaveOccurred())
		Expect(codec.DecodeExecutorCount(logr.Discard(), raw)).To(Equal(codec.ExecutorCount{OnDemand: 3, Spot: 7}))
	})

	It("ignores pods that are not executors", func() {
		pod := executorPod("ns", "job1", "spot")
		pod.Labels["spark-role"] = "driver"

		resp := handler.Handle(ctx, deleteRequest(pod))
		Expect(resp.Allowed).To(BeTrue())
	})

	It("still allows when the store is unavailable", func() {
		store.FailGet = context.DeadlineExceeded

		resp := handler.Handle(ctx, deleteRequest(executorPod("ns", "job1", "spot")))
		Expect(resp.Allowed).To(BeTrue())
	})
})

func TestValidate(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Validate Handler Suite")
}
