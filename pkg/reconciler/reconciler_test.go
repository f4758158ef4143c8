// SPDX-FileCopyrightText: SAP SE or an SAP affiliate company and Gardener contributors
//
// SPDX-License-Identifier: Apache-2.0

package reconciler_test

import (
	"context"
	"testing"

	"github.com/go-logr/logr"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	fakeclientset "k8s.io/client-go/kubernetes/fake"

	"github.com/spotbalancer/admission-webhook/pkg/apis/config"
	"github.com/spotbalancer/admission-webhook/pkg/placement/balancer"
	"github.com/spotbalancer/admission-webhook/pkg/placement/codec"
	"github.com/spotbalancer/admission-webhook/pkg/placement/keys"
	. "github.com/spotbalancer/admission-webhook/pkg/reconciler"
	"github.com/spotbalancer/admission-webhook/pkg/placement/store/storetest"
)

func testConfig() *config.Config {
	c := &config.Config{
		WorkloadRoleLabel: "spark-role",
		DriverRoleValue:   "driver",
		ExecutorRoleValue: "executor",
		JobIDLabel:        "job-id",
		CapacityTypeLabel: "node.kubernetes.io/capacity-type",
	}
	config.SetDefaults(c)
	return c
}

func podWith(namespace, name, role, jobID, capacityType string) *corev1.Pod {
	pod := &corev1.Pod{
		ObjectMeta: metav1.ObjectMeta{
			Namespace: namespace,
			Name:      name,
			Labels: map[string]string{
				"spark-role": role,
				"job-id":     jobID,
			},
		},
	}
	if capacityType != "" {
		pod.Spec.NodeSelector = map[string]string{"node.kubernetes.io/capacity-type": capacityType}
	}
	return pod
}

var _ = Describe("Reconciler", func() {
	var (
		ctx   context.Context
		conf  *config.Config
		store *storetest.Fake
		b     *balancer.Balancer
	)

	BeforeEach(func() {
		ctx = context.Background()
		conf = testConfig()
		store = storetest.New()
		b = balancer.New(store, logr.Discard(), conf.LockTTL, conf.RedisDefaultTTL)
	})

	It("overwrites drifted counters with ground truth (S5)", func() {
		Expect(store.Set(ctx, keys.ExecutorCount("ns", "job3"), codec.EncodeExecutorCount(codec.ExecutorCount{OnDemand: 9, Spot: 9}), conf.RedisDefaultTTL)).To(Succeed())

		clientset := fakeclientset.NewSimpleClientset(
			podWith("ns", "e1", "executor", "job3", "on-demand"),
			podWith("ns", "e2", "executor", "job3", "on-demand"),
			podWith("ns", "e3", "executor", "job3", "on-demand"),
			podWith("ns", "e4", "executor", "job3", "spot"),
			podWith("ns", "e5", "executor", "job3", "spot"),
			podWith("ns", "e6", "executor", "job3", "spot"),
			podWith("ns", "e7", "executor", "job3", "spot"),
			podWith("ns", "e8", "executor", "job3", "spot"),
			podWith("ns", "e9", "executor", "job3", "spot"),
			podWith("ns", "e10", "executor", "job3", "spot"),
		)

		r := &Reconciler{Conf: conf, Pods: clientset, Balancer: b, Log: logr.Discard()}
		r.RunOnce(ctx)

		raw, err := store.Get(ctx, keys.ExecutorCount("ns", "job3"))
		Expect(err).NotTo(HaveOccurred())
		Expect(codec.DecodeExecutorCount(logr.Discard(), raw)).To(Equal(codec.ExecutorCount{OnDemand: 3, Spot: 7}))
	})

	It("is idempotent: a second run with no intervening events yields the same record", func() {
		clientset := fakeclientset.NewSimpleClientset(
			podWith("ns", "e1", "executor", "job1", "spot"),
			podWith("ns", "e2", "executor", "job1", "on-demand"),
		)
		r := &Reconciler{Conf: conf, Pods: clientset, Balancer: b, Log: logr.Discard()}

		r.RunOnce(ctx)
		first, err := store.Get(ctx, keys.ExecutorCount("ns", "job1"))
		Expect(err).NotTo(HaveOccurred())

		r.RunOnce(ctx)
		second, err := store.Get(ctx, keys.ExecutorCount("ns", "job1"))
		Expect(err).NotTo(HaveOccurred())

		Expect(second).To(Equal(first))
	})

	It("does not touch a job it never observes, as long as its driver is still around", func() {
		Expect(store.Set(ctx, keys.ExecutorCount("ns", "job-untouched"), codec.EncodeExecutorCount(codec.ExecutorCount{OnDemand: 1, Spot: 1}), conf.RedisDefaultTTL)).To(Succeed())

		clientset := fakeclientset.NewSimpleClientset(
			podWith("ns", "e1", "executor", "job1", "spot"),
			podWith("ns", "d1", "driver", "job-untouched", ""),
		)
		r := &Reconciler{Conf: conf, Pods: clientset, Balancer: b, Log: logr.Discard()}
		r.RunOnce(ctx)

		raw, err := store.Get(ctx, keys.ExecutorCount("ns", "job-untouched"))
		Expect(err).NotTo(HaveOccurred())
		Expect(codec.DecodeExecutorCount(logr.Discard(), raw)).To(Equal(codec.ExecutorCount{OnDemand: 1, Spot: 1}))
	})

	It("reaps a tracked job with no executor pods at all and no driver", func() {
		Expect(store.Set(ctx, keys.ExecutorCount("ns", "job1"), codec.EncodeExecutorCount(codec.ExecutorCount{OnDemand: 2, Spot: 2}), conf.RedisDefaultTTL)).To(Succeed())

		clientset := fakeclientset.NewSimpleClientset()
		r := &Reconciler{Conf: conf, Pods: clientset, Balancer: b, Log: logr.Discard()}
		r.RunOnce(ctx)

		_, err := store.Get(ctx, keys.ExecutorCount("ns", "job1"))
		Expect(err).To(HaveOccurred())
	})

	It("never reaps a job with a live executor pod, even one lacking a recognized capacity-type selector", func() {
		Expect(store.Set(ctx, keys.ExecutorCount("ns", "job1"), codec.EncodeExecutorCount(codec.ExecutorCount{OnDemand: 2, Spot: 2}), conf.RedisDefaultTTL)).To(Succeed())

		clientset := fakeclientset.NewSimpleClientset(podWith("ns", "e1", "executor", "job1", ""))
		r := &Reconciler{Conf: conf, Pods: clientset, Balancer: b, Log: logr.Discard()}
		r.RunOnce(ctx)

		raw, err := store.Get(ctx, keys.ExecutorCount("ns", "job1"))
		Expect(err).NotTo(HaveOccurred())
		Expect(codec.DecodeExecutorCount(logr.Discard(), raw)).To(Equal(codec.ExecutorCount{OnDemand: 0, Spot: 0}))
	})

	It("keeps the counter when executors are zero but the driver is still present", func() {
		Expect(store.Set(ctx, keys.ExecutorCount("ns", "job1"), codec.EncodeExecutorCount(codec.ExecutorCount{OnDemand: 2, Spot: 2}), conf.RedisDefaultTTL)).To(Succeed())

		clientset := fakeclientset.NewSimpleClientset(
			podWith("ns", "e1", "executor", "job1", ""),
			podWith("ns", "d1", "driver", "job1", ""),
		)
		r := &Reconciler{Conf: conf, Pods: clientset, Balancer: b, Log: logr.Discard()}
		r.RunOnce(ctx)

		raw, err := store.Get(ctx, keys.ExecutorCount("ns", "job1"))
		Expect(err).NotTo(HaveOccurred())
		Expect(codec.DecodeExecutorCount(logr.Discard(), raw)).To(Equal(codec.ExecutorCount{OnDemand: 0, Spot: 0}))
	})
})

func TestReconciler(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Reconciler Suite")
}
