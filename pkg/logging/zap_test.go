// SPDX-FileCopyrightText: SAP SE or an SAP affiliate company and Gardener contributors
//
// SPDX-License-Identifier: Apache-2.0

package logging_test

import (
	"testing"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	. "github.com/spotbalancer/admission-webhook/pkg/logging"
)

var _ = Describe("NewZapLogger", func() {
	It("should enable V(0) and V(1) at debug level", func() {
		log, err := NewZapLogger(DebugLevel, FormatText)
		Expect(err).NotTo(HaveOccurred())
		Expect(log.V(0).Enabled()).To(BeTrue())
		Expect(log.V(1).Enabled()).To(BeTrue())
	})

	It("should enable only V(0) at info level", func() {
		log, err := NewZapLogger(InfoLevel, FormatText)
		Expect(err).NotTo(HaveOccurred())
		Expect(log.V(0).Enabled()).To(BeTrue())
		Expect(log.V(1).Enabled()).To(BeFalse())
	})

	It("should default to info level when level is empty", func() {
		log, err := NewZapLogger("", FormatJSON)
		Expect(err).NotTo(HaveOccurred())
		Expect(log.V(0).Enabled()).To(BeTrue())
		Expect(log.V(1).Enabled()).To(BeFalse())
	})

	It("should disable all levels at error level", func() {
		log, err := NewZapLogger(ErrorLevel, FormatJSON)
		Expect(err).NotTo(HaveOccurred())
		Expect(log.V(0).Enabled()).To(BeFalse())
	})

	It("should reject an invalid level", func() {
		_, err := NewZapLogger("invalid", FormatText)
		Expect(err).To(HaveOccurred())
	})

	It("should reject an invalid format", func() {
		_, err := NewZapLogger(InfoLevel, "invalid")
		Expect(err).To(HaveOccurred())
	})

	It("should not panic via MustNewZapLogger on valid input", func() {
		Expect(func() { MustNewZapLogger(InfoLevel, FormatJSON) }).NotTo(Panic())
	})

	It("should panic via MustNewZapLogger on invalid input", func() {
		Expect(func() { MustNewZapLogger("bogus", FormatJSON) }).To(Panic())
	})
})

func TestLogging(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Logging Suite")
}
