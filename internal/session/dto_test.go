package session_test

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/frahmantamala/paylink/internal"
	sessionPkg "github.com/frahmantamala/paylink/internal/session"
)

var _ = Describe("CreateSessionRequest", func() {
	It("accepts a positive amount", func() {
		req := sessionPkg.CreateSessionRequest{AmountPaise: 25000}
		Expect(req.Validate()).To(Succeed())
	})

	It("rejects a zero amount with a validation error", func() {
		req := sessionPkg.CreateSessionRequest{AmountPaise: 0}
		err := req.Validate()
		Expect(err).To(HaveOccurred())
		appErr, ok := internal.IsAppError(err)
		Expect(ok).To(BeTrue())
		Expect(appErr.Type).To(Equal(internal.ErrorTypeValidation))
	})

	It("rejects a negative amount", func() {
		req := sessionPkg.CreateSessionRequest{AmountPaise: -100}
		Expect(req.Validate()).To(HaveOccurred())
	})
})

var _ = Describe("VerifyRequest", func() {
	It("accepts a plausible reference code", func() {
		req := sessionPkg.VerifyRequest{ReferenceCode: "UTR123456"}
		Expect(req.Validate()).To(Succeed())
	})

	It("rejects an empty reference code", func() {
		req := sessionPkg.VerifyRequest{ReferenceCode: ""}
		Expect(req.Validate()).To(HaveOccurred())
	})

	It("rejects a reference code shorter than four characters", func() {
		req := sessionPkg.VerifyRequest{ReferenceCode: "abc"}
		Expect(req.Validate()).To(HaveOccurred())
	})
})
