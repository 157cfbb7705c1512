package ledger

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = DescribeTable("parseRupeesToPaise",
	func(input string, expected int64) {
		Expect(parseRupeesToPaise(input)).To(Equal(expected))
	},
	Entry("whole rupees", "250", int64(25000)),
	Entry("two decimal places", "250.00", int64(25000)),
	Entry("one decimal place", "250.5", int64(25050)),
	Entry("extra decimal places truncated", "250.509", int64(25050)),
	Entry("currency symbol stripped", "₹1,250.00", int64(125000)),
	Entry("thousands separators stripped", "1,00,000", int64(10000000)),
	Entry("negative amount", "-99.50", int64(-9950)),
	Entry("whitespace trimmed", "  42.00  ", int64(4200)),
	Entry("bare fraction", ".50", int64(50)),
	Entry("empty string", "", int64(0)),
	Entry("garbage", "abc", int64(0)),
	Entry("mixed garbage", "12a.50", int64(0)),
)
