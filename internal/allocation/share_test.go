package allocation

import (
	"strings"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("ShareText", func() {
	var text string

	BeforeEach(func() {
		items := []Item{
			{ID: "burger", Description: "Burger", Price: dec("10.00")},
			{ID: "fries", Description: "Fries", Price: dec("4.00")},
		}
		participants := []Participant{{ID: "a", Name: "Alice"}, {ID: "b", Name: "Bob"}}
		alloc := NewAllocation(map[string][]string{
			"burger": {"a"},
			"fries":  {"a", "b"},
		})
		summary := Summarize(items, participants, alloc, dec("1"), dec("2"))
		text = ShareText(summary, time.Date(2024, 3, 20, 0, 0, 0, 0, time.UTC))
	})

	It("should include the date", func() {
		Expect(text).To(HavePrefix("🧾 *SnapSplit Bill* (Mar 20, 2024)"))
	})

	It("should list participants in breakdown order with rounded totals", func() {
		aliceAt := strings.Index(text, "Alice: $14.57\n")
		bobAt := strings.Index(text, "Bob: $2.43\n")
		Expect(aliceAt).To(BeNumerically(">", 0))
		Expect(bobAt).To(BeNumerically(">", aliceAt))
	})

	It("should include the grand total", func() {
		Expect(text).To(ContainSubstring("💰 *Total: $17.00*"))
	})

	When("nobody owes anything", func() {
		BeforeEach(func() {
			text = ShareText(Summary{Breakdown: []Breakdown{}}, time.Now())
		})

		It("should still render the total line", func() {
			Expect(text).To(ContainSubstring("*Total: $0.00*"))
		})
	})
})
