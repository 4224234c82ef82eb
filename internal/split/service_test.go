package split

import (
	"context"
	"errors"
	"sync"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/zombor/snapsplit/internal/allocation"
	"github.com/zombor/snapsplit/internal/scanning"
)

var _ = Describe("Service", func() {
	var (
		db      *mockDB
		scanner *mockScanner
		clock   *mockTimeSource
		service *Service
	)

	BeforeEach(func() {
		db = newMockDB()
		scanner = newMockScanner()
		clock = newMockTimeSource()
		service = NewServiceWithDeps(db, scanner, nil, &mockIDGenerator{}, clock)
	})

	// startSession opens a session from the mock scanner's items
	startSession := func() *Session {
		session, err := service.StartSession(context.Background(), "dinner.jpg", []byte("image"), "image/jpeg")
		Expect(err).NotTo(HaveOccurred())
		return session
	}

	Describe("StartSession", func() {
		var (
			session *Session
			err     error
		)

		JustBeforeEach(func() {
			session, err = service.StartSession(context.Background(), "dinner.jpg", []byte("image"), "image/jpeg")
		})

		When("the scanner finds items", func() {
			It("should not return an error", func() {
				Expect(err).NotTo(HaveOccurred())
			})

			It("should give each item a unique ID in receipt order", func() {
				Expect(session.Items).To(HaveLen(2))
				Expect(session.Items[0].ID).To(Equal("item-1"))
				Expect(session.Items[0].Description).To(Equal("Pasta"))
				Expect(session.Items[1].ID).To(Equal("item-2"))
				Expect(session.Items[1].Description).To(Equal("Salad"))
			})

			It("should start with the default participant", func() {
				Expect(session.Participants).To(Equal([]allocation.Participant{
					{ID: "me", Name: "Me", Color: "red"},
				}))
			})

			It("should start with nothing assigned and no extras", func() {
				Expect(session.Allocation.Len()).To(Equal(0))
				Expect(session.Tax.IsZero()).To(BeTrue())
				Expect(session.Tip.IsZero()).To(BeTrue())
			})

			It("should persist the session", func() {
				stored, getErr := db.GetSession(session.ID)
				Expect(getErr).NotTo(HaveOccurred())
				Expect(stored.ID).To(Equal("session-1"))
				Expect(stored.CreatedAt).To(Equal(clock.Now()))
			})
		})

		When("the scanner finds nothing", func() {
			BeforeEach(func() {
				scanner.items = nil
			})

			It("should return ErrNoItemsFound", func() {
				Expect(err).To(MatchError(ErrNoItemsFound))
				Expect(session).To(BeNil())
			})

			It("should not persist anything", func() {
				Expect(db.sessions).To(BeEmpty())
			})
		})

		When("the scanner fails", func() {
			BeforeEach(func() {
				scanner.err = scanning.ErrUnauthorized
			})

			It("should wrap the scanner error", func() {
				Expect(err).To(MatchError(scanning.ErrUnauthorized))
				Expect(err.Error()).To(ContainSubstring("scanning receipt"))
			})
		})

		When("the database fails", func() {
			BeforeEach(func() {
				db.saveErr = errors.New("disk full")
			})

			It("should return the error", func() {
				Expect(err).To(MatchError(ContainSubstring("saving session")))
			})
		})

		When("the scanner returns blank descriptions and negative prices", func() {
			BeforeEach(func() {
				scanner.items = []scanning.ExtractedItem{
					{Description: "  ", Price: dec("-3.00")},
				}
			})

			It("should substitute placeholders", func() {
				Expect(err).NotTo(HaveOccurred())
				Expect(session.Items[0].Description).To(Equal("Unknown Item"))
				Expect(session.Items[0].Price.IsZero()).To(BeTrue())
			})
		})
	})

	Describe("concurrent uploads of the same image", func() {
		It("should call the scanner once", func() {
			scanner.release = make(chan struct{})

			var wg sync.WaitGroup
			results := make([]*Session, 3)
			for i := range results {
				wg.Add(1)
				go func() {
					defer GinkgoRecover()
					defer wg.Done()
					session, err := service.StartSession(context.Background(), "dinner.jpg", []byte("same image"), "image/jpeg")
					Expect(err).NotTo(HaveOccurred())
					results[i] = session
				}()
			}

			Eventually(scanner.calls.Load).Should(BeEquivalentTo(1))
			// Give the other uploads time to join the in-flight call
			time.Sleep(50 * time.Millisecond)
			close(scanner.release)
			wg.Wait()

			Expect(scanner.calls.Load()).To(BeEquivalentTo(1))
			ids := map[string]bool{}
			for _, s := range results {
				Expect(s.Items).To(HaveLen(2))
				ids[s.ID] = true
			}
			Expect(ids).To(HaveLen(3))
		})

		It("should not fail the others when the first upload is canceled", func() {
			scanner.release = make(chan struct{})

			firstCtx, cancelFirst := context.WithCancel(context.Background())
			firstDone := make(chan error, 1)
			go func() {
				_, err := service.StartSession(firstCtx, "dinner.jpg", []byte("same image"), "image/jpeg")
				firstDone <- err
			}()
			Eventually(scanner.calls.Load).Should(BeEquivalentTo(1))

			type result struct {
				session *Session
				err     error
			}
			secondDone := make(chan result, 1)
			go func() {
				session, err := service.StartSession(context.Background(), "dinner.jpg", []byte("same image"), "image/jpeg")
				secondDone <- result{session, err}
			}()
			// Let the second upload join the in-flight call
			time.Sleep(50 * time.Millisecond)

			cancelFirst()
			var firstErr error
			Eventually(firstDone).Should(Receive(&firstErr))
			Expect(firstErr).To(MatchError(context.Canceled))

			close(scanner.release)
			var second result
			Eventually(secondDone).Should(Receive(&second))
			Expect(second.err).NotTo(HaveOccurred())
			Expect(second.session.Items).To(HaveLen(2))
			Expect(scanner.calls.Load()).To(BeEquivalentTo(1))
			Expect(scanner.lastCtxErr()).NotTo(HaveOccurred())
		})
	})

	Describe("CreateSession", func() {
		It("should create a session from manual items", func() {
			session, err := service.CreateSession([]allocation.Item{
				{Description: "Pizza", Price: dec("20.00")},
			})
			Expect(err).NotTo(HaveOccurred())
			Expect(session.Items).To(HaveLen(1))
			Expect(session.Items[0].ID).To(Equal("item-1"))
			Expect(db.sessions).To(HaveKey(session.ID))
		})

		It("should ignore caller-supplied item IDs", func() {
			session, err := service.CreateSession([]allocation.Item{
				{ID: "dup", Description: "A", Price: dec("1")},
				{ID: "dup", Description: "B", Price: dec("2")},
			})
			Expect(err).NotTo(HaveOccurred())
			Expect(session.Items[0].ID).NotTo(Equal(session.Items[1].ID))
		})

		It("should reject an empty list", func() {
			_, err := service.CreateSession(nil)
			Expect(err).To(MatchError(ErrNoItemsFound))
		})
	})

	Describe("GetSession", func() {
		It("should return a stored session", func() {
			created := startSession()
			session, err := service.GetSession(created.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(session.ID).To(Equal(created.ID))
		})

		It("should return ErrSessionNotFound for unknown IDs", func() {
			_, err := service.GetSession("nope")
			Expect(err).To(MatchError(ErrSessionNotFound))
		})
	})

	Describe("DeleteSession", func() {
		It("should remove the session", func() {
			created := startSession()
			Expect(service.DeleteSession(created.ID)).To(Succeed())
			_, err := service.GetSession(created.ID)
			Expect(err).To(MatchError(ErrSessionNotFound))
		})

		It("should return ErrSessionNotFound for unknown IDs", func() {
			Expect(service.DeleteSession("nope")).To(MatchError(ErrSessionNotFound))
		})

		It("should return delete failures", func() {
			created := startSession()
			db.deleteErr = errors.New("boom")
			Expect(service.DeleteSession(created.ID)).To(MatchError(ContainSubstring("deleting session")))
		})
	})

	Describe("AddParticipant", func() {
		var session *Session

		BeforeEach(func() {
			session = startSession()
		})

		It("should append participants with sequential IDs and palette colors", func() {
			bob, err := service.AddParticipant(session.ID, " Bob ")
			Expect(err).NotTo(HaveOccurred())
			Expect(bob).To(Equal(allocation.Participant{ID: "friend-1", Name: "Bob", Color: "blue"}))

			cara, err := service.AddParticipant(session.ID, "Cara")
			Expect(err).NotTo(HaveOccurred())
			Expect(cara.ID).To(Equal("friend-2"))
			Expect(cara.Color).To(Equal("green"))

			stored, _ := service.GetSession(session.ID)
			Expect(stored.Participants).To(HaveLen(3))
		})

		It("should wrap the palette", func() {
			var last allocation.Participant
			for range 8 {
				var err error
				last, err = service.AddParticipant(session.ID, "Someone")
				Expect(err).NotTo(HaveOccurred())
			}
			Expect(last.ID).To(Equal("friend-8"))
			Expect(last.Color).To(Equal("red"))
		})

		It("should reject blank names", func() {
			_, err := service.AddParticipant(session.ID, "   ")
			Expect(err).To(MatchError(ErrInvalidParticipant))
		})

		It("should return ErrSessionNotFound for unknown sessions", func() {
			_, err := service.AddParticipant("nope", "Bob")
			Expect(err).To(MatchError(ErrSessionNotFound))
		})

		It("should touch UpdatedAt", func() {
			clock.Advance(time.Minute)
			_, err := service.AddParticipant(session.ID, "Bob")
			Expect(err).NotTo(HaveOccurred())
			stored, _ := service.GetSession(session.ID)
			Expect(stored.UpdatedAt).To(Equal(clock.Now()))
			Expect(stored.CreatedAt).To(Equal(clock.Now().Add(-time.Minute)))
		})
	})

	Describe("ToggleAssignment", func() {
		var session *Session

		BeforeEach(func() {
			session = startSession()
		})

		It("should assign then unassign", func() {
			updated, err := service.ToggleAssignment(session.ID, "item-1", "me")
			Expect(err).NotTo(HaveOccurred())
			Expect(updated.Allocation.Assignees("item-1")).To(Equal([]string{"me"}))

			updated, err = service.ToggleAssignment(session.ID, "item-1", "me")
			Expect(err).NotTo(HaveOccurred())
			Expect(updated.Allocation.Len()).To(Equal(0))
		})

		It("should reject unknown items", func() {
			_, err := service.ToggleAssignment(session.ID, "item-9", "me")
			Expect(err).To(MatchError(ErrUnknownItem))
		})

		It("should reject unknown participants", func() {
			_, err := service.ToggleAssignment(session.ID, "item-1", "friend-7")
			Expect(err).To(MatchError(ErrUnknownParticipant))
		})

		It("should leave the stored session unchanged on error", func() {
			_, err := service.ToggleAssignment(session.ID, "item-1", "friend-7")
			Expect(err).To(HaveOccurred())
			stored, _ := service.GetSession(session.ID)
			Expect(stored.Allocation.Len()).To(Equal(0))
		})
	})

	Describe("SetExtras", func() {
		It("should store tax and tip", func() {
			session := startSession()
			updated, err := service.SetExtras(session.ID, dec("3.50"), dec("5"))
			Expect(err).NotTo(HaveOccurred())
			Expect(updated.Tax.Equal(dec("3.50"))).To(BeTrue())
			Expect(updated.Tip.Equal(dec("5"))).To(BeTrue())
		})

		It("should clamp negative amounts to zero", func() {
			session := startSession()
			updated, err := service.SetExtras(session.ID, dec("-1"), dec("-2"))
			Expect(err).NotTo(HaveOccurred())
			Expect(updated.Tax.IsZero()).To(BeTrue())
			Expect(updated.Tip.IsZero()).To(BeTrue())
		})

		It("should return ErrSessionNotFound for unknown sessions", func() {
			_, err := service.SetExtras("nope", dec("1"), dec("1"))
			Expect(err).To(MatchError(ErrSessionNotFound))
		})
	})

	Describe("Summary", func() {
		It("should split the bill across the session's participants", func() {
			session := startSession()
			bob, err := service.AddParticipant(session.ID, "Bob")
			Expect(err).NotTo(HaveOccurred())
			_, err = service.ToggleAssignment(session.ID, "item-1", "me")
			Expect(err).NotTo(HaveOccurred())
			_, err = service.ToggleAssignment(session.ID, "item-2", bob.ID)
			Expect(err).NotTo(HaveOccurred())
			_, err = service.SetExtras(session.ID, dec("1"), dec("2"))
			Expect(err).NotTo(HaveOccurred())

			summary, err := service.Summary(session.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(summary.Breakdown).To(HaveLen(2))
			Expect(summary.Breakdown[0].Participant.Name).To(Equal("Me"))
			Expect(summary.Breakdown[1].Participant.Name).To(Equal("Bob"))
			Expect(summary.GrandTotal.Equal(dec("17"))).To(BeTrue())
			total := summary.Breakdown[0].Total.Add(summary.Breakdown[1].Total)
			Expect(total.InexactFloat64()).To(BeNumerically("~", 17, 1e-9))
		})

		It("should return ErrSessionNotFound for unknown sessions", func() {
			_, err := service.Summary("nope")
			Expect(err).To(MatchError(ErrSessionNotFound))
		})
	})

	Describe("ShareText", func() {
		It("should render the breakdown with the current date", func() {
			session := startSession()
			_, err := service.ToggleAssignment(session.ID, "item-1", "me")
			Expect(err).NotTo(HaveOccurred())

			text, err := service.ShareText(session.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(text).To(ContainSubstring("Mar 9, 2024"))
			Expect(text).To(ContainSubstring("Me: $12.00"))
		})
	})

	Describe("Calculate", func() {
		It("should compute without a session", func() {
			alloc := allocation.NewAllocation(map[string][]string{"a": {"p"}})
			summary := service.Calculate(
				[]allocation.Item{{ID: "a", Description: "Tea", Price: dec("4")}},
				[]allocation.Participant{{ID: "p", Name: "Pat"}},
				alloc, dec("1"), dec("0"),
			)
			Expect(summary.Breakdown).To(HaveLen(1))
			Expect(summary.Breakdown[0].Total.Equal(dec("5"))).To(BeTrue())
			Expect(db.sessions).To(BeEmpty())
		})
	})

	Describe("PurgeExpired", func() {
		It("should remove sessions idle longer than the TTL", func() {
			old := startSession()
			clock.Advance(3 * time.Hour)
			fresh := startSession()

			n, err := service.PurgeExpired(2 * time.Hour)
			Expect(err).NotTo(HaveOccurred())
			Expect(n).To(Equal(1))
			Expect(db.sessions).NotTo(HaveKey(old.ID))
			Expect(db.sessions).To(HaveKey(fresh.ID))
		})

		It("should wrap database errors", func() {
			db.purgeErr = errors.New("boom")
			_, err := service.PurgeExpired(time.Hour)
			Expect(err).To(MatchError(ContainSubstring("purging sessions")))
		})
	})
})
