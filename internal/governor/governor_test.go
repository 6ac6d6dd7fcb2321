package governor_test

import (
	"context"
	"encoding/json"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/gatehouse-hq/gatehouse/core/config"
	"github.com/gatehouse-hq/gatehouse/internal/event"
	"github.com/gatehouse-hq/gatehouse/internal/governor"
	"github.com/gatehouse-hq/gatehouse/internal/model"
	"github.com/gatehouse-hq/gatehouse/internal/store"
)

func issueEvent(number int64) *event.Event {
	return &event.Event{
		Type:    event.TypeIssues,
		Action:  "opened",
		Subject: &event.Subject{Number: number, Title: "test issue"},
		Raw:     json.RawMessage(`{}`),
	}
}

var _ = Describe("Governor", func() {
	var (
		ctx   context.Context
		st    *mockStore
		gov   *governor.Governor
		clock time.Time
		cfg   config.GovernanceConfig
	)

	BeforeEach(func() {
		ctx = context.Background()
		st = &mockStore{}
		clock = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
		cfg = config.GovernanceConfig{
			TargetHourlyCost: 10.0,
			MaxBatchSize:     3,
			CacheTTL:         time.Hour,
			RateLimitBudget:  100,
			RateLimitWindow:  time.Hour,
		}
	})

	newGovernor := func() *governor.Governor {
		return governor.New(st, cfg, governor.WithClock(func() time.Time { return clock }))
	}

	Describe("ShouldProcess", func() {
		It("admits a fresh event", func() {
			gov = newGovernor()

			ok, err := gov.ShouldProcess(ctx, issueEvent(1))
			Expect(err).NotTo(HaveOccurred())
			Expect(ok).To(BeTrue())
		})

		It("denies an identity already admitted in this process", func() {
			gov = newGovernor()
			ev := issueEvent(1)

			gov.AddToBatch(ev)

			ok, err := gov.ShouldProcess(ctx, ev)
			Expect(err).NotTo(HaveOccurred())
			Expect(ok).To(BeFalse())
		})

		It("denies an identity the ledger has already processed", func() {
			processedAt := clock.Add(-time.Minute)
			st.getEventFn = func(_ context.Context, eventID string) (*model.Event, error) {
				return &model.Event{ID: eventID, ProcessedAt: &processedAt}, nil
			}
			gov = newGovernor()

			ok, err := gov.ShouldProcess(ctx, issueEvent(1))
			Expect(err).NotTo(HaveOccurred())
			Expect(ok).To(BeFalse())
		})

		It("admits an identity the ledger has seen but not processed", func() {
			st.getEventFn = func(_ context.Context, eventID string) (*model.Event, error) {
				return &model.Event{ID: eventID}, nil
			}
			gov = newGovernor()

			ok, err := gov.ShouldProcess(ctx, issueEvent(1))
			Expect(err).NotTo(HaveOccurred())
			Expect(ok).To(BeTrue())
		})

		It("denies when the hourly cost target is exceeded", func() {
			st.isCostEfficientFn = func(_ context.Context) (bool, error) {
				return false, nil
			}
			gov = newGovernor()

			ok, err := gov.ShouldProcess(ctx, issueEvent(1))
			Expect(err).NotTo(HaveOccurred())
			Expect(ok).To(BeFalse())
		})

		It("surfaces store errors instead of deciding", func() {
			st.getEventFn = func(_ context.Context, _ string) (*model.Event, error) {
				return nil, context.DeadlineExceeded
			}
			gov = newGovernor()

			_, err := gov.ShouldProcess(ctx, issueEvent(1))
			Expect(err).To(HaveOccurred())
		})
	})

	Describe("rate limiting", func() {
		BeforeEach(func() {
			cfg.RateLimitBudget = 2
		})

		It("denies once the window budget is exhausted", func() {
			gov = newGovernor()

			// Two flushes of one event each drain the budget of 2.
			for i := int64(1); i <= 2; i++ {
				ev := issueEvent(i)
				ok, err := gov.ShouldProcess(ctx, ev)
				Expect(err).NotTo(HaveOccurred())
				Expect(ok).To(BeTrue())
				gov.AddToBatch(ev)
				Expect(gov.TrackProcessing(ctx, []string{ev.ID()}, 0.1, 10)).To(Succeed())
			}

			ok, err := gov.ShouldProcess(ctx, issueEvent(3))
			Expect(err).NotTo(HaveOccurred())
			Expect(ok).To(BeFalse())
		})

		It("replenishes the budget once the window elapses", func() {
			gov = newGovernor()

			for i := int64(1); i <= 2; i++ {
				ev := issueEvent(i)
				gov.AddToBatch(ev)
				Expect(gov.TrackProcessing(ctx, []string{ev.ID()}, 0.1, 10)).To(Succeed())
			}

			ok, err := gov.ShouldProcess(ctx, issueEvent(3))
			Expect(err).NotTo(HaveOccurred())
			Expect(ok).To(BeFalse())

			clock = clock.Add(time.Hour + time.Second)

			ok, err = gov.ShouldProcess(ctx, issueEvent(3))
			Expect(err).NotTo(HaveOccurred())
			Expect(ok).To(BeTrue())
		})
	})

	Describe("batching", func() {
		It("reports ready only when the batch reaches max size", func() {
			gov = newGovernor()

			Expect(gov.AddToBatch(issueEvent(1))).To(BeFalse())
			Expect(gov.AddToBatch(issueEvent(2))).To(BeFalse())
			Expect(gov.AddToBatch(issueEvent(3))).To(BeTrue())
		})

		It("returns events in admission order and clears the batch", func() {
			gov = newGovernor()

			gov.AddToBatch(issueEvent(1))
			gov.AddToBatch(issueEvent(2))
			gov.AddToBatch(issueEvent(3))

			batch := gov.GetBatch()
			Expect(batch).To(HaveLen(3))
			Expect(batch[0].ID()).To(Equal("issues-1"))
			Expect(batch[1].ID()).To(Equal("issues-2"))
			Expect(batch[2].ID()).To(Equal("issues-3"))

			Expect(gov.GetBatch()).To(BeEmpty())
		})
	})

	Describe("TrackProcessing", func() {
		It("splits cost and tokens evenly across the batch", func() {
			type journaled struct {
				eventID string
				cost    float64
				tokens  int64
			}
			var entries []journaled
			st.markEventProcessedFn = func(_ context.Context, eventID string, cost float64, tokens int64) error {
				entries = append(entries, journaled{eventID, cost, tokens})
				return nil
			}
			gov = newGovernor()

			err := gov.TrackProcessing(ctx, []string{"issues-1", "issues-2", "issues-3"}, 0.9, 100)
			Expect(err).NotTo(HaveOccurred())

			Expect(entries).To(HaveLen(3))
			for _, e := range entries {
				Expect(e.cost).To(BeNumerically("~", 0.3, 1e-9))
				Expect(e.tokens).To(Equal(int64(33)))
			}
		})

		It("does nothing for an empty id list", func() {
			called := false
			st.markEventProcessedFn = func(_ context.Context, _ string, _ float64, _ int64) error {
				called = true
				return nil
			}
			gov = newGovernor()

			Expect(gov.TrackProcessing(ctx, nil, 1.0, 100)).To(Succeed())
			Expect(called).To(BeFalse())
		})
	})

	Describe("cached state", func() {
		It("returns a fresh entry", func() {
			st.getModelStateFn = func(_ context.Context, eventID string) (*model.ModelState, error) {
				return &model.ModelState{
					EventID:   eventID,
					State:     json.RawMessage(`{"summary":"seen before"}`),
					UpdatedAt: clock.Add(-30 * time.Minute),
				}, nil
			}
			gov = newGovernor()

			state, err := gov.GetCachedState(ctx, "issues-1")
			Expect(err).NotTo(HaveOccurred())
			Expect(state).To(MatchJSON(`{"summary":"seen before"}`))
		})

		It("treats an entry older than the TTL as absent", func() {
			st.getModelStateFn = func(_ context.Context, eventID string) (*model.ModelState, error) {
				return &model.ModelState{
					EventID:   eventID,
					State:     json.RawMessage(`{"summary":"stale"}`),
					UpdatedAt: clock.Add(-2 * time.Hour),
				}, nil
			}
			gov = newGovernor()

			state, err := gov.GetCachedState(ctx, "issues-1")
			Expect(err).NotTo(HaveOccurred())
			Expect(state).To(BeNil())
		})

		It("treats a missing entry as absent, not an error", func() {
			st.getModelStateFn = func(_ context.Context, _ string) (*model.ModelState, error) {
				return nil, store.ErrNotFound
			}
			gov = newGovernor()

			state, err := gov.GetCachedState(ctx, "issues-1")
			Expect(err).NotTo(HaveOccurred())
			Expect(state).To(BeNil())
		})
	})

	Describe("GetStats", func() {
		It("reports hourly cost, event count, and efficiency", func() {
			st.getHourlyCostFn = func(_ context.Context, _ time.Duration) (float64, error) {
				return 5.0, nil
			}
			st.getEventStatsFn = func(_ context.Context, _ *string, _ time.Duration) ([]model.EventStat, error) {
				return []model.EventStat{
					{Type: "issues", Count: 3},
					{Type: "pull_request", Count: 2},
				}, nil
			}
			gov = newGovernor()

			stats, err := gov.GetStats(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(stats.HourlyCost).To(Equal(5.0))
			Expect(stats.EventsProcessed).To(Equal(int64(5)))
			Expect(stats.Efficiency).To(Equal(2.0))
		})

		It("reports efficiency 1.0 when nothing has been spent", func() {
			gov = newGovernor()

			stats, err := gov.GetStats(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(stats.Efficiency).To(Equal(1.0))
		})
	})
})
