package store_test

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/gatehouse-hq/gatehouse/common/id"
	"github.com/gatehouse-hq/gatehouse/core/db"
	"github.com/gatehouse-hq/gatehouse/internal/model"
	"github.com/gatehouse-hq/gatehouse/internal/store"
)

// These specs run against a real database and are skipped unless
// DATABASE_URL points at one. Each spec starts from truncated tables.
var _ = Describe("eventStore", func() {
	var (
		ctx      context.Context
		database *db.DB
		clock    time.Time
		st       store.Store
	)

	BeforeEach(func() {
		dsn := os.Getenv("DATABASE_URL")
		if dsn == "" {
			Skip("DATABASE_URL not set")
		}

		ctx = context.Background()
		Expect(id.Init(9)).To(Succeed())

		var err error
		database, err = db.New(ctx, db.Config{DSN: dsn})
		Expect(err).NotTo(HaveOccurred())
		Expect(database.Migrate(ctx)).To(Succeed())

		_, err = database.Pool().Exec(ctx, `TRUNCATE cost_tracking, model_states, events`)
		Expect(err).NotTo(HaveOccurred())

		clock = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
		st = store.New(database, 10.0, store.WithClock(func() time.Time { return clock }))
	})

	AfterEach(func() {
		if database != nil {
			database.Close()
		}
	})

	saveEvent := func(eventID string, createdAt time.Time) {
		Expect(st.SaveEvent(ctx, &model.Event{
			ID:        eventID,
			Type:      "issues",
			Action:    "opened",
			CreatedAt: createdAt,
		})).To(Succeed())
	}

	Describe("SaveEvent", func() {
		It("keeps the first row when the same identity is saved twice", func() {
			saveEvent("issues-1", clock)

			Expect(st.SaveEvent(ctx, &model.Event{
				ID:        "issues-1",
				Type:      "issues",
				Action:    "edited",
				CreatedAt: clock.Add(time.Minute),
			})).To(Succeed())

			ev, err := st.GetEvent(ctx, "issues-1")
			Expect(err).NotTo(HaveOccurred())
			Expect(ev.Action).To(Equal("opened"))
		})
	})

	Describe("GetEvent", func() {
		It("returns ErrNotFound for an unknown identity", func() {
			_, err := st.GetEvent(ctx, "issues-404")
			Expect(errors.Is(err, store.ErrNotFound)).To(BeTrue())
		})
	})

	Describe("MarkEventProcessed", func() {
		It("stamps the event and appends a journal entry in one transaction", func() {
			saveEvent("issues-1", clock)

			Expect(st.MarkEventProcessed(ctx, "issues-1", 0.25, 50)).To(Succeed())

			ev, err := st.GetEvent(ctx, "issues-1")
			Expect(err).NotTo(HaveOccurred())
			Expect(ev.ProcessedAt).NotTo(BeNil())
			Expect(*ev.Cost).To(BeNumerically("~", 0.25, 1e-9))
			Expect(*ev.Tokens).To(Equal(int64(50)))

			var entries int64
			err = database.Pool().QueryRow(ctx,
				`SELECT COUNT(*) FROM cost_tracking WHERE event_id = $1`, "issues-1").Scan(&entries)
			Expect(err).NotTo(HaveOccurred())
			Expect(entries).To(Equal(int64(1)))
		})
	})

	Describe("GetHourlyCost", func() {
		It("sums only journal entries inside the trailing window", func() {
			saveEvent("issues-1", clock)
			saveEvent("issues-2", clock)
			saveEvent("issues-3", clock)

			// Two entries inside the window.
			Expect(st.MarkEventProcessed(ctx, "issues-1", 5.0, 100)).To(Succeed())
			Expect(st.MarkEventProcessed(ctx, "issues-2", 3.0, 100)).To(Succeed())

			// One entry two hours back, outside the window.
			clock = clock.Add(-2 * time.Hour)
			Expect(st.MarkEventProcessed(ctx, "issues-3", 100.0, 100)).To(Succeed())
			clock = clock.Add(2 * time.Hour)

			hourly, err := st.GetHourlyCost(ctx, time.Hour)
			Expect(err).NotTo(HaveOccurred())
			Expect(hourly).To(BeNumerically("~", 8.0, 1e-9))
		})
	})

	Describe("IsCostEfficient", func() {
		It("is true at or under the target and false above it", func() {
			saveEvent("issues-1", clock)
			Expect(st.MarkEventProcessed(ctx, "issues-1", 10.0, 100)).To(Succeed())

			efficient, err := st.IsCostEfficient(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(efficient).To(BeTrue())

			saveEvent("issues-2", clock)
			Expect(st.MarkEventProcessed(ctx, "issues-2", 0.01, 1)).To(Succeed())

			efficient, err = st.IsCostEfficient(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(efficient).To(BeFalse())
		})
	})

	Describe("model state", func() {
		It("round-trips and overwrites state per event", func() {
			saveEvent("issues-1", clock)

			Expect(st.SaveModelState(ctx, "issues-1", json.RawMessage(`{"summary":"v1"}`))).To(Succeed())
			Expect(st.SaveModelState(ctx, "issues-1", json.RawMessage(`{"summary":"v2"}`))).To(Succeed())

			state, err := st.GetModelState(ctx, "issues-1")
			Expect(err).NotTo(HaveOccurred())
			Expect(state.State).To(MatchJSON(`{"summary":"v2"}`))
			Expect(state.UpdatedAt).NotTo(BeZero())
		})

		It("returns ErrNotFound when no state exists", func() {
			_, err := st.GetModelState(ctx, "issues-404")
			Expect(errors.Is(err, store.ErrNotFound)).To(BeTrue())
		})
	})

	Describe("CleanupOldEvents", func() {
		It("removes events past retention together with their journal and state", func() {
			old := clock.Add(-48 * time.Hour)

			// An old event processed at its own time, with cached state.
			saveEvent("issues-1", old)
			clock = old
			Expect(st.MarkEventProcessed(ctx, "issues-1", 1.0, 10)).To(Succeed())
			Expect(st.SaveModelState(ctx, "issues-1", json.RawMessage(`{"summary":"old"}`))).To(Succeed())
			clock = old.Add(48 * time.Hour)

			// A recent event that must survive.
			saveEvent("issues-2", clock)
			Expect(st.MarkEventProcessed(ctx, "issues-2", 1.0, 10)).To(Succeed())

			removed, err := st.CleanupOldEvents(ctx, 24*time.Hour)
			Expect(err).NotTo(HaveOccurred())
			Expect(removed).To(Equal(int64(1)))

			_, err = st.GetEvent(ctx, "issues-1")
			Expect(errors.Is(err, store.ErrNotFound)).To(BeTrue())
			_, err = st.GetModelState(ctx, "issues-1")
			Expect(errors.Is(err, store.ErrNotFound)).To(BeTrue())

			ev, err := st.GetEvent(ctx, "issues-2")
			Expect(err).NotTo(HaveOccurred())
			Expect(ev.ProcessedAt).NotTo(BeNil())
		})
	})
})
