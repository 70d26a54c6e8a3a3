package notifications

import (
	"context"
	"errors"
	"strings"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/albapepper/race-alerts/internal/race"
)

var _ = Describe("Scheduler", func() {
	var (
		ctx     context.Context
		now     time.Time
		races   []race.RawRace
		fetchFn func() ([]race.RawRace, error)
		starter *fakeStarter
		sched   *Scheduler
	)

	iso := func(t time.Time) string { return t.Format(time.RFC3339) }

	BeforeEach(func() {
		ctx = context.Background()
		now = time.Date(2025, 5, 24, 12, 0, 30, 0, time.UTC)
		races = nil
		fetchFn = func() ([]race.RawRace, error) { return races, nil }
		starter = &fakeStarter{}

		source := race.SourceFunc(func(context.Context) ([]race.RawRace, error) { return fetchFn() })
		sched = NewScheduler(source, starter, DefaultPolicy(), nil, discardLogger)
		sched.clock = func() time.Time { return now }
	})

	Context("when no races are scraped", func() {
		It("reports zero and never calls the delayed-execution service", func() {
			result := sched.Run(ctx)

			Expect(result.Scheduled).To(Equal(0))
			Expect(result.Message()).To(Equal("Scheduled 0 event notifications"))
			Expect(starter.callCount()).To(Equal(0))
			Expect(result.Errors).To(BeEmpty())
		})
	})

	Context("with a mixed race weekend", func() {
		BeforeEach(func() {
			laps := 78
			races = []race.RawRace{{
				URL:  "https://example.com/monaco-grand-prix",
				Laps: &laps,
				Events: []race.RawEvent{
					{Name: "Practice 1", Date: iso(now.Add(2 * time.Hour))},
					{Name: "Practice 2", Date: iso(now.Add(26 * time.Hour))},
					{Name: "Past Session", Date: iso(now.Add(-2 * time.Hour))},
					{Name: "Almost Now Session", Date: iso(now.Add(3 * time.Minute))},
				},
			}}
		})

		It("schedules only the event two hours out", func() {
			result := sched.Run(ctx)

			Expect(result.Message()).To(Equal("Scheduled 1 event notifications"))
			Expect(result.EventsSeen).To(Equal(4))
			Expect(result.Skipped).To(Equal(map[SkipReason]int{
				SkipBeyondHorizon: 1,
				SkipStarted:       1,
				SkipLeadPassed:    1,
			}))
			Expect(starter.callCount()).To(Equal(1))

			call := starter.calls[0]
			Expect(call.Name).To(HavePrefix("f1-notification-Practice-1-"))
			Expect(call.WaitSeconds).To(Equal(int64(2*60*60 - 5*60)))
			Expect(call.Payload).To(HaveKeyWithValue("event_name", "Practice 1"))
			Expect(call.Payload).To(HaveKeyWithValue("circuit", "Monaco Grand Prix"))
			Expect(call.Payload).To(HaveKeyWithValue("race_identifier", "monaco-grand-prix"))
			Expect(call.Payload).To(HaveKeyWithValue("lap_count", BeNumerically("==", 78)))
			Expect(call.Payload).To(HaveKeyWithValue("laps", BeNumerically("==", 78)))
			Expect(call.Payload).To(HaveKeyWithValue("start_time", "2025-05-24T14:00:30Z"))
			Expect(call.Payload).To(HaveKeyWithValue("notify_at", "2025-05-24T13:55:30Z"))
		})

		It("does not double-book when the run repeats", func() {
			first := sched.Run(ctx)
			now = now.Add(time.Hour)
			second := sched.Run(ctx)

			Expect(first.Scheduled).To(Equal(1))
			Expect(first.Duplicates).To(Equal(0))
			Expect(second.Scheduled).To(Equal(1))
			Expect(second.Duplicates).To(Equal(1))
			Expect(starter.seen).To(HaveLen(1))
			Expect(starter.calls[0].Name).To(Equal(starter.calls[1].Name))
		})

		It("picks up a deferred event once it enters the horizon", func() {
			sched.Run(ctx)
			now = now.Add(3 * time.Hour)
			result := sched.Run(ctx)

			Expect(result.Scheduled).To(Equal(1))
			Expect(starter.calls[len(starter.calls)-1].Name).To(HavePrefix("f1-notification-Practice-2-"))
		})
	})

	Context("when starting one execution fails", func() {
		BeforeEach(func() {
			races = []race.RawRace{{
				URL: "https://example.com/silverstone",
				Events: []race.RawEvent{
					{Name: "Qualifying", Date: iso(now.Add(time.Hour))},
					{Name: "Race", Date: iso(now.Add(2 * time.Hour))},
				},
			}}
			starter.startFn = func(name string) error {
				if strings.Contains(name, "Qualifying") {
					return errors.New("throttled")
				}
				return nil
			}
		})

		It("isolates the failure and continues with the batch", func() {
			result := sched.Run(ctx)

			Expect(result.Scheduled).To(Equal(1))
			Expect(result.Failed).To(Equal(1))
			Expect(result.Errors).To(HaveLen(1))
			Expect(result.Errors[0]).To(ContainSubstring("throttled"))
			Expect(starter.calls).To(HaveLen(1))
			Expect(starter.calls[0].Payload).To(HaveKeyWithValue("laps", BeNil()))
			Expect(starter.calls[0].Payload).To(HaveKeyWithValue("lap_count", BeNil()))
		})
	})

	Context("when the race source fails", func() {
		BeforeEach(func() {
			fetchFn = func() ([]race.RawRace, error) { return nil, errors.New("formula1.com unavailable") }
		})

		It("returns a zero count with the error recorded", func() {
			result := sched.Run(ctx)

			Expect(result.Scheduled).To(Equal(0))
			Expect(result.Message()).To(Equal("Scheduled 0 event notifications"))
			Expect(result.Errors).To(ConsistOf(ContainSubstring("formula1.com unavailable")))
			Expect(starter.callCount()).To(Equal(0))
		})
	})

	Describe("Plan", func() {
		It("evaluates without starting executions", func() {
			races = []race.RawRace{{
				URL: "zandvoort",
				Events: []race.RawEvent{
					{Name: "Race", Date: iso(now.Add(90 * time.Minute))},
					{Name: "Sprint", Date: "sometime"},
				},
			}}

			evals, racesFound, err := sched.Plan(ctx)

			Expect(err).NotTo(HaveOccurred())
			Expect(racesFound).To(Equal(1))
			Expect(evals).To(HaveLen(1))
			Expect(evals[0].Skip).To(Equal(Eligible))
			Expect(evals[0].Decision.Key).To(Equal("f1-notification-Race-202505241330"))
			Expect(starter.callCount()).To(Equal(0))
		})
	})

	Describe("RunResult.Summary", func() {
		It("lists skip reasons in a stable order", func() {
			r := RunResult{Skipped: map[SkipReason]int{SkipStarted: 2, SkipBeyondHorizon: 1}}
			Expect(r.Summary()).To(ContainSubstring("skipped=[beyond_horizon=1 started=2]"))
		})
	})
})
