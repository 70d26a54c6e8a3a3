package notifications

import (
	"strings"
	"time"
	"unicode/utf8"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/albapepper/race-alerts/internal/race"
)

var _ = Describe("Policy.Evaluate", func() {
	var (
		policy Policy
		now    time.Time
	)

	BeforeEach(func() {
		policy = DefaultPolicy()
		now = time.Date(2025, 5, 24, 12, 0, 0, 0, time.UTC)
	})

	event := func(offset time.Duration) race.Event {
		return race.Event{RaceID: "monaco", Name: "Qualifying", StartTime: now.Add(offset)}
	}

	DescribeTable("skips events that cannot get a useful notification",
		func(offset time.Duration, want SkipReason) {
			_, reason := policy.Evaluate(event(offset), now)
			Expect(reason).To(Equal(want))
		},
		Entry("started two hours ago", -2*time.Hour, SkipStarted),
		Entry("starting exactly now", time.Duration(0), SkipStarted),
		Entry("starting in 3 minutes", 3*time.Minute, SkipLeadPassed),
		Entry("notification point exactly now", 5*time.Minute, SkipLeadPassed),
		Entry("26 hours out", 26*time.Hour, SkipBeyondHorizon),
		Entry("one second past the horizon", 24*time.Hour+5*time.Minute+time.Second, SkipBeyondHorizon),
	)

	DescribeTable("schedules events inside the horizon with floored wait seconds",
		func(offset time.Duration, wantWait int64) {
			d, reason := policy.Evaluate(event(offset), now)
			Expect(reason).To(Equal(Eligible))
			Expect(d.WaitSeconds).To(Equal(wantWait))
			Expect(d.NotifyAt).To(Equal(now.Add(offset - 5*time.Minute)))
		},
		Entry("two hours out", 2*time.Hour, int64(7200-300)),
		Entry("just past the lead time", 5*time.Minute+time.Second, int64(1)),
		Entry("fractional wait is floored", 5*time.Minute+1500*time.Millisecond, int64(1)),
		Entry("sub-second wait", 5*time.Minute+500*time.Millisecond, int64(0)),
		Entry("exactly at the horizon", 24*time.Hour+5*time.Minute, int64(86400)),
	)

	It("compares aware timestamps regardless of their zone", func() {
		paris := time.FixedZone("CEST", 2*60*60)
		e := race.Event{Name: "Race", StartTime: now.Add(2 * time.Hour).In(paris)}

		d, reason := policy.Evaluate(e, now.In(paris))

		Expect(reason).To(Equal(Eligible))
		Expect(d.WaitSeconds).To(Equal(int64(6900)))
		Expect(d.NotifyAt.Location()).To(Equal(time.UTC))
	})

	It("honours a custom lead time and horizon", func() {
		policy = Policy{LeadTime: 15 * time.Minute, Horizon: time.Hour}

		_, reason := policy.Evaluate(event(10*time.Minute), now)
		Expect(reason).To(Equal(SkipLeadPassed))

		_, reason = policy.Evaluate(event(2*time.Hour), now)
		Expect(reason).To(Equal(SkipBeyondHorizon))

		d, reason := policy.Evaluate(event(time.Hour), now)
		Expect(reason).To(Equal(Eligible))
		Expect(d.WaitSeconds).To(Equal(int64(45 * 60)))
	})

	It("attaches the execution key", func() {
		d, _ := policy.Evaluate(event(2*time.Hour), now)
		Expect(d.Key).To(Equal("f1-notification-Qualifying-202505241400"))
	})
})

var _ = Describe("ExecutionKey", func() {
	start := time.Date(2025, 5, 25, 13, 0, 0, 0, time.UTC)

	It("replaces whitespace and appends the start minute", func() {
		Expect(ExecutionKey("Practice 1", start, 80)).To(Equal("f1-notification-Practice-1-202505251300"))
	})

	It("is stable for the same event in any zone", func() {
		tokyo := time.FixedZone("JST", 9*60*60)
		Expect(ExecutionKey("Race", start.In(tokyo), 80)).To(Equal(ExecutionKey("Race", start, 80)))
	})

	It("distinguishes different names and start minutes", func() {
		keys := map[string]bool{}
		for _, k := range []string{
			ExecutionKey("Race", start, 80),
			ExecutionKey("Sprint", start, 80),
			ExecutionKey("Race", start.Add(time.Minute), 80),
			ExecutionKey("Race", start.Add(24*time.Hour), 80),
			ExecutionKey("Sprint Qualifying", start, 80),
			ExecutionKey("Sprint  Qualifying", start, 80),
		} {
			keys[k] = true
		}
		Expect(keys).To(HaveLen(6))
	})

	It("truncates long names to the maximum length", func() {
		long := "This is an extremely long event name that would definitely exceed the 80 character limit when combined with the timestamp and prefix"
		key := ExecutionKey(long, start, 80)

		Expect(len(key)).To(Equal(80))
		Expect(key).To(HavePrefix("f1-notification-This-is-an-extremely-long-event-name"))
		Expect(ExecutionKey(long, start, 80)).To(Equal(key))
	})

	It("never splits a multi-byte character", func() {
		name := strings.Repeat("é", 60)
		key := ExecutionKey(name, start, 80)

		Expect(len(key)).To(BeNumerically("<=", 80))
		Expect(utf8.ValidString(key)).To(BeTrue())
	})

	It("falls back to 80 characters for a non-positive limit", func() {
		key := ExecutionKey(strings.Repeat("x", 200), start, 0)
		Expect(len(key)).To(Equal(80))
	})
})
