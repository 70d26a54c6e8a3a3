package notifications

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("Dispatcher", func() {
	var (
		ctx    context.Context
		sender *fakeSender
		disp   *Dispatcher
	)

	BeforeEach(func() {
		ctx = context.Background()
		sender = &fakeSender{status: http.StatusOK}
		disp = NewDispatcher(sender, 5*time.Minute, nil, nil, discardLogger)
	})

	It("sends a well-formed payload and reports success", func() {
		raw := json.RawMessage(`{"event_name":"Race","start_time":"2021-01-01T00:00:00Z","circuit":"Circuit 1","laps":"10"}`)

		result := disp.Dispatch(ctx, raw)

		Expect(result.StatusCode).To(Equal(http.StatusOK))
		Expect(result.OK()).To(BeTrue())
		Expect(result.Body).To(Equal("Notification sent successfully"))
		Expect(sender.titles).To(ConsistOf("F1 STARTING SOON: Race"))
		Expect(sender.messages).To(HaveLen(1))
		Expect(sender.messages[0]).To(Equal(
			"⚠️ Race STARTING IN 5 MINUTES ⚠️\n\n" +
				"Event: Race\n" +
				"Start Time: 2021-01-01 12:00 AM UTC\n" +
				"Circuit: Circuit 1\n" +
				"Laps: 10"))
	})

	It("accepts the payload produced by the scheduler", func() {
		laps := 57
		d := Decision{
			NotifyAt: time.Date(2025, 3, 16, 3, 55, 0, 0, time.UTC),
		}
		d.Event.Name = "Race"
		d.Event.Circuit = "Australian Grand Prix"
		d.Event.Laps = &laps
		d.Event.StartTime = time.Date(2025, 3, 16, 4, 0, 0, 0, time.UTC)
		raw, err := json.Marshal(NewPayload(d))
		Expect(err).NotTo(HaveOccurred())

		result := disp.Dispatch(ctx, raw)

		Expect(result.OK()).To(BeTrue())
		Expect(sender.messages[0]).To(ContainSubstring("Start Time: 2025-03-16 04:00 AM UTC"))
		Expect(sender.messages[0]).To(ContainSubstring("Circuit: Australian Grand Prix"))
		Expect(sender.messages[0]).To(ContainSubstring("Laps: 57"))
	})

	It("unwraps a payload nested under event", func() {
		raw := json.RawMessage(`{"event":{"event_name":"Sprint","event_time":"2025-05-03T16:00:00+00:00"},"wait_seconds":300}`)

		result := disp.Dispatch(ctx, raw)

		Expect(result.OK()).To(BeTrue())
		Expect(sender.messages[0]).To(ContainSubstring("Start Time: 2025-05-03 04:00 PM UTC"))
	})

	It("substitutes placeholders for missing optional fields", func() {
		raw := json.RawMessage(`{"event_name":"Practice 1","start_time":"2025-05-23T11:30:00Z","laps":null}`)

		disp.Dispatch(ctx, raw)

		Expect(sender.messages[0]).To(ContainSubstring("Circuit: Unknown Circuit"))
		Expect(sender.messages[0]).To(HaveSuffix("Laps: N/A"))
	})

	It("adds a local-time line when a display zone is configured", func() {
		chicago := time.FixedZone("CDT", -5*60*60)
		disp = NewDispatcher(sender, 5*time.Minute, chicago, nil, discardLogger)

		disp.Dispatch(ctx, json.RawMessage(`{"event_name":"Race","start_time":"2025-06-15T18:00:00Z"}`))

		Expect(sender.messages[0]).To(ContainSubstring("Local Time: 2025-06-15 01:00 PM CDT"))
	})

	DescribeTable("rejects invalid payloads before sending",
		func(raw string, wantErr string) {
			result := disp.Dispatch(ctx, json.RawMessage(raw))

			Expect(result.StatusCode).To(Equal(http.StatusInternalServerError))
			Expect(result.Body).To(HavePrefix("Error: "))
			Expect(result.Body).To(ContainSubstring(wantErr))
			Expect(sender.messages).To(BeEmpty())
		},
		Entry("missing event_name", `{"start_time":"2021-01-01T00:00:00Z"}`, "event_name"),
		Entry("blank event_name", `{"event_name":"  ","start_time":"2021-01-01T00:00:00Z"}`, "event_name"),
		Entry("missing start_time", `{"event_name":"Race"}`, "start_time"),
		Entry("malformed start_time", `{"event_name":"Race","start_time":"next sunday"}`, "malformed timestamp"),
		Entry("not JSON", `not json`, "invalid payload"),
	)

	It("reports missing push credentials as a configuration error", func() {
		disp = NewDispatcher(nil, 0, nil, nil, discardLogger)

		result := disp.Dispatch(ctx, json.RawMessage(`{"event_name":"Race","start_time":"2021-01-01T00:00:00Z"}`))

		Expect(result.StatusCode).To(Equal(http.StatusInternalServerError))
		Expect(result.Body).To(ContainSubstring("missing configuration"))
	})

	It("does not count an unconfigured Pushover sender as a send attempt", func() {
		sink := &recordingSink{}
		disp = NewDispatcher(NewPushoverSender("http://127.0.0.1:1", "", "", nil), 0, nil, sink, discardLogger)

		result := disp.Dispatch(ctx, json.RawMessage(`{"event_name":"Race","start_time":"2021-01-01T00:00:00Z"}`))

		Expect(result.StatusCode).To(Equal(http.StatusInternalServerError))
		Expect(result.Body).To(ContainSubstring("missing configuration"))
		Expect(sink.dispatches).To(BeEmpty())
	})

	It("records the status class of a completed send", func() {
		sink := &recordingSink{}
		disp = NewDispatcher(sender, 0, nil, sink, discardLogger)

		disp.Dispatch(ctx, json.RawMessage(`{"event_name":"Race","start_time":"2021-01-01T00:00:00Z"}`))

		Expect(sink.dispatches).To(ConsistOf("2xx"))
	})

	It("falls back to lap_count when laps is absent", func() {
		raw := json.RawMessage(`{"event_name":"Race","start_time":"2025-05-25T13:00:00Z","lap_count":78}`)

		disp.Dispatch(ctx, raw)

		Expect(sender.messages[0]).To(HaveSuffix("Laps: 78"))
	})

	It("reports a transport failure as an error result", func() {
		sender.err = errors.New("connection reset")

		result := disp.Dispatch(ctx, json.RawMessage(`{"event_name":"Race","start_time":"2021-01-01T00:00:00Z"}`))

		Expect(result.StatusCode).To(Equal(http.StatusInternalServerError))
		Expect(result.Body).To(ContainSubstring("transport failure"))
		Expect(result.Body).To(ContainSubstring("connection reset"))
	})

	It("passes a rejected status through", func() {
		sender.status = http.StatusTooManyRequests

		result := disp.Dispatch(ctx, json.RawMessage(`{"event_name":"Race","start_time":"2021-01-01T00:00:00Z"}`))

		Expect(result.StatusCode).To(Equal(http.StatusTooManyRequests))
		Expect(result.OK()).To(BeFalse())
		Expect(result.Body).To(Equal("Notification delivery failed with status 429"))
	})
})

var _ = Describe("PushoverSender", func() {
	It("is nil without credentials", func() {
		Expect(NewPushoverSender("http://unused", "", "user", discardLogger)).To(BeNil())
		Expect(NewPushoverSender("http://unused", "token", "", discardLogger)).To(BeNil())
	})

	It("reports a configuration error from a nil sender", func() {
		var s *PushoverSender
		_, err := s.Send(context.Background(), "m", "t")
		Expect(errors.Is(err, ErrConfiguration)).To(BeTrue())
	})

	It("posts the form fields and returns the status", func() {
		var got url.Values
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer GinkgoRecover()
			Expect(r.Method).To(Equal(http.MethodPost))
			Expect(r.Header.Get("Content-Type")).To(Equal("application/x-www-form-urlencoded"))
			body, _ := io.ReadAll(r.Body)
			got, _ = url.ParseQuery(string(body))
			w.WriteHeader(http.StatusOK)
		}))
		DeferCleanup(srv.Close)

		s := NewPushoverSender(srv.URL, "tok", "usr", discardLogger)
		status, err := s.Send(context.Background(), "body text", "F1 STARTING SOON: Race")

		Expect(err).NotTo(HaveOccurred())
		Expect(status).To(Equal(http.StatusOK))
		Expect(got.Get("token")).To(Equal("tok"))
		Expect(got.Get("user")).To(Equal("usr"))
		Expect(got.Get("title")).To(Equal("F1 STARTING SOON: Race"))
		Expect(got.Get("message")).To(Equal("body text"))
	})

	It("returns a rejected status without an error", func() {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(`{"status":0,"errors":["user identifier is invalid"]}`))
		}))
		DeferCleanup(srv.Close)

		s := NewPushoverSender(srv.URL, "tok", "usr", discardLogger)
		status, err := s.Send(context.Background(), "m", "t")

		Expect(err).NotTo(HaveOccurred())
		Expect(status).To(Equal(http.StatusBadRequest))
	})
})
