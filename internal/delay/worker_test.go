package delay

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/albapepper/race-alerts/internal/notifications"
)

type fakeQueue struct {
	due      []Execution
	claimErr error
	limit    int
	sent     []string
	failed   map[string]string
}

func (q *fakeQueue) ClaimDue(_ context.Context, limit int) ([]Execution, error) {
	q.limit = limit
	if q.claimErr != nil {
		return nil, q.claimErr
	}
	due := q.due
	q.due = nil
	return due, nil
}

func (q *fakeQueue) MarkSent(_ context.Context, name string) error {
	q.sent = append(q.sent, name)
	return nil
}

func (q *fakeQueue) MarkFailed(_ context.Context, name, reason string) error {
	if q.failed == nil {
		q.failed = make(map[string]string)
	}
	q.failed[name] = reason
	return nil
}

var _ = Describe("Worker", func() {
	var (
		queue *fakeQueue
		disp  *recordingDispatcher
		w     *Worker
	)

	BeforeEach(func() {
		queue = &fakeQueue{}
		disp = &recordingDispatcher{status: http.StatusOK}
		w = NewWorker(queue, disp, 0, discardLogger)
	})

	It("dispatches each claimed execution and marks it sent", func() {
		queue.due = []Execution{
			{Name: "f1-notification-Race-202505251300", Payload: json.RawMessage(`{"event_name":"Race"}`)},
			{Name: "f1-notification-Sprint-202505241500", Payload: json.RawMessage(`{"event_name":"Sprint"}`)},
		}

		sent, failed, err := w.DispatchDue(context.Background())

		Expect(err).NotTo(HaveOccurred())
		Expect(sent).To(Equal(2))
		Expect(failed).To(Equal(0))
		Expect(queue.limit).To(Equal(defaultBatchSize))
		Expect(queue.sent).To(ConsistOf("f1-notification-Race-202505251300", "f1-notification-Sprint-202505241500"))
		Expect(disp.payloads).To(ConsistOf(`{"event_name":"Race"}`, `{"event_name":"Sprint"}`))
	})

	It("marks rejected dispatches as failed with the result body", func() {
		disp.status = http.StatusBadRequest
		queue.due = []Execution{{Name: "f1-notification-Race-202505251300", Payload: json.RawMessage(`{}`)}}

		sent, failed, err := w.DispatchDue(context.Background())

		Expect(err).NotTo(HaveOccurred())
		Expect(sent).To(Equal(0))
		Expect(failed).To(Equal(1))
		Expect(queue.failed).To(HaveKeyWithValue("f1-notification-Race-202505251300", "Error: boom"))
		Expect(queue.sent).To(BeEmpty())
	})

	It("returns claim errors without dispatching", func() {
		queue.claimErr = errors.New("connection refused")

		_, _, err := w.DispatchDue(context.Background())

		Expect(err).To(MatchError(ContainSubstring("connection refused")))
		Expect(disp.payloads).To(BeEmpty())
	})

	It("does nothing when no executions are due", func() {
		sent, failed, err := w.DispatchDue(context.Background())

		Expect(err).NotTo(HaveOccurred())
		Expect(sent + failed).To(Equal(0))
	})

	It("stops when the context is cancelled", func() {
		ctx, cancel := context.WithCancel(context.Background())
		done := make(chan struct{})
		go func() {
			defer close(done)
			w.Run(ctx)
		}()

		cancel()
		Eventually(done).Should(BeClosed())
	})

	It("dispatches on Wake without waiting for the next tick", func() {
		queue.due = []Execution{{Name: "f1-notification-Race-202505251300", Payload: json.RawMessage(`{"event_name":"Race"}`)}}
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		go w.Run(ctx)

		w.Wake()
		w.Wake()

		Eventually(func() int {
			disp.mu.Lock()
			defer disp.mu.Unlock()
			return len(disp.payloads)
		}).Should(Equal(1))
	})
})

// execDB records Exec calls and returns a fixed command tag.
type execDB struct {
	tag  string
	err  error
	sqls []string
	args [][]any
}

func (d *execDB) Exec(_ context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	d.sqls = append(d.sqls, sql)
	d.args = append(d.args, args)
	return pgconn.NewCommandTag(d.tag), d.err
}

func (d *execDB) Query(context.Context, string, ...any) (pgx.Rows, error) {
	return nil, errors.New("not implemented")
}

var _ = Describe("Store", func() {
	It("inserts a new execution", func() {
		db := &execDB{tag: "INSERT 0 1"}
		s := NewStore(db)

		err := s.Start(context.Background(), "f1-notification-Race-202505251300", 6900, json.RawMessage(`{"event_name":"Race"}`))

		Expect(err).NotTo(HaveOccurred())
		Expect(db.sqls[0]).To(ContainSubstring("ON CONFLICT (name) DO NOTHING"))
		Expect(db.args[0]).To(Equal([]any{"f1-notification-Race-202505251300", []byte(`{"event_name":"Race"}`), float64(6900)}))
	})

	It("reports an existing name as already scheduled", func() {
		s := NewStore(&execDB{tag: "INSERT 0 0"})

		err := s.Start(context.Background(), "f1-notification-Race-202505251300", 6900, json.RawMessage(`{}`))

		Expect(errors.Is(err, notifications.ErrAlreadyScheduled)).To(BeTrue())
	})

	It("wraps database errors", func() {
		s := NewStore(&execDB{err: errors.New("relation does not exist")})

		err := s.Start(context.Background(), "x", 1, json.RawMessage(`{}`))

		Expect(err).To(MatchError(ContainSubstring("insert execution x")))
		Expect(errors.Is(err, notifications.ErrAlreadyScheduled)).To(BeFalse())
	})

	It("returns the number of purged rows", func() {
		s := NewStore(&execDB{tag: "DELETE 3"})

		n, err := s.Cleanup(context.Background(), 0)

		Expect(err).NotTo(HaveOccurred())
		Expect(n).To(Equal(int64(3)))
	})
})
