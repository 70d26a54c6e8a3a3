package delay

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	amqp "github.com/rabbitmq/amqp091-go"
)

type declaredQueue struct {
	name string
	args amqp.Table
}

type publishedMessage struct {
	key string
	msg amqp.Publishing
}

// fakeChannel stands in for *amqp.Channel.
type fakeChannel struct {
	mu          sync.Mutex
	declared    []declaredQueue
	published   []publishedMessage
	declareErr  error
	publishErr  error
	deliveries  chan amqp.Delivery
	consumedQ   string
	prefetchSet int
}

func (c *fakeChannel) QueueDeclare(name string, _, _, _, _ bool, args amqp.Table) (amqp.Queue, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.declareErr != nil {
		return amqp.Queue{}, c.declareErr
	}
	c.declared = append(c.declared, declaredQueue{name: name, args: args})
	return amqp.Queue{Name: name}, nil
}

func (c *fakeChannel) PublishWithContext(_ context.Context, _, key string, _, _ bool, msg amqp.Publishing) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.publishErr != nil {
		return c.publishErr
	}
	c.published = append(c.published, publishedMessage{key: key, msg: msg})
	return nil
}

func (c *fakeChannel) Qos(prefetchCount, _ int, _ bool) error {
	c.prefetchSet = prefetchCount
	return nil
}

func (c *fakeChannel) Consume(queue, _ string, _, _, _, _ bool, _ amqp.Table) (<-chan amqp.Delivery, error) {
	c.consumedQ = queue
	return c.deliveries, nil
}

// fakeAcknowledger records acks and rejects by delivery tag.
type fakeAcknowledger struct {
	mu       sync.Mutex
	acked    []uint64
	rejected []uint64
}

func (a *fakeAcknowledger) Ack(tag uint64, _ bool) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.acked = append(a.acked, tag)
	return nil
}

func (a *fakeAcknowledger) Nack(tag uint64, _ bool, _ bool) error {
	return a.Reject(tag, false)
}

func (a *fakeAcknowledger) Reject(tag uint64, _ bool) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.rejected = append(a.rejected, tag)
	return nil
}

func (a *fakeAcknowledger) counts() (acked, rejected int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.acked), len(a.rejected)
}

var _ = Describe("AMQPStarter", func() {
	var (
		ch      *fakeChannel
		starter *AMQPStarter
	)

	BeforeEach(func() {
		ch = &fakeChannel{}
		starter = NewAMQPStarter(ch, discardLogger)
	})

	It("declares the due queue", func() {
		Expect(SetupTopology(ch)).To(Succeed())
		Expect(ch.declared).To(ConsistOf(declaredQueue{name: DueQueue}))
	})

	It("publishes to a wait queue that dead-letters into the due queue", func() {
		payload := json.RawMessage(`{"event_name":"Race"}`)

		err := starter.Start(context.Background(), "f1-notification-Race-202505251300", 6900, payload)

		Expect(err).NotTo(HaveOccurred())
		Expect(ch.declared).To(HaveLen(1))
		Expect(ch.declared[0].name).To(Equal("race-alerts.wait.6900"))
		Expect(ch.declared[0].args).To(HaveKeyWithValue("x-message-ttl", int64(6900000)))
		Expect(ch.declared[0].args).To(HaveKeyWithValue("x-dead-letter-routing-key", DueQueue))
		Expect(ch.declared[0].args).To(HaveKeyWithValue("x-expires", int64(6900000+300000)))

		Expect(ch.published).To(HaveLen(1))
		pub := ch.published[0]
		Expect(pub.key).To(Equal("race-alerts.wait.6900"))
		Expect(pub.msg.Body).To(Equal([]byte(payload)))
		Expect(pub.msg.DeliveryMode).To(Equal(amqp.Persistent))
		Expect(pub.msg.MessageId).NotTo(BeEmpty())
		Expect(pub.msg.Headers).To(HaveKeyWithValue("execution_name", "f1-notification-Race-202505251300"))
	})

	It("publishes a zero wait straight to the due queue", func() {
		Expect(starter.Start(context.Background(), "now", 0, json.RawMessage(`{}`))).To(Succeed())

		Expect(ch.declared).To(BeEmpty())
		Expect(ch.published[0].key).To(Equal(DueQueue))
	})

	It("gives each publish its own message id", func() {
		Expect(starter.Start(context.Background(), "a", 60, json.RawMessage(`{}`))).To(Succeed())
		Expect(starter.Start(context.Background(), "b", 60, json.RawMessage(`{}`))).To(Succeed())

		Expect(ch.published[0].msg.MessageId).NotTo(Equal(ch.published[1].msg.MessageId))
	})

	It("returns declare and publish errors", func() {
		ch.declareErr = errors.New("access refused")
		Expect(starter.Start(context.Background(), "a", 60, json.RawMessage(`{}`))).To(MatchError(ContainSubstring("access refused")))

		ch.declareErr = nil
		ch.publishErr = errors.New("channel closed")
		Expect(starter.Start(context.Background(), "a", 60, json.RawMessage(`{}`))).To(MatchError(ContainSubstring("channel closed")))
	})
})

var _ = Describe("Consumer", func() {
	var (
		ch    *fakeChannel
		ack   *fakeAcknowledger
		disp  *recordingDispatcher
		cons  *Consumer
		ctx   context.Context
		stop  context.CancelFunc
		errCh chan error
	)

	BeforeEach(func() {
		ch = &fakeChannel{deliveries: make(chan amqp.Delivery, 4)}
		ack = &fakeAcknowledger{}
		disp = &recordingDispatcher{status: http.StatusOK}
		cons = NewConsumer(ch, disp, discardLogger)
		ctx, stop = context.WithCancel(context.Background())
		errCh = make(chan error, 1)
		DeferCleanup(stop)
	})

	run := func() {
		go func() { errCh <- cons.Run(ctx) }()
	}

	delivery := func(tag uint64, body string) amqp.Delivery {
		return amqp.Delivery{
			Acknowledger: ack,
			DeliveryTag:  tag,
			Headers:      amqp.Table{"execution_name": "f1-notification-Race"},
			Body:         []byte(body),
		}
	}

	It("acks dispatched deliveries", func() {
		ch.deliveries <- delivery(1, `{"event_name":"Race"}`)
		run()

		Eventually(func() int { a, _ := ack.counts(); return a }).Should(Equal(1))
		Expect(ch.consumedQ).To(Equal(DueQueue))
		Expect(ch.prefetchSet).To(Equal(1))
	})

	It("rejects deliveries whose dispatch failed", func() {
		disp.status = http.StatusInternalServerError
		ch.deliveries <- delivery(7, `{}`)
		run()

		Eventually(func() int { _, r := ack.counts(); return r }).Should(Equal(1))
		a, _ := ack.counts()
		Expect(a).To(Equal(0))
	})

	It("returns when the context is cancelled", func() {
		run()
		stop()

		Eventually(errCh).Should(Receive(MatchError(context.Canceled)))
	})

	It("returns an error when the delivery channel closes", func() {
		close(ch.deliveries)
		run()

		Eventually(errCh).Should(Receive(MatchError(ContainSubstring("deliveries channel closed"))))
	})
})
