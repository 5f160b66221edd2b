package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/cuongbtq/briefcast/internal/domain"
	"github.com/cuongbtq/briefcast/internal/pipelinetest"
	"github.com/cuongbtq/briefcast/internal/queue"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testJobID = "5d0c7a55-7f3c-4f0e-8c1e-3b2a9d8e7f60"

// settlement is how a delivery was settled
type settlement struct {
	acked   bool
	requeue bool
}

type fakeAcknowledger struct {
	mu      sync.Mutex
	settled map[uint64]settlement
}

func (a *fakeAcknowledger) Ack(tag uint64, _ bool) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.settled[tag] = settlement{acked: true}
	return nil
}

func (a *fakeAcknowledger) Nack(tag uint64, _ bool, requeue bool) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.settled[tag] = settlement{requeue: requeue}
	return nil
}

func (a *fakeAcknowledger) Reject(tag uint64, requeue bool) error {
	return a.Nack(tag, false, requeue)
}

func (a *fakeAcknowledger) get(tag uint64) (settlement, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	s, ok := a.settled[tag]
	return s, ok
}

type fakeConsumer struct {
	deliveries chan amqp.Delivery
}

func (c *fakeConsumer) Consume(string) (<-chan amqp.Delivery, error) {
	return c.deliveries, nil
}

type fakeAssembler struct {
	err error
}

func (a *fakeAssembler) Assemble(_ context.Context, msg queue.Message) (*domain.Job, error) {
	if a.err != nil {
		return nil, a.err
	}
	return &domain.Job{ID: msg.JobID, Status: domain.StatusContentGathered}, nil
}

type fakeScripter struct {
	mu   sync.Mutex
	err  error
	jobs []string
}

func (s *fakeScripter) Generate(_ context.Context, job *domain.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs = append(s.jobs, job.ID)
	return s.err
}

type workerFixture struct {
	worker *Worker
	acks   *fakeAcknowledger
	input  chan amqp.Delivery
	cancel context.CancelFunc
	done   chan error
}

func startWorker(t *testing.T, assembler Assembler, scripter Scripter) *workerFixture {
	t.Helper()

	input := make(chan amqp.Delivery, 4)
	w := NewWorker(&Config{
		Logger:      pipelinetest.Logger(),
		Consumer:    &fakeConsumer{deliveries: input},
		Assembler:   assembler,
		Scripter:    scripter,
		WorkerID:    "worker-test",
		QueueName:   "generation",
		Concurrency: 2,
		JobTimeout:  time.Second,
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Start(ctx) }()

	f := &workerFixture{
		worker: w,
		acks:   &fakeAcknowledger{settled: make(map[uint64]settlement)},
		input:  input,
		cancel: cancel,
		done:   done,
	}
	t.Cleanup(func() {
		cancel()
		w.Stop()
	})
	return f
}

func (f *workerFixture) send(t *testing.T, tag uint64, body []byte) {
	t.Helper()
	f.input <- amqp.Delivery{Acknowledger: f.acks, DeliveryTag: tag, Body: body}
}

func (f *workerFixture) waitFor(t *testing.T, tag uint64) settlement {
	t.Helper()
	var s settlement
	require.Eventually(t, func() bool {
		var ok bool
		s, ok = f.acks.get(tag)
		return ok
	}, 2*time.Second, 5*time.Millisecond)
	return s
}

func validBody(t *testing.T) []byte {
	t.Helper()
	body, err := queue.Message{
		JobID:       testJobID,
		SubjectID:   "subject-1",
		Type:        "daily",
		StartDate:   "2026-03-13T06:00:00Z",
		EndDate:     "2026-03-14T06:00:00Z",
		RequestedAt: 1773468000000,
	}.Encode()
	require.NoError(t, err)
	return body
}

func TestWorker_RunsBothStagesAndAcks(t *testing.T) {
	scripter := &fakeScripter{}
	f := startWorker(t, &fakeAssembler{}, scripter)

	f.send(t, 1, validBody(t))

	assert.Equal(t, settlement{acked: true}, f.waitFor(t, 1))
	scripter.mu.Lock()
	defer scripter.mu.Unlock()
	assert.Equal(t, []string{testJobID}, scripter.jobs)
}

func TestWorker_MalformedMessageIsDropped(t *testing.T) {
	f := startWorker(t, &fakeAssembler{}, &fakeScripter{})

	f.send(t, 1, []byte(`{"jobId":"not-a-uuid"}`))
	f.send(t, 2, []byte(`not json`))

	assert.Equal(t, settlement{}, f.waitFor(t, 1))
	assert.Equal(t, settlement{}, f.waitFor(t, 2))
}

func TestWorker_Settlement(t *testing.T) {
	tests := []struct {
		name        string
		assembleErr error
		scriptErr   error
		want        settlement
	}{
		{name: "stage failed the job", assembleErr: fmt.Errorf("%w: no content", domain.ErrJobFailed), want: settlement{acked: true}},
		{name: "redelivered after claim", assembleErr: fmt.Errorf("%w: expected pending", domain.ErrTransitionConflict), want: settlement{acked: true}},
		{name: "script stage failed the job", scriptErr: fmt.Errorf("%w: empty response", domain.ErrJobFailed), want: settlement{acked: true}},
		{name: "script stage timed out", scriptErr: context.DeadlineExceeded, want: settlement{acked: true}},
		{name: "transient claim error", assembleErr: domain.NewRetryableError(errors.New("connection refused")), want: settlement{requeue: true}},
		{name: "interrupted by shutdown", assembleErr: context.Canceled, want: settlement{requeue: true}},
		{name: "unexpected error", assembleErr: errors.New("boom"), want: settlement{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := startWorker(t, &fakeAssembler{err: tt.assembleErr}, &fakeScripter{err: tt.scriptErr})
			f.send(t, 7, validBody(t))
			assert.Equal(t, tt.want, f.waitFor(t, 7))
		})
	}
}

func TestWorker_ClosedDeliveryChannelIsAnError(t *testing.T) {
	f := startWorker(t, &fakeAssembler{}, &fakeScripter{})
	close(f.input)

	select {
	case err := <-f.done:
		assert.Error(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("worker did not stop")
	}
}

func TestWorker_StartReturnsOnCancel(t *testing.T) {
	f := startWorker(t, &fakeAssembler{}, &fakeScripter{})
	f.cancel()

	select {
	case err := <-f.done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("worker did not stop")
	}
}
