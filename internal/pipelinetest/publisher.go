package pipelinetest

import (
	"context"
	"slices"
	"sync"

	"github.com/cuongbtq/briefcast/internal/queue"
)

// Publisher records every published queue message.
//
// Thread-safety: All methods are safe for concurrent use.
type Publisher struct {
	mu       sync.Mutex
	messages []queue.Message
	err      error
}

// FailWith makes every publish return err until cleared with nil.
func (p *Publisher) FailWith(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.err = err
}

// Messages returns the messages published so far.
func (p *Publisher) Messages() []queue.Message {
	p.mu.Lock()
	defer p.mu.Unlock()
	return slices.Clone(p.messages)
}

func (p *Publisher) PublishWithRetry(_ context.Context, body []byte, _ string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.err != nil {
		return p.err
	}
	msg, err := queue.Decode(body)
	if err != nil {
		return err
	}
	p.messages = append(p.messages, msg)
	return nil
}
