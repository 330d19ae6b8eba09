package server

import (
	"context"
	"log/slog"

	"github.com/Tyrowin/chatroom/internal/chat"
	"github.com/Tyrowin/chatroom/internal/history"
)

const historyQueueSize = 256

// historyJob is either an append (message set) or a snapshot read for client.
type historyJob struct {
	message *chat.Message
	client  *Client
}

// historyPump serializes store access in one goroutine so a snapshot read sees
// every append queued before it.
type historyPump struct {
	store   history.Store
	jobs    chan historyJob
	results chan<- snapshotResult
	log     *slog.Logger
}

func newHistoryPump(store history.Store, results chan<- snapshotResult, log *slog.Logger) *historyPump {
	return &historyPump{
		store:   store,
		jobs:    make(chan historyJob, historyQueueSize),
		results: results,
		log:     log,
	}
}

func (p *historyPump) append(message chat.Message) bool {
	return p.enqueue(historyJob{message: &message})
}

func (p *historyPump) requestSnapshot(client *Client) bool {
	return p.enqueue(historyJob{client: client})
}

func (p *historyPump) enqueue(job historyJob) bool {
	select {
	case p.jobs <- job:
		return true
	default:
		return false
	}
}

func (p *historyPump) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case job := <-p.jobs:
			p.process(ctx, job)
		}
	}
}

func (p *historyPump) process(ctx context.Context, job historyJob) {
	if job.message != nil {
		if err := p.store.Append(ctx, *job.message); err != nil {
			p.log.Warn("History append failed", "message", job.message.ID, "error", err)
		}
		return
	}

	messages, err := p.store.Recent(ctx)
	if err != nil {
		p.log.Warn("History read failed; sending empty snapshot", "conn", job.client.id, "error", err)
		messages = []chat.Message{}
	}

	select {
	case p.results <- snapshotResult{client: job.client, messages: messages}:
	case <-ctx.Done():
	}
}
