package worker

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"docvoice/internal/queue"
)

// Pool runs a fixed set of workers that pull job ids off the queue and hand
// them to the Manager.
type Pool struct {
	queue   queue.Queue
	manager *Manager
	size    int

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewPool(q queue.Queue, manager *Manager, size int) *Pool {
	if size <= 0 {
		size = 2
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Pool{queue: q, manager: manager, size: size, ctx: ctx, cancel: cancel}
}

func (p *Pool) Start() {
	for i := 0; i < p.size; i++ {
		p.wg.Add(1)
		go p.loop(i)
	}
	log.Printf("worker pool started with %d workers", p.size)
}

// Stop interrupts the dequeue waits and then waits for in-flight jobs to
// reach a terminal state before returning.
func (p *Pool) Stop() {
	p.cancel()
	p.wg.Wait()
}

func (p *Pool) loop(id int) {
	defer p.wg.Done()
	for {
		jobID, err := p.queue.Dequeue(p.ctx)
		if err != nil {
			if p.ctx.Err() != nil {
				return
			}
			if errors.Is(err, queue.ErrEmpty) {
				continue
			}
			log.Printf("worker %d: dequeue: %v", id, err)
			time.Sleep(time.Second)
			continue
		}

		debugLog("worker %d: picked up job %s", id, jobID)
		// Stop must not abort a claimed job; once picked up it runs to a
		// terminal state under the Manager's own timeout.
		if err := p.manager.Process(context.WithoutCancel(p.ctx), jobID); err != nil {
			log.Printf("worker %d: job %s: %v", id, jobID, err)
		}
	}
}
