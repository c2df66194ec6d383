package rasterservice

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"
)

const defaultQueueSize = 400

type Task struct {
	Ctx     context.Context
	Payload *ReadRequest
	Resp    chan *ReadResult
	Error   chan error
}

// ReaderPool runs read tasks on a fixed number of goroutines. Tasks are
// rejected once the queue is nearly full so that callers fail fast and
// retry on another worker.
type ReaderPool struct {
	TaskQueue chan *Task
	reader    RasterReader
	log       *zap.SugaredLogger
	wg        sync.WaitGroup
}

func NewReaderPool(n int, reader RasterReader, log *zap.SugaredLogger) *ReaderPool {
	if n <= 0 {
		n = 1
	}
	p := &ReaderPool{
		TaskQueue: make(chan *Task, defaultQueueSize),
		reader:    reader,
		log:       log,
	}
	for i := 0; i < n; i++ {
		p.wg.Add(1)
		go p.run(i)
	}
	return p
}

func (p *ReaderPool) AddQueue(task *Task) {
	if len(p.TaskQueue) > defaultQueueSize-10 {
		task.Error <- fmt.Errorf("Pool TaskQueue is full")
		return
	}
	p.TaskQueue <- task
}

func (p *ReaderPool) run(idx int) {
	defer p.wg.Done()
	for task := range p.TaskQueue {
		if err := task.Ctx.Err(); err != nil {
			task.Error <- err
			continue
		}
		res, err := p.reader.Read(task.Ctx, task.Payload)
		if err != nil {
			p.log.Debugf("reader %d: %s: %v", idx, task.Payload.Path, err)
			task.Error <- err
			continue
		}
		task.Resp <- res
	}
}

// Close stops accepting tasks and waits for running ones.
func (p *ReaderPool) Close() {
	close(p.TaskQueue)
	p.wg.Wait()
}

// Server is the gRPC facing side of a worker.
type Server struct {
	Pool *ReaderPool
}

func (s *Server) Read(ctx context.Context, in *ReadRequest) (*ReadResult, error) {
	if err := in.Validate(); err != nil {
		return nil, err
	}
	rChan := make(chan *ReadResult, 1)
	errChan := make(chan error, 1)

	s.Pool.AddQueue(&Task{Ctx: ctx, Payload: in, Resp: rChan, Error: errChan})

	select {
	case out := <-rChan:
		return out, nil
	case err := <-errChan:
		return nil, fmt.Errorf("Error in ops: %v", err)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
