package batch

import (
	"context"

	log "github.com/sirupsen/logrus"
)

// ChunkContext describes the chunk a listener is notified about.
type ChunkContext struct {
	Step       string
	Chunk      int
	Items      int
	ReadCount  int64
	WriteCount int64
}

// ChunkListener observes the chunk loop. BeforeChunk runs once a chunk has
// been read and before its transaction begins; AfterChunk runs after commit;
// AfterChunkError runs after rollback.
type ChunkListener interface {
	BeforeChunk(ctx context.Context, cc ChunkContext)
	AfterChunk(ctx context.Context, cc ChunkContext)
	AfterChunkError(ctx context.Context, cc ChunkContext, err error)
}

func (s *ChunkStep[T]) beforeChunk(ctx context.Context, cc ChunkContext, exec *StepExecution) {
	cc.ReadCount, cc.WriteCount = exec.ReadCount, exec.WriteCount
	for _, l := range s.listeners {
		l.BeforeChunk(ctx, cc)
	}
}

func (s *ChunkStep[T]) afterChunk(ctx context.Context, cc ChunkContext, exec *StepExecution) {
	cc.ReadCount, cc.WriteCount = exec.ReadCount, exec.WriteCount
	for _, l := range s.listeners {
		l.AfterChunk(ctx, cc)
	}
}

func (s *ChunkStep[T]) chunkError(ctx context.Context, cc ChunkContext, exec *StepExecution, err error) {
	cc.ReadCount, cc.WriteCount = exec.ReadCount, exec.WriteCount
	for _, l := range s.listeners {
		l.AfterChunkError(ctx, cc, err)
	}
}

// LoggingChunkListener logs chunk progress through logrus.
type LoggingChunkListener struct{}

func (LoggingChunkListener) BeforeChunk(ctx context.Context, cc ChunkContext) {
	log.WithFields(log.Fields{"step": cc.Step, "chunk": cc.Chunk, "items": cc.Items}).Trace("[Step] Write chunk")
}

func (LoggingChunkListener) AfterChunk(ctx context.Context, cc ChunkContext) {
	log.WithFields(log.Fields{
		"step":    cc.Step,
		"chunk":   cc.Chunk,
		"items":   cc.Items,
		"read":    cc.ReadCount,
		"written": cc.WriteCount,
	}).Debug("[Step] Chunk committed")
}

func (LoggingChunkListener) AfterChunkError(ctx context.Context, cc ChunkContext, err error) {
	log.WithFields(log.Fields{"step": cc.Step, "chunk": cc.Chunk, "items": cc.Items}).WithError(err).Error("[Step] Chunk rolled back")
}
