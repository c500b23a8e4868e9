package providers

import (
	"context"
	"errors"
	"fmt"
	"io"
	"runtime"
	"time"

	"github.com/mihaisavezi/mcp-chat-gateway/internal/message"
)

// ErrHalted is returned when the consumer declined further events.
var ErrHalted = errors.New("stream halted by consumer")

const yieldInterval = 100 * time.Millisecond

// ChunkStream is a pull-based upstream stream. io.EOF ends it.
type ChunkStream[T any] interface {
	Recv() (T, error)
	Close() error
}

// Normalizer turns upstream chunks into canonical events. Finish is called
// once after the stream is exhausted.
type Normalizer[T any] interface {
	Normalize(chunk T) ([]message.StreamEvent, error)
	Finish() ([]message.StreamEvent, error)
}

// Pump drains stream through n and forwards every event in order. The
// stream is closed on all paths.
func Pump[T any](ctx context.Context, stream ChunkStream[T], n Normalizer[T], emit Emit) error {
	defer stream.Close()

	// Events produced alongside an error still reach the consumer first.
	deliver := func(events []message.StreamEvent, err error) error {
		if ferr := forward(events, emit); ferr != nil {
			return ferr
		}
		return err
	}

	lastYield := time.Now()
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		chunk, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			return deliver(n.Finish())
		}
		if err != nil {
			return fmt.Errorf("receive chunk: %w", err)
		}

		if err := deliver(n.Normalize(chunk)); err != nil {
			return err
		}

		if time.Since(lastYield) >= yieldInterval {
			runtime.Gosched()
			lastYield = time.Now()
		}
	}
}

func forward(events []message.StreamEvent, emit Emit) error {
	for _, ev := range events {
		if !emit(ev) {
			return ErrHalted
		}
	}
	return nil
}

// sliceStream replays a fixed set of chunks. Used for non-streaming
// responses so they share the streaming code path.
type sliceStream[T any] struct {
	chunks []T
	pos    int
}

func newSliceStream[T any](chunks ...T) *sliceStream[T] {
	return &sliceStream[T]{chunks: chunks}
}

func (s *sliceStream[T]) Recv() (T, error) {
	var zero T
	if s.pos >= len(s.chunks) {
		return zero, io.EOF
	}
	c := s.chunks[s.pos]
	s.pos++
	return c, nil
}

func (s *sliceStream[T]) Close() error { return nil }
