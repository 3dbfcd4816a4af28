// Package runtimefake provides a scripted runtime client for tests.
package runtimefake

import (
	"context"
	"io"
	"sync"
	"time"

	"github.com/strandhq/agentgate/runtime"
)

// FakeClient replays a scripted chunk sequence per invocation and records
// every request it receives.
type FakeClient struct {
	mu       sync.Mutex
	requests []runtime.InvokeRequest

	Chunks     []string
	ChunkDelay time.Duration
	InvokeErr  error
	// MidStreamErr, when set, is returned after all chunks are delivered
	// instead of io.EOF.
	MidStreamErr error
}

func New(chunks ...string) *FakeClient {
	return &FakeClient{Chunks: chunks}
}

var _ runtime.Client = (*FakeClient)(nil)

func (f *FakeClient) Invoke(ctx context.Context, req runtime.InvokeRequest) (runtime.Stream, error) {
	f.mu.Lock()
	f.requests = append(f.requests, req)
	f.mu.Unlock()

	if f.InvokeErr != nil {
		return nil, f.InvokeErr
	}

	return &fakeStream{
		ctx:          ctx,
		chunks:       f.Chunks,
		delay:        f.ChunkDelay,
		midStreamErr: f.MidStreamErr,
	}, nil
}

// Requests returns a copy of the recorded invocations.
func (f *FakeClient) Requests() []runtime.InvokeRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]runtime.InvokeRequest, len(f.requests))
	copy(out, f.requests)
	return out
}

type fakeStream struct {
	ctx          context.Context
	chunks       []string
	delay        time.Duration
	midStreamErr error
	pos          int
	closed       bool
}

func (s *fakeStream) Recv() (runtime.Chunk, error) {
	if s.closed {
		return runtime.Chunk{}, io.EOF
	}
	if s.pos >= len(s.chunks) {
		if s.midStreamErr != nil {
			return runtime.Chunk{}, s.midStreamErr
		}
		return runtime.Chunk{}, io.EOF
	}

	if s.delay > 0 {
		select {
		case <-s.ctx.Done():
			return runtime.Chunk{}, s.ctx.Err()
		case <-time.After(s.delay):
		}
	} else if err := s.ctx.Err(); err != nil {
		return runtime.Chunk{}, err
	}

	chunk := runtime.Chunk{Delta: s.chunks[s.pos]}
	s.pos++
	return chunk, nil
}

func (s *fakeStream) Close() error {
	s.closed = true
	return nil
}
