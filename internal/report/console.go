package report

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"
)

// ConsoleSink writes records as JSON lines.
type ConsoleSink struct {
	mu  sync.Mutex
	enc *json.Encoder
}

// NewConsoleSink creates a sink writing to w.
func NewConsoleSink(w io.Writer) *ConsoleSink {
	return &ConsoleSink{enc: json.NewEncoder(w)}
}

func (s *ConsoleSink) Name() string {
	return "console"
}

func (s *ConsoleSink) Write(_ context.Context, records []Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, rec := range records {
		if err := s.enc.Encode(rec); err != nil {
			return fmt.Errorf("encode record %q: %w", rec.Rule, err)
		}
	}
	return nil
}

func (s *ConsoleSink) Close() error {
	return nil
}
