// Package logging builds the process logger and keeps a feed of recent
// records that other components can subscribe to.
package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"
)

const defaultBufferSize = 256

// Config configures the process logger.
type Config struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Buffer int    `yaml:"buffer"`
}

// Record is a log record as kept in the buffer and sent to subscribers.
type Record struct {
	Time    time.Time      `json:"time"`
	Attrs   map[string]any `json:"attrs,omitempty"`
	Level   string         `json:"level"`
	Message string         `json:"message"`
}

// Service owns the process logger, a ring buffer of recent records and the
// set of subscribers records are broadcast to.
type Service struct {
	logger  *slog.Logger
	subs    map[int]chan Record
	records []Record
	mu      sync.Mutex
	next    int
	count   int
	nextSub int
}

// NewService creates the logging service writing to w.
func NewService(cfg Config, w io.Writer) *Service {
	size := cfg.Buffer
	if size <= 0 {
		size = defaultBufferSize
	}

	opts := &slog.HandlerOptions{Level: ParseLevel(cfg.Level)}

	var next slog.Handler
	if strings.EqualFold(cfg.Format, "json") {
		next = slog.NewJSONHandler(w, opts)
	} else {
		next = slog.NewTextHandler(w, opts)
	}

	s := &Service{
		records: make([]Record, size),
		subs:    make(map[int]chan Record),
	}
	s.logger = slog.New(&handler{next: next, service: s})

	return s
}

// Logger returns the process logger.
func (s *Service) Logger() *slog.Logger {
	return s.logger
}

// Recent returns the buffered records, oldest first.
func (s *Service) Recent() []Record {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Record, 0, s.count)
	start := (s.next - s.count + len(s.records)) % len(s.records)
	for i := range s.count {
		out = append(out, s.records[(start+i)%len(s.records)])
	}
	return out
}

// Subscribe returns a channel receiving every record logged from now on and a
// function that cancels the subscription. A subscriber that does not keep up
// misses records.
func (s *Service) Subscribe(buffer int) (<-chan Record, func()) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := s.nextSub
	s.nextSub++
	ch := make(chan Record, buffer)
	s.subs[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			s.mu.Lock()
			defer s.mu.Unlock()

			delete(s.subs, id)
			close(ch)
		})
	}
}

func (s *Service) publish(rec Record) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.records[s.next] = rec
	s.next = (s.next + 1) % len(s.records)
	if s.count < len(s.records) {
		s.count++
	}

	for _, ch := range s.subs {
		select {
		case ch <- rec:
		default:
		}
	}
}

// ParseLevel converts a level name to a slog.Level. Unknown names map to info.
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// handler feeds records to the service before passing them on.
type handler struct {
	next    slog.Handler
	service *Service
	attrs   []slog.Attr
	group   string
}

func (h *handler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.next.Enabled(ctx, level)
}

func (h *handler) Handle(ctx context.Context, r slog.Record) error {
	rec := Record{
		Time:    r.Time,
		Level:   r.Level.String(),
		Message: r.Message,
	}

	if len(h.attrs) > 0 || r.NumAttrs() > 0 {
		rec.Attrs = make(map[string]any, len(h.attrs)+r.NumAttrs())
		for _, a := range h.attrs {
			addAttr(rec.Attrs, "", a)
		}
		r.Attrs(func(a slog.Attr) bool {
			addAttr(rec.Attrs, h.group, a)
			return true
		})
	}

	h.service.publish(rec)

	return h.next.Handle(ctx, r)
}

func (h *handler) WithAttrs(attrs []slog.Attr) slog.Handler {
	qualified := make([]slog.Attr, 0, len(h.attrs)+len(attrs))
	qualified = append(qualified, h.attrs...)
	for _, a := range attrs {
		if h.group != "" {
			a.Key = h.group + "." + a.Key
		}
		qualified = append(qualified, a)
	}

	return &handler{
		next:    h.next.WithAttrs(attrs),
		service: h.service,
		attrs:   qualified,
		group:   h.group,
	}
}

func (h *handler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}

	group := name
	if h.group != "" {
		group = h.group + "." + name
	}

	return &handler{
		next:    h.next.WithGroup(name),
		service: h.service,
		attrs:   h.attrs,
		group:   group,
	}
}

func addAttr(dst map[string]any, prefix string, a slog.Attr) {
	a.Value = a.Value.Resolve()
	if a.Equal(slog.Attr{}) {
		return
	}

	key := a.Key
	if prefix != "" {
		key = prefix + "." + key
	}

	if a.Value.Kind() == slog.KindGroup {
		for _, ga := range a.Value.Group() {
			addAttr(dst, key, ga)
		}
		return
	}

	switch v := a.Value.Any().(type) {
	case error:
		dst[key] = v.Error()
	case fmt.Stringer:
		dst[key] = v.String()
	default:
		dst[key] = v
	}
}
