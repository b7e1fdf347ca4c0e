// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package observe

import (
	"maps"
	"sort"
	"sync"

	"go.uber.org/zap"
)

// Fields are event attributes.
type Fields map[string]any

// Recorder is a write-only key/value and event sink.
type Recorder interface {
	Set(key string, value any)
	Event(name string, fields Fields)
}

// Nop discards everything.
type Nop struct{}

var _ Recorder = Nop{}

func (Nop) Set(string, any)      {}
func (Nop) Event(string, Fields) {}

// Zap writes settings and events to a zap logger at debug level.
type Zap struct {
	logger *zap.Logger
}

var _ Recorder = (*Zap)(nil)

// NewZap returns a Recorder backed by logger. A nil logger records nothing.
func NewZap(logger *zap.Logger) *Zap {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Zap{logger: logger.Named("observe")}
}

func (z *Zap) Set(key string, value any) {
	z.logger.Debug("set", zap.String("key", key), zap.Any("value", value))
}

func (z *Zap) Event(name string, fields Fields) {
	zf := make([]zap.Field, 0, len(fields))
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		zf = append(zf, zap.Any(k, fields[k]))
	}
	z.logger.Debug(name, zf...)
}

// Event is one recorded event.
type Event struct {
	Name   string
	Fields Fields
}

// Memory keeps everything in memory. Safe for concurrent use.
type Memory struct {
	mu     sync.Mutex
	values map[string]any
	events []Event
}

var _ Recorder = (*Memory)(nil)

// NewMemory returns an empty in-memory recorder.
func NewMemory() *Memory {
	return &Memory{values: make(map[string]any)}
}

func (m *Memory) Set(key string, value any) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.values[key] = value
}

func (m *Memory) Event(name string, fields Fields) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, Event{Name: name, Fields: maps.Clone(fields)})
}

// Values returns a copy of the recorded settings.
func (m *Memory) Values() map[string]any {
	m.mu.Lock()
	defer m.mu.Unlock()
	return maps.Clone(m.values)
}

// Events returns a copy of the recorded events in order.
func (m *Memory) Events() []Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Event, len(m.events))
	copy(out, m.events)
	return out
}

// EventNames returns the names of the recorded events in order.
func (m *Memory) EventNames() []string {
	evs := m.Events()
	out := make([]string, len(evs))
	for i, e := range evs {
		out[i] = e.Name
	}
	return out
}

// Multi fans writes out to several recorders.
type Multi []Recorder

var _ Recorder = Multi(nil)

func (m Multi) Set(key string, value any) {
	for _, r := range m {
		r.Set(key, value)
	}
}

func (m Multi) Event(name string, fields Fields) {
	for _, r := range m {
		r.Event(name, fields)
	}
}
