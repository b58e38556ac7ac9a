package procio

import "context"

// Processor is the external processing collaborator for one task type.
// It receives the job's input payload and returns the result payload.
// Long-running processors should report checkpoints via SetProgress.
type Processor func(ctx context.Context, input map[string]any) (map[string]any, error)

// Middleware is a function that wraps a Processor to provide cross-cutting concerns.
type Middleware func(Processor) Processor

type processorEntry struct {
	exec Processor
}

// Mux routes jobs to their respective processors based on task type.
type Mux struct {
	processors  map[string]processorEntry
	middlewares []Middleware
}

// NewMux creates a new task type Mux.
func NewMux() *Mux {
	return &Mux{
		processors:  make(map[string]processorEntry),
		middlewares: []Middleware{},
	}
}

// Handle registers a processor for a specific task type.
func (m *Mux) Handle(taskType string, fn Processor) {
	m.processors[taskType] = processorEntry{
		exec: fn,
	}
}

// Use adds middleware(s) to the mux. Middlewares are executed in the order they are added.
func (m *Mux) Use(mw Middleware) {
	m.middlewares = append(m.middlewares, mw)
}

// processor returns the wrapped processor for a task type.
func (m *Mux) processor(taskType string) (Processor, bool) {
	p, ok := m.processors[taskType]
	if !ok {
		return nil, false
	}
	return m.wrapProcessor(p.exec), true
}

func (m *Mux) wrapProcessor(p Processor) Processor {
	for i := len(m.middlewares) - 1; i >= 0; i-- {
		p = m.middlewares[i](p)
	}
	return p
}
