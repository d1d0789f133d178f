// Package pipeline composes HTTP middleware into a named, ordered chain.
package pipeline

import "net/http"

// Middleware wraps a handler with additional request processing.
type Middleware func(http.Handler) http.Handler

type stage struct {
	name string
	mw   Middleware
}

// Builder records middleware in registration order. The first stage
// registered is the outermost one and sees every request first.
type Builder struct {
	stages []stage
}

// New returns an empty Builder.
func New() *Builder {
	return &Builder{}
}

// Use appends a stage. A nil middleware is ignored.
func (b *Builder) Use(name string, mw Middleware) *Builder {
	if mw == nil {
		return b
	}
	b.stages = append(b.stages, stage{name: name, mw: mw})
	return b
}

// Stages returns the registered stage names in order.
func (b *Builder) Stages() []string {
	names := make([]string, len(b.stages))
	for i, s := range b.stages {
		names[i] = s.name
	}
	return names
}

// Then wraps terminal with every registered stage.
func (b *Builder) Then(terminal http.Handler) http.Handler {
	h := terminal
	for i := len(b.stages) - 1; i >= 0; i-- {
		h = b.stages[i].mw(h)
	}
	return h
}
