package server

import (
	"net/http"
	"slices"
	"strings"
)

// Mux is the [Router] behind the callback server, a thin layer over [http.ServeMux].
//
// Routes registered through [Mux.Handler] only answer GET, since OAuth providers redirect the browser
// back with a GET request.
type Mux struct {
	mux   *http.ServeMux
	chain []Middleware
}

var _ Router = (*Mux)(nil)

// NewMux creates a [Mux] with middleware applied to every route registered afterwards.
func NewMux(middleware ...Middleware) *Mux {
	m := &Mux{mux: http.NewServeMux()}
	m.Use(middleware...)
	return m
}

// Use appends middleware. The first added ends up outermost.
func (m *Mux) Use(middleware ...Middleware) {
	m.chain = append(m.chain, middleware...)
}

// Handle registers handler for method and path. Other methods on path get 405 from the mux.
func (m *Mux) Handle(method, path string, handler http.Handler) {
	m.mux.Handle(strings.ToUpper(method)+" "+path, m.wrap(handler))
}

// Handler registers h under GET for each of its routes.
func (m *Mux) Handler(h Handler) {
	wrapped := m.wrap(h)
	for _, route := range h.Routes() {
		m.mux.Handle(http.MethodGet+" "+route, wrapped)
	}
}

// ServeHTTP implements [http.Handler].
func (m *Mux) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	m.mux.ServeHTTP(w, r)
}

func (m *Mux) wrap(h http.Handler) http.Handler {
	for _, mw := range slices.Backward(m.chain) {
		h = mw(h)
	}
	return h
}
