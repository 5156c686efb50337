package store

// BackendDynamoDB is the backend name served by this package.
const BackendDynamoDB = "dynamodb"

// Router decides which storage backend owns each model. It is a pure lookup
// and never touches the network.
type Router struct {
	fallback string
	routes   map[string]string
}

// NewRouter returns a router that sends every model to fallback unless overridden.
func NewRouter(fallback string) *Router {
	return &Router{fallback: fallback, routes: make(map[string]string)}
}

// Route assigns model to backend.
func (r *Router) Route(model, backend string) *Router {
	r.routes[model] = backend
	return r
}

// Backend returns the backend that owns model.
func (r *Router) Backend(model string) string {
	if b, ok := r.routes[model]; ok {
		return b
	}
	return r.fallback
}

// Owns reports whether model is routed to backend.
func (r *Router) Owns(backend, model string) bool {
	return r.Backend(model) == backend
}

// Relatable reports whether two models may reference each other, which
// requires them to live in the same backend.
func (r *Router) Relatable(a, b string) bool {
	return r.Backend(a) == r.Backend(b)
}
