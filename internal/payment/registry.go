package payment

import "fmt"

// Registry routes payment methods to providers.
type Registry struct {
	byMethod   map[Method]Gateway
	byProvider map[string]Gateway
}

func NewRegistry() *Registry {
	return &Registry{byMethod: map[Method]Gateway{}, byProvider: map[string]Gateway{}}
}

// Register binds g to every method in methods.
func (r *Registry) Register(g Gateway, methods ...Method) {
	r.byProvider[g.ID()] = g
	for _, m := range methods {
		r.byMethod[m] = g
	}
}

func (r *Registry) ForMethod(m Method) (Gateway, error) {
	g, ok := r.byMethod[m]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedMethod, m)
	}
	return g, nil
}

func (r *Registry) Provider(id string) (Gateway, error) {
	g, ok := r.byProvider[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownProvider, id)
	}
	return g, nil
}
