package gateway

import (
	"fmt"
	"sync"

	"github.com/sarulabs/di/v2"
)

// Registry holds every aggregate Configuration the gateway knows how to
// route commands to, keyed by aggregate type. It is backed by a
// sarulabs/di/v2 container the same way the teacher's Bus resolved its
// services (bus/bus.go's di.Builder, bus/di.go's getCtn/Get), narrowed here
// from a general service locator into a registry that only ever resolves
// one kind of thing: a Configuration, by its aggregate type name.
type Registry struct {
	mu      sync.Mutex
	names   []string
	builder *di.Builder
	ctn     di.Container
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	builder, err := di.NewBuilder()
	if err != nil {
		panic(fmt.Sprintf("gateway: could not build service container: %v", err))
	}
	return &Registry{builder: builder}
}

// Register adds cfg, keyed by cfg.Type(). Registering the same aggregate
// type twice, or registering after the first Dispatch has built the
// container, is a startup-time programming error and panics rather than
// returning an error a caller might ignore — the same
// register-before-first-use contract bus.New's di.Builder enforces.
func (r *Registry) Register(cfg Configuration) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.ctn != nil {
		panic("gateway: cannot register a Configuration after the registry has started dispatching")
	}

	name := cfg.Type()
	for _, existing := range r.names {
		if existing == name {
			panic(fmt.Sprintf("gateway: aggregate type registered twice: %s", name))
		}
	}

	err := r.builder.Add(di.Def{
		Name: name,
		Build: func(ctn di.Container) (interface{}, error) {
			return cfg, nil
		},
	})
	if err != nil {
		panic(fmt.Sprintf("gateway: could not register aggregate type %s: %v", name, err))
	}
	r.names = append(r.names, name)
}

// configurations resolves every registered Configuration from the
// container, in registration order — the order Dispatch tries them in when
// matching a command against each one's TryCreate/TryUpdate. The container
// is built once, on first use, and cached.
func (r *Registry) configurations() []Configuration {
	r.mu.Lock()
	if r.ctn == nil {
		r.ctn = r.builder.Build()
	}
	ctn := r.ctn
	names := r.names
	r.mu.Unlock()

	out := make([]Configuration, len(names))
	for i, name := range names {
		out[i] = ctn.Get(name).(Configuration)
	}
	return out
}
