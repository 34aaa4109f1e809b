package strategy

import "fmt"

// Factory constructs a fresh Strategy instance from string parameters (as
// they arrive over the control plane or a backtest config file).
type Factory func(params map[string]string) (Strategy, error)

var registry = make(map[string]Factory)

// Register adds a strategy factory under name, e.g. in an init() in the
// examples subpackage. Registering the same name twice is a programmer
// error and panics, failing fast on configuration mistakes discovered at
// startup.
func Register(name string, factory Factory) {
	if _, exists := registry[name]; exists {
		panic(fmt.Sprintf("strategy: %q already registered", name))
	}
	registry[name] = factory
}

// New constructs a strategy instance by name.
func New(name string, params map[string]string) (Strategy, error) {
	factory, ok := registry[name]
	if !ok {
		return nil, fmt.Errorf("strategy: unknown strategy %q", name)
	}
	return factory(params)
}

// Names lists every registered strategy name.
func Names() []string {
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	return names
}
