package agent

import (
	"fmt"
	"sync"

	"github.com/nfa-labs/autopilot/pkg/models"
)

// BuildContext carries everything a module factory may need to construct its
// capability for one agent. Infrastructure dependencies (chain client,
// persistence) are captured by the factory closures at registration time,
// never passed here.
type BuildContext struct {
	Agent          models.ChainAgentData
	Blueprint      *models.Blueprint
	LLM            *models.LLMConfig
	StrategyParams map[string]any
	Strategy       *models.StrategyConfig
}

// Factory functions build one capability module for one agent.
type (
	PerceptionFactory func(bc BuildContext) (Perception, error)
	MemoryFactory     func(bc BuildContext) (Memory, error)
	BrainFactory      func(bc BuildContext) (Brain, error)
	ActionFactory     func(bc BuildContext) (Action, error)
	GuardrailFactory  func(bc BuildContext) (Guardrail, error)
)

// Registries stores the named module factories with thread-safe access.
// Populated once at startup; lookups return an error (never panic) when a
// name is missing so a bad blueprint cannot take the process down.
type Registries struct {
	mu          sync.RWMutex
	perceptions map[string]PerceptionFactory
	memories    map[string]MemoryFactory
	brains      map[string]BrainFactory
	actions     map[string]ActionFactory
	guardrails  map[string]GuardrailFactory
}

// NewRegistries creates an empty registry set.
func NewRegistries() *Registries {
	return &Registries{
		perceptions: make(map[string]PerceptionFactory),
		memories:    make(map[string]MemoryFactory),
		brains:      make(map[string]BrainFactory),
		actions:     make(map[string]ActionFactory),
		guardrails:  make(map[string]GuardrailFactory),
	}
}

func (r *Registries) RegisterPerception(name string, f PerceptionFactory) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.perceptions[name]; ok {
		return fmt.Errorf("perception %q already registered", name)
	}
	r.perceptions[name] = f
	return nil
}

func (r *Registries) RegisterMemory(name string, f MemoryFactory) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.memories[name]; ok {
		return fmt.Errorf("memory %q already registered", name)
	}
	r.memories[name] = f
	return nil
}

func (r *Registries) RegisterBrain(name string, f BrainFactory) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.brains[name]; ok {
		return fmt.Errorf("brain %q already registered", name)
	}
	r.brains[name] = f
	return nil
}

func (r *Registries) RegisterAction(name string, f ActionFactory) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.actions[name]; ok {
		return fmt.Errorf("action %q already registered", name)
	}
	r.actions[name] = f
	return nil
}

func (r *Registries) RegisterGuardrail(name string, f GuardrailFactory) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.guardrails[name]; ok {
		return fmt.Errorf("guardrail %q already registered", name)
	}
	r.guardrails[name] = f
	return nil
}

func (r *Registries) Perception(name string) (PerceptionFactory, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	f, ok := r.perceptions[name]
	if !ok {
		return nil, fmt.Errorf("unknown perception module %q", name)
	}
	return f, nil
}

func (r *Registries) Memory(name string) (MemoryFactory, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	f, ok := r.memories[name]
	if !ok {
		return nil, fmt.Errorf("unknown memory module %q", name)
	}
	return f, nil
}

func (r *Registries) Brain(name string) (BrainFactory, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	f, ok := r.brains[name]
	if !ok {
		return nil, fmt.Errorf("unknown brain module %q", name)
	}
	return f, nil
}

func (r *Registries) Action(name string) (ActionFactory, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	f, ok := r.actions[name]
	if !ok {
		return nil, fmt.Errorf("unknown action module %q", name)
	}
	return f, nil
}

func (r *Registries) Guardrail(name string) (GuardrailFactory, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	f, ok := r.guardrails[name]
	if !ok {
		return nil, fmt.Errorf("unknown guardrail module %q", name)
	}
	return f, nil
}

// GuardrailNames returns the registered guardrail names in no particular
// order.
func (r *Registries) GuardrailNames() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.guardrails))
	for name := range r.guardrails {
		names = append(names, name)
	}
	return names
}
