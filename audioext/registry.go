package audioext

import (
	"fmt"
	"sort"
	"sync"

	"github.com/cwsl/sstv/audio_extensions/sstv"
)

// AudioExtensionInfo contains metadata about a registered extension
type AudioExtensionInfo struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Version     string `json:"version"`
}

// AudioExtensionRegistry manages available audio extension types
type AudioExtensionRegistry struct {
	factories map[string]sstv.AudioExtensionFactory
	info      map[string]AudioExtensionInfo
	mu        sync.RWMutex
}

// NewAudioExtensionRegistry creates an empty registry
func NewAudioExtensionRegistry() *AudioExtensionRegistry {
	return &AudioExtensionRegistry{
		factories: make(map[string]sstv.AudioExtensionFactory),
		info:      make(map[string]AudioExtensionInfo),
	}
}

// DefaultRegistry returns a registry holding the built-in extensions
func DefaultRegistry() *AudioExtensionRegistry {
	r := NewAudioExtensionRegistry()
	r.Register("sstv", sstv.Factory, infoFromMap(sstv.GetInfo()))
	return r
}

// infoFromMap picks the registry fields out of an extension's GetInfo map
func infoFromMap(m map[string]interface{}) AudioExtensionInfo {
	str := func(key string) string {
		s, _ := m[key].(string)
		return s
	}
	return AudioExtensionInfo{
		Name:        str("name"),
		Description: str("description"),
		Version:     str("version"),
	}
}

// Register registers a new audio extension type
func (aer *AudioExtensionRegistry) Register(name string, factory sstv.AudioExtensionFactory, info AudioExtensionInfo) {
	aer.mu.Lock()
	defer aer.mu.Unlock()

	aer.factories[name] = factory
	aer.info[name] = info
}

// Create creates a new audio extension instance
func (aer *AudioExtensionRegistry) Create(name string, audioParams sstv.AudioExtensionParams, extensionParams map[string]interface{}) (sstv.AudioExtension, error) {
	aer.mu.RLock()
	factory, exists := aer.factories[name]
	aer.mu.RUnlock()

	if !exists {
		return nil, fmt.Errorf("audio extension not found: %s", name)
	}

	return factory(audioParams, extensionParams)
}

// List returns information about all registered audio extensions, sorted by
// name
func (aer *AudioExtensionRegistry) List() []AudioExtensionInfo {
	aer.mu.RLock()
	defer aer.mu.RUnlock()

	list := make([]AudioExtensionInfo, 0, len(aer.info))
	for _, info := range aer.info {
		list = append(list, info)
	}
	sort.Slice(list, func(i, j int) bool { return list[i].Name < list[j].Name })

	return list
}

// Exists checks if an audio extension is registered
func (aer *AudioExtensionRegistry) Exists(name string) bool {
	aer.mu.RLock()
	defer aer.mu.RUnlock()

	_, exists := aer.factories[name]
	return exists
}
