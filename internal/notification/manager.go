package notification

import (
	"fmt"
	"sync"
	"sync/atomic"
)

var (
	instance *Service
	once     sync.Once
	mu       sync.RWMutex

	// routingEngineActive is set while the notification engine consumes
	// events; the HTTP layer reports it in health output.
	routingEngineActive atomic.Bool
)

// Initialize sets up the global outbox instance.
func Initialize(config *ServiceConfig) {
	once.Do(func() {
		mu.Lock()
		defer mu.Unlock()
		instance = NewService(config)
	})
}

// GetService returns the global outbox, or nil before Initialize.
func GetService() *Service {
	mu.RLock()
	defer mu.RUnlock()
	return instance
}

// SetServiceForTesting installs a custom instance. It fails if one is
// already installed.
func SetServiceForTesting(service *Service) error {
	mu.Lock()
	defer mu.Unlock()

	if instance != nil {
		return fmt.Errorf("notification service already initialized")
	}

	instance = service
	return nil
}

// IsInitialized checks if the outbox has been initialized.
func IsInitialized() bool {
	mu.RLock()
	defer mu.RUnlock()
	return instance != nil
}

// SetEngineActive marks the notification engine as running.
func SetEngineActive(active bool) {
	routingEngineActive.Store(active)
}

// IsEngineActive returns whether the notification engine is running.
func IsEngineActive() bool {
	return routingEngineActive.Load()
}
