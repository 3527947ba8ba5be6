// Copyright 2025 Antfly, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package backends

import (
	"errors"
	"fmt"
	"slices"
	"sync"
)

// SessionManager opens inference sessions according to a RuntimeConfig.
// It maintains at most one factory per backend type (lazy-created).
//
// Usage:
//
//	manager, err := backends.NewSessionManager(backends.RuntimeConfig{
//	    Priority:   []BackendSpec{{Backend: BackendONNX, Device: DeviceCUDA}, {Backend: BackendGo}},
//	    NumThreads: 4,
//	})
//	defer manager.Close()
//
//	session, backend, err := manager.CreateSession("clip_cn_vit-l-14.img.fp32.onnx", nil)
type SessionManager struct {
	config    RuntimeConfig
	factories map[BackendType]SessionFactory
	sessions  []Session
	mu        sync.Mutex
	closed    bool
}

// NewSessionManager creates a new session manager bound to cfg.
func NewSessionManager(cfg RuntimeConfig) (*SessionManager, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid runtime config: %w", err)
	}
	return &SessionManager{
		config:    cfg,
		factories: make(map[BackendType]SessionFactory),
	}, nil
}

// Config returns the runtime configuration this manager was built with.
func (sm *SessionManager) Config() RuntimeConfig {
	return sm.config
}

// priority returns the configured priority or DefaultPriority.
func (sm *SessionManager) priority() []BackendSpec {
	if len(sm.config.Priority) > 0 {
		return slices.Clone(sm.config.Priority)
	}
	return slices.Clone(DefaultPriority)
}

// GetSessionFactory returns the session factory for the specified backend.
// Returns an error if the backend is unregistered or unavailable.
func (sm *SessionManager) GetSessionFactory(backend BackendType) (SessionFactory, error) {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	if sm.closed {
		return nil, fmt.Errorf("session manager is closed")
	}

	if factory, ok := sm.factories[backend]; ok {
		return factory, nil
	}

	b, ok := GetBackend(backend)
	if !ok {
		return nil, fmt.Errorf("backend %q not registered", backend)
	}
	if !b.Available() {
		return nil, fmt.Errorf("backend %q not available", backend)
	}

	factory := b.SessionFactory()
	sm.factories[backend] = factory
	return factory, nil
}

// selectSpec picks the first priority entry whose backend is usable and
// permitted by modelBackends. An empty modelBackends permits every backend.
func (sm *SessionManager) selectSpec(modelBackends []string) (BackendSpec, SessionFactory, error) {
	allowed := make(map[BackendType]bool, len(modelBackends))
	for _, name := range modelBackends {
		bt, err := ParseBackendType(name)
		if err != nil {
			return BackendSpec{}, nil, err
		}
		allowed[bt] = true
	}

	var errs []error
	for _, spec := range sm.priority() {
		if len(allowed) > 0 && !allowed[spec.Backend] {
			continue
		}
		factory, err := sm.GetSessionFactory(spec.Backend)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		return spec, factory, nil
	}

	if len(errs) == 0 {
		return BackendSpec{}, nil, fmt.Errorf("no backend in priority %v matches model backends %v", sm.priority(), modelBackends)
	}
	return BackendSpec{}, nil, fmt.Errorf("no available backends (usable here: %v): %w", availableTypes(), errors.Join(errs...))
}

func availableTypes() []BackendType {
	var types []BackendType
	for _, b := range ListAvailable() {
		types = append(types, b.Type())
	}
	return types
}

// CreateSession opens modelPath on the highest priority backend allowed by
// modelBackends, applying the manager's RuntimeConfig. The session is owned
// by the caller but is also closed by Close.
func (sm *SessionManager) CreateSession(modelPath string, modelBackends []string) (Session, BackendType, error) {
	spec, factory, err := sm.selectSpec(modelBackends)
	if err != nil {
		return nil, "", err
	}

	session, err := factory.CreateSession(modelPath, sm.config.SessionOptions(spec.Device)...)
	if err != nil {
		return nil, "", fmt.Errorf("creating %s session for %s: %w", spec, modelPath, err)
	}

	sm.mu.Lock()
	defer sm.mu.Unlock()
	if sm.closed {
		_ = session.Close()
		return nil, "", fmt.Errorf("session manager is closed")
	}
	sm.sessions = append(sm.sessions, session)
	return session, factory.Backend(), nil
}

// ActiveBackends returns the backend types that have been initialized.
func (sm *SessionManager) ActiveBackends() []BackendType {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	result := make([]BackendType, 0, len(sm.factories))
	for bt := range sm.factories {
		result = append(result, bt)
	}
	slices.Sort(result)
	return result
}

// Close closes every session created through this manager.
func (sm *SessionManager) Close() error {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	if sm.closed {
		return nil
	}
	sm.closed = true

	var errs []error
	for _, s := range sm.sessions {
		if err := s.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	sm.sessions = nil
	sm.factories = nil
	return errors.Join(errs...)
}
