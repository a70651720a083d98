// Package file provides file-based persistence used by tests and local
// development. The single process-wide mutex gives it the same atomicity
// guarantees the PostgreSQL implementation gets from conditional updates.
package file

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/vidaflow/vidaflow/pkg/persistence"
)

// Persistence implements persistence.Persistence on the file system.
type Persistence struct {
	root string
	mu   sync.Mutex

	flowRepo      *FlowRepository
	executionRepo *ExecutionRepository
	delayTaskRepo *DelayTaskRepository
	scheduleRepo  *ScheduleRepository
}

// NewPersistence creates a file persistence rooted at the given directory.
func NewPersistence(root string) *Persistence {
	cleanRoot := strings.Replace(root, "file://", "", 1)

	p := &Persistence{root: cleanRoot}
	p.flowRepo = &FlowRepository{persistence: p}
	p.executionRepo = &ExecutionRepository{persistence: p}
	p.delayTaskRepo = &DelayTaskRepository{persistence: p}
	p.scheduleRepo = &ScheduleRepository{persistence: p}

	return p
}

func (p *Persistence) FlowRepository() persistence.FlowRepository {
	return p.flowRepo
}

func (p *Persistence) ExecutionRepository() persistence.ExecutionRepository {
	return p.executionRepo
}

func (p *Persistence) DelayTaskRepository() persistence.DelayTaskRepository {
	return p.delayTaskRepo
}

func (p *Persistence) AssignmentScheduleRepository() persistence.AssignmentScheduleRepository {
	return p.scheduleRepo
}

// HealthCheck verifies the root directory exists.
func (p *Persistence) HealthCheck(_ context.Context) error {
	if _, err := os.Stat(p.root); os.IsNotExist(err) {
		return os.ErrNotExist
	}

	return nil
}

// Close performs any necessary cleanup. Nothing to do for files.
func (p *Persistence) Close(_ context.Context) error {
	return nil
}

// entityPath resolves the JSON file for one entity.
func (p *Persistence) entityPath(kind, id string) string {
	return filepath.Join(p.root, kind, id+".json")
}

// write persists one entity. Callers hold p.mu.
func (p *Persistence) write(kind, id string, entity any) error {
	dir := filepath.Join(p.root, kind)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create %s directory: %w", kind, err)
	}

	data, err := json.MarshalIndent(entity, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal %s %s: %w", kind, id, err)
	}

	if err := os.WriteFile(p.entityPath(kind, id), data, 0o644); err != nil {
		return fmt.Errorf("failed to write %s %s: %w", kind, id, err)
	}

	return nil
}

// read loads one entity. Callers hold p.mu. Returns os.ErrNotExist when the
// entity is absent.
func (p *Persistence) read(kind, id string, entity any) error {
	data, err := os.ReadFile(p.entityPath(kind, id))
	if err != nil {
		return err
	}

	if err := json.Unmarshal(data, entity); err != nil {
		return fmt.Errorf("failed to unmarshal %s %s: %w", kind, id, err)
	}

	return nil
}

// readAll loads every entity of a kind. Callers hold p.mu.
func readAll[T any](p *Persistence, kind string) ([]*T, error) {
	dir := filepath.Join(p.root, kind)

	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}

		return nil, fmt.Errorf("failed to read %s directory: %w", kind, err)
	}

	var entities []*T

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}

		data, err := os.ReadFile(filepath.Join(dir, entry.Name()))
		if err != nil {
			return nil, fmt.Errorf("failed to read %s file %s: %w", kind, entry.Name(), err)
		}

		entity := new(T)
		if err := json.Unmarshal(data, entity); err != nil {
			return nil, fmt.Errorf("failed to unmarshal %s file %s: %w", kind, entry.Name(), err)
		}

		entities = append(entities, entity)
	}

	return entities, nil
}
