// Package file provides a file-based persistence implementation for development and tests.
package file

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/ledgerflow/conductor/pkg/persistence"
)

// Persistence implements persistence.Persistence on the file system: one JSON
// document per entity, one directory per collection. A single process-wide
// mutex serializes writers, which also gives the atomic version-check
// semantics the resilience repository requires.
type Persistence struct {
	root string
	mu   sync.RWMutex

	workflowRepo   *WorkflowRepository
	triggerRepo    *TriggerRepository
	scheduleRepo   *ScheduleRepository
	executionRepo  *ExecutionRepository
	resilienceRepo *ResilienceRepository
	deadLetterRepo *DeadLetterRepository
	alertRepo      *AlertRepository
	webhookLogRepo *WebhookLogRepository
}

// NewPersistence creates a file persistence rooted at the given directory.
func NewPersistence(root string) *Persistence {
	cleanRoot := strings.Replace(root, "file://", "", 1)

	p := &Persistence{root: cleanRoot}
	p.workflowRepo = &WorkflowRepository{store: p}
	p.triggerRepo = &TriggerRepository{store: p}
	p.scheduleRepo = &ScheduleRepository{store: p}
	p.executionRepo = &ExecutionRepository{store: p}
	p.resilienceRepo = &ResilienceRepository{store: p}
	p.deadLetterRepo = &DeadLetterRepository{store: p}
	p.alertRepo = &AlertRepository{store: p}
	p.webhookLogRepo = &WebhookLogRepository{store: p}

	return p
}

func (p *Persistence) WorkflowRepository() persistence.WorkflowRepository     { return p.workflowRepo }
func (p *Persistence) TriggerRepository() persistence.TriggerRepository       { return p.triggerRepo }
func (p *Persistence) ScheduleRepository() persistence.ScheduleRepository     { return p.scheduleRepo }
func (p *Persistence) ExecutionRepository() persistence.ExecutionRepository   { return p.executionRepo }
func (p *Persistence) ResilienceRepository() persistence.ResilienceRepository { return p.resilienceRepo }
func (p *Persistence) DeadLetterRepository() persistence.DeadLetterRepository { return p.deadLetterRepo }
func (p *Persistence) AlertRepository() persistence.AlertRepository           { return p.alertRepo }
func (p *Persistence) WebhookLogRepository() persistence.WebhookLogRepository {
	return p.webhookLogRepo
}

// Close performs any necessary cleanup; nothing to do for files.
func (p *Persistence) Close(_ context.Context) error { return nil }

// HealthCheck verifies the root directory is usable.
func (p *Persistence) HealthCheck(_ context.Context) error {
	if err := os.MkdirAll(p.root, 0o755); err != nil {
		return fmt.Errorf("persistence root not writable: %w", err)
	}

	return nil
}

func (p *Persistence) collectionDir(collection string) string {
	return filepath.Join(p.root, collection)
}

func (p *Persistence) entityPath(collection, id string) string {
	return filepath.Join(p.root, collection, id+".json")
}

// write persists v as JSON under collection/id.json. Caller holds p.mu.
func (p *Persistence) write(collection, id string, v any) error {
	dir := p.collectionDir(collection)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}

	return os.WriteFile(p.entityPath(collection, id), data, 0o644)
}

// read loads collection/id.json into v. Returns os.ErrNotExist when absent.
func (p *Persistence) read(collection, id string, v any) error {
	data, err := os.ReadFile(p.entityPath(collection, id))
	if err != nil {
		return err
	}

	return json.Unmarshal(data, v)
}

func (p *Persistence) remove(collection, id string) error {
	err := os.Remove(p.entityPath(collection, id))
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}

	return err
}

// ids lists the entity ids stored in a collection.
func (p *Persistence) ids(collection string) ([]string, error) {
	entries, err := os.ReadDir(p.collectionDir(collection))
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}

	if err != nil {
		return nil, err
	}

	ids := make([]string, 0, len(entries))

	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, ".json") {
			continue
		}

		ids = append(ids, strings.TrimSuffix(name, ".json"))
	}

	return ids, nil
}

// readAll loads every entity in a collection through the decode callback.
func readAll[T any](p *Persistence, collection string) ([]*T, error) {
	ids, err := p.ids(collection)
	if err != nil {
		return nil, err
	}

	items := make([]*T, 0, len(ids))

	for _, id := range ids {
		item := new(T)
		if err := p.read(collection, id, item); err != nil {
			if errors.Is(err, os.ErrNotExist) {
				continue // Deleted between listing and read
			}

			return nil, err
		}

		items = append(items, item)
	}

	return items, nil
}
