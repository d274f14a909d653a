// Package progress wires the progress store, updater and action classifier.
package progress

import (
	"github.com/jackc/pgx/v5/pgxpool"

	"achievement_engine/internal/progress/repository"
	"achievement_engine/internal/progress/service"
	"achievement_engine/platform/config"
	"achievement_engine/platform/logger"
)

// Module bundles the progress components used by the change feed and the evaluator.
type Module struct {
	store      repository.Store
	updater    *service.Updater
	classifier *service.Classifier
}

// NewModule creates the progress module on Postgres. Rules from
// ACTION_TABLE_PATH are layered over the built-in table.
func NewModule(pool *pgxpool.Pool, cfg config.ProgressConfig, log *logger.Logger) (*Module, error) {
	repo := repository.New(pool)
	return newModule(repo, repo, repo, cfg, log)
}

func newModule(store repository.Store, activity repository.ActivityReader, assessments repository.AssessmentReader, cfg config.ProgressConfig, log *logger.Logger) (*Module, error) {
	rules := append([]service.Rule{}, service.DefaultRules...)
	if path := cfg.GetActionTablePath(); path != "" {
		extra, err := service.LoadRules(path)
		if err != nil {
			return nil, err
		}
		rules = append(rules, extra...)
		log.Info("action table extended", "path", path, "rules", len(extra))
	}

	updater := service.NewUpdater(store, activity, assessments, log)
	classifier, err := service.NewClassifier(updater, rules, log)
	if err != nil {
		return nil, err
	}
	return &Module{store: store, updater: updater, classifier: classifier}, nil
}

// NewMemoryModule creates the progress module over an in-memory store.
func NewMemoryModule(mem *repository.Memory, cfg config.ProgressConfig, log *logger.Logger) (*Module, error) {
	return newModule(mem, mem, mem, cfg, log)
}

// Store returns the progress store.
func (m *Module) Store() repository.Store {
	return m.store
}

// Updater returns the progress updater.
func (m *Module) Updater() *service.Updater {
	return m.updater
}

// Classifier returns the action classifier.
func (m *Module) Classifier() *service.Classifier {
	return m.classifier
}
