package service

import (
	"context"
	"strings"
	"time"

	"github.com/triekv/triekv/internal/errors"
	"github.com/triekv/triekv/internal/formula"
	"github.com/triekv/triekv/internal/metrics"
	"github.com/triekv/triekv/internal/model"
	"github.com/triekv/triekv/internal/storage/trie"
	"github.com/triekv/triekv/internal/validation"
	"go.uber.org/zap"
)

// StoreService is the orchestration layer between the wire handler and the trie.
// One instance is shared by every connection of a server process.
type StoreService struct {
	trie      *trie.Trie
	validator *validation.Validator
	metrics   *metrics.Metrics
	logger    *zap.Logger
	nodeID    string
}

// NewStoreService creates a new store service. m may be nil.
func NewStoreService(store *trie.Trie, m *metrics.Metrics, logger *zap.Logger, nodeID string) *StoreService {
	return &StoreService{
		trie:      store,
		validator: validation.NewValidator(),
		metrics:   m,
		logger:    logger,
		nodeID:    nodeID,
	}
}

// Put decodes a JSON object and stores every field as a top-level key.
// It returns the number of keys written. Nothing is written if the payload
// is rejected.
func (s *StoreService) Put(ctx context.Context, payload string) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, errors.Unavailable("request cancelled", err)
	}
	if err := s.validator.ValidatePayload(payload); err != nil {
		return 0, err
	}

	value, err := model.ParseValue([]byte(payload))
	if err != nil {
		return 0, errors.MalformedRequest("malformed JSON", err)
	}

	record, err := model.NewRecord(value)
	if err != nil {
		return 0, errors.MalformedRequest(err.Error(), nil)
	}

	if err := s.validator.ValidateRecord(record); err != nil {
		s.logger.Warn("Put validation failed", zap.Error(err))
		return 0, err
	}

	for key, v := range record.Fields {
		s.trie.Put(key, v)
	}

	s.logger.Debug("Put completed",
		zap.String("node_id", s.nodeID),
		zap.Int("keys", len(record.Fields)))

	s.updateStats()
	return len(record.Fields), nil
}

// Get returns the value stored under key along with its lookup status
func (s *StoreService) Get(ctx context.Context, key string) (model.Value, trie.Status, error) {
	if err := ctx.Err(); err != nil {
		return model.Value{}, trie.NotFound, errors.Unavailable("request cancelled", err)
	}
	if err := s.validator.ValidateKey(key); err != nil {
		return model.Value{}, trie.NotFound, err
	}

	value, status := s.trie.Get(key)
	return value, status, nil
}

// Delete tombstones key. Deleting an absent key succeeds.
func (s *StoreService) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return errors.Unavailable("request cancelled", err)
	}
	if err := s.validator.ValidateKey(key); err != nil {
		return err
	}

	s.trie.Delete(key)

	s.logger.Debug("Delete completed",
		zap.String("node_id", s.nodeID),
		zap.String("key", key))

	s.updateStats()
	return nil
}

// Query resolves a dotted keypath to the value stored there
func (s *StoreService) Query(ctx context.Context, path string) (model.Value, bool, error) {
	if err := ctx.Err(); err != nil {
		return model.Value{}, false, errors.Unavailable("request cancelled", err)
	}

	keyPath, err := s.validator.ValidateKeyPath(path)
	if err != nil {
		return model.Value{}, false, err
	}

	value, found := s.trie.Query(keyPath)
	return value, found, nil
}

// Compute evaluates a COMPUTE statement against the local trie. The leading
// COMPUTE keyword is optional.
func (s *StoreService) Compute(ctx context.Context, text string) (float64, error) {
	if err := ctx.Err(); err != nil {
		return 0, errors.Unavailable("request cancelled", err)
	}
	if err := s.validator.ValidateFormula(text); err != nil {
		return 0, err
	}

	text = strings.TrimSpace(text)
	if head, _, _ := strings.Cut(text, " "); !strings.EqualFold(head, formula.KeywordCompute) {
		text = formula.KeywordCompute + " " + text
	}

	startTime := time.Now()
	result, err := formula.Compute(text, s.trie)
	if s.metrics != nil {
		s.metrics.RecordCompute(time.Since(startTime).Seconds())
	}
	if err != nil {
		s.logger.Debug("Compute failed",
			zap.String("formula", text),
			zap.Error(err))
		return 0, err
	}

	return result, nil
}

// Stats returns the current trie statistics
func (s *StoreService) Stats() trie.Stats {
	return s.trie.Stats()
}

// NodeID returns the id of the node this service belongs to
func (s *StoreService) NodeID() string {
	return s.nodeID
}

func (s *StoreService) updateStats() {
	if s.metrics == nil {
		return
	}
	stats := s.trie.Stats()
	s.metrics.UpdateTrieStats(stats.Keys, stats.Nodes, stats.Tombstones)
}
