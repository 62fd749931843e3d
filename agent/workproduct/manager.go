package workproduct

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/BaSui01/missionflow/agent/messaging"
	"github.com/BaSui01/missionflow/agent/persistence"
	"github.com/BaSui01/missionflow/internal/metrics"
	"github.com/BaSui01/missionflow/internal/retry"
	"github.com/BaSui01/missionflow/workflow"
)

// Config configures the work product manager.
type Config struct {
	AgentID   string `yaml:"agent_id" json:"agent_id"`
	MissionID string `yaml:"mission_id" json:"mission_id"`
	// Recipient of work-product and shared-file notifications.
	Recipient string `yaml:"recipient" json:"recipient"`
	// UploadThreshold is the string length above which an output is
	// treated as file-like.
	UploadThreshold int `yaml:"upload_threshold" json:"upload_threshold"`
	// InteractiveOperations are operations that show their inputs to a user.
	InteractiveOperations []string `yaml:"interactive_operations" json:"interactive_operations"`
	UploadConcurrency     int      `yaml:"upload_concurrency" json:"upload_concurrency"`
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		Recipient:             "*",
		UploadThreshold:       2000,
		InteractiveOperations: []string{"ASK_USER_QUESTION", "ASK_USER", "REQUEST_USER_INPUT"},
		UploadConcurrency:     4,
	}
}

// Manager classifies and persists step outputs.
type Manager struct {
	cfg         Config
	store       persistence.DocumentStore
	files       FileStore
	sink        messaging.Sink
	retryer     retry.Retryer
	metrics     *metrics.Collector
	interactive map[string]bool
	logger      *zap.Logger
}

// Option 配置 Manager
type Option func(*Manager)

// WithFileStore enables shared-file uploads.
func WithFileStore(fs FileStore) Option {
	return func(m *Manager) { m.files = fs }
}

// WithSink sets the notification sink.
func WithSink(s messaging.Sink) Option {
	return func(m *Manager) { m.sink = s }
}

// WithMetrics sets the metrics collector.
func WithMetrics(c *metrics.Collector) Option {
	return func(m *Manager) { m.metrics = c }
}

// WithRetryPolicy sets the manifest compare-and-swap retry policy.
func WithRetryPolicy(p *retry.Policy) Option {
	return func(m *Manager) {
		policy := *p
		policy.RetryOn = []error{persistence.ErrVersionConflict}
		m.retryer = retry.NewBackoffRetryer(&policy, m.logger)
	}
}

// NewManager creates a manager bound to one agent.
func NewManager(cfg Config, store persistence.DocumentStore, logger *zap.Logger, opts ...Option) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	def := DefaultConfig()
	if cfg.MissionID == "" {
		cfg.MissionID = "default"
	}
	if cfg.Recipient == "" {
		cfg.Recipient = def.Recipient
	}
	if cfg.UploadThreshold <= 0 {
		cfg.UploadThreshold = def.UploadThreshold
	}
	if cfg.InteractiveOperations == nil {
		cfg.InteractiveOperations = def.InteractiveOperations
	}
	if cfg.UploadConcurrency <= 0 {
		cfg.UploadConcurrency = def.UploadConcurrency
	}

	m := &Manager{
		cfg:         cfg,
		store:       store,
		interactive: make(map[string]bool, len(cfg.InteractiveOperations)),
		logger: logger.With(
			zap.String("component", "work_product_manager"),
			zap.String("agent_id", cfg.AgentID),
		),
	}
	for _, op := range cfg.InteractiveOperations {
		m.interactive[op] = true
	}

	policy := retry.DefaultPolicy()
	policy.MaxRetries = 10
	policy.RetryOn = []error{persistence.ErrVersionConflict}
	m.retryer = retry.NewBackoffRetryer(policy, m.logger)

	for _, opt := range opts {
		opt(m)
	}
	return m
}

// IsInteractive reports whether op presents its inputs to a user.
func (m *Manager) IsInteractive(op string) bool {
	return m.interactive[op]
}

// SaveWorkProductWithClassification persists the outputs of a completed
// step, notifies subscribers and uploads user-facing outputs to the shared
// file store. Empty outputs are ignored. Upload failures never fail the call.
func (m *Manager) SaveWorkProductWithClassification(ctx context.Context, stepID string, outputs []workflow.Output, isEndpoint bool, steps []*workflow.Step) error {
	if len(outputs) == 0 {
		return nil
	}

	typ, scope := Classify(outputs, isEndpoint)
	wp := &WorkProduct{
		ID:        Key(m.cfg.AgentID, stepID),
		AgentID:   m.cfg.AgentID,
		MissionID: m.cfg.MissionID,
		StepID:    stepID,
		Type:      typ,
		Scope:     scope,
		Data:      outputs,
		CreatedAt: time.Now(),
	}
	step := workflow.FindStep(steps, stepID)
	if step != nil {
		wp.Operation = step.Operation
		wp.Description = step.Description
	}

	doc, err := persistence.NewDocument(persistence.CollectionWorkProducts, wp.ID, wp)
	if err != nil {
		return err
	}
	// 工作产物只写一次
	if err := m.store.CompareAndSwap(ctx, doc, 0); err != nil {
		if errors.Is(err, persistence.ErrVersionConflict) {
			m.logger.Debug("work product already persisted", zap.String("work_product_id", wp.ID))
			return nil
		}
		return fmt.Errorf("failed to persist work product %s: %w", wp.ID, err)
	}
	m.metrics.RecordWorkProduct(string(typ), string(scope))

	m.logger.Info("work product saved",
		zap.String("step_id", stepID),
		zap.String("type", string(typ)),
		zap.String("scope", string(scope)),
	)
	m.publish(ctx, messaging.EventWorkProductUpdate, wp.Summarize())

	if m.files != nil && step != nil {
		m.uploadSharedFiles(ctx, step, outputs, isEndpoint, steps)
	}
	return nil
}

// ShouldUpload applies the shared-file policy to one output: endpoint steps
// with a non-empty result, or outputs a user will see.
func (m *Manager) ShouldUpload(step *workflow.Step, out workflow.Output, isEndpoint bool, steps []*workflow.Step) bool {
	if out.IsPendingInput() || isEmptyResult(out.Result) {
		return false
	}
	if isEndpoint {
		return true
	}
	return m.isUserReferenced(step, out, steps)
}

func (m *Manager) isUserReferenced(step *workflow.Step, out workflow.Output, steps []*workflow.Step) bool {
	for _, d := range workflow.Dependents(step.ID, steps) {
		if !m.interactive[d.Operation] {
			continue
		}
		for _, dep := range d.Dependencies {
			if dep.SourceStepID == step.ID && dep.OutputName == out.Name {
				return true
			}
		}
	}
	if out.FileName != "" || out.MimeType != "" {
		return true
	}
	if s, ok := out.Result.(string); ok && len(s) > m.cfg.UploadThreshold {
		return true
	}
	return false
}

func (m *Manager) uploadSharedFiles(ctx context.Context, step *workflow.Step, outputs []workflow.Output, isEndpoint bool, steps []*workflow.Step) {
	var candidates []workflow.Output
	for _, out := range outputs {
		if m.ShouldUpload(step, out, isEndpoint, steps) {
			candidates = append(candidates, out)
		}
	}
	if len(candidates) == 0 {
		return
	}

	var (
		mu       sync.Mutex
		uploaded []*SharedFile
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(m.cfg.UploadConcurrency)
	for _, out := range candidates {
		g.Go(func() error {
			file, err := m.upload(gctx, step, out)
			m.metrics.RecordUpload(err == nil)
			if err != nil {
				m.logger.Warn("shared file upload failed",
					zap.String("step_id", step.ID),
					zap.String("output", out.Name),
					zap.Error(err),
				)
				return nil
			}
			mu.Lock()
			uploaded = append(uploaded, file)
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	if len(uploaded) == 0 {
		return
	}
	sort.Slice(uploaded, func(i, j int) bool { return uploaded[i].Name < uploaded[j].Name })

	manifest, err := appendManifest(ctx, m.store, m.retryer, m.cfg.MissionID, uploaded)
	if err != nil {
		m.logger.Warn("failed to update shared file manifest",
			zap.String("mission_id", m.cfg.MissionID),
			zap.Error(err),
		)
		return
	}
	m.publish(ctx, messaging.EventSharedFilesUpdate, FilesUpdate{
		MissionID: m.cfg.MissionID,
		Files:     manifest.Files,
		Added:     uploaded,
	})
}

func (m *Manager) upload(ctx context.Context, step *workflow.Step, out workflow.Output) (*SharedFile, error) {
	data, err := Content(out)
	if err != nil {
		return nil, fmt.Errorf("failed to encode output %s: %w", out.Name, err)
	}
	file := &SharedFile{
		ID:         uuid.New().String(),
		MissionID:  m.cfg.MissionID,
		AgentID:    m.cfg.AgentID,
		StepID:     step.ID,
		OutputName: out.Name,
		Name:       FileName(step.Position, out),
		MimeType:   MimeTypeFor(out),
		CreatedAt:  time.Now(),
	}
	if err := m.files.Put(ctx, file, bytes.NewReader(data)); err != nil {
		return nil, err
	}
	return file, nil
}

// LoadAll returns every persisted work product of this agent.
func (m *Manager) LoadAll(ctx context.Context) ([]*WorkProduct, error) {
	docs, err := m.store.Query(ctx, persistence.CollectionWorkProducts, "agentId", m.cfg.AgentID)
	if err != nil {
		return nil, fmt.Errorf("failed to load work products: %w", err)
	}
	out := make([]*WorkProduct, 0, len(docs))
	for _, doc := range docs {
		var wp WorkProduct
		if err := doc.Decode(&wp); err != nil {
			m.logger.Warn("skipping undecodable work product", zap.String("id", doc.ID), zap.Error(err))
			continue
		}
		out = append(out, &wp)
	}
	return out, nil
}

// Load returns one work product.
func (m *Manager) Load(ctx context.Context, stepID string) (*WorkProduct, error) {
	doc, err := m.store.Load(ctx, persistence.CollectionWorkProducts, Key(m.cfg.AgentID, stepID))
	if err != nil {
		return nil, err
	}
	var wp WorkProduct
	if err := doc.Decode(&wp); err != nil {
		return nil, err
	}
	return &wp, nil
}

func (m *Manager) publish(ctx context.Context, typ messaging.EventType, payload any) {
	if m.sink == nil {
		return
	}
	ev := messaging.NewEvent(typ, m.cfg.Recipient, m.cfg.AgentID, payload)
	ev.MissionID = m.cfg.MissionID
	if err := m.sink.Publish(ctx, ev); err != nil {
		m.logger.Warn("failed to publish notification",
			zap.String("event_type", string(typ)),
			zap.Error(err),
		)
	}
}
