package conflict

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/BaSui01/missionflow/agent/messaging"
	"github.com/BaSui01/missionflow/agent/mission"
	"github.com/BaSui01/missionflow/agent/persistence"
	"github.com/BaSui01/missionflow/internal/metrics"
	"github.com/BaSui01/missionflow/internal/retry"
)

// Config 冲突解决配置
type Config struct {
	AgentID   string `yaml:"agent_id" json:"agent_id"`
	MissionID string `yaml:"mission_id" json:"mission_id"`
	// Timeout is the voting window of new conflicts.
	Timeout time.Duration `yaml:"timeout" json:"timeout"`
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{Timeout: 5 * time.Minute}
}

// Resolver runs the voting protocol. Conflict records live in the document
// store, so several agents of a mission may share one resolver state.
type Resolver struct {
	cfg       Config
	store     persistence.DocumentStore
	directory mission.Directory
	sink      messaging.Sink
	authority mission.Authority
	metrics   *metrics.Collector
	retryer   retry.Retryer
	now       func() time.Time
	logger    *zap.Logger
}

// Option 配置 Resolver
type Option func(*Resolver)

// WithDirectory resolves participant locations. Without one, participants
// are addressed by their agent id.
func WithDirectory(d mission.Directory) Option {
	return func(r *Resolver) { r.directory = d }
}

func WithSink(s messaging.Sink) Option {
	return func(r *Resolver) { r.sink = s }
}

func WithAuthority(a mission.Authority) Option {
	return func(r *Resolver) { r.authority = a }
}

func WithMetrics(c *metrics.Collector) Option {
	return func(r *Resolver) { r.metrics = c }
}

// WithRetryPolicy sets the policy of the compare-and-swap loops.
func WithRetryPolicy(p *retry.Policy) Option {
	return func(r *Resolver) {
		if p != nil {
			p.RetryOn = []error{persistence.ErrVersionConflict}
			r.retryer = retry.NewBackoffRetryer(p, r.logger)
		}
	}
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(r *Resolver) { r.now = now }
}

// NewResolver creates a resolver acting for cfg.AgentID.
func NewResolver(cfg Config, store persistence.DocumentStore, logger *zap.Logger, opts ...Option) *Resolver {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultConfig().Timeout
	}
	r := &Resolver{
		cfg:   cfg,
		store: store,
		now:   time.Now,
		logger: logger.With(
			zap.String("component", "conflict_resolver"),
			zap.String("agent_id", cfg.AgentID),
		),
	}

	policy := retry.DefaultPolicy()
	policy.MaxRetries = 10
	policy.RetryOn = []error{persistence.ErrVersionConflict}
	r.retryer = retry.NewBackoffRetryer(policy, r.logger)

	for _, opt := range opts {
		opt(r)
	}
	return r
}

// CreateConflict stores a new PENDING conflict and notifies every
// participant. A participant that cannot be reached is skipped. Creating a
// conflict whose id already exists returns the stored record unchanged.
func (r *Resolver) CreateConflict(ctx context.Context, initiatorID string, req Request, participantIDs []string, strategy Strategy) (*Conflict, error) {
	participants := dedupe(participantIDs)
	if len(participants) == 0 {
		return nil, fmt.Errorf("%w: no participants", ErrInvalidConflict)
	}
	if strategy == "" {
		strategy = StrategyVoting
	}
	if strategy != StrategyVoting && strategy != StrategyAuthority {
		return nil, fmt.Errorf("%w: unknown strategy %q", ErrInvalidConflict, strategy)
	}

	id := req.ID
	if id == "" {
		id = uuid.New().String()
		req.ID = id
	}
	now := r.now()
	c := &Conflict{
		ID:           id,
		MissionID:    r.cfg.MissionID,
		InitiatorID:  initiatorID,
		Request:      req,
		Participants: participants,
		Votes:        make(map[string]string),
		Strategy:     strategy,
		Status:       StatusPending,
		Deadline:     now.Add(r.cfg.Timeout),
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	doc, err := persistence.NewDocument(persistence.CollectionConflicts, id, c)
	if err != nil {
		return nil, err
	}
	if err := r.store.CompareAndSwap(ctx, doc, 0); err != nil {
		if errors.Is(err, persistence.ErrVersionConflict) {
			r.logger.Debug("conflict already exists", zap.String("conflict_id", id))
			return r.GetConflict(ctx, id)
		}
		return nil, fmt.Errorf("failed to store conflict %s: %w", id, err)
	}
	r.metrics.RecordConflict(string(StatusPending))

	r.logger.Info("conflict created",
		zap.String("conflict_id", id),
		zap.String("topic", req.Topic),
		zap.Strings("participants", participants),
		zap.String("strategy", string(strategy)),
		zap.Time("deadline", c.Deadline),
	)
	r.notifyParticipants(ctx, c)
	return c, nil
}

// notifyParticipants pushes the record to every participant's current
// location. Failures are logged per participant.
func (r *Resolver) notifyParticipants(ctx context.Context, c *Conflict) {
	if r.sink == nil {
		return
	}
	for _, p := range c.Participants {
		loc := p
		if r.directory != nil {
			resolved, err := r.directory.Resolve(ctx, p)
			if err != nil {
				r.logger.Warn("participant unreachable",
					zap.String("conflict_id", c.ID),
					zap.String("participant", p),
					zap.Error(err),
				)
				continue
			}
			loc = resolved
		}
		ev := messaging.NewEvent(messaging.EventConflictResolution, loc, r.cfg.AgentID, c)
		ev.MissionID = c.MissionID
		if err := r.sink.Publish(ctx, ev); err != nil {
			r.logger.Warn("failed to notify participant",
				zap.String("conflict_id", c.ID),
				zap.String("participant", p),
				zap.Error(err),
			)
		}
	}
}

// GetConflict loads one conflict.
func (r *Resolver) GetConflict(ctx context.Context, id string) (*Conflict, error) {
	c, _, err := r.load(ctx, id)
	return c, err
}

func (r *Resolver) load(ctx context.Context, id string) (*Conflict, int64, error) {
	doc, err := r.store.Load(ctx, persistence.CollectionConflicts, id)
	if errors.Is(err, persistence.ErrNotFound) {
		return nil, 0, fmt.Errorf("%w: %s", ErrConflictNotFound, id)
	}
	if err != nil {
		return nil, 0, fmt.Errorf("failed to load conflict %s: %w", id, err)
	}
	var c Conflict
	if err := doc.Decode(&c); err != nil {
		return nil, 0, fmt.Errorf("failed to decode conflict %s: %w", id, err)
	}
	if c.Votes == nil {
		c.Votes = make(map[string]string)
	}
	return &c, doc.Version, nil
}

// update applies mutate to the stored record with compare-and-swap and
// retries on concurrent writes. mutate returns false to skip the write.
func (r *Resolver) update(ctx context.Context, id string, mutate func(c *Conflict) (bool, error)) (*Conflict, bool, error) {
	type result struct {
		c       *Conflict
		changed bool
	}
	res, err := retry.DoWithResultTyped(r.retryer, ctx, func() (result, error) {
		c, version, err := r.load(ctx, id)
		if err != nil {
			return result{}, err
		}
		changed, err := mutate(c)
		if err != nil || !changed {
			return result{c: c}, err
		}
		c.UpdatedAt = r.now()
		doc, err := persistence.NewDocument(persistence.CollectionConflicts, id, c)
		if err != nil {
			return result{}, err
		}
		if err := r.store.CompareAndSwap(ctx, doc, version); err != nil {
			return result{}, err
		}
		return result{c: c, changed: true}, nil
	})
	return res.c, res.changed, err
}

// SubmitVote records agentID's choice (last write wins) and, under VOTING,
// recomputes the outcome from all votes. A strict majority resolves at
// once; after every participant has voted a unique plurality resolves.
// An all-voted tie has no leading choice to resolve to, so it is escalated
// to the mission authority rather than RESOLVED.
func (r *Resolver) SubmitVote(ctx context.Context, conflictID, agentID, choice string) (*Conflict, error) {
	if choice == "" {
		return nil, fmt.Errorf("%w: empty choice", ErrInvalidConflict)
	}

	c, _, err := r.update(ctx, conflictID, func(c *Conflict) (bool, error) {
		if c.Status != StatusPending {
			return false, fmt.Errorf("%w: %s is %s", ErrConflictClosed, c.ID, c.Status)
		}
		if !c.IsParticipant(agentID) {
			return false, fmt.Errorf("%w: %s", ErrNotParticipant, agentID)
		}
		c.Votes[agentID] = choice
		c.Resolution = ""

		if c.Strategy != StrategyVoting {
			return true, nil
		}
		switch result, winner := tally(c.Votes, c.Participants); result {
		case outcomeResolved:
			c.Status = StatusResolved
			c.Resolution = winner
		case outcomeTied:
			c.Status = StatusEscalated
			c.Reason = "tied vote"
		}
		return true, nil
	})
	if err != nil {
		return nil, err
	}
	r.metrics.RecordVote()

	r.logger.Debug("vote recorded",
		zap.String("conflict_id", c.ID),
		zap.String("voter", agentID),
		zap.Int("votes", len(c.Votes)),
	)

	switch c.Status {
	case StatusResolved:
		r.metrics.RecordConflict(string(StatusResolved))
		r.logger.Info("conflict resolved",
			zap.String("conflict_id", c.ID),
			zap.String("resolution", c.Resolution),
		)
		r.notifyParticipants(ctx, c)
	case StatusEscalated:
		r.escalated(ctx, c)
	}
	return c, nil
}

// CheckExpiredConflicts escalates every PENDING conflict of the mission
// whose deadline has passed and returns the conflicts it escalated.
// Conflicts already escalated are left alone.
func (r *Resolver) CheckExpiredConflicts(ctx context.Context) ([]*Conflict, error) {
	docs, err := r.store.Query(ctx, persistence.CollectionConflicts, "status", string(StatusPending))
	if err != nil {
		return nil, fmt.Errorf("failed to query pending conflicts: %w", err)
	}

	now := r.now()
	var escalated []*Conflict
	for _, doc := range docs {
		var c Conflict
		if err := doc.Decode(&c); err != nil {
			r.logger.Warn("skipping undecodable conflict", zap.String("id", doc.ID), zap.Error(err))
			continue
		}
		if r.cfg.MissionID != "" && c.MissionID != r.cfg.MissionID {
			continue
		}
		if !c.Expired(now) {
			continue
		}

		updated, changed, err := r.update(ctx, c.ID, func(c *Conflict) (bool, error) {
			if !c.Expired(now) {
				return false, nil
			}
			c.Status = StatusEscalated
			c.Reason = "deadline expired"
			return true, nil
		})
		if err != nil {
			r.logger.Error("failed to escalate conflict", zap.String("conflict_id", c.ID), zap.Error(err))
			continue
		}
		if !changed {
			continue
		}
		r.escalated(ctx, updated)
		escalated = append(escalated, updated)
	}
	return escalated, nil
}

func (r *Resolver) escalated(ctx context.Context, c *Conflict) {
	r.metrics.RecordConflict(string(StatusEscalated))
	r.logger.Warn("conflict escalated",
		zap.String("conflict_id", c.ID),
		zap.String("reason", c.Reason),
		zap.Int("votes", len(c.Votes)),
	)
	if r.authority == nil {
		return
	}
	votes := make(map[string]string, len(c.Votes))
	for k, v := range c.Votes {
		votes[k] = v
	}
	err := r.authority.ReportEscalation(ctx, mission.Escalation{
		ConflictID:   c.ID,
		MissionID:    c.MissionID,
		Participants: append([]string(nil), c.Participants...),
		Votes:        votes,
		Reason:       c.Reason,
		Deadline:     c.Deadline,
	})
	if err != nil {
		// 冲突状态已持久化, 上报失败不回滚
		r.logger.Warn("failed to report escalation",
			zap.String("conflict_id", c.ID),
			zap.Error(err),
		)
	}
}
