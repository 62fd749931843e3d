package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/BaSui01/missionflow/agent/conflict"
	"github.com/BaSui01/missionflow/agent/workproduct"
	"github.com/BaSui01/missionflow/config"
	"github.com/BaSui01/missionflow/internal/ctxkeys"
	"github.com/BaSui01/missionflow/internal/metrics"
)

const maxBodyBytes = 1 << 20

// loopGateway 把 HTTP 请求交给控制循环
type loopGateway interface {
	SubmitAnswer(ctx context.Context, requestID string, value any) (bool, error)
	Snapshot(ctx context.Context) (json.RawMessage, error)
}

type conflictAPI interface {
	CreateConflict(ctx context.Context, initiatorID string, req conflict.Request, participantIDs []string, strategy conflict.Strategy) (*conflict.Conflict, error)
	GetConflict(ctx context.Context, id string) (*conflict.Conflict, error)
	SubmitVote(ctx context.Context, conflictID, agentID, choice string) (*conflict.Conflict, error)
}

type productLister interface {
	LoadAll(ctx context.Context) ([]*workproduct.WorkProduct, error)
}

// apiServer 是智能体的 HTTP 入口
type apiServer struct {
	agentID   string
	loop      loopGateway
	conflicts conflictAPI
	products  productLister
	health    func(ctx context.Context) error
	metrics   *metrics.Collector
	logger    *zap.Logger
}

// routes 注册全部路由，每个路由按模式记录指标
func (s *apiServer) routes() *http.ServeMux {
	mux := http.NewServeMux()
	handle := func(method, path string, h http.HandlerFunc) {
		mux.Handle(method+" "+path, Instrument(s.metrics, path)(h))
	}

	handle(http.MethodPost, "/v1/input", s.handleInput)
	handle(http.MethodGet, "/v1/steps", s.handleSteps)
	handle(http.MethodGet, "/v1/work-products", s.handleWorkProducts)
	handle(http.MethodPost, "/v1/conflicts", s.handleCreateConflict)
	handle(http.MethodGet, "/v1/conflicts/{id}", s.handleGetConflict)
	handle(http.MethodPost, "/v1/conflicts/{id}/votes", s.handleVote)
	handle(http.MethodGet, "/healthz", s.handleHealth)
	mux.Handle("GET /metrics", promhttp.Handler())
	return mux
}

// Handler 返回套好中间件的入口。JWTSecret 为空时不做认证。
func (s *apiServer) Handler(ctx context.Context, cfg config.ServerConfig) http.Handler {
	mws := []Middleware{
		Recovery(s.logger),
		RequestID(),
		SecurityHeaders(),
		OTelTracing(),
		RequestLogger(s.logger),
	}
	if cfg.RateLimitRPS > 0 {
		mws = append(mws, RateLimiter(ctx, cfg.RateLimitRPS, cfg.RateLimitBurst))
	}
	if cfg.JWTSecret != "" {
		mws = append(mws, JWTAuth(cfg.JWTSecret, []string{"/healthz", "/metrics"}, s.logger))
	}
	return Chain(s.routes(), mws...)
}

// =============================================================================
// Handlers
// =============================================================================

type inputBody struct {
	RequestID string `json:"requestId"`
	Answer    any    `json:"answer"`
}

func (s *apiServer) handleInput(w http.ResponseWriter, r *http.Request) {
	var body inputBody
	if !decodeBody(w, r, &body) {
		return
	}
	if body.RequestID == "" || body.Answer == nil {
		writeError(w, http.StatusBadRequest, "INVALID_REQUEST", "requestId and answer are required")
		return
	}

	ok, err := s.loop.SubmitAnswer(r.Context(), body.RequestID, body.Answer)
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, "UNAVAILABLE", err.Error())
		return
	}
	if !ok {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "no step is waiting on request "+body.RequestID)
		return
	}
	writeData(w, http.StatusOK, map[string]any{"requestId": body.RequestID, "accepted": true})
}

func (s *apiServer) handleSteps(w http.ResponseWriter, r *http.Request) {
	data, err := s.loop.Snapshot(r.Context())
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, "UNAVAILABLE", err.Error())
		return
	}
	writeData(w, http.StatusOK, data)
}

func (s *apiServer) handleWorkProducts(w http.ResponseWriter, r *http.Request) {
	products, err := s.products.LoadAll(r.Context())
	if err != nil {
		s.logger.Error("failed to load work products", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "INTERNAL", "failed to load work products")
		return
	}
	summaries := make([]workproduct.Summary, 0, len(products))
	for _, wp := range products {
		summaries = append(summaries, wp.Summarize())
	}
	writeData(w, http.StatusOK, summaries)
}

type createConflictBody struct {
	InitiatorID  string            `json:"initiatorId"`
	Request      conflict.Request  `json:"request"`
	Participants []string          `json:"participants"`
	Strategy     conflict.Strategy `json:"strategy"`
}

func (s *apiServer) handleCreateConflict(w http.ResponseWriter, r *http.Request) {
	var body createConflictBody
	if !decodeBody(w, r, &body) {
		return
	}
	initiator := s.caller(r.Context(), body.InitiatorID)
	if body.Strategy == "" {
		body.Strategy = conflict.StrategyVoting
	}

	c, err := s.conflicts.CreateConflict(r.Context(), initiator, body.Request, body.Participants, body.Strategy)
	if err != nil {
		s.writeConflictError(w, err)
		return
	}
	writeData(w, http.StatusCreated, c)
}

func (s *apiServer) handleGetConflict(w http.ResponseWriter, r *http.Request) {
	c, err := s.conflicts.GetConflict(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeConflictError(w, err)
		return
	}
	writeData(w, http.StatusOK, c)
}

type voteBody struct {
	AgentID string `json:"agentId"`
	Choice  string `json:"choice"`
}

func (s *apiServer) handleVote(w http.ResponseWriter, r *http.Request) {
	var body voteBody
	if !decodeBody(w, r, &body) {
		return
	}
	// 认证后的调用方只能以自己的身份投票
	if sub, ok := ctxkeys.AgentID(r.Context()); ok && body.AgentID != "" && body.AgentID != sub {
		writeError(w, http.StatusForbidden, "FORBIDDEN", "token subject does not match agentId")
		return
	}
	voter := s.caller(r.Context(), body.AgentID)
	if voter == "" || body.Choice == "" {
		writeError(w, http.StatusBadRequest, "INVALID_REQUEST", "agentId and choice are required")
		return
	}

	c, err := s.conflicts.SubmitVote(r.Context(), r.PathValue("id"), voter, body.Choice)
	if err != nil {
		s.writeConflictError(w, err)
		return
	}
	writeData(w, http.StatusOK, c)
}

func (s *apiServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()
	if s.health != nil {
		if err := s.health(ctx); err != nil {
			s.logger.Warn("health check failed", zap.Error(err))
			writeError(w, http.StatusServiceUnavailable, "UNHEALTHY", err.Error())
			return
		}
	}
	writeData(w, http.StatusOK, map[string]string{"status": "ok", "agentId": s.agentID})
}

// =============================================================================
// 辅助函数
// =============================================================================

// caller 优先使用 token 中的身份，其次是请求体，最后是本智能体
func (s *apiServer) caller(ctx context.Context, declared string) string {
	if sub, ok := ctxkeys.AgentID(ctx); ok {
		return sub
	}
	if declared != "" {
		return declared
	}
	return s.agentID
}

func (s *apiServer) writeConflictError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, conflict.ErrConflictNotFound):
		writeError(w, http.StatusNotFound, "NOT_FOUND", err.Error())
	case errors.Is(err, conflict.ErrNotParticipant):
		writeError(w, http.StatusForbidden, "NOT_PARTICIPANT", err.Error())
	case errors.Is(err, conflict.ErrConflictClosed):
		writeError(w, http.StatusConflict, "CONFLICT_CLOSED", err.Error())
	case errors.Is(err, conflict.ErrInvalidConflict):
		writeError(w, http.StatusBadRequest, "INVALID_REQUEST", err.Error())
	default:
		s.logger.Error("conflict operation failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "INTERNAL", "conflict operation failed")
	}
}

// decodeBody 解析 JSON 请求体，失败时已写出 400
func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_REQUEST", "invalid JSON body: "+err.Error())
		return false
	}
	return true
}

func writeData(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{"success": true, "data": data})
}
