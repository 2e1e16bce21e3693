package graph

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/Chative-core-poc-v1/stateflow/internal/agent/graph/events"
	"github.com/Chative-core-poc-v1/stateflow/internal/agent/model"
	"github.com/Chative-core-poc-v1/stateflow/internal/agent/sessions"
	errx "github.com/Chative-core-poc-v1/stateflow/internal/core/error"
	logx "github.com/Chative-core-poc-v1/stateflow/pkg/logger"
)

// Service runs conversation turns: it resolves and locks the session, walks
// the graph and commits the result exactly once.
type Service struct {
	sessions     *sessions.Manager
	orchestrator *Orchestrator
	now          func() time.Time
}

func NewService(sm *sessions.Manager, orchestrator *Orchestrator) *Service {
	return &Service{sessions: sm, orchestrator: orchestrator, now: time.Now}
}

// Sessions exposes the session manager for the session endpoints.
func (s *Service) Sessions() *sessions.Manager {
	return s.sessions
}

// Turn is a validated request holding its session lock. Run must be called
// exactly once to commit and release it.
type Turn struct {
	svc     *Service
	req     *model.ResponseRequest
	session *model.Session
	unlock  func()
	started time.Time
}

func (t *Turn) SessionID() string {
	return t.session.ID
}

// Begin validates req, locks its session and resolves it. Errors returned
// here happen before any event and map to HTTP statuses via errx.StatusOf.
func (s *Service) Begin(ctx context.Context, req *model.ResponseRequest) (*Turn, error) {
	started := s.now()
	if err := req.Validate(); err != nil {
		return nil, err
	}

	id, create := req.SessionID, req.CreateSession
	if id == "" {
		id, create = s.sessions.NewID(), true
	}

	unlock, err := s.sessions.Lock(ctx, id)
	if err != nil {
		return nil, err
	}

	var ttl time.Duration
	if req.StateTTL != nil {
		ttl = time.Duration(*req.StateTTL) * time.Second
	}
	session, err := s.sessions.Resolve(ctx, sessions.ResolveOptions{SessionID: id, CreateSession: create, StateTTL: ttl})
	if err != nil {
		unlock()
		return nil, err
	}

	if missing := s.orchestrator.Unresolved(req, session.Variables); len(missing) > 0 {
		logx.Warn().Str("session_id", id).Strs("variables", missing).Msg("Gate variables are neither declared nor bound")
	}

	session.Messages = append(session.Messages, req.Input.Messages(req.States.IgnoreFirstSystemPrompt)...)
	return &Turn{svc: s, req: req, session: session, unlock: unlock, started: started}, nil
}

// Run walks the graph, emitting events to emit, then commits the session
// with a context detached from ctx so completed work survives a client
// disconnect. The returned response carries no events.
func (t *Turn) Run(ctx context.Context, stream bool, emit events.Emitter) *model.Response {
	defer t.unlock()
	s := t.svc

	outcome := s.orchestrator.Run(ctx, t.req, t.session, stream, emit)

	resp := &model.Response{
		ID:        "resp_" + uuid.NewString(),
		Object:    model.ResponseObject,
		Created:   t.started.Unix(),
		Model:     t.req.Model,
		SessionID: t.session.ID,
		Events:    []model.Event{},
		Usage: model.Usage{
			TotalTokens: outcome.Usage.Tokens,
			TotalTime:   s.now().Sub(t.started).Seconds(),
		},
	}
	if outcome.Err != nil {
		resp.Error = &model.EventError{Code: errx.Code(outcome.Err), Message: outcome.Err.Error()}
	}

	if err := s.sessions.Commit(context.WithoutCancel(ctx), outcome.Session); err != nil {
		logx.Error().Err(err).Str("session_id", t.session.ID).Msg("Failed to commit session")
		if resp.Error == nil {
			resp.Error = &model.EventError{Code: errx.Code(err), Message: errx.SystemErrorMessage}
		}
	}

	logx.Info().
		Str("session_id", t.session.ID).
		Str("response_id", resp.ID).
		Int("steps", outcome.Steps).
		Int("total_tokens", resp.Usage.TotalTokens).
		Float64("total_cost_usd", outcome.Usage.CostUSD).
		Float64("total_time", resp.Usage.TotalTime).
		Msg("Turn complete")
	return resp
}

// Invoke runs a batched turn and returns the response with every event.
func (s *Service) Invoke(ctx context.Context, req *model.ResponseRequest) (*model.Response, error) {
	turn, err := s.Begin(ctx, req)
	if err != nil {
		return nil, err
	}

	st := events.NewStream(events.DefaultBuffer)
	collected := make(chan []model.Event, 1)
	go func() {
		collected <- events.Collect(context.WithoutCancel(ctx), st.Events())
	}()

	resp := turn.Run(ctx, false, st)
	st.Close()
	resp.Events = <-collected
	return resp, nil
}

// Stream starts a streaming turn. Events arrive on the returned stream,
// which is closed after the response has been sent on the result channel.
func (s *Service) Stream(ctx context.Context, req *model.ResponseRequest) (*events.Stream, <-chan *model.Response, error) {
	turn, err := s.Begin(ctx, req)
	if err != nil {
		return nil, nil, err
	}

	st := events.NewStream(events.DefaultBuffer)
	result := make(chan *model.Response, 1)
	go func() {
		resp := turn.Run(ctx, true, st)
		result <- resp
		st.Close()
	}()
	return st, result, nil
}
