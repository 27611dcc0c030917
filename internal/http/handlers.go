package http

import (
	"net/http"
	"strings"
	"time"

	"github.com/fyrsmithlabs/pipelined/internal/apierr"
	"github.com/fyrsmithlabs/pipelined/internal/autopilot"
	"github.com/fyrsmithlabs/pipelined/internal/executor"
	"github.com/fyrsmithlabs/pipelined/internal/state"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"
)

const defaultMaxResults = 50

// handleHealth returns a simple health check response.
func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, HealthResponse{Status: "ok"})
}

// handleWebhook runs a pass and opens a tracking issue for it.
func (s *Server) handleWebhook(c echo.Context) error {
	return s.runPass(c, true)
}

// handleGenerate runs a pass without a tracking issue.
func (s *Server) handleGenerate(c echo.Context) error {
	return s.runPass(c, false)
}

func (s *Server) runPass(c echo.Context, tracking bool) error {
	var p executor.Payload
	if err := c.Bind(&p); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if err := p.Validate(); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	p.CreateTrackingIssue = tracking
	if p.Source == "" {
		p.Source = "http"
	}

	res := s.executor.Run(c.Request().Context(), p)
	return c.JSON(http.StatusOK, res)
}

// handleAutofix applies the patches described on a ticket.
func (s *Server) handleAutofix(c echo.Context) error {
	var req executor.AutofixRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.IssueKey == "" || req.Repository == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "issueKey and repository are required")
	}

	res := s.executor.Autofix(c.Request().Context(), req)
	return c.JSON(http.StatusOK, res)
}

// handleStatus returns the journal and the tickets under supervision.
func (s *Server) handleStatus(c echo.Context) error {
	snap := s.status.Snapshot()
	resp := StatusResponse{
		Status:      state.StatusSuccess,
		GeneratedAt: snap.GeneratedAt.UTC().Format(time.RFC3339),
		Counts:      CountFromSnapshot(snap),
		Journal:     snap.Journal,
		Tracked:     snap.Tracked,
	}
	if resp.Journal == nil {
		resp.Journal = []state.Entry{}
	}
	if resp.Tracked == nil {
		resp.Tracked = []state.TrackedTicket{}
	}
	if s.autopilot != nil {
		resp.AutopilotState = s.autopilot.State().String()
	}
	return c.JSON(http.StatusOK, resp)
}

// handleIssues searches tickets, defaulting to every active ticket in the
// configured projects, and returns them highest priority first.
func (s *Server) handleIssues(c echo.Context) error {
	var req IssuesRequest
	if c.Request().ContentLength != 0 {
		if err := c.Bind(&req); err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
		}
	}
	jql := strings.TrimSpace(req.JQL)
	if jql == "" {
		jql = autopilot.ActiveJQL(s.config.Projects)
	}
	limit := req.MaxResults
	if limit <= 0 {
		limit = defaultMaxResults
	}

	ctx := c.Request().Context()
	issues, err := s.tracker.SearchIssues(ctx, jql, limit)
	if err != nil {
		s.logger.Warn(ctx, "issue search failed", zap.String("jql", jql), zap.Error(err))
		return c.JSON(statusFor(err), errorBody(err.Error()))
	}
	autopilot.SortByPriority(issues)
	return c.JSON(http.StatusOK, IssuesResponse{Status: state.StatusSuccess, JQL: jql, Issues: issues})
}

// handleTransition moves a ticket to the named status.
func (s *Server) handleTransition(c echo.Context) error {
	var req TransitionRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.IssueKey == "" || req.TargetStatus == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "issueKey and targetStatus are required")
	}

	ctx := c.Request().Context()
	if err := s.tracker.Transition(ctx, req.IssueKey, req.TargetStatus); err != nil {
		s.logger.Warn(ctx, "transition failed", zap.String("issue.key", req.IssueKey), zap.Error(err))
		return c.JSON(statusFor(err), errorBody(err.Error()))
	}
	return c.JSON(http.StatusOK, TransitionResponse{
		Status:   state.StatusSuccess,
		IssueKey: req.IssueKey,
		Message:  "moved to " + req.TargetStatus,
	})
}

// handleTransitions lists the statuses a ticket can move to.
func (s *Server) handleTransitions(c echo.Context) error {
	var req TransitionRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.IssueKey == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "issueKey is required")
	}

	ctx := c.Request().Context()
	transitions, err := s.tracker.ListTransitions(ctx, req.IssueKey)
	if err != nil {
		return c.JSON(statusFor(err), errorBody(err.Error()))
	}
	return c.JSON(http.StatusOK, TransitionsResponse{
		Status:      state.StatusSuccess,
		IssueKey:    req.IssueKey,
		Transitions: transitions,
	})
}

// statusFor maps platform error kinds onto response codes for the ticket
// endpoints. The body always carries the structured result.
func statusFor(err error) int {
	switch apierr.KindOf(err) {
	case apierr.NotFound:
		return http.StatusNotFound
	case apierr.Conflict:
		return http.StatusConflict
	case apierr.Unauthorized:
		return http.StatusBadGateway
	case apierr.Configuration:
		return http.StatusServiceUnavailable
	case apierr.Transient:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
