package devserver

import (
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/lirancohen/adminpulse/internal/auth"
	"github.com/lirancohen/adminpulse/internal/events"
)

// DefaultUser is the admin logged in when /dev/login names nobody
const DefaultUser = "admin@shop.test"

type loginRequest struct {
	Email string `json:"email"`
}

// handleLogin starts a session without credentials
// POST /dev/login
func (s *Server) handleLogin(c echo.Context) error {
	var req loginRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	email := strings.TrimSpace(req.Email)
	if email == "" {
		email = DefaultUser
	}

	sess, err := s.sessions.CreateSession(email, c.Request())
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to create session")
	}
	s.sessions.SetSessionCookie(c.Response(), sess)
	s.publishSession(events.SessionCreated, sess)

	return c.JSON(http.StatusOK, map[string]any{
		"email":     sess.Email,
		"sessionId": sess.ID,
		"expiresAt": sess.ExpiresAt,
	})
}

// handleLogout ends the caller's session
// POST /dev/logout
func (s *Server) handleLogout(c echo.Context) error {
	sess := auth.SessionFromContext(c.Request().Context())
	if err := s.sessions.DeleteSession(sess.ID); err != nil && !errors.Is(err, auth.ErrSessionNotFound) {
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to delete session")
	}
	s.sessions.ClearSessionCookie(c.Response())
	s.publishSession(events.SessionTerminated, sess)
	return c.NoContent(http.StatusNoContent)
}

// handleWSToken issues a short-lived token for the realtime transport
// POST /api/v1/internal/auth/ws-token
func (s *Server) handleWSToken(c echo.Context) error {
	sess := auth.SessionFromContext(c.Request().Context())
	token, err := auth.GenerateWSToken(sess, s.tokens)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to generate token")
	}
	return c.JSON(http.StatusOK, map[string]string{"token": token})
}

// GET /admin/activity?limit=&since=
func (s *Server) handleActivity(c echo.Context) error {
	limit, since, err := listParams(c)
	if err != nil {
		return err
	}
	entries, err := s.db.ListAuditLog(limit, since)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to list audit log")
	}
	return c.JSON(http.StatusOK, entries)
}

// GET /admin/pricing/events?limit=&since=
func (s *Server) handlePricingEvents(c echo.Context) error {
	limit, since, err := listParams(c)
	if err != nil {
		return err
	}
	list, err := s.db.ListPricingEvents(limit, since)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to list pricing events")
	}
	return c.JSON(http.StatusOK, list)
}

// GET /admin/security/events?limit=&since=
func (s *Server) handleSecurityEvents(c echo.Context) error {
	limit, since, err := listParams(c)
	if err != nil {
		return err
	}
	list, err := s.db.ListSecurityEvents(limit, since)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to list security events")
	}
	return c.JSON(http.StatusOK, list)
}

// GET /admin/security/sessions/active
func (s *Server) handleActiveSessions(c echo.Context) error {
	sessions, err := s.sessions.ActiveSessions()
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to list sessions")
	}
	list := make([]events.ActiveSession, len(sessions))
	for i, sess := range sessions {
		list[i] = events.ActiveSession{
			SessionID:    sess.ID,
			UserEmail:    sess.Email,
			IPAddress:    sess.IPAddress,
			UserAgent:    sess.UserAgent,
			CreatedAt:    events.NewTime(sess.CreatedAt),
			LastActiveAt: events.NewTime(sess.LastActiveAt),
		}
	}
	return c.JSON(http.StatusOK, list)
}

// GET /admin/workflows/executions/active
func (s *Server) handleActiveExecutions(c echo.Context) error {
	list, err := s.db.ListActiveExecutions()
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to list executions")
	}
	return c.JSON(http.StatusOK, list)
}

// GET /admin/workflows/executions/recent?limit=
func (s *Server) handleRecentExecutions(c echo.Context) error {
	limit, _, err := listParams(c)
	if err != nil {
		return err
	}
	list, err := s.db.ListRecentExecutions(limit)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to list executions")
	}
	return c.JSON(http.StatusOK, list)
}

// handlePublish persists and broadcasts a raw event of the given kind.
// Notifications go to the user query parameter, or to the caller's own
// sessions when it holds one.
// POST /dev/publish/:kind?user=
func (s *Server) handlePublish(c echo.Context) error {
	body, err := io.ReadAll(c.Request().Body)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "failed to read body")
	}

	user := c.QueryParam("user")
	if user == "" {
		if sess, err := s.sessions.GetSessionFromRequest(c.Request()); err == nil {
			user = sess.Email
		}
	}

	published, err := s.pub.Publish(events.Kind(c.Param("kind")), body, user)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return c.JSON(http.StatusAccepted, published)
}

func listParams(c echo.Context) (int, time.Time, error) {
	var limit int
	if v := c.QueryParam("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return 0, time.Time{}, echo.NewHTTPError(http.StatusBadRequest, "invalid limit")
		}
		limit = n
	}

	var since time.Time
	if v := c.QueryParam("since"); v != "" {
		t, err := events.ParseTime(v)
		if err != nil {
			return 0, time.Time{}, echo.NewHTTPError(http.StatusBadRequest, "invalid since")
		}
		since = t.Time
	}
	return limit, since, nil
}
