package api

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"

	"GammaScalp/internal/domain/errs"
	"GammaScalp/internal/domain/models"
	"GammaScalp/internal/service/ratelimit"
	xhttp "GammaScalp/pkg/http"
	xlogger "GammaScalp/pkg/logger"
	"GammaScalp/pkg/queue"

	"github.com/labstack/echo/v4"
)

// StatusReader is the read side of the engine plus the manual kill switch.
type StatusReader interface {
	Status() models.StatusResponse
	Positions() models.PositionSummary
	Trades(ctx context.Context, date string) ([]*models.Trade, error)
	Events(ctx context.Context, date string, limit int) ([]models.Event, error)
	Levels(symbol string) (models.LevelsResponse, error)
	Emergency(ctx context.Context, reason string) (models.StatusResponse, error)
}

// FeedState reports whether the market feed is up.
type FeedState interface {
	IsConnected() bool
}

// EngineEchoHandler serves the status, position, level, trade and event
// queries and accepts collaborator jobs.
type EngineEchoHandler struct {
	logger *xlogger.Logger
	status StatusReader
	jobs   queue.QueueService
	feed   FeedState
	rl     *ratelimit.Limiter
}

type HandlerOption func(*EngineEchoHandler)

// WithJobs accepts POST /api/jobs/:type onto q.
func WithJobs(q queue.QueueService) HandlerOption {
	return func(h *EngineEchoHandler) { h.jobs = q }
}

// WithFeed reports the feed in /health.
func WithFeed(f FeedState) HandlerOption {
	return func(h *EngineEchoHandler) { h.feed = f }
}

func NewEngineEchoHandler(logger *xlogger.Logger, status StatusReader, opts ...HandlerOption) *EngineEchoHandler {
	if logger == nil {
		logger = xlogger.Nop()
	}
	h := &EngineEchoHandler{logger: logger, status: status, rl: ratelimit.New()}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

func (h *EngineEchoHandler) RegisterRoutes(e *echo.Echo) {
	e.GET("/health", h.Health)
	g := e.Group("/api")
	g.GET("/status", h.Status)
	g.GET("/positions", h.Positions)
	g.GET("/levels/:symbol", h.Levels)
	g.GET("/trades", h.Trades)
	g.GET("/events", h.Events)
	g.POST("/emergency", h.Emergency)
	if h.jobs != nil {
		g.POST("/jobs/:type", h.Job)
	}
}

func (h *EngineEchoHandler) Health(c echo.Context) error {
	st := h.status.Status()
	body := map[string]interface{}{
		"status":         "ok",
		"mode":           st.Mode,
		"degraded_store": st.Degraded,
		"locked":         st.Lockout.Locked,
	}
	if h.feed != nil {
		body["feed_connected"] = h.feed.IsConnected()
	}
	return c.JSON(http.StatusOK, body)
}

func (h *EngineEchoHandler) Status(c echo.Context) error {
	c.Response().Header().Set(echo.HeaderCacheControl, "no-store")
	return xhttp.SuccessResponse(c, h.status.Status())
}

func (h *EngineEchoHandler) Positions(c echo.Context) error {
	return xhttp.SuccessResponse(c, h.status.Positions())
}

func (h *EngineEchoHandler) Levels(c echo.Context) error {
	req := &models.LevelsRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	res, err := h.status.Levels(strings.ToUpper(req.Symbol))
	if err != nil {
		return h.fail(c, "levels", err)
	}
	return xhttp.SuccessResponse(c, res)
}

func (h *EngineEchoHandler) Trades(c echo.Context) error {
	req := &models.TradesRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	trades, err := h.status.Trades(c.Request().Context(), req.Date)
	if err != nil {
		return h.fail(c, "trades", err)
	}
	return xhttp.ListResponse(c, trades, int64(len(trades)))
}

func (h *EngineEchoHandler) Events(c echo.Context) error {
	req := &models.EventsRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	evs, err := h.status.Events(c.Request().Context(), req.Date, req.Limit)
	if err != nil {
		return h.fail(c, "events", err)
	}
	return xhttp.ListResponse(c, evs, int64(len(evs)))
}

// Emergency locks the day and flattens. Callers are limited to one
// request per remote every few seconds.
func (h *EngineEchoHandler) Emergency(c echo.Context) error {
	if !h.rl.Allow(c.RealIP()+":emergency", 2, 0.2) {
		h.logger.Warn("emergency rate limited", xlogger.String("remote", c.RealIP()))
		return c.JSON(http.StatusTooManyRequests, xhttp.APIResponse{
			Status:  http.StatusTooManyRequests,
			Message: http.StatusText(http.StatusTooManyRequests),
		})
	}
	req := &models.EmergencyRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	h.logger.Warn("manual emergency requested", xlogger.String("reason", req.Reason), xlogger.String("remote", c.RealIP()))

	st, err := h.status.Emergency(c.Request().Context(), req.Reason)
	if err != nil {
		// the lockout is in force even when part of the flatten failed
		h.logger.Error("emergency incomplete", xlogger.Error(err))
		appErr := xhttp.InternalErrorf("emergency incomplete").WithError(err).WithParam("status", st)
		return xhttp.AppErrorResponse(c, appErr)
	}
	return xhttp.SuccessResponse(c, st)
}

// Job hands a raw JSON payload to the queue under the path's message type.
func (h *EngineEchoHandler) Job(c echo.Context) error {
	msgType := c.Param("type")
	body, err := io.ReadAll(io.LimitReader(c.Request().Body, 1<<20))
	if err != nil {
		return xhttp.AppErrorResponse(c, xhttp.BadRequestErrorf("read body: %v", err))
	}
	if err := h.jobs.PublishMessage(c.Request().Context(), msgType, body); err != nil {
		switch {
		case errors.Is(err, queue.ErrUnknownType):
			return xhttp.AppErrorResponse(c, xhttp.NotFoundErrorf("unknown job type %q", msgType))
		case errors.Is(err, queue.ErrPermanent):
			return xhttp.AppErrorResponse(c, xhttp.BadRequestErrorf("%v", err))
		default:
			return h.fail(c, "job "+msgType, err)
		}
	}
	return xhttp.AcceptedResponse(c, map[string]string{"type": msgType})
}

// fail maps the error taxonomy onto HTTP statuses.
func (h *EngineEchoHandler) fail(c echo.Context, op string, err error) error {
	var appErr *xhttp.AppError
	switch {
	case errors.Is(err, errs.ErrNotFound):
		appErr = xhttp.NotFoundErrorf("%v", err)
	case errs.IsValidation(err):
		appErr = xhttp.BadRequestErrorf("%v", err)
	case errors.Is(err, errs.ErrLocked):
		appErr = xhttp.ConflictErrorf("%v", err)
	case errs.IsTransient(err), errors.Is(err, context.DeadlineExceeded):
		appErr = xhttp.UnavailableErrorf("%s unavailable", op).WithError(err)
	default:
		appErr = xhttp.InternalErrorf("%s failed", op).WithError(err)
	}
	if appErr.Status >= http.StatusInternalServerError {
		h.logger.Error("request failed", xlogger.String("op", op), xlogger.Error(err))
	}
	return xhttp.AppErrorResponse(c, appErr)
}

var _ xhttp.Handler = (*EngineEchoHandler)(nil)
