package shortener

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/sundayezeilo/shortlinks/internal/errx"
	"github.com/sundayezeilo/shortlinks/internal/geo"
	"github.com/sundayezeilo/shortlinks/internal/httpx"
)

// TimeFormat renders timestamps as UTC RFC 3339 with millisecond precision.
const TimeFormat = "2006-01-02T15:04:05.000Z07:00"

// CreateShortURLRequest is the JSON body of POST /shorturls.
type CreateShortURLRequest struct {
	URL       string `json:"url"`
	Validity  *int   `json:"validity,omitempty"`
	Shortcode string `json:"shortcode,omitempty"`
}

type CreateShortURLResponse struct {
	ShortLink string `json:"shortLink"`
	Expiry    string `json:"expiry"`
}

type StatsResponse struct {
	Shortcode   string          `json:"shortcode"`
	OriginalURL string          `json:"originalUrl"`
	ShortLink   string          `json:"shortLink"`
	CreatedAt   string          `json:"createdAt"`
	ExpiresAt   string          `json:"expiresAt"`
	TotalClicks int             `json:"totalClicks"`
	IsExpired   bool            `json:"isExpired"`
	Clicks      []ClickResponse `json:"clicks"`
}

type ClickResponse struct {
	Timestamp string       `json:"timestamp"`
	Referrer  string       `json:"referrer"`
	Location  geo.Location `json:"location"`
}

type DeleteResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// Handler provides HTTP handlers for the URL shortener service.
type Handler struct {
	service Service
	logger  *slog.Logger
	baseURL string
}

// HandlerConfig holds configuration for the handler.
type HandlerConfig struct {
	Service Service
	Logger  *slog.Logger
	BaseURL string // prefix for shortLink values, e.g. "https://sho.rt"
}

func NewHandler(cfg HandlerConfig) *Handler {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Handler{
		service: cfg.Service,
		logger:  logger,
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
	}
}

// Register mounts the short link routes on r.
func (h *Handler) Register(r chi.Router) {
	r.Route("/shorturls", func(r chi.Router) {
		r.Post("/", h.CreateShortURL)
		r.Get("/", h.ListStats)
		r.Get("/{shortcode}", h.GetStats)
		r.Delete("/{shortcode}", h.DeleteShortURL)
	})
	r.Get("/{shortcode}", h.Redirect)
}

// CreateShortURL handles POST /shorturls.
func (h *Handler) CreateShortURL(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := h.requestLogger(r)

	req, err := httpx.DecodeJSON[CreateShortURLRequest](r)
	if err != nil {
		logger.WarnContext(ctx, "failed to decode request", "error", err.Error())
		httpx.WriteError(w, http.StatusBadRequest, "invalid_request", err.Error(), nil)
		return
	}

	rec, err := h.service.Create(ctx, CreateRequest{
		URL:             req.URL,
		ValidityMinutes: req.Validity,
		Shortcode:       req.Shortcode,
	})
	if err != nil {
		h.handleError(ctx, logger, w, err, "create")
		return
	}

	logger.InfoContext(ctx, "short url created",
		"shortcode", rec.Shortcode,
		"custom_shortcode", req.Shortcode != "",
		"expires_at", rec.ExpiresAt,
	)

	httpx.WriteJSON(w, http.StatusCreated, CreateShortURLResponse{
		ShortLink: h.shortLink(rec.Shortcode),
		Expiry:    formatTime(rec.ExpiresAt),
	})
}

// ListStats handles GET /shorturls.
func (h *Handler) ListStats(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	all, err := h.service.ListStats(ctx)
	if err != nil {
		h.handleError(ctx, h.requestLogger(r), w, err, "list")
		return
	}

	resp := make([]StatsResponse, len(all))
	for i, s := range all {
		resp[i] = h.statsResponse(s)
	}
	httpx.WriteJSON(w, http.StatusOK, resp)
}

// GetStats handles GET /shorturls/{shortcode}.
func (h *Handler) GetStats(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	code := chi.URLParam(r, "shortcode")

	stats, err := h.service.Stats(ctx, code)
	if err != nil {
		h.handleError(ctx, h.requestLogger(r).With("shortcode", code), w, err, "stats")
		return
	}
	httpx.WriteJSON(w, http.StatusOK, h.statsResponse(stats))
}

// DeleteShortURL handles DELETE /shorturls/{shortcode}. Only expired links
// can be deleted.
func (h *Handler) DeleteShortURL(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	code := chi.URLParam(r, "shortcode")
	logger := h.requestLogger(r).With("shortcode", code)

	if err := h.service.Delete(ctx, code); err != nil {
		h.handleError(ctx, logger, w, err, "delete")
		return
	}

	logger.InfoContext(ctx, "expired short url deleted")
	httpx.WriteJSON(w, http.StatusOK, DeleteResponse{
		Success: true,
		Message: "Expired short URL deleted successfully",
	})
}

// Redirect handles GET /{shortcode}.
func (h *Handler) Redirect(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	code := chi.URLParam(r, "shortcode")
	logger := h.requestLogger(r).With("shortcode", code)

	target, err := h.service.Resolve(ctx, code, ClickContext{
		Referrer:  r.Referer(),
		IPAddress: clientIP(r),
		UserAgent: r.UserAgent(),
	})
	if err != nil {
		h.handleError(ctx, logger, w, err, "redirect")
		return
	}

	logger.DebugContext(ctx, "redirecting", "original_url", target)
	httpx.NoStore(w)
	http.Redirect(w, r, target, http.StatusFound)
}

func (h *Handler) requestLogger(r *http.Request) *slog.Logger {
	return h.logger.With(
		"request_id", httpx.GetRequestID(r.Context()),
		"method", r.Method,
		"path", r.URL.Path,
	)
}

// handleError writes the response for a service error. action selects the
// wording for kinds whose meaning depends on the endpoint.
func (h *Handler) handleError(ctx context.Context, logger *slog.Logger, w http.ResponseWriter, err error, action string) {
	kind := errx.KindOf(err)
	attrs := []any{
		"error", err.Error(),
		"error_kind", kind,
		"operation", errx.OpOf(err),
	}

	switch {
	case kind == errx.Invalid:
		logger.WarnContext(ctx, "invalid request", attrs...)
		httpx.WriteError(w, http.StatusBadRequest, "invalid_input", publicMessage(err), nil)

	case errors.Is(err, ErrShortcodeTaken):
		logger.WarnContext(ctx, "shortcode conflict", attrs...)
		httpx.WriteError(w, http.StatusConflict, "conflict", "Shortcode already exists",
			map[string]string{"hint": "Try a different shortcode or omit it to have one generated"})

	case errors.Is(err, ErrStillActive):
		logger.WarnContext(ctx, "delete of active short url refused", attrs...)
		httpx.WriteError(w, http.StatusConflict, "conflict",
			"Cannot delete an active short URL. Only expired URLs can be deleted.", nil)

	case kind == errx.NotFound:
		logger.InfoContext(ctx, "short url not found", attrs...)
		httpx.WriteKindError(w, err, "Short URL not found")

	case kind == errx.Gone:
		logger.InfoContext(ctx, "short url expired", attrs...)
		httpx.WriteKindError(w, err, "Short URL has expired")

	case errors.Is(err, ErrGenerationExhausted):
		logger.ErrorContext(ctx, "shortcode generation exhausted", attrs...)
		httpx.WriteError(w, http.StatusInternalServerError, "internal_error",
			"Failed to generate unique shortcode", nil)

	default:
		logger.ErrorContext(ctx, "unexpected error", append(attrs, "action", action)...)
		httpx.WriteError(w, http.StatusInternalServerError, httpx.ErrorKindToCode(errx.Internal),
			fmt.Sprintf("Unable to %s short URL at this time", action), nil)
	}
}

func (h *Handler) statsResponse(s Stats) StatsResponse {
	clicks := make([]ClickResponse, len(s.Clicks))
	for i, c := range s.Clicks {
		clicks[i] = ClickResponse{
			Timestamp: formatTime(c.Timestamp),
			Referrer:  c.Referrer,
			Location:  c.Location,
		}
	}

	return StatsResponse{
		Shortcode:   s.Shortcode,
		OriginalURL: s.OriginalURL,
		ShortLink:   h.shortLink(s.Shortcode),
		CreatedAt:   formatTime(s.CreatedAt),
		ExpiresAt:   formatTime(s.ExpiresAt),
		TotalClicks: s.TotalClicks,
		IsExpired:   s.IsExpired,
		Clicks:      clicks,
	}
}

func (h *Handler) shortLink(code string) string {
	return h.baseURL + "/" + code
}

func formatTime(t time.Time) string {
	return t.UTC().Format(TimeFormat)
}

// publicMessage strips operation prefixes from a validation error.
func publicMessage(err error) string {
	msg := err.Error()
	var e *errx.Error
	for errors.As(err, &e) && e.Err != nil {
		msg = e.Err.Error()
		err = e.Err
	}
	return msg
}

// clientIP returns the host part of RemoteAddr. Proxy headers are only
// honored when the server installs chi's RealIP middleware.
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
