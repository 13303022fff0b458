package main

import (
	"context"
	"embed"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"pin-ad-studio/internal/adcopy"
	"pin-ad-studio/internal/app"
	"pin-ad-studio/internal/compositor"
	"pin-ad-studio/internal/config"
	"pin-ad-studio/internal/pipeline"
	"pin-ad-studio/internal/presets"
)

//go:embed static/*
var staticFS embed.FS

const clippedWarning = "The overlay does not fit inside the background and was cropped at the edges."

type runner interface {
	Run(ctx context.Context, req pipeline.Request) (pipeline.Result, error)
}

type server struct {
	runner         runner
	catalog        *presets.Catalog
	defaults       app.Defaults
	maxUpload      int64
	requestTimeout time.Duration
	logger         *slog.Logger
}

type apiError struct {
	Error string `json:"error"`
}

type configResponse struct {
	Defaults struct {
		X        int     `json:"x"`
		Y        int     `json:"y"`
		Scale    float64 `json:"scale"`
		MinScale float64 `json:"min_scale"`
	} `json:"defaults"`
	HasDefaultPin        bool                 `json:"has_default_pin"`
	HasDefaultAdvertiser bool                 `json:"has_default_advertiser"`
	Presets              []presets.Preset     `json:"presets"`
	Tones                []adcopy.NamedOption `json:"tones"`
}

type composeResponse struct {
	Image        string `json:"image"`
	Width        int    `json:"width"`
	Height       int    `json:"height"`
	Clipped      bool   `json:"clipped"`
	Warning      string `json:"warning,omitempty"`
	AdCopy       string `json:"ad_copy,omitempty"`
	AdCopyFailed bool   `json:"ad_copy_failed"`
}

// badRequest marks form errors that are the caller's fault.
type badRequest struct {
	msg string
}

func (e *badRequest) Error() string {
	return e.msg
}

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logger := app.NewLogger(cfg)

	pipe, err := app.NewPipeline(cfg, logger)
	if err != nil {
		logger.Error("pipeline init failed", "err", err)
		os.Exit(1)
	}

	defaults, err := app.LoadDefaults(cfg)
	if err != nil {
		logger.Error("default assets", "err", err)
		os.Exit(1)
	}

	list, err := presets.Load(cfg.PresetsPath)
	if err != nil {
		logger.Error("presets load failed", "path", cfg.PresetsPath, "err", err)
		os.Exit(1)
	}
	catalog := presets.NewCatalog(list)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := presets.Watch(ctx, cfg.PresetsPath, catalog, logger); err != nil {
		logger.Warn("presets hot reload disabled", "err", err)
	}

	s := &server{
		runner:         pipe,
		catalog:        catalog,
		defaults:       defaults,
		maxUpload:      cfg.MaxUploadBytes,
		requestTimeout: cfg.RequestTimeout,
		logger:         logger,
	}

	handler, err := s.routes()
	if err != nil {
		panic(err)
	}

	srv := &http.Server{
		Addr:              cfg.WebAddr,
		Handler:           withLogging(handler, logger),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       60 * time.Second,
		WriteTimeout:      5 * time.Minute,
		IdleTimeout:       90 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	logger.Info("web started", "addr", cfg.WebAddr, "presets", len(list))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("server error", "err", err)
	}
	logger.Info("shutting down")
}

func (s *server) routes() (http.Handler, error) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/config", s.handleConfig)
	mux.HandleFunc("/api/compose", s.handleCompose)

	staticSub, err := fs.Sub(staticFS, "static")
	if err != nil {
		return nil, err
	}
	mux.Handle("/", http.FileServer(http.FS(staticSub)))
	return mux, nil
}

func (s *server) handleConfig(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeJSON(w, http.StatusMethodNotAllowed, apiError{Error: "method not allowed"})
		return
	}

	var resp configResponse
	resp.Defaults.X = s.defaults.X
	resp.Defaults.Y = s.defaults.Y
	resp.Defaults.Scale = s.defaults.Scale
	resp.Defaults.MinScale = s.defaults.MinScale
	resp.HasDefaultPin = len(s.defaults.Pin) > 0
	resp.HasDefaultAdvertiser = len(s.defaults.Advertiser) > 0
	resp.Presets = s.catalog.List()
	resp.Tones = adcopy.Tones()

	writeJSON(w, http.StatusOK, resp)
}

func (s *server) handleCompose(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSON(w, http.StatusMethodNotAllowed, apiError{Error: "method not allowed"})
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, s.maxUpload)
	if err := r.ParseMultipartForm(s.maxUpload); err != nil {
		writeJSON(w, http.StatusBadRequest, apiError{Error: "invalid multipart form"})
		return
	}

	req, err := s.parseRequest(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, apiError{Error: err.Error()})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.requestTimeout)
	defer cancel()

	res, err := s.runner.Run(ctx, req)
	if err != nil {
		status, msg := describeError(err)
		s.logger.Warn("compose failed", "status", status, "err", err)
		writeJSON(w, status, apiError{Error: msg})
		return
	}

	out := composeResponse{
		Image:        "data:image/png;base64," + base64.StdEncoding.EncodeToString(res.Image),
		Width:        res.Width,
		Height:       res.Height,
		Clipped:      res.Clipped,
		AdCopy:       res.AdCopy,
		AdCopyFailed: res.AdCopyFailed,
	}
	if res.Clipped {
		out.Warning = clippedWarning
	}

	writeJSON(w, http.StatusOK, out)
}

func (s *server) parseRequest(r *http.Request) (pipeline.Request, error) {
	req := pipeline.Request{
		Placement: compositor.Placement{X: s.defaults.X, Y: s.defaults.Y, Scale: s.defaults.Scale},
		AdCopy: adcopy.PromptOptions{
			Product: strings.TrimSpace(r.FormValue("product")),
			Tone:    strings.TrimSpace(r.FormValue("tone")),
			Custom:  strings.TrimSpace(r.FormValue("custom")),
		},
		SkipAdCopy: parseBool(r.FormValue("skip_ad_copy")),
	}

	if name := strings.TrimSpace(r.FormValue("preset")); name != "" {
		p, ok := s.catalog.Get(name)
		if !ok {
			return req, &badRequest{msg: fmt.Sprintf("unknown preset %q", name)}
		}
		req.Placement = p.Placement()
	}

	var err error
	if req.Placement.X, err = formInt(r, "x", req.Placement.X); err != nil {
		return req, err
	}
	if req.Placement.Y, err = formInt(r, "y", req.Placement.Y); err != nil {
		return req, err
	}
	if req.Placement.Scale, err = formFloat(r, "scale", req.Placement.Scale); err != nil {
		return req, err
	}

	if req.Pin, err = readUpload(r, "pin", s.defaults.Pin); err != nil {
		return req, err
	}
	if req.Advertiser, err = readUpload(r, "advertiser", s.defaults.Advertiser); err != nil {
		return req, err
	}
	return req, nil
}

func readUpload(r *http.Request, field string, fallback []byte) ([]byte, error) {
	file, _, err := r.FormFile(field)
	if errors.Is(err, http.ErrMissingFile) {
		if len(fallback) > 0 {
			return fallback, nil
		}
		return nil, &badRequest{msg: "missing " + field + " image"}
	}
	if err != nil {
		return nil, &badRequest{msg: "invalid " + field + " upload"}
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		return nil, &badRequest{msg: "failed to read " + field + " image"}
	}
	if len(data) == 0 {
		if len(fallback) > 0 {
			return fallback, nil
		}
		return nil, &badRequest{msg: "empty " + field + " image"}
	}
	return data, nil
}

func formInt(r *http.Request, key string, fallback int) (int, error) {
	raw := strings.TrimSpace(r.FormValue(key))
	if raw == "" {
		return fallback, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, &badRequest{msg: fmt.Sprintf("%s must be an integer, got %q", key, raw)}
	}
	return v, nil
}

func formFloat(r *http.Request, key string, fallback float64) (float64, error) {
	raw := strings.TrimSpace(r.FormValue(key))
	if raw == "" {
		return fallback, nil
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, &badRequest{msg: fmt.Sprintf("%s must be a number, got %q", key, raw)}
	}
	return v, nil
}

func describeError(err error) (int, string) {
	var (
		decodeErr *compositor.DecodeError
		paramErr  *compositor.InvalidParameterError
		stageErr  *pipeline.StageError
	)
	switch {
	case errors.As(err, &decodeErr):
		return http.StatusBadRequest, "could not read the " + uploadName(decodeErr.Input) + " image: " + decodeErr.Err.Error()
	case errors.As(err, &paramErr):
		return http.StatusBadRequest, paramErr.Error()
	case errors.Is(err, pipeline.ErrMissingInput):
		return http.StatusBadRequest, err.Error()
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, "request timed out"
	case errors.As(err, &stageErr):
		return http.StatusBadGateway, stageErr.Error()
	}
	return http.StatusInternalServerError, "internal error"
}

// uploadName maps compositor input names to the form field the user filled.
func uploadName(input string) string {
	switch input {
	case "background":
		return "advertiser"
	case "foreground":
		return "pin"
	}
	return input
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("content-type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func parseBool(value string) bool {
	value = strings.TrimSpace(strings.ToLower(value))
	return value == "1" || value == "true" || value == "yes" || value == "on"
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func withLogging(next http.Handler, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		logger.Info("http", "method", r.Method, "path", r.URL.Path, "status", rec.status, "dur_ms", time.Since(start).Milliseconds())
	})
}
