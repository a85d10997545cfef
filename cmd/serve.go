package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/topic-cli/internal/export"
	"github.com/sells-group/topic-cli/internal/model"
	"github.com/sells-group/topic-cli/internal/pipeline"
	"github.com/sells-group/topic-cli/internal/tasks"
)

const (
	apiKeyHeader = "X-Goog-Api-Key"
	xlsxMIME     = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API",
	Long:  "Serves analysis over HTTP. All requests share one session, so results accumulate newest first until cleared.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initPipeline("serve")
		if err != nil {
			return err
		}

		port := servePort
		if port == 0 {
			port = cfg.Server.Port
		}

		srv := &http.Server{
			Addr: fmt.Sprintf(":%d", port),
			Handler: newRouter(env.Session, routerConfig{
				DefaultKey:    cfg.Gemini.Key,
				MinBlockRunes: cfg.Pipeline.MinBlockRunes,
				MaxBodyBytes:  int64(cfg.Server.MaxBodyMB) << 20,
				CORSOrigins:   cfg.Server.CORSOrigins,
			}),
			ReadHeaderTimeout: 10 * time.Second,
		}

		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() error {
			zap.L().Info("starting server", zap.Int("port", port), zap.String("session", env.Session.ID))
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return eris.Wrap(err, "server listen")
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			zap.L().Info("shutting down server")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})

		return g.Wait()
	},
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}

// routerConfig holds the request-level settings of the HTTP API.
type routerConfig struct {
	// DefaultKey is used when a request has no X-Goog-Api-Key header.
	DefaultKey    string
	MinBlockRunes int
	MaxBodyBytes  int64
	CORSOrigins   []string
}

type server struct {
	session *pipeline.Session
	cfg     routerConfig
}

// newRouter builds the chi router for the HTTP API.
func newRouter(sess *pipeline.Session, rc routerConfig) http.Handler {
	if rc.MaxBodyBytes <= 0 {
		rc.MaxBodyBytes = 32 << 20
	}
	if len(rc.CORSOrigins) == 0 {
		rc.CORSOrigins = []string{"*"}
	}
	s := &server{session: sess, cfg: rc}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: rc.CORSOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type", apiKeyHeader},
		ExposedHeaders: []string{"Content-Disposition"},
		MaxAge:         300,
	}))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/v1", func(r chi.Router) {
		r.Post("/analyze", s.handleAnalyze)
		r.Get("/results", s.handleResults)
		r.Get("/results.xlsx", s.handleResultsXLSX)
		r.Delete("/results", s.handleClear)
		r.Get("/usage", s.handleUsage)
		r.Delete("/models", s.handleResetModels)
	})

	return r
}

type analyzeRequest struct {
	Texts          []string      `json:"texts"`
	Image          *imagePayload `json:"image,omitempty"`
	SkipGeneration bool          `json:"skip_generation"`
}

type imagePayload struct {
	MIMEType string `json:"mime_type"`
	Data     string `json:"data"`
	Label    string `json:"label,omitempty"`
}

type analyzeResponse struct {
	SessionID string            `json:"session_id"`
	Rows      []model.ResultRow `json:"rows"`
	Usage     model.TokenUsage  `json:"usage"`
	Error     string            `json:"error,omitempty"`
}

func (s *server) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	credential := strings.TrimSpace(r.Header.Get(apiKeyHeader))
	if credential == "" {
		credential = s.cfg.DefaultKey
	}
	if credential == "" {
		writeError(w, http.StatusUnauthorized, "api key is required ("+apiKeyHeader+" header)")
		return
	}

	var req analyzeRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, s.cfg.MaxBodyBytes)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	var taskList []model.Task
	for _, text := range req.Texts {
		taskList = append(taskList, tasks.FromText(text, s.cfg.MinBlockRunes)...)
	}
	if req.Image != nil {
		task, err := tasks.DecodeImage(req.Image.MIMEType, req.Image.Data, req.Image.Label)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		taskList = append(taskList, task)
	}
	if len(taskList) == 0 {
		writeError(w, http.StatusBadRequest, "no tasks: texts are empty or shorter than 5 characters")
		return
	}

	var opts []pipeline.RunOption
	if req.SkipGeneration {
		opts = append(opts, pipeline.WithSkipGeneration(true))
	}

	result, err := s.session.Analyze(r.Context(), credential, taskList, nil, opts...)
	if result == nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	resp := analyzeResponse{SessionID: s.session.ID, Rows: result.Rows, Usage: result.Usage}
	if err != nil {
		// Rows are still one per task; the error explains the halted ones.
		resp.Error = err.Error()
		zap.L().Warn("analyze request halted", zap.Error(err))
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *server) handleResults(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if err := export.WriteJSON(w, s.session.Rows()); err != nil {
		zap.L().Error("write results", zap.Error(err))
	}
}

func (s *server) handleResultsXLSX(w http.ResponseWriter, r *http.Request) {
	var buf bytes.Buffer
	if err := export.WriteXLSX(&buf, s.session.Rows()); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	name := export.DefaultFileName(time.Now())
	w.Header().Set("Content-Type", xlsxMIME)
	w.Header().Set("Content-Disposition", "attachment; filename*=UTF-8''"+url.PathEscape(name))
	_, _ = w.Write(buf.Bytes())
}

func (s *server) handleClear(w http.ResponseWriter, r *http.Request) {
	s.session.Clear()
	w.WriteHeader(http.StatusNoContent)
}

// handleResetModels drops the cached working model; the next analyze call
// runs discovery again.
func (s *server) handleResetModels(w http.ResponseWriter, r *http.Request) {
	s.session.Pipeline().Resolver().Invalidate()
	zap.L().Info("working model cache cleared")
	w.WriteHeader(http.StatusNoContent)
}

func (s *server) handleUsage(w http.ResponseWriter, r *http.Request) {
	usage, runs := s.session.Usage()
	writeJSON(w, http.StatusOK, map[string]any{
		"session_id": s.session.ID,
		"runs":       runs,
		"rows":       s.session.Len(),
		"usage":      usage,
		"models":     s.session.Pipeline().Resolver().Candidates(),
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		zap.L().Error("encode response", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// requestLogger logs one line per request with zap.
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		zap.L().Info("http request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Int("bytes", ww.BytesWritten()),
			zap.Duration("elapsed", time.Since(start)),
			zap.String("request_id", middleware.GetReqID(r.Context())),
		)
	})
}
