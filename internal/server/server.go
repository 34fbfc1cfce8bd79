// Package server exposes the enrichment pipeline over HTTP.
//
// POST /upload_file accepts a multipart form with a "file" part and optional
// "columns" (source override) and "new_columns" (targets) fields, both comma
// separated. Enriched tables come back as a CSV attachment; everything else is a
// small JSON envelope.
package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/palantir/palantir-compute-module-column-enricher/internal/enrich"
	"github.com/palantir/palantir-compute-module-column-enricher/internal/pipeline"
	"github.com/palantir/palantir-compute-module-column-enricher/pkg/pipeline/core"
	"github.com/palantir/palantir-compute-module-column-enricher/pkg/pipeline/redact"
	"github.com/palantir/palantir-compute-module-column-enricher/pkg/pipeline/table"
)

const (
	// OutcomeHeader carries the run outcome on CSV replies.
	OutcomeHeader = "X-Enrichment-Outcome"

	maxFieldBytes = 64 << 10

	// NoChangeMessage explains a no_change outcome to callers.
	NoChangeMessage = "CSV processed successfully, but no new values could be generated."

	internalErrorMessage = "We couldn't process this file due to an internal error. Please try again."
	parseErrorMessage    = "The AI service returned a reply that is not valid JSON. Try a smaller batch size or simpler column names."
	shapeErrorMessage    = "The AI service returned JSON in an unexpected shape. Try a smaller batch size or simpler column names."
	serviceErrorMessage  = "The AI service is unavailable right now. Please try again later."
	invalidUploadMessage = "Invalid upload: expected a multipart/form-data body."
)

// Server handles uploads with a fixed generator and pipeline options.
type Server struct {
	gen     core.Generator
	opts    pipeline.Options
	origins map[string]struct{}
	logger  *zap.Logger
}

// New builds a Server. opts.Logger is ignored; each request gets a child of logger
// tagged with its run id.
func New(gen core.Generator, opts pipeline.Options, corsOrigins []string, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	origins := make(map[string]struct{}, len(corsOrigins))
	for _, o := range corsOrigins {
		origins[o] = struct{}{}
	}
	return &Server{gen: gen, opts: opts, origins: origins, logger: logger}
}

// Handler returns the routed handler wrapped in the CORS policy.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /{$}", s.handleRoot)
	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.HandleFunc("POST /upload_file", s.handleUpload)
	return s.cors(mux)
}

// Serve runs an http.Server on addr until ctx is cancelled, then shuts it down.
func (s *Server) Serve(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("http server listening", zap.String("addr", addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown http server: %w", err)
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	s.logger.Info("http server stopped")
	return nil
}

func (s *Server) handleRoot(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"message": "Upload your CSV at /upload_file to get it enriched.",
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type upload struct {
	file    []byte
	hasFile bool
	columns string
	targets string
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	runID := uuid.NewString()
	logger := s.logger.With(zap.String("run", runID))

	up, err := s.readUpload(r)
	if err != nil {
		logger.Info("rejected upload", zap.String("error", redact.Secrets(err.Error())))
		msg := invalidUploadMessage
		if errors.Is(err, errFieldTooLong) {
			msg = "Invalid upload: " + errFieldTooLong.Error()
		}
		writeJSON(w, http.StatusBadRequest, Envelope{Status: "error", Message: msg})
		return
	}
	if !up.hasFile {
		writeJSON(w, http.StatusBadRequest, Envelope{Status: "error", Message: `a "file" part is required`})
		return
	}

	opts := s.opts
	opts.Logger = logger
	start := time.Now()
	res, err := pipeline.Run(r.Context(), pipeline.Request{
		Input:         up.file,
		SourceColumns: table.ParseColumnList(up.columns),
		TargetColumns: pipeline.ParseTargetColumns(up.targets),
	}, enrich.Traced(s.gen, logger, s.opts.RequestTimeout), opts)
	if err != nil {
		s.writeRunError(w, logger, err)
		return
	}
	logger.Info("upload processed",
		zap.String("outcome", string(res.Outcome)),
		zap.Duration("duration", time.Since(start).Round(time.Millisecond)),
	)

	if res.Outcome == core.OutcomeNoChange {
		writeJSON(w, http.StatusOK, Envelope{Status: string(core.OutcomeNoChange), Message: NoChangeMessage})
		return
	}

	var buf bytes.Buffer
	if err := res.Table.WriteCSV(&buf); err != nil {
		s.writeRunError(w, logger, fmt.Errorf("write csv: %w", err))
		return
	}
	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", "attachment; filename=updated.csv")
	w.Header().Set(OutcomeHeader, string(res.Outcome))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(buf.Bytes())
}

// readUpload streams the multipart body. The file part is read up to one byte past
// the configured limit so the loader can report the oversize.
func (s *Server) readUpload(r *http.Request) (upload, error) {
	var up upload
	mr, err := r.MultipartReader()
	if err != nil {
		return up, err
	}
	for {
		part, err := mr.NextPart()
		// A bare io.EOF follows the final boundary; a wrapped one means the body was cut short.
		if err == io.EOF {
			return up, nil
		}
		if err != nil {
			return up, err
		}
		switch part.FormName() {
		case "file":
			var src io.Reader = part
			if s.opts.MaxBytes > 0 {
				src = io.LimitReader(part, s.opts.MaxBytes+1)
			}
			up.file, err = io.ReadAll(src)
			up.hasFile = true
		case "columns":
			up.columns, err = readField(part)
		case "new_columns":
			up.targets, err = readField(part)
		}
		_ = part.Close()
		if err != nil {
			return up, err
		}
	}
}

func readField(r io.Reader) (string, error) {
	b, err := io.ReadAll(io.LimitReader(r, maxFieldBytes+1))
	if err != nil {
		return "", err
	}
	if len(b) > maxFieldBytes {
		return "", errFieldTooLong
	}
	return string(b), nil
}

var errFieldTooLong = fmt.Errorf("form field exceeds %d bytes", maxFieldBytes)

// Envelope is the JSON body of every non-CSV reply.
type Envelope struct {
	Status  string `json:"status"`
	Detail  string `json:"detail,omitempty"`
	Message string `json:"message"`
}

func (s *Server) writeRunError(w http.ResponseWriter, logger *zap.Logger, err error) {
	status, body := ErrorResponse(err)
	fields := []zap.Field{zap.Int("status", status), zap.String("error", redact.Secrets(err.Error()))}
	if status >= http.StatusInternalServerError {
		logger.Error("upload failed", fields...)
	} else {
		logger.Info("upload rejected", fields...)
	}
	writeJSON(w, status, body)
}

// ErrorResponse maps a pipeline failure to an HTTP status and a caller-safe
// Envelope. Unclassified failures get a generic message.
func ErrorResponse(err error) (int, Envelope) {
	var pe *core.Error
	if !errors.As(err, &pe) {
		return http.StatusInternalServerError, Envelope{Status: "error", Message: internalErrorMessage}
	}
	switch {
	case pe.Kind == core.KindPayloadTooLarge:
		return http.StatusRequestEntityTooLarge, Envelope{Status: "error", Message: inputMessage(pe)}
	case pe.Kind.IsInputError():
		return http.StatusBadRequest, Envelope{Status: "error", Message: inputMessage(pe)}
	case pe.Kind == core.KindResponseParse:
		return http.StatusBadGateway, Envelope{Status: "error", Detail: "AI response format error", Message: parseErrorMessage}
	case pe.Kind == core.KindResponseShape:
		return http.StatusBadGateway, Envelope{Status: "error", Detail: "AI response format error", Message: shapeErrorMessage}
	case pe.Kind == core.KindServiceUnavailable:
		return http.StatusServiceUnavailable, Envelope{Status: "error", Message: serviceErrorMessage}
	}
	return http.StatusInternalServerError, Envelope{Status: "error", Message: internalErrorMessage}
}

// inputMessage describes a validation failure. The wrapped cause is omitted so
// parser internals never reach the caller.
func inputMessage(e *core.Error) string {
	msg := e.Msg
	if msg == "" {
		msg = strings.ReplaceAll(string(e.Kind), "_", " ")
	}
	if len(e.Columns) > 0 {
		msg += ": " + strings.Join(e.Columns, ", ")
	}
	return msg
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
