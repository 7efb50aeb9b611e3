// Package proxy exposes the background removal API to browser clients that
// cannot hold the API key themselves.
package proxy

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/kataras/iris/v12"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/jimmitjoo/bgerase/services/backgrounderase"
)

const (
	DefaultAddr    = ":3001"
	DefaultSaveDir = "saved"

	fallbackFileName = "input.jpg"
)

var DefaultAllowedOrigins = []string{"http://localhost:8601", "http://127.0.0.1:8601"}

type Config struct {
	APIKey string
	// SaveDir keeps a copy of every result. Empty disables it.
	SaveDir        string
	AllowedOrigins []string
}

type Server struct {
	app     *iris.Application
	client  *backgrounderase.Client
	cfg     Config
	metrics *metrics
	now     func() time.Time
}

func New(client *backgrounderase.Client, cfg Config) (*Server, error) {
	if cfg.APIKey == "" {
		return nil, &backgrounderase.PreconditionError{Err: backgrounderase.ErrMissingAPIKey}
	}

	reg := prometheus.NewRegistry()
	s := &Server{
		app:     iris.New(),
		client:  client,
		cfg:     cfg,
		metrics: newMetrics(reg),
		now:     time.Now,
	}
	s.app.Logger().SetLevel("disable")

	s.app.UseRouter(s.logRequest, s.cors)
	s.app.Get("/ping", s.ping)
	s.app.Post("/erase", s.erase)
	s.app.Get("/metrics", iris.FromStd(promhttp.HandlerFor(reg, promhttp.HandlerOpts{})))

	if err := s.app.Build(); err != nil {
		return nil, fmt.Errorf("build router: %w", err)
	}
	return s, nil
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.app.ServeHTTP(w, r)
}

// Listen serves until the listener fails.
func (s *Server) Listen(addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s,
		ReadHeaderTimeout: 10 * time.Second,
	}
	logrus.Infof("Proxy on http://localhost%s/erase", addr)
	return srv.ListenAndServe()
}

func (s *Server) logRequest(ctx iris.Context) {
	logrus.WithFields(logrus.Fields{
		"method": ctx.Method(),
		"path":   ctx.Path(),
	}).Info("request")
	ctx.Next()
}

func (s *Server) cors(ctx iris.Context) {
	if origin := ctx.GetHeader("Origin"); origin != "" && s.originAllowed(origin) {
		ctx.Header("Access-Control-Allow-Origin", origin)
		ctx.Header("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		ctx.Header("Access-Control-Allow-Headers", "Content-Type")
		ctx.Header("Vary", "Origin")
	}
	if ctx.Method() == http.MethodOptions {
		ctx.StatusCode(http.StatusNoContent)
		return
	}
	ctx.Next()
}

func (s *Server) originAllowed(origin string) bool {
	for _, o := range s.cfg.AllowedOrigins {
		if o == "*" || strings.EqualFold(o, origin) {
			return true
		}
	}
	return false
}

func (s *Server) ping(ctx iris.Context) {
	_ = ctx.JSON(iris.Map{"ok": true})
}

func (s *Server) erase(ctx iris.Context) {
	file, header, err := ctx.FormFile("image_file")
	if err != nil {
		s.metrics.requests.WithLabelValues(outcomeBadRequest).Inc()
		ctx.StatusCode(http.StatusBadRequest)
		_, _ = ctx.WriteString("image_file required")
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		s.fail(ctx, err)
		return
	}

	img := backgrounderase.Image{
		FileName:    header.Filename,
		ContentType: header.Header.Get("Content-Type"),
		Data:        data,
	}
	if img.FileName == "" {
		img.FileName = fallbackFileName
	}
	if img.ContentType == "" {
		img.ContentType = "application/octet-stream"
	}

	start := time.Now()
	result, err := s.client.Remove(ctx.Request().Context(), img, s.cfg.APIKey)
	s.metrics.upstream.Observe(time.Since(start).Seconds())

	var serverErr *backgrounderase.ServerError
	if errors.As(err, &serverErr) {
		s.metrics.requests.WithLabelValues(outcomeUpstreamError).Inc()
		logrus.Warnf("upstream returned %d", serverErr.StatusCode)
		ctx.StatusCode(serverErr.StatusCode)
		_, _ = ctx.WriteString(string(serverErr.Body))
		return
	}
	if err != nil {
		s.fail(ctx, err)
		return
	}

	if s.cfg.SaveDir != "" {
		out, err := s.saveCopy(img.FileName, result)
		if err != nil {
			s.fail(ctx, err)
			return
		}
		logrus.WithField("size", humanize.Bytes(uint64(len(result)))).Infof("Saved copy to %s", out)
	}

	s.metrics.requests.WithLabelValues(outcomeOK).Inc()
	ctx.Header("Content-Type", "image/png")
	_, _ = ctx.Write(result)
}

func (s *Server) fail(ctx iris.Context, err error) {
	s.metrics.requests.WithLabelValues(outcomeFailed).Inc()
	logrus.Error(err)
	ctx.StatusCode(http.StatusInternalServerError)
	_, _ = ctx.WriteString(err.Error())
}

var (
	extPattern     = regexp.MustCompile(`\.[^.]+$`)
	nonWordPattern = regexp.MustCompile(`\W+`)
)

// SafeBase turns an upload filename into something usable inside a local
// file name: extension stripped, runs of non-word characters collapsed to _.
func SafeBase(filename string) string {
	base := extPattern.ReplaceAllString(filename, "")
	safe := nonWordPattern.ReplaceAllString(base, "_")
	if safe == "" {
		return "image"
	}
	return safe
}

func (s *Server) saveCopy(filename string, data []byte) (string, error) {
	if err := os.MkdirAll(s.cfg.SaveDir, 0o755); err != nil {
		return "", err
	}
	out := filepath.Join(s.cfg.SaveDir, fmt.Sprintf("%d_%s.png", s.now().UnixMilli(), SafeBase(filename)))
	if err := os.WriteFile(out, data, 0o644); err != nil {
		return "", err
	}
	return out, nil
}
