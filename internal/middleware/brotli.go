package middleware

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/andybalholm/brotli"
	"github.com/gin-gonic/gin"
)

// BrotliConfig tunes response compression.
type BrotliConfig struct {
	Quality int
	// MinLength is the body size below which responses go out uncompressed.
	MinLength int
	// SkipPaths are route prefixes never compressed.
	SkipPaths []string
}

// DefaultBrotliConfig suits JSON admin responses.
var DefaultBrotliConfig = BrotliConfig{
	Quality:   brotli.DefaultCompression,
	MinLength: 1024,
	SkipPaths: []string{"/ws/", "/health"},
}

// brotliWriter holds the body until MinLength is reached, then switches to
// compressed output for the rest of the response.
type brotliWriter struct {
	gin.ResponseWriter
	enc       *brotli.Writer
	quality   int
	minLength int
	pending   []byte
}

func (w *brotliWriter) Write(data []byte) (int, error) {
	if w.enc != nil {
		return w.enc.Write(data)
	}
	w.pending = append(w.pending, data...)
	if len(w.pending) < w.minLength {
		return len(data), nil
	}

	h := w.ResponseWriter.Header()
	h.Set("Content-Encoding", "br")
	h.Del("Content-Length")
	w.enc = brotli.NewWriterLevel(w.ResponseWriter, w.quality)
	if _, err := w.enc.Write(w.pending); err != nil {
		return 0, err
	}
	w.pending = nil
	return len(data), nil
}

func (w *brotliWriter) WriteString(s string) (int, error) {
	return w.Write([]byte(s))
}

// finish writes a short body as is, or closes the encoder.
func (w *brotliWriter) finish() error {
	if w.enc != nil {
		return w.enc.Close()
	}
	if len(w.pending) == 0 {
		return nil
	}
	_, err := w.ResponseWriter.Write(w.pending)
	w.pending = nil
	return err
}

// Brotli compresses responses for clients that accept "br".
func Brotli() gin.HandlerFunc {
	return BrotliWithConfig(DefaultBrotliConfig)
}

// BrotliWithConfig is Brotli with explicit settings.
func BrotliWithConfig(cfg BrotliConfig) gin.HandlerFunc {
	if cfg.Quality < brotli.BestSpeed || cfg.Quality > brotli.BestCompression {
		cfg.Quality = brotli.DefaultCompression
	}
	if cfg.MinLength <= 0 {
		cfg.MinLength = DefaultBrotliConfig.MinLength
	}

	return func(c *gin.Context) {
		if skipCompression(c, cfg.SkipPaths) || !acceptsBrotli(c.Request) {
			c.Next()
			return
		}

		c.Header("Vary", "Accept-Encoding")
		bw := &brotliWriter{
			ResponseWriter: c.Writer,
			quality:        cfg.Quality,
			minLength:      cfg.MinLength,
		}
		c.Writer = bw
		defer func() {
			if err := bw.finish(); err != nil {
				_ = c.Error(err)
			}
		}()
		c.Next()
	}
}

func skipCompression(c *gin.Context, paths []string) bool {
	// A wrapped writer breaks the upgrade handshake.
	if strings.EqualFold(c.GetHeader("Upgrade"), "websocket") {
		return true
	}
	for _, p := range paths {
		if strings.HasPrefix(c.Request.URL.Path, p) {
			return true
		}
	}
	return false
}

func acceptsBrotli(r *http.Request) bool {
	for _, enc := range strings.Split(r.Header.Get("Accept-Encoding"), ",") {
		name, params, _ := strings.Cut(strings.TrimSpace(enc), ";")
		if !strings.EqualFold(strings.TrimSpace(name), "br") {
			continue
		}
		for _, p := range strings.Split(params, ";") {
			k, v, ok := strings.Cut(strings.TrimSpace(p), "=")
			if ok && strings.EqualFold(k, "q") {
				if q, err := strconv.ParseFloat(v, 64); err == nil && q == 0 {
					return false
				}
			}
		}
		return true
	}
	return false
}
