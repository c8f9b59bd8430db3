package httpapi

import (
	"bytes"
	"compress/gzip"
	"net/http"
	"time"

	"github.com/dustin/go-humanize"
	log "github.com/sirupsen/logrus"

	"github.com/atlasdatatech/tileserver/internal/dispatch"
	"github.com/atlasdatatech/tileserver/internal/errs"
	"github.com/atlasdatatech/tileserver/internal/statemachine"
)

func humanizeBytes(n int) string { return humanize.Bytes(uint64(n)) }

// contentType maps a requested extension to its response Content-Type
// (spec.md §6).
func contentType(ext dispatch.Extension) string {
	switch ext {
	case dispatch.ExtPNG:
		return "image/png"
	case dispatch.ExtMVT:
		return "application/x-protobuf"
	case dispatch.ExtJSON:
		return "application/json"
	case dispatch.ExtHTML:
		return "text/html"
	default:
		return "application/octet-stream"
	}
}

// writeResponse emits the success path's headers and body (spec.md §6):
// Content-Type by extension, Pragma/Cache-Control/CORS always, and a
// gzip-compressed body with Content-Encoding for MVT responses (the
// pipeline itself never compresses — gzip is purely a wire-format
// concern of this HTTP layer).
func writeResponse(w http.ResponseWriter, req dispatch.TileRequest, resp statemachine.Response) {
	h := w.Header()
	h.Set("Content-Type", contentType(req.Extension))
	h.Set("Pragma", "public")
	h.Set("Cache-Control", "max-age=86400")
	h.Set("access-control-allow-origin", "*")

	body := resp.Data
	if req.Extension == dispatch.ExtMVT {
		if compressed, err := gzipCompress(body); err == nil {
			body = compressed
			h.Set("Content-Encoding", "deflate, gzip")
		}
	}

	// Writing the completed response gets the grace budget; a writer
	// without deadline support (e.g. a test recorder) ignores it.
	_ = http.NewResponseController(w).SetWriteDeadline(time.Now().Add(statemachine.GraceWriteDeadline))
	w.WriteHeader(http.StatusOK)
	w.Write(body)
}

func gzipCompress(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	if _, err := zw.Write(data); err != nil {
		return nil, err
	}
	if err := zw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// writeError maps a classified pipeline error to its HTTP status
// (spec.md §7's propagation policy) and logs one structured entry
// carrying the error kind.
func writeError(w http.ResponseWriter, logger *log.Entry, err error) {
	kind := errs.KindOf(err)
	status := statusFor(kind)
	logger.WithError(err).WithField("kind", kind.String()).Warn("httpapi: request failed")
	http.Error(w, err.Error(), status)
}

func statusFor(kind errs.Kind) int {
	switch kind {
	case errs.InvalidRequest:
		return http.StatusBadRequest
	case errs.NotFound:
		return http.StatusNotFound
	case errs.Timeout:
		return http.StatusRequestTimeout
	default:
		return http.StatusInternalServerError
	}
}
