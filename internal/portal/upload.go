package portal

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/muurk/remoteupdate/internal/firmware"
	"github.com/muurk/remoteupdate/internal/logging"
	"github.com/muurk/remoteupdate/internal/updater"
)

const (
	// FirmwareField is the multipart form field carrying the image.
	FirmwareField = "firmware"

	// SourcePortal tags images staged through the upload page.
	SourcePortal = "portal"

	authRealm = "remoteupdate"
)

// HandlerMounter is implemented by servers that accept a replacement handler.
type HandlerMounter interface {
	SetHandler(h http.Handler)
}

// UploadHandler serves the firmware upload page and stages uploaded images.
type UploadHandler struct {
	store *firmware.Store
	debug bool

	// OnStaged, if set, is called on the serving goroutine after an image was
	// staged. Hosts use it to schedule the reboot into the new image.
	OnStaged func(img *firmware.Image)
}

// NewUploadHandler creates an upload handler staging into store.
func NewUploadHandler(store *firmware.Store, debug bool) *UploadHandler {
	return &UploadHandler{store: store, debug: debug}
}

// Attach mounts the upload routes on srv under basePath. Basic auth is
// required when username or password is non-empty. Attaching again replaces
// the previous routes.
func (u *UploadHandler) Attach(srv updater.WebServer, basePath, username, password string) error {
	m, ok := srv.(HandlerMounter)
	if !ok {
		return fmt.Errorf("portal: server %T cannot mount handlers", srv)
	}
	m.SetHandler(u.Router(basePath, username, password))
	return nil
}

// Router builds the HTTP routes of the upload page.
func (u *UploadHandler) Router(basePath, username, password string) http.Handler {
	basePath = normalizeBasePath(basePath)

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(requestLogger)

	r.Group(func(r chi.Router) {
		if username != "" || password != "" {
			r.Use(middleware.BasicAuth(authRealm, map[string]string{username: password}))
		}
		r.Get(basePath, u.servePage(basePath))
		r.Post(basePath, u.handleUpload(basePath))
	})

	return r
}

func (u *UploadHandler) servePage(basePath string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		renderPage(w, http.StatusOK, pageData{Action: basePath})
	}
}

func (u *UploadHandler) handleUpload(basePath string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		img, err := u.stageFromRequest(r)
		if err != nil {
			status := http.StatusInternalServerError
			switch {
			case errors.Is(err, errNoFirmwareField), errors.Is(err, firmware.ErrEmptyImage):
				status = http.StatusBadRequest
			case errors.Is(err, firmware.ErrImageTooLarge):
				status = http.StatusRequestEntityTooLarge
			}

			logging.Warn("Firmware upload failed",
				zap.String("remote_addr", r.RemoteAddr),
				zap.Error(err),
			)
			renderPage(w, status, pageData{Action: basePath, Error: err.Error()})
			return
		}

		logging.LogFirmwareStaged(SourcePortal, img.Name, img.SizeBytes, img.SHA256)
		renderPage(w, http.StatusOK, pageData{Action: basePath, Staged: img})

		if u.OnStaged != nil {
			u.OnStaged(img)
		}
	}
}

var errNoFirmwareField = errors.New("request has no firmware file")

func (u *UploadHandler) stageFromRequest(r *http.Request) (*firmware.Image, error) {
	mr, err := r.MultipartReader()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errNoFirmwareField, err)
	}

	for {
		part, err := mr.NextPart()
		if err == io.EOF {
			return nil, errNoFirmwareField
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read upload: %w", err)
		}

		if part.FormName() != FirmwareField {
			_ = part.Close()
			continue
		}

		if u.debug {
			logging.Debug("Receiving firmware upload",
				zap.String("remote_addr", r.RemoteAddr),
				zap.String("file", part.FileName()),
			)
		}
		img, err := u.store.Stage(SourcePortal, part.FileName(), part, "")
		_ = part.Close()
		return img, err
	}
}

func normalizeBasePath(p string) string {
	if p == "" {
		return updater.DefaultBasePath
	}
	if !strings.HasPrefix(p, "/") {
		return "/" + p
	}
	return p
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		logging.LogHTTPRequest(r.RemoteAddr, r.Method, r.URL.Path, ww.Status())
	})
}
