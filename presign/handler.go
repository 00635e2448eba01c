package presign

import (
	"crypto/subtle"
	"errors"
	"fmt"
	"net/http"
	"reflect"
	"sort"
	"strings"
	"time"

	"github.com/artist-submissions/go-uploadkit/uploadapi"
	"github.com/artist-submissions/go-uploadkit/validation"
	"github.com/bitrise-io/go-utils/v2/log"
	"github.com/docker/go-units"
	"github.com/go-chi/chi"
	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/render"
	"github.com/go-playground/validator/v10"
	"github.com/samber/lo"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// Options configures the Handler.
type Options struct {
	KeyPrefix string
	// AccessToken, when set, is required as a bearer token on every request.
	AccessToken  string
	MaxFileSize  int64
	AllowedTypes []string
	Now          func() time.Time
}

// Handler serves the four upload URL operations.
type Handler struct {
	store   Store
	opts    Options
	metrics *Metrics
	logger  log.Logger
	router  chi.Router
}

// NewHandler ...
func NewHandler(store Store, opts Options, metrics *Metrics, logger log.Logger) *Handler {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	opts.KeyPrefix = strings.Trim(opts.KeyPrefix, "/")

	h := &Handler{
		store:   store,
		opts:    opts,
		metrics: metrics,
		logger:  logger,
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(h.authenticate)
	r.Post(uploadapi.DirectPath, h.direct)
	r.Post(uploadapi.MultipartPath, h.initiate)
	r.Post(uploadapi.MultipartPartPath, h.part)
	r.Post(uploadapi.MultipartCompletePath, h.complete)
	h.router = r

	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.router.ServeHTTP(w, r)
}

func (h *Handler) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if h.opts.AccessToken != "" {
			expected := "Bearer " + h.opts.AccessToken
			if subtle.ConstantTimeCompare([]byte(r.Header.Get("Authorization")), []byte(expected)) != 1 {
				render.Status(r, http.StatusUnauthorized)
				render.JSON(w, r, uploadapi.ErrorResponse{Message: "unauthorized"})
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}

func (h *Handler) direct(w http.ResponseWriter, r *http.Request) {
	var req uploadapi.FileRequest
	if !h.decode(w, r, opDirect, &req) || !h.admit(w, r, opDirect, req) {
		return
	}

	key := NewStorageKey(h.opts.KeyPrefix, req.FileName, h.opts.Now())
	url, err := h.store.PresignPut(r.Context(), key)
	if err != nil {
		h.storeFailure(w, r, opDirect, err)
		return
	}

	h.logger.Debugf("Signed direct upload for %s (%s)", key, units.BytesSize(float64(req.Size)))
	h.respond(w, r, opDirect, http.StatusOK, uploadapi.DirectResponse{URL: url, Key: key})
}

func (h *Handler) initiate(w http.ResponseWriter, r *http.Request) {
	var req uploadapi.FileRequest
	if !h.decode(w, r, opInitiate, &req) || !h.admit(w, r, opInitiate, req) {
		return
	}

	key := NewStorageKey(h.opts.KeyPrefix, req.FileName, h.opts.Now())
	uploadID, err := h.store.CreateMultipart(r.Context(), key, req.MimeType)
	if err != nil {
		h.storeFailure(w, r, opInitiate, err)
		return
	}

	h.logger.Debugf("Started multipart upload %s for %s", uploadID, key)
	h.respond(w, r, opInitiate, http.StatusOK, uploadapi.InitiateResponse{UploadID: uploadID, Key: key})
}

func (h *Handler) part(w http.ResponseWriter, r *http.Request) {
	var req uploadapi.PartRequest
	if !h.decode(w, r, opPart, &req) || !h.ownKey(w, r, opPart, req.Key) {
		return
	}

	url, err := h.store.PresignPart(r.Context(), req.Key, req.UploadID, req.PartNumber)
	if err != nil {
		h.storeFailure(w, r, opPart, err)
		return
	}

	h.respond(w, r, opPart, http.StatusOK, uploadapi.PartResponse{URL: url})
}

func (h *Handler) complete(w http.ResponseWriter, r *http.Request) {
	var req uploadapi.CompleteRequest
	if !h.decode(w, r, opComplete, &req) || !h.ownKey(w, r, opComplete, req.Key) {
		return
	}

	unique := lo.UniqBy(req.Parts, func(p uploadapi.CompletedPart) int { return p.PartNumber })
	if len(unique) != len(req.Parts) {
		h.fail(w, r, opComplete, http.StatusBadRequest, "duplicate part numbers")
		return
	}
	parts := append([]uploadapi.CompletedPart(nil), req.Parts...)
	sort.Slice(parts, func(i, j int) bool { return parts[i].PartNumber < parts[j].PartNumber })

	location, err := h.store.CompleteMultipart(r.Context(), req.Key, req.UploadID, parts)
	if err != nil {
		h.storeFailure(w, r, opComplete, err)
		return
	}

	h.logger.Infof("Completed %s from %d part(s)", req.Key, len(parts))
	h.respond(w, r, opComplete, http.StatusOK, uploadapi.CompleteResponse{Key: req.Key, Location: location})
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, op string, v interface{}) bool {
	if err := render.DecodeJSON(r.Body, v); err != nil {
		h.fail(w, r, op, http.StatusBadRequest, fmt.Sprintf("invalid request body: %s", err))
		return false
	}
	if err := validate.Struct(v); err != nil {
		h.fail(w, r, op, http.StatusBadRequest, invalidMessage(err))
		return false
	}
	return true
}

func (h *Handler) admit(w http.ResponseWriter, r *http.Request, op string, req uploadapi.FileRequest) bool {
	if h.opts.MaxFileSize > 0 && req.Size > h.opts.MaxFileSize {
		h.fail(w, r, op, http.StatusRequestEntityTooLarge,
			fmt.Sprintf("%s exceeds the %s limit", req.FileName, units.BytesSize(float64(h.opts.MaxFileSize))))
		return false
	}
	if !validation.MatchesType(h.opts.AllowedTypes, req.MimeType) {
		h.fail(w, r, op, http.StatusUnsupportedMediaType, fmt.Sprintf("file type %q is not allowed", req.MimeType))
		return false
	}
	return true
}

func (h *Handler) ownKey(w http.ResponseWriter, r *http.Request, op, key string) bool {
	if !ownsKey(h.opts.KeyPrefix, key) {
		h.fail(w, r, op, http.StatusBadRequest, "key is outside of the upload area")
		return false
	}
	return true
}

func (h *Handler) storeFailure(w http.ResponseWriter, r *http.Request, op string, err error) {
	if errors.Is(err, ErrSessionNotFound) {
		h.fail(w, r, op, http.StatusNotFound, "upload session not found")
		return
	}

	h.logger.Errorf("%s: %s", op, err)
	code := "Unknown"
	var storeErr *StoreError
	if errors.As(err, &storeErr) {
		code = storeErr.Code
	}
	h.fail(w, r, op, http.StatusBadGateway, fmt.Sprintf("object store error: %s", code))
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, op string, status int, message string) {
	h.logger.Debugf("%s rejected (%d): %s", op, status, message)
	h.respond(w, r, op, status, uploadapi.ErrorResponse{Message: message})
}

func (h *Handler) respond(w http.ResponseWriter, r *http.Request, op string, status int, body interface{}) {
	h.metrics.observe(op, outcome(status))
	render.Status(r, status)
	render.JSON(w, r, body)
}

func outcome(status int) string {
	switch {
	case status < 300:
		return "ok"
	case status == http.StatusNotFound:
		return "not_found"
	case status < 500:
		return "rejected"
	default:
		return "error"
	}
}

func invalidMessage(err error) string {
	var errs validator.ValidationErrors
	if !errors.As(err, &errs) || len(errs) == 0 {
		return err.Error()
	}
	fe := errs[0]
	if fe.Param() != "" {
		return fmt.Sprintf("invalid request: %s must satisfy %s=%s", fe.Field(), fe.Tag(), fe.Param())
	}
	return fmt.Sprintf("invalid request: %s is %s", fe.Field(), fe.Tag())
}
