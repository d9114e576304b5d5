package api

import (
	"encoding/json"
	"io"
	"mime"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/hlog"
	"github.com/skip2/go-qrcode"
	"pastelink/cfg"
	"pastelink/pkg/domain"
	"pastelink/svc/util"
)

const (
	isoMillis     = "2006-01-02T15:04:05.000Z"
	defaultQRSize = 256
	minQRSize     = 128
	maxQRSize     = 1024
)

type Hdl struct {
	paste PasteStore
	cfg   *cfg.Cfg
}

type PasteResp struct {
	Content        string  `json:"content"`
	RemainingViews *int64  `json:"remaining_views"`
	ExpiresAt      *string `json:"expires_at"`
}
type StatsResp struct {
	RemainingViews *int64  `json:"remaining_views"`
	ExpiresAt      *string `json:"expires_at"`
}

func (h *Hdl) CreatePaste(w http.ResponseWriter, r *http.Request) {
	log := hlog.FromRequest(r)
	requestID := util.GetRequestID(r.Context())
	if ct := r.Header.Get("Content-Type"); ct != "" {
		mediaType, _, err := mime.ParseMediaType(ct)
		if err != nil || mediaType != "application/json" {
			log.Warn().Str("content_type", ct).Msg("invalid Content-Type header")
			writeJSON(w, http.StatusUnsupportedMediaType, domain.ErrResp{
				Error:     "expected Content-Type: application/json",
				Code:      "UNSUPPORTED_MEDIA_TYPE",
				RequestID: requestID,
			})
			return
		}
	}
	// JSON escaping can inflate content up to 6x; leave room for it.
	r.Body = http.MaxBytesReader(w, r.Body, h.cfg.MaxPasteSize*6+1024)
	var req createReq
	dec := json.NewDecoder(r.Body)
	dec.UseNumber()
	if err := dec.Decode(&req); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			log.Warn().Int64("limit", tooLarge.Limit).Msg("request body too large")
			writeErr(w, domain.ErrPasteTooLarge, requestID)
			return
		}
		if err == io.EOF {
			log.Warn().Msg("empty request body")
		} else {
			log.Warn().Err(err).Msg("invalid request body")
		}
		writeErr(w, domain.ErrInvalidRequest, requestID)
		return
	}
	if req == nil {
		log.Warn().Msg("request body is null")
		writeErr(w, domain.ErrInvalidRequest, requestID)
		return
	}
	params, details := req.validate(h.cfg.MaxPasteSize)
	if len(details) > 0 {
		log.Warn().Int("errors", len(details)).Msg("validation failed")
		resp := domain.ToResp(domain.ErrValidation)
		resp.Details = details
		resp.RequestID = requestID
		writeJSON(w, http.StatusBadRequest, resp)
		return
	}
	created, err := h.paste.Create(r.Context(), params, util.Now(r.Context()))
	if err != nil {
		log.Error().Err(err).Msg("failed to create paste")
		writeErr(w, err, requestID)
		return
	}
	log.Debug().
		Str("paste_id", created.ID).
		Str("preview", util.RedactContent(params.Content)).
		Msg("paste content stored")
	log.Info().
		Str("paste_id", created.ID).
		Bool("ttl", params.TTLSeconds != nil).
		Bool("max_views", params.MaxViews != nil).
		Msg("paste created")
	writeJSON(w, http.StatusCreated, created)
}

func (h *Hdl) GetPaste(w http.ResponseWriter, r *http.Request) {
	log := hlog.FromRequest(r)
	requestID := util.GetRequestID(r.Context())
	id := chi.URLParam(r, "id")
	rec, err := h.paste.Consume(r.Context(), id, util.Now(r.Context()))
	if err != nil {
		if !errors.Is(err, domain.ErrPasteNotFound) {
			log.Error().Err(err).Str("paste_id", id).Msg("consume failed")
		}
		writeErr(w, err, requestID)
		return
	}
	log.Info().
		Str("paste_id", id).
		Str("client_ip", util.RedactIP(r.RemoteAddr)).
		Msg("paste viewed")
	writeJSON(w, http.StatusOK, PasteResp{
		Content:        rec.Content,
		RemainingViews: rec.RemainingViews,
		ExpiresAt:      isoTime(rec.ExpiresAt()),
	})
}

func (h *Hdl) GetStats(w http.ResponseWriter, r *http.Request) {
	requestID := util.GetRequestID(r.Context())
	id := chi.URLParam(r, "id")
	rec, err := h.paste.Peek(r.Context(), id, util.Now(r.Context()))
	if err != nil {
		if !errors.Is(err, domain.ErrPasteNotFound) {
			hlog.FromRequest(r).Error().Err(err).Str("paste_id", id).Msg("peek failed")
		}
		writeErr(w, err, requestID)
		return
	}
	writeJSON(w, http.StatusOK, StatsResp{
		RemainingViews: rec.RemainingViews,
		ExpiresAt:      isoTime(rec.ExpiresAt()),
	})
}

// GetQR renders the share URL of a live paste. It peeks, so scanning
// availability never costs a view.
func (h *Hdl) GetQR(w http.ResponseWriter, r *http.Request) {
	log := hlog.FromRequest(r)
	requestID := util.GetRequestID(r.Context())
	id := chi.URLParam(r, "id")
	if _, err := h.paste.Peek(r.Context(), id, util.Now(r.Context())); err != nil {
		writeErr(w, err, requestID)
		return
	}
	size := defaultQRSize
	if v := r.URL.Query().Get("size"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			writeErr(w, domain.ErrInvalidRequest, requestID)
			return
		}
		size = min(max(n, minQRSize), maxQRSize)
	}
	png, err := qrcode.Encode(h.paste.URL(id), qrcode.Medium, size)
	if err != nil {
		log.Error().Err(err).Str("paste_id", id).Msg("qr encode failed")
		writeErr(w, domain.ErrInternalServer, requestID)
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Content-Length", strconv.Itoa(len(png)))
	w.WriteHeader(http.StatusOK)
	w.Write(png)
}

func writeErr(w http.ResponseWriter, err error, requestID string) {
	statusCode := domain.Status(err)
	resp := domain.ToResp(err)
	resp.RequestID = requestID
	if statusCode >= 500 {
		util.Error().
			Err(err).
			Str("request_id", requestID).
			Int("status", statusCode).
			Msg("request failed")
	}
	writeJSON(w, statusCode, resp)
}

func isoTime(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := t.UTC().Format(isoMillis)
	return &s
}
