// Package notify provides the HTTP handler for the public notification entry point.
package notify

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"notifyhub/internal/domain/entity"
	"notifyhub/internal/handler/http/respond"
	notifyUC "notifyhub/internal/usecase/notify"
)

// Notifier is the notify use case.
type Notifier interface {
	Notify(ctx context.Context, req entity.DispatchRequest) notifyUC.Result
}

// Handler accepts a dispatch request.
//
//	200 delivered inline (possibly with per-device failures, see message)
//	202 queued for the queue worker
//	400 malformed or invalid request
//	422 accepted but nothing could be delivered
type Handler struct{ Svc Notifier }

// Register registers the notify route with the given mux.
func Register(mux *http.ServeMux, svc Notifier) {
	mux.Handle("POST /notify", Handler{Svc: svc})
}

func (h Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var req entity.DispatchRequest
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			respond.SafeError(w, r, http.StatusRequestEntityTooLarge, errors.New("request body too long"))
			return
		}
		respond.SafeError(w, r, http.StatusBadRequest, errors.New("invalid JSON body"))
		return
	}

	// ジョブ由来の指定は外部から受け付けない
	if req.Source == entity.SourceJob || req.JobID != nil {
		respond.SafeError(w, r, http.StatusBadRequest, errors.New("source job is invalid for API requests"))
		return
	}
	if req.Source == "" {
		req.Source = entity.SourceExternal
	}
	if err := req.Validate(); err != nil {
		respond.SafeError(w, r, http.StatusBadRequest, err)
		return
	}

	// クライアント切断で配信と記録を途中で止めない
	res := h.Svc.Notify(context.WithoutCancel(r.Context()), req)
	switch {
	case res.Queued:
		respond.JSON(w, http.StatusAccepted, res)
	case res.IsSuccess:
		respond.JSON(w, http.StatusOK, res)
	default:
		respond.JSON(w, http.StatusUnprocessableEntity, res)
	}
}
