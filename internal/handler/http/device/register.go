package device

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"notifyhub/internal/domain/entity"
	"notifyhub/internal/handler/http/respond"
	"notifyhub/internal/observability/logging"
	regUC "notifyhub/internal/usecase/registration"
)

// Registrar is the device registration use case.
type Registrar interface {
	Register(ctx context.Context, in regUC.Input) (*entity.Device, error)
}

// RegisterHandler registers (or re-registers) a device.
type RegisterHandler struct{ Svc Registrar }

// Register registers the device routes with the given mux.
func Register(mux *http.ServeMux, svc Registrar) {
	mux.Handle("POST /devices", RegisterHandler{Svc: svc})
}

// ServeHTTP デバイス登録
// 同じ (tenantId, externalId) の有効なデバイスは無効化され、新しいレコードが有効になる
func (h RegisterHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var in regUC.Input
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		respond.SafeError(w, r, http.StatusBadRequest, errors.New("invalid JSON body"))
		return
	}

	d, err := h.Svc.Register(r.Context(), in)
	if err != nil {
		if errors.Is(err, entity.ErrValidationFailed) {
			respond.SafeError(w, r, http.StatusBadRequest, err)
			return
		}
		logging.FromContext(r.Context()).Error("device registration failed",
			slog.String("tenant_id", in.TenantID),
			slog.String("error", respond.SanitizeError(err)))
		respond.Error(w, r, http.StatusInternalServerError, respond.InternalErrorMessage)
		return
	}
	respond.JSON(w, http.StatusCreated, toDTO(d))
}
