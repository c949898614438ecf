package webhooks

import (
	"context"
	"encoding/json"
	"io"
	"net/http"

	"github.com/foundermark/friended-backend/api/responses"
	applewebhook "github.com/foundermark/friended-backend/internal/webhooks/apple"
	pkgerrors "github.com/foundermark/friended-backend/pkg/errors"
	"github.com/foundermark/friended-backend/pkg/logger"
)

type AppleWebhookService interface {
	HandleStatusUpdate(ctx context.Context, notification *applewebhook.StatusNotification) error
}

// AppleStatus handles App Store subscription status notifications. Apple
// sends far more fields than this system reads, so decoding is lenient.
// Apple retries on non-2xx, so dropped notifications still return success.
func AppleStatus(svc AppleWebhookService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		if svc == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "webhook service unavailable"))
			return
		}

		payload, err := io.ReadAll(r.Body)
		if err != nil {
			responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "read request body"))
			return
		}

		var notification applewebhook.StatusNotification
		if err := json.Unmarshal(payload, &notification); err != nil {
			responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid notification payload"))
			return
		}

		if err := svc.HandleStatusUpdate(ctx, &notification); err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		responses.WriteSuccess(w, nil)
	}
}
