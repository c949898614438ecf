package controllers

import (
	"context"
	"net/http"

	"github.com/google/uuid"

	"github.com/foundermark/friended-backend/api/responses"
	"github.com/foundermark/friended-backend/internal/users"
	"github.com/foundermark/friended-backend/pkg/db/models"
	pkgerrors "github.com/foundermark/friended-backend/pkg/errors"
	"github.com/foundermark/friended-backend/pkg/logger"
)

type userFinder interface {
	FindByID(ctx context.Context, id uuid.UUID) (*models.User, error)
}

// Me returns the authenticated caller's own user record.
func Me(repo userFinder, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if repo == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "users repository unavailable"))
			return
		}

		uid, err := requestUserID(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		user, err := repo.FindByID(r.Context(), uid)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load user"))
			return
		}
		if user == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeNotFound, "user not found"))
			return
		}

		responses.WriteSuccess(w, users.FromModel(user))
	}
}
