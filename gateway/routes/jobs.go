package routes

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"launchpad/gateway/creator"
	"launchpad/gateway/models"
)

const maxBackfillLimit = 1000

type backfillResponse struct {
	Attempted int `json:"attempted"`
	Resolved  int `json:"resolved"`
	NotFound  int `json:"not_found"`
	Failed    int `json:"failed"`
}

type jobRoutes struct {
	store         TokenStore
	resolver      TokenResolver
	backfillLimit int
	logger        *slog.Logger
}

func (jr *jobRoutes) mount(r chi.Router) {
	r.Post("/jobs/creators/backfill", jr.backfillCreators)
	r.Post("/jobs/tokens/{address}/resolve", jr.resolveToken)
}

// backfillCreators resolves unverified tokens sequentially, oldest first.
func (jr *jobRoutes) backfillCreators(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", jr.backfillLimit)
	if limit <= 0 {
		limit = jr.backfillLimit
	}
	if limit > maxBackfillLimit {
		limit = maxBackfillLimit
	}
	addresses, err := jr.store.UnverifiedTokens(r.Context(), limit)
	if err != nil {
		jr.logger.Error("list unverified tokens", "error", err)
		writeError(w, http.StatusInternalServerError, "Error listing tokens")
		return
	}

	var out backfillResponse
	for _, address := range addresses {
		if r.Context().Err() != nil {
			break
		}
		token, err := models.ParseAddress(address)
		if err != nil {
			out.Failed++
			continue
		}
		out.Attempted++
		_, err = jr.resolver.ResolveToken(r.Context(), token)
		switch {
		case err == nil:
			out.Resolved++
		case errors.Is(err, creator.ErrNotFound):
			out.NotFound++
		default:
			out.Failed++
			jr.logger.Error("backfill creator", "token", address, "error", err)
		}
	}
	jr.logger.Info("creator backfill finished",
		"attempted", out.Attempted,
		"resolved", out.Resolved,
		"not_found", out.NotFound,
		"failed", out.Failed,
	)
	writeJSON(w, http.StatusOK, out)
}

func (jr *jobRoutes) resolveToken(w http.ResponseWriter, r *http.Request) {
	token, ok := pathAddress(w, r)
	if !ok {
		return
	}
	record, err := jr.resolver.ResolveToken(r.Context(), token)
	if errors.Is(err, creator.ErrNotFound) {
		writeError(w, http.StatusNotFound, "Creator not found")
		return
	}
	if err != nil {
		jr.logger.Error("resolve creator job", "token", models.CanonicalAddress(token), "error", err)
		writeError(w, http.StatusInternalServerError, "Error resolving token creator")
		return
	}
	writeJSON(w, http.StatusOK, creatorResponse{
		Address: record.Address,
		Creator: record.Creator,
		Status:  record.CreatorStatus,
	})
}
