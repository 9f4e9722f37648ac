package routes

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-chi/chi/v5"
	"github.com/tidwall/gjson"

	"launchpad/gateway/auth"
	"launchpad/gateway/cache"
	"launchpad/gateway/creator"
	"launchpad/gateway/models"
	"launchpad/gateway/store"
	"launchpad/observability"
)

const (
	defaultPerPage = 20
	maxPerPage     = 100
	maxFieldLength = 255
)

// TokenStore is the persistence used by the token endpoints.
type TokenStore interface {
	GetToken(ctx context.Context, address string) (*models.Token, error)
	TokenVersion(ctx context.Context, address string) (time.Time, error)
	ListTokens(ctx context.Context, page, perPage int) ([]models.Token, int64, error)
	RegisterMetadata(ctx context.Context, address string, fields map[string]*string) (*models.Token, error)
	UpdateMetadata(ctx context.Context, address string, fields map[string]*string) (*models.Token, error)
	ClearMetadata(ctx context.Context, address string) error
	UnverifiedTokens(ctx context.Context, limit int) ([]string, error)
	Ping(ctx context.Context) error
}

// TokenResolver resolves and returns a token record with a verified creator.
type TokenResolver interface {
	ResolveToken(ctx context.Context, token common.Address) (*models.Token, error)
}

type tokenListResponse struct {
	Tokens      []models.Token `json:"tokens"`
	Total       int64          `json:"total"`
	Pages       int            `json:"pages"`
	CurrentPage int            `json:"current_page"`
}

type creatorResponse struct {
	Address string               `json:"address"`
	Creator string               `json:"creator"`
	Status  models.CreatorStatus `json:"status"`
}

type tokenRoutes struct {
	store    TokenStore
	resolver TokenResolver
	cache    cache.Cache
	logger   *slog.Logger
	events   interface{ RecordTokenChange(string) }
}

func (tr *tokenRoutes) mountPublic(r chi.Router) {
	r.Get("/tokens", tr.listTokens)
	r.Get("/token/{address}", tr.getToken)
	r.Get("/token/{address}/creator", tr.getCreator)
}

// mountCreator registers the routes that must sit behind both gates.
func (tr *tokenRoutes) mountCreator(r chi.Router) {
	r.Post("/token", tr.createToken)
	r.Put("/token/{address}", tr.updateToken)
	r.Delete("/token/{address}", tr.deleteToken)
}

func (tr *tokenRoutes) listTokens(w http.ResponseWriter, r *http.Request) {
	page := queryInt(r, "page", 1)
	if page < 1 {
		page = 1
	}
	perPage := queryInt(r, "per_page", defaultPerPage)
	if perPage < 1 {
		perPage = 1
	}
	if perPage > maxPerPage {
		perPage = maxPerPage
	}
	tokens, total, err := tr.store.ListTokens(r.Context(), page, perPage)
	if err != nil {
		tr.logger.Error("list tokens", "error", err)
		writeError(w, http.StatusInternalServerError, "Error listing tokens")
		return
	}
	writeJSON(w, http.StatusOK, tokenListResponse{
		Tokens:      tokens,
		Total:       total,
		Pages:       int(math.Ceil(float64(total) / float64(perPage))),
		CurrentPage: page,
	})
}

func (tr *tokenRoutes) getToken(w http.ResponseWriter, r *http.Request) {
	token, ok := pathAddress(w, r)
	if !ok {
		return
	}
	key := cache.TokenKey(token)
	if cached, hit, err := tr.cache.Get(r.Context(), key); err != nil {
		tr.logger.Warn("token cache read", "token", models.CanonicalAddress(token), "error", err)
	} else if hit {
		writeRaw(w, http.StatusOK, cached)
		return
	}

	record, err := tr.store.GetToken(r.Context(), models.CanonicalAddress(token))
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "Token not found")
		return
	}
	if err != nil {
		tr.logger.Error("load token", "token", models.CanonicalAddress(token), "error", err)
		writeError(w, http.StatusInternalServerError, "Error loading token")
		return
	}
	payload, err := json.Marshal(record)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Error loading token")
		return
	}
	if err := tr.cache.Set(r.Context(), key, payload); err != nil {
		tr.logger.Warn("token cache write", "token", record.Address, "error", err)
	} else {
		tr.confirmCached(r.Context(), key, record)
	}
	writeRaw(w, http.StatusOK, payload)
}

// confirmCached drops the entry just written when the row changed after it
// was read. Writers invalidate after committing, so whichever side runs last
// removes a stale entry.
func (tr *tokenRoutes) confirmCached(ctx context.Context, key string, record *models.Token) {
	version, err := tr.store.TokenVersion(ctx, record.Address)
	if err == nil && version.Equal(record.UpdatedAt) {
		return
	}
	if err := tr.cache.Delete(ctx, key); err != nil {
		tr.logger.Warn("token cache invalidate", "token", record.Address, "error", err)
	}
}

func (tr *tokenRoutes) getCreator(w http.ResponseWriter, r *http.Request) {
	token, ok := pathAddress(w, r)
	if !ok {
		return
	}
	record, err := tr.resolver.ResolveToken(r.Context(), token)
	if errors.Is(err, creator.ErrNotFound) {
		writeError(w, http.StatusNotFound, "Creator not found")
		return
	}
	if err != nil {
		tr.logger.Error("resolve creator", "token", models.CanonicalAddress(token), "error", err)
		writeError(w, http.StatusInternalServerError, "Error resolving token creator")
		return
	}
	writeJSON(w, http.StatusOK, creatorResponse{
		Address: record.Address,
		Creator: record.Creator,
		Status:  record.CreatorStatus,
	})
}

func (tr *tokenRoutes) createToken(w http.ResponseWriter, r *http.Request) {
	token, ok := auth.TokenFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusBadRequest, "Token address required")
		return
	}
	fields, ok := tr.metadataFields(w, r)
	if !ok {
		return
	}
	record, err := tr.store.RegisterMetadata(r.Context(), models.CanonicalAddress(token), fields)
	if errors.Is(err, store.ErrAlreadyRegistered) {
		writeError(w, http.StatusConflict, "Token already exists")
		return
	}
	if err != nil {
		tr.logger.Error("register token", "token", models.CanonicalAddress(token), "error", err)
		writeError(w, http.StatusInternalServerError, "Error creating token")
		return
	}
	tr.changed(r.Context(), token, observability.TokenRegistered)
	writeJSON(w, http.StatusCreated, record)
}

func (tr *tokenRoutes) updateToken(w http.ResponseWriter, r *http.Request) {
	token, ok := auth.TokenFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusBadRequest, "Token address required")
		return
	}
	fields, ok := tr.metadataFields(w, r)
	if !ok {
		return
	}
	record, err := tr.store.UpdateMetadata(r.Context(), models.CanonicalAddress(token), fields)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "Token not found")
		return
	}
	if err != nil {
		tr.logger.Error("update token", "token", models.CanonicalAddress(token), "error", err)
		writeError(w, http.StatusInternalServerError, "Error updating token")
		return
	}
	tr.changed(r.Context(), token, observability.TokenUpdated)
	writeJSON(w, http.StatusOK, record)
}

func (tr *tokenRoutes) deleteToken(w http.ResponseWriter, r *http.Request) {
	token, ok := auth.TokenFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusBadRequest, "Token address required")
		return
	}
	err := tr.store.ClearMetadata(r.Context(), models.CanonicalAddress(token))
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "Token not found")
		return
	}
	if err != nil {
		tr.logger.Error("delete token", "token", models.CanonicalAddress(token), "error", err)
		writeError(w, http.StatusInternalServerError, "Error deleting token")
		return
	}
	tr.changed(r.Context(), token, observability.TokenCleared)
	writeJSON(w, http.StatusOK, map[string]string{"message": "Token deleted successfully"})
}

func (tr *tokenRoutes) changed(ctx context.Context, token common.Address, kind string) {
	if err := tr.cache.Delete(ctx, cache.TokenKey(token)); err != nil {
		tr.logger.Warn("token cache invalidate", "token", models.CanonicalAddress(token), "error", err)
	}
	tr.events.RecordTokenChange(kind)
	tr.logger.Info("token metadata changed", "token", models.CanonicalAddress(token), "kind", kind)
}

// metadataFields returns the metadata keys present in the JSON body. A
// null value clears the field.
func (tr *tokenRoutes) metadataFields(w http.ResponseWriter, r *http.Request) (map[string]*string, bool) {
	var body []byte
	if r.Body != nil {
		raw, err := io.ReadAll(r.Body)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid request body")
			return nil, false
		}
		body = raw
	}
	fields := make(map[string]*string)
	if len(strings.TrimSpace(string(body))) == 0 {
		return fields, true
	}
	if !gjson.ValidBytes(body) || !gjson.ParseBytes(body).IsObject() {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return nil, false
	}
	for _, name := range store.MetadataFields {
		value := gjson.GetBytes(body, name)
		switch {
		case !value.Exists():
			continue
		case value.Type == gjson.Null:
			fields[name] = nil
		case value.Type == gjson.String:
			trimmed := strings.TrimSpace(value.String())
			if len(trimmed) > maxFieldLength {
				writeError(w, http.StatusBadRequest, "Field too long: "+name)
				return nil, false
			}
			fields[name] = &trimmed
		default:
			writeError(w, http.StatusBadRequest, "Invalid field: "+name)
			return nil, false
		}
	}
	return fields, true
}

func pathAddress(w http.ResponseWriter, r *http.Request) (common.Address, bool) {
	addr, err := models.ParseAddress(chi.URLParam(r, "address"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid token address")
		return common.Address{}, false
	}
	return addr, true
}

func queryInt(r *http.Request, name string, fallback int) int {
	raw := strings.TrimSpace(r.URL.Query().Get(name))
	if raw == "" {
		return fallback
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return value
}
