package api

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"recipe-api/internal/models"
	"recipe-api/internal/recipes"
)

// Pinger is a dependency whose reachability is reported by Health.
type Pinger interface {
	Ping(ctx context.Context) error
}

// PingerFunc adapts a function to Pinger.
type PingerFunc func(ctx context.Context) error

func (f PingerFunc) Ping(ctx context.Context) error {
	return f(ctx)
}

type Handler struct {
	Recipes *recipes.Service
	// Probes are optional dependencies reported by Health, keyed by component
	// name. A failing probe degrades the service without making it
	// unavailable.
	Probes map[string]Pinger
}

func NewHandler(service *recipes.Service) *Handler {
	return &Handler{Recipes: service}
}

// Health reports datastore reachability.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		WriteMethodNotAllowed(w, r, http.MethodGet, http.MethodHead)
		return
	}
	components, status, code := h.componentHealth(r.Context())
	writeJSON(w, code, map[string]interface{}{
		"status":     status,
		"components": components,
	})
}

// RecipesCollection serves the collection: GET lists, POST adds one recipe.
func (h *Handler) RecipesCollection(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		writeResult(w, h.Recipes.GetManyFromQuery(r.Context(), r.URL.Query()))
	case http.MethodPost:
		var recipe models.Recipe
		if err := decodeBody(r, &recipe); err != nil {
			writeResult(w, h.Recipes.Reject(r.Context(), recipes.OperationAddOne, err))
			return
		}
		writeResult(w, h.Recipes.AddOne(r.Context(), recipe))
	default:
		WriteMethodNotAllowed(w, r, http.MethodGet, http.MethodPost)
	}
}

// RecipesBulk adds an ordered batch of recipes.
func (h *Handler) RecipesBulk(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		WriteMethodNotAllowed(w, r, http.MethodPost)
		return
	}
	var batch []models.Recipe
	if err := decodeBody(r, &batch); err != nil {
		writeResult(w, h.Recipes.Reject(r.Context(), recipes.OperationAddMany, err))
		return
	}
	writeResult(w, h.Recipes.AddMany(r.Context(), batch))
}

func (h *Handler) RecipeByID(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/api/recipes/")
	parts := strings.Split(path, "/")
	for len(parts) > 1 && parts[len(parts)-1] == "" {
		parts = parts[:len(parts)-1]
	}
	if len(parts) > 1 {
		WriteError(w, http.StatusNotFound, fmt.Errorf("unknown recipe resource %q", path))
		return
	}
	recipeID := parts[0]

	switch r.Method {
	case http.MethodGet:
		writeResult(w, h.Recipes.GetOne(r.Context(), recipeID))
	case http.MethodPut:
		var recipe models.Recipe
		if err := decodeBody(r, &recipe); err != nil {
			writeResult(w, h.Recipes.Reject(r.Context(), recipes.OperationUpdateOne, err))
			return
		}
		writeResult(w, h.Recipes.UpdateOne(r.Context(), recipeID, recipe))
	case http.MethodDelete:
		writeResult(w, h.Recipes.DeleteOne(r.Context(), recipeID))
	default:
		WriteMethodNotAllowed(w, r, http.MethodGet, http.MethodPut, http.MethodDelete)
	}
}
