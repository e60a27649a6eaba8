package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"recipe-api/internal/models"
	"recipe-api/internal/recipes"
	"recipe-api/internal/storage"
)

const recipeJSON = `{
	"cookingTimeInMinutes": 12,
	"created": "2020-09-11T12:21:21+00:00",
	"lastModified": "2020-09-11T12:21:21+00:00",
	"ingredients": [
		{"id": "0", "amount": 200, "title": "Wheat", "measurementUnit": "Kilogramm"},
		{"id": "1", "amount": 3000, "title": "Milk", "measurementUnit": "Milliliter"}
	],
	"version": 1,
	"difficulty": "Easy",
	"description": "",
	"title": "Spaghetti",
	"tags": [],
	"image": null,
	"instructions": [],
	"defaultServings": 2
}`

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestHandler(t *testing.T) *Handler {
	t.Helper()
	return newHandlerWithStore(storage.NewMemoryRepository())
}

func newHandlerWithStore(store storage.Repository) *Handler {
	return NewHandler(recipes.NewService(store, recipes.WithLogger(quietLogger())))
}

func serve(handler http.HandlerFunc, method, target, body string) *httptest.ResponseRecorder {
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, reader)
	rec := httptest.NewRecorder()
	handler(rec, req)
	return rec
}

func decodeRecipe(t *testing.T, rec *httptest.ResponseRecorder) models.Recipe {
	t.Helper()
	var recipe models.Recipe
	if err := json.Unmarshal(rec.Body.Bytes(), &recipe); err != nil {
		t.Fatalf("decode recipe: %v (body %q)", err, rec.Body.String())
	}
	return recipe
}

func TestRecipeLifecycleOverHTTP(t *testing.T) {
	handler := newTestHandler(t)

	rec := serve(handler.RecipesCollection, http.MethodPost, "/api/recipes", recipeJSON)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rec.Code, rec.Body.String())
	}
	created := decodeRecipe(t, rec)
	if created.ID == "" || created.Title != "Spaghetti" || len(created.Ingredients) != 2 {
		t.Fatalf("unexpected created recipe %+v", created)
	}

	rec = serve(handler.RecipeByID, http.MethodGet, "/api/recipes/"+created.ID, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rec.Code)
	}
	if fetched := decodeRecipe(t, rec); fetched.ID != created.ID || fetched.Ingredients[1].Amount != 3000 {
		t.Fatalf("unexpected fetched recipe %+v", fetched)
	}

	updated := strings.Replace(recipeJSON, `"Spaghetti"`, `"Penne"`, 1)
	rec = serve(handler.RecipeByID, http.MethodPut, "/api/recipes/"+created.ID, updated)
	if rec.Code != http.StatusOK || rec.Body.Len() != 0 {
		t.Fatalf("expected bodiless 200 for update, got %d %q", rec.Code, rec.Body.String())
	}

	rec = serve(handler.RecipeByID, http.MethodGet, "/api/recipes/"+created.ID, "")
	if fetched := decodeRecipe(t, rec); fetched.Title != "Penne" {
		t.Fatalf("expected updated title, got %q", fetched.Title)
	}

	rec = serve(handler.RecipeByID, http.MethodDelete, "/api/recipes/"+created.ID, "")
	if rec.Code != http.StatusOK || rec.Body.Len() != 0 {
		t.Fatalf("expected bodiless 200 for delete, got %d %q", rec.Code, rec.Body.String())
	}

	rec = serve(handler.RecipeByID, http.MethodDelete, "/api/recipes/"+created.ID, "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for repeated delete, got %d", rec.Code)
	}
}

func TestRecipeByIDRejectsInvalidIdentifiers(t *testing.T) {
	handler := newTestHandler(t)

	cases := []struct {
		method string
		target string
		body   string
	}{
		{http.MethodGet, "/api/recipes/hello", ""},
		{http.MethodGet, "/api/recipes/", ""},
		{http.MethodDelete, "/api/recipes/65f1a2b3c4d5e6f708192a3", ""},
		{http.MethodPut, "/api/recipes/zzzzzzzzzzzzzzzzzzzzzzzz", recipeJSON},
	}
	for _, tc := range cases {
		rec := serve(handler.RecipeByID, tc.method, tc.target, tc.body)
		if rec.Code != http.StatusBadRequest {
			t.Fatalf("%s %s: expected 400, got %d", tc.method, tc.target, rec.Code)
		}
		var payload map[string]string
		if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil || payload["error"] == "" {
			t.Fatalf("%s %s: expected error payload, got %q", tc.method, tc.target, rec.Body.String())
		}
	}
}

func TestRecipeByIDUnknownRecordIsNotFound(t *testing.T) {
	handler := newTestHandler(t)

	rec := serve(handler.RecipeByID, http.MethodGet, "/api/recipes/65f1a2b3c4d5e6f708192a3b", "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
	rec = serve(handler.RecipeByID, http.MethodPut, "/api/recipes/65f1a2b3c4d5e6f708192a3b", recipeJSON)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for update, got %d", rec.Code)
	}
}

func TestRecipeByIDUnknownSubresource(t *testing.T) {
	handler := newTestHandler(t)
	rec := serve(handler.RecipeByID, http.MethodGet, "/api/recipes/65f1a2b3c4d5e6f708192a3b/comments", "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestListRecipesPagination(t *testing.T) {
	handler := newTestHandler(t)

	rec := serve(handler.RecipesCollection, http.MethodGet, "/api/recipes", "")
	if rec.Code != http.StatusOK || strings.TrimSpace(rec.Body.String()) != "[]" {
		t.Fatalf("expected empty list, got %d %q", rec.Code, rec.Body.String())
	}

	for i := 0; i < 5; i++ {
		if rec := serve(handler.RecipesCollection, http.MethodPost, "/api/recipes", recipeJSON); rec.Code != http.StatusOK {
			t.Fatalf("seed recipe: status %d", rec.Code)
		}
	}

	rec = serve(handler.RecipesCollection, http.MethodGet, "/api/recipes?page=1&size=2", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var page []models.Recipe
	if err := json.Unmarshal(rec.Body.Bytes(), &page); err != nil {
		t.Fatalf("decode page: %v", err)
	}
	if len(page) != 2 {
		t.Fatalf("expected 2 recipes, got %d", len(page))
	}

	for _, target := range []string{"/api/recipes?page=1", "/api/recipes?size=2", "/api/recipes?page=-1&size=2", "/api/recipes?page=a&size=b"} {
		if rec := serve(handler.RecipesCollection, http.MethodGet, target, ""); rec.Code != http.StatusBadRequest {
			t.Fatalf("%s: expected 400, got %d", target, rec.Code)
		}
	}
}

func TestAddRecipeRejectsMalformedBodies(t *testing.T) {
	handler := newTestHandler(t)

	cases := map[string]string{
		"empty":         "",
		"array":         "[" + recipeJSON + "]",
		"trailing data": recipeJSON + "{}",
		"wrong type":    `{"cookingTimeInMinutes": "twelve"}`,
	}
	for name, body := range cases {
		rec := serve(handler.RecipesCollection, http.MethodPost, "/api/recipes", body)
		if rec.Code != http.StatusBadRequest {
			t.Fatalf("%s: expected 400, got %d", name, rec.Code)
		}
	}
}

func TestAddRecipeIgnoresUnknownFields(t *testing.T) {
	handler := newTestHandler(t)

	body := strings.Replace(recipeJSON, "{", `{"spicy": true, "source": {"book": "Jerusalem"},`, 1)
	rec := serve(handler.RecipesCollection, http.MethodPost, "/api/recipes", body)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if strings.Contains(rec.Body.String(), "spicy") {
		t.Fatalf("expected unknown fields to be dropped, got %s", rec.Body.String())
	}
}

func TestBulkAddRecipes(t *testing.T) {
	handler := newTestHandler(t)

	rec := serve(handler.RecipesBulk, http.MethodPost, "/api/recipes/bulk", "["+recipeJSON+","+recipeJSON+"]")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var stored []models.Recipe
	if err := json.Unmarshal(rec.Body.Bytes(), &stored); err != nil {
		t.Fatalf("decode batch: %v", err)
	}
	if len(stored) != 2 || stored[0].ID == "" || stored[0].ID == stored[1].ID {
		t.Fatalf("unexpected stored batch %+v", stored)
	}

	for name, body := range map[string]string{"empty batch": "[]", "object": recipeJSON} {
		if rec := serve(handler.RecipesBulk, http.MethodPost, "/api/recipes/bulk", body); rec.Code != http.StatusBadRequest {
			t.Fatalf("%s: expected 400, got %d", name, rec.Code)
		}
	}
}

func TestMethodNotAllowedAdvertisesAllowedMethods(t *testing.T) {
	handler := newTestHandler(t)

	cases := []struct {
		handler http.HandlerFunc
		method  string
		target  string
		allow   string
	}{
		{handler.RecipesCollection, http.MethodDelete, "/api/recipes", "GET, POST"},
		{handler.RecipesBulk, http.MethodGet, "/api/recipes/bulk", "POST"},
		{handler.RecipeByID, http.MethodPatch, "/api/recipes/65f1a2b3c4d5e6f708192a3b", "GET, PUT, DELETE"},
		{handler.Health, http.MethodPost, "/healthz", "GET, HEAD"},
	}
	for _, tc := range cases {
		rec := serve(tc.handler, tc.method, tc.target, "")
		if rec.Code != http.StatusMethodNotAllowed {
			t.Fatalf("%s %s: expected 405, got %d", tc.method, tc.target, rec.Code)
		}
		if got := rec.Header().Get("Allow"); got != tc.allow {
			t.Fatalf("%s %s: expected Allow %q, got %q", tc.method, tc.target, tc.allow, got)
		}
	}
}

type failingRepository struct {
	storage.Repository
	err error
}

func (f failingRepository) Ping(context.Context) error {
	return f.err
}

func (f failingRepository) GetRecipe(context.Context, string) storage.Outcome[models.Recipe] {
	return storage.Failed[models.Recipe](f.err)
}

func TestInfrastructureFailureHidesCause(t *testing.T) {
	handler := newHandlerWithStore(failingRepository{Repository: storage.NewMemoryRepository(), err: errors.New("dial tcp 10.0.0.7:27017: connection refused")})

	rec := serve(handler.RecipeByID, http.MethodGet, "/api/recipes/65f1a2b3c4d5e6f708192a3b", "")
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rec.Code)
	}
	if bytes.Contains(rec.Body.Bytes(), []byte("10.0.0.7")) {
		t.Fatalf("expected driver error to stay out of the response, got %q", rec.Body.String())
	}
}

func TestHealthReportsDatastoreAndProbes(t *testing.T) {
	handler := newTestHandler(t)
	handler.Probes = map[string]Pinger{
		"cache": PingerFunc(func(context.Context) error { return errors.New("redis down") }),
	}

	rec := serve(handler.Health, http.MethodGet, "/healthz", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 with a failing probe, got %d", rec.Code)
	}
	var payload struct {
		Status     string            `json:"status"`
		Components []componentStatus `json:"components"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decode health: %v", err)
	}
	if payload.Status != "degraded" || len(payload.Components) != 2 {
		t.Fatalf("unexpected health payload %+v", payload)
	}
	if payload.Components[0].Component != "datastore" || payload.Components[1].Error != "redis down" {
		t.Fatalf("unexpected components %+v", payload.Components)
	}

	down := newHandlerWithStore(failingRepository{Repository: storage.NewMemoryRepository(), err: errors.New("unreachable")})
	rec = serve(down.Health, http.MethodGet, "/healthz", "")
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 for unreachable datastore, got %d", rec.Code)
	}
}

func TestWriteRequestError(t *testing.T) {
	rec := httptest.NewRecorder()
	WriteRequestError(rec, ServiceUnavailableError("datastore warming up"))
	if rec.Code != http.StatusServiceUnavailable || !strings.Contains(rec.Body.String(), "datastore warming up") {
		t.Fatalf("unexpected response %d %q", rec.Code, rec.Body.String())
	}

	rec = httptest.NewRecorder()
	WriteRequestError(rec, errors.New("secret detail"))
	if rec.Code != http.StatusInternalServerError || strings.Contains(rec.Body.String(), "secret") {
		t.Fatalf("expected opaque 500, got %d %q", rec.Code, rec.Body.String())
	}
}
