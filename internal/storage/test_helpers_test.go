package storage

import (
	"path/filepath"
	"testing"
	"time"

	"recipe-api/internal/models"

	"github.com/go-openapi/strfmt"
)

func newTestStore(t *testing.T, extra ...Option) *Storage {
	t.Helper()
	path := filepath.Join(t.TempDir(), "recipes.json")
	store, err := NewStorage(path, extra...)
	if err != nil {
		t.Fatalf("NewStorage error: %v", err)
	}
	return store
}

func jsonRepositoryFactory(t *testing.T, opts ...Option) (Repository, func(), error) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "recipes.json")
	store, err := NewStorage(path, opts...)
	if err != nil {
		return nil, nil, err
	}
	return store, func() {}, nil
}

func memoryRepositoryFactory(t *testing.T, opts ...Option) (Repository, func(), error) {
	t.Helper()
	return NewMemoryRepository(opts...), nil, nil
}

// sampleRecipe builds a fully populated recipe. Timestamps are truncated to
// milliseconds so they survive JSON and BSON round trips unchanged.
func sampleRecipe(title string) models.Recipe {
	created := time.Date(2024, 3, 9, 18, 30, 0, 0, time.UTC)
	image := "https://images.example.com/" + title + ".png"
	return models.Recipe{
		Title:                title,
		Description:          "A dependable weeknight " + title,
		Difficulty:           models.DifficultyMedium,
		CookingTimeInMinutes: 35,
		DefaultServings:      4,
		Tags:                 []string{"dinner", "vegetarian"},
		Instructions:         []string{"Prepare the ingredients.", "Cook until done."},
		Ingredients: []models.Ingredient{
			{ID: "1", Amount: 200, Title: "Rice", MeasurementUnit: "g"},
			{ID: "2", Amount: 1.5, Title: "Stock", MeasurementUnit: "l"},
		},
		Image:        &image,
		Created:      strfmt.DateTime(created),
		LastModified: strfmt.DateTime(created.Add(time.Hour)),
		Version:      1,
	}
}

func sameRecipeBody(a, b models.Recipe) bool {
	if a.Title != b.Title || a.Description != b.Description || a.Difficulty != b.Difficulty {
		return false
	}
	if a.CookingTimeInMinutes != b.CookingTimeInMinutes || a.DefaultServings != b.DefaultServings || a.Version != b.Version {
		return false
	}
	if len(a.Tags) != len(b.Tags) || len(a.Instructions) != len(b.Instructions) || len(a.Ingredients) != len(b.Ingredients) {
		return false
	}
	for i := range a.Ingredients {
		if a.Ingredients[i] != b.Ingredients[i] {
			return false
		}
	}
	if (a.Image == nil) != (b.Image == nil) || (a.Image != nil && *a.Image != *b.Image) {
		return false
	}
	return time.Time(a.Created).Equal(time.Time(b.Created)) && time.Time(a.LastModified).Equal(time.Time(b.LastModified))
}
