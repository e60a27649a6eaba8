package models

import (
	"github.com/go-openapi/strfmt"
)

// Difficulty grades how demanding a recipe is to prepare.
type Difficulty string

const (
	DifficultyEasy   Difficulty = "Easy"
	DifficultyMedium Difficulty = "Medium"
	DifficultyHard   Difficulty = "Hard"
)

// Recipe is the document stored for every recipe. ID is assigned by the
// datastore on insert and is never persisted inside the document body for the
// Mongo driver, where it maps to _id.
type Recipe struct {
	ID                   string          `json:"id,omitempty" bson:"-"`
	Title                string          `json:"title" bson:"title"`
	Description          string          `json:"description" bson:"description"`
	Difficulty           Difficulty      `json:"difficulty" bson:"difficulty"`
	CookingTimeInMinutes int             `json:"cookingTimeInMinutes" bson:"cookingTimeInMinutes"`
	DefaultServings      int             `json:"defaultServings" bson:"defaultServings"`
	Tags                 []string        `json:"tags" bson:"tags"`
	Instructions         []string        `json:"instructions" bson:"instructions"`
	Ingredients          []Ingredient    `json:"ingredients" bson:"ingredients"`
	Image                *string         `json:"image" bson:"image"`
	Created              strfmt.DateTime `json:"created" bson:"created"`
	LastModified         strfmt.DateTime `json:"lastModified" bson:"lastModified"`
	Version              int             `json:"version" bson:"version"`
}

// Ingredient is a single line of a recipe's ingredient list.
type Ingredient struct {
	ID              string  `json:"id" bson:"id"`
	Amount          float64 `json:"amount" bson:"amount"`
	Title           string  `json:"title" bson:"title"`
	MeasurementUnit string  `json:"measurementUnit" bson:"measurementUnit"`
}

// Clone returns a deep copy so stored documents never share slices with
// callers.
func (r Recipe) Clone() Recipe {
	clone := r
	if r.Tags != nil {
		clone.Tags = append([]string(nil), r.Tags...)
	}
	if r.Instructions != nil {
		clone.Instructions = append([]string(nil), r.Instructions...)
	}
	if r.Ingredients != nil {
		clone.Ingredients = append([]Ingredient(nil), r.Ingredients...)
	}
	if r.Image != nil {
		image := *r.Image
		clone.Image = &image
	}
	return clone
}

// WithID returns a copy of the recipe carrying the provided identifier.
func (r Recipe) WithID(id string) Recipe {
	clone := r.Clone()
	clone.ID = id
	return clone
}
