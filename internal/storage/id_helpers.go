package storage

import (
	"fmt"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// generateID returns a new 24-character hexadecimal object identifier so every
// driver hands out ids in the format the API accepts.
func generateID() string {
	return primitive.NewObjectID().Hex()
}

func parseObjectID(id string) (primitive.ObjectID, error) {
	oid, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return primitive.NilObjectID, fmt.Errorf("parse object id %q: %w", id, err)
	}
	return oid, nil
}
