package models

import "time"

// ChatMessage is one entry in a household's chat timeline.
type ChatMessage struct {
	ID        string    `db:"id" bson:"_id" json:"id"`
	HouseID   string    `db:"house_id" bson:"houseID" json:"houseID"`
	UserID    string    `db:"user_id" bson:"userID" json:"userID"`
	Username  string    `db:"username" bson:"username" json:"username"`
	Message   string    `db:"message" bson:"message" json:"message"`
	Timestamp time.Time `db:"created_at" bson:"timestamp" json:"timestamp"`
	IsSystem  bool      `db:"-" bson:"-" json:"isSystem,omitempty"`
}
