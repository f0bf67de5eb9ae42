package db

import (
	"errors"
	"time"
)

// ErrNotFound is returned when a worker row does not exist.
var ErrNotFound = errors.New("db: not found")

// WorkerRecord is the persisted view of one extension worker.
type WorkerRecord struct {
	ID       int       `json:"id"`
	Location string    `json:"location"`
	State    string    `json:"state"`
	Error    string    `json:"error,omitempty"`
	Services []string  `json:"services"`
	Created  time.Time `json:"created"`
	Updated  time.Time `json:"updated"`
}

// Migration is one SQL migration file.
type Migration struct {
	Name string
	SQL  string
}
