package model

import "time"

// Window is a half-open time interval [StartAt, EndAt).
type Window struct {
	StartAt time.Time `db:"start_at" json:"start_at"`
	EndAt   time.Time `db:"end_at" json:"end_at"`
}

// Overlaps reports whether two windows share any instant. Half-open
// semantics: touching endpoints do not overlap, so a session ending at
// 10:00 is compatible with one starting at 10:00.
func (w Window) Overlaps(other Window) bool {
	return w.StartAt.Before(other.EndAt) && other.StartAt.Before(w.EndAt)
}

func (w Window) Valid() bool {
	return w.EndAt.After(w.StartAt)
}
