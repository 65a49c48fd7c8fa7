package transform

import (
	"math/rand"

	"github.com/fidde/songplay_lake/pkg/models"
)

func strPtr(s string) *string     { return &s }
func floatPtr(f float64) *float64 { return &f }

func testSong() models.SongRecord {
	return models.SongRecord{
		SongID:     "S1",
		Title:      "Test",
		ArtistID:   "A1",
		ArtistName: "Band",
		Duration:   200.0,
		Year:       2000,
	}
}

func testEvent() models.LogEvent {
	return models.LogEvent{
		Page:      models.PageNextSong,
		TS:        1000000000000,
		Song:      "Test",
		Artist:    "Band",
		UserID:    "U1",
		FirstName: "Jo",
		LastName:  "Doe",
		Gender:    "F",
		Level:     "free",
		SessionID: 5,
		Location:  "NYC",
		UserAgent: "UA",
	}
}

// shuffled returns a shuffled copy of items using a fixed seed.
func shuffled[T any](items []T, seed int64) []T {
	out := append([]T(nil), items...)
	r := rand.New(rand.NewSource(seed))
	r.Shuffle(len(out), func(i, j int) { out[i], out[j] = out[j], out[i] })
	return out
}
