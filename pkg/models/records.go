// Package models defines the raw input records, the star-schema rows and the
// generic table representation handed to storage backends.
package models

import "time"

// PageNextSong is the log event page value that represents a song play.
const PageNextSong = "NextSong"

// SongRecord is one entry of the song metadata dataset.
type SongRecord struct {
	SongID          string   `json:"song_id"`
	Title           string   `json:"title"`
	ArtistID        string   `json:"artist_id"`
	ArtistName      string   `json:"artist_name"`
	ArtistLocation  *string  `json:"artist_location"`
	ArtistLatitude  *float64 `json:"artist_latitude"`
	ArtistLongitude *float64 `json:"artist_longitude"`
	Duration        float64  `json:"duration"`
	Year            int32    `json:"year"` // 0 when unknown
}

// LogEvent is one user-activity event from the application logs.
type LogEvent struct {
	Page      string `json:"page"`
	TS        int64  `json:"ts"` // epoch milliseconds
	Song      string `json:"song"`
	Artist    string `json:"artist"`
	UserID    string `json:"userId"`
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
	Gender    string `json:"gender"`
	Level     string `json:"level"`
	SessionID int64  `json:"sessionId"`
	Location  string `json:"location"`
	UserAgent string `json:"userAgent"`

	// Timestamp is derived from TS by the log preprocessor. It is the zero
	// time on events that have not been preprocessed.
	Timestamp time.Time `json:"-"`
}

// IsSongPlay reports whether the event represents a song-play action.
func (e *LogEvent) IsSongPlay() bool {
	return e.Page == PageNextSong
}
