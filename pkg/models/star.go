package models

import "time"

// SongDim is a row of the songs dimension, keyed by SongID.
type SongDim struct {
	SongID   string
	Title    string
	ArtistID string
	Duration float64
	Year     int32
}

// ArtistDim is a row of the artists dimension, keyed by ArtistID.
type ArtistDim struct {
	ArtistID  string
	Name      string
	Location  *string
	Latitude  *float64
	Longitude *float64
}

// UserDim is a row of the users dimension, keyed by UserID.
type UserDim struct {
	UserID    string
	FirstName string
	LastName  string
	Gender    string
	Level     string
}

// TimeDim is a row of the time dimension, keyed by StartTime.
type TimeDim struct {
	StartTime time.Time
	Hour      int32
	Day       int32
	Week      int32 // ISO 8601 week of year
	Month     int32
	Year      int32
	Weekday   int32 // 1 = Sunday .. 7 = Saturday
}

// SongplayFact is one song play matched against the song catalogue.
type SongplayFact struct {
	SongplayID int64
	StartTime  time.Time
	Year       int32
	Month      int32
	UserID     string
	Level      string
	SongID     string
	ArtistID   string
	SessionID  int64
	Location   string
	UserAgent  string
}
