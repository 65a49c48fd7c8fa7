package transform

import (
	"context"
	"strconv"
	"time"

	"github.com/fidde/songplay_lake/pkg/models"
)

// BuildSongs returns one songs-dimension row per distinct song_id.
func BuildSongs(ctx context.Context, songs []models.SongRecord, opts Options) ([]models.SongDim, error) {
	unique, err := dedupBy(ctx, songs, opts,
		func(s *models.SongRecord) string { return s.SongID },
		func(a, b *models.SongRecord) bool { return compareSongRecords(a, b) < 0 },
	)
	if err != nil {
		return nil, err
	}

	rows := make([]models.SongDim, len(unique))
	for i, s := range unique {
		rows[i] = models.SongDim{
			SongID:   s.SongID,
			Title:    s.Title,
			ArtistID: s.ArtistID,
			Duration: s.Duration,
			Year:     s.Year,
		}
	}
	return rows, nil
}

// BuildArtists returns one artists-dimension row per distinct artist_id.
func BuildArtists(ctx context.Context, songs []models.SongRecord, opts Options) ([]models.ArtistDim, error) {
	unique, err := dedupBy(ctx, songs, opts,
		func(s *models.SongRecord) string { return s.ArtistID },
		func(a, b *models.SongRecord) bool { return compareSongRecords(a, b) < 0 },
	)
	if err != nil {
		return nil, err
	}

	rows := make([]models.ArtistDim, len(unique))
	for i, s := range unique {
		rows[i] = models.ArtistDim{
			ArtistID:  s.ArtistID,
			Name:      s.ArtistName,
			Location:  s.ArtistLocation,
			Latitude:  s.ArtistLatitude,
			Longitude: s.ArtistLongitude,
		}
	}
	return rows, nil
}

// BuildUsers returns one users-dimension row per distinct userId. It is fed
// the raw events, not only song plays, so users who never played a song are
// still listed.
func BuildUsers(ctx context.Context, events []models.LogEvent, opts Options) ([]models.UserDim, error) {
	unique, err := dedupBy(ctx, events, opts,
		func(e *models.LogEvent) string { return e.UserID },
		func(a, b *models.LogEvent) bool { return compareLogEvents(a, b) < 0 },
	)
	if err != nil {
		return nil, err
	}

	rows := make([]models.UserDim, len(unique))
	for i, e := range unique {
		rows[i] = models.UserDim{
			UserID:    e.UserID,
			FirstName: e.FirstName,
			LastName:  e.LastName,
			Gender:    e.Gender,
			Level:     e.Level,
		}
	}
	return rows, nil
}

// BuildTime returns one time-dimension row per distinct ts of the
// preprocessed song plays.
func BuildTime(ctx context.Context, plays []models.LogEvent, opts Options) ([]models.TimeDim, error) {
	unique, err := dedupBy(ctx, plays, opts,
		func(e *models.LogEvent) string { return strconv.FormatInt(e.TS, 10) },
		func(a, b *models.LogEvent) bool { return compareLogEvents(a, b) < 0 },
	)
	if err != nil {
		return nil, err
	}

	rows := make([]models.TimeDim, len(unique))
	for i := range unique {
		rows[i] = DecomposeTime(unique[i].Timestamp)
	}
	return rows, nil
}

// DecomposeTime splits a start time into its calendar fields.
func DecomposeTime(t time.Time) models.TimeDim {
	_, week := t.ISOWeek()
	return models.TimeDim{
		StartTime: t,
		Hour:      int32(t.Hour()),
		Day:       int32(t.Day()),
		Week:      int32(week),
		Month:     int32(t.Month()),
		Year:      int32(t.Year()),
		Weekday:   int32(t.Weekday()) + 1,
	}
}
