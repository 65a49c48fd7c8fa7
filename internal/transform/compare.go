package transform

import (
	"cmp"

	"github.com/fidde/songplay_lake/pkg/models"
)

// compareOptional orders nil before any value.
func compareOptional[T cmp.Ordered](a, b *T) int {
	switch {
	case a == nil && b == nil:
		return 0
	case a == nil:
		return -1
	case b == nil:
		return 1
	}
	return cmp.Compare(*a, *b)
}

// compareSongRecords orders song records field by field in declaration order.
func compareSongRecords(a, b *models.SongRecord) int {
	if c := cmp.Compare(a.SongID, b.SongID); c != 0 {
		return c
	}
	if c := cmp.Compare(a.Title, b.Title); c != 0 {
		return c
	}
	if c := cmp.Compare(a.ArtistID, b.ArtistID); c != 0 {
		return c
	}
	if c := cmp.Compare(a.ArtistName, b.ArtistName); c != 0 {
		return c
	}
	if c := compareOptional(a.ArtistLocation, b.ArtistLocation); c != 0 {
		return c
	}
	if c := compareOptional(a.ArtistLatitude, b.ArtistLatitude); c != 0 {
		return c
	}
	if c := compareOptional(a.ArtistLongitude, b.ArtistLongitude); c != 0 {
		return c
	}
	if c := cmp.Compare(a.Duration, b.Duration); c != 0 {
		return c
	}
	return cmp.Compare(a.Year, b.Year)
}

// compareLogEvents orders log events field by field in declaration order.
func compareLogEvents(a, b *models.LogEvent) int {
	if c := cmp.Compare(a.Page, b.Page); c != 0 {
		return c
	}
	if c := cmp.Compare(a.TS, b.TS); c != 0 {
		return c
	}
	strs := [...][2]string{
		{a.Song, b.Song},
		{a.Artist, b.Artist},
		{a.UserID, b.UserID},
		{a.FirstName, b.FirstName},
		{a.LastName, b.LastName},
		{a.Gender, b.Gender},
		{a.Level, b.Level},
	}
	for _, f := range strs {
		if c := cmp.Compare(f[0], f[1]); c != 0 {
			return c
		}
	}
	if c := cmp.Compare(a.SessionID, b.SessionID); c != 0 {
		return c
	}
	if c := cmp.Compare(a.Location, b.Location); c != 0 {
		return c
	}
	return cmp.Compare(a.UserAgent, b.UserAgent)
}
