package source

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"

	"github.com/fidde/songplay_lake/pkg/models"
)

// rawSong mirrors models.SongRecord with tolerant numeric fields.
type rawSong struct {
	SongID          string      `json:"song_id"`
	Title           string      `json:"title"`
	ArtistID        string      `json:"artist_id"`
	ArtistName      string      `json:"artist_name"`
	ArtistLocation  *string     `json:"artist_location"`
	ArtistLatitude  *flexNumber `json:"artist_latitude"`
	ArtistLongitude *flexNumber `json:"artist_longitude"`
	Duration        *flexNumber `json:"duration"`
	Year            *flexNumber `json:"year"`
}

// rawLog mirrors models.LogEvent with tolerant typed fields.
type rawLog struct {
	Page      string      `json:"page"`
	TS        *flexNumber `json:"ts"`
	Song      *string     `json:"song"`
	Artist    *string     `json:"artist"`
	UserID    flexString  `json:"userId"`
	FirstName *string     `json:"firstName"`
	LastName  *string     `json:"lastName"`
	Gender    *string     `json:"gender"`
	Level     *string     `json:"level"`
	SessionID *flexNumber `json:"sessionId"`
	Location  *string     `json:"location"`
	UserAgent *string     `json:"userAgent"`
}

// flexNumber keeps the raw text of a JSON number or string so that bad
// values surface as field conversion errors instead of decode errors.
type flexNumber string

func (f *flexNumber) UnmarshalJSON(data []byte) error {
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*f = flexNumber(s)
		return nil
	}
	*f = flexNumber(data)
	return nil
}

func (f flexNumber) String() string {
	return string(f)
}

// flexString accepts a JSON string, number or null.
type flexString string

func (f *flexString) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*f = ""
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*f = flexString(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	*f = flexString(n.String())
	return nil
}

// DecodeSongs decodes all song records in r. origin names the file in errors.
func DecodeSongs(origin string, r io.Reader) ([]models.SongRecord, error) {
	var out []models.SongRecord
	err := decodeStream(origin, r, func(raw *rawSong) error {
		rec, err := raw.convert(origin)
		if err != nil {
			return err
		}
		out = append(out, rec)
		return nil
	})
	return out, err
}

// DecodeLogs decodes all log events in r. origin names the file in errors.
func DecodeLogs(origin string, r io.Reader) ([]models.LogEvent, error) {
	var out []models.LogEvent
	err := decodeStream(origin, r, func(raw *rawLog) error {
		ev, err := raw.convert(origin)
		if err != nil {
			return err
		}
		out = append(out, ev)
		return nil
	})
	return out, err
}

func decodeStream[T any](origin string, r io.Reader, fn func(*T) error) error {
	dec := json.NewDecoder(r)
	for {
		var raw T
		err := dec.Decode(&raw)
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("%w: decoding %s: %v", models.ErrInputRead, origin, err)
		}
		if err := fn(&raw); err != nil {
			return err
		}
	}
}

func (raw *rawSong) convert(origin string) (models.SongRecord, error) {
	rec := models.SongRecord{
		SongID:         raw.SongID,
		Title:          raw.Title,
		ArtistID:       raw.ArtistID,
		ArtistName:     raw.ArtistName,
		ArtistLocation: raw.ArtistLocation,
	}

	var err error
	if rec.ArtistLatitude, err = optionalFloat(origin, "artist_latitude", raw.ArtistLatitude); err != nil {
		return rec, err
	}
	if rec.ArtistLongitude, err = optionalFloat(origin, "artist_longitude", raw.ArtistLongitude); err != nil {
		return rec, err
	}
	if d, err := optionalFloat(origin, "duration", raw.Duration); err != nil {
		return rec, err
	} else if d != nil {
		rec.Duration = *d
	}
	if raw.Year != nil {
		y, err := parseInt(origin, "year", *raw.Year)
		if err != nil {
			return rec, err
		}
		if y < math.MinInt32 || y > math.MaxInt32 {
			return rec, &models.FieldConversionError{Origin: origin, Field: "year", Value: raw.Year.String(), Err: strconv.ErrRange}
		}
		rec.Year = int32(y)
	}
	return rec, nil
}

func (raw *rawLog) convert(origin string) (models.LogEvent, error) {
	ev := models.LogEvent{
		Page:      raw.Page,
		Song:      deref(raw.Song),
		Artist:    deref(raw.Artist),
		UserID:    string(raw.UserID),
		FirstName: deref(raw.FirstName),
		LastName:  deref(raw.LastName),
		Gender:    deref(raw.Gender),
		Level:     deref(raw.Level),
		Location:  deref(raw.Location),
		UserAgent: deref(raw.UserAgent),
	}

	if raw.TS == nil {
		return ev, &models.FieldConversionError{Origin: origin, Field: "ts", Value: "null", Err: errors.New("missing value")}
	}
	ts, err := parseInt(origin, "ts", *raw.TS)
	if err != nil {
		return ev, err
	}
	ev.TS = ts

	if raw.SessionID != nil {
		if ev.SessionID, err = parseInt(origin, "sessionId", *raw.SessionID); err != nil {
			return ev, err
		}
	}
	return ev, nil
}

// parseInt accepts integral numbers, including float notation such as
// 1541903636796.0 and numeric strings.
func parseInt(origin, field string, n flexNumber) (int64, error) {
	s := strings.TrimSpace(n.String())
	if i, err := strconv.ParseInt(s, 10, 64); err == nil {
		return i, nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, &models.FieldConversionError{Origin: origin, Field: field, Value: s, Err: err}
	}
	if f != math.Trunc(f) || f < math.MinInt64 || f >= math.MaxInt64 {
		return 0, &models.FieldConversionError{Origin: origin, Field: field, Value: s, Err: strconv.ErrRange}
	}
	return int64(f), nil
}

func optionalFloat(origin, field string, n *flexNumber) (*float64, error) {
	if n == nil {
		return nil, nil
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(n.String()), 64)
	if err != nil {
		return nil, &models.FieldConversionError{Origin: origin, Field: field, Value: n.String(), Err: err}
	}
	return &f, nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
