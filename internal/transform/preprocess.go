package transform

import (
	"fmt"
	"strconv"
	"time"

	"github.com/fidde/songplay_lake/pkg/models"
)

// Preprocess keeps the song-play events and sets their Timestamp from the
// epoch-millisecond ts field, decoded as wall-clock time in loc. A nil loc
// means time.Local. The input slice is not modified.
func Preprocess(events []models.LogEvent, loc *time.Location) ([]models.LogEvent, error) {
	if loc == nil {
		loc = time.Local
	}

	out := make([]models.LogEvent, 0, len(events))
	for i := range events {
		if !events[i].IsSongPlay() {
			continue
		}
		ts, err := EpochMillis(events[i].TS, loc)
		if err != nil {
			return nil, err
		}
		e := events[i]
		e.Timestamp = ts
		out = append(out, e)
	}
	return out, nil
}

// EpochMillis converts epoch milliseconds to a time in loc. Values whose
// calendar year falls outside 1..9999 cannot be stored by any backend and
// are reported as conversion failures.
func EpochMillis(ms int64, loc *time.Location) (time.Time, error) {
	t := time.UnixMilli(ms).In(loc)
	if y := t.Year(); y < 1 || y > 9999 {
		return time.Time{}, &models.FieldConversionError{
			Field: "ts",
			Value: strconv.FormatInt(ms, 10),
			Err:   fmt.Errorf("year %d out of range", y),
		}
	}
	return t, nil
}
