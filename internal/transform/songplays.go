package transform

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/fidde/songplay_lake/pkg/models"
)

type joinKey struct {
	title  string
	artist string
}

// BuildSongplays inner-joins song plays to song records on
// (song, artist) == (title, artist_name) and emits one fact row per matched
// pair. Plays without a matching record are dropped and only counted.
func BuildSongplays(ctx context.Context, plays []models.LogEvent, songs []models.SongRecord, ids IDSource, opts Options) ([]models.SongplayFact, models.JoinStats, error) {
	var stats models.JoinStats
	if ids == nil {
		return nil, stats, fmt.Errorf("building songplays: nil id source")
	}

	index := make(map[joinKey][]*models.SongRecord, len(songs))
	for i := range songs {
		k := joinKey{title: songs[i].Title, artist: songs[i].ArtistName}
		index[k] = append(index[k], &songs[i])
	}

	parts := chunk(plays, opts.workers())
	results := make([][]models.SongplayFact, len(parts))
	var matched, unmatched atomic.Int64

	err := forEachPartition(ctx, parts, func(ctx context.Context, p int, part []models.LogEvent) error {
		gen, err := ids.Partition(p)
		if err != nil {
			return err
		}
		var rows []models.SongplayFact
		for i := range part {
			e := &part[i]
			hits := index[joinKey{title: e.Song, artist: e.Artist}]
			if len(hits) == 0 {
				unmatched.Add(1)
				continue
			}
			matched.Add(1)
			for _, s := range hits {
				rows = append(rows, models.SongplayFact{
					SongplayID: gen.Next(),
					StartTime:  e.Timestamp,
					Year:       int32(e.Timestamp.Year()),
					Month:      int32(e.Timestamp.Month()),
					UserID:     e.UserID,
					Level:      e.Level,
					SongID:     s.SongID,
					ArtistID:   s.ArtistID,
					SessionID:  e.SessionID,
					Location:   e.Location,
					UserAgent:  e.UserAgent,
				})
			}
		}
		results[p] = rows
		return nil
	})
	if err != nil {
		return nil, stats, err
	}

	var facts []models.SongplayFact
	for _, rows := range results {
		facts = append(facts, rows...)
	}

	stats.MatchedEvents = matched.Load()
	stats.UnmatchedEvents = unmatched.Load()
	stats.FactRows = int64(len(facts))
	return facts, stats, nil
}
