package transform

import (
	"context"
	"fmt"
	"time"

	"github.com/fidde/songplay_lake/pkg/models"
	"golang.org/x/sync/errgroup"
)

// Result holds every table produced from one input snapshot.
type Result struct {
	Songs     []models.SongDim
	Artists   []models.ArtistDim
	Users     []models.UserDim
	Time      []models.TimeDim
	Songplays []models.SongplayFact

	Input models.InputStats
	Join  models.JoinStats
}

// Tables returns the results as generic tables in write order.
func (r *Result) Tables() []*models.Table {
	return []*models.Table{
		models.SongsTable(r.Songs),
		models.ArtistsTable(r.Artists),
		models.UsersTable(r.Users),
		models.TimeTable(r.Time),
		models.SongplaysTable(r.Songplays),
	}
}

// Build preprocesses the log events and runs all five builders. The
// dimension builders and the fact builder are independent and run
// concurrently.
func Build(ctx context.Context, songs []models.SongRecord, events []models.LogEvent, ids IDSource, loc *time.Location, opts Options) (*Result, error) {
	plays, err := Preprocess(events, loc)
	if err != nil {
		return nil, fmt.Errorf("preprocessing log events: %w", err)
	}

	res := &Result{
		Input: models.InputStats{
			SongRecords: int64(len(songs)),
			LogEvents:   int64(len(events)),
			SongPlays:   int64(len(plays)),
		},
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		rows, err := BuildSongs(ctx, songs, opts)
		if err != nil {
			return fmt.Errorf("building songs: %w", err)
		}
		res.Songs = rows
		return nil
	})
	g.Go(func() error {
		rows, err := BuildArtists(ctx, songs, opts)
		if err != nil {
			return fmt.Errorf("building artists: %w", err)
		}
		res.Artists = rows
		return nil
	})
	g.Go(func() error {
		rows, err := BuildUsers(ctx, events, opts)
		if err != nil {
			return fmt.Errorf("building users: %w", err)
		}
		res.Users = rows
		return nil
	})
	g.Go(func() error {
		rows, err := BuildTime(ctx, plays, opts)
		if err != nil {
			return fmt.Errorf("building time: %w", err)
		}
		res.Time = rows
		return nil
	})
	g.Go(func() error {
		rows, stats, err := BuildSongplays(ctx, plays, songs, ids, opts)
		if err != nil {
			return fmt.Errorf("building songplays: %w", err)
		}
		res.Songplays = rows
		res.Join = stats
		return nil
	})

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return res, nil
}
