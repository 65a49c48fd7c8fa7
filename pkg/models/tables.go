package models

// SongsTable converts song dimension rows into a Table.
func SongsTable(rows []SongDim) *Table {
	t := &Table{
		Name: TableSongs,
		Columns: []Column{
			{Name: "song_id", Type: TypeString},
			{Name: "title", Type: TypeString},
			{Name: "artist_id", Type: TypeString},
			{Name: "duration", Type: TypeFloat64},
			{Name: "year", Type: TypeInt32},
		},
		Rows: make([]Row, 0, len(rows)),
	}
	for _, r := range rows {
		t.Rows = append(t.Rows, Row{r.SongID, r.Title, r.ArtistID, r.Duration, r.Year})
	}
	return t
}

// ArtistsTable converts artist dimension rows into a Table.
func ArtistsTable(rows []ArtistDim) *Table {
	t := &Table{
		Name: TableArtists,
		Columns: []Column{
			{Name: "artist_id", Type: TypeString},
			{Name: "name", Type: TypeString},
			{Name: "location", Type: TypeString, Nullable: true},
			{Name: "latitude", Type: TypeFloat64, Nullable: true},
			{Name: "longitude", Type: TypeFloat64, Nullable: true},
		},
		Rows: make([]Row, 0, len(rows)),
	}
	for _, r := range rows {
		t.Rows = append(t.Rows, Row{r.ArtistID, r.Name, nullable(r.Location), nullable(r.Latitude), nullable(r.Longitude)})
	}
	return t
}

// UsersTable converts user dimension rows into a Table.
func UsersTable(rows []UserDim) *Table {
	t := &Table{
		Name: TableUsers,
		Columns: []Column{
			{Name: "user_id", Type: TypeString},
			{Name: "first_name", Type: TypeString},
			{Name: "last_name", Type: TypeString},
			{Name: "gender", Type: TypeString},
			{Name: "level", Type: TypeString},
		},
		Rows: make([]Row, 0, len(rows)),
	}
	for _, r := range rows {
		t.Rows = append(t.Rows, Row{r.UserID, r.FirstName, r.LastName, r.Gender, r.Level})
	}
	return t
}

// TimeTable converts time dimension rows into a Table.
func TimeTable(rows []TimeDim) *Table {
	t := &Table{
		Name: TableTime,
		Columns: []Column{
			{Name: "start_time", Type: TypeTimestamp},
			{Name: "hour", Type: TypeInt32},
			{Name: "day", Type: TypeInt32},
			{Name: "week", Type: TypeInt32},
			{Name: "month", Type: TypeInt32},
			{Name: "year", Type: TypeInt32},
			{Name: "weekday", Type: TypeInt32},
		},
		Rows: make([]Row, 0, len(rows)),
	}
	for _, r := range rows {
		t.Rows = append(t.Rows, Row{r.StartTime, r.Hour, r.Day, r.Week, r.Month, r.Year, r.Weekday})
	}
	return t
}

// SongplaysTable converts fact rows into a Table.
func SongplaysTable(rows []SongplayFact) *Table {
	t := &Table{
		Name: TableSongplays,
		Columns: []Column{
			{Name: "songplay_id", Type: TypeInt64},
			{Name: "start_time", Type: TypeTimestamp},
			{Name: "year", Type: TypeInt32},
			{Name: "month", Type: TypeInt32},
			{Name: "user_id", Type: TypeString},
			{Name: "level", Type: TypeString},
			{Name: "song_id", Type: TypeString},
			{Name: "artist_id", Type: TypeString},
			{Name: "session_id", Type: TypeInt64},
			{Name: "location", Type: TypeString},
			{Name: "user_agent", Type: TypeString},
		},
		Rows: make([]Row, 0, len(rows)),
	}
	for _, r := range rows {
		t.Rows = append(t.Rows, Row{
			r.SongplayID, r.StartTime, r.Year, r.Month, r.UserID, r.Level,
			r.SongID, r.ArtistID, r.SessionID, r.Location, r.UserAgent,
		})
	}
	return t
}

// nullable unwraps an optional value so a nil pointer becomes an untyped nil.
func nullable[T any](p *T) any {
	if p == nil {
		return nil
	}
	return *p
}
