package source

import (
	"errors"
	"strings"
	"testing"

	"github.com/fidde/songplay_lake/pkg/models"
)

func TestDecodeSongs(t *testing.T) {
	input := `{"num_songs": 1, "artist_id": "ARD7TVE1187B99BFB1", "artist_latitude": null, "artist_longitude": null, "artist_location": "California - LA", "artist_name": "Casual", "song_id": "SOMZWCG12A8C13C480", "title": "I Didn't Mean To", "duration": 218.93179, "year": 0}
{"artist_id": "AR8ZCNI1187B9A069B", "artist_latitude": 40.71455, "artist_longitude": -74.00712, "artist_location": null, "artist_name": "Planet P Project", "song_id": "SOIAZJW12AB01853F1", "title": "Pink World", "duration": 269.81832, "year": "1984"}`

	songs, err := DecodeSongs("songs.json", strings.NewReader(input))
	if err != nil {
		t.Fatalf("DecodeSongs failed: %v", err)
	}
	if len(songs) != 2 {
		t.Fatalf("expected 2 songs, got %d", len(songs))
	}

	first := songs[0]
	if first.SongID != "SOMZWCG12A8C13C480" || first.ArtistName != "Casual" || first.Year != 0 {
		t.Errorf("unexpected first song: %+v", first)
	}
	if first.ArtistLatitude != nil || first.ArtistLongitude != nil {
		t.Error("expected null coordinates")
	}
	if first.ArtistLocation == nil || *first.ArtistLocation != "California - LA" {
		t.Errorf("unexpected location: %v", first.ArtistLocation)
	}

	second := songs[1]
	if second.Year != 1984 {
		t.Errorf("expected year 1984 from string, got %d", second.Year)
	}
	if second.ArtistLatitude == nil || *second.ArtistLatitude != 40.71455 {
		t.Errorf("unexpected latitude: %v", second.ArtistLatitude)
	}
	if second.ArtistLocation != nil {
		t.Error("expected null location")
	}
}

func TestDecodeLogs(t *testing.T) {
	input := `{"artist":null,"auth":"Logged In","firstName":"Walter","gender":"M","itemInSession":0,"lastName":"Frye","length":null,"level":"free","location":"San Francisco-Oakland-Hayward, CA","method":"GET","page":"Home","registration":1540919166796.0,"sessionId":38,"song":null,"status":200,"ts":1541105830796,"userAgent":"Mozilla/5.0","userId":"39"}
{"artist":"Des'ree","auth":"Logged In","firstName":"Kaylee","gender":"F","itemInSession":1,"lastName":"Summers","length":246.30812,"level":"free","location":"Phoenix-Mesa-Scottsdale, AZ","method":"PUT","page":"NextSong","registration":1540344794796.0,"sessionId":139,"song":"You Gotta Be","status":200,"ts":1541106106796.0,"userAgent":"Mozilla/5.0","userId":8}`

	events, err := DecodeLogs("events.json", strings.NewReader(input))
	if err != nil {
		t.Fatalf("DecodeLogs failed: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("expected 2 events, got %d", len(events))
	}

	home := events[0]
	if home.Page != "Home" || home.Song != "" || home.Artist != "" || home.UserID != "39" {
		t.Errorf("unexpected home event: %+v", home)
	}
	play := events[1]
	if !play.IsSongPlay() {
		t.Error("expected NextSong event")
	}
	if play.TS != 1541106106796 {
		t.Errorf("expected ts from float notation, got %d", play.TS)
	}
	if play.UserID != "8" {
		t.Errorf("expected numeric userId as string, got %q", play.UserID)
	}
	if play.SessionID != 139 || play.Song != "You Gotta Be" || play.Artist != "Des'ree" {
		t.Errorf("unexpected play event: %+v", play)
	}
}

func TestDecodeLogsFieldConversionFailure(t *testing.T) {
	tests := []struct {
		name  string
		input string
		field string
	}{
		{"non-numeric ts", `{"page":"NextSong","ts":"yesterday"}`, "ts"},
		{"fractional ts", `{"page":"NextSong","ts":1541106106796.5}`, "ts"},
		{"missing ts", `{"page":"NextSong"}`, "ts"},
		{"boolean session", `{"page":"NextSong","ts":1,"sessionId":true}`, "sessionId"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DecodeLogs("bad.json", strings.NewReader(tt.input))
			if !errors.Is(err, models.ErrFieldConversion) {
				t.Fatalf("expected ErrFieldConversion, got %v", err)
			}
			var fce *models.FieldConversionError
			if !errors.As(err, &fce) || fce.Field != tt.field || fce.Origin != "bad.json" {
				t.Errorf("expected conversion error on %s from bad.json, got %v", tt.field, err)
			}
		})
	}
}

func TestDecodeMalformedJSON(t *testing.T) {
	_, err := DecodeSongs("broken.json", strings.NewReader(`{"song_id": "S1", `))
	if !errors.Is(err, models.ErrInputRead) {
		t.Fatalf("expected ErrInputRead, got %v", err)
	}
}
