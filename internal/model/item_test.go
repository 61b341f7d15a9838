package model

import (
	"testing"
	"time"
)

func item(catalogID, title, artist string, rating int, savedAt time.Time) LibraryItem {
	return LibraryItem{
		CatalogID: catalogID,
		Title:     title,
		Artist:    artist,
		Rating:    rating,
		SavedAt:   savedAt,
	}
}

func TestValidate(t *testing.T) {
	now := time.Now()

	tests := []struct {
		name    string
		item    LibraryItem
		wantErr bool
	}{
		{"valid", item("c1", "Title", "Artist", 3, now), false},
		{"missing catalog id", item("", "Title", "Artist", 0, now), true},
		{"blank catalog id", item("   ", "Title", "Artist", 0, now), true},
		{"missing title", item("c1", "", "Artist", 0, now), true},
		{"rating too high", item("c1", "Title", "Artist", 6, now), true},
		{"rating negative", item("c1", "Title", "Artist", -1, now), true},
		{"unrated is valid", item("c1", "Title", "Artist", 0, now), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.item.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestClone_IsDeep(t *testing.T) {
	orig := item("c1", "Title", "Artist", 4, time.Now())
	orig.Tags = []string{"jazz"}
	orig.RatingHistory = []RatingEntry{{Rating: 4, At: time.Now()}}

	cp := orig.Clone()
	cp.Tags[0] = "rock"
	cp.RatingHistory[0].Rating = 1

	if orig.Tags[0] != "jazz" {
		t.Errorf("Tags aliased: orig mutated to %q", orig.Tags[0])
	}
	if orig.RatingHistory[0].Rating != 4 {
		t.Errorf("RatingHistory aliased: orig mutated to %d", orig.RatingHistory[0].Rating)
	}
}

func TestSortModeRoundTrip(t *testing.T) {
	for _, mode := range []SortMode{SortRecent, SortTitle, SortArtist, SortRating} {
		if got := ParseSortMode(mode.String()); got != mode {
			t.Errorf("ParseSortMode(%q) = %v, want %v", mode.String(), got, mode)
		}
	}
	if got := ParseSortMode("bogus"); got != SortRecent {
		t.Errorf("ParseSortMode(bogus) = %v, want SortRecent", got)
	}
}

func TestSortItems(t *testing.T) {
	t0 := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	items := []LibraryItem{
		item("c1", "banana", "Zoot", 2, t0.Add(1*time.Hour)),
		item("c2", "Apple", "alpha", 5, t0.Add(3*time.Hour)),
		item("c3", "cherry", "alpha", 5, t0.Add(2*time.Hour)),
	}

	t.Run("recent", func(t *testing.T) {
		s := CloneItems(items)
		SortItems(s, SortRecent)
		if s[0].CatalogID != "c2" || s[1].CatalogID != "c3" || s[2].CatalogID != "c1" {
			t.Errorf("order = [%s %s %s], want [c2 c3 c1]", s[0].CatalogID, s[1].CatalogID, s[2].CatalogID)
		}
	})

	t.Run("title is case-insensitive", func(t *testing.T) {
		s := CloneItems(items)
		SortItems(s, SortTitle)
		if s[0].Title != "Apple" || s[1].Title != "banana" || s[2].Title != "cherry" {
			t.Errorf("order = [%s %s %s], want [Apple banana cherry]", s[0].Title, s[1].Title, s[2].Title)
		}
	})

	t.Run("artist then title", func(t *testing.T) {
		s := CloneItems(items)
		SortItems(s, SortArtist)
		if s[0].CatalogID != "c2" || s[1].CatalogID != "c3" || s[2].CatalogID != "c1" {
			t.Errorf("order = [%s %s %s], want [c2 c3 c1]", s[0].CatalogID, s[1].CatalogID, s[2].CatalogID)
		}
	})

	t.Run("rating then newest", func(t *testing.T) {
		s := CloneItems(items)
		SortItems(s, SortRating)
		if s[0].CatalogID != "c2" || s[1].CatalogID != "c3" || s[2].CatalogID != "c1" {
			t.Errorf("order = [%s %s %s], want [c2 c3 c1]", s[0].CatalogID, s[1].CatalogID, s[2].CatalogID)
		}
	})
}

func TestCloneItems_Nil(t *testing.T) {
	if CloneItems(nil) != nil {
		t.Error("CloneItems(nil) should stay nil")
	}
}
