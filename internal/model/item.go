// Package model defines shared types used across the sync engine and ports.
package model

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// Rating bounds. 0 means unrated; 5 is the maximum star rating.
const (
	MinRating = 0
	MaxRating = 5
)

// ValidRating reports whether r is inside the allowed rating range.
func ValidRating(r int) bool {
	return r >= MinRating && r <= MaxRating
}

// SortMode selects the ordering of the published library snapshot.
type SortMode int

const (
	// SortRecent orders by SavedAt, newest first. This is the default.
	SortRecent SortMode = iota
	// SortTitle orders alphabetically by track title.
	SortTitle
	// SortArtist orders alphabetically by artist, then title.
	SortArtist
	// SortRating orders by rating, highest first, then newest.
	SortRating
)

// String returns the config/CLI label for the sort mode.
func (m SortMode) String() string {
	switch m {
	case SortTitle:
		return "title"
	case SortArtist:
		return "artist"
	case SortRating:
		return "rating"
	default:
		return "recent"
	}
}

// ParseSortMode maps a label to a SortMode. Unknown labels fall back to
// SortRecent.
func ParseSortMode(s string) SortMode {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "title":
		return SortTitle
	case "artist":
		return SortArtist
	case "rating":
		return SortRating
	default:
		return SortRecent
	}
}

// RatingEntry is one row of an item's append-only rating history.
type RatingEntry struct {
	Rating int       `json:"rating"`
	At     time.Time `json:"at"`
}

// LibraryItem is one saved track. Items are owned by the library service's
// in-memory snapshot and mutated only through its actions; everything handed
// out to callers is a deep copy.
type LibraryItem struct {
	// CatalogID is the stable identifier from the third-party music catalog.
	CatalogID string `json:"catalog_id"`

	// RemoteID is the remote store document id. Assigned client-side (uuid)
	// when the item is first saved, so offline adds already carry the id the
	// document will have once pushed.
	RemoteID string `json:"remote_id"`

	Title  string `json:"title"`
	Artist string `json:"artist,omitempty"`
	Album  string `json:"album,omitempty"`

	// Rating is the current star rating, MinRating..MaxRating.
	Rating int `json:"rating"`

	// Tags holds references to user-defined tags.
	Tags []string `json:"tags,omitempty"`

	// RatingHistory records every rating change as {rating, timestamp}.
	// Append-only except for explicit per-entry deletion.
	RatingHistory []RatingEntry `json:"rating_history,omitempty"`

	// SavedAt is when the track was added to the library.
	SavedAt time.Time `json:"saved_at"`
}

// Validate checks the fields required before an item may be added to the
// library.
func (i *LibraryItem) Validate() error {
	if strings.TrimSpace(i.CatalogID) == "" {
		return fmt.Errorf("catalog id is required")
	}
	if strings.TrimSpace(i.Title) == "" {
		return fmt.Errorf("title is required")
	}
	if !ValidRating(i.Rating) {
		return fmt.Errorf("rating %d out of range %d..%d", i.Rating, MinRating, MaxRating)
	}
	return nil
}

// Clone returns a deep copy of the item.
func (i LibraryItem) Clone() LibraryItem {
	cp := i
	if i.Tags != nil {
		cp.Tags = make([]string, len(i.Tags))
		copy(cp.Tags, i.Tags)
	}
	if i.RatingHistory != nil {
		cp.RatingHistory = make([]RatingEntry, len(i.RatingHistory))
		copy(cp.RatingHistory, i.RatingHistory)
	}
	return cp
}

// CloneItems deep-copies a slice of items.
func CloneItems(items []LibraryItem) []LibraryItem {
	if items == nil {
		return nil
	}
	out := make([]LibraryItem, len(items))
	for idx, it := range items {
		out[idx] = it.Clone()
	}
	return out
}

// SortItems orders items in place according to mode. Tie-breaking is
// deterministic, so repeated sorts of the same snapshot produce identical
// output.
func SortItems(items []LibraryItem, mode SortMode) {
	switch mode {
	case SortTitle:
		sort.SliceStable(items, func(a, b int) bool {
			return lessFold(items[a].Title, items[b].Title)
		})
	case SortArtist:
		sort.SliceStable(items, func(a, b int) bool {
			if !strings.EqualFold(items[a].Artist, items[b].Artist) {
				return lessFold(items[a].Artist, items[b].Artist)
			}
			return lessFold(items[a].Title, items[b].Title)
		})
	case SortRating:
		sort.SliceStable(items, func(a, b int) bool {
			if items[a].Rating != items[b].Rating {
				return items[a].Rating > items[b].Rating
			}
			return items[a].SavedAt.After(items[b].SavedAt)
		})
	default: // SortRecent
		sort.SliceStable(items, func(a, b int) bool {
			return items[a].SavedAt.After(items[b].SavedAt)
		})
	}
}

func lessFold(a, b string) bool {
	return strings.ToLower(a) < strings.ToLower(b)
}
