package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/soundkeep/soundkeep/internal/model"
)

// Client is the HTTP implementation of [Collection] against the library
// document API:
//
//	GET    /v1/collections/{name}/documents          list (meta included)
//	PATCH  /v1/collections/{name}/documents/{id}     merge-upsert
//	DELETE /v1/collections/{name}/documents/{id}     delete
//	GET    /healthz                                  liveness probe
//
// The meta sentinel document shares the documents namespace under
// [MetaDocID]. Every call is wrapped in [Retry] and bounded by the
// configured request timeout.
type Client struct {
	baseURL    string
	collection string
	token      string
	timeout    time.Duration
	attempts   int
	hc         *http.Client
	log        *slog.Logger
}

// NewClient creates a Client for the given collection. timeout bounds each
// individual HTTP attempt; zero means 15s.
func NewClient(baseURL, token, collection string, timeout time.Duration, logger *slog.Logger) *Client {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		collection: collection,
		token:      token,
		timeout:    timeout,
		attempts:   defaultMaxAttempts,
		hc:         &http.Client{},
		log:        logger,
	}
}

// SetMaxAttempts overrides the per-call retry budget. Values below 1 are
// ignored.
func (c *Client) SetMaxAttempts(n int) {
	if n >= 1 {
		c.attempts = n
	}
}

// --- wire format -------------------------------------------------------------

// documentDTO is the wire shape of an item document. Timestamps travel as
// unix milliseconds. The remote id is the document key, not a field, so it is
// only present on list responses.
type documentDTO struct {
	ID            string           `json:"id,omitempty"`
	CatalogID     string           `json:"catalog_id"`
	Title         string           `json:"title"`
	Artist        string           `json:"artist,omitempty"`
	Album         string           `json:"album,omitempty"`
	Rating        int              `json:"rating"`
	Tags          []string         `json:"tags,omitempty"`
	RatingHistory []ratingEntryDTO `json:"rating_history,omitempty"`
	SavedAt       int64            `json:"saved_at,omitempty"`
	LastModified  int64            `json:"last_modified,omitempty"`
}

type ratingEntryDTO struct {
	Rating int   `json:"rating"`
	At     int64 `json:"at"`
}

type listResponse struct {
	Documents []documentDTO `json:"documents"`
}

func toDTO(item model.LibraryItem) documentDTO {
	dto := documentDTO{
		CatalogID: item.CatalogID,
		Title:     item.Title,
		Artist:    item.Artist,
		Album:     item.Album,
		Rating:    item.Rating,
		Tags:      item.Tags,
		SavedAt:   item.SavedAt.UnixMilli(),
	}
	for _, e := range item.RatingHistory {
		dto.RatingHistory = append(dto.RatingHistory, ratingEntryDTO{Rating: e.Rating, At: e.At.UnixMilli()})
	}
	return dto
}

func fromDTO(dto documentDTO) model.LibraryItem {
	item := model.LibraryItem{
		CatalogID: dto.CatalogID,
		RemoteID:  dto.ID,
		Title:     dto.Title,
		Artist:    dto.Artist,
		Album:     dto.Album,
		Rating:    dto.Rating,
		Tags:      dto.Tags,
	}
	if dto.SavedAt > 0 {
		item.SavedAt = time.UnixMilli(dto.SavedAt).UTC()
	}
	for _, e := range dto.RatingHistory {
		item.RatingHistory = append(item.RatingHistory, model.RatingEntry{
			Rating: e.Rating,
			At:     time.UnixMilli(e.At).UTC(),
		})
	}
	return item
}

// --- Collection --------------------------------------------------------------

func (c *Client) Upsert(ctx context.Context, id string, item model.LibraryItem) error {
	body, err := json.Marshal(toDTO(item))
	if err != nil {
		return fmt.Errorf("marshalling document %q: %w", id, err)
	}
	err = Retry(ctx, c.attempts, func() error {
		return c.do(ctx, http.MethodPatch, c.docURL(id), body, nil)
	})
	if err != nil {
		return fmt.Errorf("upsert document %q: %w", id, err)
	}
	return nil
}

func (c *Client) PatchRatingHistory(ctx context.Context, id string, history []model.RatingEntry) error {
	dtos := make([]ratingEntryDTO, 0, len(history))
	for _, e := range history {
		dtos = append(dtos, ratingEntryDTO{Rating: e.Rating, At: e.At.UnixMilli()})
	}
	body, err := json.Marshal(map[string][]ratingEntryDTO{"rating_history": dtos})
	if err != nil {
		return fmt.Errorf("marshalling history patch %q: %w", id, err)
	}
	err = Retry(ctx, c.attempts, func() error {
		return c.do(ctx, http.MethodPatch, c.docURL(id), body, nil)
	})
	if err != nil {
		return fmt.Errorf("patch rating history %q: %w", id, err)
	}
	return nil
}

func (c *Client) Delete(ctx context.Context, id string) error {
	err := Retry(ctx, c.attempts, func() error {
		err := c.do(ctx, http.MethodDelete, c.docURL(id), nil, nil)
		if errors.Is(err, errNotFound) {
			// Already gone; treat as confirmed.
			return nil
		}
		return err
	})
	if err != nil {
		return fmt.Errorf("delete document %q: %w", id, err)
	}
	return nil
}

func (c *Client) ReadAll(ctx context.Context) ([]model.LibraryItem, error) {
	var resp listResponse
	err := Retry(ctx, c.attempts, func() error {
		return c.do(ctx, http.MethodGet, c.docsURL(), nil, &resp)
	})
	if err != nil {
		return nil, fmt.Errorf("listing documents: %w", err)
	}

	items := make([]model.LibraryItem, 0, len(resp.Documents))
	for _, dto := range resp.Documents {
		if dto.ID == MetaDocID {
			continue
		}
		items = append(items, fromDTO(dto))
	}
	return items, nil
}

func (c *Client) ReadMeta(ctx context.Context) (time.Time, bool, error) {
	var dto documentDTO
	err := Retry(ctx, c.attempts, func() error {
		err := c.do(ctx, http.MethodGet, c.docURL(MetaDocID), nil, &dto)
		if errors.Is(err, errNotFound) {
			// First launch against a fresh collection.
			dto = documentDTO{}
			return nil
		}
		return err
	})
	if err != nil {
		return time.Time{}, false, fmt.Errorf("reading meta document: %w", err)
	}
	if dto.LastModified <= 0 {
		return time.Time{}, false, nil
	}
	return time.UnixMilli(dto.LastModified).UTC(), true, nil
}

func (c *Client) WriteMeta(ctx context.Context, lastModified time.Time) error {
	body, err := json.Marshal(map[string]int64{"last_modified": lastModified.UnixMilli()})
	if err != nil {
		return fmt.Errorf("marshalling meta document: %w", err)
	}
	err = Retry(ctx, c.attempts, func() error {
		return c.do(ctx, http.MethodPatch, c.docURL(MetaDocID), body, nil)
	})
	if err != nil {
		return fmt.Errorf("writing meta document: %w", err)
	}
	return nil
}

// Ping checks that the remote store is reachable and the token accepted.
// No retry: the connectivity probe calls this on a tight cadence and treats
// any failure as offline.
func (c *Client) Ping(ctx context.Context) error {
	return c.do(ctx, http.MethodGet, c.baseURL+"/healthz", nil, nil)
}

// --- HTTP plumbing -----------------------------------------------------------

// errNotFound marks a 404 response so callers can treat it specially.
var errNotFound = errors.New("document not found")

func (c *Client) docsURL() string {
	return fmt.Sprintf("%s/v1/collections/%s/documents", c.baseURL, url.PathEscape(c.collection))
}

func (c *Client) docURL(id string) string {
	return c.docsURL() + "/" + url.PathEscape(id)
}

// do issues one HTTP request bounded by the client timeout and decodes the
// JSON response into out when out is non-nil.
func (c *Client) do(ctx context.Context, method, endpoint string, body []byte, out any) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.hc.Do(req)
	if err != nil {
		return fmt.Errorf("execute request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return errNotFound
	case resp.StatusCode == http.StatusUnauthorized:
		return fmt.Errorf("remote returned 401 Unauthorized; check remote_token")
	case resp.StatusCode == http.StatusBadRequest:
		var br struct {
			Message string `json:"message"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&br)
		if br.Message != "" {
			return errors.New(br.Message)
		}
		return fmt.Errorf("remote returned 400 Bad Request")
	case resp.StatusCode >= 300:
		return fmt.Errorf("remote returned unexpected status %d", resp.StatusCode)
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}
