package vocu

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
)

// History paging.
const (
	HistoryPageSize = 20
	// MaxHistoryPages caps how many pages FetchMultiPage requests.
	MaxHistoryPages = 5
)

// HistoryRecord is one past generation.
type HistoryRecord struct {
	RoleName string
	Text     string
	AudioURL string
}

func (h HistoryRecord) String() string {
	return fmt.Sprintf("%s: %s\n%s", h.RoleName, h.Text, h.AudioURL)
}

// historyItem mirrors one entry of the history list.
type historyItem struct {
	Metadata *struct {
		Voices []struct {
			Name string `json:"name"`
		} `json:"voices"`
		Contents []struct {
			Text  string `json:"text"`
			Audio string `json:"audio"`
		} `json:"contents"`
	} `json:"metadata"`
}

// record reconstructs a HistoryRecord, reporting false when a required field
// is missing or empty.
func (item historyItem) record() (HistoryRecord, bool) {
	meta := item.Metadata
	if meta == nil || len(meta.Voices) == 0 || len(meta.Contents) == 0 {
		return HistoryRecord{}, false
	}

	name := meta.Voices[0].Name
	content := meta.Contents[0]

	if name == "" || content.Text == "" || content.Audio == "" {
		return HistoryRecord{}, false
	}

	return HistoryRecord{RoleName: name, Text: content.Text, AudioURL: content.Audio}, true
}

// FetchPage fetches one page of history. Malformed entries are skipped.
func (c *Client) FetchPage(ctx context.Context, offset, limit int) ([]HistoryRecord, error) {
	query := url.Values{
		"offset": []string{strconv.Itoa(offset)},
		"limit":  []string{strconv.Itoa(limit)},
		"stream": []string{"true"},
	}

	env, err := c.call(ctx, "history", http.MethodGet, apiGenerate, query, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch history %d-%d: %w", offset, offset+limit, err)
	}

	var items []json.RawMessage

	err = decodeData(env, "history list", &items)
	if err != nil {
		return nil, err
	}

	records := make([]HistoryRecord, 0, len(items))

	for _, raw := range items {
		var item historyItem

		if json.Unmarshal(raw, &item) != nil {
			continue
		}

		record, ok := item.record()
		if !ok {
			continue
		}

		records = append(records, record)
	}

	return records, nil
}

// FetchMultiPage fetches up to approxSize/HistoryPageSize pages, never more
// than MaxHistoryPages. A failing page stops iteration and keeps what was
// already collected; ErrEmptyHistory is returned only when nothing was.
func (c *Client) FetchMultiPage(ctx context.Context, approxSize int) ([]HistoryRecord, error) {
	pages := min(approxSize/HistoryPageSize, MaxHistoryPages)

	var histories []HistoryRecord

	for page := range pages {
		offset := page * HistoryPageSize

		records, err := c.FetchPage(ctx, offset, HistoryPageSize)
		if err != nil {
			c.logger.Error("Failed to fetch history %d-%d: %v", offset, offset+HistoryPageSize, err)

			break
		}

		histories = append(histories, records...)
	}

	if len(histories) == 0 {
		return nil, ErrEmptyHistory
	}

	c.historyMu.Lock()
	c.histories = histories
	c.historyMu.Unlock()

	return c.Histories(), nil
}

// Histories returns a copy of the last FetchMultiPage result.
func (c *Client) Histories() []HistoryRecord {
	c.historyMu.RLock()
	defer c.historyMu.RUnlock()

	histories := make([]HistoryRecord, len(c.histories))
	copy(histories, c.histories)

	return histories
}
