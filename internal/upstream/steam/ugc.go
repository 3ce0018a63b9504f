package steam

import (
	"context"
	"net/http"
	"net/url"
	"strconv"
	"strings"
)

// Query types for IPublishedFileService/QueryFiles.
const (
	queryRankedByPublicationDate = 1
	queryRankedByLastUpdatedDate = 21
)

type publishedFile struct {
	PublishedFileID string `json:"publishedfileid"`
	Result          int    `json:"result"`
	Title           string `json:"title"`
	Creator         string `json:"creator"`
	ConsumerAppID   uint32 `json:"consumer_appid"`
	ConsumerAppID2  uint32 `json:"consumer_app_id"`
	PreviewURL      string `json:"preview_url"`
	TimeCreated     int64  `json:"time_created"`
	TimeUpdated     int64  `json:"time_updated"`
	Banned          any    `json:"banned"`
	BanReason       string `json:"ban_reason"`
}

func (f publishedFile) appID() uint32 {
	if f.ConsumerAppID != 0 {
		return f.ConsumerAppID
	}
	return f.ConsumerAppID2
}

// banned accepts both the boolean and the 0/1 encodings the endpoints use.
func (f publishedFile) banned() bool {
	switch v := f.Banned.(type) {
	case bool:
		return v
	case float64:
		return v != 0
	default:
		return false
	}
}

// WorkshopItems returns one page of an app's workshop listing, newest
// first. byUpdate orders by last update instead of publication. Pass "*"
// or "" as cursor for the first page.
func (c *Client) WorkshopItems(ctx context.Context, appID uint32, byUpdate bool, cursor string, perPage int) (WorkshopPage, error) {
	if cursor == "" {
		cursor = "*"
	}
	qt := queryRankedByPublicationDate
	if byUpdate {
		qt = queryRankedByLastUpdatedDate
	}
	q := url.Values{}
	q.Set("appid", strconv.FormatUint(uint64(appID), 10))
	q.Set("query_type", strconv.Itoa(qt))
	q.Set("cursor", cursor)
	q.Set("numperpage", strconv.Itoa(perPage))
	q.Set("return_details", "true")
	q.Set("return_previews", "true")

	var body struct {
		Response struct {
			Files      []publishedFile `json:"publishedfiledetails"`
			NextCursor string          `json:"next_cursor"`
		} `json:"response"`
	}
	if err := c.getJSON(ctx, c.apiURL("/IPublishedFileService/QueryFiles/v1/", q), &body); err != nil {
		return WorkshopPage{}, err
	}
	page := WorkshopPage{Items: make([]WorkshopItem, 0, len(body.Response.Files))}
	for _, f := range body.Response.Files {
		page.Items = append(page.Items, WorkshopItem{
			ID:         f.PublishedFileID,
			AppID:      f.appID(),
			Title:      f.Title,
			Creator:    f.Creator,
			PreviewURL: f.PreviewURL,
			Created:    unix(f.TimeCreated),
			Updated:    unix(f.TimeUpdated),
		})
	}
	// The API echoes the cursor on the last page.
	if body.Response.NextCursor != cursor && len(page.Items) > 0 {
		page.Next = body.Response.NextCursor
	}
	return page, nil
}

// UGCDetails returns the current details of each item, in request order.
// Unknown ids come back with a non-OK Result.
func (c *Client) UGCDetails(ctx context.Context, ids []string) ([]UGCDetail, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	form := url.Values{}
	form.Set("itemcount", strconv.Itoa(len(ids)))
	for i, id := range ids {
		form.Set("publishedfileids["+strconv.Itoa(i)+"]", id)
	}
	var body struct {
		Response struct {
			Files []publishedFile `json:"publishedfiledetails"`
		} `json:"response"`
	}
	u := c.cfg.APIBase + "/ISteamRemoteStorage/GetPublishedFileDetails/v1/"
	if err := c.doJSON(ctx, http.MethodPost, u, "application/x-www-form-urlencoded", []byte(form.Encode()), &body); err != nil {
		return nil, err
	}

	byID := make(map[string]publishedFile, len(body.Response.Files))
	for _, f := range body.Response.Files {
		byID[f.PublishedFileID] = f
	}
	out := make([]UGCDetail, 0, len(ids))
	for _, id := range ids {
		f, ok := byID[id]
		if !ok {
			out = append(out, UGCDetail{ID: id, Result: 9})
			continue
		}
		out = append(out, UGCDetail{
			ID:         id,
			AppID:      f.appID(),
			Title:      f.Title,
			PreviewURL: f.PreviewURL,
			Result:     f.Result,
			Banned:     f.banned(),
			BanReason:  f.BanReason,
			Updated:    unix(f.TimeUpdated),
		})
	}
	return out, nil
}

// UGCChangeHistory returns up to count change notes of an item, newest
// first.
func (c *Client) UGCChangeHistory(ctx context.Context, id string, count int) ([]ChangeNote, error) {
	q := url.Values{}
	q.Set("publishedfileid", id)
	q.Set("total_only", "false")
	q.Set("startindex", "0")
	q.Set("count", strconv.Itoa(count))
	q.Set("language", "0")

	var body struct {
		Response struct {
			Changes []struct {
				Timestamp   int64  `json:"timestamp"`
				Description string `json:"change_description"`
			} `json:"changes"`
		} `json:"response"`
	}
	if err := c.getJSON(ctx, c.apiURL("/IPublishedFileService/GetChangeHistory/v1/", q), &body); err != nil {
		return nil, err
	}
	out := make([]ChangeNote, 0, len(body.Response.Changes))
	for _, ch := range body.Response.Changes {
		out = append(out, ChangeNote{Time: unix(ch.Timestamp), Description: strings.TrimSpace(ch.Description)})
	}
	return out, nil
}
