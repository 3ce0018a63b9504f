package steam

import (
	"context"
	"net/url"
	"strconv"
)

// AppNews returns up to count news items for an app, newest first.
func (c *Client) AppNews(ctx context.Context, appID uint32, count int) ([]NewsItem, error) {
	q := url.Values{}
	q.Set("appid", strconv.FormatUint(uint64(appID), 10))
	q.Set("count", strconv.Itoa(count))
	q.Set("maxlength", "0")

	var body struct {
		AppNews struct {
			NewsItems []struct {
				GID       string `json:"gid"`
				Title     string `json:"title"`
				URL       string `json:"url"`
				Author    string `json:"author"`
				Contents  string `json:"contents"`
				FeedLabel string `json:"feedlabel"`
				Date      int64  `json:"date"`
			} `json:"newsitems"`
		} `json:"appnews"`
	}
	if err := c.getJSON(ctx, c.apiURL("/ISteamNews/GetNewsForApp/v2/", q), &body); err != nil {
		return nil, err
	}
	out := make([]NewsItem, 0, len(body.AppNews.NewsItems))
	for _, n := range body.AppNews.NewsItems {
		out = append(out, NewsItem{
			ID:        n.GID,
			Title:     n.Title,
			URL:       n.URL,
			Author:    n.Author,
			Contents:  n.Contents,
			FeedLabel: n.FeedLabel,
			Date:      unix(n.Date),
		})
	}
	return out, nil
}

// GroupNews returns up to count announcements of a community group (clan
// account id), newest first.
func (c *Client) GroupNews(ctx context.Context, clanID uint32, count int) ([]NewsItem, error) {
	q := url.Values{}
	q.Set("clan_accountid", strconv.FormatUint(uint64(clanID), 10))
	q.Set("offset", "0")
	q.Set("count", strconv.Itoa(count))
	q.Set("l", c.cfg.Language)

	var body struct {
		Events []struct {
			GID          string `json:"gid"`
			EventName    string `json:"event_name"`
			Announcement struct {
				GID      string `json:"gid"`
				Headline string `json:"headline"`
				Body     string `json:"body"`
				PostTime int64  `json:"posttime"`
			} `json:"announcement_body"`
		} `json:"events"`
	}
	u := c.cfg.StoreBase + "/events/ajaxgetpartnereventspageable/?" + q.Encode()
	if err := c.getJSON(ctx, u, &body); err != nil {
		return nil, err
	}
	out := make([]NewsItem, 0, len(body.Events))
	for _, e := range body.Events {
		title := e.Announcement.Headline
		if title == "" {
			title = e.EventName
		}
		id := e.Announcement.GID
		if id == "" {
			id = e.GID
		}
		out = append(out, NewsItem{
			ID:       id,
			Title:    title,
			URL:      c.cfg.StoreBase + "/news/app/0/view/" + id,
			Contents: e.Announcement.Body,
			Date:     unix(e.Announcement.PostTime),
		})
	}
	return out, nil
}

// CuratorReviews returns up to count recommendations of a curator, newest
// first.
func (c *Client) CuratorReviews(ctx context.Context, curatorID uint32, count int) ([]CuratorReview, error) {
	q := url.Values{}
	q.Set("start", "0")
	q.Set("count", strconv.Itoa(count))
	q.Set("sort", "recent")
	q.Set("return_json", "1")

	var body struct {
		Recommendations []struct {
			AppID          uint32 `json:"appid"`
			State          int    `json:"recommendation_state"`
			Blurb          string `json:"blurb"`
			LinkURL        string `json:"link_url"`
			TimeRecommends int64  `json:"time_recommended"`
		} `json:"recommendations"`
	}
	u := c.cfg.StoreBase + "/curator/" + strconv.FormatUint(uint64(curatorID), 10) + "/ajaxgetfilteredrecommendations/?" + q.Encode()
	if err := c.getJSON(ctx, u, &body); err != nil {
		return nil, err
	}
	out := make([]CuratorReview, 0, len(body.Recommendations))
	for _, r := range body.Recommendations {
		link := r.LinkURL
		if link == "" {
			link = c.cfg.StoreBase + "/app/" + strconv.FormatUint(uint64(r.AppID), 10)
		}
		out = append(out, CuratorReview{
			AppID:          r.AppID,
			Recommendation: r.State,
			Blurb:          r.Blurb,
			URL:            link,
			Posted:         unix(r.TimeRecommends),
		})
	}
	return out, nil
}
