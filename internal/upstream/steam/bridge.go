package steam

import (
	"context"
	"net/http"
	"net/url"
	"strconv"

	"github.com/goccy/go-json"

	"steamwatch/internal/domain"
)

type bridgeApp struct {
	ID          uint32   `json:"appid"`
	Name        string   `json:"name"`
	Type        string   `json:"type"`
	LastUpdated int64    `json:"last_updated"`
	Packages    []uint32 `json:"packages"`
}

type bridgePackage struct {
	ID          uint32   `json:"packageid"`
	Name        string   `json:"name"`
	BillingType int      `json:"billingtype"`
	LicenseType int      `json:"licensetype"`
	Status      int      `json:"status"`
	AppIDs      []uint32 `json:"appids"`
	StartTime   int64    `json:"starttime"`
	ExpiryTime  int64    `json:"expirytime"`
	LastUpdated int64    `json:"last_updated"`
}

// ProductInfo fetches bulk metadata for apps and packages in one call.
func (c *Client) ProductInfo(ctx context.Context, appIDs, packageIDs []uint32) (ProductInfo, error) {
	if !c.hasBridge() {
		return ProductInfo{}, ErrUnsupported
	}
	if len(appIDs) == 0 && len(packageIDs) == 0 {
		return ProductInfo{}, nil
	}
	req, err := json.Marshal(struct {
		Apps     []uint32 `json:"apps"`
		Packages []uint32 `json:"packages"`
	}{appIDs, packageIDs})
	if err != nil {
		return ProductInfo{}, err
	}

	var body struct {
		Apps     []bridgeApp     `json:"apps"`
		Packages []bridgePackage `json:"packages"`
	}
	if err := c.doJSON(ctx, http.MethodPost, c.cfg.BridgeURL+"/productinfo", "application/json", req, &body); err != nil {
		return ProductInfo{}, err
	}

	out := ProductInfo{
		Apps:     make([]domain.AppInfo, 0, len(body.Apps)),
		Packages: make([]domain.PackageInfo, 0, len(body.Packages)),
	}
	for _, a := range body.Apps {
		out.Apps = append(out.Apps, domain.AppInfo{ID: a.ID, Name: a.Name, Type: a.Type, LastUpdate: unix(a.LastUpdated), PackageIDs: a.Packages})
	}
	for _, p := range body.Packages {
		out.Packages = append(out.Packages, domain.PackageInfo{
			ID:          p.ID,
			Name:        p.Name,
			BillingType: p.BillingType,
			LicenseType: p.LicenseType,
			Status:      p.Status,
			AppIDs:      p.AppIDs,
			StartTime:   unix(p.StartTime),
			ExpiryTime:  unix(p.ExpiryTime),
			LastUpdate:  unix(p.LastUpdated),
		})
	}
	return out, nil
}

// ForumTopics returns one page (1-based) of a forum listing, newest first.
func (c *Client) ForumTopics(ctx context.Context, forumID string, page int) (TopicPage, error) {
	if !c.hasBridge() {
		return TopicPage{}, ErrUnsupported
	}
	if page < 1 {
		page = 1
	}
	var body struct {
		Topics []struct {
			ID       string `json:"id"`
			Title    string `json:"title"`
			Author   string `json:"author"`
			URL      string `json:"url"`
			Replies  int    `json:"replies"`
			LastPost int64  `json:"last_post"`
			Pinned   bool   `json:"pinned"`
			Locked   bool   `json:"locked"`
			Solved   bool   `json:"solved"`
		} `json:"topics"`
		More bool `json:"more"`
	}
	u := c.cfg.BridgeURL + "/forums/" + url.PathEscape(forumID) + "/topics?page=" + strconv.Itoa(page)
	if err := c.getJSON(ctx, u, &body); err != nil {
		return TopicPage{}, err
	}
	out := TopicPage{Topics: make([]Topic, 0, len(body.Topics)), More: body.More}
	for _, t := range body.Topics {
		out.Topics = append(out.Topics, Topic{
			ID:       t.ID,
			Title:    t.Title,
			Author:   t.Author,
			URL:      t.URL,
			Replies:  t.Replies,
			LastPost: unix(t.LastPost),
			Pinned:   t.Pinned,
			Locked:   t.Locked,
			Solved:   t.Solved,
		})
	}
	return out, nil
}
