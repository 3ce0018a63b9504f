package steam

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"steamwatch/internal/domain"
)

// currencyCountry maps a price currency to a storefront country that
// prices in it.
var currencyCountry = map[string]string{
	"USD": "us", "EUR": "de", "GBP": "gb", "RUB": "ru", "BRL": "br",
	"JPY": "jp", "IDR": "id", "MYR": "my", "PHP": "ph", "SGD": "sg",
	"THB": "th", "VND": "vn", "KRW": "kr", "UAH": "ua", "MXN": "mx",
	"CAD": "ca", "AUD": "au", "NZD": "nz", "NOK": "no", "PLN": "pl",
	"CHF": "ch", "CNY": "cn", "INR": "in", "CLP": "cl", "PEN": "pe",
	"COP": "co", "ZAR": "za", "HKD": "hk", "TWD": "tw", "SAR": "sa",
	"AED": "ae", "ILS": "il", "KZT": "kz", "KWD": "kw", "QAR": "qa",
	"CRC": "cr", "UYU": "uy",
}

// CountryFor returns the storefront country code used for currency.
func CountryFor(currency string) (string, bool) {
	cc, ok := currencyCountry[strings.ToUpper(currency)]
	return cc, ok
}

type storePrice struct {
	Currency        string `json:"currency"`
	Initial         int64  `json:"initial"`
	Final           int64  `json:"final"`
	DiscountPercent int    `json:"discount_percent"`
}

// Prices returns the current prices of items of one type in one currency.
// Items the storefront does not sell come back with Available false.
func (c *Client) Prices(ctx context.Context, t domain.PriceType, currency string, ids []uint32) ([]Price, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	cc, ok := CountryFor(currency)
	if !ok {
		return nil, fmt.Errorf("steam: no storefront for currency %q", currency)
	}
	switch t {
	case domain.PriceApp:
		return c.appPrices(ctx, cc, currency, ids)
	case domain.PriceSub:
		return c.packagePrices(ctx, cc, currency, ids)
	default:
		return nil, fmt.Errorf("%w: %s prices", ErrUnsupported, t)
	}
}

func (c *Client) appPrices(ctx context.Context, cc, currency string, ids []uint32) ([]Price, error) {
	q := url.Values{}
	q.Set("appids", joinIDs(ids))
	q.Set("cc", cc)
	q.Set("filters", "price_overview")

	var body map[string]struct {
		Success bool `json:"success"`
		// An empty array when the app has no price in this store.
		Data any `json:"data"`
	}
	if err := c.getJSON(ctx, c.cfg.StoreBase+"/api/appdetails?"+q.Encode(), &body); err != nil {
		return nil, err
	}
	out := make([]Price, 0, len(ids))
	for _, id := range ids {
		p := Price{ItemID: id, Currency: strings.ToUpper(currency)}
		if e, ok := body[strconv.FormatUint(uint64(id), 10)]; ok && e.Success {
			if sp, ok := decodePriceOverview(e.Data, "price_overview"); ok && strings.EqualFold(sp.Currency, currency) {
				p.Available = true
				p.Initial, p.Final, p.Discount = sp.Initial, sp.Final, sp.DiscountPercent
			}
		}
		out = append(out, p)
	}
	return out, nil
}

func (c *Client) packagePrices(ctx context.Context, cc, currency string, ids []uint32) ([]Price, error) {
	q := url.Values{}
	q.Set("packageids", joinIDs(ids))
	q.Set("cc", cc)

	var body map[string]struct {
		Success bool `json:"success"`
		Data    any  `json:"data"`
	}
	if err := c.getJSON(ctx, c.cfg.StoreBase+"/api/packagedetails?"+q.Encode(), &body); err != nil {
		return nil, err
	}
	out := make([]Price, 0, len(ids))
	for _, id := range ids {
		p := Price{ItemID: id, Currency: strings.ToUpper(currency)}
		if e, ok := body[strconv.FormatUint(uint64(id), 10)]; ok && e.Success {
			if m, ok := e.Data.(map[string]any); ok {
				p.Name, _ = m["name"].(string)
			}
			if sp, ok := decodePriceOverview(e.Data, "price"); ok && strings.EqualFold(sp.Currency, currency) {
				p.Available = true
				p.Initial, p.Final, p.Discount = sp.Initial, sp.Final, sp.DiscountPercent
			}
		}
		out = append(out, p)
	}
	return out, nil
}

// decodePriceOverview pulls data[key] out of a loosely typed payload.
func decodePriceOverview(data any, key string) (storePrice, bool) {
	m, ok := data.(map[string]any)
	if !ok {
		return storePrice{}, false
	}
	raw, ok := m[key].(map[string]any)
	if !ok {
		return storePrice{}, false
	}
	num := func(k string) int64 {
		f, _ := raw[k].(float64)
		return int64(f)
	}
	sp := storePrice{
		Initial:         num("initial"),
		Final:           num("final"),
		DiscountPercent: int(num("discount_percent")),
	}
	sp.Currency, _ = raw["currency"].(string)
	return sp, true
}

// Changes lists apps modified after since, up to limit. Marker is the
// newest modification time seen and should be passed back as since.
func (c *Client) Changes(ctx context.Context, since time.Time, limit int) (Changes, error) {
	q := url.Values{}
	if !since.IsZero() {
		q.Set("if_modified_since", strconv.FormatInt(since.Unix(), 10))
	}
	q.Set("max_results", strconv.Itoa(limit))
	q.Set("include_games", "true")
	q.Set("include_dlc", "true")
	q.Set("include_software", "true")

	var body struct {
		Response struct {
			Apps []struct {
				AppID        uint32 `json:"appid"`
				LastModified int64  `json:"last_modified"`
			} `json:"apps"`
			HaveMore bool `json:"have_more_results"`
		} `json:"response"`
	}
	if err := c.getJSON(ctx, c.apiURL("/IStoreService/GetAppList/v1/", q), &body); err != nil {
		return Changes{}, err
	}
	out := Changes{Marker: since, More: body.Response.HaveMore}
	for _, a := range body.Response.Apps {
		out.AppIDs = append(out.AppIDs, a.AppID)
		if t := unix(a.LastModified); t.After(out.Marker) {
			out.Marker = t
		}
	}
	return out, nil
}

func joinIDs(ids []uint32) string {
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = strconv.FormatUint(uint64(id), 10)
	}
	return strings.Join(parts, ",")
}
