package watcher

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"steamwatch/internal/domain"
	"steamwatch/internal/transport"
	"steamwatch/internal/upstream/steam"
)

const (
	colorSteam   = 0x1b2838
	colorGreen   = 0x4c6b22
	colorRed     = 0xa93226
	colorOrange  = 0xd35400
	colorNeutral = 0x67707b

	maxDescription = 400
	storeBase      = "https://store.steampowered.com"
	communityBase  = "https://steamcommunity.com"
)

func stamp(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

func clip(s string, n int) string {
	s = strings.TrimSpace(s)
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}

func newsEmbed(name string, it steam.NewsItem) transport.Embed {
	e := transport.Embed{
		Title:       clip(it.Title, 256),
		URL:         it.URL,
		Description: clip(it.Contents, maxDescription),
		Color:       colorSteam,
		Timestamp:   stamp(it.Date),
	}
	if name != "" || it.FeedLabel != "" {
		e.Footer = &transport.EmbedFooter{Text: strings.TrimSpace(name + " · " + it.FeedLabel)}
		e.Footer.Text = strings.Trim(e.Footer.Text, " ·")
	}
	if it.Author != "" {
		e.Author = &transport.EmbedAuthor{Name: it.Author}
	}
	return e
}

func reviewEmbed(curator string, r steam.CuratorReview) transport.Embed {
	verdict, color := "Recommended", colorGreen
	switch r.Recommendation {
	case steam.NotRecommended:
		verdict, color = "Not recommended", colorRed
	case steam.Informational:
		verdict, color = "Informational", colorNeutral
	}
	e := transport.Embed{
		Title:       verdict,
		URL:         r.URL,
		Description: clip(r.Blurb, maxDescription),
		Color:       color,
		Timestamp:   stamp(r.Posted),
		Thumbnail:   &transport.EmbedMedia{URL: capsule(r.AppID)},
	}
	if curator != "" {
		e.Author = &transport.EmbedAuthor{Name: curator}
	}
	return e
}

func topicEmbed(forum string, t steam.Topic) transport.Embed {
	e := transport.Embed{
		Title:     clip(t.Title, 256),
		URL:       t.URL,
		Color:     colorSteam,
		Timestamp: stamp(t.LastPost),
		Fields:    []transport.EmbedField{{Name: "Replies", Value: strconv.Itoa(t.Replies), Inline: true}},
	}
	if t.Author != "" {
		e.Author = &transport.EmbedAuthor{Name: t.Author}
	}
	if forum != "" {
		e.Footer = &transport.EmbedFooter{Text: forum}
	}
	return e
}

func workshopEmbed(app string, it steam.WorkshopItem) transport.Embed {
	e := transport.Embed{
		Title:     clip(it.Title, 256),
		URL:       ugcURL(it.ID),
		Color:     colorSteam,
		Timestamp: stamp(it.Created),
	}
	if it.PreviewURL != "" {
		e.Image = &transport.EmbedMedia{URL: it.PreviewURL}
	}
	if app != "" {
		e.Footer = &transport.EmbedFooter{Text: app + " Workshop"}
	}
	return e
}

func ugcURL(id string) string { return communityBase + "/sharedfiles/filedetails/?id=" + id }

func ugcRemovedEmbed(d steam.UGCDetail, name string) transport.Embed {
	if name == "" {
		name = d.Title
	}
	desc := "This item is no longer available and will not be tracked anymore."
	if d.Banned && d.BanReason != "" {
		desc = "Banned: " + clip(d.BanReason, 200) + "\n" + desc
	}
	return transport.Embed{
		Title:       clip(strings.TrimSpace("Removed "+name), 256),
		URL:         ugcURL(d.ID),
		Description: desc,
		Color:       colorRed,
	}
}

func ugcChangeEmbed(d steam.UGCDetail, note steam.ChangeNote) transport.Embed {
	desc := note.Description
	if desc == "" {
		desc = "No change notes."
	}
	e := transport.Embed{
		Title:       clip("Updated "+d.Title, 256),
		URL:         communityBase + "/sharedfiles/filedetails/changelog/" + d.ID,
		Description: clip(desc, maxDescription),
		Color:       colorSteam,
		Timestamp:   stamp(note.Time),
	}
	if d.PreviewURL != "" {
		e.Thumbnail = &transport.EmbedMedia{URL: d.PreviewURL}
	}
	return e
}

func ugcUpdateEmbed(d steam.UGCDetail) transport.Embed {
	return ugcChangeEmbed(d, steam.ChangeNote{Time: d.Updated, Description: "Update found."})
}

// priceChange is the direction of a detected price change.
type priceChange int

const (
	priceIncrease priceChange = iota
	priceDecrease
	priceDiscount
	priceChanged
)

func classifyPrice(old domain.PriceTarget, p steam.Price) priceChange {
	switch {
	case p.Discount > 0 && p.Discount != old.Discount:
		return priceDiscount
	case p.Final > old.Final:
		return priceIncrease
	case p.Final < old.Final:
		return priceDecrease
	default:
		return priceChanged
	}
}

func priceURL(t domain.PriceTarget) string {
	id := strconv.FormatUint(uint64(t.ItemID), 10)
	return storeBase + "/" + string(t.Type) + "/" + id
}

// money renders minor units as major.minor.
func money(v int64, currency string) string {
	return fmt.Sprintf("%d.%02d %s", v/100, v%100, currency)
}

func priceEmbed(t domain.PriceTarget, p steam.Price, kind priceChange) transport.Embed {
	title, color := "Price changed", colorNeutral
	switch kind {
	case priceIncrease:
		title, color = "Price increased", colorRed
	case priceDecrease:
		title, color = "Price decreased", colorGreen
	case priceDiscount:
		title, color = fmt.Sprintf("%d%% off", p.Discount), colorGreen
	}
	name := p.Name
	if name == "" {
		name = t.Name
	}
	fields := []transport.EmbedField{
		{Name: "Was", Value: money(t.Final, t.Currency), Inline: true},
		{Name: "Now", Value: money(p.Final, p.Currency), Inline: true},
	}
	if p.Initial != p.Final {
		fields = append(fields, transport.EmbedField{Name: "Regular", Value: money(p.Initial, p.Currency), Inline: true})
	}
	return transport.Embed{
		Title:  clip(strings.TrimSpace(title+": "+name), 256),
		URL:    priceURL(t),
		Color:  color,
		Fields: fields,
	}
}

func priceRemovedEmbed(t domain.PriceTarget) transport.Embed {
	return transport.Embed{
		Title:       clip(strings.TrimSpace("No longer sold: "+t.Name), 256),
		URL:         priceURL(t),
		Description: "This item is no longer available in " + t.Currency + " and will not be tracked anymore.",
		Color:       colorOrange,
	}
}

func freeEmbed(p domain.FreePackage, app domain.AppInfo) transport.Embed {
	name := app.Name
	if name == "" {
		name = "App " + strconv.FormatUint(uint64(p.AppID), 10)
	}
	e := transport.Embed{
		Title:     clip("Free to keep: "+name, 256),
		URL:       storeBase + "/app/" + strconv.FormatUint(uint64(p.AppID), 10),
		Color:     colorGreen,
		Timestamp: stamp(p.StartTime),
		Thumbnail: &transport.EmbedMedia{URL: capsule(p.AppID)},
	}
	if !p.EndTime.IsZero() {
		e.Footer = &transport.EmbedFooter{Text: "Until " + p.EndTime.UTC().Format("2006-01-02 15:04 MST")}
	}
	return e
}

func capsule(appID uint32) string {
	return "https://cdn.akamai.steamstatic.com/steam/apps/" + strconv.FormatUint(uint64(appID), 10) + "/header.jpg"
}
