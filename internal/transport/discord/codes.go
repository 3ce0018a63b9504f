package discord

import (
	"errors"
	"net/http"
)

// JSON error codes that mean the delivery target is gone or can never
// accept the message.
const (
	CodeUnknownChannel = 10003
	CodeUnknownGuild   = 10004
	CodeUnknownWebhook = 10015

	CodeWebhookForumNeedsThread  = 220001
	CodeWebhookForumOnly         = 220002
	CodeWebhookThreadNotForum    = 220003
	CodeWebhookServicesForbidden = 220004
)

var permanentCodes = map[int]struct{}{
	CodeUnknownChannel:           {},
	CodeUnknownGuild:             {},
	CodeUnknownWebhook:           {},
	CodeWebhookForumNeedsThread:  {},
	CodeWebhookForumOnly:         {},
	CodeWebhookThreadNotForum:    {},
	CodeWebhookServicesForbidden: {},
}

// IsPermanent reports whether err means the target no longer exists or is
// incompatible with the message. A bare 404 on a webhook call counts too.
func IsPermanent(err error) bool {
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	if _, ok := permanentCodes[apiErr.Code]; ok {
		return true
	}
	return apiErr.Code == 0 && apiErr.Status == http.StatusNotFound
}

// IsServerError reports whether err carries a 5xx status.
func IsServerError(err error) bool {
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	return apiErr.Status >= 500 && apiErr.Status <= 599
}
