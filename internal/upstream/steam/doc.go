// Package steam is the game-platform upstream: the data shapes the watchers
// and the batch gateway consume, and an HTTP client for the public Web API
// and storefront endpoints.
//
// Session-only data (bulk product info, forum listings) is read from an
// optional bridge service that holds a logged-in client session. Without a
// bridge those calls return ErrUnsupported.
//
// All calls go through one circuit breaker. While it is open the client
// reports itself as not connected and every call fails fast with
// ErrNotConnected.
package steam
