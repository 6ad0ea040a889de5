// Package client is the consumer side of the session lifecycle: a thin HTTP
// pipeline that injects bearer credentials and classifies failures, a secure
// key value store abstraction for tokens, and a state machine that keeps a
// session alive by refreshing the access token before it expires.
//
// Typical wiring:
//
//	store := client.NewMemoryStore()
//	api := client.NewClient("https://api.example.com", store)
//	mgr := client.NewManager(api, store)
//
//	if err := mgr.Bootstrap(ctx); err != nil {
//	    // transport failure, state is left as found
//	}
//
//	states, cancel := mgr.Subscribe()
//	defer cancel()
//
// The Manager registers itself on the Client as its Refresher, so a request
// that comes back 401 triggers one refresh and one retry transparently.
package client
