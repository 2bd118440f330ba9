// Package sdk is the flag-nest client SDK: it keeps a local snapshot of
// remotely managed feature flags in sync with the flag-nest authority and
// delivers analytics events and flag exposure summaries back to it.
//
// The client is built for hostile network conditions. Flag reads are
// always served from the in-process snapshot and never block on the
// network; the snapshot is refreshed in the background with conditional
// requests, guarded by retries with exponential backoff and a circuit
// breaker, and persisted through a pluggable Store so flags survive
// restarts and long offline periods.
//
// Basic usage:
//
//	store, err := sdk.NewBoltStore("flagnest.db")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer store.Close()
//
//	client, err := sdk.NewClient(sdk.DefaultConfig().
//	    WithClientKey("ck_live_xxx").
//	    WithStore(store))
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Close()
//
//	if text, ok := client.GetString("hero_text"); ok {
//	    fmt.Println(text)
//	}
//	client.TrackEvent("screen_viewed", map[string]any{"screen": "home"})
package sdk

// Version is the SDK version reported in the User-Agent header and
// delivered payloads.
const Version = "1.4.2"
