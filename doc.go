// Package streampay provides a composable pay-per-second media payment engine
// for Go applications.
//
// StreamPay is designed as a library, not a service. Import it directly into
// your Go application and mount the HTTP handlers where you need them. It
// provides:
//
//   - Per-viewer payment channels that meter playback in whole seconds
//   - Slot-keyed tick deduplication so client retries never double-bill
//   - Batched settlement of unpaid balances on a configurable interval
//   - An HTTP 402 payment challenge flow with exact-amount proof validation
//   - Prepaid per-content stream credit consumed in fixed chunks
//   - Pluggable settlement rails (simulated executor built-in)
//
// # Quick Start
//
// Create an engine with your preferred store and a content catalog:
//
//	import (
//	    "github.com/xraph/streampay"
//	    "github.com/xraph/streampay/store/postgres"
//	)
//
//	// Initialize store
//	store := postgres.New(db)
//
//	// Create engine
//	e := streampay.New(store, catalog)
//
//	// Start the engine (begins background settlement sweeps)
//	if err := e.Start(ctx); err != nil {
//	    log.Fatal(err)
//	}
//	defer e.Stop()
//
// # Core Concepts
//
// Channels meter a viewer's consumption of one piece of content:
//
//	ch, err := e.OpenChannel(ctx, viewerID, contentID)
//	res, err := e.Tick(ctx, ch.ID)        // accrue one chunk of playback
//	res, err = e.CloseChannel(ctx, ch.ID) // settle and close
//
// The gate authorizes playback increments, consuming prepaid credit or
// demanding payment via an HTTP 402 challenge:
//
//	res, err := e.Stream(ctx, streampay.StreamRequest{
//	    ViewerID:  viewerID,
//	    ContentID: contentID,
//	})
//	if !res.Granted {
//	    // res.Challenge carries the payment requirements
//	}
//
// # Accounting
//
// All monetary amounts are integers in minor currency units; the engine
// never touches floating point. Two invariants hold on every channel at
// all times: the amount owed equals seconds streamed times the per-second
// price, and the amount settled never exceeds the amount owed.
//
// # TypeID
//
// All entities use TypeID for globally unique, type-safe identifiers:
//
//	chan_01h2xcejqtf2nbrexx3vqjhp41  // Channel ID
//	stl_01h2xcejqtf2nbrexx3vqjhp41   // Settlement ID
//	crd_01h455vb4pex5vsknk084sn02q   // Credit ID
//
// TypeIDs are K-sortable, making them ideal for database indexes and
// providing natural time-ordering of entities.
package streampay
