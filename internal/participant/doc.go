// Package participant is the receive-side protocol engine of one SOME/IP
// connection.
//
// A Participant owns a frame buffer fed by its transport. On every completed
// receive it extracts as many whole frames as the buffer holds, drops magic
// cookies, stamps the remaining messages with their origin and dispatches them
// through a shared registry. When the declared length of the next frame cannot be
// satisfied and resync is enabled, it scans forward for a magic cookie; if none
// is found the buffer is flushed.
//
// The transport delivers at most one receive completion at a time. Received,
// Resync, Pending and Close share one lock, which is released before receivers
// run, so a receiver may call back into its participant. Register, Unregister
// and SetSendingMagicCookies are safe from any goroutine.
package participant
