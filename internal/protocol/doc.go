// Package protocol owns the SOME/IP message model shared by the receive pipeline.
//
// Ownership boundary:
// - service/method/request identifiers and header fields
// - message type and return code vocabularies
// - wire size constants consumed by frame and serial
package protocol
