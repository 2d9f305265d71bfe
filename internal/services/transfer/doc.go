// Package transfer implements the file offer/ack/chunk state machine of one
// client.
//
// Outbound: OfferFile announces a file; when the peer acks with accept=true
// the file is streamed in fixed-size chunks with seq 0,1,2,... followed by an
// empty chunk marked final. A reject ends the attempt for that peer and no
// chunk is ever sent to it. Broadcast offers keep a separate state per peer.
//
// Inbound: HandleOffer records a pending offer until the user calls Accept or
// Reject. Chunks are reassembled by seq in any arrival order; a chunk for an
// unknown transfer starts a new one named "file.bin". Completed files are
// handed to the DownloadStore.
package transfer
