package interfaces

import domaintypes "relaychat/internal/domain/types"

// ChatSession is the outbound surface a client consumer drives.
type ChatSession interface {
	Username() domaintypes.Username
	SendPublic(text string) error
	SendPrivate(to domaintypes.Username, text string) error
	SendFileOffer(to domaintypes.Username, offer domaintypes.FileOfferBody) error
	SendFileChunk(to domaintypes.Username, chunk domaintypes.FileChunkBody) error
	SendFileAck(to domaintypes.Username, ack domaintypes.FileAckBody) error
	Subscribe(handler func(domaintypes.Message))
	Close() error
}

// FileTransfers runs the offer/ack/chunk state machine for one client.
type FileTransfers interface {
	OfferFile(to domaintypes.Username, path string) (string, error)
	HandleOffer(from domaintypes.Username, offer domaintypes.FileOfferBody)
	Accept(fileID string) error
	Reject(fileID string) error
	HandleAck(from domaintypes.Username, ack domaintypes.FileAckBody) error
	HandleChunk(from domaintypes.Username, chunk domaintypes.FileChunkBody) (string, bool, error)
}
