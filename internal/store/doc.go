// Package store provides file-based persistence for relaychat.
//
// KeyFileStore keeps the relay's RSA key, optionally sealed under a
// passphrase. DownloadFileStore writes completed inbound transfers. Every
// write goes through a temp file and rename so readers never see a partial
// file.
package store
