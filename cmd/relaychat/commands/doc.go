// Package commands defines the relaychat CLI.
//
// Commands
//
//   - chat   Join the relay and chat interactively (the default)
//   - send   Join, send one message and leave
//
// # Implementation
//
// Every command resolves its configuration from flags, RELAYCHAT_*
// environment variables and an optional config file, then connects through
// app.NewWire, which retries transport failures until --connect-timeout.
package commands
