// Package commands defines the courierctl CLI for inspecting and
// managing a courier profile without going through the daemon.
//
// Commands
//
//   - stats          Show queue sizes
//   - health         Show queue health and sync estimate
//   - failed list    List permanently failed messages
//   - failed retry   Move a failed message back into the send queue
//   - keys generate  Generate (or rotate) the identity key pair
//   - keys export    Print the public key
//   - keys backup    Export keys encrypted under a passphrase
//   - keys restore   Install keys from a backup
//
// # Implementation
//
// The root command resolves the active profile and opens its sqlite
// database before any subcommand runs. WAL mode lets courierctl read
// while a daemon is running; writes ride the busy timeout.
package commands
