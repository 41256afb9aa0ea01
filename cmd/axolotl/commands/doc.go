// Package commands defines the axolotl CLI and wires dependencies for subcommands.
//
// Commands
//
//   - init           Create the local identity
//   - fingerprint    Print the identity fingerprint
//   - bundle         Generate prekeys and publish or export the bundle
//   - start-session  Establish a session with a peer device
//   - encrypt        Encrypt a message into an envelope
//   - decrypt        Decrypt an envelope
//   - sessions       Describe the sessions with a recipient
//   - reset          Delete every session with a recipient
//   - delete         Delete the session with one device
//   - metrics        Print the metrics collected by this run
//
// # Implementation
//
// The root command loads the configuration (defaults, YAML file, AXOLOTL_
// environment, then flags) and builds the dependency graph before any
// subcommand runs. Envelopes and bundles are exchanged as JSON through
// files or stdin/stdout; delivering them is up to the user.
package commands
