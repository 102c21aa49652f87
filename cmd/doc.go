// Package cmd implements the command-line interface of the Artic Base client.
//
// The package is organized into several subpackages:
//
//   - probe: Connects to a peer and prints the negotiated session parameters
//   - file: Reads, writes and benchmarks remote files through the tiered cache
//   - util: Shared flags and configuration handling (internal use)
//
// Every flag can also be set through an ARTIC_ prefixed environment variable
// (e.g. ARTIC_HOST), .env and .env.local files are loaded on startup.
//
// See artic -help for a list of all commands.
package cmd
