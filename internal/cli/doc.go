// Package cli defines the Cobra command tree for the extmgr CLI. Each file
// registers one command group with the root command. Commands build the
// stores through internal/app and only handle flag parsing, output
// formatting, and the caller-side lock policy.
package cli
