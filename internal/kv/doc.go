// Package kv is the key-value persistence surface the stores write through.
// Values are opaque JSON documents addressed by a fixed key. Every backend
// reports successful changes to Watch subscribers so that independent
// processes sharing one backend can reconcile their in-memory state.
package kv
