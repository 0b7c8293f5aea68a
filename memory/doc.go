// Package memory provides linear memories for the runtime heap.
//
// Linear is a Go-backed memory used by Go-native programs and tests. Wazero
// wraps the linear memory of a wasm guest instance. Both follow wasm memory
// rules: page-granular growth, zeroed new pages, little-endian words.
package memory
