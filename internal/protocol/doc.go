// Package protocol owns the HomeLink wire contract.
//
// Ownership boundary:
// - packet type tags, status enums and fixed field widths
// - packet variants and the fixed-layout codec
// - the error taxonomy shared by every layer above the codec
//
// Every packet is a fixed number of bytes chosen by its leading type tag.
// Integers are big-endian; keys, ciphertext and other blobs are carried raw.
package protocol
