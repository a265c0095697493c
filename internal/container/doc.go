// Package container encodes and decodes the sealed container file.
//
// Format version 1, all integers big-endian:
//
//	u32 saltLen | salt | u32 nonceLen | nonce | ciphertext+tag | identifier | u32 identifierLen
//
// The identifier is optional. identifierLen is always written and is zero
// when no identifier is present. A present identifier block is one mode byte
// followed by the label payload: mode 0 stores the label as UTF-8, mode 1
// stores it obfuscated with a fixed public AES-SIV key.
//
// The codec checks structure only. Whether the ciphertext authenticates is
// decided by the aead package.
package container
