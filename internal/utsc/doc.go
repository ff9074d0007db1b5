// Package utsc streams live upstream triggered spectrum captures (UTSC) from
// a CMTS to a websocket subscriber.
//
// A Session configures the CMTS through an agent, triggers bursts, and picks
// up the resulting capture files from a FileStore. Each file carries a
// 328-byte header followed by big-endian int16 amplitudes in tenths of dB.
// Parsed samples go into a bounded Buffer and are drained to the Sink at the
// refresh interval. The RetriggerPolicy re-arms the device whenever the
// buffer falls to its low watermark.
//
// Params are checked with Validate before anything touches the device.
// Illegal spans, bin counts, and period limits are fatal. Settings that the
// device ignores only produce warnings.
package utsc
