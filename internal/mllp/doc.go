// Package mllp frames messages on a byte stream with the Minimal Lower Layer
// Protocol:
//
//	[start:1][payload:N][firstEnd:1][lastEnd:1]
//
// The conventional sentinels are 0x0B, 0x1C and 0x0D.
//
// Three decoders share one Config and differ in how they scan:
//
//   - SimpleDecoder expects the whole readable buffer to be exactly one frame.
//   - MultiDecoder extracts every complete frame and rescans an incomplete
//     trailing frame from its start on each call.
//   - ResumableDecoder has the MultiDecoder contract but remembers how far the
//     end-sentinel search got, so a large frame delivered in many small reads
//     is scanned once.
//
// Decoders and encoders carry per-connection state. Create one per
// connection with Clone and never share an instance between connections.
package mllp
