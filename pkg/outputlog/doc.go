// Package outputlog records the output streams of a checker run in one transcript
// file, so a run can be replayed later with the exact interleaving and timing.
//
// # Format
//
// Each record is
//
//	stream timestamp length: content\n
//
//   - stream: matches [a-zA-Z0-9_./-]{1,64}. A run writes "stdout", "stderr" and a
//     final "exit" record.
//   - timestamp: UTC, 2006-01-02T15:04:05.000000000Z
//   - length: byte length of content
//   - content: exactly length bytes, newlines and binary data included
//
// The separator newline is always written, so a record of "x\n" ends in two
// newlines. A record cut short by a crash is reported as an error by the reader
// instead of being returned as data.
//
// # Example
//
//	stdout 2025-01-07T12:00:00.000000000Z 27: @!@!@STARTMSG 2185:0 @!@!@\n
//	stderr 2025-01-07T12:00:01.000000000Z 14: error message\n
//	exit 2025-01-07T12:00:02.000000000Z 2: 12\n
package outputlog
