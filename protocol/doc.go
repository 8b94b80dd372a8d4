package protocol

// This package implements encoding and decoding for the line oriented,
// length prefixed key-value protocol that kvcheck exercises.
//
// - `Command` - A client instruction to the server (`set` or `get`).
// - `Request` - A command as decoded by the server.
// - `Response` - What the server sends back for a single command.
//
// === General Syntax
//
// - lines are `\r\n` delimited, a bare `\n` does not end a line
// - command names are lowercase and separated from their arguments by a
//   single space
// - keys must not contain spaces, `\r` or `\n`
// - there are no request IDs, a connection carries one request at a time
//
// === SET
//
//  ```
//    > set <key> <size>\r\n
//    > <size bytes of value>
//    < OK\r\n
//  ```
//
// The value is raw bytes and is not terminated. The server reads exactly
// `<size>` bytes after the command line.
//
// === GET
//
//  ```
//    > get <key>\r\n
//    < OK <size>\r\n
//    < <size bytes of value>
//  ```
//
// or, if the key is not set
//
//  ```
//    > get <key>\r\n
//    < MISSING\r\n
//  ```
//
// A server may follow the value with one `\r\n`. It can arrive with the
// value or later, so clients drop it with SkipValueTerminator before reading
// the next reply. No reply starts with `\r\n`.
//
// === Error responses
//
//  ```
//    < Error: Usage - get <key>\r\n
//    < Error: Usage - set <key> <size>\r\n
//    < Error: Size has to be a number (Received: <size>)\r\n
//    < Error: Size has to be less than <max>\r\n
//    < Unknown request received\r\n
//  ```
//
// === Drain framing
//
// Older clients did not trust the `<size>` in the GET header. They read the
// header line and then whatever bytes were immediately available, and took
// the second `\r\n` separated line as the value. The header is only checked
// for MISSING. DrainGetResponse keeps that behaviour available for servers
// whose GET header does not carry a size.
//
