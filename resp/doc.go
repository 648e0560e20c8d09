// Package resp implements the small subset of the Redis serialization
// protocol (RESP) that pubsub needs to talk to a Redis compatible server.
//
// The subset is deliberately minimal:
//
// - easy to implement
// - one outstanding request at a time
// - no RESP3 types (maps, pushes, attributes)
//
// - `Command` - A client instruction, e.g. `PUBLISH` or `SUBSCRIBE`.
// - `Reply`   - A single decoded value sent by the server.
// - `Push`    - A Reply the server sends on its own because of an active
//               subscription. Pushes are always Arrays.
//
// === General Syntax
//
// - lines are `\r\n` delimited
// - commands are sent inline as their uppercase name followed by their
//   arguments, separated by single spaces. Arguments are not length
//   prefixed, so an argument must not contain a space or `\r\n`
//   unless it is quoted.
//
// For example
//   ```
//     > PUBLISH news "hello"\r\n
//     < :1\r\n
//   ```
//
// === Replies
//
// The first byte of a reply selects its shape
//
//   ```
//     +<text>\r\n                  SimpleString
//     -<message>\r\n               Error
//     :<integer>\r\n               Integer
//     $<length>\r\n<bytes>\r\n     BulkString, `$-1\r\n` is Null
//     *<count>\r\n<reply>...       Array of <count> replies
//   ```
//
// Error replies are never returned as values. ReadReply returns them as a
// *ServerError so they cannot be mistaken for data.
//
// === Subscriptions
//
//  ```
//    > SUBSCRIBE news\r\n
//    < *3\r\n$9\r\nsubscribe\r\n$4\r\nnews\r\n:1\r\n
//    < *3\r\n$7\r\nmessage\r\n$4\r\nnews\r\n$5\r\nhello\r\n
//  ```
//
// The acknowledgement of SUBSCRIBE is itself a push and interleaves with
// messages, so it is read the same way messages are.
//
// Note: an Array declares how many replies follow it. A truncated or bogus
//       count desynchronises the stream and there is no way to recover
//       other than dropping the connection.
package resp
