package resp

type Command string

const (
	AUTH         Command = "AUTH"
	PING         Command = "PING"
	QUIT         Command = "QUIT"
	PUBLISH      Command = "PUBLISH"
	SUBSCRIBE    Command = "SUBSCRIBE"
	UNSUBSCRIBE  Command = "UNSUBSCRIBE"
	PSUBSCRIBE   Command = "PSUBSCRIBE"
	PUNSUBSCRIBE Command = "PUNSUBSCRIBE"
)

// PushKind names the first element of a subscription push.
type PushKind string

const (
	KindMessage      PushKind = "message"
	KindPMessage     PushKind = "pmessage"
	KindSubscribe    PushKind = "subscribe"
	KindUnsubscribe  PushKind = "unsubscribe"
	KindPSubscribe   PushKind = "psubscribe"
	KindPUnsubscribe PushKind = "punsubscribe"
)
