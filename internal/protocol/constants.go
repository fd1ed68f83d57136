package protocol

const (
	DefaultKeySize      = 256
	DefaultBufferSize   = 32 * 1024
	DefaultMaxFrameSize = 64 * 1024 * 1024
	FrameHeaderSize     = 4
	IntSize             = 4
	LongSize            = 8
)

// Wire literals exchanged as text frames.
const (
	MsgWhere   = "where"
	MsgHere    = "here"
	MsgUnknown = "unknown"
	MsgOK      = "ok"
	MsgRetry   = "retry"
	MsgStatus  = "status"
)

type ErrorKind uint16

const (
	KindUnknown    ErrorKind = 0x0000
	KindConnection ErrorKind = 0x0001
	KindHandshake  ErrorKind = 0x0002
	KindIntegrity  ErrorKind = 0x0003
	KindExhausted  ErrorKind = 0x0004
	KindClosed     ErrorKind = 0x0005
	KindProtocol   ErrorKind = 0x0006
)

func (k ErrorKind) String() string {
	switch k {
	case KindConnection:
		return "CONNECTION_FAILURE"
	case KindHandshake:
		return "HANDSHAKE_MISMATCH"
	case KindIntegrity:
		return "INTEGRITY_FAILURE"
	case KindExhausted:
		return "RESOLUTION_EXHAUSTED"
	case KindClosed:
		return "CLOSED"
	case KindProtocol:
		return "PROTOCOL_VIOLATION"
	default:
		return "UNKNOWN"
	}
}
