package server

// Error codes carried on RpcHeader.Status when a call fails inside the
// dispatcher, per the request-handling error taxonomy: every non-zero
// value implies RpcHeader.Error is populated with a matching message.
const (
	ErrDecodeRequest     uint32 = 1
	ErrServiceNotFound   uint32 = 2
	ErrMethodNotFound    uint32 = 3
	ErrParseRequest      uint32 = 4
	ErrUserHandlerFailed uint32 = 5
	ErrInternal          uint32 = 6
)
