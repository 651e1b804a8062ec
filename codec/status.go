package codec

// Status codes carried on RpcHeader.Status for responses. StatusOK is
// always success; every other value implies Error is populated.
//
// StatusError is a generic catch-all for callers (tests, ad hoc servers)
// that don't need a specific taxonomy. server.Server's dispatcher uses
// its own numbered error codes (server.ErrDecodeRequest through
// server.ErrInternal) instead of StatusError, so a failure can be traced
// to the exact pipeline stage that produced it. StatusRateLimited and
// StatusTimeout are set by the corresponding middleware, which runs in
// front of the dispatcher and so needs its own codes outside that
// taxonomy's numbering. StatusCancelled is numbered alongside them, but
// nothing in this module sets it.
const (
	StatusOK          uint32 = 0
	StatusError       uint32 = 1
	StatusRateLimited uint32 = 7
	StatusTimeout     uint32 = 8
	StatusCancelled   uint32 = 9
)
