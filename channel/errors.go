package channel

import "errors"

// ErrPushUnsupported is returned by every StreamHandle.Push call; this core
// never implements HTTP/2 server push (SPEC_FULL.md §6).
var ErrPushUnsupported = errors.New("channel: push is not supported by the HTTP/1.x core")
