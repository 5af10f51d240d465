package engine

// upgradeBridge transfers unconsumed input-buffer bytes to a successor
// protocol connection on a successful upgrade (SPEC_FULL.md §4.8). It holds
// no state of its own beyond the binding it was built against.
type upgradeBridge struct {
	input *bufferBinding
}

func newUpgradeBridge(input *bufferBinding) *upgradeBridge {
	return &upgradeBridge{input: input}
}

// onUpgradeFrom copies any bytes left unconsumed in the pooled input buffer
// into a freshly allocated plain slice and releases the pooled buffer: the
// byte stream's ownership is passing to a successor connection that knows
// nothing about this connection's pool.
func (u *upgradeBridge) onUpgradeFrom() []byte {
	b := u.input.current()
	if b == nil || b.Len() == 0 {
		u.input.forceRelease()
		return nil
	}
	leftover := make([]byte, b.Len())
	copy(leftover, b.Bytes())
	u.input.forceRelease()
	return leftover
}
