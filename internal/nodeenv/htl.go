package nodeenv

import "math/rand"

// decrementHTL is the node's HTL policy: ordinary
// hops decrement by one, but near the boundary it decrements only
// probabilistically, so a request sitting at htl==1 across many peers
// doesn't single out the true origin by that value alone.
func decrementHTL(requestorID string, htl int) int {
	if htl <= 0 {
		return 0
	}
	if htl > 2 {
		return htl - 1
	}
	// htl is 1 or 2: decrement three times out of four.
	if rand.Intn(4) == 0 {
		return htl
	}
	return htl - 1
}
