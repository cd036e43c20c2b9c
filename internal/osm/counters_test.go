package osm

import "testing"

func TestCounters_QuiescentOnlyWhenAllEqual(t *testing.T) {
	var c Counters
	if !c.Quiescent() {
		t.Fatal("zeroed counters should be quiescent")
	}
	c.incCreated()
	if c.Quiescent() {
		t.Fatal("created=1,rest=0 should not be quiescent")
	}
	c.incDispatched()
	c.incReceived()
	c.incFinished()
	if !c.Quiescent() {
		t.Fatal("all counters at 1 should be quiescent")
	}
}

func TestCounters_Reset(t *testing.T) {
	var c Counters
	c.incCreated()
	c.incDispatched()
	c.reset()
	if c.Created() != 0 || c.Dispatched() != 0 {
		t.Fatal("reset should zero every counter")
	}
}
