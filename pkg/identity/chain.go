package identity

import "fmt"

// ChainError reports the first event at which a chain fails verification
type ChainError struct {
	Index   int    `json:"index"`
	EventID string `json:"eventId"`
	Reason  string `json:"reason"`
}

func (e *ChainError) Error() string {
	return fmt.Sprintf("identity chain broken at event %d (%s): %s", e.Index, e.EventID, e.Reason)
}

// Chain failure reasons
const (
	ReasonBrokenLink   = "previous hash does not match predecessor"
	ReasonHashMismatch = "event hash does not match contents"
	ReasonWrongUser    = "event belongs to another user"
)

// Audit replays events in creation order and returns every failing event.
// Each hash is recomputed from the recomputed hash of its predecessor, so a
// tampered event fails together with every event after it.
func Audit(events []*Event) []*ChainError {
	var failures []*ChainError
	if len(events) == 0 {
		return nil
	}

	userID := events[0].UserID
	prevStored := ""
	prevComputed := ""
	for i, e := range events {
		fail := func(reason string) {
			failures = append(failures, &ChainError{Index: i, EventID: e.ID, Reason: reason})
		}

		computed, err := e.Recompute(prevComputed)
		switch {
		case e.UserID != userID:
			fail(ReasonWrongUser)
		case e.PreviousHash != prevStored:
			fail(ReasonBrokenLink)
		case err != nil:
			fail(err.Error())
		case computed != e.Hash:
			fail(ReasonHashMismatch)
		}

		prevStored = e.Hash
		prevComputed = computed
	}
	return failures
}

// VerifyChain returns the first ChainError of Audit, or nil for an intact chain
func VerifyChain(events []*Event) error {
	if failures := Audit(events); len(failures) > 0 {
		return failures[0]
	}
	return nil
}
