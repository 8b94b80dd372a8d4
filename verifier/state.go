package verifier

// State is a step of a single round trip.
type State int

const (
	Idle State = iota
	KeyValueGenerated
	SetSent
	SetConfirmed
	GetSent
	GetReceived
	Verified
	Failed
)

var stateNames = [...]string{
	Idle:              "Idle",
	KeyValueGenerated: "KeyValueGenerated",
	SetSent:           "SetSent",
	SetConfirmed:      "SetConfirmed",
	GetSent:           "GetSent",
	GetReceived:       "GetReceived",
	Verified:          "Verified",
	Failed:            "Failed",
}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return "Unknown"
	}

	return stateNames[s]
}
