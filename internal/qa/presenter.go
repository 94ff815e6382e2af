package qa

// State is a step of one Ask.
type State int

const (
	StateIdle State = iota
	StateSearchInFlight
	StateAggregationDone
	StateAggregationEmpty
	StateCompletionInFlight
	StateStreaming
	StateCompleted
	StateFailed
)

var stateNames = map[State]string{
	StateIdle:               "idle",
	StateSearchInFlight:     "search_in_flight",
	StateAggregationDone:    "aggregation_done",
	StateAggregationEmpty:   "aggregation_empty",
	StateCompletionInFlight: "completion_in_flight",
	StateStreaming:          "streaming",
	StateCompleted:          "completed",
	StateFailed:             "failed",
}

func (s State) String() string {
	if n, ok := stateNames[s]; ok {
		return n
	}
	return "unknown"
}

// Status is the user-visible progress of an Ask.
type Status string

const (
	StatusSearching          Status = "searching"
	StatusQuerying           Status = "querying"
	StatusGeneratingResponse Status = "generating_response"
	StatusCompleted          Status = "completed"
	StatusFailed             Status = "failed"
)

// Update is one status notification.
type Update struct {
	Status Status `json:"status"`
	Reason string `json:"reason,omitempty"`
}

// Presenter receives progress and the answer text as it streams. Calls come
// from the goroutine running Ask, in order.
type Presenter interface {
	Status(Update)
	Fragment(text string)
}

// Discard is a Presenter that drops everything.
var Discard Presenter = discard{}

type discard struct{}

func (discard) Status(Update)   {}
func (discard) Fragment(string) {}
