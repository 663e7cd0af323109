package indexer

// Category expands a coarse query filter into a fixed set of event types.
type Category string

const (
	CategoryAgents       Category = "agents"
	CategoryMetadata     Category = "metadata"
	CategoryValidation   Category = "validation"
	CategoryFeedback     Category = "feedback"
	CategoryAll          Category = "all"
	CategoryCapabilities Category = "capabilities" // reserved, empty expansion
	CategoryPayments     Category = "payments"     // reserved, empty expansion
)

// categoryExpansion maps each category to its member event types. Categories absent from this
// map (including the reserved capabilities/payments) expand to the empty set.
var categoryExpansion = map[Category][]EventType{
	CategoryAgents:     {EventRegistered},
	CategoryMetadata:   {EventMetadataSet, EventUriUpdated},
	CategoryValidation: {EventValidationRequest, EventValidationResponse},
	CategoryFeedback:   {EventNewFeedback, EventFeedbackRevoked, EventResponseAppended},
}

// ExpandCategory returns the event types a category filters to. CategoryAll has no dedicated
// expansion; callers must special-case it to mean "no event_type filter" rather than treating its
// expansion as empty (empty means zero rows).
func ExpandCategory(c Category) []EventType {
	return categoryExpansion[c]
}

// EventQuery is the shared filter pipeline for get_recent_events and count_events (spec §4.H).
type EventQuery struct {
	ChainIDs  []uint64
	Blocks    *uint64
	Hours     *float64
	Contract  *string
	EventType *EventType
	Category  *Category
	AgentID   *string
	Limit     int64
	Offset    int64
}
