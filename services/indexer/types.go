package indexer

import (
	"encoding/json"
	"fmt"
	"time"
)

// EventType is the tag discriminating the eight event shapes emitted by the registry
// contracts (identity, reputation, validation).
type EventType string

const (
	EventRegistered        EventType = "Registered"
	EventMetadataSet       EventType = "MetadataSet"
	EventUriUpdated        EventType = "UriUpdated"
	EventNewFeedback       EventType = "NewFeedback"
	EventFeedbackRevoked   EventType = "FeedbackRevoked"
	EventResponseAppended  EventType = "ResponseAppended"
	EventValidationRequest EventType = "ValidationRequest"
	EventValidationResponse EventType = "ValidationResponse"
)

// ContractKind names which of the three configured contracts a log's address belongs to.
type ContractKind string

const (
	ContractIdentity   ContractKind = "identity_registry"
	ContractReputation ContractKind = "reputation_registry"
	ContractValidation ContractKind = "validation_registry"
)

// RegisteredData is the payload for EventRegistered.
type RegisteredData struct {
	AgentID  string `json:"agent_id"`
	TokenURI string `json:"token_uri"`
	Owner    string `json:"owner"`
}

// MetadataSetData is the payload for EventMetadataSet.
type MetadataSetData struct {
	AgentID    string `json:"agent_id"`
	IndexedKey string `json:"indexed_key"`
	Key        string `json:"key"`
	Value      string `json:"value"`
}

// UriUpdatedData is the payload for EventUriUpdated.
type UriUpdatedData struct {
	AgentID   string `json:"agent_id"`
	NewURI    string `json:"new_uri"`
	UpdatedBy string `json:"updated_by"`
}

// NewFeedbackData is the payload for EventNewFeedback.
type NewFeedbackData struct {
	AgentID      string `json:"agent_id"`
	Client       string `json:"client"`
	Score        uint8  `json:"score"`
	Tag1         string `json:"tag1"`
	Tag2         string `json:"tag2"`
	FeedbackURI  string `json:"feedback_uri"`
	FeedbackHash string `json:"feedback_hash"`
}

// FeedbackRevokedData is the payload for EventFeedbackRevoked.
type FeedbackRevokedData struct {
	AgentID       string `json:"agent_id"`
	Client        string `json:"client"`
	FeedbackIndex uint64 `json:"feedback_index,string"`
}

// ResponseAppendedData is the payload for EventResponseAppended.
type ResponseAppendedData struct {
	AgentID       string `json:"agent_id"`
	Client        string `json:"client"`
	FeedbackIndex uint64 `json:"feedback_index,string"`
	Responder     string `json:"responder"`
	ResponseURI   string `json:"response_uri"`
	ResponseHash  string `json:"response_hash"`
}

// ValidationRequestData is the payload for EventValidationRequest.
type ValidationRequestData struct {
	ValidatorAddress string `json:"validator_address"`
	AgentID          string `json:"agent_id"`
	RequestURI       string `json:"request_uri"`
	RequestHash      string `json:"request_hash"`
}

// ValidationResponseData is the payload for EventValidationResponse.
type ValidationResponseData struct {
	ValidatorAddress string `json:"validator_address"`
	AgentID          string `json:"agent_id"`
	RequestHash      string `json:"request_hash"`
	Response         uint8  `json:"response"`
	ResponseURI      string `json:"response_uri"`
	ResponseHash     string `json:"response_hash"`
	Tag              string `json:"tag"`
}

// Event is the unit of ingestion and query. EventData carries the variant named by EventType as
// raw JSON; unmarshal it with encoding/json into the payload type matching EventType (for
// example RegisteredData) to obtain the typed payload.
type Event struct {
	ID              int64           `json:"id,omitempty" db:"id"`
	ChainID         uint64          `json:"chain_id" db:"chain_id"`
	BlockNumber     uint64          `json:"block_number" db:"block_number"`
	BlockTimestamp  time.Time       `json:"block_timestamp" db:"block_timestamp"`
	TransactionHash string          `json:"transaction_hash" db:"transaction_hash"`
	LogIndex        uint32          `json:"log_index" db:"log_index"`
	ContractAddress string          `json:"contract_address" db:"contract_address"`
	EventType       EventType       `json:"event_type" db:"event_type"`
	EventData       json.RawMessage `json:"event_data" db:"event_data"`
	CreatedAt       time.Time       `json:"created_at,omitempty" db:"created_at"`
}

// CacheKey returns the dedup key used by both the unique index (I1) and the in-memory cache.
func (e Event) CacheKey() string {
	return fmt.Sprintf("%d:%s:%d", e.ChainID, e.TransactionHash, e.LogIndex)
}

// NewEvent constructs an Event from a typed payload, marshaling it into EventData. Returns an
// error if typ and payload disagree (I2), or if payload cannot be marshaled.
func NewEvent(chainID, blockNumber uint64, blockTime time.Time, txHash string, logIndex uint32, contract string, typ EventType, payload any) (Event, error) {
	if err := checkVariant(typ, payload); err != nil {
		return Event{}, err
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return Event{}, fmt.Errorf("marshal event data: %w", err)
	}
	return Event{
		ChainID:         chainID,
		BlockNumber:     blockNumber,
		BlockTimestamp:  blockTime,
		TransactionHash: txHash,
		LogIndex:        logIndex,
		ContractAddress: contract,
		EventType:       typ,
		EventData:       raw,
	}, nil
}

func checkVariant(typ EventType, payload any) error {
	ok := false
	switch typ {
	case EventRegistered:
		_, ok = payload.(RegisteredData)
	case EventMetadataSet:
		_, ok = payload.(MetadataSetData)
	case EventUriUpdated:
		_, ok = payload.(UriUpdatedData)
	case EventNewFeedback:
		_, ok = payload.(NewFeedbackData)
	case EventFeedbackRevoked:
		_, ok = payload.(FeedbackRevokedData)
	case EventResponseAppended:
		_, ok = payload.(ResponseAppendedData)
	case EventValidationRequest:
		_, ok = payload.(ValidationRequestData)
	case EventValidationResponse:
		_, ok = payload.(ValidationResponseData)
	default:
		return fmt.Errorf("%w: %s", ErrUnknownEventType, typ)
	}
	if !ok {
		return fmt.Errorf("%w: payload does not match event_type %s", ErrVariantMismatch, typ)
	}
	return nil
}

// ErrUnknownEventType is returned when an EventType names no known variant.
var ErrUnknownEventType = fmt.Errorf("unknown event type")

// ErrVariantMismatch is returned when event_data's shape does not match event_type (I2).
var ErrVariantMismatch = fmt.Errorf("event data does not match event type")

// ChainStatus is the lifecycle state of a chain's indexing pipeline, driven by the supervisor.
type ChainStatus string

const (
	ChainStatusActive      ChainStatus = "active"
	ChainStatusSyncing     ChainStatus = "syncing"
	ChainStatusCatchingUp  ChainStatus = "catching_up"
	ChainStatusStalled     ChainStatus = "stalled"
	ChainStatusFailed      ChainStatus = "failed"
)

// ChainSyncState is the one-row-per-chain progress record.
type ChainSyncState struct {
	ChainID            uint64      `json:"chain_id" db:"chain_id"`
	LastSyncedBlock    uint64      `json:"last_synced_block" db:"last_synced_block"`
	LastSyncTime       time.Time   `json:"last_sync_time" db:"last_sync_time"`
	Status             ChainStatus `json:"status" db:"status"`
	ErrorMessage       *string     `json:"error_message,omitempty" db:"error_message"`
	TotalEventsIndexed int64       `json:"total_events_indexed" db:"total_events_indexed"`
	ErrorsLastHour     int64       `json:"errors_last_hour" db:"errors_last_hour"`
	UpdatedAt          time.Time   `json:"updated_at" db:"updated_at"`
}

// ChainDirectoryEntry is a row of the static `chains` directory table, used by the read API.
type ChainDirectoryEntry struct {
	ChainID            uint64 `json:"chain_id" db:"chain_id"`
	Name               string `json:"name" db:"name"`
	RPCURL             string `json:"rpc_url" db:"rpc_url"`
	Enabled            bool   `json:"enabled" db:"enabled"`
	IdentityRegistry   string `json:"identity_registry" db:"identity_registry"`
	ReputationRegistry string `json:"reputation_registry" db:"reputation_registry"`
	ValidationRegistry string `json:"validation_registry" db:"validation_registry"`
}

// Log is a raw chain log as returned by eth_getLogs: an address, a list of topics (the first is
// conventionally the event signature hash), and ABI-encoded data words.
type Log struct {
	Address         string   `json:"address"`
	Topics          []string `json:"topics"`
	Data            string   `json:"data"`
	BlockNumber     uint64   `json:"-"`
	TransactionHash string   `json:"-"`
	LogIndex        uint32   `json:"-"`
}

// LogFilter selects logs for a single-block range and a set of contract addresses, matching
// the shape used by eth_getLogs.
type LogFilter struct {
	FromBlock uint64
	ToBlock   uint64
	Addresses []string
}
