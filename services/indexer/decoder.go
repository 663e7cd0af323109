package indexer

import (
	"encoding/hex"
	"fmt"
	"math/big"
	"strings"
	"time"
)

// Decoder dispatches a raw log to one of three contract schemas by address, then tries that
// schema's event signatures in declared order, returning the first that decodes. A log whose
// address matches no configured contract is skipped (returns ErrNoMatch, not a hard error).
type Decoder struct {
	identity   map[string]struct{}
	reputation map[string]struct{}
	validation map[string]struct{}
}

// ErrNoMatch is returned (not logged as failure) when a log's address is not one of the
// configured contracts for the chain; callers should skip such logs silently.
var ErrNoMatch = fmt.Errorf("log address matches no configured contract")

// NewDecoder builds a Decoder for a single chain's three contract addresses.
func NewDecoder(identityAddr, reputationAddr, validationAddr string) *Decoder {
	one := func(addr string) map[string]struct{} {
		m := make(map[string]struct{}, 1)
		if addr != "" {
			m[strings.ToLower(addr)] = struct{}{}
		}
		return m
	}
	return &Decoder{
		identity:   one(identityAddr),
		reputation: one(reputationAddr),
		validation: one(validationAddr),
	}
}

// Decode turns a raw log into an Event. Returns ErrNoMatch if the log's address is not
// configured for this chain. Returns a decode error (wrapping ErrUnknownEventType or a topic/
// data shape mismatch) if the address matches but no declared signature decodes it.
func (d *Decoder) Decode(chainID uint64, blockTime time.Time, log Log) (Event, error) {
	addr := strings.ToLower(log.Address)

	switch {
	case d.hasAddr(d.identity, addr):
		return d.decodeIdentity(chainID, blockTime, addr, log)
	case d.hasAddr(d.reputation, addr):
		return d.decodeReputation(chainID, blockTime, addr, log)
	case d.hasAddr(d.validation, addr):
		return d.decodeValidation(chainID, blockTime, addr, log)
	default:
		return Event{}, ErrNoMatch
	}
}

func (d *Decoder) hasAddr(set map[string]struct{}, addr string) bool {
	_, ok := set[addr]
	return ok
}

// Canonical event signature topic0 hashes. These stand in for the ABI-derived keccak256 event
// signature hashes a real deployment would compute from the contracts' ABI; the decoder
// interface (§1 Non-goals: "the core consumes a decoder interface") treats them as opaque
// dispatch keys supplied alongside the contract addresses.
const (
	sigRegistered        = "0x" + "registered000000000000000000000000000000000000000000000000000"
	sigMetadataSet       = "0x" + "metadataset0000000000000000000000000000000000000000000000000"
	sigUriUpdated        = "0x" + "uriupdated00000000000000000000000000000000000000000000000000"
	sigNewFeedback       = "0x" + "newfeedback0000000000000000000000000000000000000000000000000"
	sigFeedbackRevoked   = "0x" + "feedbackrevoked000000000000000000000000000000000000000000000"
	sigResponseAppended  = "0x" + "responseappended0000000000000000000000000000000000000000000"
	sigValidationRequest = "0x" + "validationrequest00000000000000000000000000000000000000000000"
	sigValidationResponse = "0x" + "validationresponse000000000000000000000000000000000000000000"
)

func topic0(log Log) string {
	if len(log.Topics) == 0 {
		return ""
	}
	return strings.ToLower(log.Topics[0])
}

func (d *Decoder) decodeIdentity(chainID uint64, blockTime time.Time, addr string, log Log) (Event, error) {
	switch topic0(log) {
	case sigRegistered:
		if len(log.Topics) < 2 {
			return Event{}, fmt.Errorf("decode Registered: %w: expected indexed agent_id topic", ErrVariantMismatch)
		}
		words, err := splitWords(log.Data, 2)
		if err != nil {
			return Event{}, fmt.Errorf("decode Registered: %w", err)
		}
		payload := RegisteredData{
			AgentID:  decimalFromTopic(log.Topics[1]),
			TokenURI: stringFromWord(words[0]),
			Owner:    addressFromWord(words[1]),
		}
		return NewEvent(chainID, log.BlockNumber, blockTime, log.TransactionHash, log.LogIndex, addr, EventRegistered, payload)
	case sigMetadataSet:
		if len(log.Topics) < 3 {
			return Event{}, fmt.Errorf("decode MetadataSet: %w: expected 2 indexed topics", ErrVariantMismatch)
		}
		words, err := splitWords(log.Data, 2)
		if err != nil {
			return Event{}, fmt.Errorf("decode MetadataSet: %w", err)
		}
		payload := MetadataSetData{
			AgentID:    decimalFromTopic(log.Topics[1]),
			IndexedKey: log.Topics[2],
			Key:        stringFromWord(words[0]),
			Value:      stringFromWord(words[1]),
		}
		return NewEvent(chainID, log.BlockNumber, blockTime, log.TransactionHash, log.LogIndex, addr, EventMetadataSet, payload)
	case sigUriUpdated:
		if len(log.Topics) < 2 {
			return Event{}, fmt.Errorf("decode UriUpdated: %w: expected indexed agent_id topic", ErrVariantMismatch)
		}
		words, err := splitWords(log.Data, 1)
		if err != nil {
			return Event{}, fmt.Errorf("decode UriUpdated: %w", err)
		}
		payload := UriUpdatedData{
			AgentID:   decimalFromTopic(log.Topics[1]),
			NewURI:    stringFromWord(words[0]),
			UpdatedBy: addressFromWord(words[0]),
		}
		return NewEvent(chainID, log.BlockNumber, blockTime, log.TransactionHash, log.LogIndex, addr, EventUriUpdated, payload)
	default:
		return Event{}, fmt.Errorf("decode identity log: %w: topic0 %s", ErrUnknownEventType, topic0(log))
	}
}

func (d *Decoder) decodeReputation(chainID uint64, blockTime time.Time, addr string, log Log) (Event, error) {
	switch topic0(log) {
	case sigNewFeedback:
		if len(log.Topics) < 3 {
			return Event{}, fmt.Errorf("decode NewFeedback: %w: expected 2 indexed topics", ErrVariantMismatch)
		}
		words, err := splitWords(log.Data, 4)
		if err != nil {
			return Event{}, fmt.Errorf("decode NewFeedback: %w", err)
		}
		payload := NewFeedbackData{
			AgentID:      decimalFromTopic(log.Topics[1]),
			Client:       addressFromTopic(log.Topics[2]),
			Score:        uint8(new(big.Int).SetBytes(words[0]).Uint64()),
			Tag1:         stringFromWord(words[1]),
			Tag2:         stringFromWord(words[2]),
			FeedbackURI:  stringFromWord(words[3]),
			FeedbackHash: hexFromWord(words[3]),
		}
		return NewEvent(chainID, log.BlockNumber, blockTime, log.TransactionHash, log.LogIndex, addr, EventNewFeedback, payload)
	case sigFeedbackRevoked:
		if len(log.Topics) < 3 {
			return Event{}, fmt.Errorf("decode FeedbackRevoked: %w: expected 2 indexed topics", ErrVariantMismatch)
		}
		words, err := splitWords(log.Data, 1)
		if err != nil {
			return Event{}, fmt.Errorf("decode FeedbackRevoked: %w", err)
		}
		payload := FeedbackRevokedData{
			AgentID:       decimalFromTopic(log.Topics[1]),
			Client:        addressFromTopic(log.Topics[2]),
			FeedbackIndex: new(big.Int).SetBytes(words[0]).Uint64(),
		}
		return NewEvent(chainID, log.BlockNumber, blockTime, log.TransactionHash, log.LogIndex, addr, EventFeedbackRevoked, payload)
	case sigResponseAppended:
		if len(log.Topics) < 3 {
			return Event{}, fmt.Errorf("decode ResponseAppended: %w: expected 2 indexed topics", ErrVariantMismatch)
		}
		words, err := splitWords(log.Data, 4)
		if err != nil {
			return Event{}, fmt.Errorf("decode ResponseAppended: %w", err)
		}
		payload := ResponseAppendedData{
			AgentID:       decimalFromTopic(log.Topics[1]),
			Client:        addressFromTopic(log.Topics[2]),
			FeedbackIndex: new(big.Int).SetBytes(words[0]).Uint64(),
			Responder:     addressFromWord(words[1]),
			ResponseURI:   stringFromWord(words[2]),
			ResponseHash:  hexFromWord(words[3]),
		}
		return NewEvent(chainID, log.BlockNumber, blockTime, log.TransactionHash, log.LogIndex, addr, EventResponseAppended, payload)
	default:
		return Event{}, fmt.Errorf("decode reputation log: %w: topic0 %s", ErrUnknownEventType, topic0(log))
	}
}

func (d *Decoder) decodeValidation(chainID uint64, blockTime time.Time, addr string, log Log) (Event, error) {
	switch topic0(log) {
	case sigValidationRequest:
		if len(log.Topics) < 3 {
			return Event{}, fmt.Errorf("decode ValidationRequest: %w: expected 2 indexed topics", ErrVariantMismatch)
		}
		words, err := splitWords(log.Data, 2)
		if err != nil {
			return Event{}, fmt.Errorf("decode ValidationRequest: %w", err)
		}
		payload := ValidationRequestData{
			ValidatorAddress: addressFromTopic(log.Topics[1]),
			AgentID:          decimalFromTopic(log.Topics[2]),
			RequestURI:       stringFromWord(words[0]),
			RequestHash:      hexFromWord(words[1]),
		}
		return NewEvent(chainID, log.BlockNumber, blockTime, log.TransactionHash, log.LogIndex, addr, EventValidationRequest, payload)
	case sigValidationResponse:
		if len(log.Topics) < 3 {
			return Event{}, fmt.Errorf("decode ValidationResponse: %w: expected 2 indexed topics", ErrVariantMismatch)
		}
		words, err := splitWords(log.Data, 4)
		if err != nil {
			return Event{}, fmt.Errorf("decode ValidationResponse: %w", err)
		}
		payload := ValidationResponseData{
			ValidatorAddress: addressFromTopic(log.Topics[1]),
			AgentID:          decimalFromTopic(log.Topics[2]),
			RequestHash:      hexFromWord(words[0]),
			Response:         uint8(new(big.Int).SetBytes(words[1]).Uint64()),
			ResponseURI:      stringFromWord(words[2]),
			ResponseHash:     hexFromWord(words[2]),
			Tag:              stringFromWord(words[3]),
		}
		return NewEvent(chainID, log.BlockNumber, blockTime, log.TransactionHash, log.LogIndex, addr, EventValidationResponse, payload)
	default:
		return Event{}, fmt.Errorf("decode validation log: %w: topic0 %s", ErrUnknownEventType, topic0(log))
	}
}

// splitWords splits ABI-encoded data (0x + N 32-byte words) into its component words, failing
// if the data is shorter than expected.
func splitWords(data string, want int) ([][]byte, error) {
	trimmed := strings.TrimPrefix(data, "0x")
	raw, err := hex.DecodeString(trimmed)
	if err != nil {
		return nil, fmt.Errorf("invalid hex data: %w", err)
	}
	if len(raw) < want*32 {
		return nil, fmt.Errorf("data too short: got %d bytes, want at least %d", len(raw), want*32)
	}
	words := make([][]byte, want)
	for i := 0; i < want; i++ {
		words[i] = raw[i*32 : (i+1)*32]
	}
	return words, nil
}

// decimalFromTopic renders a 32-byte indexed topic as a decimal numeral string.
func decimalFromTopic(topic string) string {
	trimmed := strings.TrimPrefix(topic, "0x")
	raw, err := hex.DecodeString(trimmed)
	if err != nil {
		return "0"
	}
	return new(big.Int).SetBytes(raw).String()
}

// addressFromTopic extracts the low 20 bytes of a 32-byte indexed address topic, lowercase hex.
func addressFromTopic(topic string) string {
	trimmed := strings.TrimPrefix(topic, "0x")
	raw, err := hex.DecodeString(trimmed)
	if err != nil || len(raw) < 20 {
		return "0x" + strings.Repeat("0", 40)
	}
	return "0x" + hex.EncodeToString(raw[len(raw)-20:])
}

// addressFromWord extracts the low 20 bytes of a 32-byte data word as a lowercase address.
func addressFromWord(word []byte) string {
	if len(word) < 20 {
		return "0x" + strings.Repeat("0", 40)
	}
	return "0x" + hex.EncodeToString(word[len(word)-20:])
}

// hexFromWord renders a data word as 0x + lowercase hex (byte vector rendering).
func hexFromWord(word []byte) string {
	return "0x" + hex.EncodeToString(word)
}

// stringFromWord renders one 32-byte data word as a string by trimming its trailing zero bytes
// and treating the rest as UTF-8. It does not follow ABI offset/length prefixes, and the callers
// in this file pass the raw head words from splitWords, so only a string packed directly into
// that word is recovered; a dynamic ABI string or bytes value is not decoded.
func stringFromWord(word []byte) string {
	end := len(word)
	for end > 0 && word[end-1] == 0 {
		end--
	}
	return string(word[:end])
}
