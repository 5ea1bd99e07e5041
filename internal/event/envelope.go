package event

import (
	"encoding/json"
	"fmt"
	"sync/atomic"
)

// Type tags an envelope payload. The set is closed on the wire, but decoders
// must map unrecognized tags to TypeUnknown instead of failing the stream,
// which lets the server ship new card/event kinds without breaking old clients.
type Type string

const (
	TypeStreamOpen       Type = "stream.open"
	TypeMessageDelta     Type = "message.delta"
	TypeMessageFinal     Type = "message.final"
	TypeCardNextActions  Type = "card.next_actions"
	TypeCardPlan         Type = "card.plan"
	TypeCardWeeklyReview Type = "card.weekly_review"
	TypeToolRequest      Type = "tool.request"
	TypeToolStatus       Type = "tool.status"
	TypePolicyNotice     Type = "policy.notice"
	TypeError            Type = "error"
	TypeStreamDone       Type = "stream.done"

	// TypeUnknown is never written by the server. It is the decode-side
	// fallback for tags this build does not recognize.
	TypeUnknown Type = "unknown"
)

var knownTypes = map[Type]struct{}{
	TypeStreamOpen:       {},
	TypeMessageDelta:     {},
	TypeMessageFinal:     {},
	TypeCardNextActions:  {},
	TypeCardPlan:         {},
	TypeCardWeeklyReview: {},
	TypeToolRequest:      {},
	TypeToolStatus:       {},
	TypePolicyNotice:     {},
	TypeError:            {},
	TypeStreamDone:       {},
}

// Known reports whether t is part of this build's taxonomy.
func Known(t Type) bool {
	_, ok := knownTypes[t]
	return ok
}

// Envelope is one frame on the event stream. IDs increase strictly per
// connection starting at 1; they exist for resumption and debugging, not
// ordering (the transport already guarantees order).
type Envelope struct {
	ID   int64           `json:"id"`
	Type Type            `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// Terminal reports whether this envelope ends the stream.
func (e Envelope) Terminal() bool {
	return e.Type == TypeStreamDone || e.Type == TypeError
}

// Decode parses a wire frame. An unrecognized type tag is normalized to
// TypeUnknown with the raw payload preserved; callers treat it as a no-op.
func Decode(data []byte) (Envelope, error) {
	var e Envelope
	if err := json.Unmarshal(data, &e); err != nil {
		return Envelope{}, fmt.Errorf("decode envelope: %w", err)
	}
	if !Known(e.Type) {
		e.Type = TypeUnknown
	}
	return e, nil
}

// Sequencer hands out per-connection envelope IDs.
type Sequencer struct {
	n atomic.Int64
}

// Next builds the next envelope in sequence, marshalling payload into Data.
// A nil payload leaves Data empty.
func (s *Sequencer) Next(t Type, payload any) (Envelope, error) {
	e := Envelope{ID: s.n.Add(1), Type: t}
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return Envelope{}, fmt.Errorf("marshal %s payload: %w", t, err)
		}
		e.Data = data
	}
	return e, nil
}
