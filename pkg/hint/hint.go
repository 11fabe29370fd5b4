// Package hint models Sigma-protocol transcript fragments ("hints") exchanged
// while assembling a threshold proof.
//
// A Bag maps each transaction input index to an ordered list of hints. A hint
// is either a first-message commitment (real or simulated) or a secret
// response. Bags cross the transcript-engine boundary in serialized form; the
// codec here validates shape without interpreting the cryptographic content.
package hint

import (
	"bytes"
	"fmt"
	"sort"

	"github.com/fxamacker/cbor/v2"
)

// Type discriminates the hint variants.
type Type string

const (
	// TypeCommitment is a first-message transcript for an input.
	TypeCommitment Type = "commitment"
	// TypeResponse is a challenge-response transcript for an input.
	TypeResponse Type = "response"
)

// Hint is one transcript fragment.
//
// Commitment hints use PubKeyHash, FirstMessage, Position and Simulated.
// Response hints use PubKeyHash, FirstMessage, SecretResponse and Position.
type Hint struct {
	Type           Type   `cbor:"type" json:"type"`
	Simulated      bool   `cbor:"simulated,omitempty" json:"simulated,omitempty"`
	PubKeyHash     []byte `cbor:"pubkeyHash" json:"pubkeyHash"`
	FirstMessage   []byte `cbor:"firstMessage" json:"firstMessage"`
	SecretResponse []byte `cbor:"secretResponse,omitempty" json:"secretResponse,omitempty"`
	Position       string `cbor:"position" json:"position"`
}

// Validate checks the variant shape.
func (h *Hint) Validate() error {
	switch h.Type {
	case TypeCommitment:
		if len(h.SecretResponse) != 0 {
			return fmt.Errorf("hint: commitment carries a secret response")
		}
	case TypeResponse:
		if h.Simulated {
			return fmt.Errorf("hint: response cannot be simulated")
		}
		if len(h.SecretResponse) == 0 {
			return fmt.Errorf("hint: response missing secret response")
		}
	default:
		return fmt.Errorf("hint: unknown type %q", h.Type)
	}
	if len(h.PubKeyHash) == 0 {
		return fmt.Errorf("hint: missing pubkey hash")
	}
	if len(h.FirstMessage) == 0 {
		return fmt.Errorf("hint: missing first message")
	}
	return nil
}

// Bag holds the hints collected per input index.
type Bag struct {
	Inputs map[int][]Hint `cbor:"inputs" json:"inputs"`
}

// NewBag returns an empty bag.
func NewBag() *Bag {
	return &Bag{Inputs: make(map[int][]Hint)}
}

// Add appends a hint to the list for the given input.
func (b *Bag) Add(input int, h Hint) {
	if b.Inputs == nil {
		b.Inputs = make(map[int][]Hint)
	}
	b.Inputs[input] = append(b.Inputs[input], h)
}

// InputIndices returns the populated input indices in ascending order.
func (b *Bag) InputIndices() []int {
	out := make([]int, 0, len(b.Inputs))
	for i := range b.Inputs {
		out = append(out, i)
	}
	sort.Ints(out)
	return out
}

// Len returns the total number of hints across all inputs.
func (b *Bag) Len() int {
	n := 0
	for _, hints := range b.Inputs {
		n += len(hints)
	}
	return n
}

// FirstCommitment returns the first commitment hint recorded for the input,
// or nil if there is none.
func (b *Bag) FirstCommitment(input int) *Hint {
	for i := range b.Inputs[input] {
		if b.Inputs[input][i].Type == TypeCommitment {
			return &b.Inputs[input][i]
		}
	}
	return nil
}

// FirstResponse returns the first response hint recorded for the input, or
// nil if there is none.
func (b *Bag) FirstResponse(input int) *Hint {
	for i := range b.Inputs[input] {
		if b.Inputs[input][i].Type == TypeResponse {
			return &b.Inputs[input][i]
		}
	}
	return nil
}

// Validate checks every hint in the bag.
func (b *Bag) Validate() error {
	for input, hints := range b.Inputs {
		if input < 0 {
			return fmt.Errorf("hint: negative input index %d", input)
		}
		for i := range hints {
			if err := hints[i].Validate(); err != nil {
				return fmt.Errorf("input %d, hint %d: %w", input, i, err)
			}
		}
	}
	return nil
}

// Merge concatenates the per-input hint lists of each bag, preserving the
// given bag order within each input. Inputs are capped at numInputs; no
// deduplication is performed.
func Merge(numInputs int, bags ...*Bag) *Bag {
	merged := NewBag()
	for _, bag := range bags {
		if bag == nil {
			continue
		}
		for i := 0; i < numInputs; i++ {
			if hints := bag.Inputs[i]; len(hints) > 0 {
				merged.Inputs[i] = append(merged.Inputs[i], hints...)
			}
		}
	}
	return merged
}

var encMode cbor.EncMode

func init() {
	opts := cbor.CanonicalEncOptions()
	var err error
	encMode, err = opts.EncMode()
	if err != nil {
		panic(fmt.Errorf("hint: cbor enc mode: %w", err))
	}
}

// Encode serializes the bag after validating it.
func (b *Bag) Encode() ([]byte, error) {
	if err := b.Validate(); err != nil {
		return nil, err
	}
	data, err := encMode.Marshal(b)
	if err != nil {
		return nil, fmt.Errorf("hint: encode: %w", err)
	}
	return data, nil
}

// Decode parses and validates a serialized bag.
func Decode(data []byte) (*Bag, error) {
	var b Bag
	if err := cbor.Unmarshal(data, &b); err != nil {
		return nil, fmt.Errorf("hint: decode: %w", err)
	}
	if b.Inputs == nil {
		b.Inputs = make(map[int][]Hint)
	}
	if err := b.Validate(); err != nil {
		return nil, err
	}
	return &b, nil
}

// Equal reports deep equality of two hints.
func (h *Hint) Equal(other *Hint) bool {
	return h.Type == other.Type &&
		h.Simulated == other.Simulated &&
		bytes.Equal(h.PubKeyHash, other.PubKeyHash) &&
		bytes.Equal(h.FirstMessage, other.FirstMessage) &&
		bytes.Equal(h.SecretResponse, other.SecretResponse) &&
		h.Position == other.Position
}
