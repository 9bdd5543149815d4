package orders

import (
	"fmt"
	"sort"

	"github.com/fxamacker/cbor/v2"
	"github.com/zeebo/blake3"
)

// encMode uses Core Deterministic Encoding so equal requests always hash
// to equal fingerprints.
var encMode cbor.EncMode

func init() {
	var err error
	encMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("orders: CBOR encoder initialization failed: " + err.Error())
	}
}

// RequestedItem is one product line as the client asked for it, before pricing.
type RequestedItem struct {
	ProductID string `cbor:"1,keyasint"`
	Quantity  int    `cbor:"2,keyasint"`
}

type fingerprintInput struct {
	Items   []RequestedItem `cbor:"1,keyasint"`
	Address ShippingAddress `cbor:"2,keyasint"`
}

// Fingerprint hashes a placement request. Item order does not matter.
func Fingerprint(items []RequestedItem, address ShippingAddress) ([]byte, error) {
	sorted := make([]RequestedItem, len(items))
	copy(sorted, items)
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].ProductID != sorted[j].ProductID {
			return sorted[i].ProductID < sorted[j].ProductID
		}
		return sorted[i].Quantity < sorted[j].Quantity
	})

	data, err := encMode.Marshal(fingerprintInput{Items: sorted, Address: address})
	if err != nil {
		return nil, fmt.Errorf("failed to encode fingerprint input: %w", err)
	}
	sum := blake3.Sum256(data)
	return sum[:], nil
}
