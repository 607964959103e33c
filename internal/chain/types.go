// Package chain queries the payment chain over JSON-RPC: token balances by
// polling and transfer events by log query or websocket subscription.
package chain

import (
	"fmt"
	"math/big"
	"regexp"
	"strings"

	"github.com/swissgrant/platform/internal/grant"
)

// Transfer is one decoded ERC-20 Transfer event.
type Transfer struct {
	TxHash      string
	From        string
	To          string
	Value       grant.Amount
	BlockNumber uint64
}

// transferTopic is keccak256("Transfer(address,address,uint256)").
const transferTopic = "0xddf252ad1be2c89b69c2b068fc378daa952ba7f163c4a11628f55a4df523b3ef"

// balanceOfSelector is the first four bytes of keccak256("balanceOf(address)").
const balanceOfSelector = "0x70a08231"

var addressPattern = regexp.MustCompile(`^0x[0-9a-fA-F]{40}$`)

// ValidAddress reports whether s is a 20-byte hex address.
func ValidAddress(s string) bool {
	return addressPattern.MatchString(s)
}

// addressTopic left-pads an address to a 32-byte log topic.
func addressTopic(address string) string {
	return "0x" + strings.Repeat("0", 24) + strings.ToLower(strings.TrimPrefix(address, "0x"))
}

// topicAddress recovers the address from a 32-byte topic.
func topicAddress(topic string) string {
	h := strings.TrimPrefix(topic, "0x")
	if len(h) < 40 {
		return "0x" + h
	}
	return "0x" + strings.ToLower(h[len(h)-40:])
}

// parseHexUint parses a 0x quantity into uint64.
func parseHexUint(s string) (uint64, error) {
	v, ok := new(big.Int).SetString(strings.TrimPrefix(s, "0x"), 16)
	if !ok {
		return 0, fmt.Errorf("invalid hex quantity %q", s)
	}
	if !v.IsUint64() {
		return 0, fmt.Errorf("hex quantity %q out of range", s)
	}
	return v.Uint64(), nil
}

// parseHexAmount parses a 0x or bare-hex word into a token amount.
func parseHexAmount(s string) (grant.Amount, error) {
	h := strings.TrimPrefix(s, "0x")
	if h == "" {
		return 0, nil
	}
	v, ok := new(big.Int).SetString(h, 16)
	if !ok {
		return 0, fmt.Errorf("invalid hex amount %q", s)
	}
	return grant.AmountFromBig(v)
}
