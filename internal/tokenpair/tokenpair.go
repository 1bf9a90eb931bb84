// Package tokenpair catalogs the swap fee tiers available for each
// unordered token pair, used by the planner to pick a flash-swap funding
// route.
package tokenpair

import (
	"container/heap"
	"encoding/json"
	"fmt"
	"os"

	"github.com/ethereum/go-ethereum/common"
)

// tierHeap is a min-heap of Uniswap-style fee tiers (in hundredths of a
// basis point), cheapest tier on top.
type tierHeap []uint32

func (h tierHeap) Len() int            { return len(h) }
func (h tierHeap) Less(i, j int) bool  { return h[i] < h[j] }
func (h tierHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *tierHeap) Push(x interface{}) { *h = append(*h, x.(uint32)) }
func (h *tierHeap) Pop() interface{} {
	old := *h
	n := len(old)
	last := old[n-1]
	*h = old[:n-1]
	return last
}

// Lowest returns the cheapest fee tier registered for this pair.
func (h tierHeap) Lowest() uint32 {
	return h[0]
}

// pairKey is the canonical (lower, higher) address ordering used as the
// catalog's map key, matching ordered_addresses.
type pairKey [2]common.Address

// OrderedAddresses returns (token0, token1) sorted so the lower address
// comes first, the canonical key for an unordered token pair.
func OrderedAddresses(a, b common.Address) (common.Address, common.Address) {
	if (a.Big().Cmp(b.Big())) < 0 {
		return a, b
	}
	return b, a
}

// Catalog maps unordered token pairs to their known swap-fee tiers and
// tracks the set of all tokens that appear in at least one pair.
type Catalog struct {
	pairs  map[pairKey]*tierHeap
	tokens map[common.Address]struct{}
}

// rawTriple is the on-disk JSON shape: [token0, token1, feeTier].
type rawTriple struct {
	Token0 string
	Token1 string
	Fee    uint32
}

func (t *rawTriple) UnmarshalJSON(data []byte) error {
	var tuple [3]json.RawMessage
	if err := json.Unmarshal(data, &tuple); err != nil {
		return err
	}
	if err := json.Unmarshal(tuple[0], &t.Token0); err != nil {
		return fmt.Errorf("token pair entry token0: %w", err)
	}
	if err := json.Unmarshal(tuple[1], &t.Token1); err != nil {
		return fmt.Errorf("token pair entry token1: %w", err)
	}
	if err := json.Unmarshal(tuple[2], &t.Fee); err != nil {
		return fmt.Errorf("token pair entry fee: %w", err)
	}
	return nil
}

// Parse builds a Catalog from the JSON array of [token0, token1, fee]
// triples. Duplicate pairs with different fees coexist in the heap.
func Parse(data []byte) (*Catalog, error) {
	var raw []rawTriple
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse token pairs: %w", err)
	}

	c := &Catalog{
		pairs:  map[pairKey]*tierHeap{},
		tokens: map[common.Address]struct{}{},
	}

	for _, t := range raw {
		if !common.IsHexAddress(t.Token0) || !common.IsHexAddress(t.Token1) {
			return nil, fmt.Errorf("parse token pairs: invalid address in %+v", t)
		}
		token0 := common.HexToAddress(t.Token0)
		token1 := common.HexToAddress(t.Token1)

		c.tokens[token0] = struct{}{}
		c.tokens[token1] = struct{}{}

		lo, hi := OrderedAddresses(token0, token1)
		key := pairKey{lo, hi}
		h, ok := c.pairs[key]
		if !ok {
			h = &tierHeap{}
			heap.Init(h)
			c.pairs[key] = h
		}
		heap.Push(h, t.Fee)
	}

	return c, nil
}

// Load reads and parses a token-pair catalog file from disk.
func Load(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("load token pairs %s: %w", path, err)
	}
	return Parse(data)
}

// Tokens returns the set of all tokens appearing in at least one pair.
func (c *Catalog) Tokens() map[common.Address]struct{} {
	return c.tokens
}

// LowestFee returns the cheapest known fee tier for the unordered pair
// (a, b) and true, or (0, false) if no pair is registered.
func (c *Catalog) LowestFee(a, b common.Address) (uint32, bool) {
	lo, hi := OrderedAddresses(a, b)
	h, ok := c.pairs[pairKey{lo, hi}]
	if !ok || h.Len() == 0 {
		return 0, false
	}
	return h.Lowest(), true
}
