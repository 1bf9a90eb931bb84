package events

import "github.com/ethereum/go-ethereum/common"

// ignoredTopics are event selectors the engine has no need to decode: the
// Chainlink OCR config/round-request administrative events that show up on
// the price feed aggregators this bot reads from, but never change the
// planner's view of a price or a market.
var ignoredTopics = []common.Hash{
	common.HexToHash("0xe8ec50e5150ae28ae37e493ff389ffab7ffaec2dc4dccfca03f12a3de29d12b2"),
	common.HexToHash("0xd0d9486a2c673e2a4b57fc82e4c8a556b3e2b82dd5db07e2c04a920ca0f469b6"),
	common.HexToHash("0xd0b1dac935d85bd54cf0a33b0d41d39f8cf53a968465fc7ea2377526b8ac712c"),
	// ConfigSet(uint32,uint64,address[],address[],uint8,uint64,bytes)
	common.HexToHash("0x25d719d88a4512dd76c7442b910a83360845505894eb444ef299409e180f8fb9"),
	// RoundRequested(address,bytes16,uint32,uint8)
	common.HexToHash("0x3ea16a923ff4b1df6526e854c9e3a995c43385d70e73359e10623c74f0b52037"),
}

func isIgnoredTopic(topic common.Hash) bool {
	for _, t := range ignoredTopics {
		if t == topic {
			return true
		}
	}
	return false
}
