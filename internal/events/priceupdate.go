package events

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// priceRefreshSignatures are the liquid-staking rebase events that change
// a wrapped feed's underlying rate without the indexer ever seeing a
// Deposit/Withdraw/AnswerUpdated it already decodes: every event that
// moves the staking protocol's ether buffer or fee split, which is exactly
// the set of things a Single-wrapped price controller's rate depends on.
var priceRefreshSignatures = []string{
	"ELRewardsReceived(uint256)",
	"ELRewardsVaultSet(address)",
	"ELRewardsWithdrawalLimitSet(uint16)",
	"FeeDistributionSet(uint16,uint16,uint16)",
	"FeeSet(uint16)",
	"RecoverToVault(address,address,address,uint256)",
	"ScriptResult(address,bytes,bytes,bytes)",
	"SharesBurnt(address,uint256,uint256,uint256)",
	"Unbuffered(uint256)",
	"Withdrawal(address,uint256,string,bytes,uint256)",
}

var priceRefreshTopics = computeTopics(priceRefreshSignatures)

func computeTopics(signatures []string) []common.Hash {
	topics := make([]common.Hash, len(signatures))
	for i, sig := range signatures {
		topics[i] = crypto.Keccak256Hash([]byte(sig))
	}
	return topics
}

func isPriceRefreshTopic(topic common.Hash) bool {
	for _, t := range priceRefreshTopics {
		if t == topic {
			return true
		}
	}
	return false
}

// plainIgnoreSignatures are the remaining liquid-staking admin/accounting
// events that carry no pricing implication at all (pure staking-queue or
// governance bookkeeping), distinct from the hardcoded Chainlink OCR
// topics in ignore.go.
var plainIgnoreSignatures = []string{
	"Submitted(address,uint256,address)",
	"TransferShares(address,address,uint256)",
	"Resumed()",
	"ProtocolContactsSet(address,address,address)",
	"StakingLimitRemoved()",
	"StakingLimitSet(uint256,uint256)",
	"StakingPaused()",
	"StakingResumed()",
	"Stopped()",
	"WithdrawalCredentialsSet(bytes32)",
}

var plainIgnoreTopics = computeTopics(plainIgnoreSignatures)

func isPlainIgnoreTopic(topic common.Hash) bool {
	for _, t := range plainIgnoreTopics {
		if t == topic {
			return true
		}
	}
	return false
}
