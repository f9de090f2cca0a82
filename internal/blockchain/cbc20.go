package blockchain

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/core-coin/go-core/v2/common"
)

// Function selectors of the CBC-20 token calls that move value.
const (
	// transfer(address,uint256)
	transfer = "4b40e901"
	// batchTransfer(address[],uint256[])
	batchTransfer = "e86e7c5f"
	// transferFrom(address,address,uint256)
	transferFrom = "31f2e679"
)

// wordLen is one ABI word in hex characters.
const wordLen = 64

var tokenUnit = big.NewFloat(1e18)

// DecodeTokenTransfers decodes the transfers carried by a CBC-20 call. input is
// the hex call data and sender the transaction signer. Calls that do not move
// tokens yield no transfers.
func DecodeTokenTransfers(input, sender string) ([]Transfer, error) {
	input = strings.TrimPrefix(strings.ToLower(input), "0x")
	if len(input) < 8 {
		return nil, nil
	}

	switch input[:8] {
	case transfer:
		if err := need(input, 8+2*wordLen); err != nil {
			return nil, err
		}
		return []Transfer{{
			From:   sender,
			To:     addressWord(input, 8),
			Amount: amountWord(input, 8+wordLen),
		}}, nil

	case transferFrom:
		if err := need(input, 8+3*wordLen); err != nil {
			return nil, err
		}
		return []Transfer{{
			From:   addressWord(input, 8),
			To:     addressWord(input, 8+wordLen),
			Amount: amountWord(input, 8+2*wordLen),
		}}, nil

	case batchTransfer:
		// head: two offsets, then the recipients array (length + items), then the amounts array
		countAt := 8 + 2*wordLen
		if err := need(input, countAt+wordLen); err != nil {
			return nil, err
		}
		count, ok := new(big.Int).SetString(input[countAt:countAt+wordLen], 16)
		if !ok || !count.IsInt64() || count.Int64() > 1024 {
			return nil, fmt.Errorf("invalid batch size %q", input[countAt:countAt+wordLen])
		}
		n := int(count.Int64())
		recipientsAt := countAt + wordLen
		amountsAt := recipientsAt + n*wordLen + wordLen
		if err := need(input, amountsAt+n*wordLen); err != nil {
			return nil, err
		}

		transfers := make([]Transfer, 0, n)
		for i := 0; i < n; i++ {
			transfers = append(transfers, Transfer{
				From:   sender,
				To:     addressWord(input, recipientsAt+i*wordLen),
				Amount: amountWord(input, amountsAt+i*wordLen),
			})
		}
		return transfers, nil
	}
	return nil, nil
}

func need(input string, n int) error {
	if len(input) < n {
		return fmt.Errorf("call data too short: %d < %d", len(input), n)
	}
	return nil
}

// addressWord returns the 22-byte address right-aligned in the word at offset.
func addressWord(input string, offset int) string {
	return input[offset+wordLen-2*common.AddressLength : offset+wordLen]
}

func amountWord(input string, offset int) float64 {
	raw := new(big.Int).SetBytes(common.Hex2Bytes(input[offset : offset+wordLen]))
	amount, _ := new(big.Float).Quo(new(big.Float).SetInt(raw), tokenUnit).Float64()
	return amount
}
