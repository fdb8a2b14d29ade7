package token

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestWeiToFloat(t *testing.T) {
	wei, _ := new(big.Int).SetString("2500000000000000000", 10)
	assert.InDelta(t, 2.5, weiToFloat(wei), 0.0001)
}

func TestClampBounds(t *testing.T) {
	assert.Equal(t, minSpeed, clamp(0, minSpeed, maxSpeed))
	assert.Equal(t, maxSpeed, clamp(maxSpeed*10, minSpeed, maxSpeed))
	assert.Equal(t, int64(500), clamp(500, minSpeed, maxSpeed))
}

func TestBatchKeyCollapsesDuplicates(t *testing.T) {
	// Two observations of the same delegate in the same block must
	// collapse to one, last-write-wins, mirroring
	// uni_token.rs's HashMap<(addr, dao_id, block), ActiveModel> idiom.
	collapsed := map[batchKey]int{}
	key := batchKey{address: "0xabc", block: 100}
	collapsed[key] = 1
	collapsed[key] = 2
	assert.Len(t, collapsed, 1)
	assert.Equal(t, 2, collapsed[key])
}
