package evm

import (
	"math/big"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWeiToEther(t *testing.T) {
	t.Run("one ether", func(t *testing.T) {
		wei, ok := new(big.Int).SetString("1000000000000000000", 10)
		require.True(t, ok)
		assert.True(t, WeiToEther(wei).Equal(decimal.NewFromInt(1)))
	})

	t.Run("exact sub-wei precision", func(t *testing.T) {
		// 1.234567890123456789 ether must survive without rounding.
		wei, ok := new(big.Int).SetString("1234567890123456789", 10)
		require.True(t, ok)
		assert.Equal(t, "1.234567890123456789", WeiToEther(wei).String())
	})

	t.Run("zero", func(t *testing.T) {
		assert.True(t, WeiToEther(big.NewInt(0)).IsZero())
	})

	t.Run("nil is zero", func(t *testing.T) {
		assert.True(t, WeiToEther(nil).IsZero())
	})

	t.Run("large balance", func(t *testing.T) {
		// 120M ether, larger than any real account.
		wei, ok := new(big.Int).SetString("120000000000000000000000000", 10)
		require.True(t, ok)
		assert.True(t, WeiToEther(wei).Equal(decimal.NewFromInt(120_000_000)))
	})
}

func TestWeiToGwei(t *testing.T) {
	wei := big.NewInt(25_500_000_000) // 25.5 gwei
	assert.Equal(t, "25.5", WeiToGwei(wei).String())

	assert.True(t, WeiToGwei(nil).IsZero())
}
