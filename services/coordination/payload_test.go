package coordination

import (
	"math/big"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/weisyn/rps-client-go/types"
	"github.com/weisyn/rps-client-go/utils"
)

const (
	proposerHex     = "0x70997970C51812dc3A010C7d01b50e0d17dc79C8"
	counterpartyHex = "0x3C44CdDdB6a900fa2b585dd299e03d12FA4293BC"
)

func TestBuildIntent(t *testing.T) {
	coordType := common.HexToHash("0x1234")
	wager := utils.MustParseEther("0.1")

	intent, err := BuildIntent(IntentParams{
		Proposer:         proposerHex,
		Counterparty:     counterpartyHex,
		Wager:            wager,
		CoordinationType: coordType,
		CurrentNonce:     4,
		Expiry:           1_700_003_600,
	})
	require.NoError(t, err)

	assert.Equal(t, uint64(5), intent.Nonce)
	assert.Equal(t, common.HexToAddress(proposerHex), intent.AgentID)
	assert.Equal(t, common.Hash{}, intent.PayloadHash)
	assert.Equal(t, coordType, intent.CoordinationType)
	assert.Equal(t, wager.String(), intent.CoordinationValue.String())
	assert.Equal(t, uint64(1_700_003_600), intent.Expiry)
	// 0x3c44... < 0x7099...
	assert.Equal(t, []common.Address{
		common.HexToAddress(counterpartyHex),
		common.HexToAddress(proposerHex),
	}, intent.Participants)

	// 赌注为副本
	wager.SetInt64(1)
	assert.Equal(t, "100000000000000000", intent.CoordinationValue.String())
}

func TestBuildIntent_Deterministic(t *testing.T) {
	params := IntentParams{
		Proposer:     proposerHex,
		Counterparty: counterpartyHex,
		Wager:        big.NewInt(42),
		CurrentNonce: 0,
		Expiry:       100,
	}
	a, err := BuildIntent(params)
	require.NoError(t, err)
	b, err := BuildIntent(params)
	require.NoError(t, err)
	assert.Equal(t, a, b)

	// 参与者顺序与角色无关
	swapped := params
	swapped.Proposer, swapped.Counterparty = params.Counterparty, params.Proposer
	c, err := BuildIntent(swapped)
	require.NoError(t, err)
	assert.Equal(t, a.Participants, c.Participants)
	assert.NotEqual(t, a.AgentID, c.AgentID)
}

func TestBuildIntent_Errors(t *testing.T) {
	tests := []struct {
		name    string
		params  IntentParams
		wantErr error
	}{
		{
			name:    "bad proposer",
			params:  IntentParams{Proposer: "0x1234", Counterparty: counterpartyHex},
			wantErr: types.ErrInvalidAddress,
		},
		{
			name:    "bad counterparty",
			params:  IntentParams{Proposer: proposerHex, Counterparty: "alice"},
			wantErr: types.ErrInvalidAddress,
		},
		{
			name:    "same participant",
			params:  IntentParams{Proposer: proposerHex, Counterparty: "0x70997970c51812dc3a010c7d01b50e0d17dc79c8"},
			wantErr: types.ErrInvalidAddress,
		},
		{
			name:    "negative wager",
			params:  IntentParams{Proposer: proposerHex, Counterparty: counterpartyHex, Wager: big.NewInt(-1)},
			wantErr: types.ErrWagerTooLow,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := BuildIntent(tt.params)
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.wantErr)
			assert.Equal(t, types.KindValidation, types.KindOf(err))
		})
	}
}

func TestBuildAcceptance(t *testing.T) {
	intentHash := "0xab" + strings.Repeat("0", 62)
	conditions := common.HexToHash("0xc0ffee")

	acc, err := BuildAcceptance(AcceptanceParams{
		IntentHash:     intentHash,
		Participant:    counterpartyHex,
		ConditionsHash: conditions,
		Expiry:         99,
	})
	require.NoError(t, err)
	assert.Equal(t, DefaultAcceptanceNonce, acc.Nonce)
	assert.Equal(t, common.HexToHash(intentHash), acc.IntentHash)
	assert.Equal(t, common.HexToAddress(counterpartyHex), acc.Participant)
	assert.Equal(t, conditions, acc.ConditionsHash)
	assert.Nil(t, acc.Signature)

	acc, err = BuildAcceptance(AcceptanceParams{IntentHash: intentHash, Participant: counterpartyHex, Nonce: 7})
	require.NoError(t, err)
	assert.Equal(t, uint64(7), acc.Nonce)

	_, err = BuildAcceptance(AcceptanceParams{IntentHash: "0xabc", Participant: counterpartyHex})
	assert.ErrorIs(t, err, types.ErrInvalidIntentHash)

	_, err = BuildAcceptance(AcceptanceParams{IntentHash: intentHash, Participant: "nobody"})
	assert.ErrorIs(t, err, types.ErrInvalidAddress)
}

func TestArgs_AreCopies(t *testing.T) {
	intent, err := BuildIntent(IntentParams{
		Proposer:     proposerHex,
		Counterparty: counterpartyHex,
		Wager:        big.NewInt(10),
	})
	require.NoError(t, err)

	args := intent.Args()
	args.Participants[0] = common.Address{}
	args.CoordinationValue.SetInt64(0)
	assert.Equal(t, common.HexToAddress(counterpartyHex), intent.Participants[0])
	assert.Equal(t, int64(10), intent.CoordinationValue.Int64())

	acc := &Acceptance{Signature: []byte{1, 2, 3}}
	accArgs := acc.Args()
	accArgs.Signature[0] = 9
	assert.Equal(t, byte(1), acc.Signature[0])
}
