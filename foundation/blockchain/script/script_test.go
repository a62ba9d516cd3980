package script_test

import (
	"bytes"
	"testing"

	"github.com/btpc/consensus/foundation/blockchain/script"
	"github.com/btpc/consensus/foundation/blockchain/signature"
	"github.com/stretchr/testify/require"
)

func TestPayToPubKeyHash(t *testing.T) {
	k, err := signature.GenerateKey()
	require.NoError(t, err)

	lock, err := script.PayToPubKeyHash(k.PubKeyHash())
	require.NoError(t, err)

	msg := []byte("sighash for input 0")
	unlock, err := script.SignatureScript(k.Sign(msg), k.PublicKey())
	require.NoError(t, err)

	eng := script.NewEngine()

	t.Run("valid", func(t *testing.T) {
		require.NoError(t, eng.Execute(unlock, lock, script.Context{Message: msg}))
	})

	t.Run("other message", func(t *testing.T) {
		err := eng.Execute(unlock, lock, script.Context{Message: []byte("sighash for input 1")})
		require.ErrorIs(t, err, script.ErrEvalFalse)
	})

	t.Run("other key", func(t *testing.T) {
		other, err := signature.GenerateKey()
		require.NoError(t, err)

		bad, err := script.SignatureScript(other.Sign(msg), other.PublicKey())
		require.NoError(t, err)

		err = eng.Execute(bad, lock, script.Context{Message: msg})
		require.ErrorIs(t, err, script.ErrEqualVerify)
	})

	t.Run("extract", func(t *testing.T) {
		pkh, ok := script.ExtractPubKeyHash(lock)
		require.True(t, ok)
		require.Equal(t, k.PubKeyHash(), pkh)

		_, ok = script.ExtractPubKeyHash([]byte{byte(script.OpTrue)})
		require.False(t, ok)
	})
}

func TestExecuteRules(t *testing.T) {
	alwaysTrue := script.NewEngineWithVerifier(func(pub, msg, sig []byte) bool { return true })
	alwaysFalse := script.NewEngineWithVerifier(func(pub, msg, sig []byte) bool { return false })

	build := func(b *script.Builder) []byte {
		s, err := b.Script()
		require.NoError(t, err)
		return s
	}

	tests := []struct {
		name   string
		eng    *script.Engine
		unlock []byte
		lock   []byte
		err    error
	}{
		{
			name: "op true",
			eng:  alwaysTrue,
			lock: []byte{byte(script.OpTrue)},
		},
		{
			name: "op false",
			eng:  alwaysTrue,
			lock: []byte{byte(script.OpFalse)},
			err:  script.ErrEvalFalse,
		},
		{
			name: "empty",
			eng:  alwaysTrue,
			err:  script.ErrCleanStack,
		},
		{
			name:   "dirty stack",
			eng:    alwaysTrue,
			unlock: build(script.NewBuilder().AddData([]byte{1}).AddData([]byte{1})),
			lock:   []byte{byte(script.OpTrue)},
			err:    script.ErrCleanStack,
		},
		{
			name:   "equal",
			eng:    alwaysTrue,
			unlock: build(script.NewBuilder().AddData([]byte("abc"))),
			lock:   build(script.NewBuilder().AddData([]byte("abc")).AddOp(script.OpEqual)),
		},
		{
			name:   "verify fails",
			eng:    alwaysTrue,
			unlock: build(script.NewBuilder().AddData([]byte{0x80})),
			lock:   build(script.NewBuilder().AddOp(script.OpVerify).AddOp(script.OpTrue)),
			err:    script.ErrVerifyFailed,
		},
		{
			name: "underflow",
			eng:  alwaysTrue,
			lock: []byte{byte(script.OpDup)},
			err:  script.ErrStackUnderflow,
		},
		{
			name:   "unlock not push only",
			eng:    alwaysTrue,
			unlock: []byte{byte(script.OpTrue), byte(script.OpDup)},
			lock:   []byte{byte(script.OpTrue)},
			err:    script.ErrNotPushOnly,
		},
		{
			name:   "checksig verify",
			eng:    alwaysFalse,
			unlock: build(script.NewBuilder().AddData([]byte("sig")).AddData([]byte("pub"))),
			lock:   build(script.NewBuilder().AddOp(script.OpCheckMLDSASigVerify).AddOp(script.OpTrue)),
			err:    script.ErrSignatureInvalid,
		},
		{
			name: "unknown opcode",
			eng:  alwaysTrue,
			lock: []byte{0xff},
			err:  script.ErrUnknownOpcode,
		},
		{
			name: "truncated push",
			eng:  alwaysTrue,
			lock: []byte{0x05, 0x01},
			err:  script.ErrMalformedPush,
		},
		{
			name: "too large",
			eng:  alwaysTrue,
			lock: make([]byte, script.MaxScriptSize+1),
			err:  script.ErrScriptTooLarge,
		},
		{
			name: "too many ops",
			eng:  alwaysTrue,
			lock: append([]byte{byte(script.OpTrue)}, bytes.Repeat([]byte{byte(script.OpDup), byte(script.OpVerify)}, script.MaxOps)...),
			err:  script.ErrTooManyOps,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.eng.Execute(tt.unlock, tt.lock, script.Context{Message: []byte("m")})
			if tt.err == nil {
				require.NoError(t, err)
				return
			}
			require.ErrorIs(t, err, tt.err)
		})
	}
}

func TestPushEncodings(t *testing.T) {
	for _, n := range []int{1, 75, 76, 255, 256, 3293} {
		data := bytes.Repeat([]byte{0xab}, n)

		s, err := script.NewBuilder().AddData(data).Script()
		require.NoError(t, err)

		ins, err := script.Parse(s)
		require.NoError(t, err)
		require.Len(t, ins, 1)
		require.Equal(t, data, ins[0].Data)
	}
}

func TestCoinbaseHeight(t *testing.T) {
	s, err := script.CoinbaseScript(100, []byte("miner"))
	require.NoError(t, err)

	h, err := script.CoinbaseHeight(s)
	require.NoError(t, err)
	require.EqualValues(t, 100, h)

	_, err = script.CoinbaseHeight([]byte{byte(script.OpTrue)})
	require.ErrorIs(t, err, script.ErrNoHeight)
}
