package script

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/btpc/consensus/foundation/blockchain/signature"
)

// Execution errors.
var (
	ErrStackUnderflow   = errors.New("stack underflow")
	ErrStackOverflow    = errors.New("stack overflow")
	ErrTooManyOps       = errors.New("too many operations")
	ErrElementTooLarge  = errors.New("stack element too large")
	ErrVerifyFailed     = errors.New("verify failed")
	ErrEqualVerify      = errors.New("equal verify failed")
	ErrSignatureInvalid = errors.New("signature verification failed")
	ErrNotPushOnly      = errors.New("unlock script is not push only")
	ErrEvalFalse        = errors.New("script evaluated to false")
	ErrCleanStack       = errors.New("stack not clean after execution")
)

// Context is the capability a script is evaluated against: the message the
// input's signature must cover. The message already binds the transaction
// contents and the input index.
type Context struct {
	Message    []byte
	InputIndex int
}

// VerifyFunc checks a signature over a message for a public key.
type VerifyFunc func(pubKey, msg, sig []byte) bool

// Engine evaluates unlock and lock script pairs.
type Engine struct {
	verify VerifyFunc
}

// NewEngine constructs an engine that checks signatures with ML-DSA.
func NewEngine() *Engine {
	return &Engine{verify: signature.Verify}
}

// NewEngineWithVerifier constructs an engine with a custom signature check.
func NewEngineWithVerifier(fn VerifyFunc) *Engine {
	return &Engine{verify: fn}
}

// Execute runs the unlock script followed by the lock script on a shared
// stack. Execution succeeds when exactly one true element is left.
func (e *Engine) Execute(unlock []byte, lock []byte, ctx Context) error {
	unlockIns, err := Parse(unlock)
	if err != nil {
		return fmt.Errorf("unlock script: %w", err)
	}

	for _, in := range unlockIns {
		if !in.IsPush() {
			return ErrNotPushOnly
		}
	}

	lockIns, err := Parse(lock)
	if err != nil {
		return fmt.Errorf("lock script: %w", err)
	}

	vm := machine{verify: e.verify, ctx: ctx}
	if err := vm.run(unlockIns); err != nil {
		return err
	}
	if err := vm.run(lockIns); err != nil {
		return err
	}

	if len(vm.stack) != 1 {
		return ErrCleanStack
	}
	if !asBool(vm.stack[0]) {
		return ErrEvalFalse
	}

	return nil
}

// =============================================================================

type machine struct {
	stack  [][]byte
	ops    int
	verify VerifyFunc
	ctx    Context
}

func (m *machine) run(ins []Instruction) error {
	for _, in := range ins {
		if !in.IsPush() {
			m.ops++
			if m.ops > MaxOps {
				return ErrTooManyOps
			}
		}

		if err := m.step(in); err != nil {
			return fmt.Errorf("%s: %w", in, err)
		}

		if len(m.stack) > MaxStackSize {
			return ErrStackOverflow
		}
	}

	return nil
}

func (m *machine) step(in Instruction) error {
	switch in.Op {
	case OpTrue:
		m.push([]byte{1})

	case OpVerify:
		v, err := m.pop()
		if err != nil {
			return err
		}
		if !asBool(v) {
			return ErrVerifyFailed
		}

	case OpDup:
		if len(m.stack) < 1 {
			return ErrStackUnderflow
		}
		top := m.stack[len(m.stack)-1]
		m.push(bytes.Clone(top))

	case OpEqual, OpEqualVerify:
		a, b, err := m.pop2()
		if err != nil {
			return err
		}
		eq := bytes.Equal(a, b)
		if in.Op == OpEqualVerify {
			if !eq {
				return ErrEqualVerify
			}
			return nil
		}
		m.push(fromBool(eq))

	case OpHash160:
		v, err := m.pop()
		if err != nil {
			return err
		}
		m.push(signature.PubKeyHash(v))

	case OpCheckMLDSASig, OpCheckMLDSASigVerify:
		pubKey, err := m.pop()
		if err != nil {
			return err
		}
		sig, err := m.pop()
		if err != nil {
			return err
		}
		ok := m.verify(pubKey, m.ctx.Message, sig)
		if in.Op == OpCheckMLDSASigVerify {
			if !ok {
				return ErrSignatureInvalid
			}
			return nil
		}
		m.push(fromBool(ok))

	default:
		if in.Op > OpPushData4 {
			return ErrUnknownOpcode
		}
		if len(in.Data) > MaxElementSize {
			return ErrElementTooLarge
		}
		m.push(in.Data)
	}

	return nil
}

func (m *machine) push(v []byte) {
	m.stack = append(m.stack, v)
}

func (m *machine) pop() ([]byte, error) {
	if len(m.stack) == 0 {
		return nil, ErrStackUnderflow
	}
	v := m.stack[len(m.stack)-1]
	m.stack = m.stack[:len(m.stack)-1]
	return v, nil
}

func (m *machine) pop2() ([]byte, []byte, error) {
	a, err := m.pop()
	if err != nil {
		return nil, nil, err
	}
	b, err := m.pop()
	if err != nil {
		return nil, nil, err
	}
	return a, b, nil
}

// asBool treats any non zero byte as true, except a lone sign bit in the
// last position (negative zero).
func asBool(v []byte) bool {
	for i, b := range v {
		if b != 0 {
			if i == len(v)-1 && b == 0x80 {
				return false
			}
			return true
		}
	}
	return false
}

func fromBool(b bool) []byte {
	if b {
		return []byte{1}
	}
	return []byte{}
}
