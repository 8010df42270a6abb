package kv

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"math/big"
	"path/filepath"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/rlp"
	"github.com/holiman/uint256"
	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/storage"
	"github.com/syndtr/goleveldb/leveldb/util"

	"rateSwap/internal/ledger"
	"rateSwap/internal/model"
	"rateSwap/internal/ratetable"
)

var (
	ratePrefix      = []byte("rate:")
	balancePrefix   = []byte("bal:")
	allowancePrefix = []byte("alw:")
	recordPrefix    = []byte("swap:")
	sequenceKey     = []byte("meta:sequence")
)

// Store keeps rates, balances, allowances and swap records in LevelDB.
// Settlements are serialized by mu and committed as one write batch.
type Store struct {
	db *leveldb.DB
	mu sync.Mutex
}

var (
	_ ledger.Store    = (*Store)(nil)
	_ ratetable.Store = (*Store)(nil)
)

// Open opens (or creates) a LevelDB database at path.
func Open(path string) (*Store, error) {
	trimmed := strings.TrimSpace(path)
	if trimmed == "" {
		return nil, fmt.Errorf("leveldb path required")
	}
	abs, err := filepath.Abs(trimmed)
	if err != nil {
		return nil, fmt.Errorf("resolve leveldb path: %w", err)
	}
	db, err := leveldb.OpenFile(abs, nil)
	if err != nil {
		return nil, fmt.Errorf("open leveldb: %w", err)
	}
	return &Store{db: db}, nil
}

// OpenMemory opens a store backed by process memory.
func OpenMemory() (*Store, error) {
	db, err := leveldb.Open(storage.NewMemStorage(), nil)
	if err != nil {
		return nil, fmt.Errorf("open memory leveldb: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

type rateRLP struct {
	Numerator *big.Int
	Exponent  uint64
}

type recordRLP struct {
	ID          string
	Sequence    uint64
	Caller      common.Address
	TokenIn     common.Address
	TokenOut    common.Address
	AmountIn    *big.Int
	AmountOut   *big.Int
	Timestamp   uint64
	Source      string
	BlockNumber uint64
	TxHash      string
	LogIndex    uint64
}

func rateKey(tokenIn, tokenOut common.Address) []byte {
	key := make([]byte, 0, len(ratePrefix)+2*common.AddressLength)
	key = append(key, ratePrefix...)
	key = append(key, tokenIn.Bytes()...)
	return append(key, tokenOut.Bytes()...)
}

func balanceKey(k ledger.BalanceKey) []byte {
	key := make([]byte, 0, len(balancePrefix)+2*common.AddressLength)
	key = append(key, balancePrefix...)
	key = append(key, k.Account.Bytes()...)
	return append(key, k.Token.Bytes()...)
}

func allowanceKey(k ledger.AllowanceKey) []byte {
	key := make([]byte, 0, len(allowancePrefix)+3*common.AddressLength)
	key = append(key, allowancePrefix...)
	key = append(key, k.Owner.Bytes()...)
	key = append(key, k.Spender.Bytes()...)
	return append(key, k.Token.Bytes()...)
}

func recordKey(seq uint64) []byte {
	key := make([]byte, len(recordPrefix)+8)
	copy(key, recordPrefix)
	binary.BigEndian.PutUint64(key[len(recordPrefix):], seq)
	return key
}

func (s *Store) GetRate(_ context.Context, tokenIn, tokenOut common.Address) (model.Rate, bool, error) {
	raw, err := s.db.Get(rateKey(tokenIn, tokenOut), nil)
	if errors.Is(err, leveldb.ErrNotFound) {
		return model.Rate{}, false, nil
	}
	if err != nil {
		return model.Rate{}, false, fmt.Errorf("load rate: %w", err)
	}
	rate, err := decodeRate(raw)
	if err != nil {
		return model.Rate{}, false, err
	}
	return rate, true, nil
}

func (s *Store) SetRate(_ context.Context, tokenIn, tokenOut common.Address, rate model.Rate) error {
	num := new(big.Int)
	if rate.Numerator != nil {
		num = rate.Numerator.ToBig()
	}
	raw, err := rlp.EncodeToBytes(rateRLP{Numerator: num, Exponent: rate.Exponent})
	if err != nil {
		return fmt.Errorf("encode rate: %w", err)
	}
	if err := s.db.Put(rateKey(tokenIn, tokenOut), raw, nil); err != nil {
		return fmt.Errorf("store rate: %w", err)
	}
	return nil
}

func (s *Store) ListRates(_ context.Context) ([]model.RateEntry, error) {
	iter := s.db.NewIterator(util.BytesPrefix(ratePrefix), nil)
	defer iter.Release()

	var out []model.RateEntry
	for iter.Next() {
		key := iter.Key()[len(ratePrefix):]
		if len(key) != 2*common.AddressLength {
			continue
		}
		rate, err := decodeRate(iter.Value())
		if err != nil {
			return nil, err
		}
		out = append(out, model.RateEntry{
			Pair: model.Pair{
				TokenIn:  common.BytesToAddress(key[:common.AddressLength]),
				TokenOut: common.BytesToAddress(key[common.AddressLength:]),
			},
			Rate: rate,
		})
	}
	if err := iter.Error(); err != nil {
		return nil, fmt.Errorf("iterate rates: %w", err)
	}
	ratetable.SortEntries(out)
	return out, nil
}

func decodeRate(raw []byte) (model.Rate, error) {
	var enc rateRLP
	if err := rlp.DecodeBytes(raw, &enc); err != nil {
		return model.Rate{}, fmt.Errorf("decode rate: %w", err)
	}
	num, overflow := uint256.FromBig(enc.Numerator)
	if overflow {
		return model.Rate{}, fmt.Errorf("decode rate: numerator exceeds 256 bits")
	}
	return model.Rate{Numerator: num, Exponent: enc.Exponent}, nil
}

func (s *Store) BalanceOf(_ context.Context, account, token common.Address) (*uint256.Int, error) {
	return s.ReadBalance(ledger.BalanceKey{Account: account, Token: token})
}

func (s *Store) Allowance(_ context.Context, owner, spender, token common.Address) (*uint256.Int, error) {
	return s.ReadAllowance(ledger.AllowanceKey{Owner: owner, Spender: spender, Token: token})
}

// ReadBalance implements ledger.Reader.
func (s *Store) ReadBalance(key ledger.BalanceKey) (*uint256.Int, error) {
	return s.readAmount(balanceKey(key))
}

// ReadAllowance implements ledger.Reader.
func (s *Store) ReadAllowance(key ledger.AllowanceKey) (*uint256.Int, error) {
	return s.readAmount(allowanceKey(key))
}

func (s *Store) readAmount(key []byte) (*uint256.Int, error) {
	raw, err := s.db.Get(key, nil)
	if errors.Is(err, leveldb.ErrNotFound) {
		return new(uint256.Int), nil
	}
	if err != nil {
		return nil, fmt.Errorf("load amount: %w", err)
	}
	return new(uint256.Int).SetBytes(raw), nil
}

func putAmount(batch *leveldb.Batch, key []byte, v *uint256.Int) {
	if v.IsZero() {
		batch.Delete(key)
		return
	}
	b := v.Bytes32()
	batch.Put(key, b[:])
}

func (s *Store) Settle(_ context.Context, transfers []ledger.Transfer, record *model.SwapRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	changes, err := ledger.Plan(s, transfers)
	if err != nil {
		return err
	}

	batch := new(leveldb.Batch)
	for key, v := range changes.Balances {
		putAmount(batch, balanceKey(key), v)
	}
	for key, v := range changes.Allowances {
		putAmount(batch, allowanceKey(key), v)
	}

	var seq uint64
	if record != nil {
		last, err := s.lastSequence()
		if err != nil {
			return err
		}
		seq = last + 1
		stored := *record
		stored.Sequence = seq
		raw, err := encodeRecord(stored)
		if err != nil {
			return err
		}
		batch.Put(recordKey(seq), raw)
		var seqBuf [8]byte
		binary.BigEndian.PutUint64(seqBuf[:], seq)
		batch.Put(sequenceKey, seqBuf[:])
	}

	if err := s.db.Write(batch, nil); err != nil {
		return fmt.Errorf("commit settlement: %w", err)
	}
	if record != nil {
		record.Sequence = seq
	}
	return nil
}

func (s *Store) lastSequence() (uint64, error) {
	raw, err := s.db.Get(sequenceKey, nil)
	if errors.Is(err, leveldb.ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("load sequence: %w", err)
	}
	if len(raw) != 8 {
		return 0, fmt.Errorf("load sequence: corrupt value")
	}
	return binary.BigEndian.Uint64(raw), nil
}

func (s *Store) Credit(_ context.Context, account, token common.Address, amount *uint256.Int) error {
	if amount == nil {
		return fmt.Errorf("%w: amount required", ledger.ErrInvalidTransfer)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	key := ledger.BalanceKey{Account: account, Token: token}
	current, err := s.ReadBalance(key)
	if err != nil {
		return err
	}
	sum, overflow := new(uint256.Int).AddOverflow(current, amount)
	if overflow {
		return fmt.Errorf("%w: balance overflow", ledger.ErrInvalidTransfer)
	}
	b := sum.Bytes32()
	if err := s.db.Put(balanceKey(key), b[:], nil); err != nil {
		return fmt.Errorf("store balance: %w", err)
	}
	return nil
}

func (s *Store) Approve(_ context.Context, owner, spender, token common.Address, amount *uint256.Int) error {
	if amount == nil {
		return fmt.Errorf("%w: amount required", ledger.ErrInvalidTransfer)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	batch := new(leveldb.Batch)
	putAmount(batch, allowanceKey(ledger.AllowanceKey{Owner: owner, Spender: spender, Token: token}), amount)
	if err := s.db.Write(batch, nil); err != nil {
		return fmt.Errorf("store allowance: %w", err)
	}
	return nil
}

func (s *Store) SwapRecords(_ context.Context, afterSequence uint64, limit int) ([]model.SwapRecord, error) {
	iter := s.db.NewIterator(&util.Range{Start: recordKey(afterSequence + 1), Limit: util.BytesPrefix(recordPrefix).Limit}, nil)
	defer iter.Release()

	out := make([]model.SwapRecord, 0)
	for iter.Next() {
		record, err := decodeRecord(iter.Value())
		if err != nil {
			return nil, err
		}
		out = append(out, record)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	if err := iter.Error(); err != nil {
		return nil, fmt.Errorf("iterate swap records: %w", err)
	}
	return out, nil
}

func encodeRecord(r model.SwapRecord) ([]byte, error) {
	enc := recordRLP{
		ID:          r.ID,
		Sequence:    r.Sequence,
		Caller:      r.Caller,
		TokenIn:     r.TokenIn,
		TokenOut:    r.TokenOut,
		AmountIn:    new(big.Int),
		AmountOut:   new(big.Int),
		Timestamp:   r.Timestamp,
		Source:      r.Source,
		BlockNumber: r.BlockNumber,
		TxHash:      r.TxHash,
		LogIndex:    r.LogIndex,
	}
	if r.AmountIn != nil {
		enc.AmountIn = r.AmountIn.ToBig()
	}
	if r.AmountOut != nil {
		enc.AmountOut = r.AmountOut.ToBig()
	}
	raw, err := rlp.EncodeToBytes(enc)
	if err != nil {
		return nil, fmt.Errorf("encode swap record: %w", err)
	}
	return raw, nil
}

func decodeRecord(raw []byte) (model.SwapRecord, error) {
	var enc recordRLP
	if err := rlp.DecodeBytes(raw, &enc); err != nil {
		return model.SwapRecord{}, fmt.Errorf("decode swap record: %w", err)
	}
	amountIn, overflowIn := uint256.FromBig(enc.AmountIn)
	amountOut, overflowOut := uint256.FromBig(enc.AmountOut)
	if overflowIn || overflowOut {
		return model.SwapRecord{}, fmt.Errorf("decode swap record: amount exceeds 256 bits")
	}
	return model.SwapRecord{
		ID:          enc.ID,
		Sequence:    enc.Sequence,
		Caller:      enc.Caller,
		TokenIn:     enc.TokenIn,
		TokenOut:    enc.TokenOut,
		AmountIn:    amountIn,
		AmountOut:   amountOut,
		Timestamp:   enc.Timestamp,
		Source:      enc.Source,
		BlockNumber: enc.BlockNumber,
		TxHash:      enc.TxHash,
		LogIndex:    enc.LogIndex,
	}, nil
}
