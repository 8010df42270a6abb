package dex

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/holiman/uint256"

	"rateSwap/internal/model"
)

// PoolDecoder decodes fixed-rate swap pool events.
type PoolDecoder struct {
	poolABI     abi.ABI
	topicToName map[string]string
}

func NewPoolDecoder() (*PoolDecoder, error) {
	parsed, err := PoolABI()
	if err != nil {
		return nil, fmt.Errorf("parse pool abi: %w", err)
	}
	return &PoolDecoder{
		poolABI: parsed,
		topicToName: map[string]string{
			strings.ToLower(parsed.Events[EventSwap].ID.Hex()):         EventSwap,
			strings.ToLower(parsed.Events[EventTokenRateSet].ID.Hex()): EventTokenRateSet,
		},
	}, nil
}

// Topics returns the topic0 hashes the decoder understands.
func (d *PoolDecoder) Topics() []common.Hash {
	return []common.Hash{
		d.poolABI.Events[EventSwap].ID,
		d.poolABI.Events[EventTokenRateSet].ID,
	}
}

func (d *PoolDecoder) CanDecode(topic0 string) bool {
	if topic0 == "" {
		return false
	}
	_, ok := d.topicToName[strings.ToLower(topic0)]
	return ok
}

func (d *PoolDecoder) Decode(log model.LogRecord) (Event, error) {
	if len(log.Topics) == 0 {
		return Event{}, fmt.Errorf("missing topics")
	}
	name, ok := d.topicToName[strings.ToLower(log.Topics[0])]
	if !ok {
		return Event{}, fmt.Errorf("unsupported topic0: %s", log.Topics[0])
	}
	if !common.IsHexAddress(log.Address) {
		return Event{}, fmt.Errorf("invalid pool address: %s", log.Address)
	}

	switch name {
	case EventSwap:
		record, err := d.decodeSwap(log)
		if err != nil {
			return Event{}, err
		}
		return Event{Name: name, Swap: &record}, nil
	case EventTokenRateSet:
		entry, err := d.decodeRateSet(log)
		if err != nil {
			return Event{}, err
		}
		return Event{Name: name, Rate: &entry}, nil
	default:
		return Event{}, fmt.Errorf("unsupported event name: %s", name)
	}
}

func (d *PoolDecoder) decodeSwap(log model.LogRecord) (model.SwapRecord, error) {
	event := d.poolABI.Events[EventSwap]
	indexedTopics, err := parseIndexedTopics(event, log.Topics)
	if err != nil {
		return model.SwapRecord{}, err
	}
	var indexed struct {
		Caller   common.Address
		TokenIn  common.Address
		TokenOut common.Address
	}
	if err := abi.ParseTopics(&indexed, indexedArguments(event.Inputs), indexedTopics); err != nil {
		return model.SwapRecord{}, fmt.Errorf("parse swap topics: %w", err)
	}

	values, err := unpackNonIndexed(event, log.Data)
	if err != nil {
		return model.SwapRecord{}, err
	}
	amountIn, err := asUint256(values[0])
	if err != nil {
		return model.SwapRecord{}, fmt.Errorf("amountIn: %w", err)
	}
	amountOut, err := asUint256(values[1])
	if err != nil {
		return model.SwapRecord{}, fmt.Errorf("amountOut: %w", err)
	}

	return model.SwapRecord{
		ID:          fmt.Sprintf("%s-%d", strings.ToLower(log.TxHash), log.LogIndex),
		Caller:      indexed.Caller,
		TokenIn:     indexed.TokenIn,
		TokenOut:    indexed.TokenOut,
		AmountIn:    amountIn,
		AmountOut:   amountOut,
		Timestamp:   log.Timestamp,
		Source:      model.SourceChain,
		BlockNumber: log.BlockNumber,
		TxHash:      log.TxHash,
		LogIndex:    log.LogIndex,
	}, nil
}

func (d *PoolDecoder) decodeRateSet(log model.LogRecord) (model.RateEntry, error) {
	event := d.poolABI.Events[EventTokenRateSet]
	indexedTopics, err := parseIndexedTopics(event, log.Topics)
	if err != nil {
		return model.RateEntry{}, err
	}
	var indexed struct {
		TokenIn  common.Address
		TokenOut common.Address
	}
	if err := abi.ParseTopics(&indexed, indexedArguments(event.Inputs), indexedTopics); err != nil {
		return model.RateEntry{}, fmt.Errorf("parse rate topics: %w", err)
	}

	values, err := unpackNonIndexed(event, log.Data)
	if err != nil {
		return model.RateEntry{}, err
	}
	numerator, err := asUint256(values[0])
	if err != nil {
		return model.RateEntry{}, fmt.Errorf("numerator: %w", err)
	}
	exponent, err := asUint256(values[1])
	if err != nil {
		return model.RateEntry{}, fmt.Errorf("exponent: %w", err)
	}
	if !exponent.IsUint64() {
		return model.RateEntry{}, fmt.Errorf("exponent overflow: %s", exponent.Dec())
	}

	return model.RateEntry{
		Pair: model.Pair{TokenIn: indexed.TokenIn, TokenOut: indexed.TokenOut},
		Rate: model.Rate{Numerator: numerator, Exponent: exponent.Uint64()},
	}, nil
}

func asUint256(value interface{}) (*uint256.Int, error) {
	v, ok := value.(*big.Int)
	if !ok {
		return nil, fmt.Errorf("unsupported int type %T", value)
	}
	out, overflow := uint256.FromBig(v)
	if overflow {
		return nil, fmt.Errorf("uint256 overflow: %s", v)
	}
	return out, nil
}

func parseIndexedTopics(event abi.Event, topics []string) ([]common.Hash, error) {
	indexedCount := len(indexedArguments(event.Inputs))
	if len(topics) != indexedCount+1 {
		return nil, fmt.Errorf("expected %d topics, got %d", indexedCount+1, len(topics))
	}
	return parseTopicHashes(topics[1:])
}

func parseTopicHashes(topics []string) ([]common.Hash, error) {
	out := make([]common.Hash, 0, len(topics))
	for _, topic := range topics {
		data, err := hexutil.Decode(topic)
		if err != nil {
			return nil, fmt.Errorf("invalid topic: %w", err)
		}
		if len(data) > 32 {
			return nil, fmt.Errorf("topic length %d", len(data))
		}
		out = append(out, common.BytesToHash(data))
	}
	return out, nil
}

func indexedArguments(args abi.Arguments) abi.Arguments {
	indexed := make(abi.Arguments, 0, len(args))
	for _, arg := range args {
		if arg.Indexed {
			indexed = append(indexed, arg)
		}
	}
	return indexed
}

func unpackNonIndexed(event abi.Event, dataHex string) ([]interface{}, error) {
	data, err := hexutil.Decode(dataHex)
	if err != nil {
		return nil, fmt.Errorf("invalid data: %w", err)
	}
	values, err := event.Inputs.NonIndexed().Unpack(data)
	if err != nil {
		return nil, fmt.Errorf("unpack %s: %w", event.Name, err)
	}
	return values, nil
}
