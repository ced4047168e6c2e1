package chainclient

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/rs/zerolog"
)

type fakeReceiptSource struct {
	mu      sync.Mutex
	calls   int
	respond func(call int) (*types.Receipt, error)
	head    uint64
}

func (f *fakeReceiptSource) TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error) {
	f.mu.Lock()
	f.calls++
	call := f.calls
	f.mu.Unlock()
	return f.respond(call)
}

func (f *fakeReceiptSource) BlockNumber(ctx context.Context) (uint64, error) {
	return f.head, nil
}

func (f *fakeReceiptSource) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func minedReceipt() *types.Receipt {
	return &types.Receipt{
		TxHash:      common.HexToHash("0x01"),
		BlockNumber: big.NewInt(100),
		Status:      types.ReceiptStatusSuccessful,
	}
}

func fastWaitOptions() ReceiptWaitOptions {
	return ReceiptWaitOptions{
		Confirmations:   1,
		Timeout:         200 * time.Millisecond,
		PollInterval:    time.Millisecond,
		NotFoundRetries: 3,
		NotFoundDelay:   time.Millisecond,
	}
}

func TestWaitReturnsReceipt(t *testing.T) {
	source := &fakeReceiptSource{respond: func(call int) (*types.Receipt, error) {
		if call < 3 {
			return nil, ethereum.NotFound
		}
		return minedReceipt(), nil
	}}
	waiter := NewReceiptWaiter(source, fastWaitOptions(), zerolog.Nop())

	receipt, err := waiter.Wait(context.Background(), common.HexToHash("0x01"))
	if err != nil {
		t.Fatalf("不应报错: %v", err)
	}
	if receipt.BlockNumber.Int64() != 100 {
		t.Fatalf("收据不正确: %+v", receipt)
	}
}

func TestWaitRetriesOnlyBlockNotFound(t *testing.T) {
	source := &fakeReceiptSource{respond: func(call int) (*types.Receipt, error) {
		if call <= 2 {
			return nil, errors.New("header not found")
		}
		return minedReceipt(), nil
	}}
	waiter := NewReceiptWaiter(source, fastWaitOptions(), zerolog.Nop())

	if _, err := waiter.Wait(context.Background(), common.HexToHash("0x01")); err != nil {
		t.Fatalf("节点滞后错误应重试后成功: %v", err)
	}
	if source.callCount() != 3 {
		t.Fatalf("期望 3 次查询, 实际 %d", source.callCount())
	}
}

func TestWaitOtherErrorsAreImmediate(t *testing.T) {
	source := &fakeReceiptSource{respond: func(call int) (*types.Receipt, error) {
		return nil, errors.New("connection refused")
	}}
	waiter := NewReceiptWaiter(source, fastWaitOptions(), zerolog.Nop())

	if _, err := waiter.Wait(context.Background(), common.HexToHash("0x01")); err == nil {
		t.Fatal("非滞后错误应立即失败")
	}
	if source.callCount() != 1 {
		t.Fatalf("非滞后错误不应重试, 查询 %d 次", source.callCount())
	}
}

func TestWaitRetryBudgetExhausted(t *testing.T) {
	source := &fakeReceiptSource{respond: func(call int) (*types.Receipt, error) {
		return nil, errors.New("block not found")
	}}
	waiter := NewReceiptWaiter(source, fastWaitOptions(), zerolog.Nop())

	if _, err := waiter.Wait(context.Background(), common.HexToHash("0x01")); err == nil {
		t.Fatal("重试预算耗尽应失败")
	}
	// 初次 + 3 次重试
	if source.callCount() != 4 {
		t.Fatalf("期望 4 次查询, 实际 %d", source.callCount())
	}
}

func TestWaitConfirmations(t *testing.T) {
	source := &fakeReceiptSource{head: 101, respond: func(call int) (*types.Receipt, error) {
		return minedReceipt(), nil
	}}
	opts := fastWaitOptions()
	opts.Confirmations = 2
	waiter := NewReceiptWaiter(source, opts, zerolog.Nop())

	if _, err := waiter.Wait(context.Background(), common.HexToHash("0x01")); err != nil {
		t.Fatalf("确认数已达标不应报错: %v", err)
	}
}
