package harvest

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

	"vault-harvester/internal/chainclient"
	"vault-harvester/internal/config"
	"vault-harvester/internal/gas"
	"vault-harvester/internal/vaults"
	"vault-harvester/internal/wei"
)

// fakeChain scripts the chain surface the submitter drives.
type fakeChain struct {
	mu sync.Mutex

	balance *big.Int
	nonce   uint64
	fees    chainclient.Fees

	nonceCalls   int
	simCallErrs  []error
	simCalls     int
	sentNonces   []uint64
	sentPrices   []*big.Int
	sentTxs      []*types.Transaction
	receipts     map[common.Hash]*types.Receipt
	receiptGate  int // receipts hidden until this many sends happened
	receiptPolls int
}

func newFakeChain() *fakeChain {
	return &fakeChain{
		balance:  big.NewInt(100_000_000),
		nonce:    7,
		fees:     chainclient.Fees{GasPrice: big.NewInt(100)},
		receipts: make(map[common.Hash]*types.Receipt),
	}
}

func (f *fakeChain) GasPrice(ctx context.Context) (*big.Int, error) { return f.fees.GasPrice, nil }

func (f *fakeChain) BalanceAt(ctx context.Context, account common.Address) (*big.Int, error) {
	return f.balance, nil
}

func (f *fakeChain) PendingNonce(ctx context.Context) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nonceCalls++
	return f.nonce, nil
}

func (f *fakeChain) SimulateHarvest(ctx context.Context, strategy common.Address) (chainclient.SimulationResult, error) {
	return chainclient.SimulationResult{}, errors.New("not scripted")
}

func (f *fakeChain) FetchFees(ctx context.Context) (chainclient.Fees, error) { return f.fees, nil }

func (f *fakeChain) SimulateHarvestCall(ctx context.Context, strategy common.Address, noParams bool) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	call := f.simCalls
	f.simCalls++
	if call < len(f.simCallErrs) {
		return nil, f.simCallErrs[call]
	}
	return nil, nil
}

func (f *fakeChain) SendHarvest(ctx context.Context, req chainclient.HarvestTxRequest) (*types.Transaction, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	to := common.HexToAddress("0xbb")
	tx := types.NewTx(&types.LegacyTx{
		Nonce:    req.Nonce,
		GasPrice: new(big.Int).Set(req.Fees.EffectivePrice()),
		Gas:      req.GasLimit,
		To:       &to,
		Data:     []byte{byte(len(f.sentTxs))},
	})
	f.sentNonces = append(f.sentNonces, req.Nonce)
	f.sentPrices = append(f.sentPrices, new(big.Int).Set(req.Fees.EffectivePrice()))
	f.sentTxs = append(f.sentTxs, tx)
	return tx, nil
}

func (f *fakeChain) EstimateHarvestGas(ctx context.Context, strategy common.Address, noParams bool) (uint64, error) {
	return 200_000, nil
}

func (f *fakeChain) TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.receiptPolls++
	if len(f.sentTxs) < f.receiptGate {
		return nil, ethereum.NotFound
	}
	if receipt, ok := f.receipts[txHash]; ok {
		return receipt, nil
	}
	return nil, ethereum.NotFound
}

func (f *fakeChain) BlockNumber(ctx context.Context) (uint64, error) { return 1000, nil }

func (f *fakeChain) WalletAddress() common.Address { return common.HexToAddress("0xcc") }

func (f *fakeChain) SupportsNoParamsHarvest() bool { return true }

// confirmNthSend makes the n-th sent candidate's receipt available once at
// least gate sends happened.
func (f *fakeChain) confirmNthSend(n, gate int, receipt func(hash common.Hash) *types.Receipt) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.receiptGate = gate
	hash := f.sentTxs[n].Hash()
	f.receipts[hash] = receipt(hash)
}

func successReceipt(hash common.Hash) *types.Receipt {
	return &types.Receipt{
		TxHash:            hash,
		BlockNumber:       big.NewInt(1000),
		GasUsed:           100_000,
		EffectiveGasPrice: big.NewInt(150),
		Status:            types.ReceiptStatusSuccessful,
	}
}

func submitVault() vaults.Vault {
	return vaults.Vault{ID: "platform-a-b", StrategyAddress: "0x00000000000000000000000000000000000000aa"}
}

func submitSim(rewardWei int64) Simulation {
	return Simulation{
		EstimatedReward: wei.FromInt64(rewardWei),
		Success:         true,
		Gas: gas.New(gas.Inputs{
			RawGasPrice:     big.NewInt(100),
			RawGasAmount:    big.NewInt(100_000),
			RewardWei:       big.NewInt(rewardWei),
			PriceMultiplier: 1.5,
		}),
	}
}

func submitDecision(rewardWei int64) HarvestDecision {
	return HarvestDecision{ShouldHarvest: true, EstimatedReward: wei.FromInt64(rewardWei)}
}

func newTestSubmitter(chain *fakeChain, cfg config.ChainConfig) *Submitter {
	waiter := chainclient.NewReceiptWaiter(chain, chainclient.ReceiptWaitOptions{
		Confirmations: 1,
		Timeout:       80 * time.Millisecond,
		PollInterval:  2 * time.Millisecond,
		NotFoundDelay: time.Millisecond,
	}, zerolog.Nop())
	return NewSubmitter(chain, waiter, cfg, zerolog.Nop())
}

func TestSubmitFirstAttemptConfirms(t *testing.T) {
	chain := newFakeChain()
	submitter := newTestSubmitter(chain, config.ChainConfig{})

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			chain.mu.Lock()
			n := len(chain.sentTxs)
			chain.mu.Unlock()
			if n > 0 {
				chain.confirmNthSend(0, 0, successReceipt)
				return
			}
			time.Sleep(time.Millisecond)
		}
	}()

	out, err := submitter.Submit(context.Background(), submitVault(), submitSim(20_000_000), submitDecision(20_000_000))
	<-done
	if err != nil {
		t.Fatalf("首次尝试应确认: %v", err)
	}
	if out.Attempts != 1 || len(out.Candidates) != 1 {
		t.Fatalf("尝试次数不正确: %+v", out)
	}
	// 利润 = 20000000 - 100000*150
	if out.Profit.String() != "5000000" {
		t.Fatalf("期望利润 5000000, 实际 %s", out.Profit)
	}
	if chain.nonceCalls != 1 {
		t.Fatalf("nonce 应只取一次, 实际 %d 次", chain.nonceCalls)
	}
}

func TestSubmitEscalationReusesNonce(t *testing.T) {
	chain := newFakeChain()
	submitter := newTestSubmitter(chain, config.ChainConfig{
		Submission: config.SubmissionConfig{MaxTries: 3, GasPriceMultiplier: 1.2},
	})

	// 第二笔发出后, 第一笔候选的收据才可见: 竞速必须覆盖所有在途候选
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			chain.mu.Lock()
			n := len(chain.sentTxs)
			chain.mu.Unlock()
			if n >= 2 {
				chain.confirmNthSend(0, 2, successReceipt)
				return
			}
			time.Sleep(time.Millisecond)
		}
	}()

	out, err := submitter.Submit(context.Background(), submitVault(), submitSim(20_000_000), submitDecision(20_000_000))
	<-done
	if err != nil {
		t.Fatalf("升级后应确认: %v", err)
	}
	if out.Attempts != 2 || len(out.Candidates) != 2 {
		t.Fatalf("期望第 2 次尝试确认且记录 2 个候选: %+v", out)
	}

	if chain.sentNonces[0] != 7 || chain.sentNonces[1] != 7 {
		t.Fatalf("所有候选应复用同一 nonce: %v", chain.sentNonces)
	}
	if chain.sentPrices[0].Cmp(big.NewInt(100)) != 0 {
		t.Fatalf("首次价格应为 100, 实际 %s", chain.sentPrices[0])
	}
	if chain.sentPrices[1].Cmp(big.NewInt(120)) != 0 {
		t.Fatalf("第二次价格应升级为 120, 实际 %s", chain.sentPrices[1])
	}
}

func TestSubmitBalanceGate(t *testing.T) {
	chain := newFakeChain()
	// 成本 15000000 * 1.2 > 余额
	chain.balance = big.NewInt(1_000_000)
	submitter := newTestSubmitter(chain, config.ChainConfig{})

	_, err := submitter.Submit(context.Background(), submitVault(), submitSim(20_000_000), submitDecision(20_000_000))
	if !errors.Is(err, ErrInsufficientGas) {
		t.Fatalf("余额不足应返回 ErrInsufficientGas, 实际 %v", err)
	}
	if chain.nonceCalls != 0 {
		t.Fatal("余额门失败后不应再取 nonce")
	}
}

func TestSubmitDryRunRevertNeverSends(t *testing.T) {
	chain := newFakeChain()
	revert := errors.New("execution reverted: NotCalm()")
	chain.simCallErrs = []error{revert, revert}
	submitter := newTestSubmitter(chain, config.ChainConfig{
		Submission: config.SubmissionConfig{MaxTries: 2},
	})

	_, err := submitter.Submit(context.Background(), submitVault(), submitSim(20_000_000), submitDecision(20_000_000))
	if err == nil {
		t.Fatal("全部尝试被拒应报错")
	}
	if len(chain.sentTxs) != 0 {
		t.Fatalf("模拟失败时不应广播任何交易, 实际 %d 笔", len(chain.sentTxs))
	}
	if chain.simCalls != 2 {
		t.Fatalf("期望 2 次模拟, 实际 %d", chain.simCalls)
	}
}

func TestSubmitRevertedOnChainStopsEscalation(t *testing.T) {
	chain := newFakeChain()
	submitter := newTestSubmitter(chain, config.ChainConfig{
		Submission: config.SubmissionConfig{MaxTries: 3},
	})

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			chain.mu.Lock()
			n := len(chain.sentTxs)
			chain.mu.Unlock()
			if n > 0 {
				chain.confirmNthSend(0, 0, func(hash common.Hash) *types.Receipt {
					receipt := successReceipt(hash)
					receipt.Status = types.ReceiptStatusFailed
					return receipt
				})
				return
			}
			time.Sleep(time.Millisecond)
		}
	}()

	out, err := submitter.Submit(context.Background(), submitVault(), submitSim(20_000_000), submitDecision(20_000_000))
	<-done
	if err == nil {
		t.Fatal("链上回滚应报错")
	}
	if out.Hash == "" {
		t.Fatal("回滚交易的哈希仍应记录")
	}
	// nonce 已消耗, 不应继续升级
	if len(chain.sentTxs) != 1 {
		t.Fatalf("回滚后不应再发送, 实际 %d 笔", len(chain.sentTxs))
	}
}

func TestSubmitBlindSingleShot(t *testing.T) {
	chain := newFakeChain()
	chain.balance = big.NewInt(0) // 盲收路径没有余额门
	submitter := newTestSubmitter(chain, config.ChainConfig{})

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			chain.mu.Lock()
			n := len(chain.sentTxs)
			chain.mu.Unlock()
			if n > 0 {
				chain.confirmNthSend(0, 0, successReceipt)
				return
			}
			time.Sleep(time.Millisecond)
		}
	}()

	decision := submitDecision(0)
	decision.Blind = true
	out, err := submitter.Submit(context.Background(), submitVault(), Simulation{Blind: true}, decision)
	<-done
	if err != nil {
		t.Fatalf("盲收应成功: %v", err)
	}
	if out.Attempts != 1 {
		t.Fatalf("盲收应单次尝试: %+v", out)
	}
	if len(chain.sentTxs) != 1 {
		t.Fatalf("盲收应只发送一笔, 实际 %d", len(chain.sentTxs))
	}
}
