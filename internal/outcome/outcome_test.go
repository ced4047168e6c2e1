package outcome

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/rs/zerolog"
)

func TestRunRecordsSuccess(t *testing.T) {
	var slot Outcome[int]
	value, err := Run(context.Background(), &slot, func(ctx context.Context) (int, error) {
		return 42, nil
	})
	if err != nil {
		t.Fatalf("成功操作不应报错: %v", err)
	}
	if value != 42 {
		t.Fatalf("期望 42, 实际 %d", value)
	}
	if !slot.Ok() || !slot.Settled() {
		t.Fatalf("slot 应记录为成功: %+v", slot)
	}
	if slot.Value != 42 {
		t.Fatalf("slot 值不正确: %d", slot.Value)
	}
}

func TestRunRecordsFailureBeforeReturning(t *testing.T) {
	var slot Outcome[int]
	_, err := Run(context.Background(), &slot, func(ctx context.Context) (int, error) {
		return 0, errors.New("execution reverted: boom")
	})
	if err == nil {
		t.Fatal("失败操作应返回错误")
	}
	if !slot.Failed() {
		t.Fatalf("slot 应记录为失败: %+v", slot)
	}
	if slot.Reason == nil || slot.Reason.Kind != KindRevert {
		t.Fatalf("失败原因分类不正确: %+v", slot.Reason)
	}
	if slot.Timing.EndedAt.Before(slot.Timing.StartedAt) {
		t.Fatalf("计时不正确: %+v", slot.Timing)
	}
}

func TestRunForEachKeepsInputOrder(t *testing.T) {
	for _, mode := range []Mode{Sequential(), Parallel(), ParallelBatched(2)} {
		items := []int{1, 2, 3, 4, 5, 6}
		slots := make([]Outcome[string], len(items))

		kept := RunForEach(context.Background(), zerolog.Nop(), mode, items,
			func(item int) *Outcome[string] { return &slots[item-1] },
			func(_ context.Context, item int) (string, error) {
				if item%2 == 1 {
					return "", fmt.Errorf("item %d failed", item)
				}
				return fmt.Sprintf("v%d", item), nil
			},
		)

		if len(kept) != 3 {
			t.Fatalf("应保留 3 个成功项, 实际 %d", len(kept))
		}
		for i, want := range []int{2, 4, 6} {
			if kept[i] != want {
				t.Fatalf("保留项应按输入顺序, 实际 %v", kept)
			}
		}
		for i, slot := range slots {
			if !slot.Settled() {
				t.Fatalf("所有 slot 都应已结算, 索引 %d 未结算", i)
			}
		}
		if !slots[0].Failed() || slots[0].Reason == nil {
			t.Fatalf("失败项应记录原因: %+v", slots[0])
		}
	}
}

func TestNormalizeClassification(t *testing.T) {
	cases := []struct {
		err  error
		kind Kind
	}{
		{errors.New("execution reverted: NotCalm()"), KindRevert},
		{errors.New("request timed out"), KindTimeout},
		{context.DeadlineExceeded, KindTimeout},
		{errors.New("header not found"), KindBlockNotFound},
		{errors.New("cannot query unfinalized data"), KindBlockNotFound},
		{errors.New("insufficient funds for gas * price + value"), KindInsufficientFunds},
		{errors.New("something else entirely"), KindGeneric},
	}
	for _, c := range cases {
		report := Normalize(c.err)
		if report.Kind != c.kind {
			t.Fatalf("错误 %q 应归类为 %s, 实际 %s", c.err, c.kind, report.Kind)
		}
	}
}

func TestNormalizePassthrough(t *testing.T) {
	original := ConfigError("bad bucket table")
	wrapped := fmt.Errorf("stage failed: %w", original)
	if got := Normalize(wrapped); got != original {
		t.Fatalf("已归一化的报告应原样穿透, 实际 %+v", got)
	}
	if Normalize(nil) != nil {
		t.Fatal("nil 错误应归一化为 nil")
	}
}

func TestIsBlockNotFound(t *testing.T) {
	if !IsBlockNotFound(errors.New("block could not be found")) {
		t.Fatal("应识别 block could not be found")
	}
	if IsBlockNotFound(errors.New("connection refused")) {
		t.Fatal("普通错误不应识别为 block-not-found")
	}
	report := &ErrorReport{Kind: KindBlockNotFound, Message: "x"}
	if !IsBlockNotFound(fmt.Errorf("wrapped: %w", report)) {
		t.Fatal("包装后的报告应按 Kind 识别")
	}
}
