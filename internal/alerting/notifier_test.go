package alerting

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"vault-harvester/internal/harvest"
	"vault-harvester/internal/outcome"
	"vault-harvester/internal/severity"
	"vault-harvester/internal/vaults"
	"vault-harvester/internal/wei"
)

func testLogger() zerolog.Logger {
	return zerolog.Nop()
}

func TestDiscordNotifierSuccess(t *testing.T) {
	received := make(map[string]string)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Fatalf("应为 POST, 实际 %s", r.Method)
		}
		if err := json.NewDecoder(r.Body).Decode(&received); err != nil {
			t.Fatalf("解析请求体失败: %v", err)
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	notifier := NewDiscordNotifier(srv.URL, time.Second, testLogger())
	note := Notification{
		Chain:     "testchain",
		Level:     severity.Warning,
		Harvested: 2,
		Skipped:   1,
		Errors:    1,
		ProfitWei: "5000000",
		VaultErrors: []VaultError{
			{VaultID: "platform-a-b", Level: severity.Error, Reason: "transaction failed", Message: "reverted"},
		},
	}

	if err := notifier.Notify(context.Background(), note); err != nil {
		t.Fatalf("Discord Notify 应成功: %v", err)
	}

	content := received["content"]
	if content == "" {
		t.Fatal("content 应非空")
	}
	for _, want := range []string{"testchain", "WARNING", "platform-a-b", "5000000"} {
		if !strings.Contains(content, want) {
			t.Fatalf("消息应包含 %q: %s", want, content)
		}
	}
}

func TestDiscordNotifierHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	notifier := NewDiscordNotifier(srv.URL, time.Second, testLogger())
	if err := notifier.Notify(context.Background(), Notification{Chain: "testchain"}); err == nil {
		t.Fatal("HTTP 429 应报错")
	}
}

func TestFromReportExtractsWarnings(t *testing.T) {
	report := harvest.NewChainReport("testchain", []vaults.Vault{
		{ID: "healthy"},
		{ID: "broken"},
		{ID: "skipped-ok"},
	})
	report.Summary = harvest.ChainSummary{
		Level:            severity.Error,
		Harvested:        1,
		Skipped:          1,
		Errors:           1,
		AggregatedProfit: wei.FromInt64(123),
	}

	report.Items[0].Summary.Level = severity.Success
	report.Items[1].Summary.Level = severity.Error
	report.Items[1].Simulation = outcome.Failure[harvest.Simulation](
		&outcome.ErrorReport{Kind: outcome.KindRevert, Message: "execution reverted"}, outcome.Timing{})
	report.Items[2].Summary.Level = severity.Notice

	note := FromReport(report)
	if note.Chain != "testchain" || note.Level != severity.Error {
		t.Fatalf("汇总映射不正确: %+v", note)
	}
	if len(note.VaultErrors) != 1 {
		t.Fatalf("只有 Warning 及以上的条目应提取, 实际 %d", len(note.VaultErrors))
	}
	ve := note.VaultErrors[0]
	if ve.VaultID != "broken" || ve.Reason != "simulation failed" || ve.Message != "execution reverted" {
		t.Fatalf("提取内容不正确: %+v", ve)
	}
}
