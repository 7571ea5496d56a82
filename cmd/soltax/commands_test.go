package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/brojonat/soltax/service/payment"
	"github.com/fatih/color"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/urfave/cli/v2"
)

const testWallet = "7xKXtg2CW87d97TXJSDpbD5jBkheTqA83TZRuJosgAsU"

// runApp runs the CLI with args and returns what it wrote to stdout.
func runApp(t *testing.T, args ...string) (string, error) {
	t.Helper()
	color.NoColor = true

	var out bytes.Buffer
	app := newApp()
	app.Writer = &out
	app.ErrWriter = io.Discard
	app.ExitErrHandler = func(*cli.Context, error) {}

	err := app.Run(append([]string{"soltax"}, args...))
	return out.String(), err
}

func TestIsTruthy(t *testing.T) {
	tests := []struct {
		name string
		v    any
		want bool
	}{
		{"nil", nil, false},
		{"false", false, false},
		{"true", true, true},
		{"zero", 0, true},
		{"empty string", "", true},
		{"object", map[string]any{}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, isTruthy(tt.v))
		})
	}
}

func TestMatchesJQ(t *testing.T) {
	view := &payment.PublicView{ID: "req-1", Status: payment.StatusPaid, AmountLamports: 100_000_000}

	tests := []struct {
		filter string
		want   bool
	}{
		{`.status == "paid"`, true},
		{`.status == "pending"`, false},
		{`.amountLamports >= 100000000`, true},
		{`.missing`, false},
		{`.id | test("^req-")`, true},
		{`error("boom")`, false},
	}
	for _, tt := range tests {
		t.Run(tt.filter, func(t *testing.T) {
			code, err := compileJQ(tt.filter)
			require.NoError(t, err)
			assert.Equal(t, tt.want, matchesJQ(code, view))
		})
	}
}

func TestCompileJQ_Invalid(t *testing.T) {
	_, err := compileJQ(".status ==")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to parse jq filter")
}

func TestColorStatus(t *testing.T) {
	saved := color.NoColor
	defer func() { color.NoColor = saved }()

	color.NoColor = true
	assert.Equal(t, "paid", colorStatus("paid"))

	color.NoColor = false
	got := colorStatus("paid")
	assert.Contains(t, got, "paid")
	assert.Contains(t, got, "\x1b[")
	assert.Equal(t, "unknown", colorStatus("unknown"))
}

func transactionsServer(t *testing.T) *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/transactions/"+testWallet, r.URL.Path)
		assert.Equal(t, "2024-03-01", r.URL.Query().Get("startDate"))
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"address":%q,
			"transactions":[
				{"id":"sig-a","status":"success","type":"buy","token":"SOL","amount":"2","price":"100","value":"200"},
				{"id":"sig-b","status":"success","type":"sell","token":"SOL","amount":"1","price":"100","value":"100"}],
			"summary":{"totalTransactions":2,"successfulTransactions":2,"totalValue":"300",
				"byType":{"buy":{"count":1,"value":"200"},"sell":{"count":1,"value":"100"}}}}`, testWallet)
	}))
}

func TestTransactionsCommand(t *testing.T) {
	server := transactionsServer(t)
	defer server.Close()

	out, err := runApp(t, "--server", server.URL, "transactions", "--start", "2024-03-01", "--end", "2024-03-31", testWallet)
	require.NoError(t, err)
	assert.Contains(t, out, "Wallet: "+testWallet)
	assert.Contains(t, out, "Transactions: 2 (2 successful, 0 failed)")
	assert.Contains(t, out, "Total value:  $300.00")
	assert.Contains(t, out, "buy")
}

func TestTransactionsCommand_Limit(t *testing.T) {
	server := transactionsServer(t)
	defer server.Close()

	out, err := runApp(t, "--server", server.URL, "--json", "transactions", "--start", "2024-03-01", "--end", "2024-03-31", "--limit", "1", testWallet)
	require.NoError(t, err)

	var res struct {
		Transactions []map[string]any `json:"transactions"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &res))
	require.Len(t, res.Transactions, 1)
	assert.Equal(t, "sig-a", res.Transactions[0]["id"])
}

func TestTransactionsCommand_JQ(t *testing.T) {
	server := transactionsServer(t)
	defer server.Close()

	out, err := runApp(t, "--server", server.URL, "--jq", ".transactions[].id", "transactions", "--start", "2024-03-01", "--end", "2024-03-31", testWallet)
	require.NoError(t, err)
	assert.Equal(t, "\"sig-a\"\n\"sig-b\"\n", out)
}

func TestTransactionsCommand_MissingWallet(t *testing.T) {
	_, err := runApp(t, "transactions", "--start", "2024-03-01", "--end", "2024-03-31")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "WALLET_ADDRESS")
}

func TestPaymentAwait_Polling(t *testing.T) {
	var polls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/payments/req-1/status", r.URL.Path)
		status := payment.StatusPending
		if polls.Add(1) >= 2 {
			status = payment.StatusPaid
		}
		json.NewEncoder(w).Encode(map[string]any{
			"paymentRequest": payment.PublicView{ID: "req-1", Status: status, TransactionSignature: "sig-pay"},
		})
	}))
	defer server.Close()

	out, err := runApp(t, "--server", server.URL, "payment", "await", "--interval", "10ms", "req-1")
	require.NoError(t, err)
	assert.Contains(t, out, "pending")
	assert.Contains(t, out, "Status:  paid")
	assert.Contains(t, out, "Signature: sig-pay")
}

func TestPaymentAwait_Until(t *testing.T) {
	var polls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		polls.Add(1)
		json.NewEncoder(w).Encode(map[string]any{
			"paymentRequest": payment.PublicView{ID: "req-1", Status: payment.StatusPending},
		})
	}))
	defer server.Close()

	out, err := runApp(t, "--server", server.URL, "--json", "payment", "await", "--interval", "1h", "--until", `.status == "pending"`, "req-1")
	require.NoError(t, err)
	assert.Equal(t, int32(1), polls.Load())

	var view payment.PublicView
	require.NoError(t, json.Unmarshal([]byte(out), &view))
	assert.Equal(t, payment.StatusPending, view.Status)
}

func TestPaymentAwait_SSE(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/payments/req-1/events", r.URL.Path)
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "event: connected\ndata: {\"id\":\"req-1\"}\n\n")
		fmt.Fprint(w, "event: pending\ndata: {\"request_id\":\"req-1\",\"status\":\"pending\"}\n\n")
		fmt.Fprint(w, "event: paid\ndata: {\"request_id\":\"req-1\",\"status\":\"paid\",\"transaction_signature\":\"sig-pay\"}\n\n")
	}))
	defer server.Close()

	out, err := runApp(t, "--server", server.URL, "payment", "await", "--sse", "req-1")
	require.NoError(t, err)
	assert.Contains(t, out, "Payment req-1: paid")
	assert.Contains(t, out, "Signature: sig-pay")
}

func TestPaymentAwait_ExclusiveModes(t *testing.T) {
	_, err := runApp(t, "payment", "await", "--sse", "--nats", "req-1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "mutually exclusive")
}

func TestExportCommand(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/exports/csv", r.URL.Path)
		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "req-1", body["paymentId"])

		w.Header().Set("Content-Type", "text/csv")
		w.Header().Set("Content-Disposition", `attachment; filename="history.csv"`)
		fmt.Fprint(w, "Date,Time\n")
	}))
	defer server.Close()

	dir := t.TempDir()
	out, err := runApp(t, "--server", server.URL, "export", "--start", "2024-03-01", "--end", "2024-03-31", "--payment-id", "req-1", "--output", dir, testWallet)
	require.NoError(t, err)

	path := filepath.Join(dir, "history.csv")
	assert.Contains(t, out, path)
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "Date,Time\n", string(data))
}

func TestExportCommand_PaymentRequired(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusPaymentRequired)
		fmt.Fprint(w, `{"error":"payment required","code":"payment_required"}`)
	}))
	defer server.Close()

	_, err := runApp(t, "--server", server.URL, "export", "--start", "2024-03-01", "--end", "2024-03-31", "--payment-id", "req-1", "--output", t.TempDir(), testWallet)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not paid for")
}

func TestOutputPath(t *testing.T) {
	dir := t.TempDir()
	assert.Equal(t, "a.csv", outputPath("", "a.csv"))
	assert.Equal(t, "a.csv", outputPath("", "../../a.csv"))
	assert.Equal(t, "export", outputPath("", ""))
	assert.Equal(t, filepath.Join(dir, "a.csv"), outputPath(dir, "a.csv"))
	assert.Equal(t, "/tmp/out.pdf", outputPath("/tmp/out.pdf", "a.pdf"))
}

func TestHealthAndVersion(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/health", r.URL.Path)
		fmt.Fprint(w, `{"status":"ok"}`)
	}))
	defer server.Close()

	out, err := runApp(t, "--server", server.URL, "server", "health")
	require.NoError(t, err)
	assert.Contains(t, out, "ok")

	out, err = runApp(t, "--json", "server", "version")
	require.NoError(t, err)
	var v map[string]string
	require.NoError(t, json.Unmarshal([]byte(out), &v))
	assert.Equal(t, "dev", v["version"])
}

func TestMigrateCommand_RequiresDatabaseURL(t *testing.T) {
	t.Setenv("DATABASE_URL", "")
	_, err := runApp(t, "db", "migrate")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "DATABASE_URL")
}
