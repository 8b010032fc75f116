// Package performance holds benchmarks and load tests for the hot paths:
// license sealing and decoding, application transitions and step
// recording. Thresholds are deliberately conservative so the suite stays
// green on busy CI hosts; the numbers that matter are in the logs.
package performance

import (
	"bytes"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"runtime"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apierrors "sankeyhub/internal/errors"
	"sankeyhub/internal/license"
	transporthttp "sankeyhub/internal/transport/http"
	"sankeyhub/pkg/contracts/domain"
)

const (
	maxAverageLatency = 50 * time.Millisecond
	loadRequests      = 2000
)

var concurrencyLevels = []int{1, 10, 50}

// decodeBench serves the decode endpoint over a real HTTP server with a
// sealed key ready to verify.
type decodeBench struct {
	codec      *license.Codec
	licenseKey string
	accountID  string
	server     *httptest.Server
}

func setupDecodeBench(tb testing.TB) *decodeBench {
	tb.Helper()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	codec, err := license.NewCodec(bytes.Repeat([]byte{0x7e}, license.KeySize))
	require.NoError(tb, err)

	accountID := "55231907"
	key, err := codec.Encrypt(domain.LicensePayload{
		AccountID: accountID,
		EAName:    "SankeyBreakout",
		Broker:    "Pepperstone",
		Expiry:    time.Now().Add(365 * 24 * time.Hour),
		IssuedAt:  time.Now(),
		LicenseID: "LIC-perf-0001",
	})
	require.NoError(tb, err)

	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Mount("/api/licenses",
		transporthttp.NewLicenseHandler(codec, logger, apierrors.NewErrorHandler(logger, false)).Routes())

	bench := &decodeBench{
		codec:      codec,
		licenseKey: key,
		accountID:  accountID,
		server:     httptest.NewServer(router),
	}
	tb.Cleanup(bench.server.Close)
	return bench
}

func (d *decodeBench) decodeURL() string {
	q := url.Values{"license_key": {d.licenseKey}, "account_id": {d.accountID}}
	return d.server.URL + "/api/licenses/decode?" + q.Encode()
}

func BenchmarkLicenseSeal(b *testing.B) {
	bench := setupDecodeBench(b)
	payload := domain.LicensePayload{
		AccountID: bench.accountID,
		EAName:    "SankeyBreakout",
		Broker:    "Pepperstone",
		Expiry:    time.Now().Add(365 * 24 * time.Hour),
		IssuedAt:  time.Now(),
		LicenseID: "LIC-perf-0002",
	}
	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := bench.codec.Encrypt(payload); err != nil {
			b.Fatal(err)
		}
	}
}

func BenchmarkLicenseDecode(b *testing.B) {
	bench := setupDecodeBench(b)
	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if result := bench.codec.Decode(bench.licenseKey, bench.accountID); result.Verdict != domain.VerdictValid {
			b.Fatalf("verdict %s", result.Verdict)
		}
	}
}

func BenchmarkLicenseDecodeTampered(b *testing.B) {
	bench := setupDecodeBench(b)
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if result := bench.codec.Decode(bench.licenseKey, "00000000"); result.Verdict != domain.VerdictTampered {
			b.Fatalf("verdict %s", result.Verdict)
		}
	}
}

func BenchmarkDecodeEndpoint(b *testing.B) {
	bench := setupDecodeBench(b)
	target := bench.decodeURL()
	client := bench.server.Client()

	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			resp, err := client.Get(target)
			if err != nil {
				b.Error(err)
				return
			}
			io.Copy(io.Discard, resp.Body)
			resp.Body.Close()
			if resp.StatusCode != http.StatusOK {
				b.Errorf("status %d", resp.StatusCode)
				return
			}
		}
	})
}

func TestDecodeEndpointLatencyUnderLoad(t *testing.T) {
	bench := setupDecodeBench(t)
	target := bench.decodeURL()
	client := bench.server.Client()

	for _, clients := range concurrencyLevels {
		t.Run(fmt.Sprintf("clients_%d", clients), func(t *testing.T) {
			var (
				wg       sync.WaitGroup
				failures atomic.Int64
				totalNS  atomic.Int64
			)
			perClient := loadRequests / clients

			start := time.Now()
			for c := 0; c < clients; c++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					for i := 0; i < perClient; i++ {
						reqStart := time.Now()
						resp, err := client.Get(target)
						if err != nil {
							failures.Add(1)
							continue
						}
						io.Copy(io.Discard, resp.Body)
						resp.Body.Close()
						totalNS.Add(time.Since(reqStart).Nanoseconds())
						if resp.StatusCode != http.StatusOK {
							failures.Add(1)
						}
					}
				}()
			}
			wg.Wait()
			elapsed := time.Since(start)

			completed := int64(clients * perClient)
			require.Zero(t, failures.Load(), "decode requests failed under load")

			avg := time.Duration(totalNS.Load() / completed)
			throughput := float64(completed) / elapsed.Seconds()
			t.Logf("clients=%d requests=%d avg_latency=%s throughput=%.0f req/s",
				clients, completed, avg, throughput)
			assert.Less(t, avg, maxAverageLatency, "average decode latency over budget")
		})
	}
}

func TestDecodeMemoryStableUnderLoad(t *testing.T) {
	bench := setupDecodeBench(t)

	var before, after runtime.MemStats
	runtime.GC()
	runtime.ReadMemStats(&before)

	for i := 0; i < loadRequests; i++ {
		if result := bench.codec.Decode(bench.licenseKey, bench.accountID); result.Verdict != domain.VerdictValid {
			t.Fatalf("verdict %s", result.Verdict)
		}
	}

	runtime.GC()
	runtime.ReadMemStats(&after)

	var growth uint64
	if after.HeapAlloc > before.HeapAlloc {
		growth = after.HeapAlloc - before.HeapAlloc
	}
	t.Logf("heap growth after %d decodes: %d KiB", loadRequests, growth/1024)
	assert.Less(t, growth, uint64(32<<20), "decode path retains memory")
}
