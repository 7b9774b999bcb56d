package benchmark

import (
	"bytes"
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/Adithya-Monish-Kumar-K/Distributed-Report-Pipeline/internal/events"
	"github.com/Adithya-Monish-Kumar-K/Distributed-Report-Pipeline/internal/queue"
	"github.com/Adithya-Monish-Kumar-K/Distributed-Report-Pipeline/internal/report"
	"github.com/Adithya-Monish-Kumar-K/Distributed-Report-Pipeline/internal/store"
	"github.com/Adithya-Monish-Kumar-K/Distributed-Report-Pipeline/pkg/metrics"
)

const traceID = "e0a94c3a-91b4-4a54-9d4e-2f7f1c2b3a4d"

func BenchmarkNewReferenceDocumentId(b *testing.B) {
	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		id, err := report.NewReferenceDocumentId()
		if err != nil {
			b.Fatal(err)
		}
		_ = id.String()
	}
}

func BenchmarkEnvelopeRoundTrip(b *testing.B) {
	for _, size := range []int{1 << 10, 64 << 10, 1 << 20} {
		ev := events.DocumentSaveRequest{
			DocumentID: "1001-1-bench",
			TraceID:    traceID,
			Content:    bytes.Repeat([]byte("a,b,c\n"), size/6),
		}
		b.Run(fmt.Sprintf("%dKB", size>>10), func(b *testing.B) {
			b.ReportAllocs()
			b.SetBytes(int64(size))
			for i := 0; i < b.N; i++ {
				raw, err := events.Encode(ev)
				if err != nil {
					b.Fatal(err)
				}
				env, err := events.DecodeEnvelope(raw)
				if err != nil {
					b.Fatal(err)
				}
				if _, err := events.Unwrap[events.DocumentSaveRequest](env); err != nil {
					b.Fatal(err)
				}
			}
		})
	}
}

func BenchmarkDispatch(b *testing.B) {
	d := queue.NewDispatcher(queue.Options{Metrics: metrics.New(prometheus.NewRegistry())})
	d.Register(events.KindReportIsHere, queue.Typed(func(context.Context, events.ReportIsHereEvent) report.BusinessResponse {
		return report.OK(report.Success, "ok")
	}))
	raw, err := events.Encode(events.ReportIsHereEvent{TraceID: traceID, CreatedReportID: "1001-1-bench", Time: time.Now().UTC()})
	if err != nil {
		b.Fatal(err)
	}
	handler := d.Handler()

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if err := handler(context.Background(), []byte(traceID), raw); err != nil {
			b.Fatal(err)
		}
	}
}

func BenchmarkFileStorePut(b *testing.B) {
	st, err := store.NewFileStore(b.TempDir(), ".csv")
	if err != nil {
		b.Fatal(err)
	}
	content := bytes.Repeat([]byte("region,revenue\n"), 4096)

	b.SetBytes(int64(len(content)))
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if err := st.Put(context.Background(), fmt.Sprintf("1001-1-%d", i%16), content); err != nil {
			b.Fatal(err)
		}
	}
}
