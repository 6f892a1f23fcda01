package control

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"go.opentelemetry.io/otel"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/MrWong99/siggen/internal/observe"
	"github.com/MrWong99/siggen/pkg/synth"
)

type fixture struct {
	eng    *synth.Engine
	srv    *Server
	mux    *http.ServeMux
	reader *sdkmetric.ManualReader
}

func newFixture(t *testing.T, opts ...synth.Option) *fixture {
	t.Helper()
	eng, err := synth.NewEngine(synth.DefaultVoiceBank(), opts...)
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}

	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })
	m, err := observe.NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}

	srv := New(eng, WithMetrics(m))
	mux := http.NewServeMux()
	srv.Register(mux)
	return &fixture{eng: eng, srv: srv, mux: mux, reader: reader}
}

func (f *fixture) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var r *http.Request
	if body == "" {
		r = httptest.NewRequest(method, path, nil)
	} else {
		r = httptest.NewRequest(method, path, strings.NewReader(body))
	}
	rec := httptest.NewRecorder()
	f.mux.ServeHTTP(rec, r)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.NewDecoder(bytes.NewReader(rec.Body.Bytes())).Decode(&v); err != nil {
		t.Fatalf("decode %q: %v", rec.Body.String(), err)
	}
	return v
}

func approx(a, b float64) bool { return math.Abs(a-b) < 1e-6 }

func TestListVoices(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, "GET", "/v1/voices", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	voices := decode[[]VoiceView](t, rec)
	if len(voices) != 10 {
		t.Fatalf("len(voices) = %d, want 10", len(voices))
	}
	if voices[0].Kind != "noise" || !voices[0].Muted {
		t.Errorf("voice 0 = %+v, want muted noise", voices[0])
	}
	if voices[1].Role != "talker" || voices[1].Frequency != 220 {
		t.Errorf("voice 1 = %+v, want talker at 220 Hz", voices[1])
	}
	if voices[2].Role != "listener" {
		t.Errorf("voice 2 role = %q, want listener", voices[2].Role)
	}
}

func TestGetVoice(t *testing.T) {
	f := newFixture(t)

	tests := []struct {
		path string
		want int
	}{
		{"/v1/voices/3", http.StatusOK},
		{"/v1/voices/42", http.StatusNotFound},
		{"/v1/voices/abc", http.StatusBadRequest},
	}
	for _, tc := range tests {
		t.Run(tc.path, func(t *testing.T) {
			if rec := f.do(t, "GET", tc.path, ""); rec.Code != tc.want {
				t.Errorf("status = %d, want %d (body %s)", rec.Code, tc.want, rec.Body)
			}
		})
	}
}

func TestTalkerFrequencyPropagates(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, "POST", "/v1/voices/1/frequency", `{"hz": 300}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 (body %s)", rec.Code, rec.Body)
	}
	if v := decode[VoiceView](t, rec); v.Frequency != 300 {
		t.Errorf("talker frequency = %v, want 300", v.Frequency)
	}

	rec = f.do(t, "GET", "/v1/voices/2/frequency", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	got := decode[frequencyBody](t, rec)
	if want := 300 * synth.DefaultMultiplierStep; !approx(got.Hz, want) {
		t.Errorf("listener frequency = %v, want %v", got.Hz, want)
	}
}

func TestListenerFrequencyIsUsageConflict(t *testing.T) {
	f := newFixture(t)
	before, _ := f.eng.Voice(2)

	rec := f.do(t, "POST", "/v1/voices/2/frequency", `{"hz": 500}`)
	if rec.Code != http.StatusConflict {
		t.Fatalf("status = %d, want 409", rec.Code)
	}
	if body := decode[errorBody](t, rec); !body.Usage {
		t.Errorf("usage = false, want true (error %q)", body.Error)
	}
	after, _ := f.eng.Voice(2)
	if after != before {
		t.Errorf("voice mutated by rejected command: %+v -> %+v", before, after)
	}

	rm := collectMetrics(t, f.reader)
	if n := counterValue(rm, "siggen.control.usage_warnings"); n != 1 {
		t.Errorf("usage_warnings = %d, want 1", n)
	}
}

func TestNoiseFrequencyIsUsageConflict(t *testing.T) {
	f := newFixture(t)
	if rec := f.do(t, "GET", "/v1/voices/0/frequency", ""); rec.Code != http.StatusConflict {
		t.Errorf("GET status = %d, want 409", rec.Code)
	}
	if rec := f.do(t, "POST", "/v1/voices/0/frequency", `{"hz": 100}`); rec.Code != http.StatusConflict {
		t.Errorf("POST status = %d, want 409", rec.Code)
	}
}

func TestBadRequests(t *testing.T) {
	f := newFixture(t)

	tests := []struct {
		name, path, body string
		want             int
	}{
		{"bad id", "/v1/voices/one/mute", `{"muted": true}`, http.StatusBadRequest},
		{"unknown voice", "/v1/voices/99/mute", `{"muted": true}`, http.StatusNotFound},
		{"missing field", "/v1/voices/1/amplitude", `{}`, http.StatusBadRequest},
		{"unknown field", "/v1/voices/1/amplitude", `{"level": 0.1, "gain": 2}`, http.StatusBadRequest},
		{"malformed json", "/v1/voices/1/amplitude", `{"level":`, http.StatusBadRequest},
		{"negative amplitude", "/v1/voices/1/amplitude", `{"level": -0.5}`, http.StatusBadRequest},
		{"negative multiplier", "/v1/voices/2/multiplier", `{"multiplier": -1}`, http.StatusBadRequest},
		{"zero sample rate", "/v1/sample-rate", `{"hz": 0}`, http.StatusBadRequest},
		{"denormal voice sample rate", "/v1/voices/1/sample-rate", `{"hz": 1e-310}`, http.StatusBadRequest},
		{"overflowing multiplier", "/v1/voices/2/multiplier", `{"multiplier": 1e308}`, http.StatusBadRequest},
		{"huge talker frequency", "/v1/voices/1/frequency", `{"hz": 1.7976931348623157e308}`, http.StatusBadRequest},
		{"sync without flags", "/v1/voices/2/sync", `{"talker": true}`, http.StatusBadRequest},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if rec := f.do(t, "POST", tc.path, tc.body); rec.Code != tc.want {
				t.Errorf("status = %d, want %d (body %s)", rec.Code, tc.want, rec.Body)
			}
		})
	}
}

func TestBecomeTalkerDemotesPrevious(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, "POST", "/v1/voices/3/talker", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 (body %s)", rec.Code, rec.Body)
	}
	if v := decode[VoiceView](t, rec); v.Role != "talker" {
		t.Errorf("voice 3 role = %q, want talker", v.Role)
	}
	if v, _ := f.eng.Voice(1); v.Role != synth.RoleListener {
		t.Errorf("voice 1 role = %v, want listener", v.Role)
	}
}

func TestSyncStateAndMultiplier(t *testing.T) {
	f := newFixture(t)

	if rec := f.do(t, "POST", "/v1/voices/2/sync", `{"talker": false, "synced": false}`); rec.Code != http.StatusOK {
		t.Fatalf("sync status = %d (body %s)", rec.Code, rec.Body)
	}
	if rec := f.do(t, "POST", "/v1/voices/2/frequency", `{"hz": 123}`); rec.Code != http.StatusOK {
		t.Fatalf("frequency on unsynced voice status = %d (body %s)", rec.Code, rec.Body)
	}
	if rec := f.do(t, "POST", "/v1/voices/2/resync", ""); rec.Code != http.StatusConflict {
		t.Errorf("resync on unsynced voice status = %d, want 409", rec.Code)
	}

	if rec := f.do(t, "POST", "/v1/voices/4/multiplier", `{"multiplier": 0.5}`); rec.Code != http.StatusOK {
		t.Fatalf("multiplier status = %d (body %s)", rec.Code, rec.Body)
	}
	if hz, _ := f.eng.EffectiveFrequency(4); !approx(hz, 110) {
		t.Errorf("voice 4 frequency = %v, want 110", hz)
	}
	if rec := f.do(t, "POST", "/v1/voices/4/resync", ""); rec.Code != http.StatusOK {
		t.Errorf("resync listener status = %d, want 200", rec.Code)
	}
}

func TestTalkerFrequencyQuery(t *testing.T) {
	f := newFixture(t)

	got := decode[frequencyBody](t, f.do(t, "GET", "/v1/groups/0/talker-frequency", ""))
	if got.Hz != 220 || got.Fallback {
		t.Errorf("group 0 = %+v, want 220 Hz without fallback", got)
	}
	got = decode[frequencyBody](t, f.do(t, "GET", "/v1/groups/7/talker-frequency", ""))
	if got.Hz != synth.DefaultTalkerFrequency || !got.Fallback {
		t.Errorf("group 7 = %+v, want fallback %v Hz", got, synth.DefaultTalkerFrequency)
	}
	if rec := f.do(t, "GET", "/v1/groups/x/talker-frequency", ""); rec.Code != http.StatusBadRequest {
		t.Errorf("bad group status = %d, want 400", rec.Code)
	}
}

func TestOutputSampleRate(t *testing.T) {
	f := newFixture(t)

	if rec := f.do(t, "POST", "/v1/sample-rate", `{"hz": 44100}`); rec.Code != http.StatusOK {
		t.Fatalf("status = %d (body %s)", rec.Code, rec.Body)
	}
	for _, v := range f.eng.Voices() {
		if v.SampleRate != 44100 {
			t.Errorf("voice %d sample rate = %v, want 44100", v.ID, v.SampleRate)
		}
	}
	if rec := f.do(t, "POST", "/v1/voices/1/sample-rate", `{"hz": 96000}`); rec.Code != http.StatusOK {
		t.Fatalf("per-voice status = %d (body %s)", rec.Code, rec.Body)
	}
	if v, _ := f.eng.Voice(1); v.SampleRate != 96000 {
		t.Errorf("voice 1 sample rate = %v, want 96000", v.SampleRate)
	}
}

func TestQueueFullIsServiceUnavailable(t *testing.T) {
	f := newFixture(t, synth.WithQueueCapacity(1))

	// Nothing renders, so the queue only fills.
	var last *httptest.ResponseRecorder
	for i := 0; i < 64; i++ {
		last = f.do(t, "POST", "/v1/voices/1/amplitude", fmt.Sprintf(`{"level": %v}`, 0.01*float64(i%10)))
		if last.Code != http.StatusOK {
			break
		}
	}
	if last.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503 once the queue is full", last.Code)
	}

	f.eng.Flush()
	if rec := f.do(t, "POST", "/v1/voices/1/amplitude", `{"level": 0.2}`); rec.Code != http.StatusOK {
		t.Errorf("after flush status = %d, want 200", rec.Code)
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus string
		wantCode   int
	}{
		{"nil", nil, observe.StatusOK, http.StatusOK},
		{"unknown voice", fmt.Errorf("x: %w", synth.ErrUnknownVoice), observe.StatusNotFound, http.StatusNotFound},
		{"usage", &synth.UsageError{Op: "set frequency", Err: synth.ErrListenerFrequency}, observe.StatusUsage, http.StatusConflict},
		{"no frequency", fmt.Errorf("x: %w", synth.ErrNoFrequency), observe.StatusUsage, http.StatusConflict},
		{"queue full", fmt.Errorf("x: %w", synth.ErrQueueFull), observe.StatusQueueFull, http.StatusServiceUnavailable},
		{"invalid", fmt.Errorf("x: %w", synth.ErrInvalidFrequency), observe.StatusInvalid, http.StatusBadRequest},
		{"unknown op", ErrUnknownOp, observe.StatusInvalid, http.StatusBadRequest},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			status, code := classify(tc.err)
			if status != tc.wantStatus || code != tc.wantCode {
				t.Errorf("classify = (%q, %d), want (%q, %d)", status, code, tc.wantStatus, tc.wantCode)
			}
		})
	}
}

func TestExecuteLogsUsageWarningOnce(t *testing.T) {
	tp := sdktrace.NewTracerProvider()
	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() {
		otel.SetTracerProvider(prev)
		_ = tp.Shutdown(context.Background())
	})

	var buf bytes.Buffer
	log := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	eng, err := synth.NewEngine(synth.DefaultVoiceBank(), synth.WithLogger(log))
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	buf.Reset()
	srv := New(eng, WithLogger(log))

	// Voice 2 is a synced listener in the default bank.
	err = srv.Execute(context.Background(), Command{Op: OpSetFrequency, Voice: 2, Value: 330})
	if !synth.IsUsage(err) {
		t.Fatalf("Execute err = %v, want usage error", err)
	}

	logged := buf.String()
	if n := strings.Count(logged, "level=WARN"); n != 1 {
		t.Errorf("got %d warn lines, want 1:\n%s", n, logged)
	}
	for _, line := range strings.Split(logged, "\n") {
		if strings.Contains(line, "level=WARN") && !strings.Contains(line, "trace_id=") {
			t.Errorf("usage warning lacks trace_id: %s", line)
		}
	}
}

func TestExecuteUnknownOp(t *testing.T) {
	f := newFixture(t)
	err := f.srv.Execute(context.Background(), Command{Op: "explode", Voice: 1})
	if !errors.Is(err, ErrUnknownOp) {
		t.Errorf("err = %v, want ErrUnknownOp", err)
	}
}

func TestWebsocketCommands(t *testing.T) {
	f := newFixture(t)
	ts := httptest.NewServer(f.mux)
	t.Cleanup(ts.Close)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(ts.URL, "http")+"/v1/ws", nil)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer conn.CloseNow()

	roundTrip := func(msg any) Reply {
		t.Helper()
		if err := wsjson.Write(ctx, conn, msg); err != nil {
			t.Fatalf("write: %v", err)
		}
		var r Reply
		if err := wsjson.Read(ctx, conn, &r); err != nil {
			t.Fatalf("read: %v", err)
		}
		return r
	}

	if r := roundTrip(Command{Op: OpSetAmplitude, Voice: 1, Value: 0.2}); !r.OK {
		t.Errorf("set_amplitude reply = %+v, want ok", r)
	}
	if v, _ := f.eng.Voice(1); v.Level != 0.2 {
		t.Errorf("voice 1 level = %v, want 0.2", v.Level)
	}

	if r := roundTrip(Command{Op: OpMute, Voice: 0, Muted: false}); !r.OK {
		t.Errorf("mute reply = %+v, want ok", r)
	}
	if v, _ := f.eng.Voice(0); v.Muted {
		t.Error("voice 0 still muted")
	}

	r := roundTrip(Command{Op: OpSetFrequency, Voice: 2, Value: 500})
	if r.OK || !r.Usage {
		t.Errorf("listener set_frequency reply = %+v, want usage error", r)
	}

	r = roundTrip(map[string]any{"op": "warp", "voice": 1})
	if r.OK || r.Usage || r.Error == "" {
		t.Errorf("unknown op reply = %+v, want plain error", r)
	}

	if err := conn.Write(ctx, websocket.MessageText, []byte(`{"op":`)); err != nil {
		t.Fatalf("write: %v", err)
	}
	var bad Reply
	if err := wsjson.Read(ctx, conn, &bad); err != nil {
		t.Fatalf("read after malformed message: %v", err)
	}
	if bad.OK || !strings.Contains(bad.Error, "decode") {
		t.Errorf("malformed reply = %+v, want decode error", bad)
	}

	r = roundTrip(map[string]any{"op": "voices"})
	if !r.OK || len(r.Voices) != 10 {
		t.Errorf("voices reply ok=%v len=%d, want ok with 10 voices", r.OK, len(r.Voices))
	}

	conn.Close(websocket.StatusNormalClosure, "")
}

func collectMetrics(t *testing.T, reader *sdkmetric.ManualReader) metricdata.ResourceMetrics {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	return rm
}

func counterValue(rm metricdata.ResourceMetrics, name string) int64 {
	var total int64
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != name {
				continue
			}
			if sum, ok := m.Data.(metricdata.Sum[int64]); ok {
				for _, dp := range sum.DataPoints {
					total += dp.Value
				}
			}
		}
	}
	return total
}
