package pipeline

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/szaher/sessionize/internal/config"
	"github.com/szaher/sessionize/internal/filter"
	"github.com/szaher/sessionize/internal/output"
	"github.com/szaher/sessionize/internal/parser"
	"github.com/szaher/sessionize/internal/session"
	"github.com/szaher/sessionize/internal/telemetry"
)

// sampleLog is the sample input of the EDGAR sessionization challenge.
const sampleLog = `ip,date,time,zone,cik,accession,extention,code,size,idx,norefer,noagent,find,crawler,browser
101.81.133.jja,2017-06-30,00:00:00,0.0,1608552.0,0001047469-17-004337,-index.htm,200.0,80251.0,1.0,0.0,0.0,9.0,0.0,
107.23.85.jfd,2017-06-30,00:00:00,0.0,1027281.0,0000898430-02-001167,-index.htm,200.0,2825.0,1.0,0.0,0.0,10.0,0.0,
107.23.85.jfd,2017-06-30,00:00:00,0.0,1136894.0,0000905148-07-003827,-index.htm,200.0,3021.0,1.0,0.0,0.0,10.0,0.0,
106.120.173.jie,2017-06-30,00:00:00,0.0,1166745.0,0001193125-08-084089,-index.htm,200.0,2811.0,1.0,0.0,0.0,10.0,0.0,
107.23.85.jfd,2017-06-30,00:00:01,0.0,841535.0,0000841535-98-000002,-index.html,200.0,2699.0,1.0,0.0,0.0,10.0,0.0,
108.91.91.hbc,2017-06-30,00:00:01,0.0,1295391.0,0001209784-17-000052,.txt,200.0,19884.0,0.0,0.0,0.0,10.0,0.0,
106.120.173.jie,2017-06-30,00:00:02,0.0,1470683.0,0001144204-14-046448,v385454_20fa.htm,301.0,663.0,0.0,0.0,0.0,10.0,0.0,
107.178.195.aag,2017-06-30,00:00:02,0.0,1068124.0,0000350001-15-000854,-xbrl.zip,404.0,784.0,0.0,0.0,0.0,10.0,1.0,
107.23.85.jfd,2017-06-30,00:00:03,0.0,842814.0,0000842814-98-000001,-index.htm,200.0,2690.0,1.0,0.0,0.0,10.0,0.0,
107.178.195.aag,2017-06-30,00:00:04,0.0,1068124.0,0000350001-15-000731,-xbrl.zip,404.0,784.0,0.0,0.0,0.0,10.0,1.0,
108.91.91.hbc,2017-06-30,00:00:04,0.0,1618174.0,0001140361-14-015307,-index.htm,200.0,16096.0,1.0,0.0,0.0,10.0,0.0,
`

// sampleSessions is the expected output for an inactivity period of 2s.
const sampleSessions = `101.81.133.jja,2017-06-30 00:00:00,2017-06-30 00:00:00,0,1
108.91.91.hbc,2017-06-30 00:00:01,2017-06-30 00:00:01,0,1
107.23.85.jfd,2017-06-30 00:00:00,2017-06-30 00:00:03,3,4
106.120.173.jie,2017-06-30 00:00:00,2017-06-30 00:00:02,2,2
107.178.195.aag,2017-06-30 00:00:02,2017-06-30 00:00:04,2,2
108.91.91.hbc,2017-06-30 00:00:04,2017-06-30 00:00:04,0,1
`

func newTestRunner(t *testing.T, threshold time.Duration) *Runner {
	t.Helper()
	cfg := config.Default()
	cfg.InactivityPeriod = threshold
	r, err := NewRunner(cfg, nil, nil, nil)
	if err != nil {
		t.Fatalf("NewRunner returned unexpected error: %v", err)
	}
	return r
}

func runToCSV(t *testing.T, r *Runner, log string) (string, Stats) {
	t.Helper()
	var buf bytes.Buffer
	w, err := output.NewWriter(&buf, nil, output.Options{})
	if err != nil {
		t.Fatalf("NewWriter returned unexpected error: %v", err)
	}
	stats, err := r.Run(context.Background(), "log.csv", strings.NewReader(log), w)
	if err != nil {
		t.Fatalf("Run returned unexpected error: %v", err)
	}
	if err := w.Flush(); err != nil {
		t.Fatalf("Flush returned unexpected error: %v", err)
	}
	return buf.String(), stats
}

func TestRunSample(t *testing.T) {
	got, stats := runToCSV(t, newTestRunner(t, 2*time.Second), sampleLog)

	if got != sampleSessions {
		t.Errorf("output =\n%s\nwant\n%s", got, sampleSessions)
	}
	if stats.Requests != 11 || stats.Sessions != 6 || stats.Skipped != 0 {
		t.Errorf("stats = %+v", stats)
	}
	if stats.Lines() != 11 {
		t.Errorf("Lines() = %d, want 11", stats.Lines())
	}
}

func TestRunThresholdsThreeAndFourAgree(t *testing.T) {
	out2, _ := runToCSV(t, newTestRunner(t, 2*time.Second), sampleLog)
	out3, _ := runToCSV(t, newTestRunner(t, 3*time.Second), sampleLog)
	out4, _ := runToCSV(t, newTestRunner(t, 4*time.Second), sampleLog)

	if out3 != out4 {
		t.Errorf("outputs for 3s and 4s differ:\n%s\n---\n%s", out3, out4)
	}
	if out2 == out3 {
		t.Error("outputs for 2s and 3s should differ")
	}
}

func TestRunSpecScenarios(t *testing.T) {
	t.Run("reopen after gap", func(t *testing.T) {
		log := "ip,date,time\n" +
			"A,2017-06-30,00:00:00\n" +
			"A,2017-06-30,00:00:03\n" +
			"A,2017-06-30,00:00:09\n"
		got, _ := runToCSV(t, newTestRunner(t, 5*time.Second), log)
		want := "A,2017-06-30 00:00:00,2017-06-30 00:00:03,3,2\n" +
			"A,2017-06-30 00:00:09,2017-06-30 00:00:09,0,1\n"
		if got != want {
			t.Errorf("output =\n%s\nwant\n%s", got, want)
		}
	})

	t.Run("simultaneous expiry", func(t *testing.T) {
		log := "ip,date,time\n" +
			"A,2017-06-30,00:00:00\n" +
			"B,2017-06-30,00:00:01\n" +
			"C,2017-06-30,00:00:10\n"
		got, _ := runToCSV(t, newTestRunner(t, 2*time.Second), log)
		want := "A,2017-06-30 00:00:00,2017-06-30 00:00:00,0,1\n" +
			"B,2017-06-30 00:00:01,2017-06-30 00:00:01,0,1\n" +
			"C,2017-06-30 00:00:10,2017-06-30 00:00:10,0,1\n"
		if got != want {
			t.Errorf("output =\n%s\nwant\n%s", got, want)
		}
	})
}

func TestRunHeaderOnly(t *testing.T) {
	got, stats := runToCSV(t, newTestRunner(t, 2*time.Second), "ip,date,time,zone,cik\n")
	if got != "" {
		t.Errorf("output = %q, want empty", got)
	}
	if stats.Sessions != 0 {
		t.Errorf("Sessions = %d, want 0", stats.Sessions)
	}
}

func TestRunEmptyLogFails(t *testing.T) {
	r := newTestRunner(t, 2*time.Second)
	_, err := r.Run(context.Background(), "empty.csv", strings.NewReader("\n"), session.SinkFunc(func(session.Row) error { return nil }))
	if !errors.Is(err, parser.ErrBadHeader) {
		t.Fatalf("Run error = %v, want ErrBadHeader", err)
	}
}

func TestRunSkipsMalformedLines(t *testing.T) {
	var logs bytes.Buffer
	r := newTestRunner(t, 2*time.Second)
	r.Logger = slog.New(slog.NewJSONHandler(&logs, nil))

	log := "ip,date,time\n" +
		"A,2017-06-30,00:00:00\n" +
		"B,not-a-date,00:00:00\n" +
		"A,2017-06-30,00:00:01\n"
	got, stats := runToCSV(t, r, log)

	if got != "A,2017-06-30 00:00:00,2017-06-30 00:00:01,1,2\n" {
		t.Errorf("output = %q", got)
	}
	if stats.Skipped != 1 || stats.Requests != 2 {
		t.Errorf("stats = %+v", stats)
	}
	if !strings.Contains(logs.String(), "skipping malformed line") {
		t.Errorf("log output missing skip warning: %s", logs.String())
	}
}

func TestRunOutOfOrderFails(t *testing.T) {
	log := "ip,date,time\n" +
		"A,2017-06-30,00:00:05\n" +
		"B,2017-06-30,00:00:01\n"
	r := newTestRunner(t, 2*time.Second)
	_, err := r.Run(context.Background(), "log.csv", strings.NewReader(log), session.SinkFunc(func(session.Row) error { return nil }))
	if !errors.Is(err, session.ErrOutOfOrder) {
		t.Fatalf("Run error = %v, want ErrOutOfOrder", err)
	}
}

func TestRunAbortDiscardsOpenSessions(t *testing.T) {
	log := "ip,date,time\n" +
		"A,2017-06-30,00:00:05\n" +
		"B,2017-06-30,00:00:06\n" +
		"C,2017-06-30,00:00:01\n"
	metrics := telemetry.NewMetrics()
	r, err := NewRunner(config.Default(), nil, metrics, nil)
	if err != nil {
		t.Fatalf("NewRunner returned unexpected error: %v", err)
	}
	if _, err := r.Run(context.Background(), "log.csv", strings.NewReader(log), session.SinkFunc(func(session.Row) error { return nil })); !errors.Is(err, session.ErrOutOfOrder) {
		t.Fatalf("Run error = %v, want ErrOutOfOrder", err)
	}

	path := filepath.Join(t.TempDir(), "m.prom")
	if err := metrics.WriteTextfile(path); err != nil {
		t.Fatalf("WriteTextfile returned unexpected error: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	for _, want := range []string{"sessionize_open_sessions 0", "sessionize_sessions_discarded_total 2"} {
		if !strings.Contains(string(data), want) {
			t.Errorf("metrics missing %q:\n%s", want, data)
		}
	}
}

func TestRunFilter(t *testing.T) {
	r := newTestRunner(t, 2*time.Second)
	f, err := filter.Compile(`fields.crawler == "1.0"`)
	if err != nil {
		t.Fatalf("Compile returned unexpected error: %v", err)
	}
	r.Filter = f

	got, stats := runToCSV(t, r, sampleLog)
	if strings.Contains(got, "107.178.195.aag") {
		t.Errorf("crawler requests not filtered:\n%s", got)
	}
	if stats.Filtered != 2 || stats.Sessions != 5 {
		t.Errorf("stats = %+v", stats)
	}
}

func TestRunCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var rows int
	r := newTestRunner(t, 2*time.Second)
	_, err := r.Run(ctx, "log.csv", strings.NewReader(sampleLog), session.SinkFunc(func(session.Row) error {
		rows++
		return nil
	}))
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Run error = %v, want context.Canceled", err)
	}
	if rows != 0 {
		t.Errorf("cancelled run emitted %d rows, want 0", rows)
	}
}

func TestRunSinkError(t *testing.T) {
	boom := errors.New("broken pipe")
	r := newTestRunner(t, 2*time.Second)
	_, err := r.Run(context.Background(), "log.csv", strings.NewReader(sampleLog), session.SinkFunc(func(session.Row) error {
		return boom
	}))
	if !errors.Is(err, boom) {
		t.Fatalf("Run error = %v, want %v", err, boom)
	}
}

func TestNewRunnerErrors(t *testing.T) {
	cfg := config.Default()
	cfg.Filter = "ip +"
	if _, err := NewRunner(cfg, nil, nil, nil); err == nil {
		t.Error("NewRunner with bad filter should fail")
	}

	cfg = config.Default()
	cfg.InactivityFile = "/does/not/exist"
	if _, err := NewRunner(cfg, nil, nil, nil); err == nil {
		t.Error("NewRunner with missing inactivity file should fail")
	}
}
