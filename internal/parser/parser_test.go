package parser

import (
	"errors"
	"io"
	"strings"
	"testing"
	"time"
)

const edgarHeader = "ip,date,time,zone,cik,accession,extention,code,size,idx,norefer,noagent,find,crawler,browser\n"

const sampleLog = edgarHeader +
	"101.81.133.jja,2017-06-30,00:00:00,0.0,1608552.0,0001047469-17-004337,-index.htm,200.0,80251.0,1.0,0.0,0.0,9.0,0.0,\n" +
	"107.23.85.jfd,2017-06-30,00:00:00,0.0,1027281.0,0000898430-02-001167,-index.htm,200.0,2825.0,1.0,0.0,0.0,10.0,0.0,\n" +
	"107.23.85.jfd,2017-06-30,00:00:01,0.0,1136894.0,0000905148-07-003827,-index.htm,200.0,3021.0,1.0,0.0,0.0,10.0,0.0,\n"

func readAll(t *testing.T, r *Reader) []string {
	t.Helper()
	var out []string
	for {
		req, err := r.Next()
		if errors.Is(err, io.EOF) {
			return out
		}
		if err != nil {
			t.Fatalf("Next returned unexpected error: %v", err)
		}
		out = append(out, req.ClientID+"@"+req.Time.Format("15:04:05"))
	}
}

func TestReaderSample(t *testing.T) {
	r, err := NewReader(strings.NewReader(sampleLog))
	if err != nil {
		t.Fatalf("NewReader returned unexpected error: %v", err)
	}

	req, err := r.Next()
	if err != nil {
		t.Fatalf("Next returned unexpected error: %v", err)
	}
	if req.ClientID != "101.81.133.jja" {
		t.Errorf("ClientID = %q, want %q", req.ClientID, "101.81.133.jja")
	}
	want := time.Date(2017, 6, 30, 0, 0, 0, 0, time.UTC)
	if !req.Time.Equal(want) {
		t.Errorf("Time = %v, want %v", req.Time, want)
	}
	if req.Resource != "1608552.0/0001047469-17-004337/-index.htm" {
		t.Errorf("Resource = %q", req.Resource)
	}
	if req.Fields != nil {
		t.Errorf("Fields = %v, want nil without WithFields", req.Fields)
	}

	rest := readAll(t, r)
	if len(rest) != 2 || rest[1] != "107.23.85.jfd@00:00:01" {
		t.Errorf("remaining = %v", rest)
	}
}

func TestReaderColumnOrderFromHeader(t *testing.T) {
	log := "time,ip,date\n" +
		"00:00:05,1.1.1.1,2017-06-30\n"

	r, err := NewReader(strings.NewReader(log))
	if err != nil {
		t.Fatalf("NewReader returned unexpected error: %v", err)
	}
	got := readAll(t, r)
	if len(got) != 1 || got[0] != "1.1.1.1@00:00:05" {
		t.Errorf("records = %v, want [1.1.1.1@00:00:05]", got)
	}
}

func TestReaderHeaderErrors(t *testing.T) {
	tests := []struct {
		name string
		log  string
	}{
		{"empty", ""},
		{"blank line only", "\n"},
		{"missing time", "ip,date,cik\n1.1.1.1,2017-06-30,1\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewReader(strings.NewReader(tt.log))
			if !errors.Is(err, ErrBadHeader) {
				t.Fatalf("NewReader error = %v, want ErrBadHeader", err)
			}
		})
	}
}

func TestReaderHeaderOnly(t *testing.T) {
	r, err := NewReader(strings.NewReader(edgarHeader))
	if err != nil {
		t.Fatalf("NewReader returned unexpected error: %v", err)
	}
	if _, err := r.Next(); !errors.Is(err, io.EOF) {
		t.Fatalf("Next error = %v, want io.EOF", err)
	}
	if len(r.Header()) != 15 {
		t.Errorf("Header() has %d columns, want 15", len(r.Header()))
	}
}

func TestReaderSkipsMalformed(t *testing.T) {
	log := "ip,date,time\n" +
		"1.1.1.1,2017-06-30,00:00:00\n" +
		"2.2.2.2,2017-06-30\n" +
		",2017-06-30,00:00:01\n" +
		"3.3.3.3,2017-13-45,00:00:02\n" +
		"4.4.4.4,2017-06-30,00:00:03\n"

	var skipped []*LineError
	r, err := NewReader(strings.NewReader(log),
		WithFile("log.csv"),
		OnSkip(func(e *LineError) { skipped = append(skipped, e) }),
	)
	if err != nil {
		t.Fatalf("NewReader returned unexpected error: %v", err)
	}

	got := readAll(t, r)
	if len(got) != 2 || got[0] != "1.1.1.1@00:00:00" || got[1] != "4.4.4.4@00:00:03" {
		t.Errorf("records = %v", got)
	}

	wantReasons := []string{ReasonColumns, ReasonIP, ReasonTime}
	wantLines := []int{3, 4, 5}
	if len(skipped) != len(wantReasons) {
		t.Fatalf("skipped %d lines, want %d: %v", len(skipped), len(wantReasons), skipped)
	}
	for i, e := range skipped {
		if e.Reason != wantReasons[i] || e.Line != wantLines[i] {
			t.Errorf("skipped[%d] = %s (line %d), want %s (line %d)", i, e.Reason, e.Line, wantReasons[i], wantLines[i])
		}
		if e.File != "log.csv" {
			t.Errorf("skipped[%d].File = %q, want log.csv", i, e.File)
		}
		if !strings.HasPrefix(e.Error(), "log.csv:") {
			t.Errorf("skipped[%d].Error() = %q", i, e.Error())
		}
	}
}

func TestReaderFields(t *testing.T) {
	r, err := NewReader(strings.NewReader(sampleLog), WithFields())
	if err != nil {
		t.Fatalf("NewReader returned unexpected error: %v", err)
	}
	req, err := r.Next()
	if err != nil {
		t.Fatalf("Next returned unexpected error: %v", err)
	}
	if req.Fields["crawler"] != "0.0" || req.Fields["code"] != "200.0" {
		t.Errorf("Fields = %v", req.Fields)
	}

	// Fields must not alias the next row.
	next, _ := r.Next()
	if req.Fields["ip"] == next.Fields["ip"] {
		t.Errorf("Fields of consecutive rows share ip %q", req.Fields["ip"])
	}
}

func TestReaderLayoutAndLocation(t *testing.T) {
	log := "ip,date,time\n1.1.1.1,30/06/2017,12.30.00\n"
	loc := time.FixedZone("EST", -5*3600)

	r, err := NewReader(strings.NewReader(log), WithLayout("02/01/2006 15.04.05"), WithLocation(loc))
	if err != nil {
		t.Fatalf("NewReader returned unexpected error: %v", err)
	}
	req, err := r.Next()
	if err != nil {
		t.Fatalf("Next returned unexpected error: %v", err)
	}
	want := time.Date(2017, 6, 30, 17, 30, 0, 0, time.UTC)
	if !req.Time.Equal(want) {
		t.Errorf("Time = %v, want %v", req.Time.UTC(), want)
	}
}
