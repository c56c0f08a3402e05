package archive

import (
	"bufio"
	"bytes"
	"context"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/rs/zerolog"

	"arb-radar/internal/engine"
	"arb-radar/internal/opportunity"
)

type fakeUploader struct {
	keys   []string
	bodies [][]byte
}

func (f *fakeUploader) PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	body, err := io.ReadAll(params.Body)
	if err != nil {
		return nil, err
	}
	f.keys = append(f.keys, *params.Key)
	f.bodies = append(f.bodies, body)
	return &s3.PutObjectOutput{}, nil
}

type fakeRecent struct {
	entries []engine.RecentEntry
}

func (f *fakeRecent) Recent(kind opportunity.Kind, limit int) []engine.RecentEntry {
	return f.entries
}

func TestArchiverFlushesNewGenerationsOnce(t *testing.T) {
	uploader := &fakeUploader{}
	source := &fakeRecent{entries: []engine.RecentEntry{
		{Kind: opportunity.KindDirect, Generation: 2, Opportunity: opportunity.Direct{ID: "b"}},
		{Kind: opportunity.KindFutures, Generation: 1, Opportunity: opportunity.Futures{ID: "a"}},
	}}
	a := New(uploader, source, Config{Bucket: "bucket", Prefix: "arb"}, zerolog.Nop())
	a.now = func() time.Time { return time.Date(2026, 3, 1, 12, 30, 5, 0, time.UTC) }

	key, n, err := a.Flush(context.Background())
	if err != nil {
		t.Fatalf("flush: %v", err)
	}
	if n != 2 || key != "arb/2026/03/01/123005-g1-g2.jsonl" {
		t.Fatalf("unexpected flush result %q %d", key, n)
	}

	scanner := bufio.NewScanner(bytes.NewReader(uploader.bodies[0]))
	var lines []string
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	if len(lines) != 2 || !strings.Contains(lines[0], `"id":"a"`) || !strings.Contains(lines[1], `"id":"b"`) {
		t.Fatalf("entries should be written oldest first, got %v", lines)
	}

	if _, n, _ := a.Flush(context.Background()); n != 0 || len(uploader.keys) != 1 {
		t.Fatalf("already archived generations must not be uploaded again")
	}

	source.entries = append([]engine.RecentEntry{{Kind: opportunity.KindDirect, Generation: 3, Opportunity: opportunity.Direct{ID: "c"}}}, source.entries...)
	if _, n, _ := a.Flush(context.Background()); n != 1 {
		t.Fatalf("expected only the new generation, got %d", n)
	}
}

func TestNewS3ClientValidates(t *testing.T) {
	if _, err := NewS3Client(context.Background(), Config{Region: "us-east-1"}); err == nil {
		t.Fatalf("missing bucket should fail")
	}
	if _, err := NewS3Client(context.Background(), Config{Bucket: "b"}); err == nil {
		t.Fatalf("missing region should fail")
	}
	if got := normaliseEndpoint("minio.local:9000"); got != "https://minio.local:9000" {
		t.Fatalf("unexpected endpoint %q", got)
	}
}
