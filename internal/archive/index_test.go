package archive_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/aurahq/aura/internal/archive"
	"github.com/aurahq/aura/internal/transcript"
	blobmock "github.com/aurahq/aura/pkg/blobstore/mock"
	"github.com/aurahq/aura/pkg/kvstore"
)

func TestRecordAndListFor_MostRecentFirst(t *testing.T) {
	ix := archive.NewIndex(kvstore.NewMemStore(), &blobmock.Store{})

	first := archive.Entry{ContentHash: "bafk1", CreatedAt: time.Unix(100, 0), Preview: "older", CompanionID: "luna"}
	second := archive.Entry{ContentHash: "bafk2", CreatedAt: time.Unix(200, 0), Preview: "newer", CompanionID: "orion"}

	if err := ix.Record("0xAAA", first); err != nil {
		t.Fatalf("Record: %v", err)
	}
	if err := ix.Record("0xaaa", second); err != nil {
		t.Fatalf("Record: %v", err)
	}

	got := ix.ListFor("0xAaA")
	if len(got) != 2 {
		t.Fatalf("ListFor: got %d entries, want 2", len(got))
	}
	if got[0].ContentHash != "bafk2" || got[1].ContentHash != "bafk1" {
		t.Errorf("order: got [%s %s], want [bafk2 bafk1]", got[0].ContentHash, got[1].ContentHash)
	}
}

func TestListFor_EmptyAndCorrupt(t *testing.T) {
	kv := kvstore.NewMemStore()
	ix := archive.NewIndex(kv, &blobmock.Store{})

	if got := ix.ListFor("0xnothing"); got != nil {
		t.Errorf("ListFor unknown address: got %v, want nil", got)
	}

	if err := kv.Set(kvstore.ArchiveKey("0xbad"), "not json"); err != nil {
		t.Fatal(err)
	}
	if got := ix.ListFor("0xbad"); got != nil {
		t.Errorf("ListFor corrupt index: got %v, want nil", got)
	}
}

func TestFetchByHash_RoundTrip(t *testing.T) {
	blobs := &blobmock.Store{}
	ix := archive.NewIndex(kvstore.NewMemStore(), blobs)

	original := transcript.Transcript{
		{Speaker: transcript.SpeakerAssistant, Text: "Hello Sam."},
		{Speaker: transcript.SpeakerUser, Text: "hello"},
		{Speaker: transcript.SpeakerAssistant, Text: "Hi there!"},
	}
	raw, err := transcript.Encode(original, time.Now().UTC())
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	hash, err := blobs.PutBlob(context.Background(), raw)
	if err != nil {
		t.Fatalf("PutBlob: %v", err)
	}

	got, err := ix.FetchByHash(context.Background(), hash)
	if err != nil {
		t.Fatalf("FetchByHash: %v", err)
	}
	if len(got) != len(original) {
		t.Fatalf("length: got %d, want %d", len(got), len(original))
	}
	for i := range original {
		if got[i] != original[i] {
			t.Errorf("turn %d: got %+v, want %+v", i, got[i], original[i])
		}
	}
}

func TestFetchByHash_CorruptBlob(t *testing.T) {
	blobs := &blobmock.Store{}
	blobs.Seed("bafkbroken", []byte(`{"version":1,"notMessages":true}`))
	ix := archive.NewIndex(kvstore.NewMemStore(), blobs)

	_, err := ix.FetchByHash(context.Background(), "bafkbroken")
	if !errors.Is(err, archive.ErrCorruptArchive) {
		t.Errorf("got %v, want ErrCorruptArchive", err)
	}
}
