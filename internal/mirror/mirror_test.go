package mirror

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/keithlinneman/sitedrop/internal/site"
)

type fakeS3 struct {
	putKey    string
	putBucket string
	putBody   string
	putMeta   map[string]string
	putErr    error
	deleted   []string
	deleteErr error
}

func (f *fakeS3) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	if f.putErr != nil {
		return nil, f.putErr
	}
	b, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	f.putBucket = aws.ToString(in.Bucket)
	f.putKey = aws.ToString(in.Key)
	f.putBody = string(b)
	f.putMeta = in.Metadata
	return &s3.PutObjectOutput{}, nil
}

func (f *fakeS3) DeleteObject(_ context.Context, in *s3.DeleteObjectInput, _ ...func(*s3.Options)) (*s3.DeleteObjectOutput, error) {
	if f.deleteErr != nil {
		return nil, f.deleteErr
	}
	f.deleted = append(f.deleted, aws.ToString(in.Key))
	return &s3.DeleteObjectOutput{}, nil
}

func testSite() site.Site {
	return site.Site{ID: "demo", OwnerID: "u1", OriginalFilename: "site.zip", Kind: site.KindArchive, Size: 5, SHA256: "abc"}
}

func TestNew_RequiresBucket(t *testing.T) {
	if _, err := New(context.Background(), Options{Client: &fakeS3{}}); err == nil {
		t.Fatal("expected error without bucket")
	}
}

func TestKey(t *testing.T) {
	cases := []struct {
		prefix string
		want   string
	}{
		{"", "demo/site.zip"},
		{"uploads", "uploads/demo/site.zip"},
		{"/uploads/", "uploads/demo/site.zip"},
	}
	for _, tc := range cases {
		m, err := New(context.Background(), Options{Bucket: "b", Prefix: tc.prefix, Client: &fakeS3{}})
		if err != nil {
			t.Fatal(err)
		}
		if got := m.Key(testSite()); got != tc.want {
			t.Errorf("Key(prefix=%q) = %q, want %q", tc.prefix, got, tc.want)
		}
	}
}

func TestPut(t *testing.T) {
	fake := &fakeS3{}
	m, err := New(context.Background(), Options{Bucket: "sites-bucket", Prefix: "uploads", Client: fake})
	if err != nil {
		t.Fatal(err)
	}
	p := filepath.Join(t.TempDir(), "upload")
	if err := os.WriteFile(p, []byte("hello"), 0o644); err != nil {
		t.Fatal(err)
	}

	if err := m.Put(context.Background(), testSite(), p); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if fake.putBucket != "sites-bucket" || fake.putKey != "uploads/demo/site.zip" || fake.putBody != "hello" {
		t.Fatalf("put = %s/%s %q", fake.putBucket, fake.putKey, fake.putBody)
	}
	if fake.putMeta["owner-id"] != "u1" || fake.putMeta["sha256"] != "abc" {
		t.Fatalf("metadata = %v", fake.putMeta)
	}
}

func TestPut_Errors(t *testing.T) {
	m, _ := New(context.Background(), Options{Bucket: "b", Client: &fakeS3{}})
	if err := m.Put(context.Background(), testSite(), filepath.Join(t.TempDir(), "missing")); err == nil {
		t.Fatal("expected error for missing local file")
	}

	boom := errors.New("throttled")
	m, _ = New(context.Background(), Options{Bucket: "b", Client: &fakeS3{putErr: boom}})
	p := filepath.Join(t.TempDir(), "upload")
	_ = os.WriteFile(p, []byte("x"), 0o644)
	if err := m.Put(context.Background(), testSite(), p); !errors.Is(err, boom) {
		t.Fatalf("err = %v, want wrapped throttled", err)
	}
}

func TestDelete(t *testing.T) {
	fake := &fakeS3{}
	m, _ := New(context.Background(), Options{Bucket: "b", Prefix: "p", Client: fake})
	if err := m.Delete(context.Background(), testSite()); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if len(fake.deleted) != 1 || fake.deleted[0] != "p/demo/site.zip" {
		t.Fatalf("deleted = %v", fake.deleted)
	}

	boom := errors.New("denied")
	m, _ = New(context.Background(), Options{Bucket: "b", Client: &fakeS3{deleteErr: boom}})
	if err := m.Delete(context.Background(), testSite()); !errors.Is(err, boom) {
		t.Fatalf("err = %v", err)
	}
}
