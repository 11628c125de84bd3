package storage

import "testing"

func TestIsS3URL(t *testing.T) {
	if !IsS3URL("s3://bucket/key.pdf") {
		t.Error("s3 url not recognized")
	}
	if IsS3URL("/local/path.pdf") || IsS3URL("https://bucket/key") {
		t.Error("non-s3 path recognized as s3")
	}
}

func TestParseS3URL(t *testing.T) {
	cases := []struct {
		in, bucket, key string
		wantErr         bool
	}{
		{"s3://b/k.pdf", "b", "k.pdf", false},
		{"s3://b/dir/k.pdf", "b", "dir/k.pdf", false},
		{"s3://b", "b", "", false},
		{"s3://", "", "", true},
		{"/local/file", "", "", true},
	}
	for _, c := range cases {
		bucket, key, err := ParseS3URL(c.in)
		if (err != nil) != c.wantErr {
			t.Errorf("ParseS3URL(%q) err = %v, wantErr %v", c.in, err, c.wantErr)
			continue
		}
		if bucket != c.bucket || key != c.key {
			t.Errorf("ParseS3URL(%q) = (%q, %q), want (%q, %q)", c.in, bucket, key, c.bucket, c.key)
		}
	}
}

func TestDirURL(t *testing.T) {
	cases := map[string]string{
		"s3://b/dir/k.pdf":     "s3://b/dir",
		"s3://b/dir/sub/k.pdf": "s3://b/dir/sub",
		"s3://b/k.pdf":         "s3://b",
		"s3://b":               "s3://b",
		"/local/file.pdf":      "/local/file.pdf",
	}
	for in, want := range cases {
		if got := DirURL(in); got != want {
			t.Errorf("DirURL(%q) = %q, want %q", in, got, want)
		}
	}
}
