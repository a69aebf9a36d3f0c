package cache

import (
	"testing"
	"time"
)

func TestParseURL(t *testing.T) {
	tests := []struct {
		name     string
		url      string
		wantAddr string
		wantDB   int
		wantErr  bool
	}{
		{"valid-redis", "redis://localhost:6379", "localhost:6379", 0, false},
		{"valid-with-db", "redis://localhost:6379/2", "localhost:6379", 2, false},
		{"empty", "", "", 0, true},
		{"wrong-scheme", "http://localhost:6379", "", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opts, err := ParseURL(tt.url)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseURL() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr {
				return
			}
			if opts.Addr != tt.wantAddr || opts.DB != tt.wantDB {
				t.Errorf("ParseURL() addr/db = %s/%d, want %s/%d", opts.Addr, opts.DB, tt.wantAddr, tt.wantDB)
			}
			if opts.DialTimeout != 5*time.Second || opts.ReadTimeout != 3*time.Second {
				t.Errorf("timeouts = %v/%v, want 5s/3s", opts.DialTimeout, opts.ReadTimeout)
			}
			if opts.ClientName != clientName {
				t.Errorf("ClientName = %q, want %q", opts.ClientName, clientName)
			}
		})
	}
}

func TestNew_UnreachableHost(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping unreachable host test in short mode")
	}

	ctx := t.Context()
	_, err := New(ctx, "redis://localhost:59999")
	if err == nil {
		t.Fatal("New() should return error for unreachable host")
	}
}
