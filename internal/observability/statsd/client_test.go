package statsd

import (
	"net"
	"testing"
)

func TestSanitizeName(t *testing.T) {
	t.Parallel()

	tests := map[string]string{
		" rendition/encode ": "rendition_encode",
		"job..transition":    "job.transition",
		"multi  space":       "multi__space",
		"a:b|c":              "a_b_c",
		"..":                 "",
		"":                   "",
	}

	for input, want := range tests {
		if got := sanitizeName(input); got != want {
			t.Fatalf("sanitizeName(%q) = %q, want %q", input, got, want)
		}
	}
}

func TestTagSuffixMergesAndSorts(t *testing.T) {
	t.Parallel()

	base := map[string]string{
		"env":     "prod",
		"service": "transcoder",
	}
	local := map[string]string{
		"result": " success ",
		"":       "ignored",
		"env":    "stage",
	}

	want := "|#env:stage,result:success,service:transcoder"
	if got := tagSuffix(base, local); got != want {
		t.Fatalf("tagSuffix mismatch\n got: %q\nwant: %q", got, want)
	}
}

func TestTagSuffixEmpty(t *testing.T) {
	t.Parallel()

	if got := tagSuffix(nil, nil); got != "" {
		t.Fatalf("tagSuffix(nil, nil) = %q, want empty", got)
	}
}

func TestCopyTagsReturnsCopy(t *testing.T) {
	t.Parallel()

	original := map[string]string{
		"env": "prod",
		"":    "ignored",
	}

	cleaned := copyTags(original)
	if cleaned == nil {
		t.Fatal("copyTags returned nil map")
	}

	cleaned["env"] = "stage"
	if original["env"] != "prod" {
		t.Fatal("copyTags did not copy values")
	}

	if _, ok := cleaned[""]; ok {
		t.Fatal("copyTags kept empty key")
	}
}

func TestClientEmitsTaggedLine(t *testing.T) {
	t.Parallel()

	addr, lines := startUDPListener(t)

	client, err := NewClient(Config{
		Enabled:    true,
		Address:    addr,
		Prefix:     "transcoder",
		GlobalTags: map[string]string{"env": "test"},
	})
	if err != nil {
		t.Fatalf("NewClient error: %v", err)
	}
	defer client.Close()

	client.Count("job.transition", 1, map[string]string{"result": "success"})

	want := "transcoder.job.transition:1|c|#env:test,result:success"
	if got := <-lines; got != want {
		t.Fatalf("datagram mismatch\n got: %q\nwant: %q", got, want)
	}
}

func startUDPListener(t *testing.T) (string, <-chan string) {
	t.Helper()

	conn, err := net.ListenPacket("udp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen udp: %v", err)
	}
	t.Cleanup(func() { conn.Close() })

	lines := make(chan string, 1)
	go func() {
		buf := make([]byte, 1024)
		n, _, rerr := conn.ReadFrom(buf)
		if rerr != nil {
			return
		}
		lines <- string(buf[:n])
	}()

	return conn.LocalAddr().String(), lines
}

func TestClientEnabledAndClose(t *testing.T) {
	t.Parallel()

	clientConn, peerConn := net.Pipe()
	defer peerConn.Close()

	client := &Client{
		enabled: true,
		conn:    clientConn,
	}

	if !client.Enabled() {
		t.Fatal("expected client.Enabled to report true with active connection")
	}

	if err := client.Close(); err != nil {
		t.Fatalf("Close error: %v", err)
	}

	if client.Enabled() {
		t.Fatal("expected client.Enabled to report false after Close")
	}

	// Verify Close can be called again without error.
	if err := client.Close(); err != nil {
		t.Fatalf("Close (second call) error: %v", err)
	}

	var nilClient *Client
	if nilClient.Enabled() {
		t.Fatal("nil client should report disabled")
	}
	if err := nilClient.Close(); err != nil {
		t.Fatalf("nil client Close error: %v", err)
	}
}

func TestNewClientDisabledWithoutAddress(t *testing.T) {
	t.Parallel()

	client, err := NewClient(Config{
		Enabled: true,
		Address: "   ",
	})
	if err != nil {
		t.Fatalf("NewClient error: %v", err)
	}

	if client.Enabled() {
		t.Fatal("expected client to stay disabled when address is empty")
	}
}

func TestNewClientDialError(t *testing.T) {
	t.Parallel()

	_, err := NewClient(Config{
		Enabled: true,
		Address: "bad address",
	})
	if err == nil {
		t.Fatal("expected NewClient to error for invalid address")
	}
}
