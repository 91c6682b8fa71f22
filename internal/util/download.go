package util

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"sync/atomic"
	"time"

	"github.com/mattn/go-isatty"
)

// progressInterval is how often the byte counter is rendered.
const progressInterval = 250 * time.Millisecond

// ReadWithProgress drains body into memory, rendering a transferred-bytes
// counter while the copy is in flight. contentLength may be <= 0 when the
// server did not report one. The progress goroutine only polls the counter;
// it never cancels the transfer.
func ReadWithProgress(body io.Reader, contentLength int64, label string) ([]byte, error) {
	if !isatty.IsTerminal(os.Stderr.Fd()) {
		return io.ReadAll(body)
	}

	var buf bytes.Buffer
	counter := &countingWriter{}
	done := make(chan struct{})

	go func() {
		ticker := time.NewTicker(progressInterval)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				n := counter.count()
				if contentLength > 0 {
					fmt.Fprintf(os.Stderr, "\r%s %s / %s", label, humanBytes(n), humanBytes(contentLength))
				} else {
					fmt.Fprintf(os.Stderr, "\r%s %s", label, humanBytes(n))
				}
			}
		}
	}()

	_, err := io.Copy(io.MultiWriter(&buf, counter), body)
	close(done)
	fmt.Fprintf(os.Stderr, "\r%s %s\n", label, humanBytes(counter.count()))
	if err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// countingWriter tracks transferred bytes; the progress goroutine polls it
// concurrently with the copy.
type countingWriter struct {
	n atomic.Int64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	c.n.Add(int64(len(p)))
	return len(p), nil
}

func (c *countingWriter) count() int64 {
	return c.n.Load()
}

func humanBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMG"[exp])
}
