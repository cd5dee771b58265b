package fetch

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Progress receives byte counts while a download runs. Total is -1 when the
// server does not announce a content length.
type Progress func(done, total int64)

// Download streams url into dest through the breaker. The body lands in a
// temp file next to dest and is renamed into place only on success, so a
// failed download never leaves a partial file under the final name.
func (c *Client) Download(ctx context.Context, url, dest string, progress Progress) error {
	return c.breaker.Do(func() error {
		return c.download(ctx, url, dest, progress)
	})
}

func (c *Client) download(ctx context.Context, url, dest string, progress Progress) error {
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return fmt.Errorf("create download dir: %w", err)
	}

	resp, err := c.request(ctx, url)
	if err != nil {
		return fmt.Errorf("fetch %s: %w", url, err)
	}
	body := resp.RawBody()
	defer body.Close()

	total := int64(-1)
	if cl := resp.Header().Get("Content-Length"); cl != "" {
		if n, err := strconv.ParseInt(cl, 10, 64); err == nil {
			total = n
		}
	}

	tmp := dest + ".part"
	f, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("create %s: %w", tmp, err)
	}

	var src io.Reader = body
	if c.limiter != nil {
		src = &throttledReader{r: body, limiter: c.limiter, ctx: ctx}
	}
	if progress != nil {
		src = &countingReader{r: src, total: total, report: progress}
	}

	written, err := io.Copy(f, src)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(tmp)
		return fmt.Errorf("download %s: %w", url, err)
	}

	if err := os.Rename(tmp, dest); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("finalize %s: %w", dest, err)
	}

	c.log.Info("download complete",
		zap.String("url", url),
		zap.String("dest", dest),
		zap.Int64("bytes", written))
	return nil
}

// countingReader reports cumulative progress as bytes flow through.
type countingReader struct {
	r      io.Reader
	done   int64
	total  int64
	report Progress
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	if n > 0 {
		c.done += int64(n)
		c.report(c.done, c.total)
	}
	return n, err
}

// throttledReader paces reads against a byte-rate limiter.
type throttledReader struct {
	r       io.Reader
	limiter *rate.Limiter
	ctx     context.Context
}

func (t *throttledReader) Read(p []byte) (int, error) {
	n, err := t.r.Read(p)
	for rem := n; rem > 0; {
		chunk := rem
		if burst := t.limiter.Burst(); chunk > burst {
			chunk = burst
		}
		if werr := t.limiter.WaitN(t.ctx, chunk); werr != nil {
			return n, werr
		}
		rem -= chunk
	}
	return n, err
}
