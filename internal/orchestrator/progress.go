package orchestrator

import (
	"io"
	"time"
)

const progressInterval = 100 * time.Millisecond

// Progress is one upload progress report.
type Progress struct {
	Percent  int
	Bytes    int64
	Total    int64
	MBPerSec float64
}

// progressReader reports at most every progressInterval, plus once when the
// last byte has been read.
type progressReader struct {
	r      io.Reader
	total  int64
	read   int64
	start  time.Time
	last   time.Time
	now    func() time.Time
	report func(Progress)
}

func newProgressReader(r io.Reader, total int64, now func() time.Time, report func(Progress)) *progressReader {
	return &progressReader{r: r, total: total, now: now, start: now(), report: report}
}

func (p *progressReader) Read(b []byte) (int, error) {
	n, err := p.r.Read(b)
	if n > 0 {
		p.read += int64(n)
		p.maybeReport()
	}
	return n, err
}

func (p *progressReader) maybeReport() {
	if p.report == nil {
		return
	}
	now := p.now()
	done := p.read >= p.total
	if !done && !p.last.IsZero() && now.Sub(p.last) <= progressInterval {
		return
	}
	p.last = now

	pr := Progress{Bytes: p.read, Total: p.total}
	if p.total > 0 {
		pr.Percent = int(float64(p.read) * 100 / float64(p.total))
	}
	if secs := now.Sub(p.start).Seconds(); secs > 0 {
		pr.MBPerSec = float64(p.read) / (1 << 20) / secs
	}
	p.report(pr)
}
