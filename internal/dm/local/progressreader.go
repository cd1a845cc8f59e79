package local

import "io"

// progressReader wraps an io.Reader and reports progress via a callback.
type progressReader struct {
	reader         io.Reader
	total          int64
	onProgress     func(read int64, total int64)
	totalRead      int64 // cumulative total
	lastReport     int64 // bytes since last report
	lastPercent    int64
	reportInterval int64 // bytes
}

// newProgressReader reports every interval bytes, and whenever the whole percentage changes
// when the total is known.
func newProgressReader(r io.Reader, total int64, interval int64, cb func(read int64, total int64)) *progressReader {
	return &progressReader{
		reader:         r,
		total:          total,
		onProgress:     cb,
		reportInterval: interval,
	}
}

func (pr *progressReader) Read(p []byte) (int, error) {
	n, err := pr.reader.Read(p)
	if n > 0 {
		pr.totalRead += int64(n)
		pr.lastReport += int64(n)

		percent := int64(-1)
		if pr.total > 0 {
			percent = pr.totalRead * 100 / pr.total
		}

		if pr.lastReport >= pr.reportInterval || percent > pr.lastPercent {
			pr.onProgress(pr.totalRead, pr.total)
			pr.lastReport = 0
			pr.lastPercent = percent
		}
	}

	return n, err
}
