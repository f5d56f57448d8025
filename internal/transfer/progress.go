package transfer

import (
	"bytes"
	"strings"
)

// Progress is the last progress line reported by the copy command. Fields are
// display text exactly as the command printed them.
type Progress struct {
	Bytes   string `json:"bytes"`
	Percent string `json:"percent"`
	Rate    string `json:"rate"`
	ETA     string `json:"eta"`
}

// ParseProgress parses an rsync-style progress line:
//
//	1,234,567,890  45%  95.31MB/s    0:10:02 (xfr#1, to-chk=0/1)
//
// Lines that do not look like progress (file names, banners, partial
// writes) are rejected.
func ParseProgress(line string) (Progress, bool) {
	fields := strings.Fields(line)
	if len(fields) < 4 {
		return Progress{}, false
	}
	if fields[0][0] < '0' || fields[0][0] > '9' {
		return Progress{}, false
	}
	if len(fields[1]) < 2 || !strings.HasSuffix(fields[1], "%") {
		return Progress{}, false
	}
	return Progress{
		Bytes:   fields[0],
		Percent: fields[1],
		Rate:    fields[2],
		ETA:     fields[3],
	}, true
}

// scanProgressLines is a bufio.SplitFunc that breaks on either '\r' or '\n';
// rsync redraws its progress line with carriage returns.
func scanProgressLines(data []byte, atEOF bool) (advance int, token []byte, err error) {
	if atEOF && len(data) == 0 {
		return 0, nil, nil
	}
	if i := bytes.IndexAny(data, "\r\n"); i >= 0 {
		return i + 1, data[:i], nil
	}
	if atEOF {
		return len(data), data, nil
	}
	return 0, nil, nil
}
