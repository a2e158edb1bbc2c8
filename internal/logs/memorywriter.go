package logs

import (
	"bytes"
	"compress/gzip"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"
)

// MemoryWriter keeps log lines in memory. The first startCount lines are kept
// forever (enumeration and staging happen there), the rest rotate so a long
// flashing run cannot grow the log without bound.

// hardcoded so a hex dump of a whole packet cannot blow up memory
const maxLineLength = 500

type MemoryWriter struct {
	maxLineCount int
	lines        [][]byte // lines include newlines
	startLines   [][]byte
	startTime    time.Time
	outWriter    io.Writer
	startCount   int
	mutex        sync.Mutex
	printTime    bool
}

// Write remembers p as one line, truncated to maxLineLength.
func (m *MemoryWriter) Write(p []byte) (int, error) {
	m.mutex.Lock()
	defer func() {
		m.mutex.Unlock()
	}()
	n := len(p)
	if len(p) > maxLineLength {
		p = append(p[0:maxLineLength:maxLineLength], '\n')
	}

	var newline []byte
	if !m.printTime {
		newline = make([]byte, len(p))
		copy(newline, p)
	} else {
		now := time.Now()
		elapsed := now.Sub(m.startTime)

		elapsedS := fmt.Sprintf("%.6f", elapsed.Seconds())
		nowS := now.Format("15:04:05")

		newline = []byte(fmt.Sprintf("[%s : %s] %s", elapsedS, nowS, string(p)))
	}

	if len(m.startLines) < m.startCount {
		m.startLines = append(m.startLines, newline)
	} else {
		for len(m.lines) >= m.maxLineCount {
			m.lines = m.lines[1:]
		}
		m.lines = append(m.lines, newline)
	}
	if m.outWriter != nil {
		_, wrErr := m.outWriter.Write(newline)
		if wrErr != nil {
			// give up, just print on stdout
			fmt.Println(wrErr)
		}
	}
	return n, nil
}

// writeTo exports the lines, newest first, below the start text.
// The start text is the run summary (version, arguments, device).
func (m *MemoryWriter) writeTo(start string, w io.Writer) error {
	m.mutex.Lock()
	defer func() {
		m.mutex.Unlock()
	}()
	_, err := io.WriteString(w, start)
	if err != nil {
		return err
	}

	for i := len(m.lines) - 1; i >= 0; i-- {
		_, err = w.Write(m.lines[i])
		if err != nil {
			return err
		}
	}

	_, err = w.Write([]byte("...\n"))
	if err != nil {
		return err
	}

	for i := len(m.startLines) - 1; i >= 0; i-- {
		_, err = w.Write(m.startLines[i])
		if err != nil {
			return err
		}
	}

	return nil
}

// String exports as string
func (m *MemoryWriter) String(start string) (string, error) {
	var b bytes.Buffer
	err := m.writeTo(start, &b)
	if err != nil {
		return "", err
	}
	return b.String(), nil
}

// Gzip exports as GZip bytes
func (m *MemoryWriter) Gzip(start string) ([]byte, error) {
	var buf bytes.Buffer
	gw, err := gzip.NewWriterLevel(&buf, gzip.BestCompression)
	if err != nil {
		return nil, err
	}

	gw.Name = "qdl-log.txt"
	err = m.writeTo(start, gw)
	if err != nil {
		return nil, err
	}

	err = gw.Close()
	if err != nil {
		return nil, err
	}

	return buf.Bytes(), nil
}

func NewMemoryWriter(size int, startSize int, printTime bool, out io.Writer) (*MemoryWriter, error) {
	if size < 1 {
		return nil, errors.New("size cannot be <1")
	}
	if startSize < 1 {
		return nil, errors.New("start size cannot be <1")
	}
	return &MemoryWriter{
		maxLineCount: size,
		lines:        make([][]byte, 0, size),
		startCount:   startSize,
		startLines:   make([][]byte, 0, startSize),
		startTime:    time.Now(),
		printTime:    printTime,
		outWriter:    out,
	}, nil
}
