package metrics

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"go.uber.org/zap"
)

type Logger interface {
	Log(info *MetricsInfo)
}

// StdoutLogger writes one JSON document per job.
type StdoutLogger struct {
	w   io.Writer
	mu  sync.Mutex
	log *zap.SugaredLogger
}

func NewStdoutLogger(log *zap.SugaredLogger) *StdoutLogger {
	return NewWriterLogger(os.Stdout, log)
}

func NewWriterLogger(w io.Writer, log *zap.SugaredLogger) *StdoutLogger {
	return &StdoutLogger{w: w, log: log}
}

func (l *StdoutLogger) Log(info *MetricsInfo) {
	infoStr, err := info.ToJSON(l.log)
	if err != nil {
		l.log.Errorf("metrics encoding error: %v", err)
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, err := io.WriteString(l.w, infoStr); err != nil {
		l.log.Errorf("metrics write error: %v", err)
	}
}

// MultiLogger fans metrics out to several loggers.
type MultiLogger []Logger

func (m MultiLogger) Log(info *MetricsInfo) {
	for _, l := range m {
		l.Log(info)
	}
}

const defaultQueueSize = 2000
const defaultMaxLogFileSize = 64 * 1024 * 1024
const defaultMaxLogFiles = 10

// FileLogger appends metrics to LogDir/metrics.log and rotates it into
// metrics.log.N once it grows past MaxLogFileSize, keeping at most
// MaxLogFiles rotated files.
type FileLogger struct {
	MetricsQueue   chan *MetricsInfo
	LogDir         string
	MaxLogFileSize int64
	MaxLogFiles    int

	log  *zap.SugaredLogger
	done chan struct{}
	once sync.Once
}

func NewFileLogger(logDir string, maxLogFileSize int64, maxLogFiles int, log *zap.SugaredLogger) (*FileLogger, error) {
	if maxLogFileSize <= 0 {
		maxLogFileSize = defaultMaxLogFileSize
	}
	if maxLogFiles <= 0 {
		maxLogFiles = defaultMaxLogFiles
	}
	if err := os.MkdirAll(logDir, 0755); err != nil {
		return nil, err
	}
	l := &FileLogger{
		MetricsQueue:   make(chan *MetricsInfo, defaultQueueSize),
		LogDir:         logDir,
		MaxLogFileSize: maxLogFileSize,
		MaxLogFiles:    maxLogFiles,
		log:            log,
		done:           make(chan struct{}),
	}
	go l.startLogWriter()
	return l, nil
}

func (l *FileLogger) Log(info *MetricsInfo) {
	l.MetricsQueue <- info
}

// Close flushes queued metrics and stops the writer.
func (l *FileLogger) Close() {
	l.once.Do(func() {
		close(l.MetricsQueue)
		<-l.done
	})
}

func (l *FileLogger) currentPath() string {
	return filepath.Join(l.LogDir, "metrics.log")
}

func (l *FileLogger) startLogWriter() {
	defer close(l.done)

	f, err := l.openLogFile()
	if err != nil {
		l.log.Errorf("FileLogger: log open error: %v", err)
	}

	for info := range l.MetricsQueue {
		infoStr, err := info.ToJSON(l.log)
		if err != nil {
			l.log.Errorf("FileLogger: info.ToJSON() error: %v", err)
			continue
		}
		f, err = l.tryRotateLogFile(f)
		if err != nil {
			continue
		}
		if _, err := f.WriteString(infoStr); err != nil {
			l.log.Errorf("FileLogger: write error: %v", err)
			continue
		}
		f.Sync()
	}
	if f != nil {
		f.Close()
	}
}

func (l *FileLogger) openLogFile() (*os.File, error) {
	return os.OpenFile(l.currentPath(), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
}

// rotatedFiles lists metrics.log.N files, newest first.
func (l *FileLogger) rotatedFiles() []string {
	matches, _ := filepath.Glob(l.currentPath() + ".*")
	sort.Slice(matches, func(i, j int) bool {
		return rotationIndex(matches[i]) < rotationIndex(matches[j])
	})
	return matches
}

func rotationIndex(path string) int {
	var n int
	ext := strings.TrimPrefix(filepath.Ext(path), ".")
	if _, err := fmt.Sscanf(ext, "%d", &n); err != nil {
		return -1
	}
	return n
}

func (l *FileLogger) tryRotateLogFile(currFile *os.File) (*os.File, error) {
	if currFile == nil {
		return l.openLogFile()
	}
	info, err := currFile.Stat()
	if err != nil {
		l.log.Errorf("FileLogger: log rotation error: %v", err)
		return currFile, nil
	}
	if info.Size() < l.MaxLogFileSize {
		return currFile, nil
	}

	currFile.Close()
	rotated := l.rotatedFiles()
	for i := len(rotated) - 1; i >= 0; i-- {
		idx := rotationIndex(rotated[i])
		if idx+1 >= l.MaxLogFiles {
			os.Remove(rotated[i])
			continue
		}
		os.Rename(rotated[i], fmt.Sprintf("%s.%d", l.currentPath(), idx+1))
	}
	if err := os.Rename(l.currentPath(), l.currentPath()+".0"); err != nil {
		l.log.Errorf("FileLogger: log rotation error: %v", err)
	}

	f, err := l.openLogFile()
	if err != nil {
		l.log.Errorf("FileLogger: log rotation error: %v", err)
	}
	return f, err
}
