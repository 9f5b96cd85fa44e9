package logger

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"os"
	"sync"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Custom log level for NOTICE (below DebugLevel, non-error informational logs)
const NoticeLevel zapcore.Level = -2

// logEntry represents a single log entry for Better Stack
type logEntry struct {
	Timestamp  string         `json:"timestamp"`
	Level      string         `json:"level"`
	Message    string         `json:"message"`
	TraceID    string         `json:"traceID"` // request ID of the render
	Layer      string         `json:"layer"`   // SERVICE, HANDLER, QUEUE
	Attributes map[string]any `json:"attributes"`
}

// BetterStackLogStreamer streams per-request render events
type BetterStackLogStreamer struct {
	sourceToken string
	environment string
	uploadURL   string
	logger      *zap.Logger
	client      *http.Client
	fileWriter  io.Writer
	fileMu      sync.Mutex
	wg          sync.WaitGroup
}

// NewBetterStackLogStreamer creates a streamer writing to app.log in
// development and to Better Stack in production.
func NewBetterStackLogStreamer(sourceToken, environment, uploadURL string, logger *zap.Logger) *BetterStackLogStreamer {
	streamer := &BetterStackLogStreamer{
		sourceToken: sourceToken,
		environment: environment,
		uploadURL:   uploadURL,
		logger:      logger,
	}

	// Initialize file writer for development
	if environment == "development" {
		f, err := os.OpenFile("app.log", os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
		if err != nil {
			logger.Error("Failed to open log file", zap.Error(err))
			streamer.fileWriter = os.Stderr
		} else {
			streamer.fileWriter = f
		}
	}

	// Initialize HTTP client for production
	if environment == "production" && uploadURL != "" {
		streamer.client = &http.Client{Timeout: 10 * time.Second}
	}

	return streamer
}

// WithWriter sends entries to w instead of app.log or Better Stack.
func (s *BetterStackLogStreamer) WithWriter(w io.Writer) *BetterStackLogStreamer {
	s.fileMu.Lock()
	defer s.fileMu.Unlock()
	s.fileWriter = w
	s.client = nil
	return s
}

// Log streams a service-level log. Entries without a trace ID are dropped.
func (s *BetterStackLogStreamer) Log(level zapcore.Level, traceID string, message string, attributes map[string]any, layer string, err error) {
	if s == nil || traceID == "" {
		return
	}

	// Map zap level to Better Stack level string
	var levelStr string
	switch level {
	case zapcore.ErrorLevel:
		levelStr = "ERROR"
	case zapcore.WarnLevel:
		levelStr = "WARN"
	case zapcore.InfoLevel:
		levelStr = "INFO"
	case NoticeLevel:
		levelStr = "NOTICE"
	case zapcore.DebugLevel:
		levelStr = "DEBUG"
	default:
		levelStr = "UNKNOWN"
	}

	if attributes == nil {
		attributes = make(map[string]any)
	}
	if err != nil {
		attributes["error"] = err.Error()
	}

	entry := logEntry{
		Timestamp:  time.Now().UTC().Format(time.RFC3339Nano),
		Level:      levelStr,
		Message:    message,
		TraceID:    traceID,
		Layer:      layer,
		Attributes: attributes,
	}

	body, marshalErr := json.Marshal(entry)
	if marshalErr != nil {
		s.logger.Error("Failed to marshal log", zap.Error(marshalErr))
		return
	}

	client, writeErr := s.writeLocal(body)
	if writeErr != nil {
		s.logger.Error("Failed to write log to file", zap.Error(writeErr))
	}
	if client != nil {
		req, err := http.NewRequest("POST", s.uploadURL, bytes.NewReader(body))
		if err != nil {
			s.logger.Error("Failed to create HTTP request", zap.Error(err))
			return
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Authorization", "Bearer "+s.sourceToken)

		// Send log asynchronously
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			resp, err := client.Do(req)
			if err != nil {
				s.logger.Error("Failed to send log to Better Stack", zap.Error(err))
				return
			}
			defer resp.Body.Close()
			if resp.StatusCode != http.StatusAccepted {
				s.logger.Error("Unexpected response from Better Stack", zap.String("status", resp.Status))
			}
		}()
	}

	// Also log to Zap for console visibility
	s.logger.Log(level, message, zap.String("trace_id", traceID), zap.String("layer", layer), zap.Any("attributes", attributes))
}

// writeLocal appends one entry to the local writer, if one is set. Otherwise
// it returns the upload client, which is nil outside production.
func (s *BetterStackLogStreamer) writeLocal(body []byte) (*http.Client, error) {
	s.fileMu.Lock()
	defer s.fileMu.Unlock()
	if s.fileWriter == nil {
		return s.client, nil
	}
	_, err := s.fileWriter.Write(append(body, '\n'))
	return nil, err
}

// Close waits for in-flight uploads and closes the development log file.
func (s *BetterStackLogStreamer) Close() error {
	if s == nil {
		return nil
	}
	s.wg.Wait()
	s.fileMu.Lock()
	defer s.fileMu.Unlock()
	if f, ok := s.fileWriter.(*os.File); ok && f != os.Stderr {
		return f.Close()
	}
	return nil
}
