package telemetry

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"
)

const (
	remoteQueueSize     = 256
	remoteBatchSize     = 64
	remoteFlushInterval = 10 * time.Second
	remotePostTimeout   = 5 * time.Second
)

// RemoteSink forwards telemetry entries to a collector endpoint in
// batches. Delivery is best-effort: a full queue drops the entry and a
// failed POST drops the batch. The proxy's own file is the source of
// truth; the sink only mirrors it.
type RemoteSink struct {
	url    string
	client *http.Client
	logger *zap.SugaredLogger

	queue chan json.RawMessage
	done  chan struct{}
	wg    sync.WaitGroup
}

func NewRemoteSink(url string, logger *zap.SugaredLogger) *RemoteSink {
	s := &RemoteSink{
		url:    url,
		client: &http.Client{Timeout: remotePostTimeout},
		logger: logger,
		queue:  make(chan json.RawMessage, remoteQueueSize),
		done:   make(chan struct{}),
	}
	s.wg.Add(1)
	go s.run()
	return s
}

// Enqueue queues one already-marshaled entry. Never blocks.
func (s *RemoteSink) Enqueue(data json.RawMessage) {
	select {
	case s.queue <- data:
	default:
	}
}

// Stop flushes pending entries and stops the sender.
func (s *RemoteSink) Stop() {
	close(s.done)
	s.wg.Wait()
}

func (s *RemoteSink) run() {
	defer s.wg.Done()

	ticker := time.NewTicker(remoteFlushInterval)
	defer ticker.Stop()

	batch := make([]json.RawMessage, 0, remoteBatchSize)
	flush := func() {
		if len(batch) == 0 {
			return
		}
		s.post(batch)
		batch = batch[:0]
	}

	for {
		select {
		case entry := <-s.queue:
			batch = append(batch, entry)
			if len(batch) >= remoteBatchSize {
				flush()
			}
		case <-ticker.C:
			flush()
		case <-s.done:
			for {
				select {
				case entry := <-s.queue:
					batch = append(batch, entry)
				default:
					flush()
					return
				}
			}
		}
	}
}

func (s *RemoteSink) post(batch []json.RawMessage) {
	body, err := json.Marshal(batch)
	if err != nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), remotePostTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(body))
	if err != nil {
		return
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		s.logger.Debugw("Telemetry batch post failed", "error", err, "entries", len(batch))
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		s.logger.Debugw("Telemetry collector rejected batch",
			"status", resp.StatusCode, "entries", len(batch))
	}
}
