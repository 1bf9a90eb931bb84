// Package notify ships best-effort operational messages (liquidation
// results, dispatch errors, indexer faults) out of the engine without ever
// blocking it: the engine must never stall waiting on a webhook POST or a
// full notification queue.
package notify

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"time"
)

// Notifier sends a fire-and-forget text message to an operational sink.
// Send must never block the caller for long; implementations that talk to
// a remote service queue internally and drop the oldest message under
// sustained backpressure rather than stall the dispatcher.
type Notifier interface {
	Send(text string)
}

// LogNotifier writes every message via the standard logger. It is always
// available and is what tests and a liquidator running with no configured
// webhook fall back to.
type LogNotifier struct{}

func NewLogNotifier() LogNotifier { return LogNotifier{} }

func (LogNotifier) Send(text string) {
	log.Printf("notify: %s", text)
}

// HTTPNotifier posts text as a JSON body to a configured webhook URL. It
// is backed by a bounded drop-oldest queue so a slow or unreachable
// webhook never stalls the goroutine calling Send.
type HTTPNotifier struct {
	webhookURL string
	client     *http.Client
	queue      *Queue
}

// NewHTTPNotifier starts the background delivery loop and returns a
// Notifier ready to accept Send calls. capacity bounds the internal
// queue; once full, the oldest queued message is dropped to make room
// for the newest one.
func NewHTTPNotifier(webhookURL string, capacity int) *HTTPNotifier {
	n := &HTTPNotifier{
		webhookURL: webhookURL,
		client:     &http.Client{Timeout: 10 * time.Second},
		queue:      NewQueue(capacity),
	}
	go n.drain()
	return n
}

func (n *HTTPNotifier) Send(text string) {
	n.queue.Push(text)
}

func (n *HTTPNotifier) drain() {
	for {
		text := n.queue.Pop()
		if err := n.post(text); err != nil {
			log.Printf("notify: webhook delivery failed: %v", err)
		}
	}
}

func (n *HTTPNotifier) post(text string) error {
	body, err := json.Marshal(map[string]string{"text": text})
	if err != nil {
		return fmt.Errorf("marshal notification: %w", err)
	}

	resp, err := n.client.Post(n.webhookURL, "application/json", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("post webhook: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}
	return nil
}
