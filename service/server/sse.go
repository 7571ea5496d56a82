package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	natspkg "github.com/brojonat/soltax/service/nats"
)

const sseKeepalive = 10 * time.Second

// EventWatcher streams the events of one payment request until a terminal
// event. It matches natspkg.WatchPayment bound to a NATS URL.
type EventWatcher func(ctx context.Context, requestID string, handle func(*natspkg.PaymentEvent) error) (*natspkg.PaymentEvent, error)

// NATSEventWatcher binds natspkg.WatchPayment to natsURL.
func NATSEventWatcher(natsURL string, logger *slog.Logger) EventWatcher {
	return func(ctx context.Context, requestID string, handle func(*natspkg.PaymentEvent) error) (*natspkg.PaymentEvent, error) {
		return natspkg.WatchPayment(ctx, natsURL, requestID, logger, handle)
	}
}

// handleStreamPaymentEvents streams a payment request's lifecycle as
// Server-Sent Events. Past events are replayed first; the stream ends after
// the paid or expired event.
// GET /api/payments/{id}/events
func handleStreamPaymentEvents(watch EventWatcher, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.PathValue("id")

		rc := http.NewResponseController(w)
		// Streams may outlive the server's write timeout.
		_ = rc.SetWriteDeadline(time.Time{})

		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")
		w.WriteHeader(http.StatusOK)

		events := make(chan *natspkg.PaymentEvent, 8)
		done := make(chan error, 1)
		go func() {
			_, err := watch(r.Context(), id, func(e *natspkg.PaymentEvent) error {
				select {
				case events <- e:
					return nil
				case <-r.Context().Done():
					return r.Context().Err()
				}
			})
			done <- err
		}()

		fmt.Fprintf(w, "event: connected\ndata: {\"id\":%q}\n\n", id)
		_ = rc.Flush()

		logger.DebugContext(r.Context(), "SSE client connected",
			"id", id,
			"remote_addr", r.RemoteAddr,
		)

		keepalive := time.NewTicker(sseKeepalive)
		defer keepalive.Stop()

		for {
			select {
			case <-keepalive.C:
				fmt.Fprintf(w, ": keepalive\n\n")
				_ = rc.Flush()

			case e := <-events:
				writeEvent(w, rc, e, logger)

			case err := <-done:
				// Drain anything delivered before the watcher returned.
			drain:
				for {
					select {
					case e := <-events:
						writeEvent(w, rc, e, logger)
					default:
						break drain
					}
				}
				if err != nil && !errors.Is(err, context.Canceled) {
					logger.WarnContext(r.Context(), "payment event stream failed",
						"id", id,
						"error", err,
					)
					fmt.Fprintf(w, "event: error\ndata: {\"error\":\"stream failed\"}\n\n")
					_ = rc.Flush()
				}
				return

			case <-r.Context().Done():
				logger.DebugContext(r.Context(), "SSE client disconnected",
					"id", id,
					"remote_addr", r.RemoteAddr,
				)
				return
			}
		}
	})
}

func writeEvent(w http.ResponseWriter, rc *http.ResponseController, e *natspkg.PaymentEvent, logger *slog.Logger) {
	data, err := json.Marshal(e)
	if err != nil {
		logger.Warn("failed to marshal payment event", "error", err)
		return
	}
	fmt.Fprintf(w, "event: %s\ndata: %s\n\n", e.Status, data)
	_ = rc.Flush()
}
