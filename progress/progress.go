// Package progress surfaces training events to people and logs.
package progress

import (
	"fmt"
	"io"
	"log/slog"
	"sync"

	"imgtrain/domain"
)

// CompleteMessage is written once after the last epoch.
const CompleteMessage = "Training Complete"

// Reporter receives training events.
type Reporter interface {
	EpochComplete(r domain.EpochResult)
	Complete()
	Failed(err error)
}

// Text writes one line per epoch to W.
type Text struct {
	W io.Writer

	mu sync.Mutex
}

// NewText returns a text reporter writing to w.
func NewText(w io.Writer) *Text {
	return &Text{W: w}
}

// FormatEpoch renders r as "Epoch n/total, Loss: x.xxxx".
func FormatEpoch(r domain.EpochResult) string {
	return fmt.Sprintf("Epoch %d/%d, Loss: %.4f", r.Epoch, r.Total, r.MeanLoss)
}

func (t *Text) EpochComplete(r domain.EpochResult) {
	t.println(FormatEpoch(r))
}

func (t *Text) Complete() {
	t.println(CompleteMessage)
}

// Failed is a no-op; the caller reports the error.
func (t *Text) Failed(error) {}

func (t *Text) println(line string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	fmt.Fprintln(t.W, line)
}

// Log reports events through a structured logger.
type Log struct {
	Logger *slog.Logger
}

func (l Log) EpochComplete(r domain.EpochResult) {
	l.logger().Info("progress.epoch", "epoch", r.Epoch, "total", r.Total, "loss", r.MeanLoss, "elapsed", r.Duration)
}

func (l Log) Complete() {
	l.logger().Info("progress.complete")
}

func (l Log) Failed(err error) {
	l.logger().Error("progress.failed", "err", err)
}

func (l Log) logger() *slog.Logger {
	if l.Logger != nil {
		return l.Logger
	}
	return slog.Default()
}

// Multi fans events out to every reporter in order.
type Multi []Reporter

func (m Multi) EpochComplete(r domain.EpochResult) {
	for _, rep := range m {
		rep.EpochComplete(r)
	}
}

func (m Multi) Complete() {
	for _, rep := range m {
		rep.Complete()
	}
}

func (m Multi) Failed(err error) {
	for _, rep := range m {
		rep.Failed(err)
	}
}
