package notify

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"otp-auth-service/internal/util"
)

// Result reports delivery. Senders never panic or return errors; callers
// decide whether a failed send fails the request.
type Result struct {
	Success bool
	Error   string
}

func ok() Result { return Result{Success: true} }

func failed(err error) Result { return Result{Error: err.Error()} }

type Notifier interface {
	Send(ctx context.Context, to, subject, htmlBody string) Result
}

// LogNotifier writes a line per message instead of delivering it. With
// revealBodies set (development only) the rendered body is logged too.
type LogNotifier struct {
	logger       *zap.Logger
	revealBodies bool
}

func NewLogNotifier(logger *zap.Logger, revealBodies bool) *LogNotifier {
	return &LogNotifier{logger: logger, revealBodies: revealBodies}
}

func (n *LogNotifier) Send(ctx context.Context, to, subject, htmlBody string) Result {
	fields := []zap.Field{
		util.Email("to", to),
		util.String("subject", subject),
	}
	if n.revealBodies {
		fields = append(fields, util.String("body", htmlBody))
	}
	n.logger.Info("Email not delivered (log notifier)", fields...)
	return ok()
}

// Sent is a message captured by a Recorder.
type Sent struct {
	To      string
	Subject string
	Body    string
}

// Recorder keeps every message in memory and can be told to fail. Tests and
// local tooling read back what would have been sent.
type Recorder struct {
	mu   sync.Mutex
	sent []Sent
	fail error
}

func NewRecorder() *Recorder { return &Recorder{} }

func (r *Recorder) Send(ctx context.Context, to, subject, htmlBody string) Result {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.fail != nil {
		return failed(r.fail)
	}
	r.sent = append(r.sent, Sent{To: to, Subject: subject, Body: htmlBody})
	return ok()
}

// FailWith makes later sends fail with err; nil restores delivery.
func (r *Recorder) FailWith(err error) {
	r.mu.Lock()
	r.fail = err
	r.mu.Unlock()
}

func (r *Recorder) Messages() []Sent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Sent(nil), r.sent...)
}

// Last returns the most recent message to the given address.
func (r *Recorder) Last(to string) (Sent, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := len(r.sent) - 1; i >= 0; i-- {
		if r.sent[i].To == to {
			return r.sent[i], true
		}
	}
	return Sent{}, false
}
