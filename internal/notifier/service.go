package notifier

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"wprecur/internal/run"
	logx "wprecur/pkg/logx"
)

// Service sends run summaries. It satisfies run.Observer.
type Service struct {
	cfg     Config
	sender  Sender
	limiter *rate.Limiter
	log     logx.Logger

	hmu     sync.Mutex
	history []HistoryItem
}

func New(cfg Config, sender Sender, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	var lim *rate.Limiter
	if cfg.RatePerSec > 0 {
		lim = rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.RatePerSec)
	}
	return &Service{cfg: cfg, sender: sender, limiter: lim, log: log.With(logx.String("component", "notifier"))}
}

// NewTelegram builds a Service delivering through Telegram.
func NewTelegram(cfg Config, log logx.Logger) (*Service, error) {
	snd, err := NewTelegramSender(cfg.Token)
	if err != nil {
		return nil, err
	}
	return New(cfg, snd, log), nil
}

func (s *Service) Enabled() bool { return s != nil && s.cfg.Enabled && s.sender != nil }

func (s *Service) RunFinished(ctx context.Context, sum run.Summary) error {
	if !s.Enabled() {
		return nil
	}
	if s.cfg.OnlyChanges && !sum.Changed() {
		s.log.Debug("run unchanged; not announced", logx.String("run_id", sum.RunID))
		return nil
	}
	for _, chunk := range Split(Format(sum), MaxMessageLen) {
		if err := s.send(ctx, chunk); err != nil {
			return err
		}
	}
	return nil
}

func (s *Service) send(ctx context.Context, text string) error {
	maxAttempts := 1 + max(s.cfg.RetryMax, 0)
	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if s.limiter != nil {
			if err := s.limiter.Wait(ctx); err != nil {
				return err
			}
		}
		callCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		err := s.sender.SendText(callCtx, s.cfg.ChatID, s.cfg.ThreadID, text)
		cancel()
		if err == nil {
			s.appendHistory(text)
			return nil
		}
		lastErr = err
		s.log.Debug("notify send failed", logx.Err(err), logx.Int("attempt", attempt), logx.Int("max", maxAttempts))
		if attempt >= maxAttempts {
			break
		}
		t := time.NewTimer(retryDelay(s.cfg, attempt))
		select {
		case <-t.C:
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		}
	}
	return lastErr
}

func (s *Service) Snapshot() []HistoryItem {
	s.hmu.Lock()
	out := append([]HistoryItem(nil), s.history...)
	s.hmu.Unlock()
	return out
}

func (s *Service) appendHistory(text string) {
	s.hmu.Lock()
	s.history = append(s.history, HistoryItem{At: time.Now(), Text: text})
	if len(s.history) > 50 {
		s.history = s.history[len(s.history)-50:]
	}
	s.hmu.Unlock()
}

// retryDelay is the wait before the attempt after attempt (1-based).
func retryDelay(cfg Config, attempt int) time.Duration {
	base := cfg.RetryBase
	if base <= 0 {
		base = 500 * time.Millisecond
	}
	maxD := cfg.RetryMaxDelay
	if maxD <= 0 {
		maxD = 10 * time.Second
	}
	d := base
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= maxD {
			d = maxD
			break
		}
	}
	// Jitter 0.7..1.3
	j := 0.7 + rand.Float64()*0.6
	d = time.Duration(float64(d) * j)
	return min(max(d, 0), maxD)
}
