package notifier

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"
)

type Notifier interface {
	Send(ctx context.Context, recipients []string, subject, body string) error
}

// LogNotifier пишет уведомления в лог; используется, когда доставка не настроена.
type LogNotifier struct {
	logger *zap.Logger
}

func NewLogNotifier(logger *zap.Logger) *LogNotifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogNotifier{logger: logger.Named("notifier")}
}

func (n *LogNotifier) Send(ctx context.Context, recipients []string, subject, body string) error {
	n.logger.Info("Notification",
		zap.Strings("recipients", recipients),
		zap.String("subject", subject),
		zap.String("body", body),
	)
	return nil
}

// Multi рассылает через все каналы; успех хотя бы одного канала считается доставкой.
type Multi struct {
	notifiers []Notifier
	logger    *zap.Logger
}

func NewMulti(logger *zap.Logger, notifiers ...Notifier) *Multi {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Multi{notifiers: notifiers, logger: logger.Named("notifier")}
}

func (m *Multi) Send(ctx context.Context, recipients []string, subject, body string) error {
	if len(m.notifiers) == 0 {
		return errors.New("no notification channels configured")
	}

	var errs []error
	for i, n := range m.notifiers {
		if err := n.Send(ctx, recipients, subject, body); err != nil {
			m.logger.Warn("Notification channel failed", zap.Int("channel", i), zap.Error(err))
			errs = append(errs, err)
		}
	}
	if len(errs) == len(m.notifiers) {
		return fmt.Errorf("all notification channels failed: %w", errors.Join(errs...))
	}
	return nil
}
