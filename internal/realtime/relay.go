package realtime

import (
	"context"

	"github.com/sirupsen/logrus"
)

// Publisher sends change events on to another transport.
type Publisher interface {
	Publish(ctx context.Context, ev ChangeEvent) error
}

// Relay forwards every change seen by from to to until ctx ends. The worker
// uses it to fan Postgres notifications out over RabbitMQ.
func Relay(ctx context.Context, from Source, to Publisher, log logrus.FieldLogger) error {
	log = log.WithField("component", "relay")
	ch, err := from.Open(ctx, TableTopic(AllTables), func(ev ChangeEvent) {
		if err := to.Publish(ctx, ev); err != nil {
			log.WithError(err).WithField("table", ev.Table).Warn("relay publish failed")
		}
	})
	if err != nil {
		return err
	}
	defer ch.Close()

	log.Info("relaying change events")
	<-ctx.Done()
	return nil
}
