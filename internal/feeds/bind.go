package feeds

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/lirancohen/adminpulse/internal/realtime"
)

// bind keeps h subscribed to topic until ctx is done. A request dropped by an
// explicit Disconnect is queued again so the topic returns with the next Connect.
func bind(ctx context.Context, conn Conn, topic string, h realtime.Handler, log zerolog.Logger) {
	states, stop := conn.Watch()
	defer stop()

	p := conn.SubscribeAsync(topic, h)
	done := p.Done()
	defer func() { p.Cancel() }()

	resubscribe := func() {
		log.Debug().Str("topic", topic).Msg("subscribing again")
		p = conn.SubscribeAsync(topic, h)
		done = p.Done()
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-done:
			done = nil
			if p.Subscription() == nil {
				resubscribe()
			}
		case _, ok := <-states:
			if !ok {
				return
			}
			if !p.Live() {
				resubscribe()
			}
		}
	}
}
