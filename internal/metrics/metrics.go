package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	MessagesSent = promauto.NewCounter(prometheus.CounterOpts{
		Name: "schoolchat_messages_sent_total",
		Help: "Messages accepted into the log.",
	})

	EventsPublished = promauto.NewCounter(prometheus.CounterOpts{
		Name: "schoolchat_events_published_total",
		Help: "Events handed to the fan-out bus.",
	})

	EventsDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "schoolchat_events_dropped_total",
		Help: "Events dropped because a subscriber buffer was full.",
	})

	SubscriptionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "schoolchat_subscriptions_active",
		Help: "Currently registered room and user subscriptions.",
	})
)
